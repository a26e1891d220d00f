/*
Package ledger implements the advance-payment and debt-settlement ledger.

PURPOSE:

	This package contains the domain types and algorithms for tracking customer
	advance payments ("anticipos"), computing available credit, allocating that
	credit against outstanding unpaid sales ("deudas"), and reconstructing a
	unified movement history for display and audit.

KEY CONCEPTS IN THIS FILE (types.go):
  - Advance: A customer credit, optionally attached to a specific sale
  - Sale: A completed transaction carrying settlement state
  - Movement: A derived, display-only ledger entry (never persisted)
  - Typed IDs: CustomerID / AdvanceID / SaleID prevent mixing identifiers

DESIGN PRINCIPLES:
 1. Precision: Uses decimal.Decimal to avoid floating-point errors
 2. Explicit usage state: an Advance carries a Status field set at the
    moment of first use; "used" is never inferred from a join
 3. Closed variants: Movement direction and kind are closed enums with
    exhaustive handling at render time

SEE ALSO:
  - balance.go: Available-credit calculation
  - allocation.go: Debt allocation engine
  - history.go: Movement history composer
  - store.go: Persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type AdvanceID string
type SaleID string

// =============================================================================
// PAYMENT METHOD
// =============================================================================

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodTransfer PaymentMethod = "transfer"
	MethodCard     PaymentMethod = "card"
	MethodYape     PaymentMethod = "yape"
	MethodPlin     PaymentMethod = "plin"
)

// ValidPaymentMethod reports whether m is one of the accepted methods.
func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case MethodCash, MethodTransfer, MethodCard, MethodYape, MethodPlin:
		return true
	}
	return false
}

// Label returns the storefront display name for the method.
func (m PaymentMethod) Label() string {
	switch m {
	case MethodCash:
		return "Efectivo"
	case MethodTransfer:
		return "Transferencia"
	case MethodCard:
		return "Tarjeta"
	case MethodYape:
		return "Yape"
	case MethodPlin:
		return "Plin"
	}
	return string(m)
}

// =============================================================================
// ADVANCE - Customer credit ("anticipo")
// =============================================================================

// AdvanceStatus is the explicit usage state of an advance. It is set
// transactionally at the moment of first use. This is the single
// authoritative used-flag: the guard never infers usage from sales.
type AdvanceStatus string

const (
	// AdvanceAvailable: unconsumed, counts toward the customer's credit.
	AdvanceAvailable AdvanceStatus = "available"
	// AdvanceReserved: created as a deposit on a specific sale.
	AdvanceReserved AdvanceStatus = "reserved"
	// AdvanceConsumed: applied to one or more debts by the allocation engine.
	AdvanceConsumed AdvanceStatus = "consumed"
)

// Advance represents a payment received from a customer, either standalone
// (pre-payment with no sale yet) or pre-associated with a sale at creation
// time (deposit-at-purchase).
//
// Invariant: Amount > 0.
// Lifecycle: amount/method/notes are immutable once used (see guard.go);
// deleted only while unused.
type Advance struct {
	ID         AdvanceID
	CustomerID CustomerID

	// SaleID references the sale this advance was created for, or the first
	// sale it later funded. Nil while the advance is standalone-available.
	SaleID *SaleID

	Amount     decimal.Decimal
	Method     PaymentMethod
	Status     AdvanceStatus
	Notes      string
	RecordedAt time.Time
}

// Used reports whether the advance has funded a transaction and is frozen.
func (a Advance) Used() bool {
	return a.Status == AdvanceReserved || a.Status == AdvanceConsumed
}

// =============================================================================
// SALE - Completed transaction of goods ("venta")
// =============================================================================

type SettlementState string

const (
	SettlementPending  SettlementState = "pending"
	SettlementComplete SettlementState = "complete"
)

// SaleItem is one purchased line on a sale. Kept for the movement history's
// human-readable descriptions.
type SaleItem struct {
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// Sale is a completed transaction of goods to a customer.
//
// Invariant: OutstandingBalance = max(0, Total - DiscountTotal - AdvanceTotal)
// and Finalized <=> OutstandingBalance == 0.
type Sale struct {
	ID         SaleID
	CustomerID CustomerID

	// Total is the gross amount before discount.
	Total         decimal.Decimal
	DiscountTotal decimal.Decimal

	// AdvanceTotal is the cumulative credit applied to this sale so far.
	// Never decreases except via compensating deletion of the sale itself.
	AdvanceTotal decimal.Decimal

	OutstandingBalance decimal.Decimal
	State              SettlementState
	Finalized          bool

	Items  []SaleItem
	SoldAt time.Time
}

// NetTotal returns the amount the sale can actually absorb (gross - discount).
func (s Sale) NetTotal() decimal.Decimal {
	return s.Total.Sub(s.DiscountTotal)
}

// ConsumedAdvance returns the advance credit this sale has absorbed, capped
// at the net total. The cap guards against a stored advance total that
// exceeds the net sale price (a data-quality fallback, not a normal path;
// the store rejects such writes).
func (s Sale) ConsumedAdvance() decimal.Decimal {
	return decimal.Min(s.AdvanceTotal, s.NetTotal())
}

// PaidSoFar returns the amount actually paid against the sale to date,
// by advances or otherwise.
func (s Sale) PaidSoFar() decimal.Decimal {
	return s.NetTotal().Sub(s.OutstandingBalance)
}

// InDebt reports whether the sale still carries an outstanding balance.
func (s Sale) InDebt() bool {
	return s.OutstandingBalance.IsPositive()
}

// =============================================================================
// MOVEMENT - Derived ledger entry (display only, never persisted)
// =============================================================================

type MovementDirection string

const (
	DirectionCredit MovementDirection = "credit"
	DirectionDebit  MovementDirection = "debit"
)

// MovementKind is the closed set of entry variants. Credits are advances or
// synthetic cash settlements; debits are purchases. Render code must switch
// exhaustively over these.
type MovementKind string

const (
	// KindAdvance: a real Advance record (credit).
	KindAdvance MovementKind = "advance"
	// KindPurchase: the paid-so-far portion of a sale (debit).
	KindPurchase MovementKind = "purchase"
	// KindCashSettlement: synthetic credit for the portion of a finalized
	// sale the customer paid directly at completion. Display continuity
	// only; never a real Advance record.
	KindCashSettlement MovementKind = "cash_settlement"
)

// Movement is one normalized ledger entry, constructed on demand from
// Advance and Sale records.
type Movement struct {
	ID            string
	Direction     MovementDirection
	Kind          MovementKind
	At            time.Time
	Amount        decimal.Decimal
	Description   string
	RelatedSaleID *SaleID

	// Locked mirrors the usage lock of the underlying Advance (credits of
	// kind advance only).
	Locked bool
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// MustParseDecimal parses s, returning zero on malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// clampNonNegative floors d at zero.
func clampNonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
