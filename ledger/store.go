/*
store.go - Persistence interfaces for advances, sales, and the audit log

PURPOSE:

	Defines the interface between the ledger logic and the database. The core
	never talks to SQL directly; it is written against these capabilities so
	the same allocation algorithm runs identically over a single transaction
	(TxStore) or over discrete calls.

KEY INTERFACES:

	Store:    Typed reads/writes for Advance and Sale records
	TxStore:  Store plus WithTx for atomic multi-step sequences
	AuditLog: Fire-and-forget audit trail, consumed by every mutation

MUTATION CONTRACT:
  - UpdateAdvance/DeleteAdvance callers MUST consult the UsageGuard first.
  - UpdateSaleSettlement is the ONLY way settlement fields change; it
    rejects an advance total above the net sale price (write-time guard).
  - MarkAdvanceConsumed sets the explicit usage state; inside WithTx it is
    atomic with the settlement writes that consumed the advance.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite (implements TxStore)
  - ledger/store: In-memory for testing (Store only)

SEE ALSO:
  - allocation.go: Runs over Store, upgrades to TxStore when available
  - store/sqlite/sqlite.go: Concrete implementation
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Typed persistence for the three record kinds
// =============================================================================

// AdvancePatch carries the user-editable advance fields. Nil means unchanged.
type AdvancePatch struct {
	Amount *decimal.Decimal
	Method *PaymentMethod
	Notes  *string
}

// SettlementPatch is the full settlement state written to a sale by the
// allocation engine. All fields are written together to preserve the
// outstanding-balance invariant.
type SettlementPatch struct {
	AdvanceTotal       decimal.Decimal
	OutstandingBalance decimal.Decimal
	State              SettlementState
	Finalized          bool
}

// Store handles persistence of advances and sales.
type Store interface {
	// ListAdvancesByCustomer returns all advances for the customer, used or
	// not, ordered by RecordedAt.
	ListAdvancesByCustomer(ctx context.Context, customerID CustomerID) ([]Advance, error)

	// GetAdvance returns one advance, or ErrAdvanceNotFound.
	GetAdvance(ctx context.Context, id AdvanceID) (*Advance, error)

	// SaveAdvance inserts a new advance.
	SaveAdvance(ctx context.Context, adv Advance) error

	// UpdateAdvance applies a patch to an unused advance. Callers MUST
	// consult the UsageGuard first; the store does not re-check.
	UpdateAdvance(ctx context.Context, id AdvanceID, patch AdvancePatch) (*Advance, error)

	// DeleteAdvance removes an unused advance. Same precondition.
	DeleteAdvance(ctx context.Context, id AdvanceID) error

	// MarkAdvanceConsumed freezes the advance and records the first sale it
	// funded.
	MarkAdvanceConsumed(ctx context.Context, id AdvanceID, saleID SaleID) error

	// ListSalesByCustomer returns all sales for the customer, ordered by
	// SoldAt.
	ListSalesByCustomer(ctx context.Context, customerID CustomerID) ([]Sale, error)

	// ListDebtSales returns the customer's sales with an outstanding balance
	// (outstanding > 0 and settlement not complete), oldest first.
	ListDebtSales(ctx context.Context, customerID CustomerID) ([]Sale, error)

	// GetSale returns one sale with its items, or ErrSaleNotFound.
	GetSale(ctx context.Context, id SaleID) (*Sale, error)

	// SaveSale inserts a new sale with its items.
	SaveSale(ctx context.Context, sale Sale) error

	// UpdateSaleSettlement writes the settlement fields and returns the
	// updated sale. Rejects patch.AdvanceTotal above the net sale total.
	UpdateSaleSettlement(ctx context.Context, id SaleID, patch SettlementPatch) (*Sale, error)
}

// TxStore wraps Store with transaction support. The allocation engine uses
// WithTx when available so a multi-sale allocation commits or rolls back as
// one unit.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back; otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Fire-and-forget trail of who did what
// =============================================================================

type AuditCategory string

const (
	AuditAdvanceCreated    AuditCategory = "advance_created"
	AuditAdvanceUpdated    AuditCategory = "advance_updated"
	AuditAdvanceDeleted    AuditCategory = "advance_deleted"
	AuditSaleCreated       AuditCategory = "sale_created"
	AuditDebtPayment       AuditCategory = "debt_payment"
	AuditAllocationSummary AuditCategory = "allocation_summary"
)

// AuditEntry records one mutation for the trail.
type AuditEntry struct {
	ID          string
	At          time.Time
	CustomerID  CustomerID
	Category    AuditCategory
	Description string
	Actor       string
	EntityID    string
	EntityKind  string // "advance" | "sale" | "allocation"
}

// AuditLog stores audit entries. Append-only; append failures must never
// fail the business operation that produced them.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	ListByCustomer(ctx context.Context, customerID CustomerID) ([]AuditEntry, error)
}
