/*
balance.go - Available-credit calculation

PURPOSE:

	Computes a customer's available advance balance and total outstanding debt
	from raw Advance and Sale records. This answers "how much credit does this
	customer have to spend?"

CALCULATION:

	totalRegistered = sum of amount over ALL advances (used or not)
	consumed(sale)  = min(sale.advanceTotal, sale.netTotal)
	totalConsumed   = sum of consumed(sale) over all sales
	available       = max(0, totalRegistered - totalConsumed)

	The per-sale min() caps consumption at what the sale could actually
	absorb. Writes that would exceed the net total are rejected at the store,
	so the cap only matters for pre-existing bad rows.

	Pure read, no side effects. A customer with no records gets a zeroed
	result, not an error.

SEE ALSO:
  - allocation.go: Consumes Available as the spendable amount
  - history.go: Derives the same totals from movements for display
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE - Computed credit position for one customer
// =============================================================================

// BalanceSummary is the customer's advance-credit position.
type BalanceSummary struct {
	CustomerID CustomerID

	// TotalRegistered is every sol the customer ever paid in advance.
	TotalRegistered decimal.Decimal

	// TotalConsumed is the advance credit absorbed by sales, per-sale capped
	// at the net sale price.
	TotalConsumed decimal.Decimal

	// Available = max(0, TotalRegistered - TotalConsumed).
	Available decimal.Decimal

	// OutstandingDebt is the sum of outstanding balances over unsettled sales.
	OutstandingDebt decimal.Decimal

	// Advances are the raw records backing TotalRegistered, for display.
	Advances []Advance
}

// BalanceCalculator computes BalanceSummary from the store.
type BalanceCalculator struct {
	Store Store
}

// ComputeBalance computes the customer's current credit position.
// Propagates store read failures unchanged.
func (bc *BalanceCalculator) ComputeBalance(ctx context.Context, customerID CustomerID) (BalanceSummary, error) {
	advances, err := bc.Store.ListAdvancesByCustomer(ctx, customerID)
	if err != nil {
		return BalanceSummary{}, err
	}

	sales, err := bc.Store.ListSalesByCustomer(ctx, customerID)
	if err != nil {
		return BalanceSummary{}, err
	}

	registered := decimal.Zero
	for _, adv := range advances {
		registered = registered.Add(adv.Amount)
	}

	consumed := decimal.Zero
	debt := decimal.Zero
	for _, sale := range sales {
		consumed = consumed.Add(sale.ConsumedAdvance())
		if !sale.Finalized {
			debt = debt.Add(sale.OutstandingBalance)
		}
	}

	return BalanceSummary{
		CustomerID:      customerID,
		TotalRegistered: registered,
		TotalConsumed:   consumed,
		Available:       clampNonNegative(registered.Sub(consumed)),
		OutstandingDebt: debt,
		Advances:        advances,
	}, nil
}
