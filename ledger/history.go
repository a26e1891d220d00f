/*
history.go - Movement history composer

PURPOSE:

	Merges advance-credit events and sale-debit events (plus synthetic
	cash-completion events) into one chronologically ordered ledger view with
	running totals. Pure projection: reads records, emits Movements, stores
	nothing.

ENTRIES EMITTED:

	Per advance:        one credit, kind=advance, locked when the advance is used
	Per sale:           one debit, kind=purchase, amount = paid-so-far
	Per finalized sale: one synthetic credit, kind=cash_settlement, equal to
	                    netTotal - advanceTotal when positive. This is the
	                    portion the customer paid directly at completion. It
	                    exists purely for display continuity (total credits
	                    ever equal total debits ever) and is never a real
	                    Advance record.

ORDERING:

	Movements sorted descending by timestamp, ID as the tie-break so output
	is deterministic.
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// HistorySummary is the unified ledger view for one customer.
type HistorySummary struct {
	CustomerID CustomerID
	Movements  []Movement

	TotalCredits decimal.Decimal
	TotalDebits  decimal.Decimal

	// AvailableBalance = max(0, TotalCredits - TotalDebits).
	AvailableBalance decimal.Decimal

	// OutstandingDebt is the sum of outstanding balances over non-finalized
	// sales.
	OutstandingDebt decimal.Decimal
}

// HistoryComposer builds HistorySummary from the store.
type HistoryComposer struct {
	Store Store
}

// BuildHistory reconstructs the customer's movement history. Propagates
// store read failures unchanged; a customer with no records gets an empty
// (not nil-error) history.
func (hc *HistoryComposer) BuildHistory(ctx context.Context, customerID CustomerID) (HistorySummary, error) {
	advances, err := hc.Store.ListAdvancesByCustomer(ctx, customerID)
	if err != nil {
		return HistorySummary{}, err
	}
	sales, err := hc.Store.ListSalesByCustomer(ctx, customerID)
	if err != nil {
		return HistorySummary{}, err
	}

	movements := make([]Movement, 0, len(advances)+2*len(sales))

	for _, adv := range advances {
		movements = append(movements, advanceMovement(adv))
	}

	debt := decimal.Zero
	for _, sale := range sales {
		movements = append(movements, purchaseMovement(sale))

		if sale.Finalized {
			if cash, ok := cashSettlementMovement(sale); ok {
				movements = append(movements, cash)
			}
		} else {
			debt = debt.Add(sale.OutstandingBalance)
		}
	}

	sort.Slice(movements, func(i, j int) bool {
		if movements[i].At.Equal(movements[j].At) {
			return movements[i].ID > movements[j].ID
		}
		return movements[i].At.After(movements[j].At)
	})

	credits := decimal.Zero
	debits := decimal.Zero
	for _, m := range movements {
		switch m.Direction {
		case DirectionCredit:
			credits = credits.Add(m.Amount)
		case DirectionDebit:
			debits = debits.Add(m.Amount)
		}
	}

	return HistorySummary{
		CustomerID:       customerID,
		Movements:        movements,
		TotalCredits:     credits,
		TotalDebits:      debits,
		AvailableBalance: clampNonNegative(credits.Sub(debits)),
		OutstandingDebt:  debt,
	}, nil
}

// =============================================================================
// MOVEMENT CONSTRUCTORS - One per variant, exhaustive over MovementKind
// =============================================================================

func advanceMovement(adv Advance) Movement {
	desc := fmt.Sprintf("Anticipo recibido (%s)", adv.Method.Label())
	if adv.Notes != "" {
		desc += " - " + adv.Notes
	}
	return Movement{
		ID:            "adv-" + string(adv.ID),
		Direction:     DirectionCredit,
		Kind:          KindAdvance,
		At:            adv.RecordedAt,
		Amount:        adv.Amount,
		Description:   desc,
		RelatedSaleID: adv.SaleID,
		Locked:        adv.Used(),
	}
}

func purchaseMovement(sale Sale) Movement {
	desc := "Compra: " + describeItems(sale.Items)
	if sale.InDebt() {
		desc += fmt.Sprintf(" (saldo pendiente S/ %s)", sale.OutstandingBalance)
	}
	id := sale.ID
	return Movement{
		ID:            "sale-" + string(sale.ID),
		Direction:     DirectionDebit,
		Kind:          KindPurchase,
		At:            sale.SoldAt,
		Amount:        sale.PaidSoFar(),
		Description:   desc,
		RelatedSaleID: &id,
	}
}

// cashSettlementMovement synthesizes the direct-payment credit for a
// finalized sale. Returns false when the sale was funded entirely by
// advances.
func cashSettlementMovement(sale Sale) (Movement, bool) {
	direct := sale.NetTotal().Sub(sale.AdvanceTotal)
	if !direct.IsPositive() {
		return Movement{}, false
	}
	id := sale.ID
	return Movement{
		ID:            "cash-" + string(sale.ID),
		Direction:     DirectionCredit,
		Kind:          KindCashSettlement,
		At:            sale.SoldAt,
		Amount:        direct,
		Description:   fmt.Sprintf("Pago directo al cierre de venta %s", sale.ID),
		RelatedSaleID: &id,
	}, true
}

func describeItems(items []SaleItem) string {
	if len(items) == 0 {
		return "venta sin detalle"
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprintf("%dx %s", it.Quantity, it.ProductName)
	}
	return strings.Join(parts, ", ")
}
