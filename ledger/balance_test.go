/*
balance_test.go - Unit tests for the available-credit calculation

CORE DESIGN:
- totalRegistered counts every advance, used or not
- per-sale consumption is capped at the net sale total (read-side guard)
- available is floored at zero
*/
package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gustavox27/PuntoDeVenta-HilosAncestralesv2-sub000/ledger"
	"github.com/gustavox27/PuntoDeVenta-HilosAncestralesv2-sub000/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func soles(s string) decimal.Decimal {
	return ledger.MustParseDecimal(s)
}

func newAdvance(id, customer, amount string, status ledger.AdvanceStatus) ledger.Advance {
	return ledger.Advance{
		ID:         ledger.AdvanceID(id),
		CustomerID: ledger.CustomerID(customer),
		Amount:     soles(amount),
		Method:     ledger.MethodCash,
		Status:     status,
		RecordedAt: time.Now(),
	}
}

// newSale builds a sale whose outstanding balance follows the invariant
// outstanding = max(0, total - discount - advances).
func newSale(id, customer, total, discount, advances string) ledger.Sale {
	t := soles(total)
	d := soles(discount)
	a := soles(advances)
	outstanding := t.Sub(d).Sub(a)
	if outstanding.IsNegative() {
		outstanding = decimal.Zero
	}
	sale := ledger.Sale{
		ID:                 ledger.SaleID(id),
		CustomerID:         ledger.CustomerID(customer),
		Total:              t,
		DiscountTotal:      d,
		AdvanceTotal:       a,
		OutstandingBalance: outstanding,
		State:              ledger.SettlementPending,
		SoldAt:             time.Now(),
	}
	if !outstanding.IsPositive() {
		sale.State = ledger.SettlementComplete
		sale.Finalized = true
	}
	return sale
}

// =============================================================================
// BALANCE CALCULATION TESTS
// =============================================================================

func TestComputeBalance_NoRecords_ZeroedResult(t *testing.T) {
	// GIVEN: A customer with no advances and no sales
	// WHEN: Computing the balance
	// THEN: All totals are zero and no error is raised

	ctx := context.Background()
	calc := &ledger.BalanceCalculator{Store: store.NewMemory()}

	summary, err := calc.ComputeBalance(ctx, "cust-nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !summary.Available.IsZero() || !summary.TotalRegistered.IsZero() || !summary.TotalConsumed.IsZero() {
		t.Errorf("expected zeroed balance, got %+v", summary)
	}
}

func TestComputeBalance_Conservation(t *testing.T) {
	// GIVEN: Advances of 100 and 50, a sale that absorbed 80
	// WHEN: Computing the balance
	// THEN: registered - consumed == available, exactly

	ctx := context.Background()
	mem := store.NewMemory()
	mem.SaveAdvance(ctx, newAdvance("a1", "cust-1", "100", ledger.AdvanceConsumed))
	mem.SaveAdvance(ctx, newAdvance("a2", "cust-1", "50", ledger.AdvanceAvailable))
	mem.SaveSale(ctx, newSale("s1", "cust-1", "90", "10", "80"))

	calc := &ledger.BalanceCalculator{Store: mem}
	summary, err := calc.ComputeBalance(ctx, "cust-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := summary.TotalRegistered.String(); got != "150" {
		t.Errorf("registered = %s, want 150", got)
	}
	if got := summary.TotalConsumed.String(); got != "80" {
		t.Errorf("consumed = %s, want 80", got)
	}
	if got := summary.Available.String(); got != "70" {
		t.Errorf("available = %s, want 70", got)
	}
	diff := summary.TotalRegistered.Sub(summary.TotalConsumed)
	if !diff.Equal(summary.Available) {
		t.Errorf("conservation broken: %s - %s != %s",
			summary.TotalRegistered, summary.TotalConsumed, summary.Available)
	}
}

func TestComputeBalance_OverAppliedSale_ClampedAtNetTotal(t *testing.T) {
	// GIVEN: A legacy sale whose stored advance total (120) exceeds its net
	//        total (100)
	// WHEN: Computing the balance
	// THEN: Consumption is capped at 100, not 120

	ctx := context.Background()
	mem := store.NewMemory()
	mem.SaveAdvance(ctx, newAdvance("a1", "cust-1", "120", ledger.AdvanceConsumed))
	mem.SaveSale(ctx, ledger.Sale{
		ID:                 "s1",
		CustomerID:         "cust-1",
		Total:              soles("100"),
		DiscountTotal:      decimal.Zero,
		AdvanceTotal:       soles("120"),
		OutstandingBalance: decimal.Zero,
		State:              ledger.SettlementComplete,
		Finalized:          true,
		SoldAt:             time.Now(),
	})

	calc := &ledger.BalanceCalculator{Store: mem}
	summary, err := calc.ComputeBalance(ctx, "cust-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := summary.TotalConsumed.String(); got != "100" {
		t.Errorf("consumed = %s, want clamp at 100", got)
	}
	if got := summary.Available.String(); got != "20" {
		t.Errorf("available = %s, want 20", got)
	}
}

func TestComputeBalance_AvailableNeverNegative(t *testing.T) {
	// GIVEN: Sales absorbed more than was ever registered (legacy data)
	// WHEN: Computing the balance
	// THEN: Available floors at zero

	ctx := context.Background()
	mem := store.NewMemory()
	mem.SaveAdvance(ctx, newAdvance("a1", "cust-1", "30", ledger.AdvanceConsumed))
	mem.SaveSale(ctx, newSale("s1", "cust-1", "50", "0", "50"))

	calc := &ledger.BalanceCalculator{Store: mem}
	summary, err := calc.ComputeBalance(ctx, "cust-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Available.IsNegative() {
		t.Errorf("available went negative: %s", summary.Available)
	}
	if !summary.Available.IsZero() {
		t.Errorf("available = %s, want 0", summary.Available)
	}
}

func TestComputeBalance_OutstandingDebt(t *testing.T) {
	// GIVEN: Two unsettled sales (40 and 60 outstanding) and one finalized
	// WHEN: Computing the balance
	// THEN: Outstanding debt sums only the unsettled ones

	ctx := context.Background()
	mem := store.NewMemory()
	mem.SaveSale(ctx, newSale("s1", "cust-1", "40", "0", "0"))
	mem.SaveSale(ctx, newSale("s2", "cust-1", "60", "0", "0"))
	mem.SaveSale(ctx, newSale("s3", "cust-1", "80", "0", "80"))

	calc := &ledger.BalanceCalculator{Store: mem}
	summary, err := calc.ComputeBalance(ctx, "cust-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := summary.OutstandingDebt.String(); got != "100" {
		t.Errorf("outstanding debt = %s, want 100", got)
	}
	if summary.OutstandingDebt.IsNegative() {
		t.Errorf("outstanding debt went negative")
	}
}

func TestComputeBalance_IgnoresOtherCustomers(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.SaveAdvance(ctx, newAdvance("a1", "cust-1", "100", ledger.AdvanceAvailable))
	mem.SaveAdvance(ctx, newAdvance("a2", "cust-2", "999", ledger.AdvanceAvailable))

	calc := &ledger.BalanceCalculator{Store: mem}
	summary, err := calc.ComputeBalance(ctx, "cust-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := summary.TotalRegistered.String(); got != "100" {
		t.Errorf("registered = %s, want 100", got)
	}
	if len(summary.Advances) != 1 {
		t.Errorf("advances = %d, want 1", len(summary.Advances))
	}
}
