/*
handlers_test.go - HTTP-level tests for the ledger API

Tests for:
- The full counter workflow: sale on credit, advance, allocation, history
- Usage guard responses (409 on editing a used advance)
- Request validation (400 on malformed payloads)
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustavox27/PuntoDeVenta-HilosAncestralesv2-sub000/ledger"
	"github.com/gustavox27/PuntoDeVenta-HilosAncestralesv2-sub000/ledger/store"
	"github.com/gustavox27/PuntoDeVenta-HilosAncestralesv2-sub000/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestRouter() *chi.Mux {
	mem := store.NewMemory()
	return NewRouter(NewHandler(mem, mem, zerolog.Nop()))
}

func doJSON(t *testing.T, router *chi.Mux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

// =============================================================================
// COUNTER WORKFLOW
// =============================================================================

func TestWorkflow_SaleOnCredit_AdvanceSettlesDebt(t *testing.T) {
	router := newTestRouter()

	// A customer takes goods on credit: 2x Chompa at S/ 50 each, nothing paid.
	rec := doJSON(t, router, http.MethodPost, "/api/sales", CreateSaleRequest{
		CustomerID: "cust-1",
		Items: []SaleItemRequest{
			{ProductName: "Chompa de alpaca", Quantity: 2, UnitPrice: "50"},
		},
		Actor: "vendedor-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var sale SaleDTO
	decodeBody(t, rec, &sale)
	assert.Equal(t, "100", sale.OutstandingBalance)
	assert.False(t, sale.Finalized)

	// The debt shows up in the ordering list.
	rec = doJSON(t, router, http.MethodGet, "/api/customers/cust-1/debts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var debts []SaleDTO
	decodeBody(t, rec, &debts)
	require.Len(t, debts, 1)
	assert.Equal(t, sale.ID, debts[0].ID)

	// Later the customer leaves a standalone advance of S/ 40.
	rec = doJSON(t, router, http.MethodPost, "/api/advances", CreateAdvanceRequest{
		CustomerID: "cust-1",
		Amount:     "40",
		Method:     "yape",
		Actor:      "vendedor-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var adv AdvanceDTO
	decodeBody(t, rec, &adv)
	assert.Equal(t, "available", adv.Status)
	assert.False(t, adv.Used)

	// The balance reflects the open credit and the open debt.
	rec = doJSON(t, router, http.MethodGet, "/api/customers/cust-1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance BalanceDTO
	decodeBody(t, rec, &balance)
	assert.Equal(t, "40", balance.Available)
	assert.Equal(t, "100", balance.OutstandingDebt)

	// The advance is applied to the debt.
	rec = doJSON(t, router, http.MethodPost, "/api/customers/cust-1/allocations", ApplyAllocationRequest{
		AdvanceID: adv.ID,
		Available: "40",
		SaleOrder: []string{sale.ID},
		Actor:     "vendedor-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var result AllocationResultDTO
	decodeBody(t, rec, &result)
	assert.Equal(t, "40", result.TotalApplied)
	assert.Equal(t, "0", result.Remainder)
	assert.Equal(t, 1, result.PartialCount)
	assert.Equal(t, 0, result.CompletedCount)

	// Credit is gone, debt shrank by the applied amount.
	rec = doJSON(t, router, http.MethodGet, "/api/customers/cust-1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &balance)
	assert.Equal(t, "0", balance.Available)
	assert.Equal(t, "60", balance.OutstandingDebt)

	// The advance now reports used.
	rec = doJSON(t, router, http.MethodGet, "/api/advances/"+adv.ID+"/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var usage UsageDTO
	decodeBody(t, rec, &usage)
	assert.True(t, usage.Used)

	// The history carries both movements.
	rec = doJSON(t, router, http.MethodGet, "/api/customers/cust-1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history HistoryDTO
	decodeBody(t, rec, &history)
	require.Len(t, history.Movements, 2)
	assert.Equal(t, "40", history.TotalCredits)
	assert.Equal(t, "40", history.TotalDebits)

	// The audit trail recorded the whole session.
	rec = doJSON(t, router, http.MethodGet, "/api/customers/cust-1/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trail []AuditEntryDTO
	decodeBody(t, rec, &trail)
	// sale created + advance created + debt payment + allocation summary
	assert.Len(t, trail, 4)
}

func TestCreateSale_WithDeposit_CreatesReservedAdvance(t *testing.T) {
	router := newTestRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/sales", CreateSaleRequest{
		CustomerID: "cust-1",
		Items: []SaleItemRequest{
			{ProductName: "Manta andina", Quantity: 1, UnitPrice: "80"},
		},
		AdvanceAmount: "30",
		Actor:         "vendedor-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var sale SaleDTO
	decodeBody(t, rec, &sale)
	assert.Equal(t, "30", sale.AdvanceTotal)
	assert.Equal(t, "50", sale.OutstandingBalance)

	// The deposit is a real reserved advance, so registered and consumed
	// totals stay conserved and the available balance is untouched.
	rec = doJSON(t, router, http.MethodGet, "/api/customers/cust-1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance BalanceDTO
	decodeBody(t, rec, &balance)
	assert.Equal(t, "30", balance.TotalRegistered)
	assert.Equal(t, "30", balance.TotalConsumed)
	assert.Equal(t, "0", balance.Available)
	require.Len(t, balance.Advances, 1)
	assert.Equal(t, "reserved", balance.Advances[0].Status)
	require.NotNil(t, balance.Advances[0].SaleID)
	assert.Equal(t, sale.ID, *balance.Advances[0].SaleID)
}

func TestCreateAdvance_AgainstSale_ReducesOutstanding(t *testing.T) {
	router := newTestRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/sales", CreateSaleRequest{
		CustomerID: "cust-1",
		Items:      []SaleItemRequest{{ProductName: "Poncho", Quantity: 1, UnitPrice: "120"}},
		Actor:      "vendedor-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sale SaleDTO
	decodeBody(t, rec, &sale)

	// A deposit tied to the sale settles part of it immediately.
	rec = doJSON(t, router, http.MethodPost, "/api/advances", CreateAdvanceRequest{
		CustomerID: "cust-1",
		SaleID:     &sale.ID,
		Amount:     "120",
		Method:     "plin",
		Actor:      "vendedor-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var adv AdvanceDTO
	decodeBody(t, rec, &adv)
	assert.Equal(t, "reserved", adv.Status)

	// Fully paid: the sale no longer appears as a debt.
	rec = doJSON(t, router, http.MethodGet, "/api/customers/cust-1/debts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var debts []SaleDTO
	decodeBody(t, rec, &debts)
	assert.Empty(t, debts)
}

// =============================================================================
// GUARD AND VALIDATION RESPONSES
// =============================================================================

func TestUpdateAdvance_Used_Returns409(t *testing.T) {
	router := newTestRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/sales", CreateSaleRequest{
		CustomerID: "cust-1",
		Items:      []SaleItemRequest{{ProductName: "Gorro", Quantity: 1, UnitPrice: "25"}},
		Actor:      "vendedor-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sale SaleDTO
	decodeBody(t, rec, &sale)

	rec = doJSON(t, router, http.MethodPost, "/api/advances", CreateAdvanceRequest{
		CustomerID: "cust-1", Amount: "25", Method: "cash", Actor: "vendedor-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var adv AdvanceDTO
	decodeBody(t, rec, &adv)

	rec = doJSON(t, router, http.MethodPost, "/api/customers/cust-1/allocations", ApplyAllocationRequest{
		AdvanceID: adv.ID, Available: "25", SaleOrder: []string{sale.ID}, Actor: "vendedor-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	amount := "90"
	rec = doJSON(t, router, http.MethodPatch, "/api/advances/"+adv.ID, UpdateAdvanceRequest{
		Amount: &amount, Actor: "vendedor-1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/advances/"+adv.ID+"?actor=vendedor-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// The amount stayed frozen.
	rec = doJSON(t, router, http.MethodGet, "/api/customers/cust-1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance BalanceDTO
	decodeBody(t, rec, &balance)
	require.Len(t, balance.Advances, 1)
	assert.Equal(t, "25", balance.Advances[0].Amount)
}

func TestUpdateAdvance_Unused_Succeeds(t *testing.T) {
	router := newTestRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/advances", CreateAdvanceRequest{
		CustomerID: "cust-1", Amount: "50", Method: "cash", Actor: "vendedor-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var adv AdvanceDTO
	decodeBody(t, rec, &adv)

	amount, method := "75", "transfer"
	rec = doJSON(t, router, http.MethodPatch, "/api/advances/"+adv.ID, UpdateAdvanceRequest{
		Amount: &amount, Method: &method, Actor: "vendedor-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated AdvanceDTO
	decodeBody(t, rec, &updated)
	assert.Equal(t, "75", updated.Amount)
	assert.Equal(t, "transfer", updated.Method)
}

func TestDeleteAdvance_Unused_Succeeds(t *testing.T) {
	router := newTestRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/advances", CreateAdvanceRequest{
		CustomerID: "cust-1", Amount: "50", Method: "cash", Actor: "vendedor-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var adv AdvanceDTO
	decodeBody(t, rec, &adv)

	rec = doJSON(t, router, http.MethodDelete, "/api/advances/"+adv.ID+"?actor=vendedor-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/advances/"+adv.ID+"/usage", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidation_BadRequests(t *testing.T) {
	router := newTestRouter()

	cases := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"advance without method", http.MethodPost, "/api/advances",
			CreateAdvanceRequest{CustomerID: "cust-1", Amount: "50", Actor: "v"}},
		{"advance with unknown method", http.MethodPost, "/api/advances",
			CreateAdvanceRequest{CustomerID: "cust-1", Amount: "50", Method: "bitcoin", Actor: "v"}},
		{"advance with negative amount", http.MethodPost, "/api/advances",
			CreateAdvanceRequest{CustomerID: "cust-1", Amount: "-5", Method: "cash", Actor: "v"}},
		{"sale without items", http.MethodPost, "/api/sales",
			CreateSaleRequest{CustomerID: "cust-1", Actor: "v"}},
		{"sale with zero quantity", http.MethodPost, "/api/sales",
			CreateSaleRequest{CustomerID: "cust-1", Actor: "v",
				Items: []SaleItemRequest{{ProductName: "Gorro", Quantity: 0, UnitPrice: "10"}}}},
		{"allocation without advance id", http.MethodPost, "/api/customers/cust-1/allocations",
			ApplyAllocationRequest{Available: "10", Actor: "v"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", rec.Body.String())
		})
	}
}

func TestApplyAllocation_ZeroAvailable_NoOpSuccess(t *testing.T) {
	// A zero amount is a successful no-op, not a bad request.
	router := newTestRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/sales", CreateSaleRequest{
		CustomerID: "cust-1",
		Items:      []SaleItemRequest{{ProductName: "Gorro", Quantity: 1, UnitPrice: "25"}},
		Actor:      "vendedor-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sale SaleDTO
	decodeBody(t, rec, &sale)

	rec = doJSON(t, router, http.MethodPost, "/api/advances", CreateAdvanceRequest{
		CustomerID: "cust-1", Amount: "40", Method: "cash", Actor: "vendedor-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var adv AdvanceDTO
	decodeBody(t, rec, &adv)

	rec = doJSON(t, router, http.MethodPost, "/api/customers/cust-1/allocations", ApplyAllocationRequest{
		AdvanceID: adv.ID, Available: "0", SaleOrder: []string{sale.ID}, Actor: "vendedor-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var result AllocationResultDTO
	decodeBody(t, rec, &result)
	assert.Equal(t, "0", result.TotalApplied)
	assert.Equal(t, 0, result.SaleCount)

	// Nothing was consumed.
	rec = doJSON(t, router, http.MethodGet, "/api/advances/"+adv.ID+"/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var usage UsageDTO
	decodeBody(t, rec, &usage)
	assert.False(t, usage.Used)
}

func TestAllocation_UnknownAdvance_Returns404(t *testing.T) {
	router := newTestRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/customers/cust-1/allocations", ApplyAllocationRequest{
		AdvanceID: "ghost", Available: "10", SaleOrder: []string{"s1"}, Actor: "v",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code, fmt.Sprintf("body: %s", rec.Body.String()))
}

// =============================================================================
// DEPOSIT ATOMICITY (TRANSACTIONAL STORE)
// =============================================================================

var errAdvanceWrite = errors.New("advance write refused")

// depositFaultStore is a transactional store whose advance inserts fail,
// simulating a write error after the settlement half of a deposit committed.
type depositFaultStore struct {
	*sqlite.Store
}

func (d *depositFaultStore) SaveAdvance(context.Context, ledger.Advance) error {
	return errAdvanceWrite
}

func (d *depositFaultStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return d.Store.WithTx(ctx, func(s ledger.Store) error {
		return fn(&depositFaultTx{Store: s})
	})
}

type depositFaultTx struct {
	ledger.Store
}

func (d *depositFaultTx) SaveAdvance(context.Context, ledger.Advance) error {
	return errAdvanceWrite
}

func newFaultyDepositRouter(t *testing.T) (*chi.Mux, *sqlite.Store) {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	router := NewRouter(NewHandler(&depositFaultStore{Store: db}, db, zerolog.Nop()))
	return router, db
}

func TestCreateAdvance_DepositWriteFailure_RollsBackSettlement(t *testing.T) {
	// GIVEN: A sale owing 80 and a store whose advance insert fails
	// WHEN: Registering a deposit of 30 against the sale
	// THEN: The settlement write rolls back with it; the sale keeps owing 80
	//       and no orphan credit shrinks the customer's balance

	router, db := newFaultyDepositRouter(t)
	ctx := context.Background()

	require.NoError(t, db.SaveSale(ctx, ledger.Sale{
		ID:                 "s1",
		CustomerID:         "cust-1",
		Total:              ledger.MustParseDecimal("80"),
		OutstandingBalance: ledger.MustParseDecimal("80"),
		State:              ledger.SettlementPending,
		SoldAt:             time.Now(),
	}))

	saleID := "s1"
	rec := doJSON(t, router, http.MethodPost, "/api/advances", CreateAdvanceRequest{
		CustomerID: "cust-1",
		SaleID:     &saleID,
		Amount:     "30",
		Method:     "cash",
		Actor:      "vendedor-1",
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	sale, err := db.GetSale(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "0", sale.AdvanceTotal.String(), "settlement must not survive the failed advance write")
	assert.Equal(t, "80", sale.OutstandingBalance.String())

	advances, err := db.ListAdvancesByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Empty(t, advances)
}

func TestCreateSale_DepositWriteFailure_RollsBackSale(t *testing.T) {
	// The sale row and its companion deposit advance land together or not
	// at all.

	router, db := newFaultyDepositRouter(t)
	ctx := context.Background()

	rec := doJSON(t, router, http.MethodPost, "/api/sales", CreateSaleRequest{
		CustomerID:    "cust-1",
		Items:         []SaleItemRequest{{ProductName: "Manta andina", Quantity: 1, UnitPrice: "80"}},
		AdvanceAmount: "30",
		Actor:         "vendedor-1",
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	sales, err := db.ListSalesByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Empty(t, sales, "sale must roll back with the failed deposit write")
}
