/*
handlers.go - HTTP API handlers for the advance-payment ledger

PURPOSE:

	Exposes the ledger via REST API. Handles HTTP request/response, JSON
	serialization, and delegates to the domain logic in the ledger package.

ENDPOINTS:

	Customers:
	  GET    /api/customers/{id}/balance      Credit position
	  GET    /api/customers/{id}/debts        Outstanding sales (for ordering UI)
	  GET    /api/customers/{id}/history      Unified movement history
	  GET    /api/customers/{id}/audit        Audit trail
	  POST   /api/customers/{id}/allocations  Apply credit to debts

	Advances:
	  POST   /api/advances                    Register an advance
	  GET    /api/advances/{id}/usage         Usage-lock query
	  PATCH  /api/advances/{id}               Edit (guarded)
	  DELETE /api/advances/{id}               Delete (guarded)

	Sales:
	  POST   /api/sales                       Register a completed sale

ERROR HANDLING:

	Errors are returned as JSON with appropriate HTTP status:
	- 400: Validation errors, invalid input
	- 404: Record not found
	- 409: Precondition failed (advance already used)
	- 500: Internal errors; allocation failures still carry the partial summary
	- 503: Store unavailable

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/gustavox27/PuntoDeVenta-HilosAncestralesv2-sub000/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   ledger.Store
	Audit   ledger.AuditLog
	Engine  *ledger.AllocationEngine
	Guard   *ledger.UsageGuard
	Balance *ledger.BalanceCalculator
	History *ledger.HistoryComposer

	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler wires a handler over the given store and audit log.
func NewHandler(store ledger.Store, audit ledger.AuditLog, log zerolog.Logger) *Handler {
	return &Handler{
		Store:    store,
		Audit:    audit,
		Engine:   ledger.NewAllocationEngine(store, audit, log),
		Guard:    &ledger.UsageGuard{Store: store},
		Balance:  &ledger.BalanceCalculator{Store: store},
		History:  &ledger.HistoryComposer{Store: store},
		validate: validator.New(),
		log:      log.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// CUSTOMER READ HANDLERS
// =============================================================================

// GetBalance returns the customer's credit position.
// GET /api/customers/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	customerID := ledger.CustomerID(chi.URLParam(r, "id"))

	summary, err := h.Balance.ComputeBalance(r.Context(), customerID)
	if err != nil {
		h.writeDomainError(w, "Failed to compute balance", err)
		return
	}

	advances := make([]AdvanceDTO, len(summary.Advances))
	for i, adv := range summary.Advances {
		advances[i] = toAdvanceDTO(adv)
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		CustomerID:      string(summary.CustomerID),
		TotalRegistered: summary.TotalRegistered.String(),
		TotalConsumed:   summary.TotalConsumed.String(),
		Available:       summary.Available.String(),
		OutstandingDebt: summary.OutstandingDebt.String(),
		Advances:        advances,
	})
}

// ListDebts returns the customer's outstanding sales, oldest first, for the
// ordering UI.
// GET /api/customers/{id}/debts
func (h *Handler) ListDebts(w http.ResponseWriter, r *http.Request) {
	customerID := ledger.CustomerID(chi.URLParam(r, "id"))

	debts, err := h.Store.ListDebtSales(r.Context(), customerID)
	if err != nil {
		h.writeDomainError(w, "Failed to list debts", err)
		return
	}

	dtos := make([]SaleDTO, len(debts))
	for i, sale := range debts {
		dtos[i] = toSaleDTO(sale)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetHistory returns the unified movement history.
// GET /api/customers/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	customerID := ledger.CustomerID(chi.URLParam(r, "id"))

	history, err := h.History.BuildHistory(r.Context(), customerID)
	if err != nil {
		h.writeDomainError(w, "Failed to build history", err)
		return
	}

	movements := make([]MovementDTO, len(history.Movements))
	for i, m := range history.Movements {
		movements[i] = toMovementDTO(m)
	}

	writeJSON(w, http.StatusOK, HistoryDTO{
		CustomerID:       string(history.CustomerID),
		Movements:        movements,
		TotalCredits:     history.TotalCredits.String(),
		TotalDebits:      history.TotalDebits.String(),
		AvailableBalance: history.AvailableBalance.String(),
		OutstandingDebt:  history.OutstandingDebt.String(),
	})
}

// ListAudit returns the customer's audit trail, newest first.
// GET /api/customers/{id}/audit
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	customerID := ledger.CustomerID(chi.URLParam(r, "id"))

	entries, err := h.Audit.ListByCustomer(r.Context(), customerID)
	if err != nil {
		h.writeDomainError(w, "Failed to list audit entries", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:          e.ID,
			At:          e.At.Format(time.RFC3339),
			Category:    string(e.Category),
			Description: e.Description,
			Actor:       e.Actor,
			EntityID:    e.EntityID,
			EntityKind:  e.EntityKind,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ALLOCATION HANDLER
// =============================================================================

// ApplyAllocation distributes available credit across the ordered debts.
// POST /api/customers/{id}/allocations
func (h *Handler) ApplyAllocation(w http.ResponseWriter, r *http.Request) {
	customerID := ledger.CustomerID(chi.URLParam(r, "id"))

	var req ApplyAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	// Zero is a valid amount here: the allocation is then a successful
	// no-op, not a bad request.
	available, err := parseNonNegativeAmount(req.Available, "available")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	order := make([]ledger.SaleID, len(req.SaleOrder))
	for i, id := range req.SaleOrder {
		order[i] = ledger.SaleID(id)
	}

	summary, err := h.Engine.Apply(r.Context(), ledger.AllocationRequest{
		CustomerID: customerID,
		AdvanceID:  ledger.AdvanceID(req.AdvanceID),
		Available:  available,
		SaleOrder:  order,
		Actor:      req.Actor,
	})

	result := AllocationResultDTO{
		SaleCount:      summary.SaleCount,
		CompletedCount: summary.CompletedCount,
		PartialCount:   summary.PartialCount,
		TotalApplied:   summary.TotalApplied.String(),
		Remainder:      summary.Remainder.String(),
	}

	if err != nil {
		// A partial failure still reports what was committed so a human can
		// retry with the remaining unsettled sales.
		var partial *ledger.PartialApplicationError
		if errors.As(err, &partial) {
			result.FailedSaleID = string(partial.FailedSale)
			result.Error = partial.Cause.Error()
			writeJSON(w, http.StatusInternalServerError, result)
			return
		}
		h.writeDomainError(w, "Allocation failed", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// ADVANCE HANDLERS
// =============================================================================

// CreateAdvance registers a customer credit. With sale_id the advance is a
// deposit-at-purchase: it is reserved against that sale and applied to its
// outstanding balance immediately.
// POST /api/advances
func (h *Handler) CreateAdvance(w http.ResponseWriter, r *http.Request) {
	var req CreateAdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	ctx := r.Context()
	adv := ledger.Advance{
		ID:         ledger.AdvanceID(uuid.NewString()),
		CustomerID: ledger.CustomerID(req.CustomerID),
		Amount:     amount,
		Method:     ledger.PaymentMethod(req.Method),
		Status:     ledger.AdvanceAvailable,
		Notes:      req.Notes,
		RecordedAt: time.Now(),
	}

	// The settlement write and the advance row must land together: a sale
	// carrying advance credit no Advance record backs would silently shrink
	// the customer's balance.
	err = h.withStoreTx(ctx, func(s ledger.Store) error {
		if req.SaleID != nil {
			saleID := ledger.SaleID(*req.SaleID)
			sale, err := s.GetSale(ctx, saleID)
			if err != nil {
				return err
			}
			if sale.CustomerID != adv.CustomerID {
				return &ledger.ValidationError{Field: "sale_id", Reason: "sale does not belong to the customer"}
			}
			if amount.GreaterThan(sale.OutstandingBalance) {
				return &ledger.ValidationError{Field: "amount", Reason: "deposit exceeds the sale's outstanding balance"}
			}

			newOutstanding := sale.OutstandingBalance.Sub(amount)
			patch := ledger.SettlementPatch{
				AdvanceTotal:       sale.AdvanceTotal.Add(amount),
				OutstandingBalance: newOutstanding,
				State:              ledger.SettlementPending,
			}
			if !newOutstanding.IsPositive() {
				patch.State = ledger.SettlementComplete
				patch.Finalized = true
			}
			if _, err := s.UpdateSaleSettlement(ctx, saleID, patch); err != nil {
				return err
			}

			adv.Status = ledger.AdvanceReserved
			adv.SaleID = &saleID
		}
		return s.SaveAdvance(ctx, adv)
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create advance", err)
		return
	}

	h.audit(ctx, ledger.AuditEntry{
		CustomerID:  adv.CustomerID,
		Category:    ledger.AuditAdvanceCreated,
		Description: fmt.Sprintf("Anticipo registrado: S/ %s (%s)", adv.Amount, adv.Method.Label()),
		Actor:       req.Actor,
		EntityID:    string(adv.ID),
		EntityKind:  "advance",
	})

	writeJSON(w, http.StatusCreated, toAdvanceDTO(adv))
}

// GetAdvanceUsage answers the usage-lock query.
// GET /api/advances/{id}/usage
func (h *Handler) GetAdvanceUsage(w http.ResponseWriter, r *http.Request) {
	id := ledger.AdvanceID(chi.URLParam(r, "id"))

	used, err := h.Guard.IsUsed(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to check advance usage", err)
		return
	}
	writeJSON(w, http.StatusOK, UsageDTO{AdvanceID: string(id), Used: used})
}

// UpdateAdvance edits an unused advance. The usage guard runs first: a used
// advance is frozen and the request fails with 409.
// PATCH /api/advances/{id}
func (h *Handler) UpdateAdvance(w http.ResponseWriter, r *http.Request) {
	id := ledger.AdvanceID(chi.URLParam(r, "id"))

	var req UpdateAdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	ctx := r.Context()
	if err := h.Guard.CheckEditable(ctx, id); err != nil {
		h.writeDomainError(w, "Advance cannot be modified", err)
		return
	}

	var patch ledger.AdvancePatch
	if req.Amount != nil {
		amount, err := parseAmount(*req.Amount, "amount")
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount", err)
			return
		}
		patch.Amount = &amount
	}
	if req.Method != nil {
		method := ledger.PaymentMethod(*req.Method)
		patch.Method = &method
	}
	patch.Notes = req.Notes

	adv, err := h.Store.UpdateAdvance(ctx, id, patch)
	if err != nil {
		h.writeDomainError(w, "Failed to update advance", err)
		return
	}

	h.audit(ctx, ledger.AuditEntry{
		CustomerID:  adv.CustomerID,
		Category:    ledger.AuditAdvanceUpdated,
		Description: fmt.Sprintf("Anticipo modificado: S/ %s (%s)", adv.Amount, adv.Method.Label()),
		Actor:       req.Actor,
		EntityID:    string(adv.ID),
		EntityKind:  "advance",
	})

	writeJSON(w, http.StatusOK, toAdvanceDTO(*adv))
}

// DeleteAdvance removes an unused advance. Guarded like UpdateAdvance.
// DELETE /api/advances/{id}
func (h *Handler) DeleteAdvance(w http.ResponseWriter, r *http.Request) {
	id := ledger.AdvanceID(chi.URLParam(r, "id"))
	ctx := r.Context()

	adv, err := h.Store.GetAdvance(ctx, id)
	if err != nil {
		h.writeDomainError(w, "Failed to load advance", err)
		return
	}

	if err := h.Guard.CheckEditable(ctx, id); err != nil {
		h.writeDomainError(w, "Advance cannot be deleted", err)
		return
	}

	if err := h.Store.DeleteAdvance(ctx, id); err != nil {
		h.writeDomainError(w, "Failed to delete advance", err)
		return
	}

	h.audit(ctx, ledger.AuditEntry{
		CustomerID:  adv.CustomerID,
		Category:    ledger.AuditAdvanceDeleted,
		Description: fmt.Sprintf("Anticipo eliminado: S/ %s", adv.Amount),
		Actor:       r.URL.Query().Get("actor"),
		EntityID:    string(id),
		EntityKind:  "advance",
	})

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SALE HANDLER
// =============================================================================

// CreateSale registers a completed sale with its items. When advance_amount
// is positive a companion reserved Advance is created so the registered and
// consumed totals stay conserved.
// POST /api/sales
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	items := make([]ledger.SaleItem, len(req.Items))
	total := decimal.Zero
	for i, it := range req.Items {
		price, err := parseAmount(it.UnitPrice, "unit_price")
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid unit price", err)
			return
		}
		items[i] = ledger.SaleItem{ProductName: it.ProductName, Quantity: it.Quantity, UnitPrice: price}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	discount := decimal.Zero
	if req.DiscountTotal != "" {
		var err error
		if discount, err = decimal.NewFromString(req.DiscountTotal); err != nil || discount.IsNegative() {
			writeError(w, http.StatusBadRequest, "Invalid discount", err)
			return
		}
	}

	deposit := decimal.Zero
	if req.AdvanceAmount != "" {
		var err error
		if deposit, err = decimal.NewFromString(req.AdvanceAmount); err != nil || deposit.IsNegative() {
			writeError(w, http.StatusBadRequest, "Invalid advance amount", err)
			return
		}
	}

	net := total.Sub(discount)
	if net.IsNegative() {
		writeError(w, http.StatusBadRequest, "Discount exceeds sale total", nil)
		return
	}
	if deposit.GreaterThan(net) {
		writeError(w, http.StatusBadRequest, "Advance exceeds net sale total", nil)
		return
	}

	outstanding := net.Sub(deposit)
	sale := ledger.Sale{
		ID:                 ledger.SaleID(uuid.NewString()),
		CustomerID:         ledger.CustomerID(req.CustomerID),
		Total:              total,
		DiscountTotal:      discount,
		AdvanceTotal:       deposit,
		OutstandingBalance: outstanding,
		State:              ledger.SettlementPending,
		Items:              items,
		SoldAt:             time.Now(),
	}
	if !outstanding.IsPositive() {
		sale.State = ledger.SettlementComplete
		sale.Finalized = true
	}

	// The sale and its companion deposit advance land together so the
	// registered and consumed totals stay conserved even on failure.
	ctx := r.Context()
	err := h.withStoreTx(ctx, func(s ledger.Store) error {
		if err := s.SaveSale(ctx, sale); err != nil {
			return err
		}
		if !deposit.IsPositive() {
			return nil
		}
		saleID := sale.ID
		return s.SaveAdvance(ctx, ledger.Advance{
			ID:         ledger.AdvanceID(uuid.NewString()),
			CustomerID: sale.CustomerID,
			SaleID:     &saleID,
			Amount:     deposit,
			Method:     ledger.MethodCash,
			Status:     ledger.AdvanceReserved,
			Notes:      "Anticipo entregado en la venta",
			RecordedAt: sale.SoldAt,
		})
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create sale", err)
		return
	}

	h.audit(ctx, ledger.AuditEntry{
		CustomerID:  sale.CustomerID,
		Category:    ledger.AuditSaleCreated,
		Description: fmt.Sprintf("Venta registrada: S/ %s, saldo pendiente S/ %s", net, outstanding),
		Actor:       req.Actor,
		EntityID:    string(sale.ID),
		EntityKind:  "sale",
	})

	writeJSON(w, http.StatusCreated, toSaleDTO(sale))
}

// =============================================================================
// HELPERS
// =============================================================================

// audit appends an entry with generated ID/timestamp. Fire-and-forget:
// failures are logged, never surfaced.
func (h *Handler) audit(ctx context.Context, entry ledger.AuditEntry) {
	entry.ID = uuid.NewString()
	entry.At = time.Now()
	if err := h.Audit.Append(ctx, entry); err != nil {
		h.log.Warn().Err(err).Str("category", string(entry.Category)).Msg("audit append failed")
	}
}

// withStoreTx runs fn inside one transaction when the store supports it;
// otherwise fn runs over the plain store.
func (h *Handler) withStoreTx(ctx context.Context, fn func(ledger.Store) error) error {
	if tx, ok := h.Store.(ledger.TxStore); ok {
		return tx.WithTx(ctx, fn)
	}
	return fn(h.Store)
}

// parseAmount parses a positive decimal amount.
func parseAmount(s, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

// parseNonNegativeAmount is parseAmount for fields where zero is a valid
// no-op value.
func parseNonNegativeAmount(s, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

// writeDomainError maps ledger errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, msg string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, msg, err)
	case errors.Is(err, ledger.ErrAdvanceUsed):
		writeError(w, http.StatusConflict, msg, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, msg, err)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, msg, err)
	default:
		h.log.Error().Err(err).Msg(msg)
		writeError(w, http.StatusInternalServerError, msg, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := map[string]any{"error": msg}
	if err != nil {
		body["detail"] = err.Error()
	}
	writeJSON(w, status, body)
}
