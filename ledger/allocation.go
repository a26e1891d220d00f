/*
allocation.go - Debt allocation engine

PURPOSE:

	Distributes a customer's available advance credit across an ordered list
	of outstanding sales, updating each sale's settlement state and reporting
	a summary. This is the algorithmic core of the ledger.

ALGORITHM (strict left-to-right, single pass, no backtracking):

	remaining := available
	for each saleID in caller order:
	    re-fetch the sale's current outstanding balance
	    skip sales that are settled, missing, or not the customer's
	    applied := min(outstanding, remaining)
	    stop when no funds remain
	    write the new settlement state; record an audit entry
	remainder := remaining   (stays unconsumed in the customer's balance)

	The caller supplies the order. The engine never decides priority itself;
	the storefront UI lets a human reorder or deselect debts.

ATOMICITY:

	The loop is written once, over the injected Store. When the configured
	store implements TxStore the whole sequence (settlement writes plus the
	advance consumption mark) runs inside one transaction. Otherwise the
	identical loop runs over discrete calls and a mid-sequence failure yields
	a PartialApplicationError reporting exactly how far it got: sale N-1
	confirmed, sale N failed, nothing speculative after that.

CONCURRENCY:

	Allocations for the same customer are serialized by a keyed mutex held
	for the entire sequence, closing the race between two concurrent
	allocations reading the same outstanding balance. Each sale's balance is
	still re-read inside the loop, which also tolerates stale UI state.

SEE ALSO:
  - store.go: Store / TxStore capabilities the loop runs over
  - errors.go: PartialApplicationError semantics
*/
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// REQUEST / SUMMARY
// =============================================================================

// AllocationRequest asks the engine to apply available credit to debts in
// the given order.
type AllocationRequest struct {
	CustomerID CustomerID
	AdvanceID  AdvanceID

	// Available is the amount to distribute, normally the customer's
	// current available balance.
	Available decimal.Decimal

	// SaleOrder is the caller-chosen settlement order. Entries that are
	// settled, missing, or not the customer's are skipped, not errored.
	SaleOrder []SaleID

	// Actor is who triggered the allocation, for the audit trail.
	Actor string
}

// AllocationSummary reports what one allocation run did.
type AllocationSummary struct {
	// SaleCount is the number of sales credit was applied to.
	SaleCount int
	// CompletedCount is how many of those were fully settled.
	CompletedCount int
	// PartialCount is how many were partially paid.
	PartialCount int

	TotalApplied decimal.Decimal
	Remainder    decimal.Decimal
}

// =============================================================================
// ENGINE
// =============================================================================

// AllocationEngine applies advance credit to debts. Safe for concurrent use;
// allocations for the same customer are serialized.
type AllocationEngine struct {
	Store Store
	Audit AuditLog
	Log   zerolog.Logger

	mu    sync.Mutex
	locks map[CustomerID]*sync.Mutex
}

// NewAllocationEngine wires an engine over the given store and audit log.
func NewAllocationEngine(store Store, audit AuditLog, log zerolog.Logger) *AllocationEngine {
	return &AllocationEngine{
		Store: store,
		Audit: audit,
		Log:   log.With().Str("component", "allocation").Logger(),
		locks: make(map[CustomerID]*sync.Mutex),
	}
}

// customerLock returns the serialization point for one customer.
func (e *AllocationEngine) customerLock(id CustomerID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// Apply distributes req.Available across req.SaleOrder.
//
// Returns the summary on success. On a mid-sequence failure over a
// non-transactional store the error is a *PartialApplicationError carrying
// the amounts already committed; over a TxStore the failed sequence rolls
// back and nothing is committed.
func (e *AllocationEngine) Apply(ctx context.Context, req AllocationRequest) (AllocationSummary, error) {
	if err := e.validate(req); err != nil {
		return AllocationSummary{}, err
	}

	lock := e.customerLock(req.CustomerID)
	lock.Lock()
	defer lock.Unlock()

	// Validate the advance under the lock so a concurrent allocation can't
	// slip between the check and the writes.
	adv, err := e.Store.GetAdvance(ctx, req.AdvanceID)
	if err != nil {
		return AllocationSummary{}, err
	}
	if adv.CustomerID != req.CustomerID {
		return AllocationSummary{}, &ValidationError{
			Field:  "advance_id",
			Reason: fmt.Sprintf("advance %s does not belong to customer %s", req.AdvanceID, req.CustomerID),
		}
	}

	// The amount itself is taken as the caller computed it. A figure built
	// from stale UI state degrades inside the loop (settled entries skipped,
	// per-sale writes capped at each outstanding balance), never into a
	// batch-level rejection.

	var (
		summary AllocationSummary
		trail   []AuditEntry
	)
	if tx, ok := e.Store.(TxStore); ok {
		err = tx.WithTx(ctx, func(s Store) error {
			var runErr error
			summary, trail, runErr = e.allocate(ctx, s, req)
			return runErr
		})
		if err != nil {
			// Rolled back: nothing was committed, so the buffered trail is
			// dropped and a clean failure reported.
			e.Log.Error().Err(err).Str("customer", string(req.CustomerID)).Msg("atomic allocation rolled back")
			return AllocationSummary{Remainder: req.Available}, err
		}
	} else {
		summary, trail, err = e.allocate(ctx, e.Store, req)
		if err != nil {
			// The prefix in trail did commit; record it before surfacing
			// the partial result.
			e.flushTrail(ctx, trail)
			return summary, err
		}
	}

	e.flushTrail(ctx, trail)
	e.recordSummary(ctx, req, summary)
	return summary, nil
}

func (e *AllocationEngine) validate(req AllocationRequest) error {
	if req.CustomerID == "" {
		return &ValidationError{Field: "customer_id", Reason: "required"}
	}
	if req.AdvanceID == "" {
		return &ValidationError{Field: "advance_id", Reason: "required"}
	}
	if req.Available.IsNegative() {
		return &ValidationError{Field: "available", Reason: "must not be negative"}
	}
	return nil
}

// allocate runs the single-pass distribution loop over s. It is the one
// definition of the algorithm; atomic and step-by-step execution differ only
// in the store they are handed. The returned trail holds the per-sale audit
// entries for the writes that went through; the caller decides whether they
// survive a rollback.
func (e *AllocationEngine) allocate(ctx context.Context, s Store, req AllocationRequest) (AllocationSummary, []AuditEntry, error) {
	remaining := req.Available
	summary := AllocationSummary{
		TotalApplied: decimal.Zero,
		Remainder:    remaining,
	}
	var trail []AuditEntry
	var firstFunded *SaleID

	for _, saleID := range req.SaleOrder {
		// No funds left: stop, don't keep scanning.
		if !remaining.IsPositive() {
			break
		}

		// Re-fetch so the loop sees any concurrent settlement.
		sale, err := s.GetSale(ctx, saleID)
		if err != nil {
			if IsNotFound(err) {
				// Tolerates stale UI state.
				e.Log.Warn().Str("sale", string(saleID)).Msg("skipping unknown sale in allocation order")
				continue
			}
			summary.Remainder = remaining
			return summary, trail, &PartialApplicationError{Applied: summary, FailedSale: saleID, Cause: err}
		}

		// Defensive filters: wrong owner or already settled entries are
		// skipped, never abort the batch.
		if sale.CustomerID != req.CustomerID {
			e.Log.Warn().
				Str("sale", string(saleID)).
				Str("customer", string(req.CustomerID)).
				Msg("skipping sale owned by another customer")
			continue
		}
		if !sale.InDebt() {
			continue
		}

		applied := decimal.Min(sale.OutstandingBalance, remaining)
		if !applied.IsPositive() {
			break
		}
		newOutstanding := sale.OutstandingBalance.Sub(applied)

		patch := SettlementPatch{
			AdvanceTotal:       sale.AdvanceTotal.Add(applied),
			OutstandingBalance: newOutstanding,
			State:              SettlementPending,
			Finalized:          false,
		}
		if !newOutstanding.IsPositive() {
			patch.State = SettlementComplete
			patch.Finalized = true
		}

		if _, err := s.UpdateSaleSettlement(ctx, saleID, patch); err != nil {
			// A timeout here is "uncertain": report the confirmed prefix and
			// stop. No speculative continuation.
			summary.Remainder = remaining
			return summary, trail, &PartialApplicationError{Applied: summary, FailedSale: saleID, Cause: err}
		}

		trail = append(trail, paymentEntry(req, saleID, applied, patch.Finalized))

		summary.SaleCount++
		if patch.Finalized {
			summary.CompletedCount++
		} else {
			summary.PartialCount++
		}
		summary.TotalApplied = summary.TotalApplied.Add(applied)
		remaining = remaining.Sub(applied)
		if firstFunded == nil {
			id := saleID
			firstFunded = &id
		}
	}

	summary.Remainder = remaining

	// Freeze the advance in the same sequence that consumed it. The
	// remainder stays unconsumed in the customer's balance; no synthetic
	// advance is created for it.
	if summary.TotalApplied.IsPositive() && firstFunded != nil {
		if err := s.MarkAdvanceConsumed(ctx, req.AdvanceID, *firstFunded); err != nil {
			return summary, trail, &PartialApplicationError{Applied: summary, FailedSale: *firstFunded, Cause: err}
		}
	}

	return summary, trail, nil
}

// paymentEntry builds the per-sale audit entry for one applied amount.
func paymentEntry(req AllocationRequest, saleID SaleID, applied decimal.Decimal, finalized bool) AuditEntry {
	state := "pago parcial"
	if finalized {
		state = "venta cancelada"
	}
	return AuditEntry{
		ID:          uuid.NewString(),
		At:          time.Now(),
		CustomerID:  req.CustomerID,
		Category:    AuditDebtPayment,
		Description: fmt.Sprintf("Anticipo aplicado: S/ %s a venta %s (%s)", applied, saleID, state),
		Actor:       req.Actor,
		EntityID:    string(saleID),
		EntityKind:  "sale",
	}
}

// flushTrail appends buffered audit entries. Append failures are logged and
// swallowed; the trail never fails the settlement.
func (e *AllocationEngine) flushTrail(ctx context.Context, trail []AuditEntry) {
	for _, entry := range trail {
		if err := e.Audit.Append(ctx, entry); err != nil {
			e.Log.Warn().Err(err).Str("entity", entry.EntityID).Msg("audit append failed for debt payment")
		}
	}
}

// recordSummary appends the one-per-run summary entry when anything applied.
func (e *AllocationEngine) recordSummary(ctx context.Context, req AllocationRequest, summary AllocationSummary) {
	if !summary.TotalApplied.IsPositive() {
		return
	}
	entry := AuditEntry{
		ID:         uuid.NewString(),
		At:         time.Now(),
		CustomerID: req.CustomerID,
		Category:   AuditAllocationSummary,
		Description: fmt.Sprintf("Amortización de deudas: S/ %s aplicado a %d venta(s), %d cancelada(s), %d parcial(es)",
			summary.TotalApplied, summary.SaleCount, summary.CompletedCount, summary.PartialCount),
		Actor:      req.Actor,
		EntityID:   string(req.AdvanceID),
		EntityKind: "allocation",
	}
	if err := e.Audit.Append(ctx, entry); err != nil {
		e.Log.Warn().Err(err).Str("advance", string(req.AdvanceID)).Msg("audit append failed for allocation summary")
	}
}
