/*
guard.go - Usage guard for advances

PURPOSE:

	Determines whether an advance has already been consumed and therefore
	must be treated as immutable. This enforces the single most important
	invariant in the subsystem: advances that have funded a transaction are
	frozen, preventing retroactive balance corruption.

HOW "USED" IS DECIDED:

	The Advance row carries an explicit Status set transactionally at first
	use (reserved at deposit-at-purchase creation, consumed by the allocation
	engine). The guard reads Status only; it never infers usage from a join
	against sales.

CONTRACT:

	Every edit or delete of an advance MUST call CheckEditable first and
	surface the PreconditionError to the caller when the advance is used.
*/
package ledger

import "context"

// UsageGuard answers whether an advance is frozen.
type UsageGuard struct {
	Store Store
}

// IsUsed reports whether the advance has been attached to a sale or applied
// to a debt.
func (g *UsageGuard) IsUsed(ctx context.Context, id AdvanceID) (bool, error) {
	adv, err := g.Store.GetAdvance(ctx, id)
	if err != nil {
		return false, err
	}
	return adv.Used(), nil
}

// CheckEditable returns nil if the advance may be edited or deleted, a
// PreconditionError if it is used, or the store's error otherwise.
func (g *UsageGuard) CheckEditable(ctx context.Context, id AdvanceID) error {
	adv, err := g.Store.GetAdvance(ctx, id)
	if err != nil {
		return err
	}
	if adv.Used() {
		return &PreconditionError{AdvanceID: id, Status: adv.Status}
	}
	return nil
}
