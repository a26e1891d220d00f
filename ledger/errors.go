/*
errors.go - Centralized error types for the ledger

PURPOSE:

	All error types in one place for consistency and discoverability.

ERROR CATEGORIES:
 1. Validation errors - Bad input, never retried automatically
 2. Precondition errors - Attempt to mutate a used (frozen) advance
 3. Partial application - Allocation stopped partway; carries the summary
 4. Store errors - Transient persistence failures, retryable for reads

USAGE:

	switch {
	case errors.Is(err, ledger.ErrAdvanceUsed):
	    // 409 to the caller
	case ledger.IsNotFound(err):
	    // 404
	}

SEE ALSO:
  - guard.go: Produces PreconditionError
  - allocation.go: Produces PartialApplicationError
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAdvanceNotFound is returned when a referenced advance doesn't exist.
	ErrAdvanceNotFound = errors.New("advance not found")

	// ErrSaleNotFound is returned when a referenced sale doesn't exist.
	ErrSaleNotFound = errors.New("sale not found")

	// ErrAdvanceUsed is returned on any attempt to edit or delete an advance
	// that has already funded a purchase or debt settlement. Once an advance
	// has funded a transaction it is frozen.
	ErrAdvanceUsed = errors.New("advance already applied to a purchase or debt")

	// ErrStoreUnavailable wraps transient persistence failures. Reads are
	// safe to retry; writes must re-derive current state first.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports invalid caller input: non-positive amount, empty
// sale list, sale not belonging to the customer. Never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// PreconditionError reports an attempted mutation of a used advance.
// The caller must not retry without changing the request.
type PreconditionError struct {
	AdvanceID AdvanceID
	Status    AdvanceStatus
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("advance %s is %s: %v", e.AdvanceID, e.Status, ErrAdvanceUsed)
}

func (e *PreconditionError) Unwrap() error {
	return ErrAdvanceUsed
}

// PartialApplicationError reports that the allocation sequence failed partway
// through. Applied contains the counts and amounts already committed, so a
// human can decide whether to retry with the remaining unsettled sales.
type PartialApplicationError struct {
	Applied    AllocationSummary
	FailedSale SaleID
	Cause      error
}

func (e *PartialApplicationError) Error() string {
	return fmt.Sprintf("allocation stopped at sale %s after applying %s to %d sale(s): %v",
		e.FailedSale, e.Applied.TotalApplied, e.Applied.SaleCount, e.Cause)
}

func (e *PartialApplicationError) Unwrap() error {
	return e.Cause
}

// StoreError wraps a low-level persistence failure with the operation name.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrStoreUnavailable, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return ErrStoreUnavailable
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrAdvanceUsed)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAdvanceNotFound) || errors.Is(err, ErrSaleNotFound)
}

// IsRetryable returns true if the error might succeed on retry. Only read
// operations should be retried blindly.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
