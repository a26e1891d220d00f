/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:

	Defines the JSON structures for API communication. These types decouple
	the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:

	All monetary amounts cross the wire as JSON strings and are parsed with
	shopspring/decimal, never float64. Binary floating point has no place in
	a ledger.

VALIDATION:

	Mutation request bodies carry validator/v10 struct tags; handlers run
	them through the shared validator before touching the store.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/gustavox27/PuntoDeVenta-HilosAncestralesv2-sub000/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateAdvanceRequest registers a customer credit. sale_id attaches the
// advance to a specific sale at creation (deposit-at-purchase).
type CreateAdvanceRequest struct {
	CustomerID string  `json:"customer_id" validate:"required"`
	SaleID     *string `json:"sale_id,omitempty"`
	Amount     string  `json:"amount" validate:"required"`
	Method     string  `json:"method" validate:"required,oneof=cash transfer card yape plin"`
	Notes      string  `json:"notes,omitempty"`
	Actor      string  `json:"actor" validate:"required"`
}

// UpdateAdvanceRequest patches an unused advance. Absent fields are left
// unchanged.
type UpdateAdvanceRequest struct {
	Amount *string `json:"amount,omitempty"`
	Method *string `json:"method,omitempty" validate:"omitempty,oneof=cash transfer card yape plin"`
	Notes  *string `json:"notes,omitempty"`
	Actor  string  `json:"actor" validate:"required"`
}

// SaleItemRequest is one purchased line.
type SaleItemRequest struct {
	ProductName string `json:"product_name" validate:"required"`
	Quantity    int    `json:"quantity" validate:"required,gt=0"`
	UnitPrice   string `json:"unit_price" validate:"required"`
}

// CreateSaleRequest registers a completed sale. advance_amount is the credit
// applied at sale time (may be "0" or absent).
type CreateSaleRequest struct {
	CustomerID    string            `json:"customer_id" validate:"required"`
	Items         []SaleItemRequest `json:"items" validate:"required,min=1,dive"`
	DiscountTotal string            `json:"discount_total,omitempty"`
	AdvanceAmount string            `json:"advance_amount,omitempty"`
	Actor         string            `json:"actor" validate:"required"`
}

// ApplyAllocationRequest applies available credit to debts in the given
// order. The UI lets a human reorder or deselect debts; the server never
// decides priority.
type ApplyAllocationRequest struct {
	AdvanceID string   `json:"advance_id" validate:"required"`
	Available string   `json:"available" validate:"required"`
	SaleOrder []string `json:"sale_order"`
	Actor     string   `json:"actor" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// AdvanceDTO represents an advance in API responses.
type AdvanceDTO struct {
	ID         string  `json:"id"`
	CustomerID string  `json:"customer_id"`
	SaleID     *string `json:"sale_id,omitempty"`
	Amount     string  `json:"amount"`
	Method     string  `json:"method"`
	Status     string  `json:"status"`
	Used       bool    `json:"used"`
	Notes      string  `json:"notes,omitempty"`
	RecordedAt string  `json:"recorded_at"`
}

// SaleDTO represents a sale with its settlement state.
type SaleDTO struct {
	ID                 string        `json:"id"`
	CustomerID         string        `json:"customer_id"`
	Total              string        `json:"total"`
	DiscountTotal      string        `json:"discount_total"`
	AdvanceTotal       string        `json:"advance_total"`
	OutstandingBalance string        `json:"outstanding_balance"`
	State              string        `json:"state"`
	Finalized          bool          `json:"finalized"`
	Items              []SaleItemDTO `json:"items,omitempty"`
	SoldAt             string        `json:"sold_at"`
}

type SaleItemDTO struct {
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
}

// BalanceDTO is the customer's credit position.
type BalanceDTO struct {
	CustomerID      string       `json:"customer_id"`
	TotalRegistered string       `json:"total_registered"`
	TotalConsumed   string       `json:"total_consumed"`
	Available       string       `json:"available"`
	OutstandingDebt string       `json:"outstanding_debt"`
	Advances        []AdvanceDTO `json:"advances"`
}

// AllocationResultDTO summarizes one allocation run. On partial failure the
// handler still returns these figures so a human can decide how to retry.
type AllocationResultDTO struct {
	SaleCount      int    `json:"sale_count"`
	CompletedCount int    `json:"completed_count"`
	PartialCount   int    `json:"partial_count"`
	TotalApplied   string `json:"total_applied"`
	Remainder      string `json:"remainder"`
	FailedSaleID   string `json:"failed_sale_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// MovementDTO is one derived ledger entry.
type MovementDTO struct {
	ID            string  `json:"id"`
	Direction     string  `json:"direction"`
	Kind          string  `json:"kind"`
	At            string  `json:"at"`
	Amount        string  `json:"amount"`
	Description   string  `json:"description"`
	RelatedSaleID *string `json:"related_sale_id,omitempty"`
	Locked        bool    `json:"locked"`
}

// HistoryDTO is the unified movement history with running totals.
type HistoryDTO struct {
	CustomerID       string        `json:"customer_id"`
	Movements        []MovementDTO `json:"movements"`
	TotalCredits     string        `json:"total_credits"`
	TotalDebits      string        `json:"total_debits"`
	AvailableBalance string        `json:"available_balance"`
	OutstandingDebt  string        `json:"outstanding_debt"`
}

// UsageDTO answers the usage-lock query for one advance.
type UsageDTO struct {
	AdvanceID string `json:"advance_id"`
	Used      bool   `json:"used"`
}

// AuditEntryDTO is one audit trail line.
type AuditEntryDTO struct {
	ID          string `json:"id"`
	At          string `json:"at"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Actor       string `json:"actor,omitempty"`
	EntityID    string `json:"entity_id,omitempty"`
	EntityKind  string `json:"entity_kind,omitempty"`
}

// =============================================================================
// DOMAIN -> DTO MAPPING
// =============================================================================

func toAdvanceDTO(adv ledger.Advance) AdvanceDTO {
	dto := AdvanceDTO{
		ID:         string(adv.ID),
		CustomerID: string(adv.CustomerID),
		Amount:     adv.Amount.String(),
		Method:     string(adv.Method),
		Status:     string(adv.Status),
		Used:       adv.Used(),
		Notes:      adv.Notes,
		RecordedAt: adv.RecordedAt.Format(time.RFC3339),
	}
	if adv.SaleID != nil {
		s := string(*adv.SaleID)
		dto.SaleID = &s
	}
	return dto
}

func toSaleDTO(sale ledger.Sale) SaleDTO {
	items := make([]SaleItemDTO, len(sale.Items))
	for i, it := range sale.Items {
		items[i] = SaleItemDTO{
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.String(),
		}
	}
	return SaleDTO{
		ID:                 string(sale.ID),
		CustomerID:         string(sale.CustomerID),
		Total:              sale.Total.String(),
		DiscountTotal:      sale.DiscountTotal.String(),
		AdvanceTotal:       sale.AdvanceTotal.String(),
		OutstandingBalance: sale.OutstandingBalance.String(),
		State:              string(sale.State),
		Finalized:          sale.Finalized,
		Items:              items,
		SoldAt:             sale.SoldAt.Format(time.RFC3339),
	}
}

func toMovementDTO(m ledger.Movement) MovementDTO {
	dto := MovementDTO{
		ID:          m.ID,
		Direction:   string(m.Direction),
		Kind:        string(m.Kind),
		At:          m.At.Format(time.RFC3339),
		Amount:      m.Amount.String(),
		Description: m.Description,
		Locked:      m.Locked,
	}
	if m.RelatedSaleID != nil {
		s := string(*m.RelatedSaleID)
		dto.RelatedSaleID = &s
	}
	return dto
}
