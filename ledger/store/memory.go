// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/gustavox27/PuntoDeVenta-HilosAncestralesv2-sub000/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.Store and ledger.AuditLog. It deliberately does
// NOT implement ledger.TxStore, so it exercises the step-by-step allocation
// path in tests.
type Memory struct {
	mu       sync.RWMutex
	advances map[ledger.AdvanceID]ledger.Advance
	sales    map[ledger.SaleID]ledger.Sale
	audit    []ledger.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		advances: make(map[ledger.AdvanceID]ledger.Advance),
		sales:    make(map[ledger.SaleID]ledger.Sale),
	}
}

// =============================================================================
// ADVANCES
// =============================================================================

func (m *Memory) ListAdvancesByCustomer(_ context.Context, customerID ledger.CustomerID) ([]ledger.Advance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Advance
	for _, adv := range m.advances {
		if adv.CustomerID == customerID {
			out = append(out, copyAdvance(adv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

func (m *Memory) GetAdvance(_ context.Context, id ledger.AdvanceID) (*ledger.Advance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	adv, ok := m.advances[id]
	if !ok {
		return nil, ledger.ErrAdvanceNotFound
	}
	c := copyAdvance(adv)
	return &c, nil
}

func (m *Memory) SaveAdvance(_ context.Context, adv ledger.Advance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advances[adv.ID] = copyAdvance(adv)
	return nil
}

func (m *Memory) UpdateAdvance(_ context.Context, id ledger.AdvanceID, patch ledger.AdvancePatch) (*ledger.Advance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	adv, ok := m.advances[id]
	if !ok {
		return nil, ledger.ErrAdvanceNotFound
	}
	if patch.Amount != nil {
		adv.Amount = *patch.Amount
	}
	if patch.Method != nil {
		adv.Method = *patch.Method
	}
	if patch.Notes != nil {
		adv.Notes = *patch.Notes
	}
	m.advances[id] = adv
	c := copyAdvance(adv)
	return &c, nil
}

func (m *Memory) DeleteAdvance(_ context.Context, id ledger.AdvanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.advances[id]; !ok {
		return ledger.ErrAdvanceNotFound
	}
	delete(m.advances, id)
	return nil
}

func (m *Memory) MarkAdvanceConsumed(_ context.Context, id ledger.AdvanceID, saleID ledger.SaleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	adv, ok := m.advances[id]
	if !ok {
		return ledger.ErrAdvanceNotFound
	}
	adv.Status = ledger.AdvanceConsumed
	if adv.SaleID == nil {
		sid := saleID
		adv.SaleID = &sid
	}
	m.advances[id] = adv
	return nil
}

// =============================================================================
// SALES
// =============================================================================

func (m *Memory) ListSalesByCustomer(_ context.Context, customerID ledger.CustomerID) ([]ledger.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSalesLocked(customerID, false), nil
}

func (m *Memory) ListDebtSales(_ context.Context, customerID ledger.CustomerID) ([]ledger.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSalesLocked(customerID, true), nil
}

func (m *Memory) listSalesLocked(customerID ledger.CustomerID, debtOnly bool) []ledger.Sale {
	var out []ledger.Sale
	for _, sale := range m.sales {
		if sale.CustomerID != customerID {
			continue
		}
		if debtOnly && (!sale.InDebt() || sale.State == ledger.SettlementComplete) {
			continue
		}
		out = append(out, copySale(sale))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SoldAt.Equal(out[j].SoldAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SoldAt.Before(out[j].SoldAt)
	})
	return out
}

func (m *Memory) GetSale(_ context.Context, id ledger.SaleID) (*ledger.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sale, ok := m.sales[id]
	if !ok {
		return nil, ledger.ErrSaleNotFound
	}
	c := copySale(sale)
	return &c, nil
}

func (m *Memory) SaveSale(_ context.Context, sale ledger.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales[sale.ID] = copySale(sale)
	return nil
}

func (m *Memory) UpdateSaleSettlement(_ context.Context, id ledger.SaleID, patch ledger.SettlementPatch) (*ledger.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sale, ok := m.sales[id]
	if !ok {
		return nil, ledger.ErrSaleNotFound
	}
	if patch.AdvanceTotal.GreaterThan(sale.NetTotal()) {
		return nil, &ledger.ValidationError{
			Field:  "advance_total",
			Reason: "exceeds net sale total",
		}
	}
	sale.AdvanceTotal = patch.AdvanceTotal
	sale.OutstandingBalance = patch.OutstandingBalance
	sale.State = patch.State
	sale.Finalized = patch.Finalized
	m.sales[id] = sale
	c := copySale(sale)
	return &c, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) Append(_ context.Context, entry ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) ListByCustomer(_ context.Context, customerID ledger.CustomerID) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.AuditEntry
	for _, e := range m.audit {
		if e.CustomerID == customerID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out, nil
}

// =============================================================================
// COPY HELPERS - Callers never share slices/pointers with the store
// =============================================================================

func copyAdvance(adv ledger.Advance) ledger.Advance {
	if adv.SaleID != nil {
		sid := *adv.SaleID
		adv.SaleID = &sid
	}
	return adv
}

func copySale(sale ledger.Sale) ledger.Sale {
	items := make([]ledger.SaleItem, len(sale.Items))
	copy(items, sale.Items)
	sale.Items = items
	return sale
}
