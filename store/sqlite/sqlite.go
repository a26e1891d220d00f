/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:

	Implements ledger.Store, ledger.TxStore, and ledger.AuditLog using SQLite.
	In production, the same patterns apply to PostgreSQL - only minor SQL
	dialect differences.

KEY TABLES:

	advances:   Customer credits with explicit usage status
	sales:      Completed transactions with settlement state
	sale_items: Purchased lines (for movement history descriptions)
	audit_log:  Append-only trail of mutations

WRITE-TIME GUARD:

	UpdateSaleSettlement rejects an advance_total above the sale's net total.
	Over-application is a write-time error here; the balance calculator's
	read-side clamp only matters for rows created before this guard.

TRANSACTIONS:

	WithTx runs a function over a Store view bound to one sql.Tx. The
	allocation engine uses it so a multi-sale settlement sequence (including
	the advance consumption mark) commits or rolls back as a unit.

CONCURRENCY:

	Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
	database-level concurrency control handles this instead.

WAL MODE:

	SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
	- Multiple readers don't block
	- Single writer at a time
	- Better crash recovery

USAGE:

	store, err := sqlite.New("./data/tienda.db")
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

MIGRATION:

	Schema is auto-migrated on New(). For production, use a proper
	migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gustavox27/PuntoDeVenta-HilosAncestralesv2-sub000/ledger"
)

// Store implements ledger.TxStore and ledger.AuditLog using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx is the subset of sql.DB / sql.Tx the queries run over.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Advances (customer credits, "anticipos")
	CREATE TABLE IF NOT EXISTS advances (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		sale_id TEXT,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'available',
		notes TEXT,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_advances_customer
		ON advances(customer_id);
	CREATE INDEX IF NOT EXISTS idx_advances_sale
		ON advances(sale_id) WHERE sale_id IS NOT NULL;

	-- Sales (completed transactions with settlement state)
	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		total TEXT NOT NULL,
		discount_total TEXT NOT NULL,
		advance_total TEXT NOT NULL,
		outstanding TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'pending',
		finalized INTEGER NOT NULL DEFAULT 0,
		sold_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_customer
		ON sales(customer_id);
	-- Debt listing (hot path for the allocation UI)
	CREATE INDEX IF NOT EXISTS idx_sales_customer_state
		ON sales(customer_id, state, finalized);

	-- Sale items (for movement history descriptions)
	CREATE TABLE IF NOT EXISTS sale_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		product_name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sale_items_sale
		ON sale_items(sale_id);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL,
		actor TEXT,
		entity_id TEXT,
		entity_kind TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_customer
		ON audit_log(customer_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ADVANCES
// =============================================================================

const advanceColumns = "id, customer_id, sale_id, amount, method, status, notes, recorded_at"

func (s *Store) ListAdvancesByCustomer(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Advance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAdvances(ctx, s.db,
		"SELECT "+advanceColumns+" FROM advances WHERE customer_id = ? ORDER BY recorded_at, id",
		string(customerID))
}

func (s *Store) GetAdvance(ctx context.Context, id ledger.AdvanceID) (*ledger.Advance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAdvance(ctx, s.db, id)
}

func (s *Store) SaveAdvance(ctx context.Context, adv ledger.Advance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveAdvance(ctx, s.db, adv)
}

func (s *Store) UpdateAdvance(ctx context.Context, id ledger.AdvanceID, patch ledger.AdvancePatch) (*ledger.Advance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateAdvance(ctx, s.db, id, patch)
}

func (s *Store) DeleteAdvance(ctx context.Context, id ledger.AdvanceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM advances WHERE id = ?", string(id))
	if err != nil {
		return &ledger.StoreError{Op: "delete advance", Cause: err}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ledger.ErrAdvanceNotFound
	}
	return nil
}

func (s *Store) MarkAdvanceConsumed(ctx context.Context, id ledger.AdvanceID, saleID ledger.SaleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markAdvanceConsumed(ctx, s.db, id, saleID)
}

func saveAdvance(ctx context.Context, q dbtx, adv ledger.Advance) error {
	var saleID any
	if adv.SaleID != nil {
		saleID = string(*adv.SaleID)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO advances (id, customer_id, sale_id, amount, method, status, notes, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(adv.ID), string(adv.CustomerID), saleID,
		adv.Amount.String(), string(adv.Method), string(adv.Status),
		adv.Notes, adv.RecordedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &ledger.StoreError{Op: "save advance", Cause: err}
	}
	return nil
}

func getAdvance(ctx context.Context, q dbtx, id ledger.AdvanceID) (*ledger.Advance, error) {
	advances, err := queryAdvances(ctx, q,
		"SELECT "+advanceColumns+" FROM advances WHERE id = ?", string(id))
	if err != nil {
		return nil, err
	}
	if len(advances) == 0 {
		return nil, ledger.ErrAdvanceNotFound
	}
	adv := advances[0]
	return &adv, nil
}

func updateAdvance(ctx context.Context, q dbtx, id ledger.AdvanceID, patch ledger.AdvancePatch) (*ledger.Advance, error) {
	adv, err := getAdvance(ctx, q, id)
	if err != nil {
		return nil, err
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

	_, err = q.ExecContext(ctx,
		"UPDATE advances SET amount = ?, method = ?, notes = ? WHERE id = ?",
		adv.Amount.String(), string(adv.Method), adv.Notes, string(id))
	if err != nil {
		return nil, &ledger.StoreError{Op: "update advance", Cause: err}
	}
	return adv, nil
}

func markAdvanceConsumed(ctx context.Context, q dbtx, id ledger.AdvanceID, saleID ledger.SaleID) error {
	res, err := q.ExecContext(ctx,
		"UPDATE advances SET status = ?, sale_id = COALESCE(sale_id, ?) WHERE id = ?",
		string(ledger.AdvanceConsumed), string(saleID), string(id))
	if err != nil {
		return &ledger.StoreError{Op: "mark advance consumed", Cause: err}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ledger.ErrAdvanceNotFound
	}
	return nil
}

func queryAdvances(ctx context.Context, q dbtx, query string, args ...any) ([]ledger.Advance, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ledger.StoreError{Op: "query advances", Cause: err}
	}
	defer rows.Close()

	var out []ledger.Advance
	for rows.Next() {
		var (
			adv        ledger.Advance
			saleID     sql.NullString
			amount     string
			notes      sql.NullString
			recordedAt string
		)
		if err := rows.Scan(&adv.ID, &adv.CustomerID, &saleID, &amount, &adv.Method, &adv.Status, &notes, &recordedAt); err != nil {
			return nil, &ledger.StoreError{Op: "scan advance", Cause: err}
		}
		if saleID.Valid {
			sid := ledger.SaleID(saleID.String)
			adv.SaleID = &sid
		}
		adv.Amount = ledger.MustParseDecimal(amount)
		adv.Notes = notes.String
		adv.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		out = append(out, adv)
	}
	return out, rows.Err()
}

// =============================================================================
// SALES
// =============================================================================

const saleColumns = "id, customer_id, total, discount_total, advance_total, outstanding, state, finalized, sold_at"

func (s *Store) ListSalesByCustomer(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return querySales(ctx, s.db,
		"SELECT "+saleColumns+" FROM sales WHERE customer_id = ? ORDER BY sold_at, id",
		string(customerID))
}

// ListDebtSales returns sales with outstanding balance. SQLite compares the
// decimal TEXT column lexically, so the positive-balance filter happens in
// Go after the state filter narrows the rows.
func (s *Store) ListDebtSales(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales, err := querySales(ctx, s.db,
		"SELECT "+saleColumns+" FROM sales WHERE customer_id = ? AND state != ? AND finalized = 0 ORDER BY sold_at, id",
		string(customerID), string(ledger.SettlementComplete))
	if err != nil {
		return nil, err
	}

	debts := sales[:0]
	for _, sale := range sales {
		if sale.InDebt() {
			debts = append(debts, sale)
		}
	}
	return debts, nil
}

func (s *Store) GetSale(ctx context.Context, id ledger.SaleID) (*ledger.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSale(ctx, s.db, id)
}

func (s *Store) SaveSale(ctx context.Context, sale ledger.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveSale(ctx, s.db, sale)
}

func (s *Store) UpdateSaleSettlement(ctx context.Context, id ledger.SaleID, patch ledger.SettlementPatch) (*ledger.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateSaleSettlement(ctx, s.db, id, patch)
}

func saveSale(ctx context.Context, q dbtx, sale ledger.Sale) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sales (id, customer_id, total, discount_total, advance_total, outstanding, state, finalized, sold_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(sale.ID), string(sale.CustomerID),
		sale.Total.String(), sale.DiscountTotal.String(),
		sale.AdvanceTotal.String(), sale.OutstandingBalance.String(),
		string(sale.State), boolToInt(sale.Finalized),
		sale.SoldAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &ledger.StoreError{Op: "save sale", Cause: err}
	}

	for _, item := range sale.Items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_name, quantity, unit_price)
			VALUES (?, ?, ?, ?)`,
			string(sale.ID), item.ProductName, item.Quantity, item.UnitPrice.String())
		if err != nil {
			return &ledger.StoreError{Op: "save sale item", Cause: err}
		}
	}
	return nil
}

func getSale(ctx context.Context, q dbtx, id ledger.SaleID) (*ledger.Sale, error) {
	sales, err := querySales(ctx, q,
		"SELECT "+saleColumns+" FROM sales WHERE id = ?", string(id))
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, ledger.ErrSaleNotFound
	}
	sale := sales[0]
	return &sale, nil
}

func updateSaleSettlement(ctx context.Context, q dbtx, id ledger.SaleID, patch ledger.SettlementPatch) (*ledger.Sale, error) {
	sale, err := getSale(ctx, q, id)
	if err != nil {
		return nil, err
	}

	// Write-time guard: a sale never absorbs more than its net total.
	if patch.AdvanceTotal.GreaterThan(sale.NetTotal()) {
		return nil, &ledger.ValidationError{
			Field:  "advance_total",
			Reason: "exceeds net sale total",
		}
	}

	_, err = q.ExecContext(ctx,
		"UPDATE sales SET advance_total = ?, outstanding = ?, state = ?, finalized = ? WHERE id = ?",
		patch.AdvanceTotal.String(), patch.OutstandingBalance.String(),
		string(patch.State), boolToInt(patch.Finalized), string(id))
	if err != nil {
		return nil, &ledger.StoreError{Op: "update sale settlement", Cause: err}
	}

	sale.AdvanceTotal = patch.AdvanceTotal
	sale.OutstandingBalance = patch.OutstandingBalance
	sale.State = patch.State
	sale.Finalized = patch.Finalized
	return sale, nil
}

func querySales(ctx context.Context, q dbtx, query string, args ...any) ([]ledger.Sale, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ledger.StoreError{Op: "query sales", Cause: err}
	}

	var out []ledger.Sale
	for rows.Next() {
		var (
			sale                                   ledger.Sale
			total, discount, advances, outstanding string
			finalized                              int
			soldAt                                 string
		)
		if err := rows.Scan(&sale.ID, &sale.CustomerID, &total, &discount, &advances, &outstanding, &sale.State, &finalized, &soldAt); err != nil {
			rows.Close()
			return nil, &ledger.StoreError{Op: "scan sale", Cause: err}
		}
		sale.Total = ledger.MustParseDecimal(total)
		sale.DiscountTotal = ledger.MustParseDecimal(discount)
		sale.AdvanceTotal = ledger.MustParseDecimal(advances)
		sale.OutstandingBalance = ledger.MustParseDecimal(outstanding)
		sale.Finalized = finalized != 0
		sale.SoldAt, _ = time.Parse(time.RFC3339Nano, soldAt)
		out = append(out, sale)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, &ledger.StoreError{Op: "query sales", Cause: err}
	}
	rows.Close()

	// Items loaded per sale; sale lists here are small (one customer).
	for i := range out {
		items, err := querySaleItems(ctx, q, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

func querySaleItems(ctx context.Context, q dbtx, saleID ledger.SaleID) ([]ledger.SaleItem, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT product_name, quantity, unit_price FROM sale_items WHERE sale_id = ? ORDER BY id",
		string(saleID))
	if err != nil {
		return nil, &ledger.StoreError{Op: "query sale items", Cause: err}
	}
	defer rows.Close()

	var items []ledger.SaleItem
	for rows.Next() {
		var (
			item  ledger.SaleItem
			price string
		)
		if err := rows.Scan(&item.ProductName, &item.Quantity, &price); err != nil {
			return nil, &ledger.StoreError{Op: "scan sale item", Cause: err}
		}
		item.UnitPrice = ledger.MustParseDecimal(price)
		items = append(items, item)
	}
	return items, rows.Err()
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) Append(ctx context.Context, entry ledger.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, customer_id, category, description, actor, entity_id, entity_kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.CustomerID), string(entry.Category),
		entry.Description, entry.Actor, entry.EntityID, entry.EntityKind,
		entry.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &ledger.StoreError{Op: "append audit entry", Cause: err}
	}
	return nil
}

func (s *Store) ListByCustomer(ctx context.Context, customerID ledger.CustomerID) ([]ledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, category, description, actor, entity_id, entity_kind, created_at
		FROM audit_log WHERE customer_id = ? ORDER BY created_at DESC`,
		string(customerID))
	if err != nil {
		return nil, &ledger.StoreError{Op: "query audit log", Cause: err}
	}
	defer rows.Close()

	var out []ledger.AuditEntry
	for rows.Next() {
		var (
			entry     ledger.AuditEntry
			actor     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.CustomerID, &entry.Category, &entry.Description, &actor, &entry.EntityID, &entry.EntityKind, &createdAt); err != nil {
			return nil, &ledger.StoreError{Op: "scan audit entry", Cause: err}
		}
		entry.Actor = actor.String
		entry.At, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &ledger.StoreError{Op: "begin transaction", Cause: err}
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return &ledger.StoreError{Op: "commit transaction", Cause: err}
	}
	return nil
}

// txStore is the Store view bound to one transaction. All queries go through
// the shared helpers, so the behavior matches the top-level Store exactly.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) ListAdvancesByCustomer(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Advance, error) {
	return queryAdvances(ctx, ts.tx,
		"SELECT "+advanceColumns+" FROM advances WHERE customer_id = ? ORDER BY recorded_at, id",
		string(customerID))
}

func (ts *txStore) GetAdvance(ctx context.Context, id ledger.AdvanceID) (*ledger.Advance, error) {
	return getAdvance(ctx, ts.tx, id)
}

func (ts *txStore) SaveAdvance(ctx context.Context, adv ledger.Advance) error {
	return saveAdvance(ctx, ts.tx, adv)
}

func (ts *txStore) UpdateAdvance(ctx context.Context, id ledger.AdvanceID, patch ledger.AdvancePatch) (*ledger.Advance, error) {
	return updateAdvance(ctx, ts.tx, id, patch)
}

func (ts *txStore) DeleteAdvance(ctx context.Context, id ledger.AdvanceID) error {
	res, err := ts.tx.ExecContext(ctx, "DELETE FROM advances WHERE id = ?", string(id))
	if err != nil {
		return &ledger.StoreError{Op: "delete advance", Cause: err}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ledger.ErrAdvanceNotFound
	}
	return nil
}

func (ts *txStore) MarkAdvanceConsumed(ctx context.Context, id ledger.AdvanceID, saleID ledger.SaleID) error {
	return markAdvanceConsumed(ctx, ts.tx, id, saleID)
}

func (ts *txStore) ListSalesByCustomer(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Sale, error) {
	return querySales(ctx, ts.tx,
		"SELECT "+saleColumns+" FROM sales WHERE customer_id = ? ORDER BY sold_at, id",
		string(customerID))
}

func (ts *txStore) ListDebtSales(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Sale, error) {
	sales, err := querySales(ctx, ts.tx,
		"SELECT "+saleColumns+" FROM sales WHERE customer_id = ? AND state != ? AND finalized = 0 ORDER BY sold_at, id",
		string(customerID), string(ledger.SettlementComplete))
	if err != nil {
		return nil, err
	}
	debts := sales[:0]
	for _, sale := range sales {
		if sale.InDebt() {
			debts = append(debts, sale)
		}
	}
	return debts, nil
}

func (ts *txStore) GetSale(ctx context.Context, id ledger.SaleID) (*ledger.Sale, error) {
	return getSale(ctx, ts.tx, id)
}

func (ts *txStore) SaveSale(ctx context.Context, sale ledger.Sale) error {
	return saveSale(ctx, ts.tx, sale)
}

func (ts *txStore) UpdateSaleSettlement(ctx context.Context, id ledger.SaleID, patch ledger.SettlementPatch) (*ledger.Sale, error) {
	return updateSaleSettlement(ctx, ts.tx, id, patch)
}

// =============================================================================
// HELPERS
// =============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Reset clears all data. Dev/test only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"sale_items", "sales", "advances", "audit_log"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return &ledger.StoreError{Op: "reset " + table, Cause: err}
		}
	}
	return nil
}
