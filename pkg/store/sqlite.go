package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docugen-labs/docugen/pkg/contracts"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (or creates) the engine database at path. Use ":memory:"
// for tests.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	return db, nil
}

// SQLiteOrderStore persists Order documents as JSON rows.
type SQLiteOrderStore struct {
	db *sql.DB
}

// NewSQLiteOrderStore creates the store and runs its migration.
func NewSQLiteOrderStore(db *sql.DB) (*SQLiteOrderStore, error) {
	s := &SQLiteOrderStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteOrderStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		doc_json JSON NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Seed inserts an order. Bootstrap/test helper; the engine itself never
// creates orders.
func (s *SQLiteOrderStore) Seed(ctx context.Context, order *contracts.Order) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("store: marshal order: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (order_id, doc_json, updated_at) VALUES (?, ?, ?)`,
		order.OrderID, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: seed order: %w", err)
	}
	return nil
}

// Find implements OrderStore.
func (s *SQLiteOrderStore) Find(ctx context.Context, orderID string) (*contracts.Order, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc_json FROM orders WHERE order_id = ?`, orderID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find order: %w", err)
	}
	var order contracts.Order
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return nil, fmt.Errorf("store: corrupt order document %s: %w", orderID, err)
	}
	return &order, nil
}

// Update implements OrderStore.
func (s *SQLiteOrderStore) Update(ctx context.Context, order *contracts.Order) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("store: marshal order: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET doc_json = ?, updated_at = ? WHERE order_id = ?`,
		string(raw), time.Now().UTC().Format(time.RFC3339Nano), order.OrderID)
	if err != nil {
		return fmt.Errorf("store: update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// SQLiteExecutionStore persists execution records. Uniqueness invariants are
// enforced by indexes, not by engine-side locking:
//   - (execution_id, status) unique: at most one FAILED row per execution id
//   - idempotency_key unique for terminal-success rows: closes the
//     lookup/write race between concurrent runs of the same logical request
type SQLiteExecutionStore struct {
	db *sql.DB
}

// NewSQLiteExecutionStore creates the store and runs its migration.
func NewSQLiteExecutionStore(db *sql.DB) (*SQLiteExecutionStore, error) {
	s := &SQLiteExecutionStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteExecutionStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			service_code TEXT NOT NULL,
			status TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			record_json JSON NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_exec_status
			ON executions(execution_id, status);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_idem_success
			ON executions(idempotency_key)
			WHERE status IN ('REVIEW_PENDING', 'COMPLETE');`,
		`CREATE INDEX IF NOT EXISTS idx_executions_idem
			ON executions(idempotency_key, created_at);`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(context.Background(), q); err != nil {
			return fmt.Errorf("store: migrate executions: %w", err)
		}
	}
	return nil
}

// Insert implements ExecutionStore.
func (s *SQLiteExecutionStore) Insert(ctx context.Context, rec *contracts.ExecutionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (execution_id, order_id, service_code, status, idempotency_key, record_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ExecutionID, rec.OrderID, rec.ServiceCode, string(rec.Status),
		rec.IdempotencyKey, string(raw), rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateExecution
		}
		return fmt.Errorf("store: insert execution: %w", err)
	}
	return nil
}

// FindLatestByIdempotencyKey implements ExecutionStore.
func (s *SQLiteExecutionStore) FindLatestByIdempotencyKey(ctx context.Context, key string) (*contracts.ExecutionRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT record_json FROM executions
		WHERE idempotency_key = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find execution: %w", err)
	}
	var rec contracts.ExecutionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("store: corrupt execution record: %w", err)
	}
	return &rec, nil
}

// UpsertFailed implements ExecutionStore.
func (s *SQLiteExecutionStore) UpsertFailed(ctx context.Context, rec *contracts.ExecutionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (execution_id, order_id, service_code, status, idempotency_key, record_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id, status) DO UPDATE SET
			record_json = excluded.record_json,
			idempotency_key = excluded.idempotency_key`,
		rec.ExecutionID, rec.OrderID, rec.ServiceCode, string(rec.Status),
		rec.IdempotencyKey, string(raw), rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: upsert failed execution: %w", err)
	}
	return nil
}

// FindFailedByExecutionID implements ExecutionStore.
func (s *SQLiteExecutionStore) FindFailedByExecutionID(ctx context.Context, executionID string) (*contracts.ExecutionRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT record_json FROM executions
		WHERE execution_id = ? AND status = 'FAILED'`, executionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find failed execution: %w", err)
	}
	var rec contracts.ExecutionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("store: corrupt execution record: %w", err)
	}
	return &rec, nil
}

// CountByExecutionID returns how many rows exist for an execution id.
// Audit/test helper.
func (s *SQLiteExecutionStore) CountByExecutionID(ctx context.Context, executionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM executions WHERE execution_id = ?`, executionID).Scan(&n)
	return n, err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
