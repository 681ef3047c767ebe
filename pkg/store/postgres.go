package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/docugen-labs/docugen/pkg/contracts"
)

// uniqueViolation is the Postgres error code for unique constraint breaches.
const uniqueViolation = "23505"

// PostgresExecutionStore is the production execution ledger. The migration
// mirrors the SQLite indexes: a unique (execution_id, status) pair and a
// partial unique index on idempotency_key for terminal-success rows.
type PostgresExecutionStore struct {
	db *sql.DB
}

// NewPostgresExecutionStore creates the store and runs its migration.
func NewPostgresExecutionStore(db *sql.DB) (*PostgresExecutionStore, error) {
	s := &PostgresExecutionStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresExecutionStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			service_code TEXT NOT NULL,
			status TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			record_json JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_exec_status
			ON executions(execution_id, status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_idem_success
			ON executions(idempotency_key)
			WHERE status IN ('REVIEW_PENDING', 'COMPLETE')`,
		`CREATE INDEX IF NOT EXISTS idx_executions_idem
			ON executions(idempotency_key, created_at)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(context.Background(), q); err != nil {
			return fmt.Errorf("store: migrate executions: %w", err)
		}
	}
	return nil
}

// Insert implements ExecutionStore.
func (s *PostgresExecutionStore) Insert(ctx context.Context, rec *contracts.ExecutionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (execution_id, order_id, service_code, status, idempotency_key, record_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ExecutionID, rec.OrderID, rec.ServiceCode, string(rec.Status),
		rec.IdempotencyKey, string(raw), rec.CreatedAt.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateExecution
		}
		return fmt.Errorf("store: insert execution: %w", err)
	}
	return nil
}

// FindLatestByIdempotencyKey implements ExecutionStore.
func (s *PostgresExecutionStore) FindLatestByIdempotencyKey(ctx context.Context, key string) (*contracts.ExecutionRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT record_json FROM executions
		WHERE idempotency_key = $1
		ORDER BY created_at DESC
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

// FindFailedByExecutionID implements ExecutionStore.
func (s *PostgresExecutionStore) FindFailedByExecutionID(ctx context.Context, executionID string) (*contracts.ExecutionRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT record_json FROM executions
		WHERE execution_id = $1 AND status = 'FAILED'`, executionID).Scan(&raw)
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

// UpsertFailed implements ExecutionStore.
func (s *PostgresExecutionStore) UpsertFailed(ctx context.Context, rec *contracts.ExecutionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (execution_id, order_id, service_code, status, idempotency_key, record_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (execution_id, status) DO UPDATE SET
			record_json = EXCLUDED.record_json,
			idempotency_key = EXCLUDED.idempotency_key`,
		rec.ExecutionID, rec.OrderID, rec.ServiceCode, string(rec.Status),
		rec.IdempotencyKey, string(raw), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: upsert failed execution: %w", err)
	}
	return nil
}
