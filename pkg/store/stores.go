// Package store defines the persistence boundary of the engine: the
// externally-owned Order documents and the append-mostly execution ledger.
//
// Required storage guarantee: the engine performs an idempotency lookup and,
// later, an execution write with no lock held in between. Implementations
// close that race with an atomic insert-if-absent: a unique constraint on
// the idempotency key for terminal-success rows, surfaced here as
// ErrDuplicateExecution.
package store

import (
	"context"
	"errors"

	"github.com/docugen-labs/docugen/pkg/contracts"
)

var (
	// ErrOrderNotFound means the order id resolves to nothing.
	ErrOrderNotFound = errors.New("store: order not found")

	// ErrExecutionNotFound means no record exists for the lookup key.
	ErrExecutionNotFound = errors.New("store: execution not found")

	// ErrDuplicateExecution means a terminal-success record already exists
	// for the idempotency key; the caller lost the write race.
	ErrDuplicateExecution = errors.New("store: execution already recorded for idempotency key")
)

// OrderStore reads and updates externally-owned Order documents. The engine
// never creates or deletes orders.
type OrderStore interface {
	Find(ctx context.Context, orderID string) (*contracts.Order, error)
	Update(ctx context.Context, order *contracts.Order) error
}

// ExecutionStore persists execution records.
type ExecutionStore interface {
	// Insert appends a successful record. Returns ErrDuplicateExecution if a
	// terminal-success record already holds the same idempotency key.
	Insert(ctx context.Context, rec *contracts.ExecutionRecord) error

	// FindLatestByIdempotencyKey returns the most recent record for the key,
	// or ErrExecutionNotFound.
	FindLatestByIdempotencyKey(ctx context.Context, key string) (*contracts.ExecutionRecord, error)

	// UpsertFailed writes the FAILED record for an execution id, inserting
	// on first call and replacing on repeats, so at most one FAILED row
	// exists per execution id.
	UpsertFailed(ctx context.Context, rec *contracts.ExecutionRecord) error

	// FindFailedByExecutionID returns the FAILED record for an execution id,
	// or ErrExecutionNotFound. Failure finalization uses this to stay
	// idempotent across caller retries.
	FindFailedByExecutionID(ctx context.Context, executionID string) (*contracts.ExecutionRecord, error)
}
