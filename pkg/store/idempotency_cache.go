package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docugen-labs/docugen/pkg/contracts"
)

// IdempotencyCache is a read-through Redis cache in front of the execution
// ledger lookup. Only terminal-success records are cached: FAILED records
// may be superseded by a forced retry, so they always go to the ledger.
//
// The cache is an optimization, never an authority: a miss or a Redis
// outage degrades to the SQL lookup.
type IdempotencyCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyCache creates a cache with the given TTL.
func NewIdempotencyCache(client *redis.Client, ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{client: client, ttl: ttl}
}

func cacheKey(idempotencyKey string) string {
	return "docugen:idem:" + idempotencyKey
}

// Get returns the cached record for the key, or (nil, false) on miss or
// cache error.
func (c *IdempotencyCache) Get(ctx context.Context, idempotencyKey string) (*contracts.ExecutionRecord, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, cacheKey(idempotencyKey)).Bytes()
	if err != nil {
		return nil, false
	}
	var rec contracts.ExecutionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

// Put caches a terminal-success record. Best effort; errors are returned for
// logging but callers must not fail the run on them.
func (c *IdempotencyCache) Put(ctx context.Context, rec *contracts.ExecutionRecord) error {
	if c == nil || c.client == nil {
		return nil
	}
	if rec.Status != contracts.StatusReviewPending && rec.Status != contracts.StatusComplete {
		return errors.New("store: only terminal-success records are cacheable")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal cached execution: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(rec.IdempotencyKey), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("store: cache execution: %w", err)
	}
	return nil
}
