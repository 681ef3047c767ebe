// Package ledger keeps a tamper-evident trail of pipeline run outcomes.
// Entries are hash-chained to their predecessor and append-only; a verifier
// can detect any rewrite of history. This complements the execution store:
// the store answers "what happened on this run", the ledger proves nothing
// was edited afterwards.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/docugen-labs/docugen/pkg/canonicalize"
)

// EventType categorizes run ledger entries.
type EventType string

const (
	EventRunSucceeded EventType = "RUN_SUCCEEDED"
	EventRunFailed    EventType = "RUN_FAILED"
	EventRunShortCut  EventType = "RUN_SHORT_CIRCUITED"
)

// genesisHash seeds the chain before the first entry.
const genesisHash = "genesis"

// Entry is one immutable, hash-chained run event.
type Entry struct {
	Sequence    uint64         `json:"sequence"`
	Event       EventType      `json:"event"`
	OrderID     string         `json:"order_id"`
	ExecutionID string         `json:"execution_id"`
	ContentHash string         `json:"content_hash"`
	PrevHash    string         `json:"prev_hash"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}

// RunLedger is an append-only, hash-chained log of run outcomes.
type RunLedger struct {
	mu       sync.RWMutex
	entries  []Entry
	headHash string
	clock    func() time.Time
}

// NewRunLedger creates an empty ledger.
func NewRunLedger() *RunLedger {
	return &RunLedger{headHash: genesisHash, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (l *RunLedger) WithClock(clock func() time.Time) *RunLedger {
	l.clock = clock
	return l
}

// Append adds a run event and returns its sequence number. Safe for nil
// receivers so callers can run without a ledger wired.
func (l *RunLedger) Append(event EventType, orderID, executionID string, data map[string]any) (uint64, error) {
	if l == nil {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.entries)) + 1
	contentHash, err := entryHash(seq, event, orderID, executionID, data, l.headHash)
	if err != nil {
		return 0, err
	}

	l.entries = append(l.entries, Entry{
		Sequence:    seq,
		Event:       event,
		OrderID:     orderID,
		ExecutionID: executionID,
		ContentHash: contentHash,
		PrevHash:    l.headHash,
		Timestamp:   l.clock().UTC(),
		Data:        data,
	})
	l.headHash = contentHash
	return seq, nil
}

// Entries returns a copy of the chain, oldest first.
func (l *RunLedger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Head returns the current head hash.
func (l *RunLedger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Verify walks the chain and recomputes every hash. Returns false with a
// reason on the first break.
func (l *RunLedger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := genesisHash
	for i, e := range l.entries {
		if e.PrevHash != prev {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prev, e.PrevHash)
		}
		computed, err := entryHash(e.Sequence, e.Event, e.OrderID, e.ExecutionID, e.Data, e.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("entry %d not hashable: %v", i+1, err)
		}
		if computed != e.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prev = e.ContentHash
	}
	return true, "chain verified"
}

// entryHash covers everything except the timestamp, which is advisory.
// Canonical JSON keeps the hash independent of map iteration order.
func entryHash(seq uint64, event EventType, orderID, executionID string, data map[string]any, prevHash string) (string, error) {
	return canonicalize.CanonicalHash(map[string]any{
		"seq":          seq,
		"event":        string(event),
		"order_id":     orderID,
		"execution_id": executionID,
		"data":         data,
		"prev":         prevHash,
	})
}
