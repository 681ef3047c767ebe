// Package snapshot produces the immutable intake snapshot every pipeline run
// is anchored on. The snapshot is a deep copy of the submitted intake plus a
// canonical content hash, taken strictly before any external call.
package snapshot

import (
	"errors"
	"time"

	"github.com/docugen-labs/docugen/pkg/canonicalize"
	"github.com/docugen-labs/docugen/pkg/contracts"
)

// ErrEmptyIntake is returned when there is nothing to snapshot.
var ErrEmptyIntake = errors.New("snapshot: intake data is empty")

// Service creates intake snapshots. The clock is injectable for tests.
type Service struct {
	clock func() time.Time
}

// NewService returns a snapshot service using the wall clock.
func NewService() *Service {
	return &Service{clock: time.Now}
}

// WithClock overrides the clock for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Take deep-copies intake, stamps it, and computes its canonical hash. The
// returned snapshot must never be mutated by callers; the hash is what makes
// tampering evident.
func (s *Service) Take(intake map[string]any) (*contracts.IntakeSnapshot, error) {
	if len(intake) == 0 {
		return nil, ErrEmptyIntake
	}

	data := deepCopyMap(intake)
	hash, err := canonicalize.CanonicalHash(data)
	if err != nil {
		return nil, err
	}

	return &contracts.IntakeSnapshot{
		Data:      data,
		Hash:      hash,
		CreatedAt: s.clock().UTC(),
	}, nil
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = deepCopyValue(e)
		}
		return cp
	default:
		// Scalars (string, bool, numbers, nil) are immutable as stored.
		return v
	}
}
