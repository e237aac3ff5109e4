package persona

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu      sync.Mutex
	current Parameters
	changes []Change
	now     func() time.Time
}

// NewMemory returns an in-memory Store seeded with Default().
func NewMemory() Store {
	return &memoryStore{current: Default(), now: time.Now}
}

func (s *memoryStore) Get(_ context.Context) (Parameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *memoryStore) Update(_ context.Context, next Parameters, reason ChangeReason) (Change, bool, error) {
	next = next.Clamp()
	s.mu.Lock()
	defer s.mu.Unlock()
	change, moved := diff(s.current, next, reason, s.now())
	s.current = next
	if !moved {
		return Change{}, false, nil
	}
	change.ID = uuid.NewString()
	s.changes = append(s.changes, change)
	return change, true, nil
}

func (s *memoryStore) Changes(_ context.Context, limit int) ([]Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Change, len(s.changes))
	copy(out, s.changes)
	// Most recent first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
