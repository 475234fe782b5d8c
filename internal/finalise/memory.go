package finalise

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"practicedesk.io/internal/document"
	"practicedesk.io/internal/policy"
)

// MemoryStore is an in-process Store and Lister. It is not atomic with any
// audit ledger, so a Machine over it runs the write-ahead protocol.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[document.Ref]document.Entity
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Lister = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[document.Ref]document.Entity)}
}

// Create inserts e after validating it. An existing ref is never replaced.
func (s *MemoryStore) Create(ctx context.Context, e document.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[e.Ref]; ok {
		return fmt.Errorf("finalise: create %s: %w", e.Ref, document.ErrExists)
	}
	s.docs[e.Ref] = e
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, ref document.Ref) (document.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[ref]
	if !ok {
		return document.Entity{}, document.ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) WriteTransition(ctx context.Context, c document.Change) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.docs[c.Ref]
	if !ok {
		return false, document.ErrNotFound
	}
	if e.Status != c.ExpectedStatus || e.Revision != c.ExpectedRevision {
		return false, nil
	}
	next := document.Apply(e, c)
	if err := next.Validate(); err != nil {
		return false, fmt.Errorf("finalise: write %s: %w", c.Ref, err)
	}
	s.docs[c.Ref] = next
	return true, nil
}

// List returns entities of type t matching scope, ordered by id.
func (s *MemoryStore) List(ctx context.Context, t document.Type, scope policy.Scope) ([]document.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []document.Entity
	for ref, e := range s.docs {
		if ref.Type == t && scope.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
