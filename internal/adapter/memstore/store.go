// Package memstore keeps task run history in memory.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Strob0t/TaskForge/internal/domain"
	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/port/taskstore"
)

// Store is a bounded in-memory run history. The oldest runs are evicted
// once more than capacity runs are stored.
type Store struct {
	capacity int

	mu    sync.RWMutex
	runs  map[string]*task.Run
	order []string // oldest first
}

var _ taskstore.Store = (*Store)(nil)

// New creates a store holding at most capacity runs (<1 = 1000).
func New(capacity int) *Store {
	if capacity < 1 {
		capacity = 1000
	}
	return &Store{capacity: capacity, runs: make(map[string]*task.Run)}
}

// CreateRun stores a copy of r.
func (s *Store) CreateRun(_ context.Context, r *task.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[r.ID]; ok {
		return fmt.Errorf("create run %s: %w", r.ID, domain.ErrConflict)
	}
	s.runs[r.ID] = cloneRun(r)
	s.order = append(s.order, r.ID)

	for len(s.order) > s.capacity {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

// FinishRun records the terminal state of a run.
func (s *Store) FinishRun(_ context.Context, id string, status task.Status, errMsg string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("finish run %s: %w", id, domain.ErrNotFound)
	}
	r.Status = status
	r.Error = errMsg
	r.FinishedAt = &finishedAt
	return nil
}

// GetRun returns a copy of the run.
func (s *Store) GetRun(_ context.Context, id string) (*task.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("get run %s: %w", id, domain.ErrNotFound)
	}
	return cloneRun(r), nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(_ context.Context, limit int) ([]task.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]task.Run, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *cloneRun(s.runs[s.order[i]]))
	}
	return out, nil
}

func cloneRun(r *task.Run) *task.Run {
	c := *r
	c.Args = make([][]string, len(r.Args))
	for i, a := range r.Args {
		c.Args[i] = slices.Clone(a)
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
