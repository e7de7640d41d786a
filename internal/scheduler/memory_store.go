package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. Tasks do not survive a restart; it backs
// the in-memory engine and tests.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]Task
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]Task)}
}

func (s *MemoryStore) ScheduleOnce(ctx context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.Key]; exists {
		return nil
	}
	s.tasks[t.Key] = t
	return nil
}

func (s *MemoryStore) Cancel(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, key)
	return nil
}

func (s *MemoryStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Task
	for _, t := range s.tasks {
		if !t.DueAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	for _, t := range due {
		leased := t
		leased.DueAt = now.Add(lease)
		s.tasks[t.Key] = leased
	}
	return due, nil
}

func (s *MemoryStore) Complete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, key)
	return nil
}
