package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/tally"
)

// TallyStore is an in-memory implementation of tally.Store.
type TallyStore struct {
	tallies map[counting.SamplingTask]counting.Tally
	mu      sync.RWMutex
}

// NewTallyStore creates a new in-memory tally store.
func NewTallyStore() *TallyStore {
	return &TallyStore{
		tallies: make(map[counting.SamplingTask]counting.Tally),
	}
}

// Tally returns the outcomes recorded for a task.
func (s *TallyStore) Tally(ctx context.Context, task counting.SamplingTask) (counting.Tally, error) {
	if err := ctx.Err(); err != nil {
		return counting.Tally{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tallies[task], nil
}

// Record adds n outcomes to a task's tally.
func (s *TallyStore) Record(ctx context.Context, task counting.SamplingTask, outcome counting.Outcome, n int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tally.ValidateRecord(outcome, n); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tallies[task] = s.tallies[task].Add(outcome, n)
	return nil
}

// Tasks returns every task with recorded trials, ordered by key.
func (s *TallyStore) Tasks(ctx context.Context) ([]counting.SamplingTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]counting.SamplingTask, 0, len(s.tallies))
	for task := range s.tallies {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Key() < tasks[j].Key()
	})
	return tasks, nil
}

// Ensure TallyStore implements tally.Store and tally.Lister.
var (
	_ tally.Store  = (*TallyStore)(nil)
	_ tally.Lister = (*TallyStore)(nil)
)
