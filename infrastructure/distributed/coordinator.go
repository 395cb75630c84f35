package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/infrastructure/distributed/queue"
)

// ErrTaskFailed is returned when a dispatched trials task is finally rejected.
var ErrTaskFailed = errors.New("trials task failed")

// Coordinator dispatches trial batches to a pool of workers over a queue.
type Coordinator struct {
	queue   queue.Queue
	workers []*Worker

	mu              sync.Mutex
	running         bool
	batches         map[string]*BatchState
	onBatchStart    func(batchID string)
	onBatchComplete func(state BatchState)
	onBatchFailed   func(state BatchState, err error)
}

// BatchState tracks one dispatched set of trials tasks.
type BatchState struct {
	ID           string
	Status       BatchStatus
	TasksPending int
	TasksDone    int
	TasksFailed  int
	Found        int64
	NotFound     int64
	StartedAt    time.Time
	UpdatedAt    time.Time
	Err          error
}

// Trials returns the number of outcomes recorded for the batch.
func (s BatchState) Trials() int64 {
	return s.Found + s.NotFound
}

// BatchStatus represents the status of a batch.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
)

// CoordinatorConfig configures the coordinator.
type CoordinatorConfig struct {
	Queue   queue.Queue
	Handler TrialHandler
	Workers int
	// WorkerOptions apply to every worker the coordinator creates.
	WorkerOptions []WorkerOption
}

// CoordinatorOption configures the coordinator.
type CoordinatorOption func(*Coordinator)

// WithBatchStartCallback sets the callback for batch start events.
func WithBatchStartCallback(fn func(batchID string)) CoordinatorOption {
	return func(c *Coordinator) {
		c.onBatchStart = fn
	}
}

// WithBatchCompleteCallback sets the callback for batch completion events.
func WithBatchCompleteCallback(fn func(state BatchState)) CoordinatorOption {
	return func(c *Coordinator) {
		c.onBatchComplete = fn
	}
}

// WithBatchFailedCallback sets the callback for batch failure events.
func WithBatchFailedCallback(fn func(state BatchState, err error)) CoordinatorOption {
	return func(c *Coordinator) {
		c.onBatchFailed = fn
	}
}

// NewCoordinator creates a coordinator with config.Workers workers.
func NewCoordinator(config CoordinatorConfig, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		queue:   config.Queue,
		workers: make([]*Worker, 0, config.Workers),
		batches: make(map[string]*BatchState),
	}
	for _, opt := range opts {
		opt(c)
	}

	for range config.Workers {
		c.workers = append(c.workers, NewWorker(WorkerConfig{
			Queue:   config.Queue,
			Handler: config.Handler,
		}, config.WorkerOptions...))
	}
	return c
}

// AddWorker adds a worker to the coordinator. Workers added while running
// are started by the caller.
func (c *Coordinator) AddWorker(worker *Worker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers = append(c.workers, worker)
}

// Start starts every worker.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	workers := append([]*Worker(nil), c.workers...)
	c.mu.Unlock()

	for _, worker := range workers {
		if err := worker.Start(ctx); err != nil {
			_ = c.Stop()
			return err
		}
	}
	return nil
}

// Stop stops every worker and waits for them.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	workers := append([]*Worker(nil), c.workers...)
	c.mu.Unlock()

	var errs []error
	for _, worker := range workers {
		if err := worker.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatch enqueues one trials task per entry of tasks at priority and
// blocks until every task is finished. Entries with a non-positive count
// are skipped.
func (c *Coordinator) Dispatch(ctx context.Context, tasks []counting.TaskCount, priority int) (BatchState, error) {
	if err := ctx.Err(); err != nil {
		return BatchState{}, err
	}

	now := time.Now()
	state := &BatchState{
		ID:        uuid.NewString(),
		Status:    BatchStatusPending,
		StartedAt: now,
		UpdatedAt: now,
	}
	c.mu.Lock()
	c.batches[state.ID] = state
	c.mu.Unlock()

	ids := make([]string, 0, len(tasks))
	for _, tc := range tasks {
		if tc.Count <= 0 {
			continue
		}
		task, err := queue.NewTrialsTask(state.ID, tc, priority)
		if err == nil {
			err = c.queue.Enqueue(ctx, task)
		}
		if err != nil {
			return c.fail(state, err)
		}
		ids = append(ids, task.ID)
		c.update(state, func(s *BatchState) { s.TasksPending++ })
	}

	c.update(state, func(s *BatchState) { s.Status = BatchStatusRunning })
	if c.onBatchStart != nil {
		c.onBatchStart(state.ID)
	}

	var errs []error
	for _, id := range ids {
		result, err := c.queue.AwaitResult(ctx, id)
		if err != nil {
			return c.fail(state, err)
		}
		trials, decodeErr := queue.DecodeResult(result)
		c.update(state, func(s *BatchState) {
			s.TasksPending--
			s.Found += trials.Found
			s.NotFound += trials.NotFound
			if result.Status == queue.TaskStatusFailed {
				s.TasksFailed++
			} else {
				s.TasksDone++
			}
		})
		if result.Status == queue.TaskStatusFailed {
			errs = append(errs, fmt.Errorf("%w: %s", ErrTaskFailed, result.Error))
		} else if decodeErr != nil {
			errs = append(errs, decodeErr)
		}
	}
	if mq, ok := c.queue.(interface{ Forget(...string) }); ok {
		mq.Forget(ids...)
	}

	if err := errors.Join(errs...); err != nil {
		return c.fail(state, err)
	}

	c.update(state, func(s *BatchState) { s.Status = BatchStatusCompleted })
	snapshot := c.snapshot(state)
	if c.onBatchComplete != nil {
		c.onBatchComplete(snapshot)
	}
	return snapshot, nil
}

func (c *Coordinator) fail(state *BatchState, err error) (BatchState, error) {
	c.update(state, func(s *BatchState) {
		s.Status = BatchStatusFailed
		s.Err = err
	})
	snapshot := c.snapshot(state)
	if c.onBatchFailed != nil {
		c.onBatchFailed(snapshot, err)
	}
	return snapshot, err
}

func (c *Coordinator) update(state *BatchState, fn func(*BatchState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(state)
	state.UpdatedAt = time.Now()
}

func (c *Coordinator) snapshot(state *BatchState) BatchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *state
}

// Batch returns a copy of a batch's state.
func (c *Coordinator) Batch(id string) (BatchState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, exists := c.batches[id]
	if !exists {
		return BatchState{}, false
	}
	return *state, true
}

// ActiveBatches returns the number of batches still waiting on workers.
func (c *Coordinator) ActiveBatches() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, state := range c.batches {
		if state.Status == BatchStatusRunning || state.Status == BatchStatusPending {
			count++
		}
	}
	return count
}

// WorkerCount returns the number of workers.
func (c *Coordinator) WorkerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.workers)
}

// Metrics returns aggregated metrics from all workers.
func (c *Coordinator) Metrics() CoordinatorMetrics {
	c.mu.Lock()
	workers := append([]*Worker(nil), c.workers...)
	c.mu.Unlock()

	var metrics CoordinatorMetrics
	for _, worker := range workers {
		wm := worker.Metrics()
		metrics.TotalTasksStarted += wm.TasksStarted
		metrics.TotalTasksCompleted += wm.TasksCompleted
		metrics.TotalTasksFailed += wm.TasksFailed
		metrics.TotalTrials += wm.TrialsRecorded
		metrics.TotalDuration += wm.TotalDuration
	}
	metrics.WorkerCount = len(workers)
	return metrics
}

// CoordinatorMetrics aggregates metrics across workers.
type CoordinatorMetrics struct {
	WorkerCount         int
	TotalTasksStarted   int64
	TotalTasksCompleted int64
	TotalTasksFailed    int64
	TotalTrials         int64
	TotalDuration       time.Duration
}

// SuccessRate returns the overall success rate.
func (m CoordinatorMetrics) SuccessRate() float64 {
	total := m.TotalTasksCompleted + m.TotalTasksFailed
	if total == 0 {
		return 0
	}
	return float64(m.TotalTasksCompleted) / float64(total)
}
