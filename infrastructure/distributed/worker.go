// Package distributed runs trial batches through a task queue and a pool of
// workers.
package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/infrastructure/distributed/queue"
)

// TrialHandler runs tc.Count trials and records them. It reports the
// outcomes it recorded, even alongside an error.
type TrialHandler func(ctx context.Context, tc counting.TaskCount) (queue.TrialsResult, error)

// ErrNoHandler is returned when a worker has no trial handler.
var ErrNoHandler = errors.New("no trial handler configured")

// ErrAlreadyRunning is returned by Start on a running worker or coordinator.
var ErrAlreadyRunning = errors.New("already running")

// Worker processes trials tasks from a queue.
type Worker struct {
	id           string
	queue        queue.Queue
	handler      TrialHandler
	concurrency  int
	pollInterval time.Duration
	taskTimeout  time.Duration
	requeue      bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	metrics WorkerMetrics
	onError func(error)
	onTask  func(queue.Task)
}

// WorkerConfig configures a worker.
type WorkerConfig struct {
	ID      string
	Queue   queue.Queue
	Handler TrialHandler
}

// WorkerOption configures the worker.
type WorkerOption func(*Worker)

// WithConcurrency sets the number of concurrent task processors.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithPollInterval sets the back-off after a failed dequeue.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.pollInterval = d
	}
}

// WithTaskTimeout bounds a single task. Zero disables the bound.
func WithTaskTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.taskTimeout = d
	}
}

// WithRequeueOnError requeues failed tasks instead of rejecting them.
func WithRequeueOnError(enabled bool) WorkerOption {
	return func(w *Worker) {
		w.requeue = enabled
	}
}

// WithErrorHandler sets the error callback.
func WithErrorHandler(fn func(error)) WorkerOption {
	return func(w *Worker) {
		w.onError = fn
	}
}

// WithTaskCallback sets the task start callback.
func WithTaskCallback(fn func(queue.Task)) WorkerOption {
	return func(w *Worker) {
		w.onTask = fn
	}
}

// NewWorker creates a new worker.
func NewWorker(config WorkerConfig, opts ...WorkerOption) *Worker {
	w := &Worker{
		id:           config.ID,
		queue:        config.Queue,
		handler:      config.Handler,
		concurrency:  1,
		pollInterval: 100 * time.Millisecond,
		taskTimeout:  30 * time.Second,
	}
	if w.id == "" {
		w.id = "worker-" + uuid.NewString()[:8]
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker's unique identifier.
func (w *Worker) ID() string {
	return w.id
}

// Start begins processing tasks.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.running = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	for range w.concurrency {
		w.wg.Add(1)
		go w.processLoop(ctx)
	}
	return nil
}

// Stop cancels in-flight tasks and waits for every processor to exit.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	w.wg.Wait()
	return nil
}

// IsRunning returns whether the worker is currently running.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Metrics returns a snapshot of the worker's metrics.
func (w *Worker) Metrics() WorkerMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

func (w *Worker) processLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
				return
			}
			w.reportError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
			continue
		}
		w.processTask(ctx, task)
	}
}

func (w *Worker) processTask(ctx context.Context, task *queue.Task) {
	w.mu.Lock()
	w.metrics.TasksStarted++
	w.mu.Unlock()

	if w.onTask != nil {
		w.onTask(*task)
	}

	start := time.Now()
	result, err := w.execute(ctx, task)
	duration := time.Since(start)

	w.mu.Lock()
	w.metrics.TrialsRecorded += result.Total()
	w.mu.Unlock()

	if err != nil {
		// A cancelled worker leaves the task for another one.
		requeue := w.requeue || ctx.Err() != nil
		w.mu.Lock()
		w.metrics.TasksFailed++
		w.mu.Unlock()
		_ = w.queue.Reject(context.WithoutCancel(ctx), task.ID, err.Error(), requeue)
		w.reportError(err)
		return
	}

	w.mu.Lock()
	w.metrics.TasksCompleted++
	w.metrics.TotalDuration += duration
	w.mu.Unlock()

	data, _ := json.Marshal(result)
	_ = w.queue.Acknowledge(ctx, task.ID, queue.TaskResult{
		TaskID:      task.ID,
		Status:      queue.TaskStatusCompleted,
		Result:      data,
		CompletedAt: time.Now(),
		Duration:    duration,
		WorkerID:    w.id,
	})
}

func (w *Worker) execute(ctx context.Context, task *queue.Task) (queue.TrialsResult, error) {
	if w.handler == nil {
		return queue.TrialsResult{}, ErrNoHandler
	}
	tc, err := queue.DecodeTrials(*task)
	if err != nil {
		return queue.TrialsResult{}, err
	}

	if w.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.taskTimeout)
		defer cancel()
	}
	return w.handler(ctx, tc)
}

func (w *Worker) reportError(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}

// WorkerMetrics tracks worker performance.
type WorkerMetrics struct {
	TasksStarted   int64
	TasksCompleted int64
	TasksFailed    int64
	TrialsRecorded int64
	TotalDuration  time.Duration
}

// AverageTaskDuration returns the average task duration.
func (m WorkerMetrics) AverageTaskDuration() time.Duration {
	if m.TasksCompleted == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(m.TasksCompleted)
}

// SuccessRate returns the task success rate.
func (m WorkerMetrics) SuccessRate() float64 {
	total := m.TasksCompleted + m.TasksFailed
	if total == 0 {
		return 0
	}
	return float64(m.TasksCompleted) / float64(total)
}
