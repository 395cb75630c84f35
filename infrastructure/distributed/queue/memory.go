package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MemoryQueue implements Queue using in-memory storage.
// Useful for tests and single-process runs.
type MemoryQueue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	tasks      priorityHeap
	seq        uint64
	processing map[string]*Task
	results    map[string]TaskResult
	maxRetries int
	closed     bool
}

// MemoryQueueOption configures the memory queue.
type MemoryQueueOption func(*MemoryQueue)

// WithMaxRequeues bounds how often a rejected task is requeued before the
// rejection becomes final. Zero means unbounded.
func WithMaxRequeues(n int) MemoryQueueOption {
	return func(q *MemoryQueue) {
		q.maxRetries = n
	}
}

// NewMemoryQueue creates a new in-memory queue.
func NewMemoryQueue(opts ...MemoryQueueOption) *MemoryQueue {
	q := &MemoryQueue{
		tasks:      make(priorityHeap, 0),
		processing: make(map[string]*Task),
		results:    make(map[string]TaskResult),
	}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.tasks)

	for _, opt := range opts {
		opt(q)
	}
	return q
}

var _ Queue = (*MemoryQueue)(nil)

// wake broadcasts on the condition when ctx is done. The returned func
// stops the registration.
func (q *MemoryQueue) wake(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
}

// push must be called with q.mu held.
func (q *MemoryQueue) push(task Task) {
	q.seq++
	heap.Push(&q.tasks, &taskItem{task: task, seq: q.seq})
	q.cond.Broadcast()
}

// Enqueue adds a task to the queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.push(task)
	return nil
}

// Dequeue retrieves the next task from the queue.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	stop := q.wake(ctx)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.tasks.Len() == 0 && !q.closed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.cond.Wait()
	}

	if q.tasks.Len() == 0 {
		return nil, ErrQueueClosed
	}

	item := heap.Pop(&q.tasks).(*taskItem)
	task := item.task
	task.Attempts++
	q.processing[task.ID] = &task
	return &task, nil
}

// Acknowledge marks a task as successfully completed.
func (q *MemoryQueue) Acknowledge(ctx context.Context, taskID string, result TaskResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.processing[taskID]; !exists {
		return ErrTaskNotFound
	}

	delete(q.processing, taskID)
	result.TaskID = taskID
	if result.Status == "" {
		result.Status = TaskStatusCompleted
	}
	q.results[taskID] = result
	q.cond.Broadcast()
	return nil
}

// Reject marks a task as failed, optionally requeueing it.
func (q *MemoryQueue) Reject(ctx context.Context, taskID string, reason string, requeue bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, exists := q.processing[taskID]
	if !exists {
		return ErrTaskNotFound
	}
	delete(q.processing, taskID)

	if requeue && !q.closed && (q.maxRetries == 0 || task.Attempts <= q.maxRetries) {
		q.push(*task)
		return nil
	}

	q.results[taskID] = TaskResult{
		TaskID:      taskID,
		Status:      TaskStatusFailed,
		Error:       reason,
		CompletedAt: time.Now(),
	}
	q.cond.Broadcast()
	return nil
}

// AwaitResult blocks until the task is acknowledged or finally rejected.
func (q *MemoryQueue) AwaitResult(ctx context.Context, taskID string) (TaskResult, error) {
	stop := q.wake(ctx)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if result, ok := q.results[taskID]; ok {
			return result, nil
		}
		if err := ctx.Err(); err != nil {
			return TaskResult{}, err
		}
		if q.closed {
			return TaskResult{}, ErrQueueClosed
		}
		q.cond.Wait()
	}
}

// Peek returns the next task without removing it from the queue.
func (q *MemoryQueue) Peek(ctx context.Context) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	if q.tasks.Len() == 0 {
		return nil, ErrQueueEmpty
	}

	task := q.tasks[0].task
	return &task, nil
}

// Size returns the current number of tasks in the queue.
func (q *MemoryQueue) Size(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrQueueClosed
	}
	return q.tasks.Len(), nil
}

// Close releases queue resources and wakes every waiter.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
	return nil
}

// ProcessingCount returns the number of tasks being processed.
func (q *MemoryQueue) ProcessingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.processing)
}

// Result retrieves the result for a finished task without blocking.
func (q *MemoryQueue) Result(taskID string) (TaskResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	result, exists := q.results[taskID]
	return result, exists
}

// Forget drops stored results for the given tasks.
func (q *MemoryQueue) Forget(taskIDs ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range taskIDs {
		delete(q.results, id)
	}
}

type taskItem struct {
	task Task
	seq  uint64
}

// priorityHeap orders by priority, then by insertion.
type priorityHeap []*taskItem

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) {
	*h = append(*h, x.(*taskItem))
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
