// Package queue provides the task queue that carries trial batches to
// workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/approxcount/domain/counting"
)

// Task represents a unit of work to be executed.
type Task struct {
	ID        string          `json:"id"`
	BatchID   string          `json:"batch_id"`
	Type      TaskType        `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Priority  int             `json:"priority"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts"`
}

// TaskType categorizes tasks.
type TaskType string

const (
	// TaskTypeTrials runs a number of trials for one sampling task.
	TaskTypeTrials TaskType = "trials"
)

// Task priorities. Required trials are served before prefetched ones.
const (
	PriorityPrefetch = 0
	PriorityRequired = 10
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// TaskResult holds the result of task execution.
type TaskResult struct {
	TaskID      string          `json:"task_id"`
	Status      TaskStatus      `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
	Duration    time.Duration   `json:"duration_ns"`
	WorkerID    string          `json:"worker_id"`
}

// Queue defines the interface for task queues.
type Queue interface {
	// Enqueue adds a task to the queue.
	Enqueue(ctx context.Context, task Task) error

	// Dequeue retrieves the next task from the queue.
	// Blocks until a task is available or context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Acknowledge marks a task as successfully completed.
	Acknowledge(ctx context.Context, taskID string, result TaskResult) error

	// Reject marks a task as failed, optionally requeueing it.
	Reject(ctx context.Context, taskID string, reason string, requeue bool) error

	// AwaitResult blocks until the task is acknowledged or finally rejected.
	AwaitResult(ctx context.Context, taskID string) (TaskResult, error)

	// Size returns the current number of tasks in the queue.
	Size(ctx context.Context) (int, error)

	// Close releases queue resources.
	Close() error
}

// Common errors.
var (
	ErrQueueEmpty     = errors.New("queue is empty")
	ErrQueueClosed    = errors.New("queue is closed")
	ErrTaskNotFound   = errors.New("task not found")
	ErrInvalidPayload = errors.New("invalid task payload")
	ErrUnexpectedType = errors.New("unexpected task type")
)

// TrialsPayload is the payload of a trials task. Task is the sampling
// task's key so the payload survives any transport.
type TrialsPayload struct {
	Task  string `json:"task"`
	Count int    `json:"count"`
}

// TrialsResult is the acknowledged outcome of a trials task.
type TrialsResult struct {
	Found    int64 `json:"found"`
	NotFound int64 `json:"not_found"`
}

// Total returns the number of trials that produced an outcome.
func (r TrialsResult) Total() int64 {
	return r.Found + r.NotFound
}

// NewTask creates a new task with a generated ID.
func NewTask(taskType TaskType, payload json.RawMessage) Task {
	return Task{
		ID:        uuid.NewString(),
		Type:      taskType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// NewTrialsTask creates a task that runs tc.Count trials of tc.Task.
func NewTrialsTask(batchID string, tc counting.TaskCount, priority int) (Task, error) {
	if tc.Count <= 0 {
		return Task{}, fmt.Errorf("%w: count must be positive, got %d", ErrInvalidPayload, tc.Count)
	}
	data, err := json.Marshal(TrialsPayload{Task: tc.Task.Key(), Count: tc.Count})
	if err != nil {
		return Task{}, err
	}
	task := NewTask(TaskTypeTrials, data)
	task.BatchID = batchID
	task.Priority = priority
	return task, nil
}

// DecodeTrials extracts the task count carried by a trials task.
func DecodeTrials(task Task) (counting.TaskCount, error) {
	if task.Type != TaskTypeTrials {
		return counting.TaskCount{}, fmt.Errorf("%w: %s", ErrUnexpectedType, task.Type)
	}
	var payload TrialsPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return counting.TaskCount{}, errors.Join(ErrInvalidPayload, err)
	}
	st, err := counting.ParseTaskKey(payload.Task)
	if err != nil {
		return counting.TaskCount{}, errors.Join(ErrInvalidPayload, err)
	}
	if payload.Count <= 0 {
		return counting.TaskCount{}, fmt.Errorf("%w: count must be positive, got %d", ErrInvalidPayload, payload.Count)
	}
	return counting.TaskCount{Task: st, Count: payload.Count}, nil
}

// DecodeResult extracts the trials result from an acknowledged task.
func DecodeResult(result TaskResult) (TrialsResult, error) {
	var out TrialsResult
	if len(result.Result) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(result.Result, &out); err != nil {
		return TrialsResult{}, errors.Join(ErrInvalidPayload, err)
	}
	return out, nil
}
