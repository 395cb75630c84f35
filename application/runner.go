package application

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/oracle"
	"github.com/felixgeelhaar/approxcount/domain/tally"
	"github.com/felixgeelhaar/approxcount/infrastructure/distributed"
	"github.com/felixgeelhaar/approxcount/infrastructure/distributed/queue"
	"github.com/felixgeelhaar/approxcount/infrastructure/resilience"
)

// TrialMetrics counts recorded trials.
type TrialMetrics interface {
	RecordTrials(ctx context.Context, task counting.SamplingTask, outcome counting.Outcome, n int64)
}

// LocalRunner samples trials in process and records them in batches, one
// Record per task and outcome.
type LocalRunner struct {
	store       tally.Store
	sampler     oracle.Sampler
	executor    *resilience.Executor
	concurrency int
	metrics     TrialMetrics
}

// LocalRunnerOption configures a LocalRunner.
type LocalRunnerOption func(*LocalRunner)

// WithConcurrency bounds the trials in flight.
func WithConcurrency(n int) LocalRunnerOption {
	return func(r *LocalRunner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithExecutor wraps every trial in the resilient executor.
func WithExecutor(e *resilience.Executor) LocalRunnerOption {
	return func(r *LocalRunner) {
		r.executor = e
	}
}

// WithTrialMetrics counts recorded trials.
func WithTrialMetrics(m TrialMetrics) LocalRunnerOption {
	return func(r *LocalRunner) {
		r.metrics = m
	}
}

// NewLocalRunner creates a runner recording sampler's trials into store.
func NewLocalRunner(store tally.Store, sampler oracle.Sampler, opts ...LocalRunnerOption) (*LocalRunner, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if sampler == nil {
		return nil, errors.New("sampler is required")
	}

	r := &LocalRunner{
		store:       store,
		sampler:     sampler,
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.executor == nil {
		r.executor = resilience.NewExecutor(resilience.ExecutorConfig{})
	}
	return r, nil
}

var _ TrialRunner = (*LocalRunner)(nil)

// Run samples and records every trial of tasks. Trials that finished are
// recorded even when another one failed.
func (r *LocalRunner) Run(ctx context.Context, tasks []counting.TaskCount) error {
	_, err := r.run(ctx, tasks)
	return err
}

// RunTask runs one task's trials. It has the shape of a distributed
// trial handler.
func (r *LocalRunner) RunTask(ctx context.Context, tc counting.TaskCount) (queue.TrialsResult, error) {
	results, err := r.run(ctx, []counting.TaskCount{tc})
	return results[0], err
}

var _ distributed.TrialHandler = (*LocalRunner)(nil).RunTask

func (r *LocalRunner) run(ctx context.Context, tasks []counting.TaskCount) ([]queue.TrialsResult, error) {
	found := make([]atomic.Int64, len(tasks))
	notFound := make([]atomic.Int64, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

dispatch:
	for i, tc := range tasks {
		for range tc.Count {
			if gctx.Err() != nil {
				break dispatch
			}
			g.Go(func() error {
				outcome, err := r.executor.Sample(gctx, r.sampler, tc.Task)
				if err != nil {
					return fmt.Errorf("trial of %s: %w", tc.Task, err)
				}
				switch outcome {
				case counting.ModelFound:
					found[i].Add(1)
				case counting.NoModelFound:
					notFound[i].Add(1)
				default:
					return fmt.Errorf("%w: outcome %d from %s", oracle.ErrTrialFailed, int(outcome), tc.Task)
				}
				return nil
			})
		}
	}
	sampleErr := g.Wait()
	if sampleErr == nil {
		sampleErr = ctx.Err()
	}

	// Finished trials are kept even if the run was cancelled.
	recordCtx := context.WithoutCancel(ctx)
	results := make([]queue.TrialsResult, len(tasks))
	var errs []error
	for i, tc := range tasks {
		results[i] = queue.TrialsResult{Found: found[i].Load(), NotFound: notFound[i].Load()}
		if err := r.record(recordCtx, tc.Task, counting.ModelFound, results[i].Found); err != nil {
			errs = append(errs, err)
			results[i].Found = 0
		}
		if err := r.record(recordCtx, tc.Task, counting.NoModelFound, results[i].NotFound); err != nil {
			errs = append(errs, err)
			results[i].NotFound = 0
		}
	}
	return results, errors.Join(append([]error{sampleErr}, errs...)...)
}

func (r *LocalRunner) record(ctx context.Context, task counting.SamplingTask, outcome counting.Outcome, n int64) error {
	if n == 0 {
		return nil
	}
	if err := r.store.Record(ctx, task, outcome, n); err != nil {
		return fmt.Errorf("recording %s: %w", task, err)
	}
	if r.metrics != nil {
		r.metrics.RecordTrials(ctx, task, outcome, n)
	}
	return nil
}

// QueueRunner dispatches trials through a coordinator's task queue. The
// caller starts and stops the coordinator.
type QueueRunner struct {
	coordinator *distributed.Coordinator
}

// NewQueueRunner creates a runner dispatching through coordinator.
func NewQueueRunner(coordinator *distributed.Coordinator) *QueueRunner {
	return &QueueRunner{coordinator: coordinator}
}

var (
	_ TrialRunner = (*QueueRunner)(nil)
	_ Prefetcher  = (*QueueRunner)(nil)
)

// Run enqueues tasks at required priority and waits for every result.
func (r *QueueRunner) Run(ctx context.Context, tasks []counting.TaskCount) error {
	_, err := r.coordinator.Dispatch(ctx, tasks, queue.PriorityRequired)
	return err
}

// Prefetch enqueues tasks behind every required task and waits for them.
func (r *QueueRunner) Prefetch(ctx context.Context, tasks []counting.TaskCount) error {
	_, err := r.coordinator.Dispatch(ctx, tasks, queue.PriorityPrefetch)
	return err
}
