package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/oracle"
	"github.com/felixgeelhaar/approxcount/domain/tally"
	"github.com/felixgeelhaar/approxcount/infrastructure/distributed"
	"github.com/felixgeelhaar/approxcount/infrastructure/distributed/queue"
	"github.com/felixgeelhaar/approxcount/infrastructure/oracle/synthetic"
	"github.com/felixgeelhaar/approxcount/infrastructure/resilience"
	"github.com/felixgeelhaar/approxcount/infrastructure/storage/memory"
)

var (
	taskA = counting.SamplingTask{Oracle: "formula", Method: counting.MethodXOR, Level: "1.0.0", Amplification: 3, Replication: 1}
	taskB = counting.SamplingTask{Oracle: "formula", Method: counting.MethodXOR, Level: "0.1.0", Amplification: 3, Replication: 1}
)

// countingStore counts Record calls.
type countingStore struct {
	tally.Store
	records atomic.Int64
}

func (s *countingStore) Record(ctx context.Context, task counting.SamplingTask, outcome counting.Outcome, n int64) error {
	s.records.Add(1)
	return s.Store.Record(ctx, task, outcome, n)
}

func mustTally(t *testing.T, store tally.Store, task counting.SamplingTask) counting.Tally {
	t.Helper()
	got, err := store.Tally(context.Background(), task)
	if err != nil {
		t.Fatalf("Tally() error = %v", err)
	}
	return got
}

func TestNewLocalRunner_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := NewLocalRunner(nil, synthetic.Always(counting.ModelFound)); err == nil {
		t.Error("expected error when store is nil")
	}
	if _, err := NewLocalRunner(memory.NewTallyStore(), nil); err == nil {
		t.Error("expected error when sampler is nil")
	}
}

func TestLocalRunner_RunBatchesRecords(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: memory.NewTallyStore()}
	runner, err := NewLocalRunner(store, synthetic.Always(counting.ModelFound), WithConcurrency(3))
	if err != nil {
		t.Fatalf("NewLocalRunner() error = %v", err)
	}

	err = runner.Run(context.Background(), []counting.TaskCount{
		{Task: taskA, Count: 5},
		{Task: taskB, Count: 3},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if diff := cmp.Diff(counting.Tally{Found: 5}, mustTally(t, store, taskA)); diff != "" {
		t.Errorf("tally A mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(counting.Tally{Found: 3}, mustTally(t, store, taskB)); diff != "" {
		t.Errorf("tally B mismatch (-want +got):\n%s", diff)
	}
	if got := store.records.Load(); got != 2 {
		t.Errorf("Record calls = %d, want one per task and outcome", got)
	}
}

func TestLocalRunner_RunEmpty(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: memory.NewTallyStore()}
	runner, _ := NewLocalRunner(store, synthetic.Always(counting.ModelFound))

	if err := runner.Run(context.Background(), nil); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if got := store.records.Load(); got != 0 {
		t.Errorf("Record calls = %d, want 0", got)
	}
}

func TestLocalRunner_RunTask(t *testing.T) {
	t.Parallel()

	store := memory.NewTallyStore()
	runner, _ := NewLocalRunner(store, synthetic.Always(counting.NoModelFound))

	got, err := runner.RunTask(context.Background(), counting.TaskCount{Task: taskA, Count: 4})
	if err != nil {
		t.Fatalf("RunTask() error = %v", err)
	}
	if diff := cmp.Diff(queue.TrialsResult{NotFound: 4}, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(counting.Tally{NotFound: 4}, mustTally(t, store, taskA)); diff != "" {
		t.Errorf("tally mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalRunner_TrialFailure(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	sampler := oracle.SamplerFunc(func(ctx context.Context, task counting.SamplingTask) (counting.Outcome, error) {
		if task == taskB {
			return 0, errBoom
		}
		return counting.ModelFound, nil
	})
	store := memory.NewTallyStore()
	runner, _ := NewLocalRunner(store, sampler, WithConcurrency(1))

	err := runner.Run(context.Background(), []counting.TaskCount{
		{Task: taskA, Count: 2},
		{Task: taskB, Count: 2},
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Run() error = %v, want boom", err)
	}
	// With one slot, task A finishes before task B starts.
	if got := mustTally(t, store, taskA); got.Found != 2 {
		t.Errorf("task A found = %d, want 2", got.Found)
	}
	if got := mustTally(t, store, taskB); got.Total() != 0 {
		t.Errorf("task B total = %d, want 0", got.Total())
	}
}

func TestLocalRunner_InvalidOutcome(t *testing.T) {
	t.Parallel()

	runner, _ := NewLocalRunner(memory.NewTallyStore(), synthetic.Always(counting.Outcome(9)))

	err := runner.Run(context.Background(), []counting.TaskCount{{Task: taskA, Count: 1}})
	if !errors.Is(err, oracle.ErrTrialFailed) {
		t.Errorf("Run() error = %v, want ErrTrialFailed", err)
	}
}

func TestLocalRunner_RetriesThroughExecutor(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	flaky := oracle.SamplerFunc(func(ctx context.Context, task counting.SamplingTask) (counting.Outcome, error) {
		if calls.Add(1)%2 == 1 {
			return 0, errors.New("transient")
		}
		return counting.ModelFound, nil
	})
	store := memory.NewTallyStore()
	exec := resilience.NewExecutorWithOptions(resilience.WithRetryAttempts(2), resilience.WithRetryDelay(time.Millisecond))
	runner, _ := NewLocalRunner(store, flaky, WithExecutor(exec), WithConcurrency(1))

	if err := runner.Run(context.Background(), []counting.TaskCount{{Task: taskA, Count: 3}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := mustTally(t, store, taskA); got.Found != 3 {
		t.Errorf("found = %d, want 3", got.Found)
	}
}

func TestLocalRunner_Cancelled(t *testing.T) {
	t.Parallel()

	runner, _ := NewLocalRunner(memory.NewTallyStore(), synthetic.Always(counting.ModelFound))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runner.Run(ctx, []counting.TaskCount{{Task: taskA, Count: 10}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

type trialCounter struct {
	mu     sync.Mutex
	counts map[counting.Outcome]int64
}

func (c *trialCounter) RecordTrials(_ context.Context, _ counting.SamplingTask, outcome counting.Outcome, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[counting.Outcome]int64)
	}
	c.counts[outcome] += n
}

func TestLocalRunner_TrialMetrics(t *testing.T) {
	t.Parallel()

	metrics := &trialCounter{}
	runner, _ := NewLocalRunner(memory.NewTallyStore(), synthetic.Always(counting.ModelFound), WithTrialMetrics(metrics))

	if err := runner.Run(context.Background(), []counting.TaskCount{{Task: taskA, Count: 6}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if diff := cmp.Diff(map[counting.Outcome]int64{counting.ModelFound: 6}, metrics.counts); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestQueueRunner(t *testing.T) {
	t.Parallel()

	store := memory.NewTallyStore()
	local, _ := NewLocalRunner(store, synthetic.Always(counting.ModelFound))

	q := queue.NewMemoryQueue()
	defer q.Close()
	coord := distributed.NewCoordinator(distributed.CoordinatorConfig{
		Queue:   q,
		Handler: local.RunTask,
		Workers: 2,
	})
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = coord.Stop() }()

	runner := NewQueueRunner(coord)
	ctx := context.Background()

	if err := runner.Run(ctx, []counting.TaskCount{{Task: taskA, Count: 4}, {Task: taskB, Count: 0}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := runner.Prefetch(ctx, []counting.TaskCount{{Task: taskB, Count: 2}}); err != nil {
		t.Fatalf("Prefetch() error = %v", err)
	}

	if got := mustTally(t, store, taskA); got.Found != 4 {
		t.Errorf("task A found = %d, want 4", got.Found)
	}
	if got := mustTally(t, store, taskB); got.Found != 2 {
		t.Errorf("task B found = %d, want 2", got.Found)
	}
	if got := coord.Metrics().TotalTrials; got != 6 {
		t.Errorf("TotalTrials = %d, want 6", got)
	}
}

func TestEngine_EstimateThroughQueue(t *testing.T) {
	t.Parallel()

	store := memory.NewTallyStore()
	local, _ := NewLocalRunner(store, synthetic.Always(counting.ModelFound))

	q := queue.NewMemoryQueue()
	defer q.Close()
	coord := distributed.NewCoordinator(distributed.CoordinatorConfig{Queue: q, Handler: local.RunTask, Workers: 3})
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = coord.Stop() }()

	engine, err := New(
		WithStore(store),
		WithOracle(newGeometric()),
		WithRunner(NewQueueRunner(coord)),
		WithPrefetch(true),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	est, err := engine.Estimate(context.Background(), defaultRequest())
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if est.Interval.Lower.Cmp(est.Interval.Upper) != 0 {
		t.Errorf("Interval = %s, want a point at 1024", est.Interval)
	}
}
