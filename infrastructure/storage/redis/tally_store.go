package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/tally"
)

const (
	fieldFound    = "found"
	fieldNotFound = "not_found"
)

// TallyStore is a Redis-backed implementation of tally.Store. Each task is
// a hash holding one counter per outcome, incremented atomically so that
// any number of workers can record into the same store.
type TallyStore struct {
	client *redis.Client
	keys   tally.Keyspace
}

// NewTallyStore connects to Redis and creates a tally store.
func NewTallyStore(cfg Config, opts ...ConfigOption) (*TallyStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	client := redis.NewClient(cfg.clientOptions())

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(tally.ErrStoreUnavailable, err)
	}

	return NewTallyStoreFromClient(client, cfg.Keyspace), nil
}

// NewTallyStoreFromClient creates a tally store from an existing client.
func NewTallyStoreFromClient(client *redis.Client, keys tally.Keyspace) *TallyStore {
	return &TallyStore{
		client: client,
		keys:   keys,
	}
}

// Tally returns the outcomes recorded for a task.
func (s *TallyStore) Tally(ctx context.Context, task counting.SamplingTask) (counting.Tally, error) {
	if err := ctx.Err(); err != nil {
		return counting.Tally{}, err
	}

	values, err := s.client.HMGet(ctx, s.keys.Key(task), fieldFound, fieldNotFound).Result()
	if err != nil {
		return counting.Tally{}, s.wrapError(err)
	}
	return tallyFromValues(values)
}

// Record adds n outcomes to a task's tally.
func (s *TallyStore) Record(ctx context.Context, task counting.SamplingTask, outcome counting.Outcome, n int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tally.ValidateRecord(outcome, n); err != nil {
		return err
	}

	field := fieldNotFound
	if outcome == counting.ModelFound {
		field = fieldFound
	}

	if err := s.client.HIncrBy(ctx, s.keys.Key(task), field, n).Err(); err != nil {
		return s.wrapError(err)
	}
	return nil
}

// Tasks returns every task with recorded trials, ordered by key.
func (s *TallyStore) Tasks(ctx context.Context) ([]counting.SamplingTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	iter := s.client.Scan(ctx, 0, s.keys.Scope()+"*", 100).Iterator()

	var tasks []counting.SamplingTask
	for iter.Next(ctx) {
		task, err := s.keys.Task(iter.Val())
		if err != nil {
			return nil, errors.Join(tally.ErrStoreUnavailable, err)
		}
		tasks = append(tasks, task)
	}
	if err := iter.Err(); err != nil {
		return nil, s.wrapError(err)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Key() < tasks[j].Key()
	})
	return tasks, nil
}

// Close closes the Redis connection.
func (s *TallyStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *TallyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// tallyFromValues converts an HMGET reply into a tally. Missing fields
// count as zero.
func tallyFromValues(values []any) (counting.Tally, error) {
	var counts [2]int64
	for i := 0; i < len(values) && i < len(counts); i++ {
		if values[i] == nil {
			continue
		}
		n, err := parseCount(values[i])
		if err != nil {
			return counting.Tally{}, err
		}
		counts[i] = n
	}
	return counting.Tally{Found: counts[0], NotFound: counts[1]}, nil
}

func parseCount(v any) (int64, error) {
	switch x := v.(type) {
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, errors.Join(tally.ErrStoreUnavailable, fmt.Errorf("malformed counter %q: %w", x, err))
		}
		return n, nil
	case int64:
		return x, nil
	default:
		return 0, errors.Join(tally.ErrStoreUnavailable, fmt.Errorf("unexpected counter type %T", v))
	}
}

// wrapError wraps Redis errors with domain errors.
func (s *TallyStore) wrapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(tally.ErrOperationTimeout, err)
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(tally.ErrOperationTimeout, err)
	}

	if errors.Is(err, redis.ErrClosed) {
		return errors.Join(tally.ErrStoreClosed, err)
	}

	return errors.Join(tally.ErrStoreUnavailable, err)
}

// Ensure TallyStore implements the tally interfaces.
var (
	_ tally.Store  = (*TallyStore)(nil)
	_ tally.Lister = (*TallyStore)(nil)
	_ tally.Closer = (*TallyStore)(nil)
)
