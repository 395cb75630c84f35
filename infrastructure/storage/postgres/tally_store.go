package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/tally"
)

// TallyStore is a PostgreSQL-backed implementation of tally.Store.
type TallyStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewTallyStore creates a tally store on an existing pool.
func NewTallyStore(pool *pgxpool.Pool, schema string) *TallyStore {
	if schema == "" {
		schema = "public"
	}
	return &TallyStore{
		pool:   pool,
		schema: schema,
	}
}

// tableName returns the fully qualified, quoted table name.
func (s *TallyStore) tableName() string {
	return pgx.Identifier{s.schema, "tallies"}.Sanitize()
}

// Migrate creates the tally table if it doesn't exist.
func (s *TallyStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			task_key TEXT PRIMARY KEY,
			oracle TEXT NOT NULL,
			method TEXT NOT NULL,
			level TEXT NOT NULL,
			amplification INTEGER NOT NULL,
			replication INTEGER NOT NULL,
			found BIGINT NOT NULL DEFAULT 0,
			not_found BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.tableName()))
	if err != nil {
		return s.wrapError(err)
	}
	return nil
}

// Tally returns the outcomes recorded for a task.
func (s *TallyStore) Tally(ctx context.Context, task counting.SamplingTask) (counting.Tally, error) {
	if err := ctx.Err(); err != nil {
		return counting.Tally{}, err
	}

	var t counting.Tally
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT found, not_found FROM %s WHERE task_key = $1", s.tableName()),
		task.Key(),
	).Scan(&t.Found, &t.NotFound)
	if errors.Is(err, pgx.ErrNoRows) {
		return counting.Tally{}, nil
	}
	if err != nil {
		return counting.Tally{}, s.wrapError(err)
	}
	return t, nil
}

// Record adds n outcomes to a task's tally in a single upsert.
func (s *TallyStore) Record(ctx context.Context, task counting.SamplingTask, outcome counting.Outcome, n int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tally.ValidateRecord(outcome, n); err != nil {
		return err
	}

	delta := counting.Tally{}.Add(outcome, n)
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s AS t (task_key, oracle, method, level, amplification, replication, found, not_found)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (task_key) DO UPDATE SET
			found = t.found + EXCLUDED.found,
			not_found = t.not_found + EXCLUDED.not_found,
			updated_at = now()`, s.tableName()),
		task.Key(), task.Oracle, string(task.Method), task.Level, task.Amplification, task.Replication,
		delta.Found, delta.NotFound,
	)
	if err != nil {
		return s.wrapError(err)
	}
	return nil
}

// Tasks returns every task with recorded trials, ordered by key.
func (s *TallyStore) Tasks(ctx context.Context) ([]counting.SamplingTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT oracle, method, level, amplification, replication FROM %s ORDER BY task_key COLLATE "C"`,
		s.tableName(),
	))
	if err != nil {
		return nil, s.wrapError(err)
	}
	defer rows.Close()

	var tasks []counting.SamplingTask
	for rows.Next() {
		var task counting.SamplingTask
		var method string
		if err := rows.Scan(&task.Oracle, &method, &task.Level, &task.Amplification, &task.Replication); err != nil {
			return nil, s.wrapError(err)
		}
		task.Method = counting.TransformMethod(method)
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapError(err)
	}
	return tasks, nil
}

// Close closes the pool.
func (s *TallyStore) Close() error {
	s.pool.Close()
	return nil
}

// wrapError wraps database errors with domain errors.
func (s *TallyStore) wrapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(tally.ErrOperationTimeout, err)
	}

	return errors.Join(tally.ErrStoreUnavailable, err)
}

// Ensure TallyStore implements the tally interfaces.
var (
	_ tally.Store  = (*TallyStore)(nil)
	_ tally.Lister = (*TallyStore)(nil)
	_ tally.Closer = (*TallyStore)(nil)
)
