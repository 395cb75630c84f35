package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/tally"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TallyStore is a SQLite-backed implementation of tally.Store.
type TallyStore struct {
	db    *sql.DB
	table string
}

// NewTallyStore opens a SQLite database and creates a tally store.
func NewTallyStore(cfg Config, opts ...Option) (*TallyStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	table, err := validTable(cfg.Table)
	if err != nil {
		return nil, err
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &TallyStore{db: db, table: table}

	if cfg.AutoMigrate {
		if err := s.migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return s, nil
}

// NewTallyStoreFromDB creates a tally store from an existing connection and
// ensures its table exists.
func NewTallyStoreFromDB(db *sql.DB, table string) (*TallyStore, error) {
	table, err := validTable(table)
	if err != nil {
		return nil, err
	}

	s := &TallyStore{db: db, table: table}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func validTable(name string) (string, error) {
	if name == "" {
		return "tallies", nil
	}
	if !tableNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: invalid table name %q", counting.ErrInvalidParameter, name)
	}
	return name, nil
}

// migrate creates the tally table if it doesn't exist.
func (s *TallyStore) migrate() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			task_key TEXT PRIMARY KEY,
			oracle TEXT NOT NULL,
			method TEXT NOT NULL,
			level TEXT NOT NULL,
			amplification INTEGER NOT NULL,
			replication INTEGER NOT NULL,
			found INTEGER NOT NULL DEFAULT 0,
			not_found INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_%s_oracle ON %s(oracle);
	`, s.table, s.table, s.table)

	if _, err := s.db.Exec(schema); err != nil {
		return errors.Join(ErrMigrationFailed, err)
	}
	return nil
}

// Tally returns the outcomes recorded for a task.
func (s *TallyStore) Tally(ctx context.Context, task counting.SamplingTask) (counting.Tally, error) {
	if err := ctx.Err(); err != nil {
		return counting.Tally{}, err
	}

	var t counting.Tally
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT found, not_found FROM %s WHERE task_key = ?", s.table),
		task.Key(),
	).Scan(&t.Found, &t.NotFound)
	if errors.Is(err, sql.ErrNoRows) {
		return counting.Tally{}, nil
	}
	if err != nil {
		return counting.Tally{}, wrapError(err)
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
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %[1]s (task_key, oracle, method, level, amplification, replication, found, not_found)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_key) DO UPDATE SET
		   found = %[1]s.found + excluded.found,
		   not_found = %[1]s.not_found + excluded.not_found`, s.table),
		task.Key(), task.Oracle, string(task.Method), task.Level, task.Amplification, task.Replication,
		delta.Found, delta.NotFound,
	)
	if err != nil {
		return wrapError(err)
	}
	return nil
}

// Tasks returns every task with recorded trials, ordered by key.
func (s *TallyStore) Tasks(ctx context.Context) ([]counting.SamplingTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT oracle, method, level, amplification, replication FROM %s ORDER BY task_key", s.table),
	)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	var tasks []counting.SamplingTask
	for rows.Next() {
		var task counting.SamplingTask
		var method string
		if err := rows.Scan(&task.Oracle, &method, &task.Level, &task.Amplification, &task.Replication); err != nil {
			return nil, wrapError(err)
		}
		task.Method = counting.TransformMethod(method)
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err)
	}
	return tasks, nil
}

// Close closes the database connection.
func (s *TallyStore) Close() error {
	return s.db.Close()
}

// wrapError wraps SQLite errors with domain errors.
func wrapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Join(tally.ErrOperationTimeout, err)
	case errors.Is(err, sql.ErrConnDone):
		return errors.Join(tally.ErrStoreClosed, err)
	default:
		return errors.Join(tally.ErrStoreUnavailable, err)
	}
}

// Ensure TallyStore implements the tally interfaces.
var (
	_ tally.Store  = (*TallyStore)(nil)
	_ tally.Lister = (*TallyStore)(nil)
	_ tally.Closer = (*TallyStore)(nil)
)
