package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/tally"
	"github.com/felixgeelhaar/approxcount/infrastructure/storage/sqlite"
)

func newTestStore(t *testing.T, opts ...sqlite.Option) *sqlite.TallyStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tallies.db")
	store, err := sqlite.NewTallyStore(sqlite.DefaultConfig(), append([]sqlite.Option{sqlite.WithPath(path)}, opts...)...)
	if err != nil {
		t.Fatalf("NewTallyStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func task(level string) counting.SamplingTask {
	return counting.SamplingTask{
		Oracle:        "syn",
		Method:        counting.MethodModular,
		Level:         level,
		Amplification: 3,
		Replication:   2,
	}
}

func TestTallyStore_RecordAndTally(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.Tally(ctx, task("1.0.0"))
	if err != nil {
		t.Fatalf("Tally() error = %v", err)
	}
	if got != (counting.Tally{}) {
		t.Errorf("Tally() of unknown task = %+v, want zero", got)
	}

	steps := []struct {
		outcome counting.Outcome
		n       int64
	}{
		{counting.ModelFound, 10},
		{counting.NoModelFound, 4},
		{counting.NoModelFound, 15},
	}
	for _, st := range steps {
		if err := store.Record(ctx, task("1.0.0"), st.outcome, st.n); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err = store.Tally(ctx, task("1.0.0"))
	if err != nil {
		t.Fatalf("Tally() error = %v", err)
	}
	if want := (counting.Tally{Found: 10, NotFound: 19}); got != want {
		t.Errorf("Tally() = %+v, want %+v", got, want)
	}
}

func TestTallyStore_Tasks(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, sqlite.WithTable("nightly_tallies"))
	ctx := context.Background()

	for _, level := range []string{"1.1.0", "0.1.0"} {
		if err := store.Record(ctx, task(level), counting.ModelFound, 1); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	tasks, err := store.Tasks(ctx)
	if err != nil {
		t.Fatalf("Tasks() error = %v", err)
	}
	if len(tasks) != 2 || tasks[0] != task("0.1.0") || tasks[1] != task("1.1.0") {
		t.Errorf("Tasks() = %+v", tasks)
	}
}

func TestTallyStore_Reopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	first, err := sqlite.NewTallyStore(sqlite.DefaultConfig(), sqlite.WithPath(path))
	if err != nil {
		t.Fatalf("NewTallyStore() error = %v", err)
	}
	if err := first.Record(ctx, task("1.0.0"), counting.NoModelFound, 7); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := sqlite.NewTallyStore(sqlite.DefaultConfig(), sqlite.WithPath(path))
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer second.Close()

	got, err := second.Tally(ctx, task("1.0.0"))
	if err != nil {
		t.Fatalf("Tally() error = %v", err)
	}
	if got.NotFound != 7 {
		t.Errorf("NotFound = %d after reopen, want 7", got.NotFound)
	}
}

func TestTallyStore_InvalidTable(t *testing.T) {
	t.Parallel()

	_, err := sqlite.NewTallyStore(sqlite.DefaultConfig(), sqlite.WithTable("tallies; DROP TABLE x"))
	if !errors.Is(err, counting.ErrInvalidParameter) {
		t.Errorf("NewTallyStore() error = %v, want ErrInvalidParameter", err)
	}
}

func TestTallyStore_Errors(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, task("1.0.0"), counting.ModelFound, 0); !errors.Is(err, tally.ErrInvalidCount) {
		t.Errorf("Record(n=0) error = %v, want ErrInvalidCount", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := store.Record(cancelled, task("1.0.0"), counting.ModelFound, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("Record() error = %v, want context.Canceled", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := store.Tally(ctx, task("1.0.0")); !errors.Is(err, tally.ErrStoreUnavailable) && !errors.Is(err, tally.ErrStoreClosed) {
		t.Errorf("Tally() after Close error = %v", err)
	}
}
