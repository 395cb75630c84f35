package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/tally"
)

// maxConflictRetries bounds optimistic transaction retries on one Record.
const maxConflictRetries = 16

// TallyStore is a BadgerDB-backed implementation of tally.Store.
//
// Each task's value is 16 bytes: found then not-found, both big-endian
// uint64.
type TallyStore struct {
	db        *badger.DB
	keys      tally.Keyspace
	gcStop    chan struct{}
	gcWg      sync.WaitGroup
	closeOnce sync.Once
}

// NewTallyStore opens a BadgerDB database and creates a tally store.
func NewTallyStore(cfg Config, opts ...Option) (*TallyStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &TallyStore{
		db:     db,
		keys:   cfg.Keyspace,
		gcStop: make(chan struct{}),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.startGC(cfg.GCInterval)
	}

	return s, nil
}

func (s *TallyStore) startGC(interval time.Duration) {
	s.gcWg.Add(1)
	go func() {
		defer s.gcWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.gcStop:
				return
			case <-ticker.C:
				for {
					if err := s.db.RunValueLogGC(gcDiscardRatio); err != nil {
						break
					}
				}
			}
		}
	}()
}

func (s *TallyStore) tallyKey(task counting.SamplingTask) []byte {
	return []byte(s.keys.Key(task))
}

// Tally returns the outcomes recorded for a task.
func (s *TallyStore) Tally(ctx context.Context, task counting.SamplingTask) (counting.Tally, error) {
	if err := ctx.Err(); err != nil {
		return counting.Tally{}, err
	}

	var t counting.Tally
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		t, err = readTally(txn, s.tallyKey(task))
		return err
	})
	if err != nil {
		return counting.Tally{}, s.wrapError(err)
	}
	return t, nil
}

// Record adds n outcomes to a task's tally, retrying on write conflicts.
func (s *TallyStore) Record(ctx context.Context, task counting.SamplingTask, outcome counting.Outcome, n int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tally.ValidateRecord(outcome, n); err != nil {
		return err
	}

	key := s.tallyKey(task)
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			t, err := readTally(txn, key)
			if err != nil {
				return err
			}
			return txn.Set(key, encodeTally(t.Add(outcome, n)))
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
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

	prefix := []byte(s.keys.Scope())
	var tasks []counting.SamplingTask
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			task, err := s.keys.Task(string(it.Item().Key()))
			if err != nil {
				return errors.Join(tally.ErrStoreUnavailable, err)
			}
			tasks = append(tasks, task)
		}
		return nil
	})
	if err != nil {
		return nil, s.wrapError(err)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Key() < tasks[j].Key()
	})
	return tasks, nil
}

// Close stops background GC and closes the database.
func (s *TallyStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.gcStop)
		s.gcWg.Wait()
		err = s.db.Close()
	})
	return err
}

// readTally reads a task's counters; a missing key is an empty tally.
func readTally(txn *badger.Txn, key []byte) (counting.Tally, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return counting.Tally{}, nil
	}
	if err != nil {
		return counting.Tally{}, err
	}

	var t counting.Tally
	err = item.Value(func(val []byte) error {
		var derr error
		t, derr = decodeTally(val)
		return derr
	})
	return t, err
}

func encodeTally(t counting.Tally) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(t.Found))
	binary.BigEndian.PutUint64(buf[8:], uint64(t.NotFound))
	return buf
}

func decodeTally(val []byte) (counting.Tally, error) {
	if len(val) != 16 {
		return counting.Tally{}, errors.Join(tally.ErrStoreUnavailable, errors.New("badger: malformed tally value"))
	}
	return counting.Tally{
		Found:    int64(binary.BigEndian.Uint64(val[:8])),
		NotFound: int64(binary.BigEndian.Uint64(val[8:])),
	}, nil
}

// wrapError wraps BadgerDB errors with domain errors.
func (s *TallyStore) wrapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Join(tally.ErrOperationTimeout, err)
	case errors.Is(err, badger.ErrDBClosed):
		return errors.Join(tally.ErrStoreClosed, err)
	case errors.Is(err, tally.ErrStoreUnavailable):
		return err
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
