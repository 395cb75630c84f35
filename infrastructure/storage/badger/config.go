// Package badger provides a BadgerDB-backed tally store for single-host
// runs that must survive restarts.
package badger

import (
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/felixgeelhaar/approxcount/domain/tally"
)

const (
	// Tallies are 16-byte values, so small value logs reclaim quickly.
	valueLogFileSize = 1 << 26
	gcDiscardRatio   = 0.5
)

// Config configures the BadgerDB tally store. Each sampling task is one
// key, Keyspace.Key(task), holding a 16-byte counter pair.
type Config struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool

	// SyncWrites fsyncs every Record before it returns.
	SyncWrites bool

	// GCInterval is the period of value-log GC. Zero disables it.
	GCInterval time.Duration

	Keyspace tally.Keyspace
}

// Option configures the BadgerDB tally store.
type Option func(*Config)

// WithDir sets the data directory.
func WithDir(dir string) Option {
	return func(c *Config) {
		c.Dir = dir
	}
}

// WithInMemory keeps every tally in memory.
func WithInMemory() Option {
	return func(c *Config) {
		c.InMemory = true
	}
}

// WithSyncWrites makes recorded trials durable before Record returns.
func WithSyncWrites(enabled bool) Option {
	return func(c *Config) {
		c.SyncWrites = enabled
	}
}

// WithKeyPrefix moves the tally keyspace under prefix.
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) {
		c.Keyspace.Prefix = prefix
	}
}

// DefaultConfig returns the on-disk defaults.
func DefaultConfig() Config {
	return Config{
		GCInterval: 5 * time.Minute,
		Keyspace:   tally.Keyspace{Prefix: "approxcount:"},
	}
}

func openDB(cfg Config) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithValueLogFileSize(valueLogFileSize).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Join(tally.ErrStoreUnavailable, err)
	}
	return db, nil
}
