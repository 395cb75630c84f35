// Package redis provides a Redis-backed tally store.
package redis

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/approxcount/domain/tally"
)

// Config locates the Redis database holding tallies. Each sampling task is
// one hash at Keyspace.Key(task) with a found and a not_found counter.
type Config struct {
	Address  string
	Password string
	DB       int

	Keyspace tally.Keyspace

	// Timeout bounds the initial ping and every command round trip.
	Timeout time.Duration
}

// DefaultConfig returns the configuration of a local Redis.
func DefaultConfig() Config {
	return Config{
		Address:  "localhost:6379",
		Keyspace: tally.Keyspace{Prefix: "approxcount:"},
		Timeout:  3 * time.Second,
	}
}

// ConfigOption configures the Redis store.
type ConfigOption func(*Config)

// WithAddress sets the server address.
func WithAddress(addr string) ConfigOption {
	return func(c *Config) {
		c.Address = addr
	}
}

// WithPassword sets the authentication password.
func WithPassword(password string) ConfigOption {
	return func(c *Config) {
		c.Password = password
	}
}

// WithDB sets the database index.
func WithDB(db int) ConfigOption {
	return func(c *Config) {
		c.DB = db
	}
}

// WithKeyPrefix moves the tally keyspace under prefix, so several
// estimations can share one database without sharing tallies.
func WithKeyPrefix(prefix string) ConfigOption {
	return func(c *Config) {
		c.Keyspace.Prefix = prefix
	}
}

func (c Config) clientOptions() *redis.Options {
	return &redis.Options{
		Addr:         c.Address,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.Timeout,
		ReadTimeout:  c.Timeout,
		WriteTimeout: c.Timeout,
	}
}
