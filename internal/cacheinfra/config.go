package cacheinfra

import (
	"time"

	"github.com/viccon/sturdyc"
)

// Config holds the sturdyc settings backing the second-level cache.
type Config struct {
	// Capacity is the maximum number of entries across all regions. Must be > 0.
	Capacity int

	// NumShards splits the store for concurrent access. Must be > 0.
	NumShards int

	// TTL is how long an entry stays valid. Must be > 0.
	TTL time.Duration

	// EvictionPercentage is the share of entries dropped when Capacity is reached (1-100).
	EvictionPercentage int

	// EarlyRefresh enables background refreshes of hot entries. Leave nil for
	// entity regions: a refresh re-runs the original fetch, which may be bound to
	// a transaction that has already ended.
	EarlyRefresh *EarlyRefreshConfig

	// MissingRecordStorage caches "not found" answers for fetches that return
	// sturdyc.ErrNotFound.
	MissingRecordStorage bool

	// EvictionInterval sets how often expired entries are swept. Zero keeps the sturdyc default.
	EvictionInterval time.Duration
}

// EarlyRefreshConfig mirrors sturdyc.WithEarlyRefreshes.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig returns settings suited to an entity cache: bounded, expiring,
// no speculative refreshes.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          64,
		TTL:                10 * time.Minute,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the optional settings. Capacity, NumShards, TTL and
// EvictionPercentage are constructor arguments and are not part of the result.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EarlyRefresh != nil {
		options = append(options, sturdyc.WithEarlyRefreshes(
			c.EarlyRefresh.MinAsyncRefreshTime,
			c.EarlyRefresh.MaxAsyncRefreshTime,
			c.EarlyRefresh.SyncRefreshTime,
			c.EarlyRefresh.RetryBaseDelay,
		))
	}

	if c.MissingRecordStorage {
		options = append(options, sturdyc.WithMissingRecordStorage())
	}

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}
	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}
	if c.NumShards > c.Capacity {
		return &ConfigError{Field: "NumShards", Message: "must not exceed Capacity"}
	}
	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}
	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if r := c.EarlyRefresh; r != nil {
		for field, d := range map[string]time.Duration{
			"EarlyRefresh.MinAsyncRefreshTime": r.MinAsyncRefreshTime,
			"EarlyRefresh.MaxAsyncRefreshTime": r.MaxAsyncRefreshTime,
			"EarlyRefresh.SyncRefreshTime":     r.SyncRefreshTime,
			"EarlyRefresh.RetryBaseDelay":      r.RetryBaseDelay,
		} {
			if d < 0 {
				return &ConfigError{Field: field, Message: "must be non-negative"}
			}
		}
		if r.MinAsyncRefreshTime > r.MaxAsyncRefreshTime {
			return &ConfigError{Field: "EarlyRefresh.MinAsyncRefreshTime", Message: "must not exceed MaxAsyncRefreshTime"}
		}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}
