package cache

import (
	"github.com/goliatone/go-orm-lab/internal/cacheinfra"
)

// Config configures the default cache provider.
type Config = cacheinfra.Config

// EarlyRefreshConfig mirrors the provider's early refresh options.
type EarlyRefreshConfig = cacheinfra.EarlyRefreshConfig

// ConfigError reports an invalid Config field.
type ConfigError = cacheinfra.ConfigError

// DefaultConfig returns a Config populated with entity cache defaults.
func DefaultConfig() Config {
	return cacheinfra.DefaultConfig()
}

// NewCacheService constructs the default sturdyc backed CacheService.
func NewCacheService(cfg Config) (CacheService, error) {
	svc, err := cacheinfra.NewSturdycService(cfg)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// Inspector is implemented by providers able to list their keys. The CLI
// stats command and tests use it to show region contents.
type Inspector interface {
	Keys(prefix string) []string
	Size() int
}
