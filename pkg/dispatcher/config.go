package dispatcher

import (
	"time"

	"github.com/Sternrassler/crm-bulk-client/pkg/api"
)

// Config holds the dispatcher configuration.
type Config struct {
	// PoolSize is the maximum number of remote calls in flight. Must be > 0.
	PoolSize int `yaml:"poolSize"`

	// RateLimit caps calls started per second (0 disables).
	RateLimit float64 `yaml:"rateLimit"`

	// Burst is the limiter burst size; defaults to PoolSize when RateLimit is set.
	Burst int `yaml:"burst"`

	// JobTimeout bounds each remote call (0 disables).
	JobTimeout time.Duration `yaml:"jobTimeout"`
}

// DefaultConfig returns a pool of five concurrent calls with no rate limit
// and no per-call deadline.
func DefaultConfig() Config {
	return Config{
		PoolSize: 5,
	}
}

// Validate checks the config and fills derived defaults.
func (c *Config) Validate() error {
	if c.PoolSize <= 0 {
		return api.Configurationf("pool size must be > 0 (got %d)", c.PoolSize)
	}
	if c.RateLimit < 0 {
		return api.Configurationf("rate limit must be >= 0 (got %v)", c.RateLimit)
	}
	if c.JobTimeout < 0 {
		return api.Configurationf("job timeout must be >= 0 (got %v)", c.JobTimeout)
	}
	if c.RateLimit > 0 && c.Burst <= 0 {
		c.Burst = c.PoolSize
	}
	return nil
}
