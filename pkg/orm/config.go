package orm

import (
	"fmt"
	"time"
)

// Config holds the persistence engine configuration
type Config struct {
	// QueryTimeout bounds every backend call; zero disables the bound
	QueryTimeout time.Duration `json:"query_timeout" yaml:"query_timeout" env:"QUERY_TIMEOUT"`

	// SecondLevelCache enables the shared entity cache when one is supplied
	SecondLevelCache bool `json:"second_level_cache" yaml:"second_level_cache" env:"SECOND_LEVEL_CACHE"`

	// LogFlushes logs every flush with the number of written rows
	LogFlushes bool `json:"log_flushes" yaml:"log_flushes" env:"LOG_FLUSHES"`
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		QueryTimeout:     30 * time.Second,
		SecondLevelCache: true,
		LogFlushes:       false,
	}
}

// Validate checks if the engine configuration is valid
func (c Config) Validate() error {
	if c.QueryTimeout < 0 {
		return fmt.Errorf("query_timeout must not be negative")
	}
	return nil
}
