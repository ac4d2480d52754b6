package cache

import (
	"fmt"
	"time"
)

// Config holds the second-level cache configuration
type Config struct {
	// Cache Strategy
	Enabled    bool          `json:"enabled" yaml:"enabled" env:"ENABLED"`
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl" env:"DEFAULT_TTL"`
	KeyPrefix  string        `json:"key_prefix" yaml:"key_prefix" env:"KEY_PREFIX"`

	// Redis Connection
	Host     string `json:"host" yaml:"host" env:"HOST"`
	Port     int    `json:"port" yaml:"port" env:"PORT"`
	Password string `json:"password" yaml:"password" env:"PASSWORD"`
	Database int    `json:"database" yaml:"database" env:"DATABASE"`

	// Connection Pool
	PoolSize     int           `json:"pool_size" yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	MaxConnAge   time.Duration `json:"max_conn_age" yaml:"max_conn_age" env:"MAX_CONN_AGE"`
	PoolTimeout  time.Duration `json:"pool_timeout" yaml:"pool_timeout" env:"POOL_TIMEOUT"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"IDLE_TIMEOUT"`

	// Performance
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout" env:"DIAL_TIMEOUT"`

	// Clustering (for Redis Cluster)
	Cluster ClusterConfig `json:"cluster" yaml:"cluster" envPrefix:"CLUSTER_"`

	// Regions overrides per table
	Regions map[string]RegionConfig `json:"regions" yaml:"regions"`

	// Cache Logging
	Logging LoggingConfig `json:"logging" yaml:"logging" envPrefix:"LOG_"`

	// Large Value Handling
	Compression CompressionConfig `json:"compression" yaml:"compression" envPrefix:"COMPRESSION_"`
}

// ClusterConfig for Redis Cluster setup
type ClusterConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Addresses []string `json:"addresses" yaml:"addresses" env:"ADDRESSES"`
	Username  string   `json:"username" yaml:"username" env:"USERNAME"`
	Password  string   `json:"password" yaml:"password" env:"PASSWORD"`
}

// RegionConfig tunes the cache region of one entity
type RegionConfig struct {
	// Disabled keeps the entity out of the cache entirely
	Disabled bool          `json:"disabled" yaml:"disabled"`
	TTL      time.Duration `json:"ttl" yaml:"ttl"`
}

// LoggingConfig controls cache logging behavior
type LoggingConfig struct {
	LogCacheHits     bool `json:"log_cache_hits" yaml:"log_cache_hits" env:"CACHE_HITS"`
	LogCacheMisses   bool `json:"log_cache_misses" yaml:"log_cache_misses" env:"CACHE_MISSES"`
	LogInvalidations bool `json:"log_invalidations" yaml:"log_invalidations" env:"INVALIDATIONS"`
}

// CompressionConfig controls gzip compression of large entries
type CompressionConfig struct {
	Enabled   bool `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Threshold int  `json:"threshold" yaml:"threshold" env:"THRESHOLD"` // Compress entries larger than this (bytes)
}

// DefaultConfig returns a cache configuration with sensible defaults.
// The cache is disabled until explicitly enabled.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      false,
		DefaultTTL:   time.Hour,
		KeyPrefix:    "persist4go",
		Host:         "localhost",
		Port:         6379,
		Database:     0,
		PoolSize:     10,
		MinIdleConns: 3,
		MaxConnAge:   time.Hour,
		PoolTimeout:  time.Second * 4,
		IdleTimeout:  time.Minute * 5,
		ReadTimeout:  time.Second * 3,
		WriteTimeout: time.Second * 3,
		DialTimeout:  time.Second * 5,
		Cluster: ClusterConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			LogCacheHits:     false,
			LogCacheMisses:   false,
			LogInvalidations: true,
		},
		Compression: CompressionConfig{
			Enabled:   true,
			Threshold: 1024 * 4, // Compress entries larger than 4KB
		},
	}
}

// Validate checks if the cache configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil // Skip validation if cache is disabled
	}

	if c.IsClusterMode() {
		if len(c.Cluster.Addresses) == 0 {
			return fmt.Errorf("cluster addresses are required when cluster mode is enabled")
		}
	} else {
		if c.Host == "" {
			return fmt.Errorf("redis host is required when cache is enabled")
		}
		if c.Port <= 0 {
			return fmt.Errorf("redis port must be positive")
		}
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive when cache is enabled")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1")
	}
	if c.KeyPrefix == "" {
		return fmt.Errorf("key_prefix is required")
	}
	if c.Compression.Enabled && c.Compression.Threshold <= 0 {
		return fmt.Errorf("compression threshold must be positive")
	}
	for name, region := range c.Regions {
		if region.TTL < 0 {
			return fmt.Errorf("region %s: ttl must not be negative", name)
		}
	}

	return nil
}

// GetAddr returns the Redis connection address
func (c *Config) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsClusterMode returns true if Redis cluster is enabled
func (c *Config) IsClusterMode() bool {
	return c.Cluster.Enabled
}

// RegionTTL returns the entry TTL of a region
func (c *Config) RegionTTL(region string) time.Duration {
	if r, ok := c.Regions[region]; ok && r.TTL > 0 {
		return r.TTL
	}
	return c.DefaultTTL
}

// RegionEnabled reports whether entries of a region are cached
func (c *Config) RegionEnabled(region string) bool {
	r, ok := c.Regions[region]
	return !ok || !r.Disabled
}
