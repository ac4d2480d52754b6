package db

import (
	"time"

	"gorm.io/gorm"
)

// Config holds MySQL/GORM database configuration
type Config struct {
	// Connection Settings
	Host     string `json:"host" yaml:"host" env:"HOST"`
	Port     int    `json:"port" yaml:"port" env:"PORT"`
	Database string `json:"database" yaml:"database" env:"NAME"`
	Username string `json:"username" yaml:"username" env:"USER"`
	Password string `json:"password" yaml:"password" env:"PASSWORD"`

	// Connection Pool Settings (passed through to database/sql)
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`

	// MySQL Specific Settings
	Charset   string `json:"charset" yaml:"charset"`     // Default: utf8mb4
	Collation string `json:"collation" yaml:"collation"` // Default: utf8mb4_unicode_ci
	TimeZone  string `json:"timezone" yaml:"timezone"`   // Default: UTC

	// GORM Settings
	PrepareStmt  bool          `json:"prepare_stmt" yaml:"prepare_stmt"`
	QueryTimeout time.Duration `json:"query_timeout" yaml:"query_timeout" env:"QUERY_TIMEOUT"`

	// Lock wait applied per session (innodb_lock_wait_timeout), 0 keeps the server default
	LockWaitTimeout time.Duration `json:"lock_wait_timeout" yaml:"lock_wait_timeout"`

	// SSL Configuration
	SSL SSLConfig `json:"ssl" yaml:"ssl" envPrefix:"SSL_"`

	// Logging Configuration
	Logging LoggingConfig `json:"logging" yaml:"logging" envPrefix:"LOG_"`
}

// SSLConfig holds SSL/TLS configuration for MySQL
type SSLConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	CertFile   string `json:"cert_file" yaml:"cert_file"`
	KeyFile    string `json:"key_file" yaml:"key_file"`
	CAFile     string `json:"ca_file" yaml:"ca_file"`
	SkipVerify bool   `json:"skip_verify" yaml:"skip_verify"` // Skip certificate verification (not recommended for production)
	ServerName string `json:"server_name" yaml:"server_name"`
}

// LoggingConfig controls statement logging
type LoggingConfig struct {
	// GORM logger level: silent, error, warn, info
	Level string `json:"level" yaml:"level" env:"LEVEL"`

	// Statement Logging (applied by Instrument)
	LogQueries         bool          `json:"log_queries" yaml:"log_queries" env:"QUERIES"`
	LogSlowQueries     bool          `json:"log_slow_queries" yaml:"log_slow_queries"`
	SlowQueryThreshold time.Duration `json:"slow_query_threshold" yaml:"slow_query_threshold"`
	LogQueryParameters bool          `json:"log_query_parameters" yaml:"log_query_parameters"`
}

// Manager manages the MySQL connection pool
type Manager struct {
	config *Config
	db     *gorm.DB
}
