package db

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-sql-driver/mysql"
)

// Validate checks if the database configuration is valid
func (c *Config) Validate() error {
	for _, check := range []func() error{c.validateConnection, c.validatePool, c.validateTimeouts} {
		if err := check(); err != nil {
			return err
		}
	}
	if c.Logging.LogSlowQueries && c.Logging.SlowQueryThreshold <= 0 {
		return fmt.Errorf("slow_query_threshold must be positive when log_slow_queries is set")
	}

	// Certificates are loaded here so a bad file fails at startup, not on
	// the first connection
	if _, err := c.tlsConfig(); err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}
	return nil
}

func (c *Config) validateConnection() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("database host is required")
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("database port must be between 1 and 65535, got %d", c.Port)
	case c.Database == "":
		return fmt.Errorf("database name is required")
	case c.Username == "":
		return fmt.Errorf("database username is required")
	}
	if _, err := c.location(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePool() error {
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("max_open_conns must be at least 1")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *Config) validateTimeouts() error {
	if c.QueryTimeout < 0 || c.LockWaitTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	return nil
}

// location resolves TimeZone; empty means UTC
func (c *Config) location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// tlsConfig builds the client TLS settings. It returns nil when SSL is off or
// verification is skipped.
func (c *Config) tlsConfig() (*tls.Config, error) {
	if !c.SSL.Enabled || c.SSL.SkipVerify {
		return nil, nil
	}
	conf := &tls.Config{ServerName: c.SSL.ServerName}

	if c.SSL.CAFile != "" {
		pem, err := os.ReadFile(c.SSL.CAFile)
		if err != nil {
			return nil, fmt.Errorf("CA file not accessible: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA file %s holds no PEM certificate", c.SSL.CAFile)
		}
		conf.RootCAs = pool
	}

	if c.SSL.CertFile != "" || c.SSL.KeyFile != "" {
		if c.SSL.CertFile == "" || c.SSL.KeyFile == "" {
			return nil, errors.New("both CertFile and KeyFile must be provided together")
		}
		cert, err := tls.LoadX509KeyPair(c.SSL.CertFile, c.SSL.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("client certificate not loadable: %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}
	return conf, nil
}

// tlsName is the driver registration name of the TLS settings. Configs with
// the same files and server name share one registration.
func (c *Config) tlsName() string {
	h := xxhash.New()
	for _, part := range []string{c.SSL.CAFile, c.SSL.CertFile, c.SSL.KeyFile, c.SSL.ServerName} {
		_, _ = h.WriteString(part)
		_, _ = h.Write([]byte{0})
	}
	return "persist4go_tls_" + strconv.FormatUint(h.Sum64(), 16)
}

// DSN returns the MySQL data source name. Sessions get parseTime, the
// configured charset and collation, and innodb_lock_wait_timeout when a lock
// wait is set.
func (c *Config) DSN() (string, error) {
	loc, err := c.location()
	if err != nil {
		return "", err
	}
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	cfg.DBName = c.Database
	cfg.Collation = c.Collation
	cfg.Loc = loc
	cfg.ParseTime = true
	cfg.Params = map[string]string{}

	if c.Charset != "" {
		cfg.Params["charset"] = c.Charset
	}
	if c.LockWaitTimeout > 0 {
		// The server counts whole seconds with a minimum of one
		seconds := int(math.Max(1, math.Ceil(c.LockWaitTimeout.Seconds())))
		cfg.Params["innodb_lock_wait_timeout"] = strconv.Itoa(seconds)
	}

	if c.SSL.Enabled {
		conf, err := c.tlsConfig()
		if err != nil {
			return "", err
		}
		if conf == nil {
			cfg.TLSConfig = "skip-verify"
		} else {
			name := c.tlsName()
			if err := mysql.RegisterTLSConfig(name, conf); err != nil {
				return "", fmt.Errorf("register TLS config: %w", err)
			}
			cfg.TLSConfig = name
		}
	}

	return cfg.FormatDSN(), nil
}
