package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Use pgx via database/sql
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL              string        `yaml:"url"`
	PoolSize         int           `yaml:"pool_size"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
}

const (
	defaultPoolSize         = 10
	defaultConnectTimeout   = 10 * time.Second
	defaultMaxRetries       = 5
	defaultRetryBaseDelay   = 1 * time.Second
	defaultRecoveryInterval = 30 * time.Second
)

// withDefaults fills unset fields so the supervisor never has to
// re-check them.
func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = defaultRetryBaseDelay
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = defaultRecoveryInterval
	}
	return c
}

// opener abstracts sql.Open so tests can inject a mocked pool.
type opener func(driverName, dsn string) (*sql.DB, error)

// newPool builds the pooled connection without probing it; the
// supervisor's retry routine owns liveness checks.
func newPool(cfg Config, open opener) (*sql.DB, error) {
	db, err := open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.PoolSize)
	idle := cfg.PoolSize / 2
	if idle < 2 {
		idle = 2
	}
	db.SetMaxIdleConns(idle)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	return db, nil
}
