package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tdnguyen/pgguard/internal/core/metrics"
	"github.com/tdnguyen/pgguard/internal/infra/storage/dberr"
)

const (
	// Reconnect runs repeatedly from the recovery loop, so it gets a
	// smaller budget than Initialize: fewer attempts, longer base delay.
	reconnectMaxRetries      = 3
	reconnectDelayMultiplier = 2

	disconnectTimeout = 5 * time.Second
)

// ConnectionResult is the immutable outcome of a connection attempt.
type ConnectionResult struct {
	Success  bool
	Message  string
	Attempts int
	Err      error
}

// ConnectionStatus is a point-in-time snapshot of the supervised
// connection. The URL is always sanitized.
type ConnectionStatus struct {
	Connected       bool
	Recovering      bool
	LastConnectedAt time.Time
	LastError       string
	RetryCount      int
	URL             string
}

// Supervisor owns the pooled connection to PostgreSQL: it validates the
// configured URL, retries failed connections with exponential backoff,
// exposes live status, and recovers in the background when the database
// becomes unreachable after startup.
//
// Exactly one Supervisor is constructed per process, in the composition
// root, and shared by reference.
type Supervisor struct {
	cfg  Config
	log  *slog.Logger
	open opener

	// opMu serializes state transitions (Initialize, Reconnect,
	// Disconnect, recovery ticks). mu guards field access so that
	// GetClient/IsConnected/GetStatus never block on an in-flight
	// retry sequence.
	opMu sync.Mutex
	mu   sync.Mutex

	pool            *sql.DB
	client          *sqlx.DB
	connected       bool
	lastConnectedAt time.Time
	lastErr         error
	retryCount      int
	recoveryCancel  context.CancelFunc

	// closed is set by Disconnect and cleared by Initialize. While set,
	// no recovery loop may start and Reconnect refuses to rebuild the
	// pool: DISCONNECTED is terminal until a fresh Initialize.
	closed bool
}

// NewSupervisor creates a Supervisor for the given configuration.
// No I/O happens until Initialize.
func NewSupervisor(cfg Config, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		cfg:  cfg.withDefaults(),
		log:  log,
		open: sql.Open,
	}
}

// Initialize validates the configured URL, builds the pool and attempts
// to connect with the configured retry budget. A failed result is not
// fatal to the host process: the pool is kept for later probes and a
// background recovery loop is started. Idempotent: an existing pool is
// reused rather than leaked.
func (s *Supervisor) Initialize(ctx context.Context) ConnectionResult {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if v := ValidateURL(s.cfg.URL); !v.Valid {
		err := errors.New(v.Err)
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.log.Error("invalid database connection string", "error", v.Err)
		return ConnectionResult{
			Success: false,
			Message: "invalid connection string: " + v.Err,
			Err:     err,
		}
	}

	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()

	if err := s.ensurePool(); err != nil {
		return ConnectionResult{
			Success: false,
			Message: "failed to build connection pool",
			Err:     err,
		}
	}

	res := s.retryWithBackoff(ctx, s.cfg.MaxRetries, s.cfg.RetryBaseDelay)
	if res.Success {
		s.markConnected()
		s.log.Info("database connection established",
			"url", SanitizeURL(s.cfg.URL), "attempts", res.Attempts)
	} else {
		// Keep the pool so later probes can reuse it.
		s.markDisconnected(res.Err)
		s.ensureRecoveryLoop()
	}
	return res
}

// Reconnect re-probes the supervised connection, rebuilding the pool if
// it was torn down. No-op success when already connected. Callable
// manually or from the background recovery loop.
func (s *Supervisor) Reconnect(ctx context.Context) ConnectionResult {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.IsConnected() {
		return ConnectionResult{Success: true, Message: "already connected"}
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ConnectionResult{
			Success: false,
			Message: "supervisor is disconnected; call Initialize to reconnect",
			Err:     errors.New("supervisor is disconnected"),
		}
	}

	if err := s.ensurePool(); err != nil {
		return ConnectionResult{
			Success: false,
			Message: "failed to rebuild connection pool",
			Err:     err,
		}
	}

	res := s.retryWithBackoff(ctx, reconnectMaxRetries,
		s.cfg.RetryBaseDelay*reconnectDelayMultiplier)
	if res.Success {
		s.markConnected()
		metrics.Reconnects.Inc()
		s.log.Info("database connection restored",
			"url", SanitizeURL(s.cfg.URL), "attempts", res.Attempts)
	} else {
		s.markDisconnected(res.Err)
		s.ensureRecoveryLoop()
	}
	return res
}

// Disconnect cancels the recovery loop and closes the pool, racing the
// close against a fixed timeout so shutdown never hangs. The pool and
// client handles are always cleared, whichever branch executed.
func (s *Supervisor) Disconnect() {
	// Mark the supervisor closed before anything else: an in-flight
	// Reconnect that fails while we wait on opMu must not restart the
	// recovery loop it would otherwise schedule.
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	// Cancel the recovery loop next so an in-flight recovery Reconnect
	// aborts its backoff wait instead of holding opMu for the full budget.
	s.cancelRecovery()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.pool = nil
		s.client = nil
		s.connected = false
		s.mu.Unlock()
		metrics.DatabaseConnected.Set(0)
	}()

	if pool == nil {
		return
	}

	done := make(chan error, 1)
	go func() { done <- pool.Close() }()

	select {
	case err := <-done:
		if err != nil {
			s.log.Warn("error closing connection pool", "error", err)
		} else {
			s.log.Info("database connection closed")
		}
	case <-time.After(disconnectTimeout):
		s.log.Warn("timed out closing connection pool, proceeding with shutdown",
			"timeout", disconnectTimeout)
	}
}

// GetClient returns the wrapped query client without blocking; nil if
// the supervisor never connected or was fully disconnected.
func (s *Supervisor) GetClient() *sqlx.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// IsConnected returns the cached connected flag; it does not probe.
func (s *Supervisor) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// GetStatus returns a snapshot of the connection state. Credentials are
// masked in the reported URL.
func (s *Supervisor) GetStatus() ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := ConnectionStatus{
		Connected:       s.connected,
		Recovering:      s.recoveryCancel != nil,
		LastConnectedAt: s.lastConnectedAt,
		RetryCount:      s.retryCount,
		URL:             SanitizeURL(s.cfg.URL),
	}
	if s.lastErr != nil {
		st.LastError = SanitizeURL(s.lastErr.Error())
	}
	return st
}

// StartPoolStatsCollector exports pool statistics on a fixed interval
// until ctx is cancelled.
func (s *Supervisor) StartPoolStatsCollector(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				pool := s.pool
				s.mu.Unlock()
				if pool == nil {
					continue
				}

				stats := pool.Stats()
				metrics.PoolOpenConnections.Set(float64(stats.OpenConnections))
				metrics.PoolInUse.Set(float64(stats.InUse))
				metrics.PoolIdle.Set(float64(stats.Idle))
				if stats.MaxOpenConnections > 0 {
					usage := float64(stats.OpenConnections) /
						float64(stats.MaxOpenConnections) * 100
					metrics.PoolUsage.Set(usage)
				}
			}
		}
	}()
}

// retryWithBackoff probes the existing pool up to maxRetries times.
// There is no delay before the first attempt; the delay before attempt
// i (i >= 2) is baseDelay * 2^(i-2). Stops immediately on first success.
func (s *Supervisor) retryWithBackoff(
	ctx context.Context,
	maxRetries int,
	baseDelay time.Duration,
) ConnectionResult {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ConnectionResult{
					Success:  false,
					Message:  "connection attempt cancelled",
					Attempts: attempt - 1,
					Err:      ctx.Err(),
				}
			case <-time.After(backoffDelay(attempt, baseDelay)):
			}
		}

		err := s.probe(ctx)
		if err == nil {
			metrics.ConnectionAttempts.WithLabelValues("success").Inc()
			return ConnectionResult{
				Success:  true,
				Message:  "database connection established",
				Attempts: attempt,
			}
		}

		lastErr = err
		s.mu.Lock()
		s.retryCount++
		s.lastErr = err
		s.mu.Unlock()

		ce := dberr.Classify(err)
		metrics.ConnectionAttempts.WithLabelValues("failure").Inc()
		metrics.ConnectionErrors.WithLabelValues(string(ce.Category)).Inc()
		s.log.Warn("database connection attempt failed",
			"attempt", attempt,
			"remaining", maxRetries-attempt,
			"url", SanitizeURL(s.cfg.URL),
			"category", ce.Category,
			"retryable", ce.Retryability(),
			"troubleshooting", ce.Troubleshooting,
			"error", SanitizeURL(ce.Message),
		)
	}

	return ConnectionResult{
		Success:  false,
		Message:  fmt.Sprintf("connection failed after %d attempts", maxRetries),
		Attempts: maxRetries,
		Err:      lastErr,
	}
}

// backoffDelay returns the delay before attempt i (i >= 2).
func backoffDelay(attempt int, baseDelay time.Duration) time.Duration {
	return baseDelay << (attempt - 2)
}

// probe issues a lightweight liveness check against the existing pool.
func (s *Supervisor) probe(ctx context.Context) error {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()
	if pool == nil {
		return errors.New("connection pool is not initialized")
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	return pool.PingContext(pctx)
}

// ensurePool builds the pool if it does not exist yet.
func (s *Supervisor) ensurePool() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool != nil {
		return nil
	}
	pool, err := newPool(s.cfg, s.open)
	if err != nil {
		s.lastErr = err
		return err
	}
	s.pool = pool
	return nil
}

func (s *Supervisor) markConnected() {
	s.mu.Lock()
	s.connected = true
	s.lastConnectedAt = time.Now()
	s.lastErr = nil
	if s.client == nil && s.pool != nil {
		s.client = sqlx.NewDb(s.pool, "pgx")
	}
	cancel := s.recoveryCancel
	s.recoveryCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	metrics.DatabaseConnected.Set(1)
}

func (s *Supervisor) markDisconnected(err error) {
	s.mu.Lock()
	s.connected = false
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()
	metrics.DatabaseConnected.Set(0)
}

// ensureRecoveryLoop starts the background recovery loop unless one is
// already running or the supervisor was disconnected; at most one loop
// is active at any time.
func (s *Supervisor) ensureRecoveryLoop() {
	s.mu.Lock()
	if s.closed || s.recoveryCancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.recoveryCancel = cancel
	interval := s.cfg.RecoveryInterval
	s.mu.Unlock()

	s.log.Info("starting background recovery loop", "interval", interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.IsConnected() {
					s.cancelRecovery()
					return
				}
				if res := s.Reconnect(ctx); res.Success {
					return
				}
			}
		}
	}()
}

// cancelRecovery clears the recovery loop handle and cancels the loop;
// safe to call when no loop is running.
func (s *Supervisor) cancelRecovery() {
	s.mu.Lock()
	cancel := s.recoveryCancel
	s.recoveryCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
