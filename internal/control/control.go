// Package control is the composition root: it constructs the connection
// supervisor, health reporter and HTTP surface, and owns their lifecycle.
package control

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tdnguyen/pgguard/internal/health"
	"github.com/tdnguyen/pgguard/internal/infra/storage/dberr"
	"github.com/tdnguyen/pgguard/internal/infra/storage/postgres"
)

// outageScanInterval is how often the outage observer samples the
// supervisor's connected flag.
const outageScanInterval = 5 * time.Second

// Config holds the application configuration.
type Config struct {
	Port     int
	Database postgres.Config
}

// App wires the supervisor to the health surface and the outage audit.
type App struct {
	cfg          Config
	supervisor   *postgres.Supervisor
	reporter     *health.Reporter
	healthServer *health.Server
	log          *slog.Logger
	cancel       context.CancelFunc
}

// New creates the application with all dependencies initialized. The
// supervisor built here is the single instance for the whole process;
// everything that needs it receives this pointer.
func New(cfg Config) *App {
	log := slog.Default()
	supervisor := postgres.NewSupervisor(cfg.Database, log)
	reporter := health.NewReporter(supervisor)

	return &App{
		cfg:          cfg,
		supervisor:   supervisor,
		reporter:     reporter,
		healthServer: health.NewServer(reporter, cfg.Port),
		log:          log,
	}
}

// Supervisor returns the process-wide connection supervisor.
func (a *App) Supervisor() *postgres.Supervisor {
	return a.supervisor
}

// Start initializes the database connection and starts the HTTP surface
// and background collectors. A failed database connection is not fatal:
// the process keeps serving and the supervisor recovers in the
// background.
func (a *App) Start(ctx context.Context) error {
	res := a.supervisor.Initialize(ctx)
	if !res.Success {
		a.log.Warn("starting in degraded mode, database is unavailable",
			"attempts", res.Attempts, "error", res.Err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.supervisor.StartPoolStatsCollector(runCtx)
	go a.watchOutages(runCtx)

	go func() {
		a.log.Info("health server listening", "port", a.cfg.Port)
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("health server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts everything down; the HTTP server drains within ctx, the
// supervisor's disconnect is bounded internally.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	err := a.healthServer.Stop(ctx)
	a.supervisor.Disconnect()
	return err
}

// watchOutages samples the connected flag and writes an audit record to
// the database once connectivity comes back after a loss.
func (a *App) watchOutages(ctx context.Context) {
	ticker := time.NewTicker(outageScanInterval)
	defer ticker.Stop()

	wasConnected := a.supervisor.IsConnected()
	var downSince time.Time
	var lastDetail string

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			connected := a.supervisor.IsConnected()
			switch {
			case wasConnected && !connected:
				downSince = time.Now()
				lastDetail = a.supervisor.GetStatus().LastError
			case !connected && !downSince.IsZero():
				// Still down, keep the freshest error detail.
				if detail := a.supervisor.GetStatus().LastError; detail != "" {
					lastDetail = detail
				}
			case !wasConnected && connected && !downSince.IsZero():
				a.recordOutage(ctx, downSince, lastDetail)
				downSince = time.Time{}
				lastDetail = ""
			}
			wasConnected = connected
		}
	}
}

func (a *App) recordOutage(ctx context.Context, downSince time.Time, detail string) {
	repo, err := postgres.NewOutageRepo(a.supervisor)
	if err != nil {
		return
	}

	status := a.supervisor.GetStatus()
	now := time.Now()
	outage := &postgres.Outage{
		StartedAt:   downSince,
		RecoveredAt: &now,
		Attempts:    status.RetryCount,
		Detail:      detail,
	}
	if detail != "" {
		outage.Category = string(dberr.Classify(errors.New(detail)).Category)
	}

	if err := repo.Record(ctx, outage); err != nil {
		a.log.Warn("failed to record outage", "error", err)
		return
	}
	a.log.Info("recorded connection outage",
		"down_since", downSince, "duration", now.Sub(downSince))
}
