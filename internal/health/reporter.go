// Package health probes the supervised database connection and exposes
// the result over HTTP.
package health

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tdnguyen/pgguard/internal/core/metrics"
	"github.com/tdnguyen/pgguard/internal/infra/storage/postgres"
)

const probeTimeout = 2 * time.Second

// ClientSource is the supervisor surface the reporter consumes.
type ClientSource interface {
	GetClient() *sqlx.DB
	GetStatus() postgres.ConnectionStatus
}

// Report is the structured result of a liveness probe.
type Report struct {
	Connected       bool       `json:"connected"`
	ResponseTimeMs  int64      `json:"responseTimeMs,omitempty"`
	LastConnectedAt *time.Time `json:"lastConnectedAt,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// Reporter issues ad-hoc round-trip probes so it reports true current
// latency rather than cached status.
type Reporter struct {
	source ClientSource
}

// NewReporter creates a Reporter over the given supervisor.
func NewReporter(source ClientSource) *Reporter {
	return &Reporter{source: source}
}

// Probe runs a trivial round-trip query and measures elapsed time.
// When no client is available it reports the last known error, with
// credentials masked.
func (r *Reporter) Probe(ctx context.Context) Report {
	status := r.source.GetStatus()

	client := r.source.GetClient()
	if client == nil {
		rep := Report{Connected: false, Error: "database not connected"}
		if status.LastError != "" {
			rep.Error = status.LastError
		}
		return rep
	}

	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	var one int
	if err := client.GetContext(pctx, &one, "SELECT 1"); err != nil {
		return Report{
			Connected: false,
			Error:     postgres.SanitizeURL(err.Error()),
		}
	}
	elapsed := time.Since(start)
	metrics.ProbeLatency.Observe(elapsed.Seconds())

	rep := Report{
		Connected:      true,
		ResponseTimeMs: elapsed.Milliseconds(),
	}
	if !status.LastConnectedAt.IsZero() {
		t := status.LastConnectedAt
		rep.LastConnectedAt = &t
	}
	return rep
}
