package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Outage is one recorded loss of database connectivity.
// Backed by the connection_outages table:
//
//	id UUID PRIMARY KEY, started_at TIMESTAMPTZ, recovered_at TIMESTAMPTZ,
//	attempts INT, category TEXT, detail TEXT
type Outage struct {
	ID          string     `db:"id"`
	StartedAt   time.Time  `db:"started_at"`
	RecoveredAt *time.Time `db:"recovered_at"`
	Attempts    int        `db:"attempts"`
	Category    string     `db:"category"`
	Detail      string     `db:"detail"`
}

// OutageRepo persists connection outage records.
type OutageRepo struct {
	client *sqlx.DB
}

// NewOutageRepo builds the repository from the supervisor's live client.
// Fails fast when no client is available so a constructed-but-unusable
// repository is never returned.
func NewOutageRepo(s *Supervisor) (*OutageRepo, error) {
	client := s.GetClient()
	if client == nil {
		return nil, errors.New(
			"database client is not available: call Initialize before constructing repositories")
	}
	return &OutageRepo{client: client}, nil
}

// Record inserts an outage, assigning an ID if none was set.
func (r *OutageRepo) Record(ctx context.Context, o *Outage) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	_, err := r.client.NamedExecContext(ctx, `
		INSERT INTO connection_outages (id, started_at, recovered_at, attempts, category, detail)
		VALUES (:id, :started_at, :recovered_at, :attempts, :category, :detail)`, o)
	if err != nil {
		return fmt.Errorf("failed to record outage: %w", err)
	}
	return nil
}

// Recent returns the most recent outages, newest first.
func (r *OutageRepo) Recent(ctx context.Context, limit int) ([]Outage, error) {
	var outages []Outage
	err := r.client.SelectContext(ctx, &outages, `
		SELECT id, started_at, recovered_at, attempts, category, detail
		FROM connection_outages
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list outages: %w", err)
	}
	return outages, nil
}
