package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func TestNewOutageRepo_FailsFastWithoutClient(t *testing.T) {
	s := NewSupervisor(testConfig(), testLogger())

	repo, err := NewOutageRepo(s)
	require.Nil(t, repo)
	require.ErrorContains(t, err, "Initialize")
}

func TestOutageRepo_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := &OutageRepo{client: sqlx.NewDb(db, "pgx")}

	mock.ExpectExec("INSERT INTO connection_outages").
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.Now()
	outage := &Outage{
		StartedAt:   now.Add(-time.Minute),
		RecoveredAt: &now,
		Attempts:    4,
		Category:    "NETWORK",
		Detail:      "connection refused",
	}
	require.NoError(t, repo.Record(context.Background(), outage))
	require.NotEmpty(t, outage.ID, "Record should assign an ID")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutageRepo_Recent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := &OutageRepo{client: sqlx.NewDb(db, "pgx")}

	now := time.Now()
	rows := sqlmock.NewRows(
		[]string{"id", "started_at", "recovered_at", "attempts", "category", "detail"},
	).AddRow("a6e1b1a2-0000-0000-0000-000000000000", now.Add(-time.Hour), now, 3, "NETWORK", "timeout")

	mock.ExpectQuery("SELECT id, started_at, recovered_at, attempts, category, detail").
		WillReturnRows(rows)

	outages, err := repo.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, outages, 1)
	require.Equal(t, 3, outages[0].Attempts)
	require.Equal(t, "NETWORK", outages[0].Category)
	require.NotNil(t, outages[0].RecoveredAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
