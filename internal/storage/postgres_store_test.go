package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-lifecycle/internal/models"
)

func setupMockDB(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStoreFromDB(db), mock
}

func TestPostgresStore_Archive(t *testing.T) {
	p, mock := setupMockDB(t)
	now := time.Now()
	r := newRide("r1", "p1", now)
	r.Status = models.StatusDeclined
	r.CancelReason = models.ReasonChangedMind
	r.CancelledBy = models.PartyPassenger
	r.CancelledAt = &now

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rides(")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, p.Archive(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ArchiveError(t *testing.T) {
	p, mock := setupMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rides(")).WillReturnError(assert.AnError)

	err := p.Archive(context.Background(), newRide("r1", "p1", time.Now()))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPostgresStore_History(t *testing.T) {
	p, mock := setupMockDB(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	assigned := created.Add(2 * time.Minute)

	cols := []string{"id", "passenger_id", "driver_id", "driver_name", "class", "status", "fare", "distance_km", "duration_min",
		"pickup_lat", "pickup_lon", "pickup_address", "dest_lat", "dest_lon", "dest_address",
		"payment_method_id", "cancel_reason", "cancelled_by", "created_at", "assigned_at", "cancelled_at"}
	rows := sqlmock.NewRows(cols).
		AddRow("r2", "p1", "d1", "Ana", "private", "completed", int64(550), 5.0, 14.0,
			-23.5, -46.6, "A", -23.6, -46.7, "B", "cash", nil, nil, created, assigned, nil).
		AddRow("r1", "p1", nil, nil, "moto", "declined", int64(150), 1.0, 3.0,
			-23.5, -46.6, "A", -23.6, -46.7, "B", "cash", "changed_mind", "passenger", created, nil, created)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, passenger_id, driver_id")).
		WithArgs("p1", 20).
		WillReturnRows(rows)

	got, err := p.History(context.Background(), "p1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, models.StatusCompleted, got[0].Status)
	require.NotNil(t, got[0].Driver)
	assert.Equal(t, "Ana", got[0].Driver.Name)
	require.NotNil(t, got[0].AssignedAt)
	assert.True(t, got[0].AssignedAt.Equal(assigned))

	assert.Nil(t, got[1].Driver)
	assert.Equal(t, models.ReasonChangedMind, got[1].CancelReason)
	assert.Equal(t, models.PartyPassenger, got[1].CancelledBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}
