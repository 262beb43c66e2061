package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-lifecycle/internal/models"
)

// HistoryStore archives terminal rides for the passenger's ride history.
type HistoryStore interface {
	Archive(ctx context.Context, r models.RideRequest) error
	History(ctx context.Context, passengerID string, limit int) ([]models.RideRequest, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

const archiveSQL = `INSERT INTO rides(
	id, passenger_id, driver_id, driver_name, class, status, fare, distance_km, duration_min,
	pickup_lat, pickup_lon, pickup_address, dest_lat, dest_lon, dest_address,
	payment_method_id, cancel_reason, cancelled_by, created_at, assigned_at, cancelled_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
ON CONFLICT (id) DO UPDATE SET
	driver_id=EXCLUDED.driver_id, driver_name=EXCLUDED.driver_name, status=EXCLUDED.status,
	cancel_reason=EXCLUDED.cancel_reason, cancelled_by=EXCLUDED.cancelled_by,
	assigned_at=EXCLUDED.assigned_at, cancelled_at=EXCLUDED.cancelled_at, updated_at=EXCLUDED.updated_at`

func (p *PostgresStore) Archive(ctx context.Context, r models.RideRequest) error {
	var driverID, driverName sql.NullString
	if r.Driver != nil {
		driverID = sql.NullString{String: r.Driver.ID, Valid: true}
		driverName = sql.NullString{String: r.Driver.Name, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, archiveSQL,
		r.ID, r.PassengerID, driverID, driverName, string(r.Class), string(r.Status), r.Fare, r.DistanceKm, r.DurationMin,
		r.Pickup.Coord.Lat, r.Pickup.Coord.Lon, r.Pickup.Address,
		r.Destination.Coord.Lat, r.Destination.Coord.Lon, r.Destination.Address,
		r.PaymentMethodID, nullString(string(r.CancelReason)), nullString(string(r.CancelledBy)),
		r.CreatedAt, nullTime(r.AssignedAt), nullTime(r.CancelledAt), time.Now())
	if err != nil {
		return fmt.Errorf("archive ride %s: %w", r.ID, err)
	}
	return nil
}

const historySQL = `SELECT id, passenger_id, driver_id, driver_name, class, status, fare, distance_km, duration_min,
	pickup_lat, pickup_lon, pickup_address, dest_lat, dest_lon, dest_address,
	payment_method_id, cancel_reason, cancelled_by, created_at, assigned_at, cancelled_at
FROM rides WHERE passenger_id = $1 ORDER BY created_at DESC LIMIT $2`

func (p *PostgresStore) History(ctx context.Context, passengerID string, limit int) ([]models.RideRequest, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx, historySQL, passengerID, limit)
	if err != nil {
		return nil, fmt.Errorf("ride history: %w", err)
	}
	defer rows.Close()

	var out []models.RideRequest
	for rows.Next() {
		var (
			r                       models.RideRequest
			class, st               string
			driverID, driverName    sql.NullString
			reason, by              sql.NullString
			assignedAt, cancelledAt sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.PassengerID, &driverID, &driverName, &class, &st, &r.Fare, &r.DistanceKm, &r.DurationMin,
			&r.Pickup.Coord.Lat, &r.Pickup.Coord.Lon, &r.Pickup.Address,
			&r.Destination.Coord.Lat, &r.Destination.Coord.Lon, &r.Destination.Address,
			&r.PaymentMethodID, &reason, &by, &r.CreatedAt, &assignedAt, &cancelledAt); err != nil {
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		r.Class = models.RideClass(class)
		r.Status = models.Status(st)
		if driverID.Valid {
			r.Driver = &models.DriverInfo{ID: driverID.String, Name: driverName.String}
		}
		r.CancelReason = models.CancelReason(reason.String)
		r.CancelledBy = models.Party(by.String)
		if assignedAt.Valid {
			t := assignedAt.Time
			r.AssignedAt = &t
		}
		if cancelledAt.Valid {
			t := cancelledAt.Time
			r.CancelledAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
