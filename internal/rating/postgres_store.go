package rating

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/ride-lifecycle/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const insertRatingSQL = `INSERT INTO ratings(ride_id, passenger_id, driver_id, stars, comments, other, created_at)
VALUES($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (ride_id, passenger_id) DO NOTHING`

func (p *PostgresStore) Put(ctx context.Context, r models.Rating) error {
	comments := r.Comments
	if comments == nil {
		comments = []string{}
	}
	res, err := p.db.ExecContext(ctx, insertRatingSQL,
		r.RideID, r.PassengerID, r.DriverID, r.Stars, pq.Array(comments), r.Other, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyRated
	}
	return nil
}

const bumpAggregateSQL = `INSERT INTO driver_ratings(driver_id, rating_sum, rating_count)
VALUES($1, $2, 1)
ON CONFLICT (driver_id) DO UPDATE SET
	rating_sum = driver_ratings.rating_sum + EXCLUDED.rating_sum,
	rating_count = driver_ratings.rating_count + 1
RETURNING rating_sum, rating_count`

func (p *PostgresStore) AddToAggregate(ctx context.Context, driverID string, stars int) (models.DriverAggregate, error) {
	a := models.DriverAggregate{DriverID: driverID}
	if err := p.db.QueryRowContext(ctx, bumpAggregateSQL, driverID, stars).Scan(&a.Sum, &a.Count); err != nil {
		return models.DriverAggregate{}, fmt.Errorf("bump aggregate: %w", err)
	}
	return a, nil
}

func (p *PostgresStore) Aggregate(ctx context.Context, driverID string) (models.DriverAggregate, error) {
	a := models.DriverAggregate{DriverID: driverID}
	err := p.db.QueryRowContext(ctx,
		`SELECT rating_sum, rating_count FROM driver_ratings WHERE driver_id = $1`, driverID).Scan(&a.Sum, &a.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return a, nil
	}
	if err != nil {
		return models.DriverAggregate{}, err
	}
	return a, nil
}

const reconcileSQL = `INSERT INTO driver_ratings(driver_id, rating_sum, rating_count)
SELECT $1, COALESCE(SUM(stars), 0), COUNT(*) FROM ratings WHERE driver_id = $1
ON CONFLICT (driver_id) DO UPDATE SET
	rating_sum = EXCLUDED.rating_sum,
	rating_count = EXCLUDED.rating_count
RETURNING rating_sum, rating_count`

func (p *PostgresStore) Reconcile(ctx context.Context, driverID string) (models.DriverAggregate, error) {
	a := models.DriverAggregate{DriverID: driverID}
	if err := p.db.QueryRowContext(ctx, reconcileSQL, driverID).Scan(&a.Sum, &a.Count); err != nil {
		return models.DriverAggregate{}, fmt.Errorf("reconcile aggregate: %w", err)
	}
	return a, nil
}
