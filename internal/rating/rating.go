// Package rating implements post-trip settlement: star validation, comment
// suggestions and the once-per-ride rating write with the driver aggregate.
package rating

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
)

var (
	ErrRatingRequired   = errors.New("a star rating is required")
	ErrRatingOutOfRange = errors.New("rating must be between 1 and 5")
	ErrNotCompleted     = errors.New("only completed rides can be rated")
	ErrNoDriver         = errors.New("ride has no driver to rate")
	ErrAlreadyRated     = errors.New("ride already rated by this passenger")
)

const (
	MinStars = 1
	MaxStars = 5

	// OtherOption is the free-form chip appended to every suggestion list.
	OtherOption = "other"
)

var (
	negativeSuggestions = []string{
		"driver_late",
		"unsafe_driving",
		"rude_driver",
		"dirty_vehicle",
		"wrong_route",
		"overcharged",
	}
	positiveSuggestions = []string{
		"friendly_driver",
		"safe_driving",
		"clean_vehicle",
		"on_time",
		"good_route",
		"great_conversation",
	}
)

// Suggestions returns the comment chips for a star value. Ratings up to 3 get
// the negative list, higher ratings the positive one.
func Suggestions(stars int) []string {
	src := positiveSuggestions
	if stars <= 3 {
		src = negativeSuggestions
	}
	out := make([]string, 0, len(src)+1)
	out = append(out, src...)
	return append(out, OtherOption)
}

// CheckStars is the submission gate.
func CheckStars(stars int) error {
	if stars == 0 {
		return ErrRatingRequired
	}
	if stars < MinStars || stars > MaxStars {
		return fmt.Errorf("%w: %d", ErrRatingOutOfRange, stars)
	}
	return nil
}

// Store persists ratings and driver aggregates.
type Store interface {
	// Put writes r unless (ride, passenger) already has a rating, in which
	// case it returns ErrAlreadyRated.
	Put(ctx context.Context, r models.Rating) error
	// AddToAggregate atomically adds stars to the driver's (sum, count).
	AddToAggregate(ctx context.Context, driverID string, stars int) (models.DriverAggregate, error)
	Aggregate(ctx context.Context, driverID string) (models.DriverAggregate, error)
	// Reconcile recomputes the aggregate from the stored ratings.
	Reconcile(ctx context.Context, driverID string) (models.DriverAggregate, error)
}

// Input is what the settlement screen submits.
type Input struct {
	Stars    int      `json:"stars"`
	Comments []string `json:"comments,omitempty"`
	Other    string   `json:"other,omitempty"`
}

type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, now: time.Now, logger: logger}
}

// Submit validates in against the ride, writes the rating once and folds it
// into the driver aggregate.
func (s *Service) Submit(ctx context.Context, ride models.RideRequest, passengerID string, in Input) (models.DriverAggregate, error) {
	if err := CheckStars(in.Stars); err != nil {
		return models.DriverAggregate{}, err
	}
	if ride.Status != models.StatusCompleted {
		return models.DriverAggregate{}, fmt.Errorf("%w: status %s", ErrNotCompleted, ride.Status)
	}
	if !ride.HasDriver() {
		return models.DriverAggregate{}, ErrNoDriver
	}

	r := models.Rating{
		RideID:      ride.ID,
		PassengerID: passengerID,
		DriverID:    ride.Driver.ID,
		Stars:       in.Stars,
		Comments:    cleanComments(in.Comments),
		Other:       strings.TrimSpace(in.Other),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Put(ctx, r); err != nil {
		return models.DriverAggregate{}, err
	}
	agg, err := s.store.AddToAggregate(ctx, r.DriverID, r.Stars)
	if err != nil {
		// the rating row is the source of truth; Reconcile repairs the pair
		s.logger.Error("driver aggregate update failed", "ride_id", r.RideID, "driver_id", r.DriverID, "error", err)
		return models.DriverAggregate{}, fmt.Errorf("update driver aggregate: %w", err)
	}
	observability.RatingsSubmitted.WithLabelValues(fmt.Sprint(r.Stars)).Inc()
	s.logger.Info("ride rated", "ride_id", r.RideID, "driver_id", r.DriverID, "stars", r.Stars, "driver_mean", agg.Mean())
	return agg, nil
}

func (s *Service) Reconcile(ctx context.Context, driverID string) (models.DriverAggregate, error) {
	return s.store.Reconcile(ctx, driverID)
}

func cleanComments(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
