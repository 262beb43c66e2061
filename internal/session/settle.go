package session

import (
	"context"
	"errors"

	"github.com/example/ride-lifecycle/internal/lifecycle"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/rating"
)

var ErrNothingToRate = errors.New("no completed ride awaiting a rating")

// RatingSuggestions returns the comment chips for stars.
func (c *Controller) RatingSuggestions(stars int) []string { return rating.Suggestions(stars) }

// SubmitRating rates the driver of the completed ride, once.
func (c *Controller) SubmitRating(ctx context.Context, in rating.Input) (models.DriverAggregate, error) {
	if err := rating.CheckStars(in.Stars); err != nil {
		return models.DriverAggregate{}, err
	}
	c.mu.Lock()
	if c.reducer == nil || c.reducer.Phase() != lifecycle.PhaseCompleted || !c.awaitingRating && !c.rated {
		c.mu.Unlock()
		return models.DriverAggregate{}, ErrNothingToRate
	}
	if c.rated || c.ratingInFlight {
		c.mu.Unlock()
		return models.DriverAggregate{}, rating.ErrAlreadyRated
	}
	c.ratingInFlight = true
	snap, _ := c.reducer.Snapshot()
	c.mu.Unlock()

	agg, err := c.deps.Ratings.Submit(ctx, snap, c.sess.PassengerID, in)

	c.mu.Lock()
	c.ratingInFlight = false
	if err == nil || errors.Is(err, rating.ErrAlreadyRated) {
		c.rated = true
		c.awaitingRating = false
	}
	c.mu.Unlock()
	if err != nil {
		return models.DriverAggregate{}, err
	}
	c.emit(Event{Kind: EventRated, RideID: snap.ID, Phase: lifecycle.PhaseCompleted})
	return agg, nil
}
