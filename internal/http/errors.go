package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/ride-lifecycle/internal/fare"
	"github.com/example/ride-lifecycle/internal/geo"
	"github.com/example/ride-lifecycle/internal/lifecycle"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/payments"
	"github.com/example/ride-lifecycle/internal/rating"
	"github.com/example/ride-lifecycle/internal/session"
	"github.com/example/ride-lifecycle/internal/storage"
)

var errBadBody = errors.New("malformed request body")

type errorBody struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, session.ErrNoActiveRide),
		errors.Is(err, session.ErrNothingToRate):
		return http.StatusNotFound
	case errors.Is(err, session.ErrRideInProgress),
		errors.Is(err, session.ErrCancelInProgress),
		errors.Is(err, session.ErrHoldActive),
		errors.Is(err, rating.ErrAlreadyRated),
		errors.Is(err, rating.ErrNotCompleted),
		errors.Is(err, rating.ErrNoDriver),
		errors.Is(err, storage.ErrTerminal),
		errors.Is(err, storage.ErrExists),
		errors.Is(err, storage.ErrConflict),
		errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, errBadBody),
		errors.Is(err, session.ErrReasonRequired),
		errors.Is(err, session.ErrInvalidReason),
		errors.Is(err, rating.ErrRatingRequired),
		errors.Is(err, rating.ErrRatingOutOfRange),
		errors.Is(err, fare.ErrUnknownClass),
		errors.Is(err, fare.ErrNegativeDistance),
		errors.Is(err, payments.ErrUnknownMethod),
		errors.Is(err, models.ErrMissingID),
		errors.Is(err, models.ErrMissingPassenger),
		errors.Is(err, models.ErrPartialDriverGroup),
		errors.Is(err, geo.ErrMissingDriver):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrRouteUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()), "error", err)
		msg = "internal error"
	}
	writeJSONError(w, code, msg)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(errBadBody, err)
	}
	return nil
}
