package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/storage"
)

// Routes under /internal stand in for the matching and driver actors that
// write to the shared ride store.

type assignRequest struct {
	Driver *models.DriverInfo `json:"driver,omitempty"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req assignRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	store := s.opts.Session.Store
	if req.Driver != nil {
		ride, err := store.Update(r.Context(), id, storage.Assign(*req.Driver, time.Now().UTC()))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ride)
		return
	}
	if s.opts.Matcher == nil {
		writeJSONError(w, http.StatusBadRequest, "driver is required when no matcher runs")
		return
	}
	ride, err := store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offer, ok, err := s.opts.Matcher.Match(r.Context(), ride, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		writeJSONError(w, http.StatusConflict, "no driver available")
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

type statusRequest struct {
	Status models.Status `json:"status,omitempty"`
	// PickedUp marks the passenger as on board without changing status.
	PickedUp bool                `json:"picked_up,omitempty"`
	Reason   models.CancelReason `json:"reason,omitempty"`
	By       models.Party        `json:"by,omitempty"`
}

func (req statusRequest) mutation(now time.Time) (storage.Mutation, bool) {
	switch {
	case req.PickedUp && req.Status == "":
		return storage.PickedUp(), true
	case req.Status == models.StatusDeclined:
		by := req.By
		if by == "" {
			by = models.PartyDriver
		}
		return storage.Cancel(by, req.Reason, now), true
	case req.Status.Valid():
		return storage.SetStatus(req.Status), true
	}
	return storage.Mutation{}, false
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req statusRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, ok := req.mutation(time.Now().UTC())
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "unknown status")
		return
	}
	ride, err := s.opts.Session.Store.Update(r.Context(), id, m)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

// handleDriverLocation takes a driver client's position report. It feeds the
// live feed, the nearby index and the ingest topic.
func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := decode(r, &d); err != nil {
		s.writeError(w, r, err)
		return
	}
	if d.ID == "" {
		writeJSONError(w, http.StatusBadRequest, "id is required")
		return
	}
	d.Online = true
	if d.Updated.IsZero() {
		d.Updated = time.Now().UTC()
	}
	observability.DriverLocations.Inc()

	sample := models.DriverLocationSample{DriverID: d.ID, Loc: d.Loc, UpdatedAt: d.Updated}
	switch {
	case s.opts.Geo != nil:
		// Upsert also publishes on the feed.
		s.opts.Geo.Upsert(d)
	case s.opts.Session.Feed != nil:
		if err := s.opts.Session.Feed.Publish(r.Context(), sample); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if s.opts.Locations != nil {
		if err := s.opts.Locations.PublishLocation(r.Context(), sample); err != nil {
			s.logger.Warn("kafka publish failed", "driver_id", d.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReconcileRatings rebuilds a driver's rating aggregate from history.
func (s *Server) handleReconcileRatings(w http.ResponseWriter, r *http.Request) {
	ratings := s.opts.Session.Ratings
	if ratings == nil {
		writeJSONError(w, http.StatusNotImplemented, "no rating store configured")
		return
	}
	agg, err := ratings.Reconcile(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}
