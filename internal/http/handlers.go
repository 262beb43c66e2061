package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/rating"
	"github.com/example/ride-lifecycle/internal/session"
)

const (
	headerPassengerID    = "X-Passenger-ID"
	headerPassengerName  = "X-Passenger-Name"
	headerPassengerPhone = "X-Passenger-Phone"
	headerPassengerPhoto = "X-Passenger-Photo"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func sessionFrom(r *http.Request) session.Context {
	return session.Context{
		PassengerID: r.Header.Get(headerPassengerID),
		Name:        r.Header.Get(headerPassengerName),
		Phone:       r.Header.Get(headerPassengerPhone),
		PhotoURL:    r.Header.Get(headerPassengerPhoto),
	}
}

// controller resolves the caller's session controller or writes the error.
func (s *Server) controller(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	c, err := s.sessions.Get(sessionFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return c, true
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var d session.Draft
	if err := decode(r, &d); err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := c.Quote(r.Context(), d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var d session.Draft
	if err := decode(r, &d); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := c.RequestRide(r.Context(), d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	st, err := c.Resume(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	rides, err := c.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rides == nil {
		rides = []models.RideRequest{}
	}
	writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handlePaymentMethods(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	methods, err := c.PaymentMethods(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, methods)
}

func (s *Server) handleCancelReasons(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.CancelReasons())
}

type holdRequest struct {
	Reason models.CancelReason `json:"reason,omitempty"`
}

// handleCancelHold starts the press-and-hold. The cancellation is written
// when the hold completes; its outcome arrives on the websocket.
func (s *Server) handleCancelHold(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req holdRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if err := c.BeginCancelHold(req.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, c.State())
}

func (s *Server) handleCancelRelease(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	aborted := c.ReleaseCancelHold()
	writeJSON(w, http.StatusOK, map[string]any{"aborted": aborted, "state": c.State()})
}

func (s *Server) handleRatingSuggestions(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	stars, err := strconv.Atoi(r.URL.Query().Get("stars"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "stars must be an integer")
		return
	}
	if err := rating.CheckStars(stars); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.RatingSuggestions(stars))
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var in rating.Input
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	agg, err := c.SubmitRating(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWS streams the passenger's controller events until the client goes
// away. The first frame is the current state.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	pid := c.PassengerID()
	ws := s.hub.Add(pid, conn)
	defer s.hub.Remove(pid, ws)

	st, err := c.Resume(r.Context())
	if err != nil {
		s.logger.Warn("resume on connect failed", "passenger_id", pid, "error", err)
	}
	if err := ws.Send(map[string]any{"kind": "state", "state": st}); err != nil {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
