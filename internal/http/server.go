package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-lifecycle/internal/geo"
	"github.com/example/ride-lifecycle/internal/matcher"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/relay"
	"github.com/example/ride-lifecycle/internal/session"
)

// LocationPublisher forwards driver samples to the ingest pipeline.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, s models.DriverLocationSample) error
}

// Options wires the BFF. Session.Store and Session.Feed are shared with the
// actor routes.
type Options struct {
	Session session.Deps
	// Geo receives driver upserts from the location route. Optional.
	Geo geo.Geo
	// Matcher serves assign requests without an explicit driver. Optional.
	Matcher *matcher.Service
	// Locations is the Kafka producer. Optional.
	Locations LocationPublisher
	Logger    *slog.Logger
}

type Server struct {
	opts     Options
	sessions *session.Manager
	hub      *relay.Hub
	mux      *mux.Router
	logger   *slog.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Session.Store == nil {
		return nil, errors.New("httpapi: ride store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Session.Logger == nil {
		opts.Session.Logger = logger
	}
	s := &Server{
		opts:   opts,
		hub:    relay.NewHub(logger),
		mux:    mux.NewRouter(),
		logger: logger,
	}
	s.sessions = session.NewManager(opts.Session, s.notify)
	s.registerMiddleware()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides/quote", s.handleQuote).Methods(http.MethodPost)
	api.HandleFunc("/rides", s.handleRequestRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/current", s.handleCurrent).Methods(http.MethodGet)
	api.HandleFunc("/rides/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/rides/current/cancel-reasons", s.handleCancelReasons).Methods(http.MethodGet)
	api.HandleFunc("/rides/current/cancel/hold", s.handleCancelHold).Methods(http.MethodPost)
	api.HandleFunc("/rides/current/cancel/release", s.handleCancelRelease).Methods(http.MethodPost)
	api.HandleFunc("/rides/current/rating/suggestions", s.handleRatingSuggestions).Methods(http.MethodGet)
	api.HandleFunc("/rides/current/rating", s.handleRating).Methods(http.MethodPost)
	api.HandleFunc("/payment-methods", s.handlePaymentMethods).Methods(http.MethodGet)
	s.mux.HandleFunc("/ws/rides", s.handleWS).Methods(http.MethodGet)

	internal := s.mux.PathPrefix("/internal").Subrouter()
	internal.HandleFunc("/rides/{id}/assign", s.handleAssign).Methods(http.MethodPost)
	internal.HandleFunc("/rides/{id}/status", s.handleStatus).Methods(http.MethodPost)
	internal.HandleFunc("/driver/locations", s.handleDriverLocation).Methods(http.MethodPost)
	internal.HandleFunc("/drivers/{id}/ratings/reconcile", s.handleReconcileRatings).Methods(http.MethodPost)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Close drops every passenger session.
func (s *Server) Close() { s.sessions.Close() }

// notify pushes a controller event to the passenger's websocket, if any.
func (s *Server) notify(passengerID string, ev session.Event) {
	if err := s.hub.Send(passengerID, ev); err != nil && !errors.Is(err, relay.ErrNoSession) {
		s.logger.Debug("event not delivered", "passenger_id", passengerID, "kind", ev.Kind, "error", err)
	}
}
