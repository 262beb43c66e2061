package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-lifecycle/internal/config"
	"github.com/example/ride-lifecycle/internal/geo"
	httpapi "github.com/example/ride-lifecycle/internal/http"
	"github.com/example/ride-lifecycle/internal/ingest"
	"github.com/example/ride-lifecycle/internal/logging"
	"github.com/example/ride-lifecycle/internal/matcher"
	"github.com/example/ride-lifecycle/internal/payments"
	"github.com/example/ride-lifecycle/internal/rating"
	"github.com/example/ride-lifecycle/internal/relay"
	"github.com/example/ride-lifecycle/internal/routing"
	"github.com/example/ride-lifecycle/internal/session"
	"github.com/example/ride-lifecycle/internal/storage"
)

var migrations = []string{"001_create_rides.sql", "002_create_ratings.sql"}

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("ride-bff", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	}()

	var rc *redis.Client
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		closers = append(closers, rc)
	}

	// Driver locations: redis when available so the consumer and every BFF
	// replica share one index.
	var locations interface {
		geo.Feed
		geo.Geo
	}
	if rc != nil {
		locations = geo.NewRedisGeo(rc, cfg.RedisGeoKey, logger)
	} else {
		locations = geo.NewIndex()
	}

	var store storage.RideStore
	switch cfg.StoreBackend {
	case config.BackendRedis:
		store = storage.NewRedisStore(rc, logger)
	case config.BackendFirestore:
		fs, err := storage.NewFirestoreStore(ctx, cfg.FirestoreProject, cfg.GoogleCredsFile, logger)
		if err != nil {
			return err
		}
		closers = append(closers, fs)
		store = fs
	default:
		store = storage.NewMemoryStore()
	}

	var ratingStore rating.Store = rating.NewMemoryStore()
	if rc != nil {
		ratingStore = rating.NewRedisStore(rc)
	}
	var history storage.HistoryStore
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		closers = append(closers, pg)
		if cfg.RunMigrations {
			if err := migrate(ctx, pg, logger); err != nil {
				return err
			}
		}
		history = pg
		ratingStore = rating.NewPostgresStore(pg.DB())
	}

	var publishers relay.Fanout
	var kafka *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kafka = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic, cfg.KafkaStatusTopic)
		closers = append(closers, kafka)
		publishers = append(publishers, kafka)
	}
	if cfg.RelayEndpoint != "" {
		publishers = append(publishers, relay.NewHTTPRelay(cfg.RelayEndpoint, logger))
	}
	if len(publishers) > 0 {
		store = storage.WithEvents(store, publishers, logger)
	}

	router, err := newRouter(cfg)
	if err != nil {
		return err
	}

	var registry payments.Registry = payments.NewStaticRegistry()
	if cfg.StripeKey != "" {
		registry = payments.NewStripeRegistry(cfg.StripeKey, func(passengerID string) (string, bool) {
			id, ok := cfg.StripeCustomers[passengerID]
			return id, ok
		})
	}

	m := &matcher.Service{
		Geo:             locations,
		Store:           store,
		Router:          router,
		DefaultSpeedMps: cfg.DefaultSpeedMps,
		TopN:            cfg.MatcherTopN,
		Logger:          logger.With("component", "matcher"),
	}
	if cfg.MatcherEnabled {
		go m.Run(ctx, cfg.MatcherInterval)
	}

	opts := httpapi.Options{
		Session: session.Deps{
			Store:                        store,
			Feed:                         locations,
			Router:                       router,
			Payments:                     registry,
			Fares:                        cfg.NewFareCalculator(),
			Ratings:                      rating.NewService(ratingStore, logger),
			History:                      history,
			Logger:                       logger,
			HoldDuration:                 cfg.CancelHold,
			RequireReasonAfterAssignment: cfg.RequireCancelReason,
		},
		Geo:     locations,
		Matcher: m,
		Logger:  logger,
	}
	if kafka != nil {
		opts.Locations = kafka
	}
	api, err := httpapi.New(opts)
	if err != nil {
		return err
	}
	defer api.Close()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-lifecycle BFF listening", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRouter picks OSRM, then Google Maps, then straight-line estimates.
func newRouter(cfg config.ServerConfig) (routing.Client, error) {
	var base routing.Client = routing.StraightLine{}
	switch {
	case cfg.OSRMURL != "":
		base = routing.NewOSRMClient(cfg.OSRMURL)
	case cfg.GoogleMapsKey != "":
		gm, err := routing.NewGoogleMapsClient(cfg.GoogleMapsKey, cfg.MapsLanguage)
		if err != nil {
			return nil, fmt.Errorf("google maps: %w", err)
		}
		base = gm
	}
	return routing.WithCache(base, cfg.RouteCacheTTL), nil
}

func migrate(ctx context.Context, pg *storage.PostgresStore, logger *slog.Logger) error {
	for _, name := range migrations {
		b, err := os.ReadFile(filepath.Join("migrations", name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, err = pg.DB().ExecContext(ctx, string(b))
		cancel()
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		logger.Info("migration applied", "file", name)
	}
	return nil
}
