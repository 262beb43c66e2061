package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-lifecycle/internal/config"
	"github.com/example/ride-lifecycle/internal/geo"
	"github.com/example/ride-lifecycle/internal/logging"
	"github.com/example/ride-lifecycle/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	feedUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_feed_updates_total",
		Help: "Total driver samples written to the location feed",
	})
	feedErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_feed_errors_total",
		Help: "Total driver samples that could not be written",
	})
)

var errInvalidSample = errors.New("invalid driver location sample")

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, feedUpdates, feedErrors)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("location-consumer", cfg.LogLevel)

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	feed := geo.NewRedisGeo(rc, cfg.RedisGeoKey, logger)

	go serveHealth(cfg.MetricsAddr, rc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	consume(ctx, r, feed, logger)
}

func serveHealth(addr string, rc *redis.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// consume reads until ctx is done, backing off on broker errors.
func consume(ctx context.Context, r messageReader, sink LocationSink, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff.String())
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		s, err := decodeSample(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}
		if err := publishWithRetry(ctx, sink, s, 3, 200*time.Millisecond); err != nil {
			feedErrors.Inc()
			logger.Warn("feed update failed", "driver_id", s.DriverID, "error", err)
			continue
		}
		feedUpdates.Inc()
	}
}

func decodeSample(b []byte) (models.DriverLocationSample, error) {
	var s models.DriverLocationSample
	if err := json.Unmarshal(b, &s); err != nil {
		return s, errors.Join(errInvalidSample, err)
	}
	if s.DriverID == "" {
		return s, fmt.Errorf("%w: missing driver_id", errInvalidSample)
	}
	if s.Loc.Lat < -90 || s.Loc.Lat > 90 || s.Loc.Lon < -180 || s.Loc.Lon > 180 {
		return s, fmt.Errorf("%w: coordinates out of range", errInvalidSample)
	}
	return s, nil
}

// LocationSink is the part of the location feed the consumer writes to.
type LocationSink interface {
	Publish(ctx context.Context, s models.DriverLocationSample) error
}

// publishWithRetry writes s with doubling delays between attempts.
func publishWithRetry(ctx context.Context, sink LocationSink, s models.DriverLocationSample, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = sink.Publish(ctx, s); err == nil {
			return nil
		}
		if i == attempts-1 || !sleep(ctx, delay) {
			break
		}
		delay *= 2
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
