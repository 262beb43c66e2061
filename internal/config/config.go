package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/ride-lifecycle/internal/fare"
	"github.com/example/ride-lifecycle/internal/models"
)

// Ride store backends.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
)

// ServerConfig captures all tunable parameters for the BFF process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	StoreBackend     string
	FirestoreProject string
	GoogleCredsFile  string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers       []string
	KafkaLocationTopic string
	KafkaStatusTopic   string

	PGDSN string

	OSRMURL       string
	GoogleMapsKey string
	MapsLanguage  string
	RouteCacheTTL time.Duration

	StripeKey       string
	StripeCustomers map[string]string

	RelayEndpoint string

	FareTable      map[models.RideClass]fare.Rates
	FareIncludedKm float64
	FareUnit       int64

	CancelHold          time.Duration
	RequireCancelReason bool

	MatcherEnabled  bool
	MatcherInterval time.Duration
	DefaultSpeedMps float64
	MatcherTopN     int

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		StoreBackend:        BackendMemory,
		RedisGeoKey:         "drivers_geo",
		KafkaLocationTopic:  "driver-locations",
		KafkaStatusTopic:    "ride-status-changes",
		MapsLanguage:        "en",
		RouteCacheTTL:       5 * time.Minute,
		FareTable:           fare.DefaultTable(),
		FareIncludedKm:      3,
		FareUnit:            50,
		CancelHold:          time.Second,
		RequireCancelReason: true,
		MatcherInterval:     2 * time.Second,
		DefaultSpeedMps:     8,
		MatcherTopN:         8,
		LogLevel:            "info",
	}
}

// LoadServerConfig reads .env when present, then the environment.
func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error
	loadDotEnv(&errs)

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.StoreBackend, "RIDE_STORE")
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	setStringFromEnv(&cfg.FirestoreProject, "FIRESTORE_PROJECT")
	setStringFromEnv(&cfg.GoogleCredsFile, "GOOGLE_APPLICATION_CREDENTIALS")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaLocationTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaStatusTopic, "KAFKA_STATUS_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.OSRMURL, "OSRM_URL")
	setStringFromEnv(&cfg.GoogleMapsKey, "GOOGLE_MAPS_API_KEY")
	setStringFromEnv(&cfg.MapsLanguage, "MAPS_LANGUAGE")
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)

	cfg.StripeKey = os.Getenv("STRIPE_API_KEY")
	if v := os.Getenv("STRIPE_CUSTOMERS"); v != "" {
		m, err := parsePairs(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid STRIPE_CUSTOMERS: %w", err))
		}
		cfg.StripeCustomers = m
	}

	setStringFromEnv(&cfg.RelayEndpoint, "RELAY_ENDPOINT")

	setFareFromEnv(cfg.FareTable, models.ClassPrivate, "FARE_BASE_PRIVATE", &errs)
	setFareFromEnv(cfg.FareTable, models.ClassMoto, "FARE_BASE_MOTO", &errs)
	var perKm float64
	setFloatFromEnv(&perKm, "FARE_PER_KM", &errs)
	if perKm > 0 {
		for class, r := range cfg.FareTable {
			r.PerKm = perKm
			cfg.FareTable[class] = r
		}
	}
	setFloatFromEnv(&cfg.FareIncludedKm, "FARE_INCLUDED_KM", &errs)
	var unit int
	setIntFromEnv(&unit, "FARE_ROUNDING_UNIT", &errs)
	if unit != 0 {
		cfg.FareUnit = int64(unit)
	}

	setDurationFromEnv(&cfg.CancelHold, "CANCEL_HOLD", &errs)
	setBoolFromEnv(&cfg.RequireCancelReason, "CANCEL_REASON_REQUIRED", &errs)

	setBoolFromEnv(&cfg.MatcherEnabled, "MATCHER_ENABLED", &errs)
	setDurationFromEnv(&cfg.MatcherInterval, "MATCHER_INTERVAL", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedMps, "MATCHER_DEFAULT_SPEED_MPS", &errs)
	setIntFromEnv(&cfg.MatcherTopN, "MATCHER_TOP_N", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

// NewFareCalculator builds the calculator described by the fare settings.
func (c ServerConfig) NewFareCalculator() *fare.Calculator {
	return fare.NewWithTable(c.FareTable, c.FareIncludedKm, c.FareUnit)
}

func (c ServerConfig) validate() []error {
	var errs []error
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("RIDE_STORE=redis requires REDIS_ADDR"))
		}
	case BackendFirestore:
		if c.FirestoreProject == "" {
			errs = append(errs, fmt.Errorf("RIDE_STORE=firestore requires FIRESTORE_PROJECT"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RIDE_STORE %q", c.StoreBackend))
	}
	if c.MatcherTopN <= 0 {
		errs = append(errs, fmt.Errorf("MATCHER_TOP_N must be > 0"))
	}
	if c.FareUnit <= 0 {
		errs = append(errs, fmt.Errorf("FARE_ROUNDING_UNIT must be > 0"))
	}
	if c.FareIncludedKm < 0 {
		errs = append(errs, fmt.Errorf("FARE_INCLUDED_KM must be >= 0"))
	}
	if c.CancelHold <= 0 {
		errs = append(errs, fmt.Errorf("CANCEL_HOLD must be > 0"))
	}
	return errs
}

// ConsumerConfig drives cmd/consumer.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "driver-locations",
		KafkaGroup:   "ride-lifecycle-consumer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "drivers_geo",
		LogLevel:     "info",
	}
	var errs []error
	loadDotEnv(&errs)

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}
	return cfg, errors.Join(errs...)
}

func loadDotEnv(errs *[]error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		*errs = append(*errs, fmt.Errorf("load .env: %w", err))
	}
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setFareFromEnv(table map[models.RideClass]fare.Rates, class models.RideClass, key string, errs *[]error) {
	r := table[class]
	base := r.Base
	setFloatFromEnv(&base, key, errs)
	r.Base = base
	table[class] = r
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// parsePairs reads "a=1,b=2".
func parsePairs(v string) (map[string]string, error) {
	out := make(map[string]string)
	for _, p := range splitAndTrim(v) {
		k, val, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return out, fmt.Errorf("bad pair %q", p)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}
	return out, nil
}
