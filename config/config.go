// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the server.
type Config struct {
	AppAddr         string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout  time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"APP_SHUTDOWN_TIMEOUT" default:"30s"`

	DBPath string `envconfig:"DB_PATH" default:"payout.db"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// RedisAddr empty means the in-memory distance cache.
	RedisAddr        string        `envconfig:"REDIS_ADDR"`
	DistanceCacheTTL time.Duration `envconfig:"DISTANCE_CACHE_TTL" default:"720h"`

	ReviewSessionTTL time.Duration `envconfig:"REVIEW_SESSION_TTL" default:"2h"`
	JanitorInterval  time.Duration `envconfig:"JANITOR_INTERVAL" default:"5m"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	GeocoderYandexKey string  `envconfig:"GEOCODER_YANDEX_KEY"`
	GeocoderUserAgent string  `envconfig:"GEOCODER_USER_AGENT" default:"payout-engine/1.0"`
	OriginLat         float64 `envconfig:"ORIGIN_LAT" default:"55.7558"`
	OriginLon         float64 `envconfig:"ORIGIN_LON" default:"37.6173"`
	RoadFactor        float64 `envconfig:"ROAD_FACTOR" default:"1.4"`

	// TariffPath empty means the built-in tariff.
	TariffPath string `envconfig:"TARIFF_PATH"`

	RateLimitPerMin int      `envconfig:"RATE_LIMIT_PER_MIN" default:"300"`
	CORSOrigins     []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`
	MaxUploadBytes  int64    `envconfig:"MAX_UPLOAD_BYTES" default:"33554432"`
}

// Load reads an optional .env file from the working directory, then the
// environment. Variables already set win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return FromEnv()
}

// FromEnv reads configuration from environment variables only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("jwt secret must be provided")
	}
	if cfg.RoadFactor < 1 {
		return nil, errors.New("road factor must be at least 1")
	}
	return &cfg, nil
}

// NewLogger returns a configured slog.Logger based on configuration.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: slog.LevelInfo}
	if cfg != nil {
		opts.Level = parseLevel(cfg.LogLevel)
	}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}
