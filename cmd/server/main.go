/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payout engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and environment configuration
  2. Initialize SQLite store
  3. Build the distance resolver (geocoder chain + cache)
  4. Load the tariff
  5. Wire reconciler, review sessions, janitor and HTTP handler
  6. Start server with graceful shutdown

ENVIRONMENT:
  See config/config.go. JWT_SECRET is required; everything else has a
  default. REDIS_ADDR switches the distance cache from memory to Redis.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (APP_SHUTDOWN_TIMEOUT)
  3. Stop the janitor
  4. Close database and Redis connections
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/payout-engine/api"
	"github.com/warp/payout-engine/config"
	"github.com/warp/payout-engine/factory"
	"github.com/warp/payout-engine/fee"
	"github.com/warp/payout-engine/geo"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/reconcile"
	"github.com/warp/payout-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	versions := payout.NewVersionStore(store)

	metrics := api.NewMetrics()
	janitor := api.NewJanitor(versions, logger)
	janitor.Interval = cfg.JanitorInterval

	// Distance resolver
	var cache geo.Cache
	if cfg.RedisAddr != "" {
		client, err := geo.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		cache = geo.NewRedisCache(client, cfg.DistanceCacheTTL)
		logger.Info("distance cache: redis", "addr", cfg.RedisAddr)
	} else {
		mem := geo.NewMemoryCache(cfg.DistanceCacheTTL, nil)
		janitor.Purgers["distance_cache"] = mem
		cache = mem
		logger.Info("distance cache: memory")
	}

	var geocoders geo.Chain
	if cfg.GeocoderYandexKey != "" {
		geocoders = append(geocoders, &geo.Yandex{APIKey: cfg.GeocoderYandexKey})
	}
	geocoders = append(geocoders, geo.NewNominatim(cfg.GeocoderUserAgent))

	resolver := geo.NewResolver(geo.Point{Lat: cfg.OriginLat, Lon: cfg.OriginLon}, geocoders, cache)
	resolver.RoadFactor = cfg.RoadFactor
	resolver.Area = geo.MoscowRegion{}
	resolver.Logger = logger
	resolver.Observe = metrics.ObserveGeocode

	// Tariff
	tariffs := factory.NewTariffFactory()
	tariff := fee.DefaultConfig()
	if cfg.TariffPath != "" {
		if tariff, err = tariffs.LoadFile(cfg.TariffPath); err != nil {
			return err
		}
		logger.Info("tariff loaded", "path", cfg.TariffPath, "breakpoints", len(tariff.FuelTariff))
	}

	sessions := reconcile.NewSessionStore(cfg.ReviewSessionTTL, nil)
	janitor.Purgers["review_sessions"] = sessions
	metrics.TrackSessions(sessions.Len)

	rec := &reconcile.Reconciler{
		Versions:      versions,
		Distances:     resolver,
		Sessions:      sessions,
		Logger:        logger,
		DefaultConfig: &tariff,
	}

	handler := api.NewHandler(versions, rec, tariffs)
	handler.Metrics = metrics
	handler.Logger = logger
	handler.MaxUploadBytes = cfg.MaxUploadBytes
	handler.Health = store.Ping

	router := api.NewRouter(handler, api.RouterOptions{
		Auth:            &api.Auth{Secret: []byte(cfg.JWTSecret)},
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		RequestTimeout:  cfg.AppWriteTimeout,
		Logger:          logger,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	janitor.Start()
	defer janitor.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.AppAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
