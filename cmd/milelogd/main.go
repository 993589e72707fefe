// Package main is the entry point for the milelog daemon.
// Its sole responsibility is wiring dependencies together and starting the
// sample feed, the tracker, the sync engine, and the HTTP server.
// No business logic belongs here.
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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"milelog/internal/config"
	"milelog/internal/domain"
	"milelog/internal/geocode"
	"milelog/internal/handler"
	"milelog/internal/localstore"
	"milelog/internal/metrics"
	"milelog/internal/middleware"
	"milelog/internal/remotestore"
	"milelog/internal/sample"
	"milelog/internal/syncer"
	"milelog/internal/tracker"
)

func main() {
	// --- Config -----------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	// --- Logger -----------------------------------------------------------
	// JSON handler writes machine-readable output suitable for log
	// aggregators.
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// --- Local store ------------------------------------------------------
	store, err := localstore.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open local store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("local store ready", "path", cfg.DBPath)

	// --- Remote store (optional) -----------------------------------------
	// Without a DATABASE_URL the daemon runs offline-only: trips accumulate
	// locally and in the operation queue until a remote is configured.
	var remote syncer.RemoteStore
	if cfg.RemoteDatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.RemoteDatabaseURL)
		if err != nil {
			slog.Error("failed to create remote database pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		remote = remotestore.New(pool)
		slog.Info("remote store configured")
	}

	// --- Collaborators ----------------------------------------------------
	collector := metrics.NewCollector()

	var geocoder geocode.Geocoder = geocode.Static{}
	if cfg.GeocoderURL != "" {
		geocoder = geocode.NewHTTP(cfg.GeocoderURL, logger)
	}

	// --- Sync engine ------------------------------------------------------
	engine := syncer.New(syncer.Config{
		UserID:       cfg.UserID,
		StartupDelay: cfg.SyncStartupDelay,
		Interval:     cfg.SyncInterval,
	}, store, remote, collector, logger)

	// --- Tracker ----------------------------------------------------------
	trk := tracker.New(tracker.Config{
		UserID:             cfg.UserID,
		DrivingSpeedMPH:    cfg.DrivingSpeedMPH,
		StationaryDuration: cfg.StationaryDuration,
		MinTripMiles:       cfg.MinTripMiles,
		WatchdogInterval:   cfg.WatchdogInterval,
	}, store, geocoder, nil, tracker.LogNotifier{Log: logger}, collector, logger)
	// A finished trip nudges the sync engine instead of waiting out the
	// periodic interval.
	trk.OnCompleted(func(domain.Trip) { engine.TriggerSync() })

	// --- Sample source ----------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var source sample.Source
	if cfg.NATSURL != "" {
		source = sample.NewNATS(cfg.NATSURL, cfg.UserID, logger)
		if err := source.Start(ctx); err != nil {
			slog.Error("failed to start sample source", "error", err)
			os.Exit(1)
		}
		defer source.Stop()
	} else {
		// No feed configured: the daemon still serves manual trip control
		// and sync; a mirrored trip from a previous run becomes an orphan.
		source = sample.NewChannel(0)
		slog.Warn("no NATS_URL configured, automatic detection disabled")
	}

	// --- Crash recovery ---------------------------------------------------
	// Must run before samples flow so a mirrored trip is classified while
	// state is quiescent.
	if err := trk.RecoverOnStartup(ctx, source.Running()); err != nil {
		slog.Error("startup recovery failed", "error", err)
		os.Exit(1)
	}

	go trk.Run(ctx, source.Samples())
	go engine.Run(ctx)

	// --- Router -----------------------------------------------------------
	// Middleware order: RequestID → RealIP → SlogLogger → Recoverer.
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewSlogLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewCORSHandler(cfg.CORSOrigins))
	r.Use(middleware.NewMaxBodySizeHandler(1 << 20))

	srv := handler.NewServer(store, trk, engine, cfg.UserID)
	r.Mount("/", srv.Routes(collector.Handler()))

	// --- HTTP server ------------------------------------------------------
	// Explicit timeouts prevent slowloris and resource exhaustion.
	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	slog.Info("shutting down")

	// Stop the feed and background loops first so no new state mutations
	// race the final progress mirror write.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	slog.Info("stopped")
}
