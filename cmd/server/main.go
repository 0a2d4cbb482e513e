package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"plantwatch-backend/internal/api"
	"plantwatch-backend/internal/bus"
	"plantwatch-backend/internal/config"
	"plantwatch-backend/internal/historian"
	"plantwatch-backend/internal/livecache"
	"plantwatch-backend/internal/logger"
	"plantwatch-backend/internal/monitor"
	"plantwatch-backend/internal/monitor/memstore"
	"plantwatch-backend/internal/schemes"
	"plantwatch-backend/internal/storage"
	"plantwatch-backend/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var checks []api.Check

	var store monitor.Store
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		store = memstore.New()
	} else {
		pg, err := storage.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		store = storage.NewRepository(pg)
		checks = append(checks, api.Check{Name: "postgres", Probe: pg.Ping})
	}

	thresholds := monitor.BuiltinThresholds()
	if cfg.ThresholdsPath != "" {
		loaded, err := monitor.LoadThresholds(cfg.ThresholdsPath)
		if err != nil {
			return err
		}
		thresholds = loaded
		log.Info("threshold table loaded", zap.String("path", cfg.ThresholdsPath), zap.Strings("sensor_types", thresholds.SensorTypes()))
	}

	catalog, err := schemes.LoadCatalog(cfg.SchemeFallbackPath)
	if err != nil {
		return err
	}
	var primary monitor.SchemeMatcher
	if cfg.SchemeMatcherURL != "" {
		primary = schemes.NewClient(cfg.SchemeMatcherURL, cfg.SchemeMatcherToken, cfg.SchemeMatcherTimeout, log.Named("schemes"))
	} else {
		log.Info("SCHEME_MATCHER_URL not set, matching against the local catalog")
	}
	matcher := schemes.WithFallback(primary, catalog, log.Named("schemes"))

	hub := stream.NewHub(log.Named("stream"))
	go hub.Run(ctx)
	publishers := monitor.Publishers{hub}
	if cfg.NATSURL != "" {
		nc, err := bus.NewPublisher(cfg.NATSURL, cfg.ServiceName)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
		publishers = append(publishers, nc)
	}

	var cache monitor.LiveCache
	if cfg.RedisAddr != "" {
		rc, err := livecache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rc.Close()
		cache = rc
		checks = append(checks, api.Check{Name: "redis", Probe: rc.Ping})
	}

	engine := monitor.NewEngine(monitor.Options{
		Store:         store,
		Thresholds:    thresholds,
		Matcher:       matcher,
		Publisher:     publishers,
		Cache:         cache,
		Logger:        log.Named("engine"),
		CostThreshold: cfg.CostThreshold,
		MatchTimeout:  cfg.SchemeMatcherTimeout,
	})

	var puller api.HistorianPuller
	if cfg.Historian.Type != "" {
		p, err := openHistorian(ctx, cfg, engine, log.Named("historian"))
		if err != nil {
			return err
		}
		defer p.Close()
		puller = p
	}

	handler := api.NewHandler(engine, puller, hub, cfg.RequestTimeout, log.Named("api"))
	handler.Checks = checks

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("plantwatch listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openHistorian(ctx context.Context, cfg *config.Config, ingester historian.Ingester, log *zap.Logger) (*historian.Puller, error) {
	mapping, err := historian.LoadMapping(cfg.HistorianMappingPath)
	if err != nil {
		return nil, err
	}
	db, dialect, err := historian.Open(ctx, historian.ConnectionConfig{
		Type:     cfg.Historian.Type,
		Host:     cfg.Historian.Host,
		Port:     cfg.Historian.Port,
		User:     cfg.Historian.User,
		Password: cfg.Historian.Password,
		Database: cfg.Historian.Database,
		SSLMode:  cfg.Historian.SSLMode,
	})
	if err != nil {
		return nil, err
	}
	log.Info("historian connected", zap.String("type", dialect.Name()), zap.Int("machines", len(mapping)))
	return historian.NewPuller(db, dialect, mapping, ingester, log), nil
}
