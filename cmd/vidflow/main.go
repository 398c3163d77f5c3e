package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vidflow/internal/api"
	"vidflow/internal/catalog"
	"vidflow/internal/cleanup"
	"vidflow/internal/config"
	"vidflow/internal/history"
	"vidflow/internal/metrics"
	"vidflow/internal/orchestrator"
	"vidflow/internal/provider"
	"vidflow/internal/shortener"
	"vidflow/internal/store"
	"vidflow/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger := newLogger(cfg.Log)
	log.Logger = logger

	clock := clockwork.NewRealClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks, closeStore := openStore(ctx, cfg.Store, clock)
	defer closeStore()

	db, err := history.Open(cfg.History.Path)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.History.Path).Msg("open history db")
	}
	defer db.Close()

	pool := worker.NewPool(cfg.Server.Workers, logger)
	pool.OnChange(metrics.UpdatePipelinesRunning)

	svc := orchestrator.New(orchestrator.Deps{
		Store:    tasks,
		Vehicles: catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout),
		Generator: provider.NewClient(provider.Config{
			BaseURL:    cfg.Provider.BaseURL,
			APIKey:     cfg.Provider.APIKey,
			APIVersion: cfg.Provider.APIVersion,
			Model:      cfg.Provider.Model,
			Timeout:    cfg.Provider.Timeout,
		}, logger.With().Str("component", "provider").Logger()),
		Shortener: shortener.NewClient(cfg.Shortener.BaseURL, cfg.Shortener.Timeout, logger.With().Str("component", "shortener").Logger()),
		History:   history.NewSQLite(db),
		Pool:      pool,
		Clock:     clock,
		Log:       logger.With().Str("component", "orchestrator").Logger(),
	}, orchestrator.Config{
		PollInterval:    cfg.Pipeline.PollInterval,
		MaxPollAttempts: cfg.Pipeline.MaxPollAttempts,
		SyncAttempts:    cfg.Pipeline.SyncAttempts,
		SyncBackoff:     cfg.Pipeline.SyncBackoff,
		VideoField:      cfg.Catalog.VideoField,
		DefaultCountry:  cfg.Catalog.DefaultCountry,
	})

	sweeper, err := cleanup.NewSweeper(tasks, cfg.Cleanup.Schedule, cfg.Cleanup.Retention, clock, logger.With().Str("component", "cleanup").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("cleanup scheduler")
	}
	if err := sweeper.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start cleanup scheduler")
	}

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServerWithDebug(svc, logger.With().Str("component", "http").Logger(), cfg.Server.Debug),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Str("store", cfg.Store.Backend).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Info().Msg("shutting down")

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	sweeper.Stop()
	cancel()
	if err := pool.Shutdown(ctxTimeout); err != nil {
		logger.Warn().Err(err).Int("running", pool.Running()).Msg("pipelines still running at shutdown")
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func openStore(ctx context.Context, cfg config.StoreConfig, clock clockwork.Clock) (store.Store, func()) {
	if cfg.Backend != "redis" {
		return store.NewMemory(clock), func() {}
	}
	client, err := store.DialRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("connect task store")
	}
	r := store.NewRedis(client, clock)
	return r, func() { _ = r.Close() }
}
