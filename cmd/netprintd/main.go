package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/api"
	"github.com/orrn/netprint/internal/api/handlers"
	"github.com/orrn/netprint/internal/archive"
	"github.com/orrn/netprint/internal/backend"
	"github.com/orrn/netprint/internal/capabilities"
	"github.com/orrn/netprint/internal/config"
	"github.com/orrn/netprint/internal/db"
	"github.com/orrn/netprint/internal/discovery"
	"github.com/orrn/netprint/internal/keepalive"
	"github.com/orrn/netprint/internal/loop"
	"github.com/orrn/netprint/internal/metrics"
	"github.com/orrn/netprint/internal/service"
	"github.com/orrn/netprint/internal/webhook"
)

const purgeInterval = 24 * time.Hour

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("netprint stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	logger.Info("database initialized", zap.String("path", cfg.Database.Path))

	if err := os.MkdirAll(cfg.Server.SpoolDir, 0o750); err != nil {
		return fmt.Errorf("create spool directory: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sources := []discovery.Source{discovery.NewManualSource(cfg.Discovery, logger)}
	if cfg.Discovery.MDNSEnabled {
		sources = append(sources, discovery.NewMDNSSource(cfg.Discovery, logger))
	}
	hub := discovery.NewHub(logger, m, sources...)
	defer hub.Close()

	cache := capabilities.NewCache(capabilities.NewTCPProber(cfg.Capabilities.DefaultFormats), cfg.Capabilities, logger, m)
	defer cache.Close()

	raw := backend.NewRawSocket(cfg.Backend, logger)
	defer raw.Close()

	sender := webhook.NewSender(cfg.Webhooks, webhook.Options{}, logger, m)
	sender.Start()
	defer sender.Stop()

	// The loop outlives ctx so that Close can still persist state on it.
	control := loop.New(logger.Named("loop"))
	go control.Run(context.Background())
	defer control.Stop()

	events := handlers.NewEventHub(logger)
	svc := service.New(cfg, service.Deps{
		Exec:      control,
		Discovery: hub,
		Resolver:  cache,
		Backend:   raw,
		KeepAlive: keepalive.New(logger, m),
		Store:     store,
		History:   store,
		Events:    events,
		Notifier:  sender,
		Metrics:   m,
	}, logger)

	if err := svc.Init(ctx); err != nil {
		return err
	}
	if err := svc.StartDiscovery(nil); err != nil {
		return err
	}

	archiver := archive.NewArchiver(svc, func(ctx context.Context) int {
		return store.HistoryDays(ctx, cfg.Database.HistoryDays)
	}, purgeInterval, logger)
	archiver.Start()
	defer archiver.Stop()

	router, err := api.NewRouter(ctx, api.Deps{
		Config:   cfg,
		Service:  svc,
		Settings: store,
		Events:   events,
		Metrics:  m,
		Gatherer: reg,
	}, logger)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	events.Close()
	archiver.Stop()

	if err := svc.Close(shutdownCtx); err != nil {
		logger.Warn("print service close", zap.Error(err))
	}
	return nil
}
