package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healstack/heal-engine/internal/api"
	"github.com/healstack/heal-engine/internal/cache"
	"github.com/healstack/heal-engine/internal/classify"
	"github.com/healstack/heal-engine/internal/config"
	"github.com/healstack/heal-engine/internal/detect"
	"github.com/healstack/heal-engine/internal/exec"
	"github.com/healstack/heal-engine/internal/ingest"
	"github.com/healstack/heal-engine/internal/knowledge"
	"github.com/healstack/heal-engine/internal/loop"
	"github.com/healstack/heal-engine/internal/metrics"
	"github.com/healstack/heal-engine/internal/plan"
	"github.com/healstack/heal-engine/internal/repo"
	"github.com/healstack/heal-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting heal-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var snapshots cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		if cfg.Cache.Addr != "" {
			provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
				Addr:         cfg.Cache.Addr,
				Username:     cfg.Cache.Username,
				Password:     cfg.Cache.Password,
				DB:           cfg.Cache.DB,
				DialTimeout:  cfg.Cache.DialTimeout,
				ReadTimeout:  cfg.Cache.ReadTimeout,
				WriteTimeout: cfg.Cache.WriteTimeout,
				MaxRetries:   cfg.Cache.MaxRetries,
				TLS:          cfg.Cache.TLS,
			})
			if err != nil {
				logger.Warn("valkey snapshot cache unavailable", slog.Any("error", err))
			} else {
				snapshots = provider
			}
		} else {
			snapshots = cache.NewMemoryProvider()
		}
	}
	defer snapshots.Close()

	var archive knowledge.Archiver
	if cfg.Archive.Endpoint != "" {
		archive = repo.NewHistoryArchive(cfg.Archive.Endpoint, cfg.Archive.APIKey, cfg.Archive.Timeout)
	}

	store := knowledge.NewStore(logger, cfg.Loop.DecayAlpha, archive, snapshots, cfg.Cache.SnapshotTTL)
	if err := store.RestoreSnapshot(context.Background()); err != nil {
		logger.Warn("weight snapshot restore failed", slog.Any("error", err))
	}

	baselines, err := detect.LoadBaselines(cfg.Rules.BaselinePath)
	if err != nil {
		logger.Error("failed to load baseline table", slog.String("path", cfg.Rules.BaselinePath), slog.Any("error", err))
		os.Exit(1)
	}
	detector := detect.NewDetector(logger, baselines, cfg.Loop.AnomalyCooldown)

	classifier, err := classify.NewClassifier(cfg.Rules.SeverityPath, logger)
	if err != nil {
		logger.Error("failed to load severity rules", slog.String("path", cfg.Rules.SeverityPath), slog.Any("error", err))
		os.Exit(1)
	}

	policies, err := plan.LoadPolicies(cfg.Rules.PolicyPath)
	if err != nil {
		logger.Error("failed to load policy table", slog.String("path", cfg.Rules.PolicyPath), slog.Any("error", err))
		os.Exit(1)
	}
	planner := plan.NewPlanner(logger, policies, store)

	var capability exec.Capability
	if cfg.Actions.Endpoint != "" {
		capability = repo.NewWebhookCapability(cfg.Actions.Endpoint, cfg.Actions.Timeout)
	}
	executor := exec.NewExecutor(logger, capability, cfg.Loop.ActionTimeout, cfg.Loop.MaxIdempotentRetries)

	buffer := ingest.NewBuffer(cfg.Loop.BufferSize)
	source := repo.NewMetricSource(cfg.Source.BaseURL, cfg.Source.MetricsPath, cfg.Source.Timeout)
	poller := ingest.NewPoller(logger, source, buffer, cfg.Loop.PollInterval)

	controller := loop.NewController(logger, buffer, detector, classifier, planner, executor, store, loop.Options{
		MonitorTimeout: cfg.Loop.MonitorTimeout,
		CycleCooldown:  cfg.Loop.CycleCooldown,
	})

	server := api.NewServer(cfg.Server.Address, api.NewHandlers(controller, store, logger), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("api server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if loopErr := controller.Run(ctx); loopErr != nil {
			logger.Error("healing loop terminated", slog.Any("error", loopErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// The loop finishes recording its in-flight cycle before exiting.
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("heal-engine stopped")
}
