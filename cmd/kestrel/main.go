// Kestrel - Year-end reconciliation risk scoring for the controller's office.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/checks"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	// Source and output locations are overridable for deployments that
	// mount the close extracts somewhere else.
	if dataDir := os.Getenv("KESTREL_DATA_DIR"); dataDir != "" {
		cfg.Pipeline.Sources = sourcesIn(dataDir)
	}
	if outDir := os.Getenv("KESTREL_OUTPUT_DIR"); outDir != "" {
		cfg.Pipeline.OutputDir = outDir
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Checks Engine
	engine, err := checks.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize checks engine", "error", err)
		os.Exit(1)
	}

	// Load checks from database (no hardcoded defaults - configure via API)
	if err := loadChecksFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load checks", "error", err)
		os.Exit(1)
	}
	slog.Info("checks engine initialized", "checks_count", engine.ChecksCount())

	// Initialize pipeline Runner
	runner := pipeline.NewRunner(cfg, repo, busImpl, engine, logger)
	slog.Info("pipeline runner initialized",
		"review_threshold", cfg.Pipeline.ReviewThreshold,
		"output_dir", cfg.Pipeline.OutputDir,
	)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, runner, logger)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, runner, cfg.Pipeline.ReviewThreshold, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// sourcesIn locates the six standard extracts under one directory.
func sourcesIn(dir string) domain.SourcePaths {
	return domain.SourcePaths{
		AP:       filepath.Join(dir, "ap_subledger.csv"),
		Bank:     filepath.Join(dir, "bank_transactions.csv"),
		Tax:      filepath.Join(dir, "tax_detail.csv"),
		Lease:    filepath.Join(dir, "lease_schedule.csv"),
		GL:       filepath.Join(dir, "gl_trial_balance_summary.csv"),
		TaxRates: filepath.Join(dir, "tax_rate_reference.csv"),
	}
}

// loadChecksFromDatabase loads custom checks from the database into the engine.
// All checks must be configured via POST /checks API - no hardcoded defaults.
func loadChecksFromDatabase(ctx context.Context, repo domain.Repository, engine *checks.Engine) error {
	configs, err := repo.ListCheckConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list checks from database", "error", err)
		return nil // Start with empty checks - they can be added via API
	}

	if len(configs) > 0 {
		slog.Info("loading checks from database", "count", len(configs))
		return engine.LoadChecks(configs)
	}

	slog.Info("no checks in database - configure via POST /checks API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║   Year-End Reconciliation Risk Scoring    ║")
	fmt.Println("  ║      Every exception, before close.       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /runs              - Execute a reconciliation run")
	fmt.Println("    GET  /runs              - List runs")
	fmt.Println("    GET  /runs/{id}         - Get run by ID")
	fmt.Println("    GET  /records/{source}  - Scored records (ap|bank|tax|lease)")
	fmt.Println("    GET  /summary           - Close-health summary")
	fmt.Println("    GET  /journal           - Suggested journal entries")
	fmt.Println("    GET  /journal/export    - Journal entries as CSV")
	fmt.Println("    GET  /checks            - List custom checks")
	fmt.Println("    POST /checks            - Create a custom check")
	fmt.Println("    PUT  /checks/{id}       - Update a custom check")
	fmt.Println("    DELETE /checks/{id}     - Delete a custom check")
	fmt.Println("    POST /checks/reload     - Hot-reload checks from database")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
