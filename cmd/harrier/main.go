// Harrier - Payment risk decisions in real time.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/opensource-finance/harrier/internal/trust"
	"github.com/opensource-finance/harrier/internal/velocity"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("HARRIER_CONFIG"), "Path to a YAML/JSON/TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	locker := cache.NewLocker(cacheImpl)
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	evaluator, err := rules.NewEvaluator()
	if err != nil {
		slog.Error("failed to initialize rule evaluator", "error", err)
		os.Exit(1)
	}
	if cfg.RulesFile != "" {
		if err := seedRules(ctx, repo, evaluator, cfg.RulesFile); err != nil {
			slog.Error("failed to seed rules", "file", cfg.RulesFile, "error", err)
			os.Exit(1)
		}
	}
	source := rules.NewSource(repo, cacheImpl, cfg.Cache.RuleTTL)

	tracker := velocity.NewTracker(repo, locker, cfg.CardTesting)
	trustSvc := trust.NewService(repo, trust.NewCalculator(cfg.Trust), locker)

	processor := decision.NewProcessor(decision.Dependencies{
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Tracker:   tracker,
		Trust:     trustSvc,
		Rules:     source,
		Evaluator: evaluator,
		Engine:    scoring.NewEngine(cfg.Scoring),
	}, cfg.Composite)
	slog.Info("decision processor initialized",
		"low_threshold", cfg.Scoring.LowThreshold,
		"high_threshold", cfg.Scoring.HighThreshold,
	)

	// Async worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("HARRIER_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, processor)

		var orgIDs []string
		if env := os.Getenv("HARRIER_ORGANIZATIONS"); env != "" {
			for _, id := range strings.Split(env, ",") {
				if id = strings.TrimSpace(id); id != "" {
					orgIDs = append(orgIDs, id)
				}
			}
		}

		if err := asyncWorker.Start(worker.Config{OrganizationIDs: orgIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "org_count", len(orgIDs))
		}
	}

	handler := api.NewHandler(repo, cacheImpl, processor, tracker, trustSvc, source, evaluator, Version)
	srv := api.NewServer(cfg.Server, handler)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

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

	slog.Info("harrier shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// seedRules stores the rules of a YAML file. Existing rules with the same
// id are replaced.
func seedRules(ctx context.Context, repo domain.Repository, evaluator *rules.Evaluator, path string) error {
	list, err := rules.LoadYAML(path)
	if err != nil {
		return err
	}
	if err := rules.Seed(ctx, repo, evaluator, list); err != nil {
		return err
	}
	slog.Info("rules seeded", "file", path, "count", len(list))
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                 HARRIER                   |")
	fmt.Println("  |       Payment Risk Decision Engine        |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /assess                          - Assess a payment attempt")
	fmt.Println("    GET    /assessments/{id}                - Get assessment by ID")
	fmt.Println("    POST   /assessments/{id}/outcome        - Report the actual outcome")
	fmt.Println("    GET    /trackers/{invoiceId}            - Card-testing session summary")
	fmt.Println("    GET    /trackers/{invoiceId}/block-status")
	fmt.Println("    POST   /trackers/{invoiceId}/unblock    - Manual unblock")
	fmt.Println("    GET    /customers/{customerId}/trust    - Customer trust record")
	fmt.Println("    PUT    /customers/{customerId}/list     - Whitelist / blacklist")
	fmt.Println("    GET    /rules                           - List custom rules")
	fmt.Println("    POST   /rules                           - Create a custom rule")
	fmt.Println("    DELETE /rules/{id}                      - Delete a custom rule")
	fmt.Println("    GET    /health, /ready, /metrics")
	fmt.Println()
}
