package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/devcapsules/execq/internal/config"
	"github.com/devcapsules/execq/internal/domain"
	"github.com/devcapsules/execq/internal/platform/docker"
	"github.com/devcapsules/execq/internal/platform/engine"
	"github.com/devcapsules/execq/internal/platform/queue"
	"github.com/devcapsules/execq/internal/worker"
)

func main() {
	// 1. Initialize logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	slog.Info("Starting execq worker...")

	cfgPath := flag.String("config", os.Getenv("EXECQ_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 2. Connect to the shared job store
	store, err := queue.NewRedisStore(cfg.RedisAddr, cfg.KeyPrefix, cfg.StatusTTLDuration())
	if err != nil {
		slog.Error("Failed to connect to job store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// 3. Pick the executor
	exec, err := buildExecutor(cfg)
	if err != nil {
		slog.Error("Failed to initialize executor", "error", err)
		os.Exit(1)
	}
	if cfg.EngineURL != "" {
		slog.Info("Using remote execution engine", "url", cfg.EngineURL)
	} else {
		slog.Info("Using local docker runner")
	}

	// 4. Run the dispatch loop until a signal arrives
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := worker.New(store, exec, store, logger)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Worker failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Worker stopped")
}

func buildExecutor(cfg *config.Config) (domain.Executor, error) {
	if cfg.EngineURL != "" {
		return engine.NewClient(cfg.EngineURL), nil
	}
	return docker.NewRunner()
}
