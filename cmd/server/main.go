package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devcapsules/execq/internal/config"
	"github.com/devcapsules/execq/internal/domain"
	"github.com/devcapsules/execq/internal/platform/docker"
	"github.com/devcapsules/execq/internal/platform/engine"
	"github.com/devcapsules/execq/internal/platform/queue"
	"github.com/devcapsules/execq/internal/platform/web"
	"github.com/devcapsules/execq/internal/producer"
	"github.com/devcapsules/execq/internal/worker"
)

func main() {
	// 1. Initialize logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfgPath := flag.String("config", os.Getenv("EXECQ_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Initialize the job store. Standalone mode runs everything in one
	// process against an in-memory store; otherwise Redis is shared with
	// the worker fleet.
	var (
		jobStore domain.JobStore
		notifier domain.Notifier
	)
	if cfg.Standalone {
		mem := queue.NewMemoryStore(cfg.StatusTTLDuration())
		jobStore, notifier = mem, mem
		slog.Info("Running standalone with in-memory store")
	} else {
		rs, err := queue.NewRedisStore(cfg.RedisAddr, cfg.KeyPrefix, cfg.StatusTTLDuration())
		if err != nil {
			slog.Error("Failed to connect to job store", "error", err)
			os.Exit(1)
		}
		defer rs.Close()
		jobStore, notifier = rs, rs
	}

	// 3. Assemble the HTTP surface
	prod := producer.New(jobStore, logger)
	facade := producer.NewFacade(prod, jobStore, 0, logger)
	srv := web.NewServer(prod, facade, jobStore, notifier, cfg.SyncTimeoutDuration(), logger)
	limiter := web.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst)

	httpSrv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: srv.Routes(limiter),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("API server starting", "addr", cfg.ServerAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	// 4. Standalone mode embeds the dispatch loop
	if cfg.Standalone {
		exec, err := buildExecutor(cfg)
		if err != nil {
			slog.Error("Failed to initialize executor", "error", err)
			os.Exit(1)
		}
		w := worker.New(jobStore, exec, notifier, logger)
		g.Go(func() error { return w.Run(ctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}

// buildExecutor picks the remote engine when configured, the local Docker
// runner otherwise.
func buildExecutor(cfg *config.Config) (domain.Executor, error) {
	if cfg.EngineURL != "" {
		return engine.NewClient(cfg.EngineURL), nil
	}
	return docker.NewRunner()
}
