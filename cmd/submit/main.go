// Command submit enqueues a single job from the command line, optionally
// waiting for the result. Useful for smoke-testing a deployment.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/devcapsules/execq/internal/config"
	"github.com/devcapsules/execq/internal/domain"
	"github.com/devcapsules/execq/internal/platform/queue"
	"github.com/devcapsules/execq/internal/producer"
)

func main() {
	// 1. Initialize logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	var (
		cfgPath  = flag.String("config", os.Getenv("EXECQ_CONFIG"), "path to YAML config file")
		language = flag.String("lang", "python", "execution language")
		code     = flag.String("code", "", "code to run (mutually exclusive with -file)")
		file     = flag.String("file", "", "file containing the code to run")
		stdin    = flag.String("stdin", "", "stdin passed to the program")
		wait     = flag.Bool("wait", false, "block until the job reaches a terminal state")
		timeout  = flag.Duration("timeout", 60*time.Second, "how long -wait blocks before giving up")
	)
	flag.Parse()

	src := *code
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			slog.Error("Failed to read code file", "path", *file, "error", err)
			os.Exit(1)
		}
		src = string(data)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	store, err := queue.NewRedisStore(cfg.RedisAddr, cfg.KeyPrefix, cfg.StatusTTLDuration())
	if err != nil {
		slog.Error("Failed to connect to job store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	prod := producer.New(store, logger)
	req := producer.SubmitRequest{Language: *language, Code: src, Input: *stdin}
	ctx := context.Background()

	if !*wait {
		jobID, err := prod.QueueJob(ctx, req)
		if err != nil {
			slog.Error("Failed to enqueue job", "error", err)
			os.Exit(1)
		}
		fmt.Println(jobID)
		return
	}

	facade := producer.NewFacade(prod, store, 0, logger)
	st, err := facade.ExecuteSync(ctx, req, *timeout)
	if err != nil {
		slog.Error("Failed to execute job", "error", err)
		os.Exit(1)
	}
	printStatus(st)
}

func printStatus(st domain.JobStatus) {
	fmt.Fprintf(os.Stderr, "job %s: %s\n", st.JobID, st.State)
	if st.Result == nil {
		return
	}
	if st.Result.Stdout != "" {
		fmt.Print(st.Result.Stdout)
	}
	if st.Result.Stderr != "" {
		fmt.Fprint(os.Stderr, st.Result.Stderr)
	}
	if st.Result.Error != "" {
		fmt.Fprintf(os.Stderr, "error: %s\n", st.Result.Error)
	}
	if !st.Result.Success {
		os.Exit(1)
	}
}
