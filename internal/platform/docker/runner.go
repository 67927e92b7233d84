// Package docker runs jobs in ephemeral containers on the local Docker
// daemon. It is the development fallback when no remote engine is
// configured; it supports interpreted languages only.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/devcapsules/execq/internal/domain"
)

// interpreter describes how to run one language's code inline.
type interpreter struct {
	Image string
	Cmd   []string // code is appended as the final argument
}

var interpreters = map[string]interpreter{
	"python":     {"python:3.12-alpine", []string{"python", "-c"}},
	"javascript": {"node:20-alpine", []string{"node", "-e"}},
	"ruby":       {"ruby:3.3-alpine", []string{"ruby", "-e"}},
	"php":        {"php:8.3-cli-alpine", []string{"php", "-r"}},
}

// Runner executes jobs in one-shot containers via the Docker SDK.
type Runner struct {
	cli *client.Client
}

var _ domain.Executor = (*Runner)(nil)

// NewRunner initializes and returns a verified Docker runner. It pings the
// daemon so a broken Docker setup fails at startup (fail-fast).
func NewRunner() (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", err)
	}
	return &Runner{cli: cli}, nil
}

// Execute runs the job's code in a fresh container with no network and a
// hard memory limit. A returned error means the daemon-side plumbing
// failed; a program that runs and exits non-zero comes back as a result.
func (r *Runner) Execute(ctx context.Context, job domain.Job) (domain.ExecutionResult, error) {
	interp, ok := interpreters[strings.ToLower(job.Language)]
	if !ok {
		return domain.ExecutionResult{}, fmt.Errorf("language %q not supported by the local docker runner", job.Language)
	}
	opts := job.Options.WithDefaults()

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(opts.RunTimeoutMS)*time.Millisecond)
	defer cancel()

	if err := r.pullImage(runCtx, interp.Image); err != nil {
		return domain.ExecutionResult{}, err
	}

	withStdin := job.Input != ""
	created, err := r.cli.ContainerCreate(runCtx, &container.Config{
		Image:           interp.Image,
		Cmd:             append(append([]string{}, interp.Cmd...), job.Code),
		OpenStdin:       withStdin,
		StdinOnce:       withStdin,
		AttachStdin:     withStdin,
		NetworkDisabled: true,
	}, &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory: opts.RunMemoryLimitBytes,
		},
	}, nil, nil, "")
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		// Force-remove with a fresh context so cleanup survives timeouts.
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer rmCancel()
		if err := r.cli.ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true}); err != nil {
			slog.Warn("Failed to remove container", "containerID", created.ID, "error", err)
		}
	}()

	var attach types.HijackedResponse
	if withStdin {
		attach, err = r.cli.ContainerAttach(runCtx, created.ID, container.AttachOptions{
			Stream: true,
			Stdin:  true,
		})
		if err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("failed to attach stdin: %w", err)
		}
		defer attach.Close()
	}

	started := time.Now()
	if err := r.cli.ContainerStart(runCtx, created.ID, container.StartOptions{}); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("failed to start container: %w", err)
	}

	if withStdin {
		go func() {
			if _, err := attach.Conn.Write([]byte(job.Input)); err != nil {
				slog.Warn("Failed to write stdin", "containerID", created.ID, "error", err)
			}
			attach.CloseWrite()
		}()
	}

	waitCh, errCh := r.cli.ContainerWait(runCtx, created.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case wait := <-waitCh:
		if wait.Error != nil {
			return domain.ExecutionResult{}, fmt.Errorf("container wait failed: %s", wait.Error.Message)
		}
		exitCode = int(wait.StatusCode)
	case err := <-errCh:
		return domain.ExecutionResult{}, fmt.Errorf("container wait failed: %w", err)
	case <-runCtx.Done():
		// The program overran its budget. Report a killed run rather than
		// an infrastructure error; the deferred remove kills the container.
		return domain.ExecutionResult{
			Success:     false,
			Stderr:      fmt.Sprintf("run timeout of %dms exceeded", opts.RunTimeoutMS),
			ExitCode:    -1,
			Signal:      "SIGKILL",
			Language:    job.Language,
			ExecutionMS: time.Since(started).Milliseconds(),
		}, nil
	}
	elapsed := time.Since(started)

	stdout, stderr, err := r.collectLogs(created.ID)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	return domain.ExecutionResult{
		Success:     exitCode == 0,
		Stdout:      stdout,
		Stderr:      stderr,
		ExitCode:    exitCode,
		Language:    job.Language,
		ExecutionMS: elapsed.Milliseconds(),
	}, nil
}

// pullImage pulls the image and drains the progress stream so the pull
// completes before the container is created.
func (r *Runner) pullImage(ctx context.Context, name string) error {
	reader, err := r.cli.ImagePull(ctx, name, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", name, err)
	}
	defer reader.Close()
	io.Copy(io.Discard, reader)
	return nil
}

// collectLogs demultiplexes the container's combined log stream into
// stdout and stderr.
func (r *Runner) collectLogs(containerID string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logs, err := r.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", "", fmt.Errorf("failed to demux container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}
