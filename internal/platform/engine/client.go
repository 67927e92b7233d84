// Package engine is the HTTP client for the remote sandboxed execution
// engine. The engine is a pre-existing external service; this package only
// translates jobs into its wire format and normalizes responses.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devcapsules/execq/internal/domain"
)

// runtimeSpec maps an abstract language name to what the engine expects.
type runtimeSpec struct {
	Runtime  string
	Version  string
	Filename string
}

// runtimes is the static language table. Unknown languages fall through to
// a catch-all spec that passes the language name as-is.
var runtimes = map[string]runtimeSpec{
	"python":     {"python", "3.10.0", "main.py"},
	"javascript": {"javascript", "18.15.0", "main.js"},
	"typescript": {"typescript", "5.0.3", "main.ts"},
	"java":       {"java", "15.0.2", "Main.java"},
	"c":          {"c", "10.2.0", "main.c"},
	"cpp":        {"c++", "10.2.0", "main.cpp"},
	"csharp":     {"csharp", "6.12.0", "Main.cs"},
	"go":         {"go", "1.16.2", "main.go"},
	"ruby":       {"ruby", "3.0.1", "main.rb"},
	"rust":       {"rust", "1.68.2", "main.rs"},
	"php":        {"php", "8.2.3", "main.php"},
}

// resolveRuntime returns the engine runtime spec for a language.
func resolveRuntime(language string) runtimeSpec {
	if spec, ok := runtimes[strings.ToLower(language)]; ok {
		return spec
	}
	return runtimeSpec{Runtime: strings.ToLower(language), Version: "*", Filename: "main.txt"}
}

// Wire shapes of the engine's /execute endpoint.

type executeRequest struct {
	Language       string        `json:"language"`
	Version        string        `json:"version"`
	Files          []executeFile `json:"files"`
	Stdin          string        `json:"stdin"`
	Args           []string      `json:"args"`
	CompileTimeout int           `json:"compile_timeout"`
	RunTimeout     int           `json:"run_timeout"`
	RunMemoryLimit int64         `json:"run_memory_limit"`
}

type executeFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type stageResult struct {
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Code   int     `json:"code"`
	Signal *string `json:"signal"`
	Output string  `json:"output"`
}

type executeResponse struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Run      stageResult  `json:"run"`
	Compile  *stageResult `json:"compile,omitempty"`
}

// timeoutOverhead is added on top of the requested compile+run timeouts to
// cover network latency and engine queuing before the client gives up.
const timeoutOverhead = 15 * time.Second

// Client speaks the engine's REST contract. One HTTP request per Execute
// call, no internal retries.
type Client struct {
	baseURL string
	httpc   *http.Client
}

var _ domain.Executor = (*Client)(nil)

// NewClient returns a client for the engine at baseURL. Per-request
// deadlines are derived from each job's timeouts, so the underlying
// http.Client carries no global timeout of its own.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{},
	}
}

// Execute runs the job on the remote engine. A returned error means the
// request itself failed (unreachable engine, timeout, unusable response);
// program-level failures come back as a result with Success=false.
func (c *Client) Execute(ctx context.Context, job domain.Job) (domain.ExecutionResult, error) {
	opts := job.Options.WithDefaults()
	spec := resolveRuntime(job.Language)

	reqBody := executeRequest{
		Language:       spec.Runtime,
		Version:        spec.Version,
		Files:          []executeFile{{Name: spec.Filename, Content: job.Code}},
		Stdin:          job.Input,
		Args:           []string{},
		CompileTimeout: opts.CompileTimeoutMS,
		RunTimeout:     opts.RunTimeoutMS,
		RunMemoryLimit: opts.RunMemoryLimitBytes,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("failed to marshal execute request: %w", err)
	}

	// Allow compile + run to use their full budgets plus overhead before
	// the client-side guard fires.
	guard := time.Duration(opts.CompileTimeoutMS+opts.RunTimeoutMS)*time.Millisecond + timeoutOverhead
	ctx, cancel := context.WithTimeout(ctx, guard)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("failed to build execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("engine request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("failed to read engine response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.ExecutionResult{}, fmt.Errorf("engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var engineResp executeResponse
	if err := json.Unmarshal(body, &engineResp); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("failed to decode engine response: %w", err)
	}

	return normalize(engineResp, time.Since(started)), nil
}

// normalize flattens the engine's nested run/compile shape into an
// ExecutionResult. A failed compile stage wins over the run stage, since
// the program never ran.
func normalize(resp executeResponse, elapsed time.Duration) domain.ExecutionResult {
	res := domain.ExecutionResult{
		Stdout:      resp.Run.Stdout,
		Stderr:      resp.Run.Stderr,
		ExitCode:    resp.Run.Code,
		Language:    resp.Language,
		Version:     resp.Version,
		ExecutionMS: elapsed.Milliseconds(),
	}
	if resp.Run.Signal != nil {
		res.Signal = *resp.Run.Signal
	}

	if resp.Compile != nil && resp.Compile.Code != 0 {
		res.ExitCode = resp.Compile.Code
		res.Stderr = resp.Compile.Stderr
		if res.Stderr == "" {
			res.Stderr = resp.Compile.Output
		}
	}

	res.Success = res.ExitCode == 0
	return res
}
