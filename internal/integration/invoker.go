package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/valter-silva-au/agentq/pkg/models"
)

var (
	// ErrInvocationTimeout is returned when a provider does not finish within
	// the invocation timeout.
	ErrInvocationTimeout = errors.New("invocation timed out")

	// ErrInvocationFailed is returned when a provider exits without usable
	// output.
	ErrInvocationFailed = errors.New("invocation failed")
)

// waitDelay bounds how long we wait for a killed provider's pipes to close.
const waitDelay = 5 * time.Second

// InvocationError describes a failed provider call. It unwraps to
// ErrInvocationTimeout or ErrInvocationFailed.
type InvocationError struct {
	Worker   string
	Provider models.Provider
	ExitCode int
	Stderr   string
	Reason   string
	Err      error
}

func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("worker %s (%s): %v", e.Worker, e.Provider, e.Err)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// OutputNormalizer turns a provider's raw stdout into the reply text.
type OutputNormalizer func(raw string) (string, error)

// NormalizerFor returns the output normalizer of a provider. Unknown
// providers are treated as plain text.
func NormalizerFor(provider models.Provider) OutputNormalizer {
	switch provider {
	case models.ProviderOpenAI:
		return normalizeCodexStream
	case models.ProviderOpenCode:
		return normalizeOpenCodeStream
	default:
		return normalizePlainText
	}
}

func normalizePlainText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("empty output")
	}
	return text, nil
}

// codexRecord is the subset of a codex --json event we read.
type codexRecord struct {
	Type string `json:"type"`
	Item struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
}

// normalizeCodexStream keeps the text of the last completed agent_message.
func normalizeCodexStream(raw string) (string, error) {
	return lastRecord(raw, func(line []byte) (string, bool) {
		var rec codexRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return "", false
		}
		if rec.Type != "item.completed" || rec.Item.Type != "agent_message" {
			return "", false
		}
		return rec.Item.Text, true
	})
}

// openCodeRecord is the subset of an opencode --format json event we read.
type openCodeRecord struct {
	Type string `json:"type"`
	Part struct {
		Text string `json:"text"`
	} `json:"part"`
}

// normalizeOpenCodeStream keeps the last text part.
func normalizeOpenCodeStream(raw string) (string, error) {
	return lastRecord(raw, func(line []byte) (string, bool) {
		var rec openCodeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return "", false
		}
		if rec.Type != "text" {
			return "", false
		}
		return rec.Part.Text, true
	})
}

// lastRecord scans line-delimited records and returns the text of the last
// one accepted by match. Malformed lines and progress records are skipped.
func lastRecord(raw string, match func(line []byte) (string, bool)) (string, error) {
	var last string
	found := false
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		if text, ok := match(line); ok {
			last = text
			found = true
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading event stream: %w", err)
	}
	if !found || strings.TrimSpace(last) == "" {
		return "", fmt.Errorf("no assistant message in output")
	}
	return strings.TrimSpace(last), nil
}

// BuildArgs returns the executable and arguments for one invocation.
// WorkerConfig.Command replaces the provider's default executable.
func BuildArgs(worker models.WorkerConfig, message string, reset bool) (string, []string) {
	var command string
	var args []string
	switch worker.Provider {
	case models.ProviderOpenAI:
		command = "codex"
		args = []string{"exec"}
		if !reset {
			args = append(args, "resume", "--last")
		}
		if worker.Model != "" {
			args = append(args, "--model", worker.Model)
		}
		args = append(args, "--skip-git-repo-check", "--dangerously-bypass-approvals-and-sandbox", "--json", message)
	case models.ProviderOpenCode:
		command = "opencode"
		args = []string{"run", "--format", "json"}
		if worker.Model != "" {
			args = append(args, "--model", worker.Model)
		}
		if !reset {
			args = append(args, "-c")
		}
		args = append(args, message)
	default:
		command = "claude"
		args = []string{"--dangerously-skip-permissions"}
		if worker.Model != "" {
			args = append(args, "--model", worker.Model)
		}
		if !reset {
			args = append(args, "-c")
		}
		args = append(args, "-p", message)
	}
	if worker.Command != "" {
		command = worker.Command
	}
	return command, args
}

// BuildEnv appends AGENTQ_* variables describing the worker to base.
func BuildEnv(base []string, worker models.WorkerConfig) []string {
	env := make([]string, len(base), len(base)+3)
	copy(env, base)
	env = append(env,
		"AGENTQ_WORKER="+worker.ID,
		"AGENTQ_PROVIDER="+string(worker.Provider),
		"AGENTQ_ROLE="+worker.Role,
	)
	return env
}

// CLIInvoker runs worker providers as external programs.
type CLIInvoker struct {
	workspace      string
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewCLIInvoker returns an invoker whose workers default to directories
// under workspace. logger may be nil.
func NewCLIInvoker(workspace string, defaultTimeout time.Duration, logger *slog.Logger) *CLIInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIInvoker{workspace: workspace, defaultTimeout: defaultTimeout, logger: logger}
}

// WorkingDir resolves where a worker's provider runs: its own directory under
// the workspace by default, a workspace-relative or absolute path otherwise.
func (i *CLIInvoker) WorkingDir(worker models.WorkerConfig, workspace string) string {
	if workspace == "" {
		workspace = i.workspace
	}
	switch {
	case worker.WorkingDirectory == "":
		return filepath.Join(workspace, worker.ID)
	case filepath.IsAbs(worker.WorkingDirectory):
		return worker.WorkingDirectory
	default:
		return filepath.Join(workspace, worker.WorkingDirectory)
	}
}

// Invoke runs one turn. Failures are returned as *InvocationError; nothing is
// retried.
func (i *CLIInvoker) Invoke(ctx context.Context, req models.InvocationRequest) (models.Response, error) {
	worker := req.Worker
	if worker.Provider == "" {
		worker.Provider = models.ProviderAnthropic
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = i.defaultTimeout
	}

	dir := i.WorkingDir(worker, req.Workspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.Response{}, &InvocationError{
			Worker: worker.ID, Provider: worker.Provider,
			Err: ErrInvocationFailed, Reason: fmt.Sprintf("creating working directory: %v", err),
		}
	}

	if req.Context != "" {
		if err := WriteWorkerContext(dir, worker.ID, req.Context); err != nil {
			i.logger.Warn("worker context not updated", "worker", worker.ID, "error", err)
		}
	}

	command, args := BuildArgs(worker, composeMessage(req.Text, req.Attachments), req.Reset)

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = dir
	cmd.Env = BuildEnv(os.Environ(), worker)
	cmd.WaitDelay = waitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	i.logger.Debug("invoking worker", "worker", worker.ID, "provider", worker.Provider, "command", command, "reset", req.Reset)
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	stderr := strings.TrimSpace(stderrBuf.String())
	if runCtx.Err() == context.DeadlineExceeded {
		return models.Response{}, &InvocationError{
			Worker: worker.ID, Provider: worker.Provider,
			Err: ErrInvocationTimeout, Reason: fmt.Sprintf("no result after %s", timeout),
		}
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// The provider could not be started at all.
			return models.Response{}, &InvocationError{
				Worker: worker.ID, Provider: worker.Provider,
				Err: ErrInvocationFailed, Reason: runErr.Error(),
			}
		}
		exitCode = exitErr.ExitCode()
	}

	text, normErr := NormalizerFor(worker.Provider)(stdoutBuf.String())
	if normErr != nil {
		return models.Response{}, &InvocationError{
			Worker: worker.ID, Provider: worker.Provider,
			ExitCode: exitCode, Stderr: stderr,
			Err: ErrInvocationFailed, Reason: normErr.Error(),
		}
	}
	if exitCode != 0 {
		i.logger.Warn("provider exited non-zero but produced a reply", "worker", worker.ID, "exit_code", exitCode)
	}

	return models.Response{Text: text, Provider: worker.Provider, Duration: elapsed}, nil
}

// composeMessage appends attachment references to the message text.
func composeMessage(text string, attachments []string) string {
	if len(attachments) == 0 {
		return text
	}
	var sb strings.Builder
	sb.WriteString(text)
	for _, a := range attachments {
		sb.WriteString("\n[file: ")
		sb.WriteString(a)
		sb.WriteString("]")
	}
	return sb.String()
}
