package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNoResult is reported when the runtime exits cleanly without a result.
var ErrNoResult = errors.New("agent runtime ended without a result")

const maxStreamLine = 16 * 1024 * 1024

// CLIRuntime runs the agent CLI in headless stream-json mode, one process per
// call, with the prompt on stdin.
type CLIRuntime struct {
	Binary string
	APIKey string
	// ExtraArgs are prepended to the generated arguments.
	ExtraArgs []string
	// Env overrides os.Environ when set.
	Env    []string
	Logger *slog.Logger
}

// NewCLIRuntime creates a runtime that shells out to binary.
func NewCLIRuntime(binary, apiKey string, logger *slog.Logger) *CLIRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIRuntime{Binary: binary, APIKey: apiKey, Logger: logger}
}

// Args builds the command line for a query.
func (r *CLIRuntime) Args(q Query) []string {
	args := append([]string{}, r.ExtraArgs...)
	args = append(args, "-p", "--output-format", "stream-json", "--verbose")
	o := q.Options
	if o.Model != "" {
		args = append(args, "--model", o.Model)
	}
	if o.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(o.MaxTurns))
	}
	if o.PermissionMode != "" {
		args = append(args, "--permission-mode", o.PermissionMode)
	}
	if len(o.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(o.AllowedTools, ","))
	}
	if o.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", o.SystemPrompt)
	}
	if q.Resume != "" {
		args = append(args, "--resume", q.Resume)
	}
	return args
}

// Run starts the process and yields each decoded stdout line.
func (r *CLIRuntime) Run(ctx context.Context, q Query) iter.Seq2[*StreamMessage, error] {
	return func(yield func(*StreamMessage, error) bool) {
		cmd := exec.CommandContext(ctx, r.Binary, r.Args(q)...)
		cmd.Dir = q.Options.WorkDir
		cmd.Stdin = strings.NewReader(q.Prompt)
		cmd.Env = r.environ()
		stderr := newTailBuffer(8 * 1024)
		cmd.Stderr = stderr

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(nil, fmt.Errorf("agent stdout pipe: %w", err))
			return
		}
		if err := cmd.Start(); err != nil {
			yield(nil, fmt.Errorf("start agent runtime: %w", err))
			return
		}
		r.Logger.Debug("Agent runtime started", "pid", cmd.Process.Pid, "resume", q.Resume != "")

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxStreamLine)
		sawResult := false
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var msg StreamMessage
			if err := json.Unmarshal(line, &msg); err != nil {
				r.Logger.Debug("Skipping non-JSON runtime output", "error", err)
				continue
			}
			if msg.Type == MessageResult {
				sawResult = true
			}
			if !yield(&msg, nil) {
				_ = cmd.Process.Kill()
				_ = cmd.Wait()
				return
			}
		}
		scanErr := scanner.Err()
		waitErr := cmd.Wait()

		switch {
		case ctx.Err() != nil:
			yield(nil, ctx.Err())
		case scanErr != nil:
			yield(nil, fmt.Errorf("read agent output: %w", scanErr))
		case waitErr != nil && !sawResult:
			yield(nil, fmt.Errorf("agent runtime exited: %w%s", waitErr, tailSuffix(stderr)))
		case !sawResult:
			yield(nil, ErrNoResult)
		}
	}
}

func (r *CLIRuntime) environ() []string {
	env := append([]string(nil), r.Env...)
	if r.Env == nil {
		env = os.Environ()
	}
	if r.APIKey != "" {
		env = append(env, "ANTHROPIC_API_KEY="+r.APIKey)
	}
	return env
}

func tailSuffix(t *tailBuffer) string {
	s := strings.TrimSpace(t.String())
	if s == "" {
		return ""
	}
	return ": " + s
}
