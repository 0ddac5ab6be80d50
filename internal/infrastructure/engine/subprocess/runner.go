package subprocess

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"
)

const maxLoggedStderr = 8 << 10

// Runner lets tests stub the external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// execRunner kills the engine when ctx ends and waits at most waitDelay for
// its pipes to close afterwards.
type execRunner struct {
	waitDelay time.Duration
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = r.waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.DebugContext(ctx, "engine_exec_start", "engine", name, "file", lastArg(args))
	start := time.Now()
	err := cmd.Run()
	attrs := []any{
		"engine", name,
		"duration_ms", time.Since(start).Milliseconds(),
		"stdout_bytes", stdout.Len(),
	}

	if err == nil {
		slog.DebugContext(ctx, "engine_exec_ok", attrs...)
		return stdout.Bytes(), stderr.Bytes(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		attrs = append(attrs, "exit_code", exitErr.ExitCode())
	}
	attrs = append(attrs,
		"timed_out", errors.Is(ctx.Err(), context.DeadlineExceeded),
		"stderr", truncate(stderr.String(), maxLoggedStderr),
		"error", err,
	)
	slog.ErrorContext(ctx, "engine_exec_failed", attrs...)
	return stdout.Bytes(), stderr.Bytes(), err
}

func lastArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[len(args)-1]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
