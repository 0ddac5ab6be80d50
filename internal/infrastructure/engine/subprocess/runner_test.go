package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/document-pipeline/internal/observability/logging"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(logging.NewLogger(&buf, "worker", "debug"))
	t.Cleanup(func() { slog.SetDefault(previous) })
	return &buf
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunnerFailureLogsTaskAttributes(t *testing.T) {
	requireShell(t)
	logs := captureLogs(t)
	ctx := logging.WithTask(context.Background(), "extract", "task-7", "doc-7")

	stdout, stderr, err := execRunner{waitDelay: time.Second}.Run(ctx, "sh", "-c", `echo '{"success":false}'; echo 'bad page' >&2; exit 3`)
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("expected exit code 3, got %v", err)
	}
	if strings.TrimSpace(string(stdout)) != `{"success":false}` || strings.TrimSpace(string(stderr)) != "bad page" {
		t.Fatalf("unexpected output %q %q", stdout, stderr)
	}

	var failed map[string]any
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if record["msg"] == "engine_exec_failed" {
			failed = record
		}
	}
	if failed == nil {
		t.Fatalf("expected engine_exec_failed record in %s", logs.String())
	}
	if failed["document_id"] != "doc-7" || failed["stage"] != "extract" || failed["exit_code"] != float64(3) {
		t.Fatalf("unexpected failure record %v", failed)
	}
	if !strings.Contains(failed["stderr"].(string), "bad page") || failed["timed_out"] != false {
		t.Fatalf("unexpected failure detail %v", failed)
	}
}

func TestExecRunnerKillsOnDeadline(t *testing.T) {
	requireShell(t)
	captureLogs(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := execRunner{waitDelay: 100 * time.Millisecond}.Run(ctx, "sh", "-c", "sleep 5")
	if err == nil {
		t.Fatalf("expected error for killed engine")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("engine was not killed promptly: %s", elapsed)
	}
}
