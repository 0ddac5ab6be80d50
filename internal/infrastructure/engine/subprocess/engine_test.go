package subprocess

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

type stubRunner struct {
	stdout string
	stderr string
	err    error
	block  bool

	name string
	args []string
}

func (r *stubRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.name = name
	r.args = args
	if r.block {
		<-ctx.Done()
		return nil, []byte(r.stderr), ctx.Err()
	}
	return []byte(r.stdout), []byte(r.stderr), r.err
}

func newStubEngine(r *stubRunner) *Engine {
	return &Engine{command: "docling-wrapper", args: []string{"--format", "json"}, runner: r}
}

func TestExtractSuccess(t *testing.T) {
	runner := &stubRunner{stdout: `{"success":true,"extracted_text":"Total: 42.00","metadata":{"pages":1}}` + "\n"}
	engine := newStubEngine(runner)

	result, err := engine.Extract(context.Background(), "/tmp/doc-1.pdf")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Text != "Total: 42.00" || result.Metadata["pages"] != float64(1) {
		t.Fatalf("unexpected result %+v", result)
	}
	if runner.name != "docling-wrapper" || strings.Join(runner.args, " ") != "--format json /tmp/doc-1.pdf" {
		t.Fatalf("unexpected invocation %s %v", runner.name, runner.args)
	}
}

func TestExtractReportedFailure(t *testing.T) {
	engine := newStubEngine(&stubRunner{stdout: `{"success":false,"error":"encrypted pdf"}`})

	_, err := engine.Extract(context.Background(), "/tmp/doc.pdf")
	if !domain.IsKind(err, domain.ErrExternalProcess) {
		t.Fatalf("expected external process error, got %v", err)
	}
	if !strings.Contains(err.Error(), "encrypted pdf") {
		t.Fatalf("expected engine message, got %v", err)
	}
}

func TestExtractUnparseableOutput(t *testing.T) {
	engine := newStubEngine(&stubRunner{stdout: "Traceback (most recent call last)", stderr: "ImportError"})

	_, err := engine.Extract(context.Background(), "/tmp/doc.pdf")
	var procErr *domain.ExternalProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("expected ExternalProcessError, got %v", err)
	}
	if procErr.Stderr != "ImportError" || procErr.TimedOut {
		t.Fatalf("unexpected error detail %+v", procErr)
	}
}

func TestExtractNonZeroExitKeepsDiagnostics(t *testing.T) {
	engine := newStubEngine(&stubRunner{
		stdout: `{"success":false,"error":"unsupported format"}`,
		stderr: "warning: fallback to ocr",
		err:    errors.New("exit status 1"),
	})

	_, err := engine.Extract(context.Background(), "/tmp/doc.bin")
	var procErr *domain.ExternalProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("expected ExternalProcessError, got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported format") || !strings.Contains(err.Error(), "fallback to ocr") {
		t.Fatalf("expected stdout error and stderr in message, got %v", err)
	}
}

func TestExtractTimeout(t *testing.T) {
	engine := newStubEngine(&stubRunner{block: true, stderr: "page 3 of 90"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := engine.Extract(ctx, "/tmp/doc.pdf")
	var procErr *domain.ExternalProcessError
	if !errors.As(err, &procErr) || !procErr.TimedOut {
		t.Fatalf("expected timed out process error, got %v", err)
	}
	if procErr.Stderr != "page 3 of 90" {
		t.Fatalf("expected stderr preserved, got %q", procErr.Stderr)
	}
}

func TestNewRequiresCommand(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error without command")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc...(truncated)" {
		t.Fatalf("unexpected truncation %q", got)
	}
}
