package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// Engine runs an external extraction command with the file path as its last
// argument. The command prints one JSON object on stdout:
//
//	{"success": true, "extracted_text": "...", "metadata": {...}}
//	{"success": false, "error": "..."}
type Engine struct {
	command string
	args    []string
	runner  Runner
}

type Options struct {
	Command string
	Args    []string
	// WaitDelay bounds how long the engine may hold its output pipes open
	// after it is killed.
	WaitDelay time.Duration
}

func New(opts Options) (*Engine, error) {
	if strings.TrimSpace(opts.Command) == "" {
		return nil, errors.New("extraction engine command is required")
	}
	waitDelay := opts.WaitDelay
	if waitDelay <= 0 {
		waitDelay = 5 * time.Second
	}
	return &Engine{
		command: opts.Command,
		args:    append([]string(nil), opts.Args...),
		runner:  execRunner{waitDelay: waitDelay},
	}, nil
}

// Output is the JSON document an engine writes to stdout.
type Output struct {
	Success       bool           `json:"success"`
	ExtractedText string         `json:"extracted_text"`
	Metadata      map[string]any `json:"metadata"`
	Error         string         `json:"error"`
}

func (e *Engine) Extract(ctx context.Context, path string) (domain.ExtractionResult, error) {
	args := append(append([]string(nil), e.args...), path)
	stdout, stderr, runErr := e.runner.Run(ctx, e.command, args...)

	if runErr != nil {
		procErr := &domain.ExternalProcessError{
			Command: e.command,
			Stderr:  truncate(string(stderr), maxLoggedStderr),
			Err:     runErr,
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			procErr.TimedOut = true
			return domain.ExtractionResult{}, procErr
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			procErr.ExitCode = exitErr.ExitCode()
		}
		if out, err := decodeOutput(stdout); err == nil && out.Error != "" {
			procErr.Err = fmt.Errorf("%w: %s", runErr, out.Error)
		}
		return domain.ExtractionResult{}, procErr
	}

	out, err := decodeOutput(stdout)
	if err != nil {
		return domain.ExtractionResult{}, &domain.ExternalProcessError{
			Command: e.command,
			Stderr:  truncate(string(stderr), maxLoggedStderr),
			Err:     err,
		}
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "engine reported failure"
		}
		return domain.ExtractionResult{}, &domain.ExternalProcessError{
			Command: e.command,
			Stderr:  truncate(string(stderr), maxLoggedStderr),
			Err:     errors.New(msg),
		}
	}
	return domain.ExtractionResult{Text: out.ExtractedText, Metadata: out.Metadata}, nil
}

func decodeOutput(stdout []byte) (Output, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return Output{}, errors.New("engine produced no output")
	}
	var out Output
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return Output{}, fmt.Errorf("parse engine output: %w", err)
	}
	return out, nil
}
