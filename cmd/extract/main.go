// Command extract is the default extraction engine. It reads the file named
// by its last argument and prints one JSON document on stdout. Images are
// OCRed with tesseract (TESSERACT_PATH, TESSERACT_LANG).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/engine/native"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/engine/subprocess"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: docpipe-extract <file>")
		return writeOutput(subprocess.Output{Error: "no input file"})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := args[len(args)-1]
	cfg := config.Load()
	engine := native.New(native.WithImageOCR(cfg.TesseractPath, cfg.TesseractLang))
	result, err := engine.Extract(ctx, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "extract %s: %v\n", path, err)
		return writeOutput(subprocess.Output{Error: err.Error()})
	}
	return writeOutput(subprocess.Output{
		Success:       true,
		ExtractedText: result.Text,
		Metadata:      result.Metadata,
	})
}

func writeOutput(out subprocess.Output) int {
	if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		return 1
	}
	if !out.Success {
		return 1
	}
	return 0
}
