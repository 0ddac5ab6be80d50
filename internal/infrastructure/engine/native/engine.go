package native

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// ErrUnsupportedFormat is returned for file types the native engine cannot read.
var ErrUnsupportedFormat = errors.New("unsupported format")

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Engine extracts text in-process from PDF, XLSX, DOCX and plain text files.
// Images are OCRed by the tesseract binary when WithImageOCR is set. Legacy
// .doc and .xls files are not supported. The format is taken from the file
// extension.
type Engine struct {
	tesseract string
	lang      string
	run       func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type Option func(*Engine)

// WithImageOCR enables image formats through `tesseract <file> stdout -l lang`.
func WithImageOCR(tesseract, lang string) Option {
	return func(e *Engine) {
		e.tesseract = strings.TrimSpace(tesseract)
		e.lang = strings.TrimSpace(lang)
		if e.lang == "" {
			e.lang = "eng"
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{run: runCommand}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Extract(ctx context.Context, path string) (domain.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ExtractionResult{}, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	var (
		text string
		meta = map[string]any{"format": strings.TrimPrefix(ext, ".")}
		err  error
	)
	switch {
	case ext == ".pdf":
		text, err = extractPDF(path, meta)
	case ext == ".xlsx":
		text, err = extractXLSX(ctx, path, meta)
	case ext == ".docx":
		text, err = extractDOCX(path)
	case ext == ".txt", ext == ".csv":
		text, err = extractPlain(path)
	case imageExtensions[ext]:
		text, err = e.extractImage(ctx, path, meta)
	case ext == ".doc", ext == ".xls":
		err = fmt.Errorf("%w: %q is a legacy office format; convert it or point EXTRACTION_COMMAND at an engine that reads it", ErrUnsupportedFormat, ext)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return domain.ExtractionResult{}, &domain.ExternalProcessError{Command: "native", Err: err}
	}
	text = strings.TrimSpace(text)
	meta["characters"] = utf8.RuneCountInString(text)
	return domain.ExtractionResult{Text: text, Metadata: meta}, nil
}

func (e *Engine) extractImage(ctx context.Context, path string, meta map[string]any) (string, error) {
	if e.tesseract == "" {
		return "", fmt.Errorf("%w: %q needs image OCR, which is disabled", ErrUnsupportedFormat, filepath.Ext(path))
	}
	stdout, stderr, err := e.run(ctx, e.tesseract, path, "stdout", "-l", e.lang)
	if err != nil {
		if msg := strings.TrimSpace(string(stderr)); msg != "" {
			return "", fmt.Errorf("tesseract: %w: %s", err, msg)
		}
		return "", fmt.Errorf("tesseract: %w", err)
	}
	meta["method"] = "image-ocr"
	meta["language"] = e.lang
	return string(stdout), nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func extractPDF(path string, meta map[string]any) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	pages := reader.NumPage()
	meta["pages"] = pages
	var b strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func extractXLSX(ctx context.Context, path string, meta map[string]any) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	meta["sheets"] = len(sheets)
	var b strings.Builder
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		b.WriteString("# ")
		b.WriteString(sheet)
		b.WriteString("\n")
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func extractDOCX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		return stripDocxXML(rc)
	}
	return "", errors.New("document.xml not found in docx")
}

func stripDocxXML(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var b strings.Builder
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse docx xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			if (t.Name.Local == "p" || t.Name.Local == "br") && b.Len() > 0 {
				b.WriteString("\n")
			}
		}
	}
	return b.String(), nil
}

func extractPlain(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", errors.New("text file is not valid utf-8")
	}
	return string(raw), nil
}
