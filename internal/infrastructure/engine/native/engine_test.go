package native

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

func TestExtractPlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc-1.csv")
	if err := os.WriteFile(path, []byte("date,total\n2024-03-01,42.00\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	result, err := New().Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Text != "date,total\n2024-03-01,42.00" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if result.Metadata["format"] != "csv" || result.Metadata["characters"] != 27 {
		t.Fatalf("unexpected metadata %v", result.Metadata)
	}
}

func TestExtractXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc-2.xlsx")
	f := excelize.NewFile()
	_ = f.SetCellValue("Sheet1", "A1", "Item")
	_ = f.SetCellValue("Sheet1", "B1", "Amount")
	_ = f.SetCellValue("Sheet1", "A2", "Paper")
	_ = f.SetCellValue("Sheet1", "B2", 12)
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save xlsx: %v", err)
	}
	_ = f.Close()

	result, err := New().Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Text != "# Sheet1\nItem\tAmount\nPaper\t12" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if result.Metadata["sheets"] != 1 {
		t.Fatalf("unexpected metadata %v", result.Metadata)
	}
}

func TestExtractDOCX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc-3.docx")
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create docx: %v", err)
	}
	zw := zip.NewWriter(out)
	w, _ := zw.Create("word/document.xml")
	_, _ = w.Write([]byte(`<w:document xmlns:w="w"><w:body><w:p><w:r><w:t>Lease agreement</w:t></w:r></w:p><w:p><w:r><w:t>Term: 12 months</w:t></w:r></w:p></w:body></w:document>`))
	_ = zw.Close()
	_ = out.Close()

	result, err := New().Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Text != "Lease agreement\nTerm: 12 months" {
		t.Fatalf("unexpected text %q", result.Text)
	}
}

func TestExtractUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	_, err := New().Extract(context.Background(), path)
	if !domain.IsKind(err, domain.ErrExternalProcess) || !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format process error, got %v", err)
	}
}

func TestExtractBrokenPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("not a pdf"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := New().Extract(context.Background(), path); !domain.IsKind(err, domain.ErrExternalProcess) {
		t.Fatalf("expected external process error, got %v", err)
	}
}

func TestExtractImageRunsTesseract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipt.jpg")
	if err := os.WriteFile(path, []byte{0xff, 0xd8, 0xff}, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	var gotName string
	var gotArgs []string
	engine := New(WithImageOCR("/usr/bin/tesseract", ""))
	engine.run = func(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
		gotName, gotArgs = name, args
		return []byte("  TOTAL 12.50\n"), nil, nil
	}

	result, err := engine.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Text != "TOTAL 12.50" || result.Metadata["method"] != "image-ocr" || result.Metadata["language"] != "eng" {
		t.Fatalf("unexpected result %+v", result)
	}
	if gotName != "/usr/bin/tesseract" || strings.Join(gotArgs, " ") != path+" stdout -l eng" {
		t.Fatalf("unexpected invocation %s %v", gotName, gotArgs)
	}
}

func TestExtractImageOCRFailureKeepsStderr(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.webp")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	engine := New(WithImageOCR("tesseract", "deu"))
	engine.run = func(context.Context, string, ...string) ([]byte, []byte, error) {
		return nil, []byte("Error in pixReadStream"), errors.New("exit status 1")
	}

	_, err := engine.Extract(context.Background(), path)
	if !domain.IsKind(err, domain.ErrExternalProcess) || !strings.Contains(err.Error(), "pixReadStream") {
		t.Fatalf("expected tesseract failure with stderr, got %v", err)
	}
}

func TestExtractLegacyOfficeFormatIsUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.xls")
	if err := os.WriteFile(path, []byte{0xd0, 0xcf, 0x11, 0xe0}, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	_, err := New(WithImageOCR("tesseract", "eng")).Extract(context.Background(), path)
	if !errors.Is(err, ErrUnsupportedFormat) || !strings.Contains(err.Error(), "EXTRACTION_COMMAND") {
		t.Fatalf("expected unsupported legacy format, got %v", err)
	}
}
