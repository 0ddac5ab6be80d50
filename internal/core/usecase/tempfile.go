package usecase

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// withTempFile creates a temp file whose name carries documentID, lets fill
// write it, then hands the closed file's path to use. The file is removed on
// every return path, including panics in fill or use.
func withTempFile(dir, documentID, ext string, fill func(io.Writer) error, use func(path string) error) error {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return domain.WrapError(domain.ErrStorage, "create temp dir", err)
		}
	}
	f, err := os.CreateTemp(dir, sanitizeFilename(documentID)+"-*"+sanitizeExtension(ext))
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "create temp file", err)
	}
	path := f.Name()
	closed := false

	defer func() {
		if !closed {
			_ = f.Close()
		}
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			slog.Warn("temp_file_cleanup_failed", "path", path, "error", rmErr)
		}
	}()

	if err := fill(f); err != nil {
		return err
	}
	closed = true
	if err := f.Close(); err != nil {
		return domain.WrapError(domain.ErrStorage, "flush temp file", err)
	}
	return use(path)
}

func sanitizeExtension(ext string) string {
	if ext == "" {
		return ""
	}
	out := make([]rune, 0, len(ext))
	for _, r := range ext {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return ""
	}
	return "." + string(out)
}
