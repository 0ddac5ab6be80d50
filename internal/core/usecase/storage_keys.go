package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// legacyKeyPrefix is where documents without a path in their key used to live.
const legacyKeyPrefix = "temp/"

var supportedMimeTypes = map[string]string{
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"text/plain":               ".txt",
	"image/jpeg":               ".jpg",
	"image/png":                ".png",
	"image/gif":                ".gif",
	"image/webp":               ".webp",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": ".xlsx",
	"text/csv": ".csv",
}

// normalizeMimeType lowercases and drops parameters such as charset.
func normalizeMimeType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	return mediaType
}

func extensionFor(mimeType string) (string, bool) {
	ext, ok := supportedMimeTypes[normalizeMimeType(mimeType)]
	return ext, ok
}

// canonicalStorageKey always contains a path separator, so new documents
// never take the legacy lookup path.
func canonicalStorageKey(userID, documentID, ext string) string {
	return path.Join("documents", sanitizeFilename(userID), sanitizeFilename(documentID)+ext)
}

func legacyKey(key string) (string, bool) {
	if key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return legacyKeyPrefix + key, true
}

// openBlob reads key, retrying once under the legacy prefix for keys that
// predate canonical naming.
func openBlob(ctx context.Context, blobs ports.BlobStore, key string) (io.ReadCloser, error) {
	body, err := blobs.Get(ctx, key)
	if err == nil {
		return body, nil
	}
	alt, ok := legacyKey(key)
	if !ok || ctx.Err() != nil {
		return nil, storageError("open blob", err)
	}
	body, altErr := blobs.Get(ctx, alt)
	if altErr != nil {
		return nil, storageError("open blob", errors.Join(err, altErr))
	}
	slog.Info("blob_legacy_key_used", "key", key, "legacy_key", alt)
	return body, nil
}

func storageError(operation string, err error) error {
	if domain.IsKind(err, domain.ErrStorage) {
		return err
	}
	return domain.WrapError(domain.ErrStorage, operation, err)
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." {
		return "document.bin"
	}
	return base
}
