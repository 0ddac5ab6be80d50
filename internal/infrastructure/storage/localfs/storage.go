package localfs

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// Storage keeps blobs on the local filesystem and issues HMAC-signed URLs
// that the API serves back under /v1/blobs/.
type Storage struct {
	basePath  string
	publicURL string
	secret    []byte
	now       func() time.Time
}

type Options struct {
	BasePath      string
	PublicBaseURL string
	SigningSecret string
}

func New(opts Options) (*Storage, error) {
	basePath := opts.BasePath
	if basePath == "" {
		basePath = "./data/storage"
	}
	if strings.TrimSpace(opts.SigningSecret) == "" {
		return nil, errors.New("local blob signing secret is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	publicURL := strings.TrimRight(opts.PublicBaseURL, "/")
	if publicURL == "" {
		publicURL = "http://localhost:8080"
	}
	return &Storage{
		basePath:  basePath,
		publicURL: publicURL,
		secret:    []byte(opts.SigningSecret),
		now:       time.Now,
	}, nil
}

func (s *Storage) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return domain.WrapError(domain.ErrStorage, "create blob dir", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "create blob file", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return domain.WrapError(domain.ErrStorage, "write blob", err)
	}
	if err := tmp.Close(); err != nil {
		return domain.WrapError(domain.ErrStorage, "close blob", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return domain.WrapError(domain.ErrStorage, "commit blob", err)
	}
	return nil
}

func (s *Storage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrStorage, "open blob", fmt.Errorf("key %q not found", key))
		}
		return nil, domain.WrapError(domain.ErrStorage, "open blob", err)
	}
	return f, nil
}

// SignedURL fails for keys with no stored object.
func (s *Storage) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	target, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(target); err != nil {
		return "", domain.WrapError(domain.ErrStorage, "sign blob url", err)
	}
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(key, expires))
	return s.publicURL + "/v1/blobs/" + escapeKey(key) + "?" + q.Encode(), nil
}

// Verify checks a signature issued by SignedURL.
func (s *Storage) Verify(key, expires, signature string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return domain.WrapError(domain.ErrForbidden, "verify blob url", errors.New("malformed expiry"))
	}
	if s.now().Unix() > exp {
		return domain.WrapError(domain.ErrForbidden, "verify blob url", errors.New("url expired"))
	}
	if !hmac.Equal([]byte(signature), []byte(s.sign(key, exp))) {
		return domain.WrapError(domain.ErrForbidden, "verify blob url", errors.New("bad signature"))
	}
	return nil
}

func (s *Storage) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// resolve maps a key onto a path under basePath and rejects traversal.
func (s *Storage) resolve(key string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(key))
	if key == "" || clean == "/" || strings.Contains(key, "..") || strings.Contains(key, `\`) {
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve blob key", fmt.Errorf("invalid key %q", key))
	}
	return filepath.Join(s.basePath, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
