package httpadapter

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
)

// serveBlob streams an object addressed by a URL from the local blob store's
// SignedURL. The signature is the only credential.
func (rt *Router) serveBlob(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	q := r.URL.Query()
	if err := rt.blobs.Verify(key, q.Get("expires"), q.Get("sig")); err != nil {
		writeError(w, r, err)
		return
	}

	body, err := rt.blobs.Get(r.Context(), key)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "blob not found"})
		return
	}
	defer body.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("blob_stream_failed",
			"request_id", requestIDFromContext(r.Context()),
			"key", key,
			"error", err,
		)
	}
}
