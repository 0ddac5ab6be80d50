package httpadapter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/observability/metrics"
)

const metricsService = "api"

// BlobServer serves objects behind locally signed URLs. It is nil when the
// blob backend issues its own URLs (S3).
type BlobServer interface {
	Verify(key, expires, signature string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

type Router struct {
	cfg       config.Config
	ingestor  ports.DocumentIngestor
	stages    ports.StageController
	reader    ports.DocumentReader
	blobs     BlobServer
	metrics   *metrics.HTTPServerMetrics
	gatherers []prometheus.Gatherer
}

func NewRouter(
	cfg config.Config,
	ingestor ports.DocumentIngestor,
	stages ports.StageController,
	reader ports.DocumentReader,
	blobs BlobServer,
	httpMetrics *metrics.HTTPServerMetrics,
	gatherers ...prometheus.Gatherer,
) *Router {
	if strings.TrimSpace(cfg.APIIdentityHeader) == "" {
		cfg.APIIdentityHeader = "X-User-Id"
	}
	return &Router{
		cfg:       cfg,
		ingestor:  ingestor,
		stages:    stages,
		reader:    reader,
		blobs:     blobs,
		metrics:   httpMetrics,
		gatherers: gatherers,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler(rt.gatherers...))
	}

	mux.HandleFunc("POST /v1/documents", rt.withCaller(rt.uploadDocuments))
	mux.HandleFunc("GET /v1/documents", rt.withCaller(rt.listDocuments))
	mux.HandleFunc("GET /v1/documents/{id}", rt.withCaller(rt.getDocument))
	mux.HandleFunc("POST /v1/documents/{id}/classification", rt.withCaller(rt.triggerClassification))
	mux.HandleFunc("POST /v1/documents/{id}/classification/reset", rt.withCaller(rt.resetClassification))
	mux.HandleFunc("POST /v1/documents/{id}/extraction", rt.withCaller(rt.triggerExtraction))
	mux.HandleFunc("POST /v1/documents/{id}/extraction/reset", rt.withCaller(rt.resetExtraction))
	if rt.blobs != nil {
		mux.HandleFunc("GET /v1/blobs/{key...}", rt.serveBlob)
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(metricsService, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withCaller resolves the identity header. There is no anonymous caller.
func (rt *Router) withCaller(next func(http.ResponseWriter, *http.Request, domain.Caller)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := domain.NewCaller(r.Header.Get(rt.cfg.APIIdentityHeader))
		if err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r, caller)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
