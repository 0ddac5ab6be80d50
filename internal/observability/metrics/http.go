package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docpipe"

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	uploadFilesTotal *prometheus.CounterVec
	uploadBytesTotal *prometheus.CounterVec
	batchSize        *prometheus.HistogramVec
	triggersTotal    *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	uploadFilesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Uploaded files by result.",
		},
		[]string{"service", "result"},
	)
	uploadBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "bytes_total",
			Help:      "Bytes stored by successful uploads.",
		},
		[]string{"service"},
	)
	batchSize := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "batch_files",
			Help:      "Files per upload batch.",
			Buckets:   []float64{1, 2, 3, 5, 8, 10},
		},
		[]string{"service"},
	)
	triggersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "triggers_total",
			Help:      "Stage trigger calls by kind and whether a task was dispatched.",
		},
		[]string{"service", "kind", "dispatched"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		uploadFilesTotal,
		uploadBytesTotal,
		batchSize,
		triggersTotal,
	)

	return &HTTPServerMetrics{
		registry:         registry,
		requestTotal:     requestTotal,
		requestDuration:  requestDuration,
		requestInFlight:  requestInFlight,
		uploadFilesTotal: uploadFilesTotal,
		uploadBytesTotal: uploadBytesTotal,
		batchSize:        batchSize,
		triggersTotal:    triggersTotal,
	}
}

// Handler serves this registry plus any extra gatherers, such as the worker
// registry when stages run in the API process.
func (m *HTTPServerMetrics) Handler(extra ...prometheus.Gatherer) http.Handler {
	gatherers := append(prometheus.Gatherers{m.registry}, extra...)
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordBatch counts the files of one upload batch.
func (m *HTTPServerMetrics) RecordBatch(service string, files, uploaded int, bytes int64) {
	m.batchSize.WithLabelValues(service).Observe(float64(files))
	if uploaded > 0 {
		m.uploadFilesTotal.WithLabelValues(service, "uploaded").Add(float64(uploaded))
	}
	if rejected := files - uploaded; rejected > 0 {
		m.uploadFilesTotal.WithLabelValues(service, "rejected").Add(float64(rejected))
	}
	if bytes > 0 {
		m.uploadBytesTotal.WithLabelValues(service).Add(float64(bytes))
	}
}

func (m *HTTPServerMetrics) RecordTrigger(service, kind string, dispatched bool) {
	m.triggersTotal.WithLabelValues(service, kind, strconv.FormatBool(dispatched)).Inc()
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/blobs/"):
		return "/v1/blobs/{key}"
	case strings.HasPrefix(path, "/v1/documents/"):
		rest := strings.TrimPrefix(path, "/v1/documents/")
		if idx := strings.Index(rest, "/"); idx >= 0 {
			return "/v1/documents/{document_id}" + rest[idx:]
		}
		return "/v1/documents/{document_id}"
	default:
		return path
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}
