package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/adapters/worker"
	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/core/usecase"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/engine/native"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/engine/subprocess"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/llm/openai"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/queue/inprocess"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/queue/nats"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/repository/sqlstore"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/storage/s3"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/taxonomy"
	"github.com/kirillkom/document-pipeline/internal/observability/metrics"
)

const (
	DispatchNATS      = "nats"
	DispatchInProcess = "inprocess"
)

type App struct {
	Config config.Config

	Ingest ports.DocumentIngestor
	Stages ports.StageController
	Reader ports.DocumentReader

	// LocalBlobs is set only for the local backend, whose signed URLs the
	// API serves itself.
	LocalBlobs *localfs.Storage

	Worker        *worker.Handler
	WorkerMetrics *metrics.WorkerMetrics
	// Consumer is nil in in-process mode.
	Consumer ports.TaskConsumer

	pool    *inprocess.Pool
	closeFn func()
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	dialect := sqlstore.Dialect(cfg.DBDriver)
	docs := sqlstore.NewDocumentRepository(db, dialect)
	categories := sqlstore.NewCategoryRepository(db, dialect)
	classifications := sqlstore.NewClassificationRepository(db, dialect)

	tax, err := taxonomy.Load(cfg.TaxonomyFile)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load taxonomy: %w", err)
	}
	if err := taxonomy.Seed(ctx, categories, tax); err != nil {
		_ = db.Close()
		return nil, err
	}

	policy := resiliencePolicy(cfg)

	blobs, localBlobs, err := newBlobStore(ctx, cfg, resilience.NewExecutor(policy))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	ai, err := newAIClassifier(cfg, resilience.NewExecutor(policy.SingleAttempt()))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	engine, err := newExtractionEngine(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	classifyUC := usecase.NewClassifyDocumentUseCase(
		docs,
		classifications,
		usecase.NewCategoryResolver(categories),
		ai,
		tax.Names(),
		cfg.AITimeout,
	)
	extractUC := usecase.NewExtractDocumentUseCase(docs, blobs, engine, usecase.ExtractionOptions{
		TempDir:       cfg.ExtractionTempDir,
		EngineTimeout: cfg.ExtractionTimeout,
		BlobTimeout:   cfg.BlobTimeout,
	})

	workerMetrics := metrics.NewWorkerMetrics(service)
	handler := worker.NewHandler(service, classifyUC, extractUC, workerMetrics, cfg.StageTimeout)

	app := &App{
		Config:        cfg,
		LocalBlobs:    localBlobs,
		Worker:        handler,
		WorkerMetrics: workerMetrics,
	}

	var dispatcher ports.TaskDispatcher
	closeQueue := func() {}
	switch strings.ToLower(strings.TrimSpace(cfg.DispatchMode)) {
	case DispatchInProcess:
		app.pool = inprocess.NewPool(handler.Handle,
			inprocess.WithWorkers(cfg.InProcessWorkers),
			inprocess.WithQueueSize(cfg.InProcessQueue),
		)
		dispatcher = app.pool
	case DispatchNATS, "":
		queue, err := nats.New(cfg.NATSURL, cfg.NATSSubjectPrefix, nats.Options{
			Name:               service,
			ResilienceExecutor: resilience.NewExecutor(policy),
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init task queue: %w", err)
		}
		dispatcher = queue
		app.Consumer = queue
		closeQueue = queue.Close
	default:
		_ = db.Close()
		return nil, fmt.Errorf("unsupported dispatch mode %q", cfg.DispatchMode)
	}

	app.Ingest = usecase.NewIngestDocumentUseCase(docs, blobs, dispatcher, usecase.IngestOptions{
		MaxFiles:     cfg.IngestMaxFiles,
		MaxFileBytes: cfg.IngestMaxFileBytes,
		Concurrency:  cfg.IngestConcurrency,
		BlobTimeout:  cfg.BlobTimeout,
	})
	app.Stages = usecase.NewStageUseCase(docs, dispatcher)
	app.Reader = usecase.NewDocumentQueryUseCase(docs, classifications, categories, blobs, cfg.SignedURLTTL)
	app.closeFn = func() {
		closeQueue()
		_ = db.Close()
	}

	slog.Info("pipeline_wired",
		"service", service,
		"db_driver", cfg.DBDriver,
		"blob_backend", cfg.BlobBackend,
		"dispatch_mode", cfg.DispatchMode,
		"ai_provider", cfg.AIProvider,
		"extraction_engine", cfg.ExtractionEngine,
	)
	return app, nil
}

// InProcess reports whether stages run inside this process.
func (a *App) InProcess() bool {
	return a.pool != nil
}

// Shutdown drains the in-process pool. It is a no-op in NATS mode.
func (a *App) Shutdown(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	return a.pool.Shutdown(ctx)
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	dialect := sqlstore.Dialect(cfg.DBDriver)
	dsn := cfg.PostgresDSN
	if dialect == sqlstore.DialectSQLite {
		dsn = cfg.SQLitePath
	}
	db, err := sqlstore.Open(ctx, dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := sqlstore.Migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func resiliencePolicy(cfg config.Config) resilience.Config {
	policy := resilience.DefaultConfig()
	policy.BreakerEnabled = cfg.BreakerEnabled
	if cfg.RetryMaxAttempts > 0 {
		policy.RetryMaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.BreakerOpenTimeout > 0 {
		policy.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	}
	return policy
}

func newBlobStore(ctx context.Context, cfg config.Config, exec *resilience.Executor) (ports.BlobStore, *localfs.Storage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.BlobBackend)) {
	case "local", "":
		store, err := localfs.New(localfs.Options{
			BasePath:      cfg.StoragePath,
			PublicBaseURL: cfg.PublicBaseURL,
			SigningSecret: cfg.BlobSigningSecret,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, store, nil
	case "s3":
		store, err := s3.New(ctx, s3.Options{
			Region:   cfg.S3Region,
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			Endpoint: cfg.S3Endpoint,
		}, exec)
		if err != nil {
			return nil, nil, fmt.Errorf("init s3 blob store: %w", err)
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported blob backend %q", cfg.BlobBackend)
	}
}

// newAIClassifier returns nil for provider "none"; classification then uses
// the rule-based classifier only.
func newAIClassifier(cfg config.Config, exec *resilience.Executor) (ports.AIClassifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.AIProvider)) {
	case "ollama", "":
		return ollama.New(cfg.OllamaURL, cfg.OllamaModel, exec), nil
	case "openai":
		client, err := openai.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, exec)
		if err != nil {
			return nil, fmt.Errorf("init openai classifier: %w", err)
		}
		return client, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.AIProvider)
	}
}

func newExtractionEngine(cfg config.Config) (ports.ExtractionEngine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.ExtractionEngine)) {
	case "subprocess", "":
		engine, err := subprocess.New(subprocess.Options{
			Command: cfg.ExtractionCommand,
			Args:    cfg.ExtractionArgs,
		})
		if err != nil {
			return nil, fmt.Errorf("init extraction engine: %w", err)
		}
		return engine, nil
	case "native":
		return native.New(native.WithImageOCR(cfg.TesseractPath, cfg.TesseractLang)), nil
	default:
		return nil, fmt.Errorf("unsupported extraction engine %q", cfg.ExtractionEngine)
	}
}
