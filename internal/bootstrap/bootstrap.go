package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/media-asset-hub/internal/config"
	"github.com/kirillkom/media-asset-hub/internal/controllers/localdir"
	"github.com/kirillkom/media-asset-hub/internal/core/domain"
	"github.com/kirillkom/media-asset-hub/internal/core/ports"
	"github.com/kirillkom/media-asset-hub/internal/core/usecase"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/enrichment"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/graph"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/graph/neo4j"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/hashing"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/queue/inprocess"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/queue/nats"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/repository/memory"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/resilience"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/storage/localfs"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	QueueBackendNATS      = "nats"
	QueueBackendInProcess = "inprocess"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue        ports.MessageQueue
	Assets       ports.AssetRepository
	Hasher       ports.ContentHasher
	Pipeline     *enrichment.Pipeline
	Audit        *usecase.AuditLog
	IngestUC     *usecase.IngestAssetUseCase
	MetadataUC   *usecase.MetadataUseCase
	RollbackUC   *usecase.RollbackUseCase
	Orchestrator *usecase.JobOrchestrator

	// Ingress is nil unless LOCAL_INGRESS_DIR is set.
	Ingress *localdir.Controller

	closers []func()
}

type Option func(*options)

type options struct {
	logger          *slog.Logger
	breakerObserver func(operation, state string)
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBreakerObserver reports every circuit breaker transition, e.g. to a
// metrics gauge.
func WithBreakerObserver(observer func(operation, state string)) Option {
	return func(o *options) { o.breakerObserver = observer }
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	app := &App{Config: cfg, Logger: logger}

	fail := func(err error) (*App, error) {
		app.Close()
		return nil, err
	}

	executorOpts := []resilience.Option{resilience.WithLogger(logger)}
	if o.breakerObserver != nil {
		observer := o.breakerObserver
		executorOpts = append(executorOpts, resilience.WithStateObserver(func(operation string, _, to gobreaker.State) {
			observer(operation, to.String())
		}))
	}
	executor := resilience.NewExecutor(resilienceConfig(cfg), executorOpts...)

	hasher, err := hashing.New(cfg.HashAlgorithm)
	if err != nil {
		return fail(err)
	}
	app.Hasher = hasher

	assets, jobs, auditRepo, err := app.openStore(ctx)
	if err != nil {
		return fail(err)
	}
	app.Assets = assets

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return fail(fmt.Errorf("init object storage: %w", err))
	}

	queue, err := app.openQueue(executor)
	if err != nil {
		return fail(err)
	}
	app.Queue = queue

	pipeline, err := buildPipeline(cfg, executor, logger)
	if err != nil {
		return fail(err)
	}
	app.Pipeline = pipeline

	indexer, err := app.openGraph(ctx, executor)
	if err != nil {
		return fail(err)
	}

	mergeMode, err := usecase.ParseMergeMode(cfg.EnrichmentMergeMode)
	if err != nil {
		return fail(err)
	}

	app.Audit = usecase.NewAuditLog(auditRepo, logger)
	app.IngestUC = usecase.NewIngestAssetUseCase(assets, storage, queue, hasher, pipeline, app.Audit, logger, usecase.IngestOptions{
		MaxUploadBytes:        cfg.MaxUploadBytes,
		EstimatePerCapability: cfg.EstimatePerCapability,
	})
	app.MetadataUC = usecase.NewMetadataUseCase(assets, app.Audit, logger)
	app.RollbackUC = usecase.NewRollbackUseCase(assets, app.Audit)
	app.Orchestrator = usecase.NewJobOrchestrator(jobs, assets, storage, queue, pipeline, app.MetadataUC, indexer, app.Audit, logger, usecase.OrchestratorOptions{
		MergeMode: mergeMode,
		DefaultRetry: domain.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialInterval:   cfg.RetryInitialInterval,
			MaxInterval:       cfg.RetryMaxInterval,
			BackoffMultiplier: cfg.RetryBackoffMultiplier,
		},
		EstimatePerCapability: cfg.EstimatePerCapability,
		Timeout:               cfg.EnrichmentTimeout,
		ResumeAfter:           cfg.WorkerResumeInterval,
	})

	if strings.TrimSpace(cfg.LocalIngressDir) != "" {
		ingress, err := localdir.New(cfg.LocalIngressDir, app.IngestUC, assets, hasher, app.RollbackUC, app.Audit, localdir.Options{Logger: logger})
		if err != nil {
			return fail(fmt.Errorf("init local ingress: %w", err))
		}
		app.Ingress = ingress
	}

	return app, nil
}

func (a *App) openStore(ctx context.Context) (ports.AssetRepository, ports.JobRepository, ports.AuditRepository, error) {
	switch strings.ToLower(strings.TrimSpace(a.Config.StoreBackend)) {
	case StoreBackendMemory:
		a.Logger.Warn("memory_store_selected", "detail", "assets, jobs and audit entries are lost on restart")
		store := memory.NewStore()
		return store.Assets(), store.Jobs(), store.Audit(), nil
	case "", StoreBackendPostgres:
		db, err := postgres.OpenDB(a.Config.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return postgres.NewAssetRepository(db), postgres.NewJobRepository(db), postgres.NewAuditRepository(db), nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", a.Config.StoreBackend)
	}
}

func (a *App) openQueue(executor *resilience.Executor) (ports.MessageQueue, error) {
	switch strings.ToLower(strings.TrimSpace(a.Config.QueueBackend)) {
	case QueueBackendInProcess:
		return inprocess.New(a.Config.WorkerConcurrency, a.Config.WorkerBuffer, a.Logger), nil
	case "", QueueBackendNATS:
		q, err := nats.NewWithOptions(a.Config.NATSURL, a.Config.NATSSubject, nats.Options{
			QueueGroup:         a.Config.NATSQueueGroup,
			ResilienceExecutor: executor,
			Logger:             a.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		a.closers = append(a.closers, q.Close)
		return q, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", a.Config.QueueBackend)
	}
}

// InProcessQueue reports whether jobs run inside the publishing process.
func (a *App) InProcessQueue() bool {
	_, ok := a.Queue.(*inprocess.Queue)
	return ok
}

func (a *App) openGraph(ctx context.Context, executor *resilience.Executor) (ports.GraphIndexer, error) {
	if strings.TrimSpace(a.Config.Neo4jURI) == "" {
		return graph.Noop{}, nil
	}
	indexer, err := neo4j.New(ctx, a.Config.Neo4jURI, a.Config.Neo4jUser, a.Config.Neo4jPassword, neo4j.Options{
		Database:           a.Config.Neo4jDatabase,
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init neo4j: %w", err)
	}
	a.closers = append(a.closers, func() { _ = indexer.Close(context.Background()) })
	if err := indexer.EnsureConstraints(ctx); err != nil {
		return nil, fmt.Errorf("ensure neo4j constraints: %w", err)
	}
	return indexer, nil
}

func buildPipeline(cfg config.Config, executor *resilience.Executor, logger *slog.Logger) (*enrichment.Pipeline, error) {
	router, err := enrichment.LoadRouting(cfg.EnrichmentWorkflowsFile)
	if err != nil {
		return nil, fmt.Errorf("load enrichment workflows: %w", err)
	}
	generator := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, ollama.Options{
		Timeout:            cfg.OllamaTimeout,
		ResilienceExecutor: executor,
	})
	return enrichment.NewPipeline(router, logger,
		enrichment.NewProbe(),
		enrichment.NewTextExtractor(cfg.TextPreviewRunes),
		enrichment.NewKeywordExtractor(cfg.KeywordLimit),
		enrichment.NewAIAnalysis(generator),
	)
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	out.RetryInitialBackoff = cfg.ResilienceRetryInitialBackoff
	out.RetryMaxBackoff = cfg.ResilienceRetryMaxBackoff
	out.BreakerEnabled = cfg.ResilienceBreakerEnabled
	if cfg.ResilienceBreakerMinRequests > 0 {
		out.BreakerMinRequests = uint32(cfg.ResilienceBreakerMinRequests)
	}
	out.BreakerFailureRatio = cfg.ResilienceBreakerFailureRatio
	out.BreakerOpenTimeout = cfg.ResilienceBreakerOpenTimeout
	return out
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
