package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/policy-rag/internal/config"
	"github.com/kirillkom/policy-rag/internal/core/ports"
	"github.com/kirillkom/policy-rag/internal/core/usecase"
	"github.com/kirillkom/policy-rag/internal/infrastructure/artifacts"
	"github.com/kirillkom/policy-rag/internal/infrastructure/cache/redis"
	"github.com/kirillkom/policy-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/policy-rag/internal/infrastructure/llm/openai"
	"github.com/kirillkom/policy-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/policy-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/policy-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/policy-rag/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/policy-rag/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Snapshots *usecase.SnapshotHolder
	Admission *usecase.AdmissionController
	Answers   *usecase.AnswerOrchestrator
	Status    *usecase.StatusService
	Reloader  *Reloader
	Builder   *SnapshotBuilder

	HTTPMetrics *metrics.HTTPServerMetrics
	Pipeline    *metrics.PipelineMetrics

	// Optional, nil when not configured.
	Notifier *nats.ReloadNotifier
	Audit    *postgres.AuditRepository

	closers []func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	app.HTTPMetrics = metrics.NewHTTPServerMetrics("policy-rag")
	app.Pipeline = metrics.NewPipelineMetrics(app.HTTPMetrics.Registry())

	storage, err := localfs.New(cfg.ArtifactsDir)
	if err != nil {
		return nil, fmt.Errorf("init artifact storage: %w", err)
	}

	resCfg := resilience.DefaultConfig()
	resCfg.AttemptTimeout = time.Duration(cfg.EmbeddingTimeoutSeconds) * time.Second
	resCfg.BreakerFailureRatio = cfg.BreakerFailureRatio
	resCfg.BreakerMinRequests = uint32(max(cfg.BreakerMinRequests, 1))
	resCfg.BreakerOpenTimeout = time.Duration(cfg.BreakerOpenTimeoutSeconds) * time.Second
	embedExec := resilience.NewExecutor(resCfg).WithStateListener(app.Pipeline.BreakerStateChanged)
	genExec := resilience.NewExecutor(resilience.BreakerOnly(resCfg)).WithStateListener(app.Pipeline.BreakerStateChanged)

	embedder, denseReason, err := newEmbedder(cfg, embedExec)
	if err != nil {
		return nil, err
	}
	backend, genInfo, err := newGenerationBackend(cfg, genExec)
	if err != nil {
		return nil, err
	}

	app.Builder = &SnapshotBuilder{
		Storage: storage,
		Paths: ArtifactPaths{
			Chunks:      cfg.ChunksPath,
			VectorIndex: cfg.VectorIndexPath,
			VectorMeta:  cfg.VectorMetaPath,
		},
		Drift:       usecase.NewDriftValidator(cfg.RAGDriftThreshold, cfg.RAGHybridEnabled),
		DenseReason: denseReason,
	}
	app.Snapshots = usecase.NewSnapshotHolder(nil)
	app.Reloader = NewReloader(app.Builder, app.Snapshots, app.Pipeline)
	if err := app.Reloader.Trigger(ctx, "startup"); err != nil {
		slog.Error("artifact_load_failed", "error", err)
	}

	app.Admission = usecase.NewAdmissionController(cfg.RAGMaxConcurrency)
	deps := usecase.AnswerDependencies{
		Snapshots: app.Snapshots,
		Admission: app.Admission,
		Fusion: usecase.NewFusionReranker(usecase.FusionWeights{
			Lexical: cfg.RAGLexicalWeight,
			Vector:  cfg.RAGVectorWeight,
		}, cfg.RAGTopK),
		Gate: usecase.NewConfidenceGate(usecase.GatePolicy{
			MinConfidence:   cfg.RAGMinConfidence,
			MinDistinctDocs: cfg.RAGMinDistinctDocs,
		}),
		Generation: usecase.NewGenerationClient(backend, usecase.GenerationPolicy{
			MaxAttempts:      cfg.GenerationMaxAttempts,
			AttemptTimeout:   seconds(cfg.GenerationTimeoutSeconds),
			InitialBackoff:   seconds(cfg.GenerationRetryBackoffSeconds),
			MaxBackoff:       seconds(cfg.GenerationRetryMaxBackoffSeconds),
			Multiplier:       cfg.GenerationRetryMultiplier,
			MaxCharsPerChunk: cfg.RAGMaxCharsPerChunk,
			Disabled:         cfg.GenerationDisabled,
		}),
		Observer: app.Pipeline,
	}
	deps.Embedder = embedder

	if cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.closers = append(app.closers, func() { _ = db.Close() })
		repo := postgres.NewAuditRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure audit schema: %w", err)
		}
		app.Audit = repo
		deps.Audit = repo
	}

	if cfg.RedisAddr != "" {
		cache, err := redis.NewAnswerCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			slog.Warn("answer_cache_disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			app.closers = append(app.closers, func() { _ = cache.Close() })
			deps.Cache = cache
		}
	}

	if cfg.NATSURL != "" {
		notifier, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSReloadSubject, nats.Options{
			ResilienceExecutor: embedExec,
		})
		if err != nil {
			return nil, fmt.Errorf("init reload notifier: %w", err)
		}
		app.closers = append(app.closers, notifier.Close)
		app.Notifier = notifier
	}

	app.Answers = usecase.NewAnswerOrchestrator(deps, usecase.AnswerConfig{
		DefaultTopK:      cfg.RAGTopK,
		Candidates:       cfg.RAGHybridCandidates,
		MaxQuestionChars: cfg.RAGMaxQuestionChars,
		EmbedTimeout:     time.Duration(cfg.EmbeddingTimeoutSeconds) * time.Second,
		CacheTTL:         time.Duration(cfg.AnswerCacheTTLSeconds) * time.Second,
		CacheNamespace:   cfg.AnswerFingerprint(),
	})
	app.Status = usecase.NewStatusService(app.Snapshots, app.Admission, genInfo)

	ok = true
	return app, nil
}

// StartBackground runs the reload triggers until ctx is done.
func (a *App) StartBackground(ctx context.Context) {
	if a.Config.WatchArtifacts {
		watcher := artifacts.NewWatcher([]string{
			a.Config.ArtifactPath(a.Config.ChunksPath),
			a.Config.ArtifactPath(a.Config.VectorIndexPath),
			a.Config.ArtifactPath(a.Config.VectorMetaPath),
		}, 0)
		go func() {
			if err := watcher.Run(ctx, a.Reloader.Trigger); err != nil {
				slog.Error("artifact_watcher_stopped", "error", err)
			}
		}()
	}
	if a.Notifier != nil {
		go func() {
			if err := a.Notifier.SubscribeReload(ctx, a.Reloader.Trigger); err != nil {
				slog.Error("reload_subscription_stopped", "error", err)
			}
		}()
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newEmbedder(cfg config.Config, exec *resilience.Executor) (ports.Embedder, string, error) {
	switch cfg.EmbeddingProvider {
	case "none":
		return nil, usecase.DriftReasonNoEmbedder, nil
	case "ollama":
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, exec,
			ollama.WithHTTPTimeout(ollamaHTTPTimeout(cfg)))
		return ollama.NewEmbedder(client), "", nil
	default:
		if cfg.OpenAIAPIKey == "" {
			slog.Warn("dense_retrieval_disabled", "reason", usecase.DriftReasonMissingAPIKey)
			return nil, usecase.DriftReasonMissingAPIKey, nil
		}
		client, err := openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIChatModel, cfg.EmbeddingModel, exec)
		if err != nil {
			return nil, "", fmt.Errorf("init openai embedder: %w", err)
		}
		return client, "", nil
	}
}

func newGenerationBackend(cfg config.Config, exec *resilience.Executor) (ports.GenerationBackend, usecase.GenerationInfo, error) {
	info := usecase.GenerationInfo{Provider: cfg.GenerationProvider, Disabled: cfg.GenerationDisabled}
	switch cfg.GenerationProvider {
	case "openai":
		if cfg.GenerationDisabled && cfg.OpenAIAPIKey == "" {
			info.Model = cfg.OpenAIChatModel
			return nil, info, nil
		}
		client, err := openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIChatModel, cfg.EmbeddingModel, exec)
		if err != nil {
			return nil, info, fmt.Errorf("init openai generation: %w", err)
		}
		info.Model = client.Model()
		info.Breaker = client.BreakerState
		return client, info, nil
	default:
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, exec,
			ollama.WithHTTPTimeout(ollamaHTTPTimeout(cfg)))
		info.Model = client.Model()
		info.Probe = client
		info.Breaker = client.BreakerState
		return ollama.NewGenerator(client), info, nil
	}
}

// ollamaHTTPTimeout never undercuts a configured per-call timeout, so the
// context deadline is what ends a slow attempt.
func ollamaHTTPTimeout(cfg config.Config) time.Duration {
	timeout := time.Duration(cfg.OllamaTimeout) * time.Second
	if attempt := seconds(cfg.GenerationTimeoutSeconds); attempt > timeout {
		timeout = attempt
	}
	if embed := time.Duration(cfg.EmbeddingTimeoutSeconds) * time.Second; embed > timeout {
		timeout = embed
	}
	return timeout
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
