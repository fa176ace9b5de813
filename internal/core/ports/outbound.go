package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/policy-rag/internal/core/domain"
)

// ObjectStorage opens artifact files.
type ObjectStorage interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (bool, error)
}

// Embedder turns query text into a vector comparable with the dense index.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// GenerationBackend performs one completion call. Transient failures are
// wrapped with domain.ErrTemporary.
type GenerationBackend interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ReadinessProbe reports whether an external dependency can serve requests.
type ReadinessProbe interface {
	Ready(ctx context.Context) error
}

// AnswerCache stores answered results keyed by snapshot version and question.
type AnswerCache interface {
	Get(ctx context.Context, key string) (*domain.AnswerResult, bool, error)
	Set(ctx context.Context, key string, result *domain.AnswerResult, ttl time.Duration) error
}

// AnswerAuditLog persists one record per finished request.
type AnswerAuditLog interface {
	Record(ctx context.Context, audit domain.AnswerAudit) error
}

// ReloadNotifier broadcasts and receives artifact reload requests.
type ReloadNotifier interface {
	PublishReload(ctx context.Context, reason string) error
	SubscribeReload(ctx context.Context, handler func(context.Context, string) error) error
}

// PipelineObserver receives per-request pipeline events, typically for metrics.
type PipelineObserver interface {
	ObserveAnswer(result *domain.AnswerResult)
	ObserveAdmissionRejected()
	ObserveInFlight(n int)
	ObserveDenseDegraded(reason string)
	ObserveCache(hit bool)
}
