package ports

import (
	"context"

	"github.com/kirillkom/policy-rag/internal/core/domain"
)

// AnswerService is the inbound contract for answering a single question.
type AnswerService interface {
	Answer(ctx context.Context, req domain.QueryRequest) (*domain.AnswerResult, error)
}

// RetrievalInspector exposes retrieval without generation for diagnostics.
type RetrievalInspector interface {
	Retrieve(ctx context.Context, req domain.QueryRequest) (domain.RetrievalTrace, error)
}

// ArtifactReloader rebuilds the in-memory artifact snapshot.
type ArtifactReloader interface {
	Reload(ctx context.Context) error
}

// StatusReporter describes whether the service can answer right now.
type StatusReporter interface {
	Status(ctx context.Context) domain.ReadinessReport
}
