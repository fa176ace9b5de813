package usecase

import (
	"fmt"
	"time"

	"github.com/kirillkom/policy-rag/internal/core/domain"
	"github.com/kirillkom/policy-rag/internal/core/ports"
)

const (
	DriftReasonVectorAbsent     = "vector_index_absent"
	DriftReasonHybridDisabled   = "hybrid_disabled_by_config"
	DriftReasonMetaSizeMismatch = "vector_meta_size_mismatch"
	DriftReasonVectorInvalid    = "vector_index_invalid"
	DriftReasonMissingAPIKey    = "missing_openai_api_key"
	DriftReasonNoEmbedder       = "embedding_provider_disabled"
	DriftReasonEmptyVectorIDs   = "vector_index_empty"
)

const DefaultDriftThreshold = 0.9

// DriftValidator compares the dense index's chunk ids with the corpus and
// decides whether hybrid retrieval may run.
type DriftValidator struct {
	threshold     float64
	hybridEnabled bool
	now           func() time.Time
}

// NewDriftValidator keeps any threshold in [0,1]. Zero means any overlap is
// enough; values outside the range fall back to DefaultDriftThreshold.
func NewDriftValidator(threshold float64, hybridEnabled bool) *DriftValidator {
	if threshold < 0 || threshold > 1 {
		threshold = DefaultDriftThreshold
	}
	return &DriftValidator{threshold: threshold, hybridEnabled: hybridEnabled, now: time.Now}
}

// Evaluate computes |V ∩ C| / |V| over distinct vector ids. An absent index or
// empty id list disables hybrid mode.
func (v *DriftValidator) Evaluate(corpus ports.ChunkStore, vectorIDs []string, vectorAvailable bool) domain.DriftReport {
	report := domain.DriftReport{
		CorpusChunkIDs: corpus.Len(),
		Threshold:      v.threshold,
		EvaluatedAt:    v.now().UTC(),
	}
	if !vectorAvailable {
		report.Reason = DriftReasonVectorAbsent
		return report
	}

	seen := make(map[string]struct{}, len(vectorIDs))
	for _, id := range vectorIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := corpus.Get(id); ok {
			report.Overlap++
		}
	}
	report.VectorChunkIDs = len(seen)
	if report.VectorChunkIDs > 0 {
		report.OverlapRatio = float64(report.Overlap) / float64(report.VectorChunkIDs)
	}

	switch {
	case !v.hybridEnabled:
		report.Reason = DriftReasonHybridDisabled
	case report.VectorChunkIDs == 0:
		report.Reason = DriftReasonEmptyVectorIDs
	case report.OverlapRatio < v.threshold:
		report.Reason = fmt.Sprintf("drift: overlap %.2f < %.2f", report.OverlapRatio, v.threshold)
	default:
		report.HybridEnabled = true
	}
	return report
}

// Unavailable reports a disabled dense leg for a reason found while loading
// artifacts or providers.
func (v *DriftValidator) Unavailable(corpus ports.ChunkStore, reason string) domain.DriftReport {
	if !v.hybridEnabled {
		reason = DriftReasonHybridDisabled
	}
	return domain.DriftReport{
		CorpusChunkIDs: corpus.Len(),
		Threshold:      v.threshold,
		Reason:         reason,
		EvaluatedAt:    v.now().UTC(),
	}
}
