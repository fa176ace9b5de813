package usecase

import (
	"github.com/kirillkom/policy-rag/internal/core/domain"
)

type GatePolicy struct {
	MinConfidence   float64
	MinDistinctDocs int
}

func DefaultGatePolicy() GatePolicy {
	return GatePolicy{MinConfidence: 0.30, MinDistinctDocs: 2}
}

// ConfidenceGate decides answer or abstain from fused candidates alone.
type ConfidenceGate struct {
	policy GatePolicy
}

func NewConfidenceGate(policy GatePolicy) ConfidenceGate {
	if policy.MinDistinctDocs < 1 {
		policy.MinDistinctDocs = 1
	}
	return ConfidenceGate{policy: policy}
}

// Evaluate checks, in order: any candidates, top score strictly above the
// minimum confidence, enough distinct source documents. Zero-score
// candidates, such as unrelated dense neighbours, add no diversity.
func (g ConfidenceGate) Evaluate(candidates []domain.RetrievalCandidate) domain.GateDecision {
	if len(candidates) == 0 {
		return domain.GateDecision{Outcome: domain.GateAbstain, Reason: domain.AbstainEmptyRetrieval}
	}

	top := candidates[0].FusedScore
	docs := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c.FusedScore > top {
			top = c.FusedScore
		}
		if c.FusedScore <= 0 {
			continue
		}
		key := c.DocID
		if key == "" {
			key = c.ChunkID
		}
		docs[key] = struct{}{}
	}
	decision := domain.GateDecision{TopScore: top, DistinctDocs: len(docs)}

	switch {
	case top <= g.policy.MinConfidence:
		decision.Outcome = domain.GateAbstain
		decision.Reason = domain.AbstainLowConfidence
	case len(docs) < g.policy.MinDistinctDocs:
		decision.Outcome = domain.GateAbstain
		decision.Reason = domain.AbstainInsufficientDiversity
	default:
		decision.Outcome = domain.GatePass
	}
	return decision
}
