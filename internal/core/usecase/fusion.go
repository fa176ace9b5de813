package usecase

import (
	"sort"

	"github.com/kirillkom/policy-rag/internal/core/domain"
)

// FusionWeights favour exact lexical hits by default.
type FusionWeights struct {
	Lexical float64
	Vector  float64
}

func DefaultFusionWeights() FusionWeights {
	return FusionWeights{Lexical: 0.6, Vector: 0.4}
}

func (w FusionWeights) normalized() FusionWeights {
	if w.Lexical < 0 {
		w.Lexical = 0
	}
	if w.Vector < 0 {
		w.Vector = 0
	}
	sum := w.Lexical + w.Vector
	if sum <= 0 {
		return DefaultFusionWeights()
	}
	return FusionWeights{Lexical: w.Lexical / sum, Vector: w.Vector / sum}
}

type FusionReranker struct {
	weights FusionWeights
	topN    int
}

func NewFusionReranker(weights FusionWeights, topN int) *FusionReranker {
	if topN <= 0 {
		topN = 5
	}
	return &FusionReranker{weights: weights.normalized(), topN: topN}
}

// Fuse merges both result lists by chunk id, scores every candidate on a
// [0,1] scale and returns the best topN (the default when topN <= 0). In
// lexical_only mode the vector list is ignored.
func (f *FusionReranker) Fuse(lexical, vector []domain.RetrievalCandidate, mode domain.RetrievalMode, topN int) []domain.RetrievalCandidate {
	if topN <= 0 {
		topN = f.topN
	}
	weights := f.weights
	if mode != domain.RetrievalModeHybrid {
		weights = FusionWeights{Lexical: 1, Vector: 0}
		vector = nil
	}

	maxLexical := 0.0
	for _, c := range lexical {
		if c.LexicalScore > maxLexical {
			maxLexical = c.LexicalScore
		}
	}

	acc := make(map[string]domain.RetrievalCandidate, len(lexical)+len(vector))
	order := make([]string, 0, len(lexical)+len(vector))
	for _, c := range lexical {
		if _, ok := acc[c.ChunkID]; ok {
			continue
		}
		c.VectorScore = nil
		acc[c.ChunkID] = c
		order = append(order, c.ChunkID)
	}
	for _, c := range vector {
		if c.VectorScore == nil {
			continue
		}
		current, ok := acc[c.ChunkID]
		if !ok {
			current = domain.RetrievalCandidate{ChunkID: c.ChunkID, DocID: c.DocID, SourceURL: c.SourceURL}
			order = append(order, c.ChunkID)
		} else if current.VectorScore != nil && *current.VectorScore >= *c.VectorScore {
			continue
		}
		score := *c.VectorScore
		current.VectorScore = &score
		acc[c.ChunkID] = current
	}

	out := make([]domain.RetrievalCandidate, 0, len(order))
	for _, id := range order {
		c := acc[id]
		lexicalNorm := 0.0
		if maxLexical > 0 {
			lexicalNorm = clamp01(c.LexicalScore/maxLexical) * clamp01(c.Coverage)
		}
		vectorNorm := 0.0
		if c.VectorScore != nil {
			vectorNorm = clamp01(*c.VectorScore)
		}
		c.FusedScore = weights.Lexical*lexicalNorm + weights.Vector*vectorNorm
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > topN {
		out = out[:topN]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
