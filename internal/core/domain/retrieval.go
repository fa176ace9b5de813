package domain

import "time"

type RetrievalMode string

const (
	RetrievalModeLexicalOnly RetrievalMode = "lexical_only"
	RetrievalModeHybrid      RetrievalMode = "hybrid"
)

// RetrievalCandidate is a per-query ranking entry. VectorScore is nil when the
// chunk was not returned by the dense leg.
type RetrievalCandidate struct {
	ChunkID      string   `json:"chunk_id"`
	DocID        string   `json:"doc_id"`
	SourceURL    string   `json:"source_url"`
	LexicalScore float64  `json:"lexical_score"`
	Coverage     float64  `json:"coverage"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
	FusedScore   float64  `json:"fused_score"`
	Rank         int      `json:"rank"`
}

// VectorHit is a raw nearest-neighbour result. Similarity is higher-is-better.
type VectorHit struct {
	ChunkID    string  `json:"chunk_id"`
	Similarity float64 `json:"similarity"`
}

// DriftReport describes how far the dense index has diverged from the corpus.
type DriftReport struct {
	VectorChunkIDs int       `json:"vector_chunk_ids"`
	CorpusChunkIDs int       `json:"corpus_chunk_ids"`
	Overlap        int       `json:"overlap"`
	OverlapRatio   float64   `json:"overlap_ratio"`
	Threshold      float64   `json:"threshold"`
	HybridEnabled  bool      `json:"hybrid_enabled"`
	Reason         string    `json:"reason,omitempty"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
}

// Mode is the retrieval mode every query runs in while this report is current.
func (r DriftReport) Mode() RetrievalMode {
	if r.HybridEnabled {
		return RetrievalModeHybrid
	}
	return RetrievalModeLexicalOnly
}

type GateOutcome string

const (
	GatePass    GateOutcome = "pass"
	GateAbstain GateOutcome = "abstain"
)

type GateDecision struct {
	Outcome      GateOutcome   `json:"outcome"`
	Reason       AbstainReason `json:"reason,omitempty"`
	TopScore     float64       `json:"top_score"`
	DistinctDocs int           `json:"distinct_docs"`
}

func (d GateDecision) Passed() bool {
	return d.Outcome == GatePass
}

// RetrievalTrace is the outcome of retrieval and gating without generation.
type RetrievalTrace struct {
	Mode            RetrievalMode        `json:"retrieval_mode"`
	Candidates      []RetrievalCandidate `json:"candidates"`
	Gate            GateDecision         `json:"gate"`
	DegradedReason  string               `json:"degraded_reason,omitempty"`
	SnapshotVersion string               `json:"snapshot_version"`
}
