package domain

import (
	"errors"
	"time"
)

type AbstainReason string

const (
	AbstainLowConfidence         AbstainReason = "low_confidence"
	AbstainEmptyRetrieval        AbstainReason = "empty_retrieval"
	AbstainInsufficientDiversity AbstainReason = "insufficient_diversity"
	AbstainGenerationUnavailable AbstainReason = "generation_unavailable"
	AbstainRequestCancelled      AbstainReason = "request_cancelled"
	AbstainInternalError         AbstainReason = "internal_error"
)

// QueryRequest is the validated input of one answer request.
type QueryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

// Citation points at the evidence span behind an answer. Score is the fused
// score; the lexical, dense and coverage parts are kept for inspection.
type Citation struct {
	Cite         string   `json:"cite"`
	ChunkID      string   `json:"chunk_id"`
	SourceURL    string   `json:"source_url"`
	DocID        string   `json:"doc_id,omitempty"`
	StartChar    int      `json:"start_char"`
	EndChar      int      `json:"end_char"`
	Score        float64  `json:"score"`
	LexicalScore float64  `json:"bm25_score"`
	VectorScore  *float64 `json:"dense_score"`
	Coverage     float64  `json:"coverage"`
}

// EvidenceChunk is a gated candidate hydrated with its text for prompting.
type EvidenceChunk struct {
	Candidate RetrievalCandidate
	Chunk     ChunkRecord
}

type Timing struct {
	RetrievalSeconds  float64 `json:"retrieval_seconds"`
	GenerationSeconds float64 `json:"generation_seconds"`
	TotalSeconds      float64 `json:"total_seconds"`
}

// AnswerResult is the response contract. Exactly one of Answer and
// AbstainReason is non-nil; use Answered or Abstained to build it.
type AnswerResult struct {
	Answer             *string        `json:"answer"`
	Citations          []Citation     `json:"citations"`
	Confidence         float64        `json:"confidence"`
	RetrievalMode      RetrievalMode  `json:"retrieval_mode"`
	AbstainReason      *AbstainReason `json:"abstain_reason"`
	GenerationAttempts int            `json:"generation_attempts"`
	DegradedReason     string         `json:"degraded_reason,omitempty"`
	Timing             Timing         `json:"timing"`
}

func Answered(text string, citations []Citation, confidence float64, mode RetrievalMode, attempts int) *AnswerResult {
	return &AnswerResult{
		Answer:             &text,
		Citations:          citations,
		Confidence:         confidence,
		RetrievalMode:      mode,
		GenerationAttempts: attempts,
	}
}

func Abstained(reason AbstainReason, confidence float64, mode RetrievalMode, attempts int) *AnswerResult {
	return &AnswerResult{
		Citations:          []Citation{},
		Confidence:         confidence,
		RetrievalMode:      mode,
		AbstainReason:      &reason,
		GenerationAttempts: attempts,
	}
}

func (r *AnswerResult) Outcome() string {
	if r.Answer != nil {
		return "answered"
	}
	return "abstained"
}

func (r *AnswerResult) CheckInvariant() error {
	switch {
	case r.Answer == nil && r.AbstainReason == nil:
		return errors.New("answer result has neither answer nor abstain reason")
	case r.Answer != nil && r.AbstainReason != nil:
		return errors.New("answer result has both answer and abstain reason")
	case r.Answer != nil && len(r.Citations) == 0:
		return errors.New("answered result has no citations")
	}
	return nil
}

// AnswerAudit is the persisted trace of one answered or abstained request.
type AnswerAudit struct {
	ID                 string
	RequestID          string
	Question           string
	RetrievalMode      RetrievalMode
	Outcome            string
	AbstainReason      string
	Confidence         float64
	GenerationAttempts int
	CitationCount      int
	DegradedReason     string
	SnapshotVersion    string
	TotalSeconds       float64
	CreatedAt          time.Time
}

// GenerationOutcome is the result of the bounded generation loop. Reason is
// empty on success.
type GenerationOutcome struct {
	Text      string
	Citations []Citation
	Attempts  int
	Reason    AbstainReason
	Err       error
}

func (o GenerationOutcome) Succeeded() bool {
	return o.Reason == ""
}
