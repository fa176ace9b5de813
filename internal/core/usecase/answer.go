package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kirillkom/policy-rag/internal/core/domain"
	"github.com/kirillkom/policy-rag/internal/core/ports"
)

const (
	DegradedEmbeddingFailed   = "embedding_failed"
	DegradedDimensionMismatch = "vector_dimension_mismatch"
	DegradedVectorFailed      = "vector_search_failed"
	DegradedSnapshotMissing   = "snapshot_unavailable"

	maxTopK = 50
)

type AnswerConfig struct {
	DefaultTopK      int
	Candidates       int
	MaxQuestionChars int
	EmbedTimeout     time.Duration
	CacheTTL         time.Duration
	// CacheNamespace separates cached answers produced under different
	// retrieval or generation settings.
	CacheNamespace string
}

func (c AnswerConfig) normalize() AnswerConfig {
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = 5
	}
	if c.Candidates < c.DefaultTopK {
		c.Candidates = max(20, c.DefaultTopK)
	}
	if c.MaxQuestionChars <= 0 {
		c.MaxQuestionChars = 2000
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 10 * time.Second
	}
	return c
}

// AnswerDependencies wires the orchestrator. Embedder, Cache, Audit and
// Observer are optional.
type AnswerDependencies struct {
	Snapshots  *SnapshotHolder
	Admission  *AdmissionController
	Fusion     *FusionReranker
	Gate       ConfidenceGate
	Generation *GenerationClient
	Embedder   ports.Embedder
	Cache      ports.AnswerCache
	Audit      ports.AnswerAuditLog
	Observer   ports.PipelineObserver
}

type AnswerOrchestrator struct {
	deps AnswerDependencies
	cfg  AnswerConfig
}

func NewAnswerOrchestrator(deps AnswerDependencies, cfg AnswerConfig) *AnswerOrchestrator {
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	return &AnswerOrchestrator{deps: deps, cfg: cfg.normalize()}
}

// Answer returns an error only for invalid input and saturation. Every other
// path yields a result with either an answer or an abstain reason.
func (o *AnswerOrchestrator) Answer(ctx context.Context, req domain.QueryRequest) (result *domain.AnswerResult, err error) {
	started := time.Now()
	question, topK, err := o.validate(req)
	if err != nil {
		return nil, err
	}

	release, ok := o.deps.Admission.TryAcquire()
	if !ok {
		o.deps.Observer.ObserveAdmissionRejected()
		slog.Warn("admission_rejected", "request_id", domain.RequestIDFromContext(ctx), "limit", o.deps.Admission.Limit())
		return nil, domain.WrapError(domain.ErrSaturated, "answer", fmt.Errorf("%d requests in flight", o.deps.Admission.Limit()))
	}
	o.deps.Observer.ObserveInFlight(o.deps.Admission.InFlight())
	defer func() {
		release()
		o.deps.Observer.ObserveInFlight(o.deps.Admission.InFlight())
	}()

	snap := o.deps.Snapshots.Load()
	mode := domain.RetrievalModeLexicalOnly
	if snap != nil {
		mode = snap.Mode()
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("answer_panic", "request_id", domain.RequestIDFromContext(ctx), "panic", fmt.Sprint(rec))
			result = domain.Abstained(domain.AbstainInternalError, 0, mode, 0)
			err = nil
		}
		if result != nil {
			result.Timing.TotalSeconds = time.Since(started).Seconds()
			o.finish(ctx, question, snap, result)
		}
	}()

	if snap == nil {
		res := domain.Abstained(domain.AbstainInternalError, 0, mode, 0)
		res.DegradedReason = DegradedSnapshotMissing
		return res, nil
	}
	if ctx.Err() != nil {
		return domain.Abstained(domain.AbstainRequestCancelled, 0, mode, 0), nil
	}

	cacheKey := answerCacheKey(o.cfg.CacheNamespace, snap.Version, question, topK)
	if cached := o.cacheGet(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	retrievalStarted := time.Now()
	trace, err := o.retrieve(ctx, snap, question, topK)
	retrievalSeconds := time.Since(retrievalStarted).Seconds()
	if err != nil {
		slog.Error("retrieval_failed", "request_id", domain.RequestIDFromContext(ctx), "error", err)
		res := domain.Abstained(domain.AbstainInternalError, 0, mode, 0)
		res.Timing.RetrievalSeconds = retrievalSeconds
		return res, nil
	}
	if ctx.Err() != nil {
		res := domain.Abstained(domain.AbstainRequestCancelled, trace.Gate.TopScore, trace.Mode, 0)
		res.DegradedReason = trace.DegradedReason
		res.Timing.RetrievalSeconds = retrievalSeconds
		return res, nil
	}

	if !trace.Gate.Passed() {
		res := domain.Abstained(trace.Gate.Reason, trace.Gate.TopScore, trace.Mode, 0)
		res.DegradedReason = trace.DegradedReason
		res.Timing.RetrievalSeconds = retrievalSeconds
		return res, nil
	}

	evidence := make([]domain.EvidenceChunk, 0, len(trace.Candidates))
	for _, c := range trace.Candidates {
		rec, ok := snap.Store.Get(c.ChunkID)
		if !ok {
			continue
		}
		evidence = append(evidence, domain.EvidenceChunk{Candidate: c, Chunk: rec})
	}

	generationStarted := time.Now()
	outcome := o.deps.Generation.Generate(ctx, question, evidence)
	generationSeconds := time.Since(generationStarted).Seconds()

	var res *domain.AnswerResult
	if outcome.Succeeded() {
		res = domain.Answered(outcome.Text, outcome.Citations, trace.Gate.TopScore, trace.Mode, outcome.Attempts)
		o.cacheSet(ctx, cacheKey, res)
	} else {
		slog.Warn("generation_abstained",
			"request_id", domain.RequestIDFromContext(ctx),
			"reason", outcome.Reason,
			"attempts", outcome.Attempts,
			"error", outcome.Err,
		)
		res = domain.Abstained(outcome.Reason, trace.Gate.TopScore, trace.Mode, outcome.Attempts)
	}
	res.DegradedReason = trace.DegradedReason
	res.Timing.RetrievalSeconds = retrievalSeconds
	res.Timing.GenerationSeconds = generationSeconds
	return res, nil
}

// Retrieve runs retrieval and gating without generation. It shares the
// admission limit with Answer because the dense leg calls the embedder.
func (o *AnswerOrchestrator) Retrieve(ctx context.Context, req domain.QueryRequest) (domain.RetrievalTrace, error) {
	question, topK, err := o.validate(req)
	if err != nil {
		return domain.RetrievalTrace{}, err
	}
	release, ok := o.deps.Admission.TryAcquire()
	if !ok {
		o.deps.Observer.ObserveAdmissionRejected()
		slog.Warn("admission_rejected", "request_id", domain.RequestIDFromContext(ctx), "limit", o.deps.Admission.Limit(), "operation", "retrieve")
		return domain.RetrievalTrace{}, domain.WrapError(domain.ErrSaturated, "retrieve", fmt.Errorf("%d requests in flight", o.deps.Admission.Limit()))
	}
	o.deps.Observer.ObserveInFlight(o.deps.Admission.InFlight())
	defer func() {
		release()
		o.deps.Observer.ObserveInFlight(o.deps.Admission.InFlight())
	}()

	snap := o.deps.Snapshots.Load()
	if snap == nil {
		return domain.RetrievalTrace{}, domain.WrapError(domain.ErrNotReady, "retrieve", errors.New("no artifact snapshot loaded"))
	}
	return o.retrieve(ctx, snap, question, topK)
}

func (o *AnswerOrchestrator) validate(req domain.QueryRequest) (string, int, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "validate question", errors.New("question is empty"))
	}
	if n := utf8.RuneCountInString(question); n > o.cfg.MaxQuestionChars {
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "validate question", fmt.Errorf("question has %d characters, limit is %d", n, o.cfg.MaxQuestionChars))
	}
	topK := req.TopK
	if topK == 0 {
		topK = o.cfg.DefaultTopK
	}
	if topK < 1 || topK > maxTopK {
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "validate top_k", fmt.Errorf("top_k must be between 1 and %d", maxTopK))
	}
	return question, topK, nil
}

type legResult struct {
	candidates []domain.RetrievalCandidate
	degraded   string
	err        error
}

func (o *AnswerOrchestrator) retrieve(ctx context.Context, snap *Snapshot, question string, topK int) (domain.RetrievalTrace, error) {
	mode := snap.Mode()
	if mode == domain.RetrievalModeHybrid && o.deps.Embedder == nil {
		mode = domain.RetrievalModeLexicalOnly
	}
	candidates := max(o.cfg.Candidates, topK)

	var lexical, dense legResult
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				lexical.err = fmt.Errorf("lexical search panic: %v", rec)
			}
		}()
		lexical.candidates = snap.Lexical.Search(question, candidates)
	}()
	if mode == domain.RetrievalModeHybrid {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					dense = legResult{degraded: DegradedVectorFailed, err: fmt.Errorf("vector search panic: %v", rec)}
				}
			}()
			dense = o.denseLeg(ctx, snap, question, candidates)
		}()
	}
	wg.Wait()

	if lexical.err != nil {
		return domain.RetrievalTrace{}, lexical.err
	}

	trace := domain.RetrievalTrace{Mode: mode, SnapshotVersion: snap.Version}
	if dense.degraded != "" {
		trace.Mode = domain.RetrievalModeLexicalOnly
		trace.DegradedReason = dense.degraded
		o.deps.Observer.ObserveDenseDegraded(dense.degraded)
		slog.Warn("dense_leg_degraded",
			"request_id", domain.RequestIDFromContext(ctx),
			"reason", dense.degraded,
			"error", dense.err,
		)
	}

	trace.Candidates = o.deps.Fusion.Fuse(lexical.candidates, dense.candidates, trace.Mode, topK)
	trace.Gate = o.deps.Gate.Evaluate(trace.Candidates)
	return trace, nil
}

func (o *AnswerOrchestrator) denseLeg(ctx context.Context, snap *Snapshot, question string, k int) legResult {
	embedCtx, cancel := context.WithTimeout(ctx, o.cfg.EmbedTimeout)
	defer cancel()

	vector, err := o.deps.Embedder.EmbedQuery(embedCtx, question)
	if err != nil {
		return legResult{degraded: DegradedEmbeddingFailed, err: err}
	}
	if len(vector) != snap.Vector.Dimension() {
		return legResult{degraded: DegradedDimensionMismatch, err: fmt.Errorf("embedding has %d dimensions, index has %d", len(vector), snap.Vector.Dimension())}
	}
	hits, err := snap.Vector.Search(vector, k)
	if err != nil {
		return legResult{degraded: DegradedVectorFailed, err: err}
	}

	out := make([]domain.RetrievalCandidate, 0, len(hits))
	for _, hit := range hits {
		rec, ok := snap.Store.Get(hit.ChunkID)
		if !ok {
			continue
		}
		score := hit.Similarity
		out = append(out, domain.RetrievalCandidate{
			ChunkID:     rec.ChunkID,
			DocID:       rec.DocumentKey(),
			SourceURL:   rec.SourceURL,
			VectorScore: &score,
		})
	}
	return legResult{candidates: out}
}

func (o *AnswerOrchestrator) finish(ctx context.Context, question string, snap *Snapshot, result *domain.AnswerResult) {
	if checkErr := result.CheckInvariant(); checkErr != nil {
		slog.Error("answer_invariant_violated", "request_id", domain.RequestIDFromContext(ctx), "error", checkErr)
	}
	o.deps.Observer.ObserveAnswer(result)

	attrs := []any{
		"request_id", domain.RequestIDFromContext(ctx),
		"retrieval_mode", result.RetrievalMode,
		"confidence", result.Confidence,
		"generation_attempts", result.GenerationAttempts,
		"total_seconds", result.Timing.TotalSeconds,
	}
	if result.AbstainReason != nil {
		attrs = append(attrs, "reason", *result.AbstainReason)
		slog.Info("answer_abstained", attrs...)
	} else {
		attrs = append(attrs, "citations", len(result.Citations))
		slog.Info("answer_completed", attrs...)
	}

	if o.deps.Audit == nil {
		return
	}
	audit := domain.AnswerAudit{
		ID:                 uuid.NewString(),
		RequestID:          domain.RequestIDFromContext(ctx),
		Question:           question,
		RetrievalMode:      result.RetrievalMode,
		Outcome:            result.Outcome(),
		Confidence:         result.Confidence,
		GenerationAttempts: result.GenerationAttempts,
		CitationCount:      len(result.Citations),
		DegradedReason:     result.DegradedReason,
		TotalSeconds:       result.Timing.TotalSeconds,
		CreatedAt:          time.Now().UTC(),
	}
	if result.AbstainReason != nil {
		audit.AbstainReason = string(*result.AbstainReason)
	}
	if snap != nil {
		audit.SnapshotVersion = snap.Version
	}
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if auditErr := o.deps.Audit.Record(auditCtx, audit); auditErr != nil {
		slog.Warn("answer_audit_failed", "request_id", audit.RequestID, "error", auditErr)
	}
}

func (o *AnswerOrchestrator) cacheGet(ctx context.Context, key string) *domain.AnswerResult {
	if o.deps.Cache == nil {
		return nil
	}
	cached, ok, err := o.deps.Cache.Get(ctx, key)
	if err != nil {
		slog.Warn("answer_cache_get_failed", "error", err)
		return nil
	}
	o.deps.Observer.ObserveCache(ok)
	if !ok || cached == nil || cached.Answer == nil {
		return nil
	}
	return cached
}

func (o *AnswerOrchestrator) cacheSet(ctx context.Context, key string, result *domain.AnswerResult) {
	if o.deps.Cache == nil || o.cfg.CacheTTL <= 0 {
		return
	}
	if err := o.deps.Cache.Set(ctx, key, result, o.cfg.CacheTTL); err != nil {
		slog.Warn("answer_cache_set_failed", "error", err)
	}
}

func answerCacheKey(namespace, version, question string, topK int) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", namespace, version, topK, normalized)))
	return hex.EncodeToString(sum[:])
}

type noopObserver struct{}

func (noopObserver) ObserveAnswer(*domain.AnswerResult) {}
func (noopObserver) ObserveAdmissionRejected()          {}
func (noopObserver) ObserveInFlight(int)                {}
func (noopObserver) ObserveDenseDegraded(string)        {}
func (noopObserver) ObserveCache(bool)                  {}
