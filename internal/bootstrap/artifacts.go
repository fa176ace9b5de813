package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/policy-rag/internal/core/domain"
	"github.com/kirillkom/policy-rag/internal/core/ports"
	"github.com/kirillkom/policy-rag/internal/core/usecase"
	"github.com/kirillkom/policy-rag/internal/infrastructure/corpus"
	"github.com/kirillkom/policy-rag/internal/infrastructure/lexical"
	"github.com/kirillkom/policy-rag/internal/infrastructure/vector/flat"
)

type ArtifactPaths struct {
	Chunks      string
	VectorIndex string
	VectorMeta  string
}

// SnapshotBuilder reads the artifacts into a new immutable snapshot.
// DenseReason, when set, disables the dense leg before the index is read,
// e.g. because no embedding provider is configured.
type SnapshotBuilder struct {
	Storage     ports.ObjectStorage
	Paths       ArtifactPaths
	Drift       *usecase.DriftValidator
	DenseReason string
}

func (b *SnapshotBuilder) Build(ctx context.Context) (*usecase.Snapshot, error) {
	store, stats, err := corpus.Load(ctx, b.Storage, b.Paths.Chunks)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	if stats.Invalid > 0 || stats.Duplicates > 0 {
		slog.Warn("corpus_records_skipped",
			"invalid", stats.Invalid,
			"duplicates", stats.Duplicates,
			"loaded", stats.Loaded,
		)
	}

	snap := &usecase.Snapshot{
		Store:    store,
		Lexical:  lexical.Build(store),
		LoadedAt: time.Now().UTC(),
	}

	vectorIndex, reason := b.loadVector(ctx)
	if vectorIndex != nil {
		snap.Vector = vectorIndex
		snap.Drift = b.Drift.Evaluate(store, vectorIndex.ChunkIDs(), true)
	} else {
		snap.Drift = b.Drift.Unavailable(store, reason)
	}

	vectorRows, vectorPrint := 0, "none"
	if vectorIndex != nil {
		vectorRows, vectorPrint = vectorIndex.Len(), vectorIndex.Fingerprint()
	}
	snap.Version = fmt.Sprintf("%s-%s-%d-%s", store.Version(), snap.Mode(), vectorRows, vectorPrint)
	return snap, nil
}

func (b *SnapshotBuilder) loadVector(ctx context.Context) (*flat.Index, string) {
	if b.DenseReason != "" {
		return nil, b.DenseReason
	}
	if b.Paths.VectorIndex == "" || b.Paths.VectorMeta == "" {
		return nil, usecase.DriftReasonVectorAbsent
	}
	for _, key := range []string{b.Paths.VectorIndex, b.Paths.VectorMeta} {
		ok, err := b.Storage.Stat(ctx, key)
		if err != nil || !ok {
			return nil, usecase.DriftReasonVectorAbsent
		}
	}

	idx, err := flat.Load(ctx, b.Storage, b.Paths.VectorIndex, b.Paths.VectorMeta)
	switch {
	case err == nil:
		return idx, ""
	case errors.Is(err, flat.ErrMetaSizeMismatch):
		slog.Warn("vector_index_rejected", "reason", usecase.DriftReasonMetaSizeMismatch, "error", err)
		return nil, usecase.DriftReasonMetaSizeMismatch
	default:
		slog.Warn("vector_index_rejected", "reason", usecase.DriftReasonVectorInvalid, "error", err)
		return nil, usecase.DriftReasonVectorInvalid
	}
}

type snapshotObserver interface {
	ObserveSnapshot(drift domain.DriftReport, chunks int)
	ObserveReload(err error)
}

// Reloader swaps in a freshly built snapshot. A failed build keeps the
// previous snapshot serving.
type Reloader struct {
	builder  *SnapshotBuilder
	holder   *usecase.SnapshotHolder
	observer snapshotObserver

	mu sync.Mutex
}

func NewReloader(builder *SnapshotBuilder, holder *usecase.SnapshotHolder, observer snapshotObserver) *Reloader {
	return &Reloader{builder: builder, holder: holder, observer: observer}
}

func (r *Reloader) Reload(ctx context.Context) error {
	return r.Trigger(ctx, "manual")
}

// Trigger matches the watcher and NATS handler signature.
func (r *Reloader) Trigger(ctx context.Context, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	next, err := r.builder.Build(ctx)
	if r.observer != nil {
		r.observer.ObserveReload(err)
	}
	if err != nil {
		return fmt.Errorf("reload artifacts (%s): %w", reason, err)
	}

	prev := r.holder.Swap(next)
	prevVersion := ""
	if prev != nil {
		prevVersion = prev.Version
	}
	if r.observer != nil {
		r.observer.ObserveSnapshot(next.Drift, next.Store.Len())
	}
	slog.Info("artifacts_reloaded",
		"reason", reason,
		"version", next.Version,
		"previous_version", prevVersion,
		"retrieval_mode", next.Mode(),
		"chunks", next.Store.Len(),
		"drift_reason", next.Drift.Reason,
		"overlap_ratio", next.Drift.OverlapRatio,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}
