package usecase

import (
	"sync/atomic"
	"time"

	"github.com/kirillkom/policy-rag/internal/core/domain"
	"github.com/kirillkom/policy-rag/internal/core/ports"
)

// Snapshot is the read-only artifact set one request works against. Vector is
// nil when dense retrieval is unavailable.
type Snapshot struct {
	Version  string
	Store    ports.ChunkStore
	Lexical  ports.LexicalSearcher
	Vector   ports.VectorIndex
	Drift    domain.DriftReport
	LoadedAt time.Time
}

func (s *Snapshot) Mode() domain.RetrievalMode {
	if s.Vector == nil {
		return domain.RetrievalModeLexicalOnly
	}
	return s.Drift.Mode()
}

// SnapshotHolder publishes snapshots with an atomic swap.
type SnapshotHolder struct {
	current atomic.Pointer[Snapshot]
}

func NewSnapshotHolder(initial *Snapshot) *SnapshotHolder {
	h := &SnapshotHolder{}
	if initial != nil {
		h.current.Store(initial)
	}
	return h
}

func (h *SnapshotHolder) Load() *Snapshot {
	return h.current.Load()
}

// Swap installs next and returns the previous snapshot.
func (h *SnapshotHolder) Swap(next *Snapshot) *Snapshot {
	return h.current.Swap(next)
}
