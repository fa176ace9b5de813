package ports

import "github.com/kirillkom/policy-rag/internal/core/domain"

// ChunkStore is the read-only corpus keyed by chunk id, in load order.
type ChunkStore interface {
	Get(chunkID string) (domain.ChunkRecord, bool)
	IDs() []string
	Len() int
}

// LexicalSearcher ranks chunks by term relevance. It never fails: queries with
// no usable terms return an empty slice.
type LexicalSearcher interface {
	Search(query string, k int) []domain.RetrievalCandidate
}

// VectorIndex searches the dense artifact.
type VectorIndex interface {
	Search(queryVector []float32, k int) ([]domain.VectorHit, error)
	ChunkIDs() []string
	Dimension() int
}
