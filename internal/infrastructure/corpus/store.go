package corpus

import (
	"github.com/kirillkom/policy-rag/internal/core/domain"
)

// Store is an immutable, ordered set of chunk records.
type Store struct {
	order   []string
	records map[string]domain.ChunkRecord
	version string
}

// NewStore keeps the first occurrence of each chunk id.
func NewStore(records []domain.ChunkRecord, version string) *Store {
	s := &Store{
		order:   make([]string, 0, len(records)),
		records: make(map[string]domain.ChunkRecord, len(records)),
		version: version,
	}
	for _, rec := range records {
		if _, exists := s.records[rec.ChunkID]; exists {
			continue
		}
		s.records[rec.ChunkID] = rec
		s.order = append(s.order, rec.ChunkID)
	}
	return s
}

func (s *Store) Get(chunkID string) (domain.ChunkRecord, bool) {
	rec, ok := s.records[chunkID]
	return rec, ok
}

// IDs returns chunk ids in load order. The slice must not be modified.
func (s *Store) IDs() []string {
	return s.order
}

func (s *Store) Len() int {
	return len(s.order)
}

func (s *Store) Version() string {
	return s.version
}

// All returns the records in load order.
func (s *Store) All() []domain.ChunkRecord {
	out := make([]domain.ChunkRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}
