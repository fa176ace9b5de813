package flat

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/policy-rag/internal/core/domain"
)

type memStorage map[string][]byte

func (m memStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m memStorage) Stat(_ context.Context, key string) (bool, error) {
	_, ok := m[key]
	return ok, nil
}

func encodeIndex(t *testing.T, metric Metric, vectors [][]float32) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, metric, vectors); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

const threeRowMeta = `{"row":0,"id":"c1","metadata":{"doc_id":"d1"}}
{"row":1,"id":"c2","metadata":{"doc_id":"d2"}}
{"row":2,"id":"c3","metadata":{"doc_id":"d3"}}
`

func TestLoadAndSearchInnerProduct(t *testing.T) {
	storage := memStorage{
		"index.vec":  encodeIndex(t, MetricInnerProduct, [][]float32{{1, 0}, {0, 1}, {0.7071, 0.7071}}),
		"meta.jsonl": []byte(threeRowMeta),
	}
	idx, err := Load(context.Background(), storage, "index.vec", "meta.jsonl")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if idx.Len() != 3 || idx.Dimension() != 2 {
		t.Fatalf("unexpected shape: len=%d dim=%d", idx.Len(), idx.Dimension())
	}
	hits, err := idx.Search([]float32{10, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 || hits[0].ChunkID != "c1" || hits[1].ChunkID != "c3" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
	if hits[0].Similarity < 0.99 || hits[0].Similarity > 1.01 {
		t.Fatalf("expected normalized query similarity near 1, got %v", hits[0].Similarity)
	}
}

func TestSearchL2SimilarityMonotone(t *testing.T) {
	idx, err := New(MetricL2, 1, [][]float32{{0}, {3}, {1}}, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	hits, err := idx.Search([]float32{0}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if hits[0].ChunkID != "a" || hits[0].Similarity != 1 {
		t.Fatalf("expected exact match first with similarity 1, got %+v", hits[0])
	}
	if hits[1].ChunkID != "c" || hits[1].Similarity != 0.5 {
		t.Fatalf("expected c second with similarity 0.5, got %+v", hits[1])
	}
}

func TestSearchCosineTieBreak(t *testing.T) {
	idx, err := New(MetricCosine, 2, [][]float32{{2, 0}, {1, 0}}, []string{"z", "a"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	hits, err := idx.Search([]float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if hits[0].ChunkID != "a" || hits[1].ChunkID != "z" {
		t.Fatalf("expected tie broken by chunk id, got %+v", hits)
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	idx, err := New(MetricInnerProduct, 3, [][]float32{{1, 0, 0}}, []string{"a"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := idx.Search([]float32{1, 0}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestLoadMetaSizeMismatch(t *testing.T) {
	storage := memStorage{
		"index.vec":  encodeIndex(t, MetricInnerProduct, [][]float32{{1, 0}, {0, 1}}),
		"meta.jsonl": []byte(threeRowMeta),
	}
	_, err := Load(context.Background(), storage, "index.vec", "meta.jsonl")
	if !errors.Is(err, ErrMetaSizeMismatch) {
		t.Fatalf("expected ErrMetaSizeMismatch, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrArtifactInvalid) {
		t.Fatalf("expected ErrArtifactInvalid kind, got %v", err)
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	storage := memStorage{
		"index.vec":  []byte(strings.Repeat("x", 32)),
		"meta.jsonl": []byte(""),
	}
	if _, err := Load(context.Background(), storage, "index.vec", "meta.jsonl"); err == nil {
		t.Fatalf("expected error for bad magic")
	}
}

type seekStorage map[string][]byte

type readSeekCloser struct{ *bytes.Reader }

func (readSeekCloser) Close() error { return nil }

func (s seekStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := s[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return readSeekCloser{bytes.NewReader(data)}, nil
}

func (s seekStorage) Stat(_ context.Context, key string) (bool, error) {
	_, ok := s[key]
	return ok, nil
}

// forgedHeader declares count rows of dimension dim but carries one row.
func forgedHeader(t *testing.T, dim, count uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	h := header{Magic: magic, Version: formatVersion, Dim: dim, Count: count, Metric: uint8(MetricInnerProduct)}
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, make([]float32, dim)); err != nil {
		t.Fatalf("write row: %v", err)
	}
	return buf.Bytes()
}

func TestLoadRejectsHeaderLargerThanFile(t *testing.T) {
	data := forgedHeader(t, 8, 50_000_000)

	_, err := Load(context.Background(), seekStorage{"index.vec": data, "meta.jsonl": nil}, "index.vec", "meta.jsonl")
	if !errors.Is(err, errSizeMismatch) || !domain.IsKind(err, domain.ErrArtifactInvalid) {
		t.Fatalf("expected size mismatch for seekable reader, got %v", err)
	}

	_, err = Load(context.Background(), memStorage{"index.vec": data, "meta.jsonl": nil}, "index.vec", "meta.jsonl")
	if err == nil || !domain.IsKind(err, domain.ErrArtifactInvalid) {
		t.Fatalf("expected truncated read to fail, got %v", err)
	}
}

func TestLoadRejectsTrailingBytes(t *testing.T) {
	data := append(encodeIndex(t, MetricInnerProduct, [][]float32{{1, 0}, {0, 1}, {1, 1}}), 0, 0, 0, 0)
	_, err := Load(context.Background(), seekStorage{"index.vec": data, "meta.jsonl": []byte(threeRowMeta)}, "index.vec", "meta.jsonl")
	if !errors.Is(err, errSizeMismatch) {
		t.Fatalf("expected size mismatch, got %v", err)
	}
}

func TestFingerprintTracksArtifactBytes(t *testing.T) {
	load := func(vectors [][]float32) string {
		t.Helper()
		storage := seekStorage{
			"index.vec":  encodeIndex(t, MetricInnerProduct, vectors),
			"meta.jsonl": []byte(threeRowMeta),
		}
		idx, err := Load(context.Background(), storage, "index.vec", "meta.jsonl")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		return idx.Fingerprint()
	}

	a := load([][]float32{{1, 0}, {0, 1}, {1, 1}})
	b := load([][]float32{{1, 0}, {0, 1}, {1, 1}})
	c := load([][]float32{{0, 1}, {1, 0}, {1, 1}})
	if a == "" || a != b {
		t.Fatalf("expected stable fingerprint, got %q and %q", a, b)
	}
	if a == c {
		t.Fatalf("expected fingerprint to change with vector content")
	}
}
