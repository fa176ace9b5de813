package flat

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/kirillkom/policy-rag/internal/core/domain"
	"github.com/kirillkom/policy-rag/internal/core/ports"
)

// ErrMetaSizeMismatch means the row count of the index and meta file differ.
var ErrMetaSizeMismatch = errors.New("vector meta size mismatch")

// ErrDimensionMismatch is returned by Search for a query of the wrong size.
var ErrDimensionMismatch = errors.New("query dimension mismatch")

type metaRow struct {
	Row      int            `json:"row"`
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Index is a brute-force nearest neighbour index over a persisted artifact.
type Index struct {
	metric      Metric
	dim         int
	data        []float32
	ids         []string
	fingerprint string
}

func New(metric Metric, dim int, vectors [][]float32, ids []string) (*Index, error) {
	if len(vectors) != len(ids) {
		return nil, domain.WrapError(domain.ErrArtifactInvalid, "build vector index", ErrMetaSizeMismatch)
	}
	data := make([]float32, 0, len(vectors)*dim)
	for i, vec := range vectors {
		if len(vec) != dim {
			return nil, domain.WrapError(domain.ErrArtifactInvalid, "build vector index", fmt.Errorf("row %d has dimension %d, want %d", i, len(vec), dim))
		}
		data = append(data, vec...)
	}
	idx := &Index{metric: metric, dim: dim, data: data, ids: append([]string(nil), ids...)}
	idx.prepareRows()
	return idx, nil
}

// Load reads the binary index and its meta file.
func Load(ctx context.Context, storage ports.ObjectStorage, indexKey, metaKey string) (*Index, error) {
	rc, err := storage.Open(ctx, indexKey)
	if err != nil {
		return nil, domain.WrapError(domain.ErrArtifactInvalid, "open vector index", err)
	}
	size, err := readerSize(rc)
	if err != nil {
		_ = rc.Close()
		return nil, domain.WrapError(domain.ErrArtifactInvalid, "size vector index", err)
	}
	hash := sha256.New()
	h, data, err := decode(bufio.NewReader(io.TeeReader(rc, hash)), size)
	_ = rc.Close()
	if err != nil {
		return nil, domain.WrapError(domain.ErrArtifactInvalid, "decode vector index", err)
	}

	mc, err := storage.Open(ctx, metaKey)
	if err != nil {
		return nil, domain.WrapError(domain.ErrArtifactInvalid, "open vector meta", err)
	}
	ids, err := readMeta(io.TeeReader(mc, hash), int(h.Count))
	_ = mc.Close()
	if err != nil {
		return nil, domain.WrapError(domain.ErrArtifactInvalid, "read vector meta", err)
	}

	idx := &Index{
		metric:      Metric(h.Metric),
		dim:         int(h.Dim),
		data:        data,
		ids:         ids,
		fingerprint: hex.EncodeToString(hash.Sum(nil))[:16],
	}
	idx.prepareRows()
	return idx, nil
}

// readerSize returns the byte length of a seekable reader and rewinds it.
// Other readers report -1.
func readerSize(r io.Reader) (int64, error) {
	seeker, ok := r.(io.Seeker)
	if !ok {
		return -1, nil
	}
	end, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return -1, nil
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind: %w", err)
	}
	return end, nil
}

func readMeta(r io.Reader, count int) ([]string, error) {
	ids := make([]string, count)
	filled := 0
	rows := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var m metaRow
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows++
		if m.Row < 0 || m.Row >= count {
			return nil, fmt.Errorf("%w: row %d outside index of %d rows", ErrMetaSizeMismatch, m.Row, count)
		}
		if ids[m.Row] == "" {
			filled++
		}
		ids[m.Row] = m.ID
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if rows != count || filled != count {
		return nil, fmt.Errorf("%w: index has %d rows, meta has %d", ErrMetaSizeMismatch, count, rows)
	}
	return ids, nil
}

// prepareRows normalizes stored rows for cosine so search is a dot product.
func (idx *Index) prepareRows() {
	if idx.metric != MetricCosine {
		return
	}
	for i := 0; i < len(idx.ids); i++ {
		normalize(idx.data[i*idx.dim : (i+1)*idx.dim])
	}
}

func (idx *Index) Dimension() int {
	return idx.dim
}

func (idx *Index) Metric() Metric {
	return idx.metric
}

func (idx *Index) Len() int {
	return len(idx.ids)
}

// Fingerprint identifies the loaded index and meta bytes. Indexes built with
// New have none.
func (idx *Index) Fingerprint() string {
	return idx.fingerprint
}

// ChunkIDs returns the row-ordered chunk ids. The slice must not be modified.
func (idx *Index) ChunkIDs() []string {
	return idx.ids
}

// Search returns up to k hits ordered by similarity descending, ties broken by
// ascending chunk id.
func (idx *Index) Search(queryVector []float32, k int) ([]domain.VectorHit, error) {
	if len(queryVector) != idx.dim {
		return nil, fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(queryVector), idx.dim)
	}
	if k <= 0 || len(idx.ids) == 0 {
		return []domain.VectorHit{}, nil
	}
	q := append([]float32(nil), queryVector...)
	if idx.metric != MetricL2 {
		normalize(q)
	}

	hits := make([]domain.VectorHit, 0, len(idx.ids))
	for i, id := range idx.ids {
		row := idx.data[i*idx.dim : (i+1)*idx.dim]
		var sim float64
		switch idx.metric {
		case MetricL2:
			sim = 1 / (1 + math.Sqrt(squaredDistance(q, row)))
		default:
			sim = dot(q, row)
		}
		hits = append(hits, domain.VectorHit{ChunkID: id, Similarity: sim})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity == hits[j].Similarity {
			return hits[i].ChunkID < hits[j].ChunkID
		}
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func squaredDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
