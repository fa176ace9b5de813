package flat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Binary layout, little-endian:
//
//	magic   [4]byte "PRVI"
//	version uint32
//	dim     uint32
//	count   uint32
//	metric  uint8
//	rows    count*dim float32
var magic = [4]byte{'P', 'R', 'V', 'I'}

const formatVersion uint32 = 1

type Metric uint8

const (
	MetricInnerProduct Metric = iota
	MetricCosine
	MetricL2
)

func (m Metric) String() string {
	switch m {
	case MetricInnerProduct:
		return "ip"
	case MetricCosine:
		return "cosine"
	case MetricL2:
		return "l2"
	default:
		return fmt.Sprintf("metric(%d)", uint8(m))
	}
}

type header struct {
	Magic   [4]byte
	Version uint32
	Dim     uint32
	Count   uint32
	Metric  uint8
}

var errBadMagic = errors.New("not a flat vector index")

// Encode writes vectors in the flat index layout. All rows must share one
// dimension.
func Encode(w io.Writer, metric Metric, vectors [][]float32) error {
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	h := header{Magic: magic, Version: formatVersion, Dim: uint32(dim), Count: uint32(len(vectors)), Metric: uint8(metric)}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, vec := range vectors {
		if len(vec) != dim {
			return fmt.Errorf("row %d has dimension %d, want %d", i, len(vec), dim)
		}
		if err := binary.Write(w, binary.LittleEndian, vec); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	return nil
}

// readChunk caps how many floats are allocated ahead of the bytes that back
// them, so a forged header cannot force a huge allocation.
const readChunk = 1 << 16

var errSizeMismatch = errors.New("index size does not match header")

// decode reads an index. size is the total byte length when known, or -1.
func decode(r io.Reader, size int64) (header, []float32, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return h, nil, fmt.Errorf("read header: %w", err)
	}
	if h.Magic != magic {
		return h, nil, errBadMagic
	}
	if h.Version != formatVersion {
		return h, nil, fmt.Errorf("unsupported index version %d", h.Version)
	}
	if Metric(h.Metric) > MetricL2 {
		return h, nil, fmt.Errorf("unsupported metric %d", h.Metric)
	}
	total := uint64(h.Dim) * uint64(h.Count)
	if total > math.MaxInt32 {
		return h, nil, fmt.Errorf("index too large: %d x %d", h.Count, h.Dim)
	}
	if size >= 0 {
		want := int64(binary.Size(h)) + int64(total)*4
		if size != want {
			return h, nil, fmt.Errorf("%w: %d rows of dimension %d need %d bytes, file has %d", errSizeMismatch, h.Count, h.Dim, want, size)
		}
	}

	data := make([]float32, 0, min(total, readChunk))
	buf := make([]float32, min(total, readChunk))
	for remaining := total; remaining > 0; {
		n := min(remaining, uint64(len(buf)))
		if err := binary.Read(r, binary.LittleEndian, buf[:n]); err != nil {
			return h, nil, fmt.Errorf("read rows: %w", err)
		}
		data = append(data, buf[:n]...)
		remaining -= n
	}
	return h, data, nil
}
