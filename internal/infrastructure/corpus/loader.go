package corpus

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kirillkom/policy-rag/internal/core/domain"
	"github.com/kirillkom/policy-rag/internal/core/ports"
)

const maxLineBytes = 4 << 20

// LoadStats describes what the loader accepted and rejected.
type LoadStats struct {
	Lines      int
	Loaded     int
	Invalid    int
	Duplicates int
}

// Load reads a chunks.jsonl artifact. Malformed JSON aborts the load; records
// that fail validation are skipped and counted.
func Load(ctx context.Context, storage ports.ObjectStorage, key string) (*Store, LoadStats, error) {
	rc, err := storage.Open(ctx, key)
	if err != nil {
		return nil, LoadStats{}, domain.WrapError(domain.ErrArtifactInvalid, "open chunks", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, LoadStats{}, domain.WrapError(domain.ErrArtifactInvalid, "read chunks", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Store, LoadStats, error) {
	var stats LoadStats
	records := make([]domain.ChunkRecord, 0, 256)
	seen := make(map[string]struct{}, 256)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		stats.Lines++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec domain.ChunkRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, stats, domain.WrapError(domain.ErrArtifactInvalid, "parse chunks", fmt.Errorf("line %d: %w", stats.Lines, err))
		}
		if err := rec.Validate(); err != nil {
			stats.Invalid++
			continue
		}
		if _, dup := seen[rec.ChunkID]; dup {
			stats.Duplicates++
			continue
		}
		seen[rec.ChunkID] = struct{}{}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, domain.WrapError(domain.ErrArtifactInvalid, "scan chunks", err)
	}
	stats.Loaded = len(records)
	return NewStore(records, Fingerprint(data)), stats, nil
}

// Fingerprint is a short content hash used as an artifact version.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:6])
}
