package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/policy-rag/internal/core/domain"
)

// RefusalText is what the model is told to say when the evidence is
// insufficient.
const RefusalText = "I don't have enough information in the provided documents."

func buildAnswerPrompt(question string, evidence []domain.EvidenceChunk, maxCharsPerChunk int) string {
	var contextBuilder strings.Builder
	for idx, ev := range evidence {
		text := truncateRunes(strings.TrimSpace(ev.Chunk.Text), maxCharsPerChunk)
		contextBuilder.WriteString(fmt.Sprintf(
			"[%s] (#%d) source=%s\n%s\n\n",
			ev.Chunk.ChunkID,
			idx+1,
			ev.Chunk.SourceURL,
			text,
		))
	}

	return fmt.Sprintf(`You are a careful assistant answering questions using ONLY the provided context.
If the context does not contain the answer, say: "%s"

Rules:
- Use only the context below.
- Cite sources with their bracketed chunk ids, for example [%s].
- Be concise and factual.

Question:
%s

Context:
%s
Answer:
`, RefusalText, firstChunkID(evidence), strings.TrimSpace(question), contextBuilder.String())
}

func firstChunkID(evidence []domain.EvidenceChunk) string {
	if len(evidence) == 0 {
		return "chunk-id"
	}
	return evidence[0].Chunk.ChunkID
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

var citeMarker = regexp.MustCompile(`\[([^\[\]\n]{1,200})\]`)

// extractCitations returns the evidence referenced in text, in order of first
// mention. Markers may be chunk ids or 1-based evidence positions. With no
// recognised marker every evidence chunk is cited in rank order.
func extractCitations(text string, evidence []domain.EvidenceChunk) []domain.Citation {
	byID := make(map[string]int, len(evidence))
	for i, ev := range evidence {
		byID[ev.Chunk.ChunkID] = i
	}

	picked := make([]int, 0, len(evidence))
	seen := make(map[int]struct{}, len(evidence))
	for _, m := range citeMarker.FindAllStringSubmatch(text, -1) {
		for _, token := range strings.Split(m[1], ",") {
			token = strings.TrimSpace(token)
			idx, ok := byID[token]
			if !ok {
				n, err := strconv.Atoi(token)
				if err != nil || n < 1 || n > len(evidence) {
					continue
				}
				idx = n - 1
			}
			if _, dup := seen[idx]; dup {
				continue
			}
			seen[idx] = struct{}{}
			picked = append(picked, idx)
		}
	}
	if len(picked) == 0 {
		for i := range evidence {
			picked = append(picked, i)
		}
	}

	citations := make([]domain.Citation, 0, len(picked))
	for _, idx := range picked {
		ev := evidence[idx]
		citations = append(citations, domain.Citation{
			Cite:         fmt.Sprintf("[%d]", idx+1),
			ChunkID:      ev.Chunk.ChunkID,
			SourceURL:    ev.Chunk.SourceURL,
			DocID:        ev.Chunk.DocID,
			StartChar:    ev.Chunk.CharStart,
			EndChar:      ev.Chunk.CharEnd,
			Score:        ev.Candidate.FusedScore,
			LexicalScore: ev.Candidate.LexicalScore,
			VectorScore:  ev.Candidate.VectorScore,
			Coverage:     ev.Candidate.Coverage,
		})
	}
	return citations
}
