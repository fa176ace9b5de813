package usecase

import (
	"strings"
	"testing"

	"github.com/kirillkom/policy-rag/internal/core/domain"
)

func evidenceOf(ids ...string) []domain.EvidenceChunk {
	out := make([]domain.EvidenceChunk, 0, len(ids))
	for i, id := range ids {
		out = append(out, domain.EvidenceChunk{
			Candidate: domain.RetrievalCandidate{ChunkID: id, DocID: "doc-" + id, FusedScore: 0.9 - float64(i)*0.1},
			Chunk:     domain.ChunkRecord{ChunkID: id, DocID: "doc-" + id, SourceURL: "https://example.org/" + id, Text: "text of " + id},
		})
	}
	return out
}

func TestBuildAnswerPromptLabelsAndTruncates(t *testing.T) {
	ev := evidenceOf("c1", "c2")
	ev[1].Chunk.Text = strings.Repeat("x", 50)
	prompt := buildAnswerPrompt("  How long is data kept? ", ev, 10)
	if !strings.Contains(prompt, "[c1]") || !strings.Contains(prompt, "[c2]") {
		t.Fatalf("expected chunk labels in prompt: %s", prompt)
	}
	if strings.Contains(prompt, strings.Repeat("x", 11)) {
		t.Fatalf("expected chunk text truncated to 10 chars")
	}
	if !strings.Contains(prompt, "How long is data kept?") || !strings.Contains(prompt, RefusalText) {
		t.Fatalf("expected question and refusal instruction: %s", prompt)
	}
}

func TestExtractCitationsOrderOfFirstMention(t *testing.T) {
	ev := evidenceOf("c1", "c2", "c3")
	got := extractCitations("Retention is 30 days [c3]. Deletion on request [c1][c3].", ev)
	if len(got) != 2 || got[0].ChunkID != "c3" || got[1].ChunkID != "c1" {
		t.Fatalf("unexpected citations %+v", got)
	}
	if got[0].Cite != "[3]" || got[0].SourceURL != "https://example.org/c3" {
		t.Fatalf("unexpected citation fields %+v", got[0])
	}
}

func TestExtractCitationsCarrySpanAndScoreBreakdown(t *testing.T) {
	ev := evidenceOf("c1")
	dense := 0.72
	ev[0].Chunk.CharStart, ev[0].Chunk.CharEnd = 120, 480
	ev[0].Candidate.LexicalScore = 3.5
	ev[0].Candidate.Coverage = 0.5
	ev[0].Candidate.VectorScore = &dense

	got := extractCitations("Answer [1].", ev)
	if len(got) != 1 {
		t.Fatalf("expected one citation, got %+v", got)
	}
	c := got[0]
	if c.StartChar != 120 || c.EndChar != 480 {
		t.Fatalf("unexpected span %d..%d", c.StartChar, c.EndChar)
	}
	if c.LexicalScore != 3.5 || c.Coverage != 0.5 || c.VectorScore == nil || *c.VectorScore != 0.72 {
		t.Fatalf("unexpected score breakdown %+v", c)
	}
}

func TestExtractCitationsNumericMarkers(t *testing.T) {
	got := extractCitations("See [2, 1] and [9].", evidenceOf("c1", "c2"))
	if len(got) != 2 || got[0].ChunkID != "c2" || got[1].ChunkID != "c1" {
		t.Fatalf("unexpected citations %+v", got)
	}
}

func TestExtractCitationsFallsBackToAllEvidence(t *testing.T) {
	got := extractCitations("No markers here.", evidenceOf("c1", "c2"))
	if len(got) != 2 || got[0].ChunkID != "c1" || got[1].ChunkID != "c2" {
		t.Fatalf("expected all evidence in rank order, got %+v", got)
	}
}
