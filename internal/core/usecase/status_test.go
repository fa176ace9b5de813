package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/policy-rag/internal/core/domain"
)

type probeFake struct {
	err error
}

func (p probeFake) Ready(context.Context) error { return p.err }

func TestStatusNotReadyWithoutSnapshot(t *testing.T) {
	svc := NewStatusService(NewSnapshotHolder(nil), NewAdmissionController(4), GenerationInfo{Provider: "ollama", Model: "m"})

	report := svc.Status(context.Background())
	if report.Ready {
		t.Fatalf("expected not ready without a snapshot")
	}
	if report.Drift != nil {
		t.Fatalf("expected no drift report, got %+v", report.Drift)
	}
	if report.Admission.Limit != 4 {
		t.Fatalf("expected admission limit 4, got %d", report.Admission.Limit)
	}
}

func TestStatusReportsSnapshotAndProbe(t *testing.T) {
	store := corpusOf(2)
	snap := &Snapshot{
		Version: "v1",
		Store:   store,
		Drift:   domain.DriftReport{Reason: DriftReasonVectorAbsent},
	}
	holder := NewSnapshotHolder(snap)

	svc := NewStatusService(holder, NewAdmissionController(2), GenerationInfo{
		Provider: "ollama",
		Model:    "llama3.1:8b",
		Probe:    probeFake{},
		Breaker:  func() string { return "closed" },
	})
	report := svc.Status(context.Background())
	if !report.Ready {
		t.Fatalf("expected ready, got %+v", report)
	}
	if report.RetrievalMode != domain.RetrievalModeLexicalOnly || report.HybridEnabled {
		t.Fatalf("expected lexical_only without vector index, got %+v", report)
	}
	if report.CorpusChunks != 2 || report.SnapshotVersion != "v1" {
		t.Fatalf("unexpected snapshot fields %+v", report)
	}
	if report.Generation.Breaker != "closed" || report.Generation.Status != GenerationStatusOK {
		t.Fatalf("unexpected generation status %+v", report.Generation)
	}

	failing := NewStatusService(holder, NewAdmissionController(2), GenerationInfo{Provider: "ollama", Probe: probeFake{err: errors.New("down")}})
	report = failing.Status(context.Background())
	if report.Ready || report.Generation.Status != GenerationStatusUnavailable {
		t.Fatalf("expected unavailable generation to fail readiness, got %+v", report)
	}

	disabled := NewStatusService(holder, NewAdmissionController(2), GenerationInfo{Provider: "ollama", Disabled: true, Probe: probeFake{err: errors.New("down")}})
	if report := disabled.Status(context.Background()); !report.Ready || report.Generation.Status != GenerationStatusDisabled {
		t.Fatalf("expected disabled generation to stay ready, got %+v", report)
	}
}
