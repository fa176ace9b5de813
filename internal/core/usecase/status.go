package usecase

import (
	"context"
	"time"

	"github.com/kirillkom/policy-rag/internal/core/domain"
	"github.com/kirillkom/policy-rag/internal/core/ports"
)

const (
	GenerationStatusOK          = "ok"
	GenerationStatusUnavailable = "unavailable"
	GenerationStatusDisabled    = "disabled"
)

const readinessProbeTimeout = 3 * time.Second

// GenerationInfo names the configured backend. Probe and Breaker are optional.
type GenerationInfo struct {
	Provider string
	Model    string
	Disabled bool
	Probe    ports.ReadinessProbe
	Breaker  func() string
}

type StatusService struct {
	snapshots  *SnapshotHolder
	admission  *AdmissionController
	generation GenerationInfo
}

func NewStatusService(snapshots *SnapshotHolder, admission *AdmissionController, generation GenerationInfo) *StatusService {
	return &StatusService{snapshots: snapshots, admission: admission, generation: generation}
}

// Status is ready when a snapshot is loaded and the generation backend, if
// enabled, answers its probe.
func (s *StatusService) Status(ctx context.Context) domain.ReadinessReport {
	report := domain.ReadinessReport{
		RetrievalMode: domain.RetrievalModeLexicalOnly,
		Generation:    s.generationStatus(ctx),
		Admission: domain.AdmissionStatus{
			InFlight: s.admission.InFlight(),
			Limit:    s.admission.Limit(),
		},
	}

	snap := s.snapshots.Load()
	if snap != nil {
		drift := snap.Drift
		report.Drift = &drift
		report.RetrievalMode = snap.Mode()
		report.HybridEnabled = report.RetrievalMode == domain.RetrievalModeHybrid
		report.SnapshotVersion = snap.Version
		report.CorpusChunks = snap.Store.Len()
		report.VectorAvailable = snap.Vector != nil
	}

	report.Ready = snap != nil && report.Generation.Status != GenerationStatusUnavailable
	return report
}

func (s *StatusService) generationStatus(ctx context.Context) domain.GenerationStatus {
	status := domain.GenerationStatus{
		Provider: s.generation.Provider,
		Model:    s.generation.Model,
		Status:   GenerationStatusOK,
	}
	if s.generation.Disabled {
		status.Status = GenerationStatusDisabled
		return status
	}
	if s.generation.Breaker != nil {
		status.Breaker = s.generation.Breaker()
	}
	if s.generation.Probe == nil {
		return status
	}

	probeCtx, cancel := context.WithTimeout(ctx, readinessProbeTimeout)
	defer cancel()
	if err := s.generation.Probe.Ready(probeCtx); err != nil {
		status.Status = GenerationStatusUnavailable
		status.Error = err.Error()
	}
	return status
}
