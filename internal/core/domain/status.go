package domain

type GenerationStatus struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Status   string `json:"status"`
	Breaker  string `json:"breaker,omitempty"`
	Error    string `json:"error,omitempty"`
}

type AdmissionStatus struct {
	InFlight int `json:"in_flight"`
	Limit    int `json:"limit"`
}

// ReadinessReport is served by /readyz and the retrieval_status tool.
type ReadinessReport struct {
	Ready           bool             `json:"ready"`
	RetrievalMode   RetrievalMode    `json:"retrieval_mode"`
	HybridEnabled   bool             `json:"hybrid_enabled"`
	Drift           *DriftReport     `json:"drift"`
	SnapshotVersion string           `json:"snapshot_version"`
	CorpusChunks    int              `json:"corpus_chunks"`
	VectorAvailable bool             `json:"vector_available"`
	Generation      GenerationStatus `json:"generation"`
	Admission       AdmissionStatus  `json:"admission"`
}
