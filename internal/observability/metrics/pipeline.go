package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/policy-rag/internal/core/domain"
)

// PipelineMetrics records answer pipeline events. It satisfies
// ports.PipelineObserver.
type PipelineMetrics struct {
	requestsTotal      *prometheus.CounterVec
	abstainTotal       *prometheus.CounterVec
	generationAttempts prometheus.Histogram
	admissionRejected  prometheus.Counter
	admissionInFlight  prometheus.Gauge
	denseDegraded      *prometheus.CounterVec
	retrievalDuration  prometheus.Histogram
	generationDuration prometheus.Histogram
	cacheTotal         *prometheus.CounterVec

	hybridEnabled     prometheus.Gauge
	driftOverlapRatio prometheus.Gauge
	corpusChunks      prometheus.Gauge
	reloadsTotal      *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
}

func NewPipelineMetrics(registerer prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_requests_total",
			Help:      "Finished answer requests by retrieval mode and outcome.",
		}, []string{"mode", "outcome"}),
		abstainTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_abstain_total",
			Help:      "Abstained answers by reason.",
		}, []string{"reason"}),
		generationAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_attempts",
			Help:      "Generation attempts per request that reached the backend.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		admissionRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejected_total",
			Help:      "Requests rejected because the concurrency limit was reached.",
		}),
		admissionInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admission_in_flight",
			Help:      "Requests currently holding an admission slot.",
		}),
		denseDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dense_degraded_total",
			Help:      "Requests whose dense leg was skipped, by reason.",
		}, []string{"reason"}),
		retrievalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval and fusion duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		generationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Generation duration in seconds including retries.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}),
		cacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_cache_total",
			Help:      "Answer cache lookups by result.",
		}, []string{"result"}),
		hybridEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hybrid_enabled",
			Help:      "1 when the current snapshot serves hybrid retrieval.",
		}),
		driftOverlapRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drift_overlap_ratio",
			Help:      "Share of dense index ids present in the corpus.",
		}),
		corpusChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "corpus_chunks",
			Help:      "Chunks loaded in the current snapshot.",
		}),
		reloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_reloads_total",
			Help:      "Artifact reload attempts by status.",
		}, []string{"status"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_open",
			Help:      "1 while the operation's circuit breaker is not closed.",
		}, []string{"operation"}),
	}

	registerer.MustRegister(
		m.requestsTotal,
		m.abstainTotal,
		m.generationAttempts,
		m.admissionRejected,
		m.admissionInFlight,
		m.denseDegraded,
		m.retrievalDuration,
		m.generationDuration,
		m.cacheTotal,
		m.hybridEnabled,
		m.driftOverlapRatio,
		m.corpusChunks,
		m.reloadsTotal,
		m.breakerState,
	)
	return m
}

func (m *PipelineMetrics) ObserveAnswer(result *domain.AnswerResult) {
	if result == nil {
		return
	}
	mode := string(result.RetrievalMode)
	if mode == "" {
		mode = "unknown"
	}
	m.requestsTotal.WithLabelValues(mode, result.Outcome()).Inc()
	if result.AbstainReason != nil {
		m.abstainTotal.WithLabelValues(string(*result.AbstainReason)).Inc()
	}
	if result.GenerationAttempts > 0 {
		m.generationAttempts.Observe(float64(result.GenerationAttempts))
		m.generationDuration.Observe(result.Timing.GenerationSeconds)
	}
	m.retrievalDuration.Observe(result.Timing.RetrievalSeconds)
}

func (m *PipelineMetrics) ObserveAdmissionRejected() {
	m.admissionRejected.Inc()
}

func (m *PipelineMetrics) ObserveInFlight(n int) {
	m.admissionInFlight.Set(float64(n))
}

func (m *PipelineMetrics) ObserveDenseDegraded(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.denseDegraded.WithLabelValues(reason).Inc()
}

func (m *PipelineMetrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheTotal.WithLabelValues(result).Inc()
}

// ObserveSnapshot publishes the drift report and corpus size of a freshly
// swapped snapshot.
func (m *PipelineMetrics) ObserveSnapshot(drift domain.DriftReport, chunks int) {
	if drift.HybridEnabled {
		m.hybridEnabled.Set(1)
	} else {
		m.hybridEnabled.Set(0)
	}
	m.driftOverlapRatio.Set(drift.OverlapRatio)
	m.corpusChunks.Set(float64(chunks))
}

func (m *PipelineMetrics) ObserveReload(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.reloadsTotal.WithLabelValues(status).Inc()
}

// BreakerStateChanged matches resilience.StateListener.
func (m *PipelineMetrics) BreakerStateChanged(operation, _, to string) {
	value := 0.0
	if to != "closed" {
		value = 1
	}
	m.breakerState.WithLabelValues(operation).Set(value)
}
