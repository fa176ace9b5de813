package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/policy-rag/internal/core/domain"
)

func scrape(t *testing.T, m *HTTPServerMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}
	return rec.Body.String()
}

func assertContains(t *testing.T, body string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(body, w) {
			t.Fatalf("expected %q in metrics output:\n%s", w, body)
		}
	}
}

func TestPipelineMetricsObserveAnswer(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("test")
	m := NewPipelineMetrics(httpMetrics.Registry())

	m.ObserveAnswer(domain.Answered("ok", []domain.Citation{{ChunkID: "c1"}}, 0.8, domain.RetrievalModeHybrid, 2))
	m.ObserveAnswer(domain.Abstained(domain.AbstainLowConfidence, 0.1, domain.RetrievalModeLexicalOnly, 0))
	m.ObserveAnswer(nil)

	assertContains(t, scrape(t, httpMetrics),
		`prag_answer_requests_total{mode="hybrid",outcome="answered"} 1`,
		`prag_answer_requests_total{mode="lexical_only",outcome="abstained"} 1`,
		`prag_answer_abstain_total{reason="low_confidence"} 1`,
		`prag_generation_attempts_count 1`,
		`prag_retrieval_duration_seconds_count 2`,
	)
}

func TestPipelineMetricsSnapshotAndBreaker(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("test")
	m := NewPipelineMetrics(httpMetrics.Registry())

	m.ObserveSnapshot(domain.DriftReport{OverlapRatio: 0.5, HybridEnabled: false}, 42)
	m.BreakerStateChanged("ollama_generate", "closed", "open")
	m.ObserveReload(errors.New("boom"))
	m.ObserveDenseDegraded("embedding_failed")
	m.ObserveInFlight(3)

	assertContains(t, scrape(t, httpMetrics),
		"prag_hybrid_enabled 0",
		"prag_drift_overlap_ratio 0.5",
		"prag_corpus_chunks 42",
		`prag_circuit_breaker_open{operation="ollama_generate"} 1`,
		`prag_artifact_reloads_total{status="error"} 1`,
		`prag_dense_degraded_total{reason="embedding_failed"} 1`,
		"prag_admission_in_flight 3",
	)
}

func TestMiddlewareCountsRequests(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("test")
	m := NewPipelineMetrics(httpMetrics.Registry())
	m.ObserveAdmissionRejected()
	m.ObserveCache(true)

	handler := httpMetrics.Middleware("test", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/answer", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/unknown/123", nil))

	assertContains(t, scrape(t, httpMetrics),
		"prag_admission_rejected_total 1",
		`prag_answer_cache_total{result="hit"} 1`,
		`prag_http_requests_total{method="POST",path="/v1/answer",service="test",status="418"} 1`,
		`path="other"`,
	)
}
