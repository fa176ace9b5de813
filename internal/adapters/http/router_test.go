package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/policy-rag/internal/config"
	"github.com/kirillkom/policy-rag/internal/core/domain"
	"github.com/kirillkom/policy-rag/internal/observability/metrics"
)

type answerFake struct {
	mu       sync.Mutex
	result   *domain.AnswerResult
	err      error
	lastReq  domain.QueryRequest
	lastRqID string
}

func (f *answerFake) Answer(ctx context.Context, req domain.QueryRequest) (*domain.AnswerResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	f.lastRqID = domain.RequestIDFromContext(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type statusFake struct {
	report domain.ReadinessReport
}

func (f statusFake) Status(context.Context) domain.ReadinessReport { return f.report }

type reloaderFake struct {
	err   error
	calls int
}

func (f *reloaderFake) Reload(context.Context) error {
	f.calls++
	return f.err
}

func newTestHandler(cfg config.Config, answers *answerFake, reloader *reloaderFake) http.Handler {
	if reloader == nil {
		return NewRouter(cfg, answers, nil, statusFake{report: domain.ReadinessReport{Ready: true}}, nil, metrics.NewHTTPServerMetrics("test")).Handler()
	}
	return NewRouter(cfg, answers, nil, statusFake{report: domain.ReadinessReport{Ready: true}}, reloader, metrics.NewHTTPServerMetrics("test")).Handler()
}

func postJSON(t *testing.T, handler http.Handler, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAnswerReturnsResultJSON(t *testing.T) {
	answers := &answerFake{result: domain.Answered("Employees accrue leave [1].", []domain.Citation{{Cite: "[1]", ChunkID: "c1"}}, 0.8, domain.RetrievalModeHybrid, 1)}
	handler := newTestHandler(config.Config{}, answers, nil)

	res := postJSON(t, handler, "/v1/answer", map[string]any{"question": "How is leave accrued?", "top_k": 3}, map[string]string{requestIDHeader: "req-1"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["answer"] != "Employees accrue leave [1]." || body["abstain_reason"] != nil {
		t.Fatalf("unexpected body %v", body)
	}
	if answers.lastReq.TopK != 3 || answers.lastRqID != "req-1" {
		t.Fatalf("expected top_k and request id to reach the service, got %+v %q", answers.lastReq, answers.lastRqID)
	}
	if res.Header().Get(requestIDHeader) != "req-1" {
		t.Fatalf("expected request id echoed")
	}
}

func TestAnswerAbstainSerializesNullAnswer(t *testing.T) {
	answers := &answerFake{result: domain.Abstained(domain.AbstainLowConfidence, 0.1, domain.RetrievalModeLexicalOnly, 0)}
	handler := newTestHandler(config.Config{}, answers, nil)

	res := postJSON(t, handler, "/v1/answer", map[string]any{"question": "q"}, nil)
	if !strings.Contains(res.Body.String(), `"answer":null`) || !strings.Contains(res.Body.String(), `"abstain_reason":"low_confidence"`) {
		t.Fatalf("unexpected abstain body %s", res.Body.String())
	}
}

func TestAnswerMapsInvalidInputTo400(t *testing.T) {
	answers := &answerFake{err: domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("question is empty"))}
	handler := newTestHandler(config.Config{}, answers, nil)

	res := postJSON(t, handler, "/v1/answer", map[string]any{"question": "  "}, nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", rec.Code)
	}
}

func TestAnswerSaturatedReturns503WithRetryAfter(t *testing.T) {
	answers := &answerFake{err: domain.WrapError(domain.ErrSaturated, "answer", errors.New("8 requests in flight"))}
	handler := newTestHandler(config.Config{}, answers, nil)

	res := postJSON(t, handler, "/v1/answer", map[string]any{"question": "q"}, nil)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if strings.TrimSpace(res.Body.String()) != `{"error":"saturated"}` {
		t.Fatalf("unexpected body %s", res.Body.String())
	}
}

func TestAnswerRejectsGet(t *testing.T) {
	handler := newTestHandler(config.Config{}, &answerFake{}, nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/answer", nil))
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestAPIKeyRequiredExceptProbes(t *testing.T) {
	answers := &answerFake{result: domain.Abstained(domain.AbstainEmptyRetrieval, 0, domain.RetrievalModeLexicalOnly, 0)}
	handler := newTestHandler(config.Config{APIKey: "secret"}, answers, nil)

	if res := postJSON(t, handler, "/v1/answer", map[string]any{"question": "q"}, nil); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", res.Code)
	}
	if res := postJSON(t, handler, "/v1/answer", map[string]any{"question": "q"}, map[string]string{apiKeyHeader: "secret"}); res.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", res.Code)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected healthz open, got %d", res.Code)
	}
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	answers := &answerFake{result: domain.Abstained(domain.AbstainEmptyRetrieval, 0, domain.RetrievalModeLexicalOnly, 0)}
	handler := newTestHandler(config.Config{APIRateLimitRPS: 1, APIRateLimitBurst: 1}, answers, nil)

	res1 := postJSON(t, handler, "/v1/answer", map[string]any{"question": "q"}, nil)
	if res1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res1.Code)
	}
	res2 := postJSON(t, handler, "/v1/answer", map[string]any{"question": "q"}, nil)
	if res2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res2.Code)
	}
	if res2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}
}

func TestReadyzReflectsReport(t *testing.T) {
	handler := NewRouter(config.Config{}, &answerFake{}, nil, statusFake{report: domain.ReadinessReport{
		Ready:         false,
		RetrievalMode: domain.RetrievalModeLexicalOnly,
	}}, nil, nil).Handler()

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when not ready, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"retrieval_mode":"lexical_only"`) {
		t.Fatalf("unexpected readiness body %s", res.Body.String())
	}
}

func TestAdminReload(t *testing.T) {
	reloader := &reloaderFake{}
	handler := newTestHandler(config.Config{}, &answerFake{}, reloader)

	res := postJSON(t, handler, "/v1/admin/reload", map[string]any{}, nil)
	if res.Code != http.StatusOK || reloader.calls != 1 {
		t.Fatalf("expected successful reload, got %d calls=%d", res.Code, reloader.calls)
	}

	reloader.err = domain.WrapError(domain.ErrArtifactInvalid, "parse chunks", errors.New("line 3"))
	res = postJSON(t, handler, "/v1/admin/reload", map[string]any{}, nil)
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for invalid artifact, got %d", res.Code)
	}
}

func TestMetricsEndpointServed(t *testing.T) {
	handler := newTestHandler(config.Config{APIKey: "secret"}, &answerFake{}, nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", res.Code)
	}
}

func TestOpenAPIDocumentIsValidAndServed(t *testing.T) {
	doc, err := loadOpenAPI(context.Background())
	if err != nil {
		t.Fatalf("loadOpenAPI() error: %v", err)
	}
	if doc.Paths.Find("/v1/answer") == nil {
		t.Fatalf("expected /v1/answer in openapi document")
	}

	handler := newTestHandler(config.Config{APIKey: "secret"}, &answerFake{}, nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"/v1/answer"`) {
		t.Fatalf("unexpected openapi response %d", res.Code)
	}
}
