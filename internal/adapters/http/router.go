package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kirillkom/policy-rag/internal/config"
	"github.com/kirillkom/policy-rag/internal/core/domain"
	"github.com/kirillkom/policy-rag/internal/core/ports"
	"github.com/kirillkom/policy-rag/internal/observability/metrics"
)

const maxRequestBodyBytes = 64 << 10

type Router struct {
	cfg       config.Config
	answers   ports.AnswerService
	inspector ports.RetrievalInspector
	status    ports.StatusReporter
	reloader  ports.ArtifactReloader
	metrics   *metrics.HTTPServerMetrics
}

// NewRouter wires the HTTP surface. inspector, reloader and m may be nil.
func NewRouter(
	cfg config.Config,
	answers ports.AnswerService,
	inspector ports.RetrievalInspector,
	status ports.StatusReporter,
	reloader ports.ArtifactReloader,
	m *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:       cfg,
		answers:   answers,
		inspector: inspector,
		status:    status,
		reloader:  reloader,
		metrics:   m,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/readyz", rt.readyz)
	mux.HandleFunc("/v1/answer", rt.answer)
	if doc, err := loadOpenAPI(context.Background()); err != nil {
		slog.Error("openapi_invalid", "error", err)
	} else {
		mux.HandleFunc("/openapi.json", openAPIHandler(doc))
	}
	if rt.inspector != nil {
		mux.HandleFunc("/v1/retrieve", rt.retrieve)
	}
	if rt.reloader != nil {
		mux.HandleFunc("/v1/admin/reload", rt.reload)
	}

	var onLimited func()
	var handler http.Handler = mux
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
		onLimited = rt.metrics.RecordRateLimited
	}
	handler = apiKeyMiddleware(handler, rt.cfg.APIKey)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onLimited)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("policy-rag-api", handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) readyz(w http.ResponseWriter, r *http.Request) {
	report := rt.status.Status(r.Context())
	status := http.StatusOK
	if !report.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

type answerRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (domain.QueryRequest, error) {
	var req answerRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return domain.QueryRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode request", errors.New("invalid json"))
	}
	return domain.QueryRequest{Question: req.Question, TopK: req.TopK}, nil
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	req, err := decodeQuery(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := rt.answers.Answer(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	req, err := decodeQuery(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	trace, err := rt.inspector.Retrieve(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func (rt *Router) reload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if err := rt.reloader.Reload(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt.status.Status(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
