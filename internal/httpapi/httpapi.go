// Package httpapi exposes the question pipeline and the Q&A log over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Epistemic-Technology/trialqa/internal/answer"
	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/internal/metrics"
	"github.com/Epistemic-Technology/trialqa/internal/operations"
	"github.com/Epistemic-Technology/trialqa/internal/storage"
	"github.com/Epistemic-Technology/trialqa/models"
)

// Handler serves the REST API.
type Handler struct {
	pipeline *operations.Pipeline
	store    storage.QAStore
	metrics  *metrics.Metrics
	log      logger.Logger
}

func NewHandler(pipeline *operations.Pipeline, store storage.QAStore, m *metrics.Metrics, log logger.Logger) *Handler {
	return &Handler{pipeline: pipeline, store: store, metrics: m, log: log.Named("http")}
}

// Routes returns the router with every endpoint mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/documents/{documentID}/questions", h.handleAskQuestion)
		r.Get("/trials/{trialID}/qa", h.handleListQA)
		r.Get("/qa/{itemID}", h.handleGetQA)
		r.Post("/qa/{itemID}/verify", h.handleVerifyQA)
		r.Delete("/qa/{itemID}", h.handleDeleteQA)
	})
	return r
}

// QuestionRequest is the body for POST /api/documents/{documentID}/questions.
type QuestionRequest struct {
	Question string   `json:"question"`
	Name     string   `json:"name,omitempty"`
	URL      string   `json:"url,omitempty"`
	ZoteroID string   `json:"zotero_id,omitempty"`
	UserID   string   `json:"user_id,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Save     bool     `json:"save,omitempty"`
	TrialID  string   `json:"trial_id,omitempty"`
	Tags     []string `json:"tags,omitempty"`

	// FilePath is only decoded so it can be refused; local files are
	// reachable through the stdio MCP server alone.
	FilePath string `json:"file_path,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /api/documents/{documentID}/questions
func (h *Handler) handleAskQuestion(w http.ResponseWriter, r *http.Request) {
	var req QuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}
	if req.FilePath != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "file_path is not accepted over HTTP")
		return
	}
	if req.URL == "" && req.ZoteroID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "one of url or zotero_id is required")
		return
	}

	result, err := h.pipeline.AskQuestion(r.Context(), operations.QuestionRequest{
		Question: req.Question,
		Document: models.DocumentLocator{
			ID:       chi.URLParam(r, "documentID"),
			Name:     req.Name,
			URL:      req.URL,
			ZoteroID: req.ZoteroID,
		},
		UserID:      req.UserID,
		TrialID:     req.TrialID,
		Save:        req.Save,
		Tags:        req.Tags,
		ResultLimit: req.Limit,
	})
	if err != nil {
		h.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /api/trials/{trialID}/qa?q=&tag=&verified=&limit=
func (h *Handler) handleListQA(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	q := r.URL.Query()
	filter := models.QAFilter{
		TrialID:    chi.URLParam(r, "trialID"),
		DocumentID: q.Get("document_id"),
		Query:      q.Get("q"),
		Tag:        q.Get("tag"),
	}
	if v := q.Get("verified"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "verified must be true or false")
			return
		}
		filter.Verified = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	items, err := h.store.SearchItems(r.Context(), filter)
	if err != nil {
		h.log.Error("Failed to search Q&A: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to search Q&A")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// GET /api/qa/{itemID}
func (h *Handler) handleGetQA(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	item, err := h.store.GetItem(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// POST /api/qa/{itemID}/verify  body: {"verified": false} to clear
func (h *Handler) handleVerifyQA(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	body := struct {
		Verified *bool `json:"verified"`
	}{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
	}
	verified := true
	if body.Verified != nil {
		verified = *body.Verified
	}

	id := chi.URLParam(r, "itemID")
	if err := h.store.SetVerified(r.Context(), id, verified); err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "verified": verified})
}

// DELETE /api/qa/{itemID}
func (h *Handler) handleDeleteQA(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	if err := h.store.DeleteItem(r.Context(), chi.URLParam(r, "itemID")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireStore(w http.ResponseWriter) bool {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "Q&A storage is not configured")
		return false
	}
	return true
}

func (h *Handler) writePipelineError(w http.ResponseWriter, err error) {
	var unavailable *answer.ServiceUnavailableError
	var failed *answer.QueryFailedError
	switch {
	case errors.As(err, &unavailable):
		writeError(w, http.StatusServiceUnavailable, unavailable.Kind(), err.Error())
	case errors.As(err, &failed):
		h.log.Warn("Question failed: %v", err)
		writeError(w, http.StatusBadGateway, failed.Kind(), err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "question timed out")
	case errors.Is(err, context.Canceled):
		// Client went away.
		writeError(w, 499, "canceled", "request canceled")
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	}
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	h.log.Error("Q&A store error: %v", err)
	writeError(w, http.StatusInternalServerError, "internal", "storage error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}
