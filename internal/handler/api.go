package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/pavelanni/essaygrader/internal/diff"
	appI18n "github.com/pavelanni/essaygrader/internal/i18n"
	"github.com/pavelanni/essaygrader/internal/llm"
	"github.com/pavelanni/essaygrader/internal/model"
	"github.com/pavelanni/essaygrader/internal/store"
	"github.com/pavelanni/essaygrader/internal/workflow"
)

type jsonResponse struct {
	Status string     `json:"status"` // "success" or "error"
	Data   any        `json:"data,omitempty"`
	Error  *jsonError `json:"error,omitempty"`
}

type jsonError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type submissionResponse struct {
	ID               string    `json:"id"`
	Phase            string    `json:"phase"`
	Group            string    `json:"group"`
	Students         []string  `json:"students"`
	Draft            string    `json:"draft,omitempty"`
	Feedback         string    `json:"feedback,omitempty"`
	Mark             string    `json:"mark,omitempty"`
	WordCount        int       `json:"word_count,omitempty"`
	Revision         string    `json:"revision,omitempty"`
	RevisionFeedback string    `json:"revision_feedback,omitempty"`
	Changes          []string  `json:"changes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type feedbackRequest struct {
	Group    string   `json:"group"`
	Students []string `json:"students"`
	Essay    string   `json:"essay"`
}

type revisionRequest struct {
	Essay string `json:"essay"`
}

func (h *Handler) apiRoutes(r chi.Router) {
	origins := h.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         600,
	}))
	r.Use(h.limitBody)

	r.Post("/submissions", h.apiCreateSubmission)
	r.Get("/submissions/{id}", h.apiGetSubmission)
	r.Post("/submissions/{id}/feedback", h.apiFeedback)
	r.Post("/submissions/{id}/revision", h.apiRevision)
	r.Post("/submissions/{id}/reset", h.apiReset)
}

func (h *Handler) apiCreateSubmission(w http.ResponseWriter, r *http.Request) {
	rec := h.flow.NewRecord()
	if err := h.store.SaveSubmission(rec); err != nil {
		h.writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, jsonResponse{Status: "success", Data: toResponse(rec)})
}

func (h *Handler) apiGetSubmission(w http.ResponseWriter, r *http.Request) {
	rec, err := h.lookup(chi.URLParam(r, "id"))
	if err != nil {
		h.writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{Status: "success", Data: toResponse(rec)})
}

func (h *Handler) apiFeedback(w http.ResponseWriter, r *http.Request) {
	rec, err := h.lookup(chi.URLParam(r, "id"))
	if err != nil {
		h.writeAPIError(w, r, err)
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	next, err := h.flow.RequestFeedback(r.Context(), rec, workflow.DraftInput{
		Identity: model.NewIdentity(req.Group, req.Students...),
		Essay:    req.Essay,
	})
	if err != nil {
		h.writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{Status: "success", Data: toResponse(next)})
}

func (h *Handler) apiRevision(w http.ResponseWriter, r *http.Request) {
	rec, err := h.lookup(chi.URLParam(r, "id"))
	if err != nil {
		h.writeAPIError(w, r, err)
		return
	}
	var req revisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	next, err := h.flow.SubmitRevision(r.Context(), rec, req.Essay)
	if err != nil {
		h.writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{Status: "success", Data: toResponse(next)})
}

func (h *Handler) apiReset(w http.ResponseWriter, r *http.Request) {
	rec, err := h.lookup(chi.URLParam(r, "id"))
	if err != nil {
		h.writeAPIError(w, r, err)
		return
	}
	next, err := h.flow.Reset(rec)
	if err != nil {
		h.writeAPIError(w, r, err)
		return
	}
	if err := h.store.DeleteSubmission(rec.ID); err != nil {
		logger(r).Warn("delete finished submission", "submission_id", rec.ID, "error", err)
	}
	h.saveAndRespond(w, r, next)
}

func (h *Handler) saveAndRespond(w http.ResponseWriter, r *http.Request, rec model.SubmissionRecord) {
	if err := h.store.SaveSubmission(rec); err != nil {
		h.writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{Status: "success", Data: toResponse(rec)})
}

func toResponse(rec model.SubmissionRecord) submissionResponse {
	resp := submissionResponse{
		ID:               rec.ID,
		Phase:            string(rec.Phase),
		Group:            rec.Identity.Group,
		Students:         rec.Identity.Students,
		Draft:            rec.Draft,
		Feedback:         rec.Feedback,
		WordCount:        rec.WordCount,
		Revision:         rec.Revision,
		RevisionFeedback: rec.RevisionFeedback,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
	if resp.Students == nil {
		resp.Students = []string{}
	}
	if rec.Phase != model.PhaseDrafting {
		resp.Mark = rec.Mark.String()
	}
	if rec.Phase == model.PhaseComplete {
		resp.Changes = diff.Words(rec.Draft, rec.Revision).Lines()
	}
	return resp
}

// writeAPIError maps workflow and store errors to status codes.
func (h *Handler) writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var verr *workflow.ValidationError
	var ferr *llm.FatalError
	switch {
	case errors.As(err, &verr):
		msg := appI18n.Td(ctx, verr.MsgID, map[string]any{"Max": h.flow.Rubric().MaxStudents})
		writeJSONError(w, http.StatusBadRequest, "validation_failed", msg)
	case errors.Is(err, workflow.ErrWrongPhase):
		writeJSONError(w, http.StatusConflict, "wrong_phase", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &ferr):
		logger(r).Warn("model unavailable", "attempts", ferr.Attempts, "error", ferr.Err)
		writeJSONError(w, http.StatusServiceUnavailable, "model_unavailable", ferr.UserMessage())
	default:
		logger(r).Error("internal server error", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_server_error",
			http.StatusText(http.StatusInternalServerError))
	}
}

func writeJSON(w http.ResponseWriter, status int, resp jsonResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, jsonResponse{Status: "error", Error: &jsonError{Code: code, Message: msg}})
}
