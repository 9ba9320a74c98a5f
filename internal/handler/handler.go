package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"

	"github.com/pavelanni/essaygrader/internal/diff"
	"github.com/pavelanni/essaygrader/internal/feedback"
	"github.com/pavelanni/essaygrader/internal/handler/views"
	appI18n "github.com/pavelanni/essaygrader/internal/i18n"
	"github.com/pavelanni/essaygrader/internal/llm"
	"github.com/pavelanni/essaygrader/internal/model"
	"github.com/pavelanni/essaygrader/internal/store"
	"github.com/pavelanni/essaygrader/internal/workflow"
)

const (
	submissionCookieName = "submission"
	maxFormBytes         = 1 << 20
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	flow   *workflow.Workflow
	config model.ServerConfig
	now    func() time.Time
}

// New creates a new Handler.
func New(s *store.Store, flow *workflow.Workflow, cfg model.ServerConfig) (*Handler, error) {
	if s == nil || flow == nil {
		return nil, errors.New("handler needs a store and a workflow")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &Handler{store: s, flow: flow, config: cfg, now: time.Now}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1", h.apiRoutes)

	r.Group(func(r chi.Router) {
		r.Use(h.limitBody)
		r.Use(h.csrfMiddleware)

		r.Get("/", h.handleIndex)
		r.Post("/feedback", h.handleFeedback)
		r.Post("/revision", h.handleRevision)
		r.Post("/reset", h.handleReset)

		r.Get("/login", h.handleLoginPage)
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, h.path("/admin/submissions"), http.StatusSeeOther)
			})
			r.Get("/submissions", h.handleAdminSubmissionsPage)
			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/users", h.handleAdminUsersPage)
				r.Post("/users", h.handleCreateUser)
				r.Post("/users/{userID}/toggle", h.handleToggleUserActive)
			})
		})
	})
}

// BasePathMiddleware makes the configured prefix available to views.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func logger(r *http.Request) *slog.Logger {
	return httplog.LogEntry(r.Context())
}

// loadRecord returns the record named by the submission cookie. A missing,
// unknown or expired record yields a fresh, unsaved one and fresh is true.
func (h *Handler) loadRecord(r *http.Request) (rec model.SubmissionRecord, fresh bool, err error) {
	cookie, err := r.Cookie(submissionCookieName)
	if err != nil || cookie.Value == "" {
		return h.flow.NewRecord(), true, nil
	}
	rec, err = h.lookup(cookie.Value)
	if errors.Is(err, store.ErrNotFound) {
		return h.flow.NewRecord(), true, nil
	}
	return rec, false, err
}

// lookup fetches a record and treats idle ones as gone.
func (h *Handler) lookup(id string) (model.SubmissionRecord, error) {
	rec, err := h.store.GetSubmission(id)
	if err != nil {
		return rec, err
	}
	if h.now().Sub(rec.UpdatedAt) > h.config.SessionTTL {
		return model.SubmissionRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (h *Handler) saveRecord(w http.ResponseWriter, rec model.SubmissionRecord) error {
	if err := h.store.SaveSubmission(rec); err != nil {
		return err
	}
	h.setRecordCookie(w, rec)
	return nil
}

func (h *Handler) setRecordCookie(w http.ResponseWriter, rec model.SubmissionRecord) {
	http.SetCookie(w, &http.Cookie{
		Name:     submissionCookieName,
		Value:    rec.ID,
		Path:     h.cookiePath(),
		MaxAge:   int(h.config.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// handleIndex shows the record for this browser. A new record is stored
// right away so that repeated form posts all address the same id.
func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	rec, fresh, err := h.loadRecord(r)
	if err != nil {
		logger(r).Error("load submission", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if fresh {
		if err := h.saveRecord(w, rec); err != nil {
			logger(r).Error("save submission", "submission_id", rec.ID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	h.renderRecord(w, r, http.StatusOK, rec, "")
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	rec, _, err := h.loadRecord(r)
	if err != nil {
		logger(r).Error("load submission", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	students := r.PostForm["student"]
	in := workflow.DraftInput{
		Identity: model.NewIdentity(r.PostFormValue("group"), students...),
		Essay:    r.PostFormValue("essay"),
	}
	next, err := h.flow.RequestFeedback(r.Context(), rec, in)
	if errors.Is(err, workflow.ErrWrongPhase) {
		h.renderCurrent(w, r)
		return
	}
	if err != nil {
		status, msg := h.userError(r, err)
		h.renderStudent(w, r, status, views.StudentData{
			Record:   rec,
			Group:    in.Identity.Group,
			Students: students,
			Essay:    in.Essay,
			Error:    msg,
		})
		return
	}
	h.setRecordCookie(w, next)
	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

func (h *Handler) handleRevision(w http.ResponseWriter, r *http.Request) {
	rec, _, err := h.loadRecord(r)
	if err != nil {
		logger(r).Error("load submission", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	essay := r.FormValue("essay")
	next, err := h.flow.SubmitRevision(r.Context(), rec, essay)
	if errors.Is(err, workflow.ErrWrongPhase) {
		h.renderCurrent(w, r)
		return
	}
	if err != nil {
		status, msg := h.userError(r, err)
		h.renderStudent(w, r, status, views.StudentData{Record: rec, Essay: essay, Error: msg})
		return
	}
	h.setRecordCookie(w, next)
	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	rec, _, err := h.loadRecord(r)
	if err != nil {
		logger(r).Error("load submission", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	next, err := h.flow.Reset(rec)
	if errors.Is(err, workflow.ErrWrongPhase) {
		h.renderCurrent(w, r)
		return
	}
	if err != nil {
		status, msg := h.userError(r, err)
		h.renderRecord(w, r, status, rec, msg)
		return
	}
	if err := h.saveRecord(w, next); err != nil {
		logger(r).Error("save submission", "submission_id", next.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.store.DeleteSubmission(rec.ID); err != nil {
		logger(r).Warn("delete finished submission", "submission_id", rec.ID, "error", err)
	}
	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

// renderCurrent re-reads the record after a post that no longer fits its
// phase, typically the second half of a double submit, and shows it as it is now.
func (h *Handler) renderCurrent(w http.ResponseWriter, r *http.Request) {
	rec, _, err := h.loadRecord(r)
	if err != nil {
		logger(r).Error("load submission", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	logger(r).Info("post out of phase", "submission_id", rec.ID, "phase", rec.Phase)
	h.renderRecord(w, r, http.StatusConflict, rec, appI18n.T(r.Context(), "ErrWrongPhase"))
}

// renderRecord shows a stored record with the editor pre-filled from it.
func (h *Handler) renderRecord(w http.ResponseWriter, r *http.Request, status int, rec model.SubmissionRecord, msg string) {
	data := views.StudentData{Record: rec, Essay: rec.Draft, Error: msg}
	if rec.Phase == model.PhaseDrafting {
		data.Group = rec.Identity.Group
		data.Students = rec.Identity.Students
	}
	h.renderStudent(w, r, status, data)
}

// userError maps a workflow error to a status code and a translated message.
func (h *Handler) userError(r *http.Request, err error) (int, string) {
	ctx := r.Context()
	var verr *workflow.ValidationError
	var ferr *llm.FatalError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, appI18n.Td(ctx, verr.MsgID, map[string]any{"Max": h.flow.Rubric().MaxStudents})
	case errors.As(err, &ferr):
		logger(r).Warn("model unavailable", "attempts", ferr.Attempts, "error", ferr.Err)
		return http.StatusServiceUnavailable, appI18n.T(ctx, "Busy")
	default:
		logger(r).Error("submission failed", "error", err)
		return http.StatusInternalServerError, appI18n.T(ctx, "ErrGeneric")
	}
}

func (h *Handler) renderStudent(w http.ResponseWriter, r *http.Request, status int, data views.StudentData) {
	data.Rubric = h.flow.Rubric()
	data.FeedbackHTML = renderMarkdown(r, data.Record.Feedback)
	if data.Record.Phase == model.PhaseComplete {
		data.RevisionHTML = renderMarkdown(r, data.Record.RevisionFeedback)
		data.Changes = diff.Words(data.Record.Draft, data.Record.Revision)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := views.StudentPage(data).Render(r.Context(), w); err != nil {
		logger(r).Error("render error", "error", err)
	}
}

func renderMarkdown(r *http.Request, text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	out, err := feedback.RenderHTML(text)
	if err != nil {
		logger(r).Warn("render feedback markdown", "error", err)
		return "<pre>" + templ.EscapeString(text) + "</pre>"
	}
	return out
}
