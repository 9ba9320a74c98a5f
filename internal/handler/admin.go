package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/essaygrader/internal/handler/views"
	"github.com/pavelanni/essaygrader/internal/model"
)

func (h *Handler) handleAdminSubmissionsPage(w http.ResponseWriter, r *http.Request) {
	kind := model.EventKind(strings.ToUpper(r.URL.Query().Get("type")))
	events, err := h.store.ListEvents(kind)
	if err != nil {
		logger(r).Error("failed to list events", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Newest first.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.AdminSubmissionsPage(events).Render(r.Context(), w); err != nil {
		logger(r).Error("render error", "error", err)
	}
}

func (h *Handler) handleAdminUsersPage(w http.ResponseWriter, r *http.Request) {
	h.renderUsers(w, r, http.StatusOK, "")
}

func (h *Handler) renderUsers(w http.ResponseWriter, r *http.Request, status int, msg string) {
	users, err := h.store.ListUsers()
	if err != nil {
		logger(r).Error("failed to list users", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := views.AdminUsersPage(users, msg).Render(r.Context(), w); err != nil {
		logger(r).Error("render error", "error", err)
	}
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.FormValue("username"))
	displayName := strings.TrimSpace(r.FormValue("display_name"))
	password := r.FormValue("password")
	role := model.UserRole(r.FormValue("role"))

	if username == "" || password == "" {
		h.renderUsers(w, r, http.StatusBadRequest, "username and password required")
		return
	}
	if role != model.UserRoleAdmin {
		role = model.UserRoleTeacher
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logger(r).Error("failed to hash password", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if displayName == "" {
		displayName = username
	}

	_, err = h.store.CreateUser(model.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		logger(r).Error("failed to create user", "error", err)
		h.renderUsers(w, r, http.StatusConflict, "failed to create user: "+username)
		return
	}

	http.Redirect(w, r, h.path("/admin/users"), http.StatusSeeOther)
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}
	if self := model.UserFromContext(r.Context()); self != nil && self.ID == id {
		http.Error(w, "cannot disable yourself", http.StatusBadRequest)
		return
	}

	if err := h.store.ToggleUserActive(id); err != nil {
		logger(r).Error("failed to toggle user active", "id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.path("/admin/users"), http.StatusSeeOther)
}
