// Package admin exposes the user-management and impersonation endpoints.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/team-kenya/harambee/internal/audit"
	"github.com/team-kenya/harambee/internal/authz"
	"github.com/team-kenya/harambee/internal/identity"
	"github.com/team-kenya/harambee/internal/impersonate"
	"github.com/team-kenya/harambee/internal/platform/httpx"
	"github.com/team-kenya/harambee/internal/principal"
)

// auditTrail reads back the recorded trail for the admin listing.
type auditTrail interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.TimelineResult, error)
}

// Handler wires the admin HTTP surface. Routes must be mounted behind
// RequireAuth.
type Handler struct {
	logger   *slog.Logger
	store    *identity.Service
	imps     *impersonate.Service
	auditor  audit.Recorder
	trail    auditTrail
	validate *validator.Validate
}

// NewHandler constructs a Handler. The trail may be nil; the audit listing
// then responds 404.
func NewHandler(logger *slog.Logger, store *identity.Service, imps *impersonate.Service, auditor audit.Recorder, trail auditTrail) *Handler {
	return &Handler{
		logger:   logger,
		store:    store,
		imps:     imps,
		auditor:  auditor,
		trail:    trail,
		validate: validator.New(),
	}
}

// MountRoutes registers admin routes. The authz middleware declares each
// route's allow-list; impersonation endpoints rely on the service's own
// checks so their denial responses stay indistinguishable.
func (h *Handler) MountRoutes(r chi.Router, gate authz.Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(gate.RequireRoles(principal.RoleAdmin))
		r.Get("/users", h.listUsers)
		r.Post("/users/{userID}/suspend", h.suspendUser)
		r.Post("/users/{userID}/restore", h.restoreUser)
		r.Get("/audit", h.listAudit)
	})
	r.Group(func(r chi.Router) {
		r.Use(gate.RequireOperation(authz.OpManageAdmins))
		r.Post("/users/{userID}/role", h.changeRole)
	})
	r.Post("/users/{userID}/impersonate", h.startImpersonation)
	r.Post("/impersonation/stop", h.stopImpersonation)
}

type adminUserView struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	School        string     `json:"school,omitempty"`
	Role          string     `json:"role"`
	IsActive      bool       `json:"isActive"`
	EmailVerified bool       `json:"emailVerified"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	users, err := h.store.Repo().List(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	views := make([]adminUserView, 0, len(users))
	for i := range users {
		views = append(views, toAdminView(&users[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": views})
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	if h.trail == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	filters := audit.TimelineFilters{
		ActorID:  q.Get("actorId"),
		Entity:   q.Get("entity"),
		Action:   q.Get("action"),
		Page:     page,
		PageSize: pageSize,
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filters.From = t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filters.To = t
		}
	}
	result, err := h.trail.Timeline(r.Context(), filters)
	if err != nil {
		h.fail(w, "list audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) suspendUser(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false, "user.suspend")
}

func (h *Handler) restoreUser(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true, "user.restore")
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool, action string) {
	p := principal.FromContext(r.Context())
	userID := chi.URLParam(r, "userID")
	if p != nil && userID == p.ID {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "cannot change your own account state")
		return
	}
	if err := h.store.Repo().SetActive(r.Context(), userID, active); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "")
			return
		}
		h.fail(w, action, err)
		return
	}
	h.record(r, action, userID)
	httpx.JSON(w, http.StatusOK, map[string]any{"isActive": active})
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	var req changeRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role required")
		return
	}
	role, ok := principal.ParseRole(req.Role)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown role")
		return
	}
	userID := chi.URLParam(r, "userID")
	if err := h.store.Repo().SetRole(r.Context(), userID, role); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "")
			return
		}
		h.fail(w, "change role", err)
		return
	}
	h.record(r, "user.role_change", userID)
	httpx.JSON(w, http.StatusOK, map[string]any{"role": string(role)})
}

func (h *Handler) startImpersonation(w http.ResponseWriter, r *http.Request) {
	p := principal.FromContext(r.Context())
	target, csrfToken, err := h.imps.Start(r.Context(), p, chi.URLParam(r, "userID"))
	if err != nil {
		switch {
		case errors.Is(err, impersonate.ErrAlreadyImpersonating):
			httpx.Problem(w, http.StatusConflict, "Conflict", "already impersonating")
		case errors.Is(err, impersonate.ErrNotPermitted):
			// Same response for bad target and missing privilege.
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		default:
			h.fail(w, "start impersonation", err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"impersonating": toAdminView(target),
		"csrfToken":     csrfToken,
	})
}

func (h *Handler) stopImpersonation(w http.ResponseWriter, r *http.Request) {
	p := principal.FromContext(r.Context())
	csrfToken, err := h.imps.Stop(r.Context(), p)
	if err != nil {
		if errors.Is(err, impersonate.ErrNotImpersonating) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "not impersonating")
			return
		}
		h.fail(w, "stop impersonation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"csrfToken": csrfToken})
}

func (h *Handler) record(r *http.Request, action, entityID string) {
	if h.auditor == nil {
		return
	}
	p := principal.FromContext(r.Context())
	if p == nil {
		return
	}
	entry := audit.ForPrincipal(p, action, "user", entityID)
	if err := h.auditor.Record(r.Context(), entry); err != nil && h.logger != nil {
		h.logger.Warn("record admin audit", slog.Any("error", err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

func toAdminView(user *identity.User) adminUserView {
	return adminUserView{
		ID:            user.ID,
		Email:         user.Email,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		School:        user.School,
		Role:          string(user.Role),
		IsActive:      user.IsActive,
		EmailVerified: user.EmailVerified,
		LastLoginAt:   user.LastLoginAt,
		CreatedAt:     user.CreatedAt,
	}
}
