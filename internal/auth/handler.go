package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/team-kenya/harambee/internal/authn"
	"github.com/team-kenya/harambee/internal/identity"
	"github.com/team-kenya/harambee/internal/otp"
	"github.com/team-kenya/harambee/internal/platform/httpx"
	"github.com/team-kenya/harambee/internal/principal"
	"github.com/team-kenya/harambee/internal/token"
)

// Handler wires HTTP endpoints for the login flow.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountPublicRoutes registers the endpoints reachable without a session.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Post("/signup", h.signup)
	r.Post("/request-otp", h.requestOTP)
	r.Post("/verify-otp", h.verifyOTP)
	r.Post("/refresh", h.refresh)
}

// MountProtectedRoutes registers the endpoints requiring a resolved principal.
func (h *Handler) MountProtectedRoutes(r chi.Router) {
	r.Post("/logout", h.logout)
	r.Get("/me", h.me)
}

type signupRequest struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"firstName" validate:"required,min=2,max=50"`
	LastName  string `json:"lastName" validate:"required,min=2,max=50"`
	School    string `json:"school" validate:"max=120"`
}

type otpRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type verifyRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type userView struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	School        string `json:"school,omitempty"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"emailVerified"`
}

type sessionView struct {
	User         userView  `json:"user"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	CSRFToken    string    `json:"csrfToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid signup fields")
		return
	}
	err := h.service.Signup(r.Context(), req.Email, req.FirstName, req.LastName, req.School)
	if err != nil {
		if errors.Is(err, identity.ErrDuplicateEmail) {
			httpx.Problem(w, http.StatusConflict, "Duplicate", "email already registered")
			return
		}
		h.fail(w, "signup", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"message": "verification code sent"})
}

func (h *Handler) requestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid email")
		return
	}
	if err := h.service.RequestOTP(r.Context(), req.Email); err != nil {
		if errors.Is(err, otp.ErrCooldown) || errors.Is(err, otp.ErrQuotaExceeded) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "try again later")
			return
		}
		h.fail(w, "request otp", err)
		return
	}
	// Same response whether or not the email exists.
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "if the account exists, a code was sent"})
}

func (h *Handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid email or code")
		return
	}
	user, pair, err := h.service.VerifyOTP(r.Context(), req.Email, req.Code, r.RemoteAddr, r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, otp.ErrTooManyAttempts):
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "code locked, request a new one")
		case errors.Is(err, otp.ErrInvalidCode):
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		default:
			h.fail(w, "verify otp", err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, sessionView{
		User:         toUserView(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		CSRFToken:    pair.CSRFToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "refresh token required")
		return
	}
	user, pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrMalformed),
			errors.Is(err, token.ErrBadSignature),
			errors.Is(err, token.ErrExpired),
			errors.Is(err, authn.ErrPrincipalDisabled),
			errors.Is(err, ErrSessionInvalid):
			h.logger.Warn("refresh denied", slog.String("reason", authn.Reason(err)))
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		default:
			h.fail(w, "refresh", err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, sessionView{
		User:         toUserView(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		CSRFToken:    pair.CSRFToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	p := principal.FromContext(r.Context())
	if err := h.service.Logout(r.Context(), p); err != nil {
		h.fail(w, "logout", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p := principal.FromContext(r.Context())
	if p == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	view := map[string]any{
		"id":   p.ID,
		"role": string(p.Role),
	}
	if p.Impersonated() {
		view["impersonatedBy"] = p.Impersonator.ID
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"principal": view})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

func toUserView(user *identity.User) userView {
	return userView{
		ID:            user.ID,
		Email:         user.Email,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		School:        user.School,
		Role:          string(user.Role),
		EmailVerified: user.EmailVerified,
	}
}
