// Package auth implements the OTP login flow and the token lifecycle around
// it: session creation, refresh rotation and logout.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/team-kenya/harambee/internal/audit"
	"github.com/team-kenya/harambee/internal/authn"
	"github.com/team-kenya/harambee/internal/csrf"
	"github.com/team-kenya/harambee/internal/identity"
	"github.com/team-kenya/harambee/internal/notify"
	"github.com/team-kenya/harambee/internal/otp"
	"github.com/team-kenya/harambee/internal/principal"
	"github.com/team-kenya/harambee/internal/token"
)

// ErrSessionInvalid indicates the presented refresh token no longer matches a
// live session: revoked, expired, or already rotated away.
var ErrSessionInvalid = errors.New("auth: session invalid")

// sessionCleaner clears per-session auxiliary state at logout.
type sessionCleaner interface {
	EndSession(ctx context.Context, sessionID string) error
}

// TokenPair is everything a client needs after login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	CSRFToken    string
	ExpiresAt    time.Time
	SessionID    string
}

// Service wires the login business rules together.
type Service struct {
	codec    *token.Codec
	resolver *authn.Resolver
	store    *identity.Service
	codes    *otp.Service
	guard    *csrf.Guard
	enqueuer notify.Enqueuer
	auditor  audit.Recorder
	cleaner  sessionCleaner
	logger   *slog.Logger
}

// NewService constructs a Service. Enqueuer, auditor and cleaner are optional.
func NewService(codec *token.Codec, resolver *authn.Resolver, store *identity.Service, codes *otp.Service, guard *csrf.Guard, enqueuer notify.Enqueuer, auditor audit.Recorder, cleaner sessionCleaner, logger *slog.Logger) *Service {
	return &Service{
		codec:    codec,
		resolver: resolver,
		store:    store,
		codes:    codes,
		guard:    guard,
		enqueuer: enqueuer,
		auditor:  auditor,
		cleaner:  cleaner,
		logger:   logger,
	}
}

// Signup registers a new student account and sends the first login code. The
// account stays unverified until the code is redeemed.
func (s *Service) Signup(ctx context.Context, email, firstName, lastName, school string) error {
	user := &identity.User{
		ID:        uuid.NewString(),
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		School:    school,
		Role:      principal.RoleStudent,
		IsActive:  true,
	}
	if err := s.store.Repo().Create(ctx, user); err != nil {
		return err
	}
	return s.RequestOTP(ctx, email)
}

// RequestOTP issues a login code for the email and queues its delivery.
// Unknown emails return nil so the endpoint cannot be used for enumeration;
// rate-limit errors do surface, they reveal nothing about account existence.
func (s *Service) RequestOTP(ctx context.Context, email string) error {
	user, err := s.store.Repo().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil
		}
		return err
	}
	if !user.IsActive {
		return nil
	}
	code, err := s.codes.Issue(ctx, user.Email)
	if err != nil {
		return err
	}
	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueNotificationEmail(ctx, user.Email, "Your login code", code); err != nil {
			return err
		}
	}
	return nil
}

// VerifyOTP redeems a login code and opens a session. Wrong code, unknown
// email and suspended account all fail with otp.ErrInvalidCode so the
// response shape leaks nothing.
func (s *Service) VerifyOTP(ctx context.Context, email, code, ip, userAgent string) (*identity.User, *TokenPair, error) {
	user, err := s.store.Repo().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, nil, otp.ErrInvalidCode
		}
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, otp.ErrInvalidCode
	}
	if err := s.codes.Verify(ctx, user.Email, code); err != nil {
		return nil, nil, err
	}

	pair, err := s.openSession(ctx, user, ip, userAgent)
	if err != nil {
		return nil, nil, err
	}
	if err := s.store.Repo().TouchLogin(ctx, user.ID); err != nil && s.logger != nil {
		s.logger.Warn("touch login", slog.Any("error", err))
	}
	if !user.EmailVerified {
		if err := s.store.Repo().MarkEmailVerified(ctx, user.ID); err == nil {
			user.EmailVerified = true
		} else if s.logger != nil {
			s.logger.Warn("mark email verified", slog.Any("error", err))
		}
	}
	s.recordLogin(ctx, user.ID)
	return user, pair, nil
}

// Refresh exchanges a valid refresh token for a new pair. The authoritative
// store's role wins over the token's embedded role, and the refresh token is
// rotated so a replayed old one fails.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (*identity.User, *TokenPair, error) {
	p, user, err := s.resolver.ResolveRefresh(ctx, rawRefresh)
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.store.Repo().GetSession(ctx, p.SessionID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, nil, ErrSessionInvalid
		}
		return nil, nil, err
	}
	now := time.Now().UTC()
	if !sess.IsValid || now.After(sess.ExpiresAt) || sess.UserID != user.ID {
		return nil, nil, ErrSessionInvalid
	}
	if sess.RefreshHash != hashToken(rawRefresh) {
		// A mismatch on a valid session means the token was already rotated;
		// revoke the whole session in case the old token was stolen.
		_ = s.store.Repo().InvalidateSession(ctx, sess.ID)
		return nil, nil, ErrSessionInvalid
	}

	access, err := s.codec.Issue(user.ID, user.Role, sess.ID, token.KindAccess)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := s.codec.Issue(user.ID, user.Role, sess.ID, token.KindRefresh)
	if err != nil {
		return nil, nil, err
	}
	if err := s.store.Repo().UpdateSessionRefreshHash(ctx, sess.ID, hashToken(refresh)); err != nil {
		return nil, nil, err
	}
	csrfToken, err := s.guard.Token(ctx, sess.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		CSRFToken:    csrfToken,
		ExpiresAt:    now.Add(s.codec.TTL(token.KindAccess)),
		SessionID:    sess.ID,
	}, nil
}

// Logout revokes the session and discards its CSRF token and any
// impersonation marker.
func (s *Service) Logout(ctx context.Context, p *principal.Principal) error {
	if p == nil || p.SessionID == "" {
		return nil
	}
	if err := s.store.Repo().InvalidateSession(ctx, p.SessionID); err != nil {
		return err
	}
	if err := s.guard.Drop(ctx, p.SessionID); err != nil && s.logger != nil {
		s.logger.Warn("drop csrf token", slog.Any("error", err))
	}
	if s.cleaner != nil {
		if err := s.cleaner.EndSession(ctx, p.SessionID); err != nil && s.logger != nil {
			s.logger.Warn("end session state", slog.Any("error", err))
		}
	}
	return nil
}

func (s *Service) openSession(ctx context.Context, user *identity.User, ip, userAgent string) (*TokenPair, error) {
	sessionID := uuid.NewString()
	access, err := s.codec.Issue(user.ID, user.Role, sessionID, token.KindAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := s.codec.Issue(user.ID, user.Role, sessionID, token.KindRefresh)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sess := &identity.Session{
		ID:          sessionID,
		UserID:      user.ID,
		RefreshHash: hashToken(refresh),
		IP:          ip,
		UserAgent:   userAgent,
		ExpiresAt:   now.Add(s.codec.TTL(token.KindRefresh)),
	}
	if err := s.store.Repo().CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	csrfToken, err := s.guard.Issue(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		CSRFToken:    csrfToken,
		ExpiresAt:    now.Add(s.codec.TTL(token.KindAccess)),
		SessionID:    sessionID,
	}, nil
}

func (s *Service) recordLogin(ctx context.Context, userID string) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Record(ctx, audit.Entry{
		ActorID: userID,
		Action:  "auth.login",
		Entity:  "session",
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("record login audit", slog.Any("error", err))
	}
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
