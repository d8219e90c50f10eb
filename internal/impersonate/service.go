// Package impersonate lets a super admin assume another principal's identity
// for a bounded session while keeping the acting-as trail auditable.
package impersonate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/team-kenya/harambee/internal/audit"
	"github.com/team-kenya/harambee/internal/csrf"
	"github.com/team-kenya/harambee/internal/identity"
	"github.com/team-kenya/harambee/internal/principal"
)

// MaxDuration is the ceiling on an impersonation marker's lifetime.
const MaxDuration = time.Hour

var (
	// ErrAlreadyImpersonating rejects nesting; depth is capped at one.
	ErrAlreadyImpersonating = errors.New("impersonate: already impersonating")
	// ErrNotImpersonating rejects a stop on a normal session.
	ErrNotImpersonating = errors.New("impersonate: not impersonating")
	// ErrNotPermitted covers insufficient privilege and nonexistent targets
	// alike, so callers cannot probe which user ids exist.
	ErrNotPermitted = errors.New("impersonate: not permitted")
)

type marker struct {
	ActingID   string    `json:"acting_id"`
	ActingRole string    `json:"acting_role"`
	TargetID   string    `json:"target_id"`
	TargetRole string    `json:"target_role"`
	StartedAt  time.Time `json:"started_at"`
}

// Service drives the NORMAL -> IMPERSONATING -> NORMAL cycle. Markers live in
// Redis under the session id and expire on their own, which covers the
// automatic stop on marker expiry.
type Service struct {
	client  *redis.Client
	store   *identity.Service
	guard   *csrf.Guard
	auditor audit.Recorder
	logger  *slog.Logger
	ttl     time.Duration
}

// NewService constructs a Service. TTLs outside (0, MaxDuration] are clamped
// to the ceiling.
func NewService(client *redis.Client, store *identity.Service, guard *csrf.Guard, auditor audit.Recorder, logger *slog.Logger, ttl time.Duration) *Service {
	if ttl <= 0 || ttl > MaxDuration {
		ttl = MaxDuration
	}
	return &Service{client: client, store: store, guard: guard, auditor: auditor, logger: logger, ttl: ttl}
}

// Start begins impersonating targetID on the actor's session. Only a resolved
// SUPER_ADMIN that is not already impersonating may initiate. The session's
// CSRF token rotates on success; the new token is returned to the client.
func (s *Service) Start(ctx context.Context, actor *principal.Principal, targetID string) (*identity.User, string, error) {
	if actor == nil || actor.SessionID == "" {
		return nil, "", ErrNotPermitted
	}
	if actor.Impersonated() {
		return nil, "", ErrAlreadyImpersonating
	}
	if existing, err := s.Marker(ctx, actor.SessionID); err != nil {
		return nil, "", err
	} else if existing != nil {
		return nil, "", ErrAlreadyImpersonating
	}
	if !actor.Role.Satisfies(principal.RoleSuperAdmin) {
		return nil, "", ErrNotPermitted
	}
	if targetID == "" || targetID == actor.ID {
		return nil, "", ErrNotPermitted
	}

	target, err := s.store.Lookup(ctx, targetID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, "", ErrNotPermitted
		}
		return nil, "", err
	}
	if !target.IsActive || target.Role == principal.RoleSuperAdmin {
		return nil, "", ErrNotPermitted
	}

	m := marker{
		ActingID:   actor.ID,
		ActingRole: string(actor.Role),
		TargetID:   target.ID,
		TargetRole: string(target.Role),
		StartedAt:  time.Now().UTC(),
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, "", err
	}
	if err := s.client.Set(ctx, markerKey(actor.SessionID), payload, s.ttl).Err(); err != nil {
		return nil, "", err
	}

	csrfToken, err := s.guard.Rotate(ctx, actor.SessionID)
	if err != nil {
		// Roll the marker back rather than leave an elevated session with a
		// stale CSRF token.
		_ = s.client.Del(ctx, markerKey(actor.SessionID)).Err()
		return nil, "", err
	}

	s.record(ctx, actor.ID, target.ID, "impersonation.start")
	return target, csrfToken, nil
}

// Stop ends impersonation on the session and rotates the CSRF token again.
func (s *Service) Stop(ctx context.Context, p *principal.Principal) (string, error) {
	if p == nil || p.SessionID == "" {
		return "", ErrNotImpersonating
	}
	raw, err := s.client.GetDel(ctx, markerKey(p.SessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotImpersonating
		}
		return "", err
	}
	var m marker
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return "", err
	}
	csrfToken, err := s.guard.Rotate(ctx, p.SessionID)
	if err != nil {
		return "", err
	}
	s.record(ctx, m.ActingID, m.TargetID, "impersonation.stop")
	return csrfToken, nil
}

// EndSession clears any marker when the session itself terminates.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	err := s.client.Del(ctx, markerKey(sessionID)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Marker returns the session's impersonation record, or nil when the session
// runs normally. Implements authn.ImpersonationSource.
func (s *Service) Marker(ctx context.Context, sessionID string) (*principal.Impersonation, error) {
	raw, err := s.client.Get(ctx, markerKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var m marker
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	actingRole, okActing := principal.ParseRole(m.ActingRole)
	targetRole, okTarget := principal.ParseRole(m.TargetRole)
	if !okActing || !okTarget {
		return nil, errors.New("impersonate: corrupt marker")
	}
	return &principal.Impersonation{
		Actor:  principal.Actor{ID: m.ActingID, Role: actingRole},
		Target: principal.Actor{ID: m.TargetID, Role: targetRole},
	}, nil
}

func (s *Service) record(ctx context.Context, actingID, targetID, action string) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Record(ctx, audit.Entry{
		ActorID:     actingID,
		EffectiveID: targetID,
		Action:      action,
		Entity:      "user",
		EntityID:    targetID,
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("record impersonation audit", slog.Any("error", err))
	}
}

func markerKey(sessionID string) string {
	return "impersonation:" + sessionID
}
