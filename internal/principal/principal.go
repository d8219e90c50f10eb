package principal

import "time"

// Actor identifies the super admin driving an impersonated session.
type Actor struct {
	ID   string
	Role Role
}

// Impersonation pairs the acting super admin with the effective target
// identity for a session under an impersonation marker.
type Impersonation struct {
	Actor  Actor
	Target Actor
}

// Principal is the resolved identity of a request. It is built fresh from a
// verified token on every request and never persisted.
type Principal struct {
	ID        string
	Role      Role
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time

	// Impersonator is set when a super admin is acting as this principal.
	Impersonator *Actor
}

// Impersonated reports whether the session is running under an impersonation
// marker.
func (p *Principal) Impersonated() bool {
	return p != nil && p.Impersonator != nil
}

// ActingID returns the identity accountable for the request: the impersonating
// super admin when present, otherwise the principal itself.
func (p *Principal) ActingID() string {
	if p == nil {
		return ""
	}
	if p.Impersonator != nil {
		return p.Impersonator.ID
	}
	return p.ID
}

// ActingRole returns the role of the accountable identity.
func (p *Principal) ActingRole() Role {
	if p == nil {
		return ""
	}
	if p.Impersonator != nil {
		return p.Impersonator.Role
	}
	return p.Role
}
