// Package authz decides whether a resolved principal may invoke a route.
package authz

import (
	"errors"
	"strings"

	"github.com/team-kenya/harambee/internal/principal"
)

// ErrRoleDenied indicates the principal's role is not in the route's
// allow-list. DENY is the default for any unrecognised role.
var ErrRoleDenied = errors.New("authz: role denied")

// Operation classes that always require the acting identity to hold
// SUPER_ADMIN, even while impersonating. Treated as configuration; the
// defaults mirror the admin-management and payment surfaces.
const (
	OpManageAdmins = "admins.manage"
	OpViewPayments = "payments.view"
)

// Gate evaluates per-route role allow-lists against resolved principals.
type Gate struct {
	actingOnly map[string]struct{}
}

// NewGate constructs a Gate. actingOnly lists the operation classes exempt
// from impersonation; when empty the defaults apply.
func NewGate(actingOnly ...string) *Gate {
	g := &Gate{actingOnly: make(map[string]struct{})}
	if len(actingOnly) == 0 {
		actingOnly = []string{OpManageAdmins, OpViewPayments}
	}
	for _, op := range actingOnly {
		op = strings.TrimSpace(op)
		if op != "" {
			g.actingOnly[op] = struct{}{}
		}
	}
	return g
}

// Authorize checks the principal's effective role against the allow-list.
// For impersonated sessions the effective role is the impersonated user's,
// not the acting super admin's.
func (g *Gate) Authorize(p *principal.Principal, allowed ...principal.Role) error {
	if p == nil || !p.Role.Known() {
		return ErrRoleDenied
	}
	for _, required := range allowed {
		if p.Role.Satisfies(required) {
			return nil
		}
	}
	return ErrRoleDenied
}

// AuthorizeOperation applies the allow-list, then additionally requires the
// acting identity to hold SUPER_ADMIN for exempt operation classes. A super
// admin cannot reach those by impersonating, and an impersonated session
// cannot reach them at all unless its actor qualifies.
func (g *Gate) AuthorizeOperation(p *principal.Principal, class string, allowed ...principal.Role) error {
	if _, exempt := g.actingOnly[class]; exempt {
		if p == nil || !p.ActingRole().Satisfies(principal.RoleSuperAdmin) {
			return ErrRoleDenied
		}
		return nil
	}
	return g.Authorize(p, allowed...)
}

// ActingOnly reports whether an operation class bypasses impersonation.
func (g *Gate) ActingOnly(class string) bool {
	_, ok := g.actingOnly[class]
	return ok
}
