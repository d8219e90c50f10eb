package principal

import "strings"

// Role is the closed set of dashboard roles.
type Role string

// Dashboard roles, least to most privileged.
const (
	RoleStudent    Role = "STUDENT"
	RoleAlumni     Role = "ALUMNI"
	RoleMentor     Role = "MENTOR"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// satisfies maps a role to the roles it implicitly satisfies beyond itself.
// SUPER_ADMIN passes ADMIN gates; there are no other implicit upgrades.
var satisfies = map[Role][]Role{
	RoleSuperAdmin: {RoleAdmin},
}

var known = map[Role]struct{}{
	RoleStudent:    {},
	RoleAlumni:     {},
	RoleMentor:     {},
	RoleAdmin:      {},
	RoleSuperAdmin: {},
}

// ParseRole normalizes a raw role string. Unknown values report false.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	_, ok := known[role]
	return role, ok
}

// Known reports whether the role belongs to the closed enumeration.
func (r Role) Known() bool {
	_, ok := known[r]
	return ok
}

// Satisfies reports whether the role passes a gate requiring the given role.
// Unknown roles never satisfy anything.
func (r Role) Satisfies(required Role) bool {
	if !r.Known() {
		return false
	}
	if r == required {
		return true
	}
	for _, implied := range satisfies[r] {
		if implied == required {
			return true
		}
	}
	return false
}
