package sdk

import (
	"fmt"
	"strings"
)

// Role is the authorization level held by a principal. The zero value is
// RoleGuest so an unset role never grants anything.
type Role int

const (
	RoleGuest Role = iota
	RoleUser
	RoleModerator
	RoleAdmin
)

// Roles lists every known role, least privileged first.
var Roles = []Role{RoleGuest, RoleUser, RoleModerator, RoleAdmin}

func (r Role) String() string {
	switch r {
	case RoleGuest:
		return "guest"
	case RoleUser:
		return "user"
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// ParseRole maps a role name onto a Role. Matching ignores case and
// surrounding whitespace. It reports false for unknown names.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "guest":
		return RoleGuest, true
	case "user":
		return RoleUser, true
	case "moderator":
		return RoleModerator, true
	case "admin":
		return RoleAdmin, true
	}
	return RoleGuest, false
}

// parseAuthorityRole accepts only the roles the role authority may grant.
// guest is never granted remotely; it is what callers fall back to.
func parseAuthorityRole(s string) (Role, bool) {
	role, ok := ParseRole(s)
	if !ok || role == RoleGuest {
		return RoleGuest, false
	}
	return role, true
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	switch r {
	case RoleGuest, RoleUser, RoleModerator, RoleAdmin:
		return []byte(r.String()), nil
	}
	return nil, fmt.Errorf("unknown role %d", int(r))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	role, ok := ParseRole(string(text))
	if !ok {
		return fmt.Errorf("unknown role %q", string(text))
	}
	*r = role
	return nil
}
