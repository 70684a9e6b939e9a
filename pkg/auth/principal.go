package auth

import (
	"slices"
	"time"
)

// Principal is the authenticated caller of a request. It is created once
// per request by the [PrincipalMapper] and never modified afterwards;
// accessors return copies of mutable data.
type Principal struct {
	subject           string
	preferredUsername string
	sessionID         string
	authTime          time.Time
	roles             []string
	claims            Claims
}

// Subject returns the identity provider's stable subject identifier.
func (p *Principal) Subject() string { return p.subject }

// PreferredUsername returns the display name, which may be empty.
func (p *Principal) PreferredUsername() string { return p.preferredUsername }

// SessionID returns the identity provider login session, or "" when the
// token carries none.
func (p *Principal) SessionID() string { return p.sessionID }

// AuthTime returns when the user authenticated with the identity
// provider, taken from the auth_time claim. It is the zero time when the
// token has no auth_time. iat is not used: it moves forward on every
// token refresh and does not identify the login.
func (p *Principal) AuthTime() time.Time { return p.authTime }

// Roles returns a copy of the granted roles in first-seen order.
func (p *Principal) Roles() []string {
	return slices.Clone(p.roles)
}

// HasRole reports whether role was granted. Comparison is exact.
func (p *Principal) HasRole(role string) bool {
	return slices.Contains(p.roles, role)
}

// HasAnyRole reports whether at least one of roles was granted.
func (p *Principal) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}

// Claims returns a deep copy of the verified claim set. Changes to the
// returned map, or to any object or array nested in it, are not seen by
// the Principal or by other requests presenting the same token.
func (p *Principal) Claims() Claims {
	return p.claims.clone()
}
