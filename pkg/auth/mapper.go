package auth

import (
	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

// DefaultUsernameClaim is the claim read for [Principal.PreferredUsername].
const DefaultUsernameClaim = "preferred_username"

// PrincipalMapper converts verified claims into a [Principal]. Role names
// are passed through unchanged: no prefixing, no case folding.
//
// Roles are collected, in this order, from:
//
//   - realm_access.roles
//   - resource_access.<client id>.roles, when a client id is configured
//   - a top-level roles array
type PrincipalMapper struct {
	clientID      string
	usernameClaim string
}

// MapperOption configures a [PrincipalMapper].
type MapperOption func(*PrincipalMapper)

// WithClientID includes the client roles granted under resource_access.
func WithClientID(clientID string) MapperOption {
	return func(m *PrincipalMapper) { m.clientID = clientID }
}

// WithUsernameClaim reads the display name from claim instead of
// preferred_username.
func WithUsernameClaim(claim string) MapperOption {
	return func(m *PrincipalMapper) {
		if claim != "" {
			m.usernameClaim = claim
		}
	}
}

// NewPrincipalMapper returns a mapper with the given options applied.
func NewPrincipalMapper(opts ...MapperOption) *PrincipalMapper {
	m := &PrincipalMapper{usernameClaim: DefaultUsernameClaim}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Map builds a Principal from claims. It fails with a
// [sserr.CodeInternalMapping] error, and returns no Principal, when the
// subject claim is missing, empty or not a string.
func (m *PrincipalMapper) Map(claims Claims) (*Principal, error) {
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, sserr.New(sserr.CodeInternalMapping,
			"auth: verified claim set has no subject identifier")
	}

	p := &Principal{
		subject:           sub,
		preferredUsername: claims.String(m.usernameClaim),
		sessionID:         claims.String("sid"),
		claims:            claims.clone(),
	}
	if p.sessionID == "" {
		p.sessionID = claims.String("session_state")
	}
	if t, ok := claims.Time("auth_time"); ok {
		p.authTime = t
	}

	seen := make(map[string]struct{})
	add := func(v any) {
		for _, role := range stringList(v) {
			if _, dup := seen[role]; dup {
				continue
			}
			seen[role] = struct{}{}
			p.roles = append(p.roles, role)
		}
	}

	if realm, ok := claims["realm_access"].(map[string]any); ok {
		add(realm["roles"])
	}
	if m.clientID != "" {
		if resources, ok := claims["resource_access"].(map[string]any); ok {
			if client, ok := resources[m.clientID].(map[string]any); ok {
				add(client["roles"])
			}
		}
	}
	add(claims["roles"])

	return p, nil
}

// IsMappingError reports whether err is a principal mapping failure.
func IsMappingError(err error) bool {
	return sserr.HasCode(err, sserr.CodeInternalMapping)
}

// stringList returns the non-empty strings of a JSON array claim. Claims
// decoded from JSON hold []any; claims built in code may hold []string.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		out := make([]string, 0, len(list))
		for _, s := range list {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
