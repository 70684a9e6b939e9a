package auth

import (
	"net/http"
	"strings"
)

const bearerScheme = "bearer"

// ExtractBearerToken returns the token of an "Authorization: Bearer
// <token>" header value. The scheme is case-insensitive. It returns ""
// for any other scheme or a blank token.
func ExtractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return ""
	}
	return strings.TrimSpace(token)
}

// bearerChallenge formats a WWW-Authenticate value (RFC 6750 section 3).
func bearerChallenge(realm, errCode, description string) string {
	var b strings.Builder
	b.WriteString("Bearer")
	sep := " "
	add := func(k, v string) {
		if v == "" {
			return
		}
		b.WriteString(sep)
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(strings.ReplaceAll(v, `"`, `'`))
		b.WriteString(`"`)
		sep = ", "
	}
	add("realm", realm)
	add("error", errCode)
	add("error_description", description)
	return b.String()
}

// tokenFromRequest reads the Authorization header only. Tokens in query
// parameters or cookies are ignored.
func tokenFromRequest(r *http.Request) string {
	return ExtractBearerToken(r.Header.Get("Authorization"))
}
