package auth

import (
	"net/http"
	"strings"

	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

// RequireAuthenticated rejects requests without a principal with 401. It
// is composed per route, independent of the path rule set, so a handler
// that needs a principal keeps that guarantee even if the rules change.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := PrincipalFromContext(r.Context()); err != nil {
			if sserr.IsAuthentication(err) {
				w.Header().Set("WWW-Authenticate", bearerChallenge("", "", ""))
			}
			sserr.WriteHTTP(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole admits requests whose principal holds at least one of roles.
// Anonymous requests get 401, principals without the role get 403 with
// the required roles in the error details. Role names are compared
// exactly, as granted by the identity provider.
//
// Example:
//
//	r.With(auth.RequireRole("reader", "admin")).Get("/getMessage", h)
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	required := strings.Join(roles, ",")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := PrincipalFromContext(r.Context())
			if err != nil {
				if sserr.IsAuthentication(err) {
					w.Header().Set("WWW-Authenticate", bearerChallenge("", "", ""))
				}
				sserr.WriteHTTP(w, err)
				return
			}
			if !p.HasAnyRole(roles...) {
				sserr.WriteHTTP(w, sserr.New(sserr.CodeAuthorizationRoleMissing,
					"auth: principal lacks a required role").WithDetail("roles", required))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
