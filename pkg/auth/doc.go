// Package auth authenticates HTTP requests with OpenID Connect bearer
// tokens and authorizes them against an ordered path rule set.
//
// # Request flow
//
// The [Authenticator] middleware runs on every request:
//
//  1. The [RuleSet] decides whether the path requires authentication.
//  2. The bearer token is extracted from the Authorization header. A
//     request without one is rejected on an authenticated path and passed
//     on anonymously on a public path.
//  3. A [TokenVerifier] checks signature, issuer, audience and expiry and
//     returns the token's [Claims].
//  4. The [PrincipalMapper] turns the claims into an immutable [Principal].
//  5. An optional [SessionStrategy] rejects logins superseded by a newer
//     login of the same subject.
//
// Steps 3 to 5 are [Authenticator.Authenticate]. When any of them fails
// the request is rejected on an authenticated path; on a public path the
// token is ignored and the request continues anonymously.
//
// The principal is then carried in the request context. Handlers read it
// with [PrincipalFromContext]; route-level requirements are expressed with
// the [RequireAuthenticated] and [RequireRole] guards.
//
// Example:
//
//	verifier, err := auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
//	    ProviderURL: "https://keycloak.example.com",
//	    Realm:       "messages",
//	    ClientID:    "message-service",
//	})
//	if err != nil {
//	    return err
//	}
//	rules, err := auth.NewRuleSet(auth.Rule{Pattern: "/api/**", Requirement: auth.RequirementAuthenticated})
//	if err != nil {
//	    return err
//	}
//	authn, err := auth.NewAuthenticator(auth.AuthenticatorConfig{
//	    Verifier: auth.NewCachingVerifier(verifier, time.Minute, 1024),
//	    Mapper:   auth.NewPrincipalMapper(auth.WithClientID("message-service")),
//	    Rules:    rules,
//	})
//	if err != nil {
//	    return err
//	}
//	http.ListenAndServe(":8080", authn.Middleware(mux))
//
// # Open by default
//
// Paths that match no rule are public. This mirrors the permit-all
// fallback of the deployment this service replaces and is a deliberate
// policy: protect every sensitive prefix with an explicit rule, or end the
// rule list with a catch-all "/**" authenticated rule to invert it.
//
// # Tracing
//
// Verification spans are recorded under the tracer scope
// "github.com/StricklySoft/messaged/pkg/auth".
package auth
