package auth

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

// SessionStrategy is consulted after a token has been verified and
// mapped. Returning an error rejects the request.
//
// Implementations must be safe for concurrent use: the same strategy sees
// every authenticated request. Errors should be coded;
// [sserr.CodeAuthenticationSession] is answered with a 401 challenge whose
// error_description is "session superseded", any other code is passed to
// [sserr.WriteHTTP] unchanged.
type SessionStrategy interface {
	OnAuthentication(ctx context.Context, p *Principal) error
}

// AuthenticatorConfig holds the collaborators of an [Authenticator].
type AuthenticatorConfig struct {
	// Verifier is required.
	Verifier TokenVerifier

	// Mapper defaults to NewPrincipalMapper().
	Mapper *PrincipalMapper

	// Rules defaults to an empty rule set, under which every path is
	// public.
	Rules *RuleSet

	// Sessions is optional. Stateless deployments leave it nil.
	Sessions SessionStrategy

	// Realm is reported in WWW-Authenticate challenges.
	Realm string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *Metrics
}

// Authenticator is the request security configuration: it is assembled
// once at startup, never modified, and shared by all requests.
//
// An Authenticator is safe for concurrent use. Its collaborators (verifier,
// mapper, rule set, session strategy) must be as well.
type Authenticator struct {
	verifier TokenVerifier
	mapper   *PrincipalMapper
	rules    *RuleSet
	sessions SessionStrategy
	realm    string
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
}

// NewAuthenticator validates cfg and returns an Authenticator. Optional
// collaborators left nil get their documented defaults.
//
// Error codes returned:
//   - [sserr.CodeInternalConfiguration]: cfg.Verifier is nil
func NewAuthenticator(cfg AuthenticatorConfig) (*Authenticator, error) {
	if cfg.Verifier == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "auth: authenticator requires a token verifier")
	}
	a := &Authenticator{
		verifier: cfg.Verifier,
		mapper:   cfg.Mapper,
		rules:    cfg.Rules,
		sessions: cfg.Sessions,
		realm:    cfg.Realm,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   defaultTracer(),
	}
	if a.mapper == nil {
		a.mapper = NewPrincipalMapper()
	}
	if a.rules == nil {
		a.rules = &RuleSet{}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

// Rules returns the rule set the authenticator enforces.
func (a *Authenticator) Rules() *RuleSet {
	return a.rules
}

// Authenticate turns a raw bearer token into a [Principal].
//
// It performs the following steps:
//  1. Verifies rawToken with the configured [TokenVerifier]
//  2. Maps the verified claims with the [PrincipalMapper]
//  3. Hands the principal to the [SessionStrategy], if one is configured
//
// The first failing step ends the call, and no principal is returned.
// Authenticate does not consult the rule set; callers decide what a
// failure means for the request.
//
// Error codes returned:
//   - [sserr.CodeAuthentication], [sserr.CodeAuthenticationInvalid],
//     [sserr.CodeAuthenticationExpired]: the token was rejected
//   - [sserr.CodeAuthenticationSession]: a newer login replaced the session
//   - [sserr.CodeInternalMapping]: the claims carry no subject
//   - unavailable or timeout codes: the verifier or session backend failed
func (a *Authenticator) Authenticate(ctx context.Context, rawToken string) (*Principal, error) {
	ctx, span := startSpan(ctx, a.tracer, "auth.Authenticate")
	defer span.End()

	claims, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		a.metrics.RecordVerificationFailure(err)
		finishSpan(span, err)
		return nil, err
	}

	p, err := a.mapper.Map(claims)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("auth.subject", p.Subject()))

	if a.sessions != nil {
		if err := a.sessions.OnAuthentication(ctx, p); err != nil {
			finishSpan(span, err)
			return nil, err
		}
	}
	return p, nil
}

// Middleware enforces the rule set on every request.
//
// The middleware performs the following steps:
//  1. Opens a request scope, unless an outer middleware already did
//  2. Decides the path's [Requirement] with the [RuleSet]
//  3. Extracts the bearer token from the Authorization header
//  4. Calls [Authenticator.Authenticate] when a token is present
//  5. Stores the resulting [Principal] in the request context and passes
//     the request to next
//
// Requests to authenticated paths without a usable token are answered
// with 401 (or 500/503 when a backend failed) and never reach next.
// Requests to public paths always reach next: without a token, or with one
// that fails, they continue anonymously; a valid token on a public path
// still attaches its principal.
//
// Every decision is counted in [Metrics] by requirement and outcome.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Use(authn.Middleware)
//	r.Get("/api/getMessage", handleGetMessage)
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if _, ok := scopeFrom(ctx); !ok {
			ctx = ContextWithRequestScope(ctx, "")
		}

		req := a.rules.Decide(r.URL.Path)
		raw := tokenFromRequest(r)

		if raw == "" {
			if req == RequirementAuthenticated {
				a.metrics.RecordDecision(req, OutcomeUnauthorized)
				a.reject(w, r.WithContext(ctx), sserr.Unauthorized("auth: bearer token required"))
				return
			}
			a.metrics.RecordDecision(req, OutcomeAnonymous)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		p, err := a.Authenticate(ctx, raw)
		if err != nil {
			if req == RequirementPublic {
				a.logger.DebugContext(ctx, "auth: ignoring unusable token on public path",
					"path", r.URL.Path, "code", sserr.GetCode(err))
				a.metrics.RecordDecision(req, OutcomeAnonymous)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			a.metrics.RecordDecision(req, outcomeFor(err))
			a.reject(w, r.WithContext(ctx), err)
			return
		}

		a.metrics.RecordDecision(req, OutcomeAllowed)
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(ctx, p)))
	})
}

// reject writes err as the response. Authentication failures carry a
// WWW-Authenticate challenge and are logged at warn level. Mapping failures
// point at provider misconfiguration and, like backend failures, are
// logged at error level.
func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	requestID, _ := RequestIDFromContext(ctx)
	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", requestID,
		"code", sserr.GetCode(err),
	}

	switch {
	case IsMappingError(err):
		a.logger.ErrorContext(ctx, "auth: verified token could not be mapped to a principal", append(attrs, "error", err)...)
	case sserr.IsAuthentication(err):
		a.logger.WarnContext(ctx, "auth: request rejected", attrs...)
		w.Header().Set("WWW-Authenticate", a.challenge(err))
	default:
		a.logger.ErrorContext(ctx, "auth: authentication backend failed", append(attrs, "error", err)...)
	}
	sserr.WriteHTTP(w, sserr.FromError(err))
}

// challenge builds the RFC 6750 WWW-Authenticate value for err. A missing
// token gets a bare realm challenge; rejected tokens get invalid_token.
func (a *Authenticator) challenge(err error) string {
	switch sserr.GetCode(err) {
	case sserr.CodeAuthentication:
		return bearerChallenge(a.realm, "", "")
	case sserr.CodeAuthenticationExpired:
		return bearerChallenge(a.realm, "invalid_token", "token expired")
	case sserr.CodeAuthenticationSession:
		return bearerChallenge(a.realm, "invalid_token", "session superseded")
	default:
		return bearerChallenge(a.realm, "invalid_token", "")
	}
}

// outcomeFor labels a rejection for the decisions counter.
func outcomeFor(err error) string {
	switch {
	case IsMappingError(err):
		return OutcomeMappingFailed
	case sserr.HasCode(err, sserr.CodeAuthenticationSession):
		return OutcomeSuperseded
	default:
		return OutcomeUnauthorized
	}
}
