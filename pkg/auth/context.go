package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

type contextKey int

const (
	requestScopeKey contextKey = iota
)

// requestScope is attached once per inbound request by the
// [Authenticator]. Its presence distinguishes an anonymous request from
// code running outside any request.
type requestScope struct {
	principal *Principal
	requestID string
}

func scopeFrom(ctx context.Context) (*requestScope, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(requestScopeKey).(*requestScope)
	return s, ok
}

// ContextWithRequestScope marks ctx as belonging to an inbound request
// with the given request id. The principal, if any, is kept.
func ContextWithRequestScope(ctx context.Context, requestID string) context.Context {
	next := &requestScope{requestID: requestID}
	if s, ok := scopeFrom(ctx); ok {
		next.principal = s.principal
	}
	return context.WithValue(ctx, requestScopeKey, next)
}

// ContextWithPrincipal returns a request-scoped copy of ctx carrying p.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	next := &requestScope{principal: p}
	if s, ok := scopeFrom(ctx); ok {
		next.requestID = s.requestID
	}
	return context.WithValue(ctx, requestScopeKey, next)
}

// PrincipalFromContext returns the principal of the request ctx belongs
// to. The lookup is synchronous and needs no caller cooperation beyond
// passing the request context down; a goroutine started by the handler
// sees the principal only if it is given that context.
//
// Error codes returned:
//   - [sserr.CodeInternalNoActiveRequest]: ctx is not request scoped, for
//     example in a background job or at startup
//   - [sserr.CodeAuthentication]: the request is anonymous
//
// Example:
//
//	func handleGetMessage(w http.ResponseWriter, r *http.Request) {
//	    p, err := auth.PrincipalFromContext(r.Context())
//	    if err != nil {
//	        sserr.WriteHTTP(w, err)
//	        return
//	    }
//	    fmt.Fprintf(w, "It works. User logged: %s", p.PreferredUsername())
//	}
func PrincipalFromContext(ctx context.Context) (*Principal, error) {
	s, ok := scopeFrom(ctx)
	if !ok {
		return nil, sserr.New(sserr.CodeInternalNoActiveRequest,
			"auth: principal requested outside of an inbound request")
	}
	if s.principal == nil {
		return nil, sserr.Unauthorized("auth: request is not authenticated")
	}
	return s.principal, nil
}

// MustPrincipal is PrincipalFromContext for handlers behind
// [RequireAuthenticated]. It panics when no principal is present.
func MustPrincipal(ctx context.Context) *Principal {
	p, err := PrincipalFromContext(ctx)
	if err != nil {
		panic(err.Error())
	}
	return p
}

// IsNoActiveRequest reports whether err came from a principal lookup
// outside request scope.
func IsNoActiveRequest(err error) bool {
	return sserr.HasCode(err, sserr.CodeInternalNoActiveRequest)
}

// RequestIDFromContext returns the request id set by
// [ContextWithRequestScope].
func RequestIDFromContext(ctx context.Context) (string, bool) {
	s, ok := scopeFrom(ctx)
	if !ok || s.requestID == "" {
		return "", false
	}
	return s.requestID, true
}

// TraceIDFromContext returns the OpenTelemetry trace id of the active
// span, if it is valid.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return "", false
	}
	return sc.TraceID().String(), true
}
