package auth

import (
	"context"
	"encoding/json"
	"math"
	"slices"
	"time"

	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

// MaxTokenSize is the largest bearer token accepted (8 KiB). Larger
// tokens are rejected before any parsing.
const MaxTokenSize = 8192

// Claims is a verified claim set, decoded from the token payload.
type Claims map[string]any

// String returns the string claim name, or "" if it is absent or not a
// string.
func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Time returns a NumericDate claim (seconds since the epoch) as a time.
func (c Claims) Time(name string) (time.Time, bool) {
	var secs float64
	switch v := c[name].(type) {
	case float64:
		secs = v
	case int64:
		secs = float64(v)
	case int:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	default:
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), true
}

// clone returns a deep copy of c. Nested JSON objects and arrays are
// copied too, so the copy shares no mutable state with c.
func (c Claims) clone() Claims {
	if c == nil {
		return nil
	}
	out := make(Claims, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = cloneValue(item)
		}
		return out
	case Claims:
		return v.clone()
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(v)
	default:
		return v
	}
}

// TokenVerifier validates a raw bearer token and returns its claims.
// Implementations must check signature, issuer and expiry, and must be
// safe for concurrent use.
//
// Error codes returned by implementations:
//   - [sserr.CodeAuthentication]: the token is empty
//   - [sserr.CodeAuthenticationExpired]: the token's exp has passed
//   - [sserr.CodeAuthenticationInvalid]: every other rejection, including
//     tokens larger than [MaxTokenSize]
//   - [sserr.CodeTimeoutDependency]: the identity provider did not answer
//     in time while the signing keys were fetched
//
// The returned Claims belong to the caller and may be modified.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (Claims, error)
}

// VerifierFunc adapts a function to [TokenVerifier].
type VerifierFunc func(ctx context.Context, rawToken string) (Claims, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, rawToken string) (Claims, error) {
	return f(ctx, rawToken)
}

func checkRawToken(rawToken string) error {
	if rawToken == "" {
		return sserr.New(sserr.CodeAuthentication, "auth: token is empty")
	}
	if len(rawToken) > MaxTokenSize {
		return sserr.Newf(sserr.CodeAuthenticationInvalid,
			"auth: token exceeds maximum size of %d bytes", MaxTokenSize)
	}
	return nil
}
