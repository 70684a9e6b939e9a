package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

// minSharedKeyLen is the minimum HS256 key length (256 bits).
const minSharedKeyLen = 32

// SharedKeyConfig configures a [SharedKeyVerifier]. Shared-key mode is
// meant for local development and tests where no identity provider runs.
type SharedKeyConfig struct {
	// Key is the HMAC secret. At least 32 bytes.
	Key Secret `yaml:"key" json:"-" env:"KEY"`

	// Issuer must match the iss claim.
	Issuer string `yaml:"issuer" json:"issuer" env:"ISSUER"`

	// Audience, when set, must appear in the aud claim.
	Audience string `yaml:"audience" json:"audience" env:"AUDIENCE"`

	// ClockSkew is the leeway applied to exp, nbf and iat.
	ClockSkew time.Duration `yaml:"clock_skew" json:"clock_skew" env:"CLOCK_SKEW"`
}

// Validate checks required fields.
func (c SharedKeyConfig) Validate() error {
	if len(c.Key.Value()) < minSharedKeyLen {
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"auth: shared key must be at least %d bytes", minSharedKeyLen)
	}
	if c.Issuer == "" {
		return sserr.New(sserr.CodeInternalConfiguration, "auth: shared key issuer is required")
	}
	if c.ClockSkew < 0 {
		return sserr.New(sserr.CodeInternalConfiguration, "auth: clock skew must not be negative")
	}
	return nil
}

// SharedKeyVerifier verifies HS256 tokens signed with a shared secret.
type SharedKeyVerifier struct {
	cfg    SharedKeyConfig
	parser *jwt.Parser
	tracer trace.Tracer
}

// NewSharedKeyVerifier validates cfg and returns a verifier.
func NewSharedKeyVerifier(cfg SharedKeyConfig) (*SharedKeyVerifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// Restricting methods to HS256 keeps an RS256 token from being checked
	// with the shared key as an HMAC secret.
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &SharedKeyVerifier{
		cfg:    cfg,
		parser: jwt.NewParser(opts...),
		tracer: defaultTracer(),
	}, nil
}

// Verify implements [TokenVerifier].
func (v *SharedKeyVerifier) Verify(ctx context.Context, rawToken string) (Claims, error) {
	_, span := startSpan(ctx, v.tracer, "auth.VerifySharedKey")
	defer span.End()

	if err := checkRawToken(rawToken); err != nil {
		finishSpan(span, err)
		return nil, err
	}

	mc := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(rawToken, mc, func(*jwt.Token) (any, error) {
		return []byte(v.cfg.Key.Value()), nil
	})
	if err != nil {
		cerr := classifyJWTError(err)
		finishSpan(span, cerr)
		return nil, cerr
	}
	if !token.Valid {
		cerr := sserr.New(sserr.CodeAuthenticationInvalid, "auth: token is not valid")
		finishSpan(span, cerr)
		return nil, cerr
	}

	claims := make(Claims, len(mc))
	for k, val := range mc {
		claims[k] = val
	}
	return claims, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return sserr.Wrap(err, sserr.CodeAuthenticationExpired, "auth: token has expired")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token is malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token issuer is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token audience is invalid")
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token is not yet valid")
	default:
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token verification failed")
	}
}
