package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

// DefaultDiscoveryTimeout bounds each HTTP call to the identity provider
// (discovery document and JWKS refreshes).
const DefaultDiscoveryTimeout = 10 * time.Second

// OIDCConfig locates the identity provider and the client this service
// represents. The field names follow the Keycloak adapter settings:
// auth-server-url, realm and resource.
type OIDCConfig struct {
	// ProviderURL is the identity provider base URL, for example
	// "https://keycloak.example.com".
	ProviderURL string `yaml:"provider_url" json:"provider_url" env:"PROVIDER_URL"`

	// Realm is appended as /realms/<Realm> to form the issuer. Leave empty
	// when ProviderURL already is the issuer.
	Realm string `yaml:"realm" json:"realm" env:"REALM"`

	// ClientID must appear in the token audience unless
	// SkipClientIDCheck is set. It also selects the client roles read
	// from resource_access.
	ClientID string `yaml:"client_id" json:"client_id" env:"CLIENT_ID"`

	// SkipClientIDCheck disables the audience check. Keycloak access
	// tokens carry the client in azp, not aud, unless an audience mapper
	// is configured on the realm.
	SkipClientIDCheck bool `yaml:"skip_client_id_check" json:"skip_client_id_check" env:"SKIP_CLIENT_ID_CHECK"`

	// SigningAlgs restricts accepted JWS algorithms. Default: RS256.
	SigningAlgs []string `yaml:"signing_algs" json:"signing_algs" env:"SIGNING_ALGS"`

	// HTTPTimeout bounds calls to the provider. Default: 10s.
	HTTPTimeout time.Duration `yaml:"http_timeout" json:"http_timeout" env:"HTTP_TIMEOUT"`
}

// Issuer returns the expected iss claim.
func (c OIDCConfig) Issuer() string {
	base := strings.TrimRight(c.ProviderURL, "/")
	if c.Realm == "" {
		return base
	}
	return base + "/realms/" + c.Realm
}

// Validate checks required fields.
func (c OIDCConfig) Validate() error {
	if c.ProviderURL == "" {
		return sserr.New(sserr.CodeInternalConfiguration, "auth: oidc provider_url is required")
	}
	if !strings.HasPrefix(c.ProviderURL, "https://") && !strings.HasPrefix(c.ProviderURL, "http://") {
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"auth: oidc provider_url %q must be an http(s) URL", c.ProviderURL)
	}
	if c.ClientID == "" && !c.SkipClientIDCheck {
		return sserr.New(sserr.CodeInternalConfiguration,
			"auth: oidc client_id is required unless skip_client_id_check is set")
	}
	return nil
}

func (c OIDCConfig) verifierConfig() *oidc.Config {
	return &oidc.Config{
		ClientID:             c.ClientID,
		SkipClientIDCheck:    c.SkipClientIDCheck,
		SupportedSigningAlgs: c.SigningAlgs,
	}
}

// OIDCVerifier verifies tokens against an OpenID Connect provider's
// published signing keys. Keys are fetched from the provider's jwks_uri
// and refreshed when an unknown key id is seen.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	issuer   string
	tracer   trace.Tracer
}

// NewOIDCVerifier runs OIDC discovery against cfg.Issuer() and returns a
// verifier bound to the discovered key set. Discovery failures are
// reported as [sserr.CodeUnavailableDependency].
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (*OIDCVerifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}
	ctx = oidc.ClientContext(ctx, &http.Client{Timeout: timeout})

	provider, err := oidc.NewProvider(ctx, cfg.Issuer())
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeUnavailableDependency,
			"auth: oidc discovery failed for issuer %q", cfg.Issuer())
	}

	return &OIDCVerifier{
		verifier: provider.Verifier(cfg.verifierConfig()),
		issuer:   cfg.Issuer(),
		tracer:   defaultTracer(),
	}, nil
}

// NewOIDCVerifierFromKeySet returns a verifier that skips discovery and
// checks signatures against keySet. Use [oidc.StaticKeySet] for fixed
// keys.
func NewOIDCVerifierFromKeySet(cfg OIDCConfig, keySet oidc.KeySet) *OIDCVerifier {
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(cfg.Issuer(), keySet, cfg.verifierConfig()),
		issuer:   cfg.Issuer(),
		tracer:   defaultTracer(),
	}
}

// Verify implements [TokenVerifier].
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (Claims, error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.VerifyOIDC",
		trace.WithAttributes(attribute.String("auth.issuer", v.issuer)))
	defer span.End()

	if err := checkRawToken(rawToken); err != nil {
		finishSpan(span, err)
		return nil, err
	}

	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		cerr := classifyOIDCError(err)
		finishSpan(span, cerr)
		return nil, cerr
	}

	var claims Claims
	if err := token.Claims(&claims); err != nil {
		cerr := sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token payload is not a JSON object")
		finishSpan(span, cerr)
		return nil, cerr
	}
	span.SetAttributes(attribute.String("auth.subject", token.Subject))
	return claims, nil
}

func classifyOIDCError(err error) error {
	var expired *oidc.TokenExpiredError
	switch {
	case errors.As(err, &expired):
		return sserr.Wrap(err, sserr.CodeAuthenticationExpired, "auth: token has expired").
			WithDetail("expired_at", expired.Expiry.UTC().Format(time.RFC3339))
	case errors.Is(err, context.DeadlineExceeded):
		return sserr.Wrap(err, sserr.CodeTimeoutDependency, "auth: identity provider did not respond in time")
	default:
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token verification failed")
	}
}
