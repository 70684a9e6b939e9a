package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/messaged/internal/testutil/fixtures"
)

// KeycloakClaims returns a claim set shaped like a Keycloak access token
// for fixtures.Subject, valid for one hour from now.
func KeycloakClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":                fixtures.Issuer,
		"aud":                fixtures.ClientID,
		"sub":                fixtures.Subject,
		"preferred_username": fixtures.Username,
		"sid":                fixtures.SessionID,
		"iat":                now.Unix(),
		"auth_time":          now.Unix(),
		"exp":                now.Add(time.Hour).Unix(),
		"realm_access": map[string]any{
			"roles": []any{"user", "offline_access"},
		},
		"resource_access": map[string]any{
			fixtures.ClientID: map[string]any{"roles": []any{"reader"}},
		},
	}
}

// SignHS256 signs claims with secret.
func SignHS256(t testing.TB, secret string, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err, "failed to sign HS256 token")
	return token
}

// GenerateRSAKey returns a fresh 2048-bit key pair.
func GenerateRSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key")
	return key
}

// SignRS256 signs claims with key and sets the kid header.
func SignRS256(t testing.TB, key *rsa.PrivateKey, kid string, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err, "failed to sign RS256 token")
	return signed
}
