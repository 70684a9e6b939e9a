package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/messaged/internal/server"
	"github.com/StricklySoft/messaged/internal/testutil"
	"github.com/StricklySoft/messaged/internal/testutil/fixtures"
	"github.com/StricklySoft/messaged/pkg/auth"
	sserr "github.com/StricklySoft/messaged/pkg/errors"
	"github.com/StricklySoft/messaged/pkg/lifecycle"
)

func testConfig() Config {
	return Config{
		Log:    LogConfig{Level: "info", Format: "json"},
		Server: server.DefaultConfig(),
		Auth: AuthConfig{
			Mode: AuthModeSharedKey,
			SharedKey: auth.SharedKeyConfig{
				Key:    auth.Secret(fixtures.SharedKey),
				Issuer: fixtures.Issuer,
			},
			CacheTTL:  time.Minute,
			CacheSize: 16,
		},
		Session: SessionConfig{Backend: SessionBackendMemory},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newTestApp(t *testing.T, cfg Config, opts ...Option) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, "test", quietLogger(), opts...)
	require.NoError(t, err)
	return a
}

func getMessage(t *testing.T, h http.Handler, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/getMessage", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_SharedKeyMemorySessions(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig())
	require.NotNil(t, a.Sessions())

	first := testutil.SignHS256(t, fixtures.SharedKey, testutil.KeycloakClaims())
	rec := getMessage(t, a.Handler(), first)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "It works. User logged: "+fixtures.Username, rec.Body.String())

	// A newer login for the same subject takes over.
	claims := testutil.KeycloakClaims()
	claims["sid"] = "second-login"
	claims["auth_time"] = time.Now().Add(10 * time.Second).Unix()
	second := testutil.SignHS256(t, fixtures.SharedKey, claims)
	require.Equal(t, http.StatusOK, getMessage(t, a.Handler(), second).Code)

	rec = getMessage(t, a.Handler(), first)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "session superseded")

	assert.Equal(t, http.StatusOK, getMessage(t, a.Handler(), second).Code)
}

func TestNew_RefreshedOlderLoginDoesNotLockOutNewest(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig())
	now := time.Now()

	// Tokens without auth_time: refreshing only moves iat forward.
	token := func(sid string, iat time.Time) string {
		claims := testutil.KeycloakClaims()
		delete(claims, "auth_time")
		claims["sid"] = sid
		claims["iat"] = iat.Unix()
		return testutil.SignHS256(t, fixtures.SharedKey, claims)
	}
	loginA := token("login-a", now.Add(-10*time.Minute))
	loginB := token("login-b", now.Add(-5*time.Minute))
	refreshedA := token("login-a", now)

	require.Equal(t, http.StatusOK, getMessage(t, a.Handler(), loginA).Code)
	require.Equal(t, http.StatusOK, getMessage(t, a.Handler(), loginB).Code)
	require.Equal(t, http.StatusOK, getMessage(t, a.Handler(), refreshedA).Code)

	rec := getMessage(t, a.Handler(), loginB)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "It works. User logged: "+fixtures.Username, rec.Body.String())
}

func TestNew_RootBasePathServesGetMessage(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Server.BasePath = "/"
	cfg.Auth.Rules = []auth.Rule{{Pattern: "/getMessage", Requirement: auth.RequirementAuthenticated}}
	a := newTestApp(t, cfg)

	get := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := get("/getMessage", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Bearer realm="messaged"`, rec.Header().Get("WWW-Authenticate"))

	rec = get("/getMessage", testutil.SignHS256(t, fixtures.SharedKey, testutil.KeycloakClaims()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "It works. User logged: "+fixtures.Username, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get("/api/getMessage", "").Code)
}

func TestNew_StatelessAllowsConcurrentLogins(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Session.Backend = SessionBackendNone
	a := newTestApp(t, cfg)
	assert.Nil(t, a.Sessions())

	first := testutil.SignHS256(t, fixtures.SharedKey, testutil.KeycloakClaims())
	claims := testutil.KeycloakClaims()
	claims["sid"] = "second-login"
	claims["auth_time"] = time.Now().Add(10 * time.Second).Unix()
	second := testutil.SignHS256(t, fixtures.SharedKey, claims)

	assert.Equal(t, http.StatusOK, getMessage(t, a.Handler(), first).Code)
	assert.Equal(t, http.StatusOK, getMessage(t, a.Handler(), second).Code)
	assert.Equal(t, http.StatusOK, getMessage(t, a.Handler(), first).Code)
}

func TestNew_RejectsAnonymousAndForeignTokens(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig())

	rec := getMessage(t, a.Handler(), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Bearer realm="messaged"`, rec.Header().Get("WWW-Authenticate"))

	foreign := testutil.SignHS256(t, "ffffffffffffffffffffffffffffffff", testutil.KeycloakClaims())
	assert.Equal(t, http.StatusUnauthorized, getMessage(t, a.Handler(), foreign).Code)

	expired := testutil.KeycloakClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	rec = getMessage(t, a.Handler(), testutil.SignHS256(t, fixtures.SharedKey, expired))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "token expired")
}

func TestNew_HealthAndMetrics(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig())

	healthz := func() (int, map[string]any) {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body
	}

	code, _ := healthz()
	assert.Equal(t, http.StatusServiceUnavailable, code, "not started yet")

	require.NoError(t, a.Service().Start(context.Background()))
	code, body := healthz()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"session_memory": "ok"}, body["checks"])

	getMessage(t, a.Handler(), "")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `messaged_auth_decisions_total{outcome="unauthorized",requirement="authenticated"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	require.NoError(t, a.Service().Stop(context.Background()))
	assert.Equal(t, lifecycle.StateStopped, a.Service().State())
}

func TestNew_OIDCDiscoveryFailure(t *testing.T) {
	t.Parallel()
	provider := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(provider.Close)

	cfg := testConfig()
	cfg.Auth.Mode = AuthModeOIDC
	cfg.Auth.OIDC = auth.OIDCConfig{ProviderURL: provider.URL, Realm: fixtures.Realm, ClientID: fixtures.ClientID}

	_, err := New(context.Background(), cfg, "test", quietLogger())
	testutil.AssertErrorCode(t, err, sserr.CodeUnavailableDependency)
}

func TestNew_WithVerifier(t *testing.T) {
	t.Parallel()
	verifier, err := auth.NewSharedKeyVerifier(auth.SharedKeyConfig{
		Key:    auth.Secret(fixtures.SharedKey),
		Issuer: "https://other-issuer.test",
	})
	require.NoError(t, err)

	a := newTestApp(t, testConfig(), WithVerifier(verifier))

	claims := testutil.KeycloakClaims()
	claims["iss"] = "https://other-issuer.test"
	assert.Equal(t, http.StatusOK, getMessage(t, a.Handler(), testutil.SignHS256(t, fixtures.SharedKey, claims)).Code)
	assert.Equal(t, http.StatusUnauthorized,
		getMessage(t, a.Handler(), testutil.SignHS256(t, fixtures.SharedKey, testutil.KeycloakClaims())).Code)
}

func TestNew_UsernameClaim(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Auth.UsernameClaim = "email"
	a := newTestApp(t, cfg)

	claims := testutil.KeycloakClaims()
	claims["email"] = "alice@example.com"
	rec := getMessage(t, a.Handler(), testutil.SignHS256(t, fixtures.SharedKey, claims))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "It works. User logged: alice@example.com", rec.Body.String())
}

func TestNew_InvalidRules(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Auth.Rules = []auth.Rule{{Pattern: "/api/**", Requirement: "maybe"}}

	_, err := New(context.Background(), cfg, "test", quietLogger())
	testutil.AssertErrorCode(t, err, sserr.CodeInternalConfiguration)
}

func TestApp_Run(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return a.Service().State() == lifecycle.StateRunning
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, lifecycle.StateStopped, a.Service().State())
}

func TestNewLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	NewLogger(LogConfig{Level: "debug", Format: "text"}, &buf).Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "k=v")

	buf.Reset()
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("dropped")
	logger.Warn("kept")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])

	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
}
