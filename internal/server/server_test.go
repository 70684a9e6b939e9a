package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/messaged/internal/testutil"
	"github.com/StricklySoft/messaged/internal/testutil/fixtures"
	"github.com/StricklySoft/messaged/pkg/auth"
	sserr "github.com/StricklySoft/messaged/pkg/errors"
	"github.com/StricklySoft/messaged/pkg/lifecycle"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAuthenticator(t *testing.T) *auth.Authenticator {
	t.Helper()
	verifier, err := auth.NewSharedKeyVerifier(auth.SharedKeyConfig{
		Key:    auth.Secret(fixtures.SharedKey),
		Issuer: fixtures.Issuer,
	})
	require.NoError(t, err)
	a, err := auth.NewAuthenticator(auth.AuthenticatorConfig{
		Verifier: verifier,
		Mapper:   auth.NewPrincipalMapper(auth.WithClientID(fixtures.ClientID)),
		Rules:    auth.MustRuleSet(auth.ProtectPrefix("/api")),
		Realm:    fixtures.Realm,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)
	return a
}

func newService(t *testing.T, start bool) *lifecycle.Service {
	t.Helper()
	svc, err := lifecycle.NewServiceBuilder("messaged", "test").WithLogger(discardLogger()).Build()
	require.NoError(t, err)
	if start {
		require.NoError(t, svc.Start(context.Background()))
	}
	return svc
}

type harness struct {
	server   *Server
	registry *prometheus.Registry
}

func newHarness(t *testing.T, cfg Config, start bool, checks ...HealthCheck) harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := NewHTTPMetrics()
	require.NoError(t, reg.Register(metrics))

	srv, err := New(cfg, Deps{
		Authenticator: newAuthenticator(t),
		Service:       newService(t, start),
		Gatherer:      reg,
		HTTPMetrics:   metrics,
		Checks:        checks,
		Logger:        discardLogger(),
	})
	require.NoError(t, err)
	return harness{server: srv, registry: reg}
}

func (h harness) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T) string {
	t.Helper()
	return "Bearer " + testutil.SignHS256(t, fixtures.SharedKey, testutil.KeycloakClaims())
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	a := newAuthenticator(t)
	svc := newService(t, false)

	_, err := New(DefaultConfig(), Deps{Service: svc})
	testutil.AssertErrorCode(t, err, sserr.CodeInternalConfiguration)

	_, err = New(DefaultConfig(), Deps{Authenticator: a})
	testutil.AssertErrorCode(t, err, sserr.CodeInternalConfiguration)

	cfg := DefaultConfig()
	cfg.BasePath = "api"
	_, err = New(cfg, Deps{Authenticator: a, Service: svc})
	testutil.AssertErrorCode(t, err, sserr.CodeInternalConfiguration)
}

func TestServer_GetMessage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), true)

	t.Run("no token", func(t *testing.T) {
		rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/getMessage", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.True(t, strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Bearer"))
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/getMessage", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := h.do(t, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="invalid_token"`)
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/getMessage?page=1&size=10", nil)
		req.Header.Set("Authorization", bearer(t))
		rec := h.do(t, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "It works. User logged: "+fixtures.Username, rec.Body.String())
	})

	t.Run("invalid paging", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/getMessage?size=0", nil)
		req.Header.Set("Authorization", bearer(t))
		rec := h.do(t, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_EmptyBasePath(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.BasePath = ""
	h := newHarness(t, cfg, true)

	// /getMessage sits outside the protected prefix, so the route guard
	// is what turns the anonymous call away.
	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/getMessage", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/getMessage", nil)
	req.Header.Set("Authorization", bearer(t))
	rec = h.do(t, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RequestID(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), true)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "trace-abc-123")
	rec := h.do(t, req)
	assert.Equal(t, "trace-abc-123", rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "has space")
	rec = h.do(t, req)
	generated := rec.Header().Get(RequestIDHeader)
	assert.NotEqual(t, "has space", generated)
	assert.Len(t, generated, 36)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/api/getMessage", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader), "rejected requests still carry an id")
}

func TestValidRequestID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		id   string
		want bool
	}{
		{"abc", true},
		{"0f8fad5b-d9cb-469f-a165-70867728950e", true},
		{"", false},
		{"tab\there", false},
		{"café", false},
		{strings.Repeat("a", maxRequestIDLen), true},
		{strings.Repeat("a", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, validRequestID(tt.id), "id %q", tt.id)
	}
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	decode := func(t *testing.T, rec *httptest.ResponseRecorder) healthResponse {
		t.Helper()
		var body healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body
	}

	t.Run("running", func(t *testing.T) {
		h := newHarness(t, DefaultConfig(), true, HealthCheck{
			Name:  "sessions",
			Check: func(context.Context) error { return nil },
		})
		rec := h.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, lifecycle.StateRunning, body.State)
		assert.Equal(t, "messaged", body.Service.Name)
		assert.Equal(t, map[string]string{"sessions": "ok"}, body.Checks)
	})

	t.Run("not started", func(t *testing.T) {
		h := newHarness(t, DefaultConfig(), false)
		rec := h.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "unavailable", decode(t, rec).Status)
	})

	t.Run("failing check", func(t *testing.T) {
		h := newHarness(t, DefaultConfig(), true, HealthCheck{
			Name:  "redis",
			Check: func(context.Context) error { return errors.New("connection refused") },
		})
		rec := h.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "connection refused", body.Checks["redis"])
	})
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), true)

	req := httptest.NewRequest(http.MethodGet, "/api/getMessage", nil)
	req.Header.Set("Authorization", bearer(t))
	require.Equal(t, http.StatusOK, h.do(t, req).Code)
	h.do(t, httptest.NewRequest(http.MethodGet, "/api/getMessage", nil))

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `messaged_http_requests_total{method="GET",route="/api/getMessage",status="200"} 1`)
	assert.Contains(t, body, `messaged_http_requests_total{method="GET",route="/api/getMessage",status="401"} 1`)
	assert.Contains(t, body, "messaged_http_request_duration_seconds_bucket")
}

func TestServer_NotFound(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), true)

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(sserr.CodeNotFound), body.Code)

	// Unknown paths under the protected prefix are rejected before routing.
	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_CORS(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.CORS.AllowedOrigins = []string{"https://app.example.com"}
	h := newHarness(t, cfg, true)

	req := httptest.NewRequest(http.MethodOptions, "/api/getMessage", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := h.do(t, req)
	assert.NotEqual(t, http.StatusUnauthorized, rec.Code, "preflight must not require a token")
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = h.do(t, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_ServeGracefulShutdown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), true)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.server.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestServer_RunListenError(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:99999"
	h := newHarness(t, cfg, true)

	err := h.server.Run(context.Background())
	testutil.AssertErrorCode(t, err, sserr.CodeUnavailable)
}
