package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/messaged/internal/testutil/fixtures"
	"github.com/StricklySoft/messaged/pkg/auth"
	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

func principal(t *testing.T, sid string, authTime time.Time) *auth.Principal {
	t.Helper()
	claims := auth.Claims{
		"sub":                fixtures.Subject,
		"preferred_username": fixtures.Username,
		"auth_time":          float64(authTime.Unix()),
	}
	if sid != "" {
		claims["sid"] = sid
	}
	p, err := auth.NewPrincipalMapper().Map(claims)
	require.NoError(t, err)
	return p
}

type failingRegistry struct {
	*MemoryRegistry
	err error
}

func (f *failingRegistry) Register(context.Context, Record) (Record, error) {
	return Record{}, f.err
}

func (f *failingRegistry) Health(context.Context) error { return f.err }

func TestStrategy_SingleLogin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStrategy(NewMemoryRegistry(), nil)

	first := principal(t, "s-1", t0)
	require.NoError(t, s.OnAuthentication(ctx, first))
	require.NoError(t, s.OnAuthentication(ctx, first), "same session keeps working")

	second := principal(t, "s-2", t0.Add(time.Minute))
	require.NoError(t, s.OnAuthentication(ctx, second))

	err := s.OnAuthentication(ctx, first)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeAuthenticationSession))
	assert.Equal(t, 401, sserr.FromError(err).HTTPStatus())

	require.NoError(t, s.OnAuthentication(ctx, second))
}

func TestStrategy_NoSessionID(t *testing.T) {
	t.Parallel()
	reg := NewMemoryRegistry()
	s := NewStrategy(reg, nil)

	require.NoError(t, s.OnAuthentication(context.Background(), principal(t, "", t0)))
	require.NoError(t, s.OnAuthentication(context.Background(), nil))
	assert.Zero(t, reg.Len())
}

func TestStrategy_NoAuthTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := NewMemoryRegistry()
	s := NewStrategy(reg, nil)

	// Refreshed tokens carry a newer iat but keep the login's auth_time.
	// Without auth_time the older login could look newer, so neither is
	// tracked.
	noAuthTime := func(sid string, iat time.Time) *auth.Principal {
		p, err := auth.NewPrincipalMapper().Map(auth.Claims{
			"sub": fixtures.Subject,
			"sid": sid,
			"iat": float64(iat.Unix()),
		})
		require.NoError(t, err)
		return p
	}

	require.NoError(t, s.OnAuthentication(ctx, noAuthTime("s-a", t0)))
	require.NoError(t, s.OnAuthentication(ctx, noAuthTime("s-b", t0.Add(5*time.Minute))))
	require.NoError(t, s.OnAuthentication(ctx, noAuthTime("s-a", t0.Add(10*time.Minute))))
	require.NoError(t, s.OnAuthentication(ctx, noAuthTime("s-b", t0.Add(5*time.Minute))))
	assert.Zero(t, reg.Len())
}

func TestStrategy_RegistryError(t *testing.T) {
	t.Parallel()
	backendErr := sserr.New(sserr.CodeUnavailableDependency, "down")
	s := NewStrategy(&failingRegistry{MemoryRegistry: NewMemoryRegistry(), err: backendErr}, nil)

	err := s.OnAuthentication(context.Background(), principal(t, "s-1", t0))
	assert.True(t, errors.Is(err, backendErr))
}

func TestStrategy_Health(t *testing.T) {
	t.Parallel()
	assert.NoError(t, NewStrategy(NewMemoryRegistry(), nil).Health(context.Background()))

	boom := errors.New("boom")
	s := NewStrategy(&failingRegistry{MemoryRegistry: NewMemoryRegistry(), err: boom}, nil)
	assert.ErrorIs(t, s.Health(context.Background()), boom)
}
