package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

func newService(t *testing.T, b *ServiceBuilder) *Service {
	t.Helper()
	svc, err := b.Build()
	require.NoError(t, err)
	return svc
}

func TestServiceBuilder_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewServiceBuilder("", "1.0.0").Build()
	assert.True(t, sserr.HasCode(err, sserr.CodeValidationRequired))

	_, err = NewServiceBuilder("messaged", "").Build()
	assert.True(t, sserr.HasCode(err, sserr.CodeValidationRequired))

	svc := newService(t, NewServiceBuilder("messaged", "1.0.0"))
	assert.Equal(t, StateUnknown, svc.State())
	assert.NotEmpty(t, svc.ID())
	assert.Equal(t, "messaged", svc.Name())
	assert.Equal(t, "1.0.0", svc.Version())
}

func TestService_StartStop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var mu sync.Mutex
	var calls []string
	record := func(name string) Hook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name)
			return nil
		}
	}
	var transitions []State

	svc := newService(t, NewServiceBuilder("messaged", "1.0.0").
		WithOnStart(record("start-a")).
		WithOnStart(record("start-b")).
		WithOnStop(record("stop-a")).
		WithOnStop(record("stop-b")).
		OnStateChange(func(_, next State) { transitions = append(transitions, next) }))

	require.Error(t, svc.Health(ctx))

	require.NoError(t, svc.Start(ctx))
	assert.Equal(t, StateRunning, svc.State())
	require.NoError(t, svc.Health(ctx))
	info := svc.Info()
	require.NotNil(t, info.StartedAt)

	require.NoError(t, svc.Stop(ctx))
	assert.Equal(t, StateStopped, svc.State())
	assert.Nil(t, svc.Info().StartedAt)
	require.NoError(t, svc.Stop(ctx), "stop is idempotent")

	assert.Equal(t, []string{"start-a", "start-b", "stop-b", "stop-a"}, calls)
	assert.Equal(t, []State{StateStarting, StateRunning, StateStopping, StateStopped}, transitions)
}

func TestService_StartHookFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("redis unreachable")
	svc := newService(t, NewServiceBuilder("messaged", "1.0.0").
		WithOnStart(func(context.Context) error { return boom }))

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, sserr.HasCode(err, sserr.CodeInternal))
	assert.Equal(t, StateFailed, svc.State())
	assert.True(t, sserr.IsUnavailable(svc.Health(context.Background())))

	// Failed services may be restarted.
	svc2 := newService(t, NewServiceBuilder("messaged", "1.0.0"))
	require.NoError(t, svc2.SetState(StateFailed))
	require.NoError(t, svc2.Start(context.Background()))
}

func TestService_StartTwice(t *testing.T) {
	t.Parallel()
	svc := newService(t, NewServiceBuilder("messaged", "1.0.0"))
	require.NoError(t, svc.Start(context.Background()))

	err := svc.Start(context.Background())
	assert.True(t, sserr.IsConflict(err))
	assert.Equal(t, StateRunning, svc.State())
}

func TestService_StartCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := newService(t, NewServiceBuilder("messaged", "1.0.0"))
	err := svc.Start(ctx)
	assert.True(t, sserr.IsTimeout(err))
	assert.Equal(t, StateUnknown, svc.State())
}

func TestService_StateHandlerPanicRecovered(t *testing.T) {
	t.Parallel()
	svc := newService(t, NewServiceBuilder("messaged", "1.0.0").
		OnStateChange(func(State, State) { panic("observer bug") }))

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StateRunning, svc.State())
}
