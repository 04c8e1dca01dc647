package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestNewShutdownManager_Defaults(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
	assert.NotNil(t, sm.logger)
}

func TestShutdown_RunsFunctionsInOrder(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), nil, time.Second)

	var order []string
	sm.RegisterShutdownFunc("flush", func(ctx context.Context) error {
		order = append(order, "flush")
		return nil
	})
	sm.RegisterShutdownFunc("nil", nil)
	sm.RegisterShutdownFunc("close store", func(ctx context.Context) error {
		order = append(order, "close store")
		return nil
	})

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"flush", "close store"}, order)
}

func TestShutdown_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), nil, time.Second)
	boom := errors.New("boom")

	ran := false
	sm.RegisterShutdownFunc("failing", func(ctx context.Context) error { return boom })
	sm.RegisterShutdownFunc("after", func(ctx context.Context) error {
		ran = true
		return nil
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, ran, "a failing step must not skip later steps")
}

func TestShutdown_TimeoutSkipsRemaining(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), nil, 20*time.Millisecond)

	ran := false
	sm.RegisterShutdownFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	sm.RegisterShutdownFunc("skipped", func(ctx context.Context) error {
		ran = true
		return nil
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.False(t, ran)
}

func TestShutdown_StopsHTTPServerFirst(t *testing.T) {
	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Start()
	defer ts.Close()

	sm := NewShutdownManager(quietLogger(), ts.Config, time.Second)
	var serverClosed bool
	sm.RegisterShutdownFunc("check", func(ctx context.Context) error {
		_, err := http.Get(ts.URL)
		serverClosed = err != nil
		return nil
	})

	require.NoError(t, sm.Shutdown())
	assert.True(t, serverClosed)
}
