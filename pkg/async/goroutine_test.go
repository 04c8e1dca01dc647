package async

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *test.Hook {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetOutput(io.Discard)
	SetLogger(log)
	t.Cleanup(func() { SetLogger(nil) })
	return hook
}

func TestSafeGo_Success(t *testing.T) {
	executed := atomic.Bool{}

	SafeGo(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	assert.Eventually(t, executed.Load, time.Second, 10*time.Millisecond)
}

func TestSafeGo_WithErrorIsLogged(t *testing.T) {
	hook := captureLogs(t)
	done := make(chan struct{})

	SafeGo(context.Background(), time.Second, "failing task", func(ctx context.Context) error {
		defer close(done)
		return errors.New("collector unreachable")
	})

	<-done
	assert.Eventually(t, func() bool {
		entry := hook.LastEntry()
		return entry != nil && entry.Level == logrus.WarnLevel
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "failing task", hook.LastEntry().Data["task"])
}

func TestSafeGo_Timeout(t *testing.T) {
	cancelled := make(chan struct{})

	SafeGo(context.Background(), 50*time.Millisecond, "slow task", func(ctx context.Context) error {
		select {
		case <-time.After(2 * time.Second):
			return nil
		case <-ctx.Done():
			close(cancelled)
			return ctx.Err()
		}
	})

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled by the timeout")
	}
}

func TestSafeGo_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	stopped := make(chan struct{})

	SafeGo(ctx, time.Minute, "cancellable task", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	})

	<-started
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("task did not observe parent cancellation")
	}
}

func TestRun(t *testing.T) {
	hook := captureLogs(t)

	t.Run("success", func(t *testing.T) {
		assert.True(t, Run(context.Background(), time.Second, "ok", func(ctx context.Context) error {
			return nil
		}))
	})

	t.Run("error", func(t *testing.T) {
		assert.False(t, Run(context.Background(), time.Second, "err", func(ctx context.Context) error {
			return errors.New("boom")
		}))
	})

	t.Run("panic is recovered", func(t *testing.T) {
		hook.Reset()
		assert.NotPanics(t, func() {
			ok := Run(context.Background(), time.Second, "panicky", func(ctx context.Context) error {
				panic("sink exploded")
			})
			assert.False(t, ok)
		})
		entry := hook.LastEntry()
		require.NotNil(t, entry)
		assert.Equal(t, logrus.ErrorLevel, entry.Level)
		assert.Equal(t, "sink exploded", entry.Data["panic"])
	})
}
