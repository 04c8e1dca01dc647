package consent

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	value   bool
	loads   int
	loadErr error
	saveErr error
}

func (s *countingStore) Load(ctx context.Context) (bool, error) {
	s.loads++
	return s.value, s.loadErr
}

func (s *countingStore) Save(ctx context.Context, enabled bool) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.value = enabled
	return nil
}

type slowStore struct{}

func (slowStore) Load(ctx context.Context) (bool, error) {
	<-ctx.Done()
	return true, ctx.Err()
}

func (slowStore) Save(ctx context.Context, enabled bool) error { return nil }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestGate_ReadsStoreEveryTime(t *testing.T) {
	store := &countingStore{value: true}
	gate := NewGate(store, WithLogger(quietLogger()))
	ctx := context.Background()

	assert.True(t, gate.IsSharingEnabled(ctx))
	store.value = false
	assert.False(t, gate.IsSharingEnabled(ctx))
	assert.Equal(t, 2, store.loads)
}

func TestGate_SetSharingEnabled(t *testing.T) {
	store := NewMemoryStore(false)
	gate := NewGate(store)
	ctx := context.Background()

	require.NoError(t, gate.SetSharingEnabled(ctx, true))
	assert.True(t, gate.IsSharingEnabled(ctx))

	require.NoError(t, gate.SetSharingEnabled(ctx, false))
	assert.False(t, gate.IsSharingEnabled(ctx))
}

func TestGate_SaveError(t *testing.T) {
	store := &countingStore{saveErr: errors.New("disk full")}
	gate := NewGate(store, WithLogger(quietLogger()))

	err := gate.SetSharingEnabled(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, store.value)
}

func TestGate_FailsClosed(t *testing.T) {
	t.Run("load error", func(t *testing.T) {
		store := &countingStore{value: true, loadErr: errors.New("corrupt")}
		gate := NewGate(store, WithLogger(quietLogger()))
		assert.False(t, gate.IsSharingEnabled(context.Background()))
	})

	t.Run("slow store times out", func(t *testing.T) {
		gate := NewGate(slowStore{}, WithReadTimeout(20*time.Millisecond), WithLogger(quietLogger()))
		start := time.Now()
		assert.False(t, gate.IsSharingEnabled(context.Background()))
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(true)
	ctx := context.Background()

	enabled, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, store.Save(ctx, false))
	enabled, err = store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
}
