package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/platinummonkey/enx-analytics/pkg/consent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ consent.Store = (*ConsentStore)(nil)

func setupConsentStoreTest(t *testing.T) (*ConsentStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	store, err := NewConsentStore(Config{URL: "redis://" + mr.Addr(), MaxRetries: 1, PoolSize: 2})
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create consent store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
		mr.Close()
	})
	return store, mr
}

func TestNewConsentStore_InvalidURL(t *testing.T) {
	_, err := NewConsentStore(Config{URL: "invalid://url"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis URL")
}

func TestNewConsentStore_ConnectionFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewConsentStore(Config{URL: "redis://" + addr})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestConsentStore_MissingKeyIsDisabled(t *testing.T) {
	store, _ := setupConsentStoreTest(t)

	enabled, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestConsentStore_SaveLoad(t *testing.T) {
	store, mr := setupConsentStoreTest(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, true))
	enabled, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	value, err := mr.Get(DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, "true", value)
	assert.Zero(t, mr.TTL(DefaultKey))

	require.NoError(t, store.Save(ctx, false))
	enabled, err = store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestConsentStore_SeesWritesFromOtherProcesses(t *testing.T) {
	store, mr := setupConsentStoreTest(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(DefaultKey, "true"))
	enabled, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	mr.Del(DefaultKey)
	enabled, err = store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestConsentStore_CorruptValue(t *testing.T) {
	store, mr := setupConsentStoreTest(t)

	require.NoError(t, mr.Set(DefaultKey, "maybe"))
	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid consent value")
}

func TestConsentStore_GateFailsClosedWhenRedisDown(t *testing.T) {
	store, mr := setupConsentStoreTest(t)
	ctx := context.Background()
	gate := consent.NewGate(store)

	require.NoError(t, gate.SetSharingEnabled(ctx, true))
	assert.True(t, gate.IsSharingEnabled(ctx))

	mr.Close()
	assert.False(t, gate.IsSharingEnabled(ctx))
}

func TestConsentStore_CustomKey(t *testing.T) {
	_, mr := setupConsentStoreTest(t)
	store, err := NewConsentStore(Config{URL: "redis://" + mr.Addr(), Key: "device:42:consent"})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(context.Background(), true))
	assert.True(t, mr.Exists("device:42:consent"))
	assert.False(t, mr.Exists(DefaultKey))
	require.NoError(t, store.Ping(context.Background()))
}
