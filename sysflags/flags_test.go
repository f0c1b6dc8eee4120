package sysflags

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traveltek-sync/ingestiond/domain"
)

type fakeStore struct {
	values map[string]string
	reads  int
}

func newFakeStore() *fakeStore { return &fakeStore{values: map[string]string{}} }

func (f *fakeStore) GetFlag(ctx context.Context, key string) (string, bool, error) {
	f.reads++
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeStore) SetFlag(ctx context.Context, key, value string) error {
	f.values[key] = value
	return nil
}

func (f *fakeStore) AllFlags(ctx context.Context) ([]domain.SystemFlag, error) {
	var out []domain.SystemFlag
	for k, v := range f.values {
		out = append(out, domain.SystemFlag{Key: k, Value: v})
	}
	return out, nil
}

func TestGet_CachesWithinTTL(t *testing.T) {
	store := newFakeStore()
	store.values["webhooks_paused"] = "true"
	f := New(store, time.Minute)

	v1, found, err := f.Get(context.Background(), "webhooks_paused")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "true", v1)

	store.values["webhooks_paused"] = "false"
	v2, _, err := f.Get(context.Background(), "webhooks_paused")
	require.NoError(t, err)
	assert.Equal(t, "true", v2, "should serve stale cached value within TTL")
	assert.Equal(t, 1, store.reads)
}

func TestGet_RefreshesAfterTTLExpires(t *testing.T) {
	store := newFakeStore()
	store.values["webhooks_paused"] = "true"
	f := New(store, 10*time.Millisecond)

	_, _, err := f.Get(context.Background(), "webhooks_paused")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	store.values["webhooks_paused"] = "false"

	v, _, err := f.Get(context.Background(), "webhooks_paused")
	require.NoError(t, err)
	assert.Equal(t, "false", v)
	assert.Equal(t, 2, store.reads)
}

func TestSet_InvalidatesCacheImmediately(t *testing.T) {
	store := newFakeStore()
	f := New(store, time.Minute)

	_, found, err := f.Get(context.Background(), "webhooks_paused")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, f.Set(context.Background(), "webhooks_paused", "true"))

	v, found, err := f.Get(context.Background(), "webhooks_paused")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "true", v)
}

func TestBool_DefaultsWhenUnset(t *testing.T) {
	store := newFakeStore()
	f := New(store, time.Minute)
	assert.False(t, f.WebhooksPaused(context.Background()))
}

func TestBool_ParsesTrue(t *testing.T) {
	store := newFakeStore()
	store.values[domain.FlagWebhooksPaused] = "true"
	f := New(store, time.Minute)
	assert.True(t, f.WebhooksPaused(context.Background()))
}

func TestInt_DefaultsOnUnparseable(t *testing.T) {
	store := newFakeStore()
	store.values[domain.FlagDedupWindowSeconds] = "not-a-number"
	f := New(store, time.Minute)
	assert.Equal(t, 300, f.DedupWindowSeconds(context.Background(), 300))
}
