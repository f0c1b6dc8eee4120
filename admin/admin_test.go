package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/traveltek-sync/ingestiond/domain"
	"github.com/traveltek-sync/ingestiond/sysflags"
)

type fakeFlagStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeFlagStore(initial map[string]string) *fakeFlagStore {
	if initial == nil {
		initial = map[string]string{}
	}
	return &fakeFlagStore{values: initial}
}

func (f *fakeFlagStore) GetFlag(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeFlagStore) SetFlag(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeFlagStore) AllFlags(ctx context.Context) ([]domain.SystemFlag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SystemFlag, 0, len(f.values))
	for k, v := range f.values {
		out = append(out, domain.SystemFlag{Key: k, Value: v})
	}
	return out, nil
}

type fakeStore struct {
	events []domain.WebhookEvent
}

func (f *fakeStore) PendingSyncs(ctx context.Context, limit int) ([]domain.WebhookEvent, error) {
	if limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func newTestHandler(flagValues map[string]string, events []domain.WebhookEvent) *Handler {
	flagStore := newFakeFlagStore(flagValues)
	flags := sysflags.New(flagStore, time.Millisecond)
	store := &fakeStore{events: events}
	return NewHandler(store, flags, zerolog.New(io.Discard))
}

func TestListFlags_ReturnsAllKnownFlags(t *testing.T) {
	h := newTestHandler(map[string]string{domain.FlagWebhooksPaused: "false"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/flags", nil)
	rw := httptest.NewRecorder()
	h.ListFlags(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	require.Contains(t, rw.Body.String(), domain.FlagWebhooksPaused)
}

func TestSetFlag_RoundTripsThroughFlags(t *testing.T) {
	h := newTestHandler(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/flags/webhooks_paused", bytes.NewBufferString(`{"value":"true"}`))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("key", domain.FlagWebhooksPaused)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rw := httptest.NewRecorder()
	h.SetFlag(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)

	v, found, err := h.flags.Get(req.Context(), domain.FlagWebhooksPaused)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "true", v)
}

func TestSetFlag_MissingKeyRejected(t *testing.T) {
	h := newTestHandler(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/flags/", bytes.NewBufferString(`{"value":"true"}`))
	rctx := chi.NewRouteContext()
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rw := httptest.NewRecorder()
	h.SetFlag(rw, req)

	require.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestSetFlag_InvalidBodyRejected(t *testing.T) {
	h := newTestHandler(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/flags/webhooks_paused", bytes.NewBufferString(`not json`))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("key", domain.FlagWebhooksPaused)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rw := httptest.NewRecorder()
	h.SetFlag(rw, req)

	require.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestPendingSyncs_RespectsLimit(t *testing.T) {
	events := []domain.WebhookEvent{
		{ID: "a", Status: domain.WebhookStatusPending},
		{ID: "b", Status: domain.WebhookStatusProcessing},
		{ID: "c", Status: domain.WebhookStatusPending},
	}
	h := newTestHandler(nil, events)

	req := httptest.NewRequest(http.MethodGet, "/admin/pending-syncs?limit=2", nil)
	rw := httptest.NewRecorder()
	h.PendingSyncs(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	var body struct {
		Events []json.RawMessage `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &body))
	require.Len(t, body.Events, 2)
}
