package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/traveltek-sync/ingestiond/domain"
)

// fakeStore is an in-memory Store double, letting the dedup-window and
// ledger-write paths run without a database.
type fakeStore struct {
	mu     sync.Mutex
	events []domain.WebhookEvent
}

func (f *fakeStore) InsertWebhookEvent(ctx context.Context, ev domain.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) RecentWebhookEvent(ctx context.Context, lineID int, eventType string, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.LineID == lineID && ev.EventType == eventType && !ev.ReceivedAt.Before(since) && ev.Status != domain.WebhookStatusFailed {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// fakeFlagStore is an in-memory sysflags.Store double.
type fakeFlagStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeFlagStore() *fakeFlagStore {
	return &fakeFlagStore{values: map[string]string{}}
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
	return nil, nil
}
