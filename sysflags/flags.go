// Package sysflags provides cached reads of the system_flags table
// (spec §6), using the same sync.Map + TTL-expiry cache entry pattern
// as the teacher's middleware.AuthMiddleware key cache, repurposed
// from auth-key caching to flag-value caching so every yield point can
// check a flag without a database round trip on the hot path.
package sysflags

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/traveltek-sync/ingestiond/domain"
)

// Store is the subset of persistence.Store this package depends on.
type Store interface {
	GetFlag(ctx context.Context, key string) (value string, found bool, err error)
	SetFlag(ctx context.Context, key, value string) error
	AllFlags(ctx context.Context) ([]domain.SystemFlag, error)
}

type cachedFlag struct {
	value     string
	found     bool
	expiresAt time.Time
}

// Flags is a TTL-cached reader/writer over the system_flags table.
type Flags struct {
	store Store
	cache sync.Map // key -> *cachedFlag
	ttl   time.Duration
}

// New creates a Flags reader with the given cache TTL (a handful of
// seconds is enough to keep the hot path off the database without
// making an operator's flag flip feel stuck).
func New(store Store, ttl time.Duration) *Flags {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Flags{store: store, ttl: ttl}
}

// Get returns a flag's raw string value, reading through the cache.
func (f *Flags) Get(ctx context.Context, key string) (value string, found bool, err error) {
	if cached, ok := f.cache.Load(key); ok {
		cf := cached.(*cachedFlag)
		if time.Now().Before(cf.expiresAt) {
			return cf.value, cf.found, nil
		}
		f.cache.Delete(key)
	}

	value, found, err = f.store.GetFlag(ctx, key)
	if err != nil {
		return "", false, err
	}
	f.cache.Store(key, &cachedFlag{value: value, found: found, expiresAt: time.Now().Add(f.ttl)})
	return value, found, nil
}

// Bool reads a flag as a boolean, defaulting to def if unset or
// unparseable.
func (f *Flags) Bool(ctx context.Context, key string, def bool) bool {
	v, found, err := f.Get(ctx, key)
	if err != nil || !found {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Int reads a flag as an integer, defaulting to def if unset or
// unparseable.
func (f *Flags) Int(ctx context.Context, key string, def int) int {
	v, found, err := f.Get(ctx, key)
	if err != nil || !found {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// Set writes a flag and invalidates the cached entry immediately so
// the next read reflects the change rather than waiting out the TTL.
func (f *Flags) Set(ctx context.Context, key, value string) error {
	if err := f.store.SetFlag(ctx, key, value); err != nil {
		return err
	}
	f.cache.Delete(key)
	return nil
}

// All returns every known flag, for the admin introspection endpoint.
func (f *Flags) All(ctx context.Context) ([]domain.SystemFlag, error) {
	return f.store.AllFlags(ctx)
}

// WebhooksPaused is shorthand for Bool(ctx, domain.FlagWebhooksPaused, false).
func (f *Flags) WebhooksPaused(ctx context.Context) bool {
	return f.Bool(ctx, domain.FlagWebhooksPaused, false)
}

// BatchSyncPaused is shorthand for Bool(ctx, domain.FlagBatchSyncPaused, false).
func (f *Flags) BatchSyncPaused(ctx context.Context) bool {
	return f.Bool(ctx, domain.FlagBatchSyncPaused, false)
}

// DedupWindowSeconds is shorthand for Int(ctx, domain.FlagDedupWindowSeconds, def).
func (f *Flags) DedupWindowSeconds(ctx context.Context, def int) int {
	return f.Int(ctx, domain.FlagDedupWindowSeconds, def)
}

// MaxCruisesPerWebhook is shorthand for Int(ctx, domain.FlagMaxCruisesPerWebhook, def).
func (f *Flags) MaxCruisesPerWebhook(ctx context.Context, def int) int {
	return f.Int(ctx, domain.FlagMaxCruisesPerWebhook, def)
}
