package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/traveltek-sync/ingestiond/domain"
	"github.com/traveltek-sync/ingestiond/queue"
	"github.com/traveltek-sync/ingestiond/sysflags"
)

type fakeFlagStore struct {
	values map[string]string
}

func (f fakeFlagStore) GetFlag(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}
func (f fakeFlagStore) SetFlag(ctx context.Context, key, value string) error {
	f.values[key] = value
	return nil
}
func (f fakeFlagStore) AllFlags(ctx context.Context) ([]domain.SystemFlag, error) { return nil, nil }

func newTestQueue(t *testing.T) (*queue.Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return queue.New(rdb, "reaper-test", 10*time.Millisecond, time.Second, 3), mr
}

func TestSweepStalledJobs_RequeuesStaleHeartbeat(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	id, err := q.Enqueue(ctx, []byte(`{}`), 0, time.Now())
	require.NoError(t, err)
	_, err = q.Reserve(ctx, time.Second)
	require.NoError(t, err)

	r := New(DefaultConfig(), nil, []*queue.Queue{q}, nil, nil, nil, nil, zerolog.Nop())
	r.cfg.StalledJobTTL = 10 * time.Millisecond

	// Heartbeat age is measured against the wall clock.
	time.Sleep(50 * time.Millisecond)

	n, err := r.SweepStalledJobs(ctx, q)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job, err := q.Load(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StateWaiting, job.State)
}

func TestSweepStalledJobs_LeavesFreshHeartbeatAlone(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	id, err := q.Enqueue(ctx, []byte(`{}`), 0, time.Now())
	require.NoError(t, err)
	_, err = q.Reserve(ctx, time.Second)
	require.NoError(t, err)

	r := New(DefaultConfig(), nil, []*queue.Queue{q}, nil, nil, nil, nil, zerolog.Nop())
	r.cfg.StalledJobTTL = time.Hour

	n, err := r.SweepStalledJobs(ctx, q)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	job, err := q.Load(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StateActive, job.State)
	_ = id
}

func TestDrainBatchSync_NoopWhenPaused(t *testing.T) {
	ctx := context.Background()
	flags := sysflags.New(fakeFlagStore{values: map[string]string{domain.FlagBatchSyncPaused: "true"}}, time.Minute)
	r := New(DefaultConfig(), nil, nil, nil, flags, nil, nil, zerolog.Nop())
	n, err := r.DrainBatchSync(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
