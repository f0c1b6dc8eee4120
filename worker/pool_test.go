package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/traveltek-sync/ingestiond/queue"
)

func newTestPoolQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return queue.New(rdb, "pool-test", 5*time.Millisecond, time.Second, 3)
}

func TestPool_ProcessesJobToCompletion(t *testing.T) {
	q := newTestPoolQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled int32
	handler := func(ctx context.Context, job *queue.Job) error {
		atomic.AddInt32(&handled, 1)
		return nil
	}

	p := New(q, handler, Config{Concurrency: 2, ReserveTimeout: 20 * time.Millisecond, JobTimeout: time.Second, HeartbeatEvery: 5 * time.Millisecond}, zerolog.Nop(), nil, nil)
	p.Start(ctx)
	defer p.Stop()

	id, err := q.Enqueue(context.Background(), []byte(`{}`), 0, time.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&handled) == 1
	}, time.Second, 5*time.Millisecond)

	_, err = q.Load(context.Background(), id)
	require.Error(t, err, "completed job should be removed from the job hash")
}

func TestPool_RetriesFailedJobThenDeadLetters(t *testing.T) {
	q := newTestPoolQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts int32
	handler := func(ctx context.Context, job *queue.Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	}

	p := New(q, handler, Config{Concurrency: 1, ReserveTimeout: 20 * time.Millisecond, JobTimeout: time.Second, HeartbeatEvery: 5 * time.Millisecond}, zerolog.Nop(), nil, nil)
	p.Start(ctx)
	defer p.Stop()

	id, err := q.Enqueue(context.Background(), []byte(`{}`), 2, time.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		job, err := q.Load(context.Background(), id)
		return err == nil && job.State == queue.StateFailed
	}, time.Second, 5*time.Millisecond, "exhausted job should end in the failed state")
}

func TestPool_HandledSentinelSkipsCompleteAndFail(t *testing.T) {
	q := newTestPoolQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := q.Enqueue(context.Background(), []byte(`{}`), 3, time.Now())
	require.NoError(t, err)

	handler := func(ctx context.Context, job *queue.Job) error {
		if derr := q.Delay(context.Background(), job.ID, 50*time.Millisecond); derr != nil {
			return derr
		}
		return ErrHandled
	}
	p := New(q, handler, Config{Concurrency: 1, ReserveTimeout: 20 * time.Millisecond, JobTimeout: time.Second, HeartbeatEvery: time.Hour}, zerolog.Nop(), nil, nil)
	p.Start(ctx)

	require.Eventually(t, func() bool {
		job, err := q.Load(context.Background(), id)
		return err == nil && job.State == queue.StateDelayed
	}, time.Second, 5*time.Millisecond, "handler transitions state itself when returning ErrHandled")
	p.Stop()
}
