package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := New(rdb, "test-queue", 10*time.Millisecond, time.Second, 3)
	return q, mr
}

func TestEnqueueReserveComplete(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	id, err := q.Enqueue(ctx, []byte(`{"a":1}`), 0, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := q.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)
	require.Equal(t, 1, job.Attempt)
	require.Equal(t, StateActive, job.State)

	require.NoError(t, q.Complete(ctx, id))

	_, err = q.Load(ctx, id)
	require.Error(t, err)
}

func TestReserveEmptyTimesOut(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	_, err := q.Reserve(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestDelayedJobNotVisibleUntilDue(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	id, err := q.Enqueue(ctx, []byte(`{}`), 0, time.Now().Add(200*time.Millisecond))
	require.NoError(t, err)

	_, err = q.Reserve(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)

	// Delayed scores are wall-clock times, so wait for real time to pass.
	time.Sleep(300 * time.Millisecond)

	job, err := q.Reserve(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)
}

func TestFailRetriesThenExhausts(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	id, err := q.Enqueue(ctx, []byte(`{}`), 2, time.Now())
	require.NoError(t, err)

	job, err := q.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, job.Attempt)

	retrying, err := q.Fail(ctx, id, errors.New("boom"))
	require.NoError(t, err)
	require.True(t, retrying)

	time.Sleep(100 * time.Millisecond)
	job, err = q.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, 2, job.Attempt)

	retrying, err = q.Fail(ctx, id, errors.New("boom again"))
	require.NoError(t, err)
	require.False(t, retrying)

	failed, err := q.Load(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StateFailed, failed.State)
}

func TestCancelledJobSkipsOnFail(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	id, err := q.Enqueue(ctx, []byte(`{}`), 3, time.Now())
	require.NoError(t, err)
	_, err = q.Reserve(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Cancel(ctx, id))
	cancelled, err := q.IsCancelled(ctx, id)
	require.NoError(t, err)
	require.True(t, cancelled)

	retrying, err := q.Fail(ctx, id, errors.New("irrelevant"))
	require.NoError(t, err)
	require.False(t, retrying)

	_, err = q.Load(ctx, id)
	require.Error(t, err)
}

func TestRequeuePreservesAttemptCount(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	id, err := q.Enqueue(ctx, []byte(`{}`), 3, time.Now())
	require.NoError(t, err)
	job, err := q.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, job.Attempt)

	require.NoError(t, q.Requeue(ctx, id))

	job, err = q.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, 2, job.Attempt)
}

func TestBackoffStaysWithinJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	for attempt := 0; attempt < 8; attempt++ {
		for i := 0; i < 20; i++ {
			d := Backoff(base, maxBackoff, attempt)
			require.GreaterOrEqual(t, d, time.Duration(0))
			require.LessOrEqual(t, d, time.Duration(float64(maxBackoff)*1.5)+time.Millisecond)
		}
	}
}

func TestDelayDoesNotBurnAttemptBudget(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	id, err := q.Enqueue(ctx, []byte(`{}`), 2, time.Now())
	require.NoError(t, err)

	job, err := q.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, job.Attempt)

	require.NoError(t, q.Delay(ctx, id, 20*time.Millisecond))

	time.Sleep(100 * time.Millisecond)
	job, err = q.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, job.Attempt, "Delay should not have consumed an attempt")
	require.Equal(t, StateActive, job.State)
}

func TestActiveIDsListsReservedJobs(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	id, err := q.Enqueue(ctx, []byte(`{}`), 0, time.Now())
	require.NoError(t, err)
	_, err = q.Reserve(ctx, time.Second)
	require.NoError(t, err)

	ids, err := q.ActiveIDs(ctx)
	require.NoError(t, err)
	require.Contains(t, ids, id)
}
