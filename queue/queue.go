// Package queue implements the durable job queue of spec §4.5 over
// Redis primitives: lists for the waiting bucket, sorted sets (score =
// notBefore unix millis) for delayed jobs, and hashes for job bodies.
// This is the teacher's redisclient/redis.go stack pointed at queue
// semantics instead of response caching.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// State is a job's lifecycle state (spec §4.5).
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ErrEmpty is returned by Reserve when no job became available before
// the reserve timeout elapsed.
var ErrEmpty = errors.New("queue: no job available")

// Job is one unit of work. Payload is opaque to the queue.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	NotBefore   time.Time       `json:"notBefore"`
	State       State           `json:"state"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	HeartbeatAt time.Time       `json:"heartbeatAt"`
	Cancelled   bool            `json:"cancelled"`
}

// Backoff computes a full-jitter exponential delay per spec §4.5:
// delay = min(maxBackoff, base*2^attempt) * rand(0.5..1.5).
func Backoff(base, maxBackoff time.Duration, attempt int) time.Duration {
	d := base << attempt // base * 2^attempt
	if d <= 0 || d > maxBackoff {
		d = maxBackoff
	}
	jitter := 0.5 + rand.Float64() // [0.5, 1.5)
	return time.Duration(float64(d) * jitter)
}

// Queue is one named durable queue backed by Redis.
type Queue struct {
	name   string
	rdb    *redis.Client
	base   time.Duration
	maxBk  time.Duration
	maxAtt int
}

// New creates a named queue. base/maxBackoff feed Backoff; maxAttempts
// is the default ceiling used by Fail when a job doesn't carry its own.
func New(rdb *redis.Client, name string, base, maxBackoff time.Duration, maxAttempts int) *Queue {
	return &Queue{name: name, rdb: rdb, base: base, maxBk: maxBackoff, maxAtt: maxAttempts}
}

// Name returns the queue's name, used as a metric label by worker.Pool.
func (q *Queue) Name() string { return q.name }

func (q *Queue) waitingKey() string { return fmt.Sprintf("queue:%s:waiting", q.name) }
func (q *Queue) delayedKey() string { return fmt.Sprintf("queue:%s:delayed", q.name) }
func (q *Queue) activeKey() string  { return fmt.Sprintf("queue:%s:active", q.name) }
func (q *Queue) failedKey() string  { return fmt.Sprintf("queue:%s:failed", q.name) }
func (q *Queue) deadKey() string    { return fmt.Sprintf("queue:%s:dead", q.name) }
func (q *Queue) jobKey(id string) string {
	return fmt.Sprintf("queue:%s:job:%s", q.name, id)
}

// Enqueue pushes a new job payload onto the waiting list (or the
// delayed set if notBefore is in the future), returning its id.
func (q *Queue) Enqueue(ctx context.Context, payload []byte, maxAttempts int, notBefore time.Time) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = q.maxAtt
	}
	job := Job{
		ID:          uuid.NewString(),
		Queue:       q.name,
		Payload:     payload,
		Attempt:     0,
		MaxAttempts: maxAttempts,
		NotBefore:   notBefore,
		EnqueuedAt:  time.Now().UTC(),
	}
	if notBefore.After(time.Now()) {
		job.State = StateDelayed
	} else {
		job.State = StateWaiting
	}

	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), body, 0)
	if job.State == StateDelayed {
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(notBefore.UnixMilli()), Member: job.ID})
	} else {
		pipe.LPush(ctx, q.waitingKey(), job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return job.ID, nil
}

// PromoteDelayed moves delayed jobs whose notBefore has elapsed onto
// the waiting list. Called by the reaper and opportunistically before
// Reserve.
func (q *Queue) PromoteDelayed(ctx context.Context) (int, error) {
	now := float64(time.Now().UnixMilli())
	ids, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed: %w", err)
	}
	for _, id := range ids {
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, q.delayedKey(), id)
		pipe.LPush(ctx, q.waitingKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("promote %s: %w", id, err)
		}
		q.setState(ctx, id, StateWaiting)
	}
	return len(ids), nil
}

// Reserve blocks up to timeout for a job to appear on the waiting
// list, atomically moving it to active and returning it owned by the
// caller. Returns ErrEmpty on timeout.
func (q *Queue) Reserve(ctx context.Context, timeout time.Duration) (*Job, error) {
	if _, err := q.PromoteDelayed(ctx); err != nil {
		return nil, err
	}

	res, err := q.rdb.BRPopLPush(ctx, q.waitingKey(), q.activeKey(), timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}

	job, err := q.loadJob(ctx, res)
	if err != nil {
		return nil, err
	}
	job.State = StateActive
	job.Attempt++
	job.HeartbeatAt = time.Now().UTC()
	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Heartbeat refreshes a reserved job's liveness timestamp; the reaper
// uses its age to detect stalled jobs (spec §4.5, §4.9).
func (q *Queue) Heartbeat(ctx context.Context, id string) error {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		return err
	}
	job.HeartbeatAt = time.Now().UTC()
	return q.saveJob(ctx, job)
}

// IsCancelled reports whether the job has been administratively
// cancelled; workers poll this at every yield point (spec §4.5).
func (q *Queue) IsCancelled(ctx context.Context, id string) (bool, error) {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		return false, err
	}
	return job.Cancelled, nil
}

// Cancel flags a job for cooperative cancellation.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		return err
	}
	job.Cancelled = true
	return q.saveJob(ctx, job)
}

// Complete marks a job finished and removes it from the active list.
func (q *Queue) Complete(ctx context.Context, id string) error {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		return err
	}
	job.State = StateCompleted
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.activeKey(), 1, id)
	pipe.Del(ctx, q.jobKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	_ = job
	return nil
}

// Skip marks a job skipped (cancelled-path terminal state, spec
// §4.5) without retrying.
func (q *Queue) Skip(ctx context.Context, id string) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.activeKey(), 1, id)
	pipe.Del(ctx, q.jobKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

// Fail records a failed attempt. If the job has attempts remaining it
// is re-delayed with full-jitter backoff; otherwise it moves to the
// failed bucket (exhausted) ready for DeadLetter.
func (q *Queue) Fail(ctx context.Context, id string, cause error) (retrying bool, err error) {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		return false, err
	}

	if job.Cancelled {
		return false, q.Skip(ctx, id)
	}

	if job.Attempt < job.MaxAttempts {
		delay := Backoff(q.base, q.maxBk, job.Attempt)
		notBefore := time.Now().Add(delay)
		job.State = StateDelayed
		job.NotBefore = notBefore
		if err := q.saveJob(ctx, job); err != nil {
			return false, err
		}
		pipe := q.rdb.TxPipeline()
		pipe.LRem(ctx, q.activeKey(), 1, id)
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(notBefore.UnixMilli()), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return false, fmt.Errorf("requeue %s: %w", id, err)
		}
		return true, nil
	}

	job.State = StateFailed
	if cause != nil {
		job.Payload = appendError(job.Payload, cause.Error())
	}
	if err := q.saveJob(ctx, job); err != nil {
		return false, err
	}
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.activeKey(), 1, id)
	pipe.LPush(ctx, q.failedKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("fail %s: %w", id, err)
	}
	return false, nil
}

// DeadLetter moves an exhausted job from failed into the dead-letter
// bucket for manual inspection; it is never automatically retried.
func (q *Queue) DeadLetter(ctx context.Context, id string) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.failedKey(), 1, id)
	pipe.LPush(ctx, q.deadKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

// Requeue puts an active job back onto waiting, preserving its
// attempt counter. Used by the reaper for stalled-heartbeat recovery
// (spec §4.5: "attempt counter preserved").
func (q *Queue) Requeue(ctx context.Context, id string) error {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		return err
	}
	job.State = StateWaiting
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.activeKey(), 1, id)
	pipe.LPush(ctx, q.waitingKey(), id)
	_, err = pipe.Exec(ctx)
	return err
}

// Delay re-queues a reserved job for retry after delay without
// counting it against the attempt budget — used when a worker backs
// off for a reason unrelated to processing failure (e.g. a per-line
// SyncLock held by another worker, spec §4.5/§5), as opposed to Fail
// which records a genuine processing attempt.
func (q *Queue) Delay(ctx context.Context, id string, delay time.Duration) error {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Attempt > 0 {
		job.Attempt--
	}
	notBefore := time.Now().Add(delay)
	job.State = StateDelayed
	job.NotBefore = notBefore
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.activeKey(), 1, id)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(notBefore.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delay %s: %w", id, err)
	}
	return nil
}

// ActiveIDs lists jobs currently reserved, for the reaper's stalled
// sweep.
func (q *Queue) ActiveIDs(ctx context.Context) ([]string, error) {
	return q.rdb.LRange(ctx, q.activeKey(), 0, -1).Result()
}

func (q *Queue) Load(ctx context.Context, id string) (*Job, error) {
	return q.loadJob(ctx, id)
}

func (q *Queue) loadJob(ctx context.Context, id string) (*Job, error) {
	raw, err := q.rdb.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	return q.rdb.Set(ctx, q.jobKey(job.ID), body, 0).Err()
}

func (q *Queue) setState(ctx context.Context, id string, s State) {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		return
	}
	job.State = s
	_ = q.saveJob(ctx, job)
}

// appendError stashes a failure message into the payload envelope
// without disturbing the caller's original payload shape; kept simple
// since payload is opaque JSON to this package.
func appendError(payload json.RawMessage, msg string) json.RawMessage {
	wrapped := struct {
		Original json.RawMessage `json:"original"`
		LastErr  string          `json:"lastError"`
	}{Original: payload, LastErr: msg}
	body, err := json.Marshal(wrapped)
	if err != nil {
		return payload
	}
	return body
}
