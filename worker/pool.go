// Package worker runs the per-queue goroutine pools of spec §4.5/§5:
// each worker blocks on Reserve, heartbeats while processing, and
// resolves the job to Complete/Fail. The shape is the teacher's
// HealthPoller.Start/Stop/pollLoop generalized from "poll on a ticker"
// to "block on a queue reserve", with the same ctx.Done()-checked
// cooperative shutdown.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/traveltek-sync/ingestiond/observability"
	"github.com/traveltek-sync/ingestiond/queue"
)

// ErrHandled tells Pool that the handler already transitioned the
// job's state itself (e.g. via queue.Delay on SyncLock contention) and
// the pool must not also call Complete/Fail.
var ErrHandled = errors.New("worker: job already transitioned by handler")

// Handler processes one reserved job. Returning nil completes it;
// returning an error (other than ErrHandled) fails the attempt,
// retrying with backoff until the queue's MaxAttempts is exhausted.
type Handler func(ctx context.Context, job *queue.Job) error

// Config tunes one Pool.
type Config struct {
	Concurrency      int
	ReserveTimeout   time.Duration
	JobTimeout       time.Duration
	HeartbeatEvery   time.Duration
}

// DefaultConfig matches spec §5: jobTimeoutMs default 10m, heartbeat
// every 10s.
func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		ReserveTimeout: 5 * time.Second,
		JobTimeout:     10 * time.Minute,
		HeartbeatEvery: queue.DefaultHeartbeatInterval,
	}
}

// Pool runs Config.Concurrency goroutines against one named queue,
// each looping Reserve -> dispatch -> heartbeat -> Complete/Fail.
type Pool struct {
	q       *queue.Queue
	handler Handler
	cfg     Config
	logger  zerolog.Logger
	metrics *observability.Metrics
	slack   *observability.SlackNotifier

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pool bound to one queue and handler. metrics/slack may
// be nil (tests construct pools without either).
func New(q *queue.Queue, handler Handler, cfg Config, logger zerolog.Logger, metrics *observability.Metrics, slack *observability.SlackNotifier) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ReserveTimeout <= 0 {
		cfg.ReserveTimeout = 5 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = queue.DefaultHeartbeatInterval
	}
	return &Pool{
		q:       q,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With().Str("component", "worker").Str("queue", q.Name()).Logger(),
		metrics: metrics,
		slack:   slack,
	}
}

// Start spawns Config.Concurrency worker goroutines. Call Stop to shut
// them down gracefully.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info().Int("concurrency", p.cfg.Concurrency).Msg("starting worker pool")

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
}

// Stop cancels every worker goroutine and waits for in-flight jobs to
// finish (bounded by each job's own JobTimeout).
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info().Msg("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.q.Reserve(ctx, p.cfg.ReserveTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error().Err(err).Int("worker", workerID).Msg("reserve failed")
			time.Sleep(time.Second)
			continue
		}

		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job *queue.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	stop := make(chan struct{})
	go p.heartbeatLoop(jobCtx, job.ID, stop)
	defer close(stop)

	start := time.Now()
	err := p.handler(jobCtx, job)
	if p.metrics != nil {
		p.metrics.JobDuration.WithLabelValues(p.q.Name()).Observe(time.Since(start).Seconds())
	}

	if errors.Is(err, ErrHandled) {
		return
	}

	if err == nil {
		if cerr := p.q.Complete(ctx, job.ID); cerr != nil {
			p.logger.Error().Err(cerr).Str("job", job.ID).Msg("complete failed")
		}
		if p.metrics != nil {
			p.metrics.JobsCompleted.WithLabelValues(p.q.Name()).Inc()
		}
		return
	}

	retrying, ferr := p.q.Fail(ctx, job.ID, err)
	if ferr != nil {
		p.logger.Error().Err(ferr).Str("job", job.ID).Msg("fail transition failed")
		return
	}

	outcome := "retrying"
	if !retrying {
		outcome = "exhausted"
	}
	p.logger.Warn().Err(err).Str("job", job.ID).Str("outcome", outcome).Msg("job attempt failed")
	if p.metrics != nil {
		p.metrics.JobsFailed.WithLabelValues(p.q.Name(), outcome).Inc()
	}
	if !retrying {
		if p.metrics != nil {
			p.metrics.JobsDeadLettered.WithLabelValues(p.q.Name()).Inc()
		}
		if p.slack != nil {
			p.slack.NotifyJobExhausted(p.q.Name(), job.ID, job.Attempt, err)
		}
		if derr := p.q.DeadLetter(ctx, job.ID); derr != nil {
			p.logger.Error().Err(derr).Str("job", job.ID).Msg("dead-letter move failed")
		}
	}
}

func (p *Pool) heartbeatLoop(ctx context.Context, jobID string, stop <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.HeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.q.Heartbeat(context.Background(), jobID); err != nil {
				p.logger.Warn().Err(err).Str("job", jobID).Msg("heartbeat failed")
			}
		}
	}
}
