// Package reaper runs the periodic sweeps of spec §4.9: stalled jobs
// back to waiting, stuck webhook events to failed, expired sync locks
// released, plus the C13 deferred-update drain. Scheduling follows the
// pack's cron library (robfig/cron/v3) rather than the teacher's
// ticker-based HealthPoller, since these are independent fixed-rate
// sweeps rather than one continuous poll loop.
package reaper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/traveltek-sync/ingestiond/discovery"
	"github.com/traveltek-sync/ingestiond/domain"
	"github.com/traveltek-sync/ingestiond/observability"
	"github.com/traveltek-sync/ingestiond/persistence"
	"github.com/traveltek-sync/ingestiond/queue"
	"github.com/traveltek-sync/ingestiond/sysflags"
	"github.com/traveltek-sync/ingestiond/worker"
)

// Config tunes sweep thresholds. New replaces the whole Config with
// DefaultConfig when Interval is zero or negative; otherwise every
// field, including zero ones, is used as given.
type Config struct {
	Interval           time.Duration
	StalledJobTTL      time.Duration
	WebhookStuckTTL    time.Duration
	SyncLockTTL        time.Duration
	BatchSyncDrainRate int
}

// DefaultConfig matches spec §4.9/§4.7 defaults.
func DefaultConfig() Config {
	return Config{
		Interval:           60 * time.Second,
		StalledJobTTL:      60 * time.Second,
		WebhookStuckTTL:    time.Hour,
		SyncLockTTL:        2 * time.Hour,
		BatchSyncDrainRate: 200,
	}
}

// Reaper owns the cron schedule and sweep implementations. Each sweep
// is independently callable (and independently testable) outside the
// schedule.
type Reaper struct {
	cfg       Config
	store     *persistence.Store
	queues    []*queue.Queue
	lineQueue *queue.Queue
	flags     *sysflags.Flags
	metrics   *observability.Metrics
	slack     *observability.SlackNotifier
	logger    zerolog.Logger

	cron *cron.Cron
}

// New creates a Reaper watching the given queues (one per named queue,
// e.g. webhook-intake and cruise-line-processing) for stalled jobs.
// lineQueue is where the batch-sync drain re-enqueues deferred sailings
// (spec §4.7 C13); it is normally the same queue.Queue used for
// queue.NameCruiseLineProcessing.
func New(cfg Config, store *persistence.Store, queues []*queue.Queue, lineQueue *queue.Queue, flags *sysflags.Flags, metrics *observability.Metrics, slack *observability.SlackNotifier, logger zerolog.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg = DefaultConfig()
	}
	return &Reaper{
		cfg:       cfg,
		store:     store,
		queues:    queues,
		lineQueue: lineQueue,
		flags:     flags,
		metrics:   metrics,
		slack:     slack,
		logger:    logger.With().Str("component", "reaper").Logger(),
		cron:      cron.New(),
	}
}

// Start schedules every sweep at Config.Interval and the batch-sync
// drain, then starts the cron scheduler's own goroutine.
func (r *Reaper) Start() error {
	spec := "@every " + r.cfg.Interval.String()
	if _, err := r.cron.AddFunc(spec, r.runSweeps); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info().Dur("interval", r.cfg.Interval).Msg("reaper scheduled")
	return nil
}

// Stop cancels the cron scheduler, waiting for any in-flight run.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info().Msg("reaper stopped")
}

func (r *Reaper) runSweeps() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Interval)
	defer cancel()

	for _, q := range r.queues {
		if n, err := r.SweepStalledJobs(ctx, q); err != nil {
			r.logger.Error().Err(err).Str("queue", q.Name()).Msg("stalled-job sweep failed")
		} else if n > 0 {
			r.logger.Info().Str("queue", q.Name()).Int("count", n).Msg("requeued stalled jobs")
		}
	}

	if n, err := r.SweepStuckWebhookEvents(ctx); err != nil {
		r.logger.Error().Err(err).Msg("stuck-webhook-event sweep failed")
	} else if n > 0 {
		r.logger.Info().Int("count", n).Msg("failed stuck webhook events")
	}

	if n, err := r.SweepExpiredSyncLocks(ctx); err != nil {
		r.logger.Error().Err(err).Msg("expired-synclock sweep failed")
	} else if n > 0 {
		r.logger.Info().Int("count", n).Msg("released expired sync locks")
	}

	if n, err := r.DrainBatchSync(ctx); err != nil {
		r.logger.Error().Err(err).Msg("batch-sync drain failed")
	} else if n > 0 {
		r.logger.Info().Int("count", n).Msg("drained batch-sync marks")
	}
}

// SweepStalledJobs moves active jobs whose heartbeat is older than
// Config.StalledJobTTL back to waiting, attempt count unchanged (spec
// §4.9: "Move active jobs with no heartbeat for > stalledMs back to
// waiting, attempt unchanged").
func (r *Reaper) SweepStalledJobs(ctx context.Context, q *queue.Queue) (int, error) {
	ids, err := q.ActiveIDs(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	cutoff := time.Now().Add(-r.cfg.StalledJobTTL)
	for _, id := range ids {
		job, err := q.Load(ctx, id)
		if err != nil {
			continue
		}
		if job.HeartbeatAt.After(cutoff) {
			continue
		}
		if err := q.Requeue(ctx, id); err != nil {
			r.logger.Error().Err(err).Str("job", id).Msg("requeue stalled job failed")
			continue
		}
		count++
	}
	if count > 0 {
		r.notifyReaperAction("stalled_jobs", count)
	}
	return count, nil
}

// SweepStuckWebhookEvents marks WebhookEvents stuck in processing for
// longer than Config.WebhookStuckTTL as failed with reason "stalled"
// (spec §4.9).
func (r *Reaper) SweepStuckWebhookEvents(ctx context.Context) (int, error) {
	stuck, err := r.store.StuckWebhookEvents(ctx, r.cfg.WebhookStuckTTL)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, ev := range stuck {
		if err := r.store.UpdateWebhookEventStatus(ctx, ev.ID, domain.WebhookStatusFailed, "stalled"); err != nil {
			r.logger.Error().Err(err).Str("webhookEventId", ev.ID).Msg("mark stuck event failed")
			continue
		}
		count++
	}
	if count > 0 {
		r.notifyReaperAction("stuck_webhook_events", count)
	}
	return count, nil
}

// SweepExpiredSyncLocks force-releases sync locks older than
// Config.SyncLockTTL (spec §4.9: "Release SyncLocks older than
// lockTtlMs with status released").
func (r *Reaper) SweepExpiredSyncLocks(ctx context.Context) (int, error) {
	expired, err := r.store.ExpiredSyncLocks(ctx, r.cfg.SyncLockTTL)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, lock := range expired {
		if err := r.store.ForceReleaseSyncLock(ctx, lock.LineID); err != nil {
			r.logger.Error().Err(err).Int("lineId", lock.LineID).Msg("force-release expired lock failed")
			continue
		}
		count++
	}
	if count > 0 {
		r.notifyReaperAction("expired_sync_locks", count)
	}
	if count > 0 && r.metrics != nil {
		r.metrics.SyncLocksHeld.Sub(float64(count))
	}
	return count, nil
}

// DrainBatchSync pulls up to Config.BatchSyncDrainRate sailings
// flagged needsPriceUpdate, groups them by line, and re-enqueues one
// cruise-line-processing job per line — the same queue and payload
// shape webhook-intake uses, just without a triggering webhook id.
// needs_price_update clears itself when UpsertCruise next runs for
// that sailing. A no-op while SystemFlag batch_sync_paused is true
// (spec §4.7 C13, §4.8).
func (r *Reaper) DrainBatchSync(ctx context.Context) (int, error) {
	if r.flags != nil && r.flags.BatchSyncPaused(ctx) {
		return 0, nil
	}
	if r.lineQueue == nil {
		return 0, nil
	}

	refs, err := r.store.PendingPriceUpdateRefs(ctx, r.cfg.BatchSyncDrainRate)
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, nil
	}

	byLine := map[int][]discovery.FileRef{}
	for _, c := range refs {
		byLine[c.LineID] = append(byLine[c.LineID], discovery.FileRef{
			Path:           fmt.Sprintf("/%04d/%02d/%d/%d/%d.json", c.SailDate.Year(), int(c.SailDate.Month()), c.LineID, c.ShipID, c.CodeToCruiseID),
			Year:           c.SailDate.Year(),
			Month:          int(c.SailDate.Month()),
			LineID:         c.LineID,
			ShipID:         c.ShipID,
			CodeToCruiseID: c.CodeToCruiseID,
		})
	}

	for lineID, files := range byLine {
		body, err := json.Marshal(worker.CruiseLinePayload{LineID: lineID, Files: files})
		if err != nil {
			r.logger.Error().Err(err).Int("lineId", lineID).Msg("encode batch-sync payload failed")
			continue
		}
		if _, err := r.lineQueue.Enqueue(ctx, body, queue.CruiseLineProcessingMaxAttempts, time.Now()); err != nil {
			r.logger.Error().Err(err).Int("lineId", lineID).Msg("enqueue batch-sync job failed")
		}
	}

	r.notifyReaperAction("batch_sync_drain", len(refs))
	return len(refs), nil
}

func (r *Reaper) notifyReaperAction(sweep string, count int) {
	if r.metrics != nil {
		r.metrics.ReaperActions.WithLabelValues(sweep).Add(float64(count))
	}
	if r.slack != nil {
		r.slack.NotifyReaperAction(sweep, count)
	}
}
