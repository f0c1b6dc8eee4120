package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/traveltek-sync/ingestiond/discovery"
	"github.com/traveltek-sync/ingestiond/domain"
	"github.com/traveltek-sync/ingestiond/ftppool"
	"github.com/traveltek-sync/ingestiond/normalize"
	"github.com/traveltek-sync/ingestiond/observability"
	"github.com/traveltek-sync/ingestiond/persistence"
	"github.com/traveltek-sync/ingestiond/queue"
	"github.com/traveltek-sync/ingestiond/sysflags"
)

// WebhookIntakePayload is carried by jobs on queue.NameWebhookIntake.
type WebhookIntakePayload struct {
	WebhookEventID string `json:"webhookEventId"`
	LineID         int    `json:"lineId"`
	EventType      string `json:"eventType"`
}

// CruiseLinePayload is carried by jobs on queue.NameCruiseLineProcessing.
// Files is the batch the intake worker already discovered — the
// processing worker does not re-walk the FTP tree.
type CruiseLinePayload struct {
	LineID         int                  `json:"lineId"`
	WebhookEventID string               `json:"webhookEventId"`
	Files          []discovery.FileRef  `json:"files"`
}

// Handlers wires the domain components together into the two queue
// handlers named by spec §4.5/§4.6. One Handlers instance is shared by
// both pools; it owns no goroutines itself.
type Handlers struct {
	store       *persistence.Store
	ftp         *ftppool.Pool
	discoverer  *discovery.Discoverer
	flags       *sysflags.Flags
	lineQueue   *queue.Queue
	metrics     *observability.Metrics
	slack       *observability.SlackNotifier
	logger      zerolog.Logger

	windowMonths int
	batchSize    int
	owner        string
}

// NewHandlers constructs the handler set. windowMonths sets the
// Discovery window; batchSize is how many mapped files
// CruiseLineProcessing accumulates before each FlushCruiseBatch call.
func NewHandlers(
	store *persistence.Store,
	ftp *ftppool.Pool,
	discoverer *discovery.Discoverer,
	flags *sysflags.Flags,
	lineQueue *queue.Queue,
	metrics *observability.Metrics,
	slack *observability.SlackNotifier,
	logger zerolog.Logger,
	windowMonths int,
	batchSize int,
) *Handlers {
	owner, err := os.Hostname()
	if err != nil || owner == "" {
		owner = fmt.Sprintf("worker-%d", os.Getpid())
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Handlers{
		store:        store,
		ftp:          ftp,
		discoverer:   discoverer,
		flags:        flags,
		lineQueue:    lineQueue,
		metrics:      metrics,
		slack:        slack,
		logger:       logger.With().Str("component", "worker-handlers").Logger(),
		windowMonths: windowMonths,
		batchSize:    batchSize,
		owner:        owner,
	}
}

// WebhookIntake materializes the per-line batch for one admitted
// webhook event (spec §4.6 step 5): discover the files it implies,
// either mark the affected sailings for deferred batch-sync (C13) when
// the line is too large to process inline, or enqueue a
// cruise-line-processing job carrying the discovered files.
func (h *Handlers) WebhookIntake(ctx context.Context, job *queue.Job) error {
	var payload WebhookIntakePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("webhook-intake: decode payload: %w", err)
	}

	if err := h.store.UpdateWebhookEventStatus(ctx, payload.WebhookEventID, domain.WebhookStatusProcessing, ""); err != nil {
		h.logger.Warn().Err(err).Str("webhookEventId", payload.WebhookEventID).Msg("could not mark event processing")
	}

	windowStart, windowEnd := discovery.DefaultWindow(h.windowMonths)
	result, err := h.discoverer.Discover(ctx, payload.LineID, windowStart, windowEnd)
	if err != nil {
		h.markFailed(ctx, payload.WebhookEventID, err)
		return fmt.Errorf("webhook-intake: discover line %d: %w", payload.LineID, err)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if result.Deferred {
		ids := make([]int, 0, len(result.Files))
		for _, f := range result.Files {
			ids = append(ids, f.CodeToCruiseID)
		}
		if err := h.store.MarkNeedsPriceUpdate(ctx, ids); err != nil {
			h.markFailed(ctx, payload.WebhookEventID, err)
			return fmt.Errorf("webhook-intake: mark deferred: %w", err)
		}
		h.logger.Info().Int("lineId", payload.LineID).Int("files", len(ids)).Msg("line deferred to batch-sync")
		return h.markCompleted(ctx, payload.WebhookEventID)
	}

	files := result.Files
	if cap := h.flags.MaxCruisesPerWebhook(ctx, 500); cap > 0 && len(files) > cap {
		h.logger.Warn().Int("lineId", payload.LineID).Int("files", len(files)).Int("cap", cap).
			Msg("batch exceeds max_cruises_per_webhook, truncating")
		files = files[:cap]
	}

	linePayload, err := json.Marshal(CruiseLinePayload{
		LineID:         payload.LineID,
		WebhookEventID: payload.WebhookEventID,
		Files:          files,
	})
	if err != nil {
		return fmt.Errorf("webhook-intake: encode line payload: %w", err)
	}

	if _, err := h.lineQueue.Enqueue(ctx, linePayload, queue.CruiseLineProcessingMaxAttempts, time.Now()); err != nil {
		h.markFailed(ctx, payload.WebhookEventID, err)
		return fmt.Errorf("webhook-intake: enqueue line job: %w", err)
	}
	if h.metrics != nil {
		h.metrics.JobsEnqueued.WithLabelValues(queue.NameCruiseLineProcessing).Inc()
	}

	// The event stays in processing; CruiseLineProcessing marks it
	// completed once the line's files are persisted.
	return nil
}

// CruiseLineProcessing downloads, normalizes, prices and persists one
// line's discovered files under the exclusivity of its SyncLock (spec
// §4.5 "strict webhook-arrival order via SyncLock"). Lock contention is
// not a processing failure: the job is delayed with queue.RelockBackoff
// and the attempt budget is left untouched (queue.Delay).
func (h *Handlers) CruiseLineProcessing(ctx context.Context, job *queue.Job) error {
	var payload CruiseLinePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("cruise-line-processing: decode payload: %w", err)
	}

	if err := h.store.AcquireSyncLock(ctx, payload.LineID, h.owner); err != nil {
		if errors.Is(err, persistence.ErrLockHeld) {
			if derr := h.lineQueue.Delay(ctx, job.ID, queue.RelockBackoff); derr != nil {
				return fmt.Errorf("cruise-line-processing: relock delay: %w", derr)
			}
			return ErrHandled
		}
		return fmt.Errorf("cruise-line-processing: acquire sync lock: %w", err)
	}
	defer func() {
		if err := h.store.ReleaseSyncLock(context.Background(), payload.LineID, h.owner); err != nil {
			h.logger.Error().Err(err).Int("lineId", payload.LineID).Msg("release sync lock failed")
		}
	}()

	processed := 0
	var pending []persistence.CruiseUpsert

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		snapshots, err := h.store.FlushCruiseBatch(ctx, pending)
		if err != nil {
			return err
		}
		if h.metrics != nil {
			h.metrics.PriceSnapshots.Add(float64(len(snapshots)))
		}
		processed += len(pending)
		pending = pending[:0]
		return nil
	}

	for _, ref := range payload.Files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if cancelled, err := h.lineQueue.IsCancelled(ctx, job.ID); err == nil && cancelled {
			if serr := h.lineQueue.Skip(ctx, job.ID); serr != nil {
				return fmt.Errorf("cruise-line-processing: skip cancelled job: %w", serr)
			}
			return ErrHandled
		}
		if h.flags.WebhooksPaused(ctx) {
			// operator paused intake mid-flight; finish the
			// in-memory batch but stop pulling more files.
			break
		}

		var body []byte
		err := h.ftp.WithSession(ctx, func(s *ftppool.Session) error {
			var dlErr error
			body, dlErr = s.Download(ref.Path)
			return dlErr
		})
		if err != nil {
			if errors.Is(err, ftppool.ErrFTPUnavailable) {
				// Circuit open: every remaining file would fail the
				// same way. Flush what's already accumulated, fail
				// the whole job fast and delay it — the webhook event
				// must not reach a terminal state (spec §7).
				if ferr := flush(); ferr != nil {
					return fmt.Errorf("cruise-line-processing: flush before ftp backoff: %w", ferr)
				}
				if derr := h.lineQueue.Delay(ctx, job.ID, queue.FTPUnavailableBackoff); derr != nil {
					return fmt.Errorf("cruise-line-processing: ftp backoff delay: %w", derr)
				}
				h.logger.Warn().Int("lineId", payload.LineID).Msg("ftp circuit open, delaying job")
				return ErrHandled
			}
			h.logger.Warn().Err(err).Str("path", ref.Path).Msg("download failed, skipping file")
			continue
		}

		rec, err := normalize.Normalize(body)
		if err != nil {
			if h.metrics != nil {
				h.metrics.FilesNormalizeFail.Inc()
			}
			h.logger.Warn().Err(err).Str("path", ref.Path).Msg("normalize failed, skipping file")
			continue
		}

		upsert, err := toCruiseUpsert(rec, ref, payload.WebhookEventID)
		if err != nil {
			h.logger.Warn().Err(err).Str("path", ref.Path).Msg("mapping failed, skipping file")
			continue
		}
		pending = append(pending, upsert)

		if len(pending) >= h.batchSize {
			if err := flush(); err != nil {
				return fmt.Errorf("cruise-line-processing: flush batch: %w", err)
			}
		}
	}

	if err := flush(); err != nil {
		return fmt.Errorf("cruise-line-processing: final flush: %w", err)
	}

	h.logger.Info().Int("lineId", payload.LineID).Int("processed", processed).Msg("cruise-line-processing complete")
	return h.markCompleted(ctx, payload.WebhookEventID)
}

func (h *Handlers) markCompleted(ctx context.Context, webhookEventID string) error {
	if webhookEventID == "" {
		return nil
	}
	return h.store.UpdateWebhookEventStatus(ctx, webhookEventID, domain.WebhookStatusCompleted, "")
}

func (h *Handlers) markFailed(ctx context.Context, webhookEventID string, cause error) {
	if webhookEventID == "" || cause == nil {
		return
	}
	if err := h.store.UpdateWebhookEventStatus(ctx, webhookEventID, domain.WebhookStatusFailed, cause.Error()); err != nil {
		h.logger.Error().Err(err).Str("webhookEventId", webhookEventID).Msg("could not mark event failed")
	}
}
