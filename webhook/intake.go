// Package webhook implements the admission handler for Traveltek's
// pricing-update callbacks: validate the body, respect the operator
// pause flag, deduplicate within a rolling window, record an intake
// ledger entry, and enqueue a webhook-intake job. Nothing here touches
// FTP, normalization, or persistence directly — that is the worker's
// job once the event is admitted.
package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/traveltek-sync/ingestiond/domain"
	"github.com/traveltek-sync/ingestiond/queue"
	"github.com/traveltek-sync/ingestiond/sysflags"
	"github.com/traveltek-sync/ingestiond/worker"
)

// Store is the subset of persistence.Store this package depends on,
// narrowed the same way sysflags.Store is so the admission algorithm's
// dedup/skip-path decisions can be unit tested without a database.
type Store interface {
	RecentWebhookEvent(ctx context.Context, lineID int, eventType string, since time.Time) (found bool, err error)
	InsertWebhookEvent(ctx context.Context, ev domain.WebhookEvent) error
}

var recognizedEvents = map[string]bool{
	"cruiseline_pricing_updated":   true,
	"cruises_live_pricing_updated": true,
}

// intakeRequest is the Traveltek callback body.
type intakeRequest struct {
	Event       string `json:"event"`
	LineID      int    `json:"lineid"`
	MarketID    int    `json:"marketid,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Description string `json:"description,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// intakeResponse is always returned, whether the event was admitted or
// deduplicated/skipped — the caller only needs to know intake accepted
// the callback, never whether processing already finished.
type intakeResponse struct {
	EventID string `json:"eventId"`
}

// Handler owns the admission algorithm of spec §4.6.
type Handler struct {
	store  Store
	flags  *sysflags.Flags
	queue  *queue.Queue
	logger zerolog.Logger
}

// NewHandler constructs the webhook intake handler. queue is the
// webhook-intake queue (queue.NameWebhookIntake).
func NewHandler(store Store, flags *sysflags.Flags, q *queue.Queue, logger zerolog.Logger) *Handler {
	return &Handler{
		store:  store,
		flags:  flags,
		queue:  q,
		logger: logger.With().Str("component", "webhook-intake").Logger(),
	}
}

// CruiselinePricingUpdated handles POST
// /api/webhooks/traveltek/cruiseline-pricing-updated.
func (h *Handler) CruiselinePricingUpdated(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req intakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "could not parse request body: "+err.Error())
		return
	}
	if req.LineID <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "lineid is required")
		return
	}
	if !recognizedEvents[req.Event] {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "unrecognized event type: "+req.Event)
		return
	}

	// The dedup key is keyed on when WE received the call, not the
	// vendor's own `timestamp` field (spec §4.6 step 3), so two
	// distinct deliveries of the same stale payload still dedup
	// correctly against wall-clock arrival time.
	receivedAt := time.Now().UTC()

	if h.flags.WebhooksPaused(ctx) {
		id := uuid.NewString()
		h.insertLedgerEntry(ctx, id, req, receivedAt, domain.WebhookStatusSkipped)
		h.logger.Info().Int("lineId", req.LineID).Str("event", req.Event).Msg("webhook skipped: intake paused")
		writeJSON(w, http.StatusAccepted, intakeResponse{EventID: id})
		return
	}

	dedupWindow := h.flags.DedupWindowSeconds(ctx, 300)
	windowStart := receivedAt.Add(-time.Duration(dedupWindow) * time.Second)
	duplicate, err := h.store.RecentWebhookEvent(ctx, req.LineID, req.Event, windowStart)
	if err != nil {
		h.logger.Error().Err(err).Msg("dedup lookup failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "dedup lookup failed")
		return
	}
	if duplicate {
		id := uuid.NewString()
		h.insertLedgerEntry(ctx, id, req, receivedAt, domain.WebhookStatusSkipped)
		h.logger.Info().Int("lineId", req.LineID).Str("event", req.Event).Msg("webhook skipped: duplicate within dedup window")
		writeJSON(w, http.StatusAccepted, intakeResponse{EventID: id})
		return
	}

	id := uuid.NewString()
	payload, err := json.Marshal(req)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "could not encode ledger payload")
		return
	}
	ev := domain.WebhookEvent{
		ID:        id,
		LineID:    req.LineID,
		EventType: req.Event,
		Payload:   payload,
		Status:    domain.WebhookStatusPending,
	}
	if err := h.store.InsertWebhookEvent(ctx, ev); err != nil {
		h.logger.Error().Err(err).Msg("insert webhook event failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "could not record webhook event")
		return
	}

	jobPayload, err := json.Marshal(worker.WebhookIntakePayload{
		WebhookEventID: id,
		LineID:         req.LineID,
		EventType:      req.Event,
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "could not encode job payload")
		return
	}
	if _, err := h.queue.Enqueue(ctx, jobPayload, queue.WebhookIntakeMaxAttempts, time.Now()); err != nil {
		h.logger.Error().Err(err).Str("webhookEventId", id).Msg("enqueue webhook-intake job failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "could not enqueue intake job")
		return
	}

	writeJSON(w, http.StatusAccepted, intakeResponse{EventID: id})
}

// insertLedgerEntry records a webhook-events row for an admitted
// request that will not be processed (paused or deduplicated). Best
// effort: a ledger write failure here must not turn an otherwise-valid
// 202 into a 500, so it only logs.
func (h *Handler) insertLedgerEntry(ctx context.Context, id string, req intakeRequest, receivedAt time.Time, status domain.WebhookEventStatus) {
	payload, err := json.Marshal(req)
	if err != nil {
		h.logger.Error().Err(err).Msg("encode skipped-event payload failed")
		return
	}
	ev := domain.WebhookEvent{
		ID:        id,
		LineID:    req.LineID,
		EventType: req.Event,
		Payload:   payload,
		Status:    status,
	}
	if err := h.store.InsertWebhookEvent(ctx, ev); err != nil {
		h.logger.Error().Err(err).Str("webhookEventId", id).Msg("insert skipped webhook event failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	})
}
