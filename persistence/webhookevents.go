package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/traveltek-sync/ingestiond/domain"
)

// InsertWebhookEvent writes the intake ledger entry (spec §4.6 step 4).
func (s *Store) InsertWebhookEvent(ctx context.Context, ev domain.WebhookEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_events (id, line_id, event_type, payload, received_at, status, retry_count)
		VALUES ($1, $2, $3, $4, now(), $5, 0)
	`, ev.ID, ev.LineID, ev.EventType, ev.Payload, ev.Status)
	if err != nil {
		return fmt.Errorf("insert webhook event %s: %w", ev.ID, err)
	}
	return nil
}

// RecentWebhookEvent looks up an existing non-failed event for a line
// within the dedup window, for the dedup-key admission check (spec
// §4.6). A previously failed delivery does not count as a duplicate, so
// a retried delivery arriving within the window is admitted rather than
// recorded as skipped. Returns found=false if none exists.
func (s *Store) RecentWebhookEvent(ctx context.Context, lineID int, eventType string, since time.Time) (found bool, err error) {
	row := s.pool.QueryRow(ctx, `
		SELECT 1 FROM webhook_events
		WHERE line_id = $1 AND event_type = $2 AND received_at >= $3 AND status != 'failed'
		LIMIT 1
	`, lineID, eventType, since)
	var dummy int
	if err := row.Scan(&dummy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check dedup for line %d: %w", lineID, err)
	}
	return true, nil
}

// UpdateWebhookEventStatus transitions a webhook event's status
// (spec §4.8 lifecycle), recording an error message on failure and
// stamping processedAt on any terminal state.
func (s *Store) UpdateWebhookEventStatus(ctx context.Context, id string, status domain.WebhookEventStatus, errMsg string) error {
	terminal := status == domain.WebhookStatusCompleted || status == domain.WebhookStatusFailed || status == domain.WebhookStatusSkipped
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_events SET
			status = $2,
			error_message = $3,
			processed_at = CASE WHEN $4 THEN now() ELSE processed_at END
		WHERE id = $1
	`, id, status, errMsg, terminal)
	if err != nil {
		return fmt.Errorf("update webhook event %s status: %w", id, err)
	}
	return nil
}

// RetryWebhookEvent resets a failed event to pending and bumps its
// retry counter (spec §4.8: "failed may be retried administratively").
func (s *Store) RetryWebhookEvent(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_events SET
			status = 'pending',
			retry_count = retry_count + 1,
			processed_at = NULL,
			error_message = ''
		WHERE id = $1 AND status = 'failed'
	`, id)
	if err != nil {
		return fmt.Errorf("retry webhook event %s: %w", id, err)
	}
	return nil
}

// StuckWebhookEvents returns events still `processing` after ttl, for
// the reaper's stuck-webhook sweep (spec §4.9).
func (s *Store) StuckWebhookEvents(ctx context.Context, ttl time.Duration) ([]domain.WebhookEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, line_id, event_type, payload, received_at, status, processed_at, error_message, retry_count
		FROM webhook_events
		WHERE status = 'processing' AND received_at < $1
	`, time.Now().Add(-ttl))
	if err != nil {
		return nil, fmt.Errorf("query stuck webhook events: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookEvent
	for rows.Next() {
		var ev domain.WebhookEvent
		if err := rows.Scan(&ev.ID, &ev.LineID, &ev.EventType, &ev.Payload, &ev.ReceivedAt, &ev.Status, &ev.ProcessedAt, &ev.ErrorMessage, &ev.RetryCount); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PendingSyncs lists pending/processing webhook events, for the admin
// introspection endpoint (SPEC_FULL.md §4 supplemented feature).
func (s *Store) PendingSyncs(ctx context.Context, limit int) ([]domain.WebhookEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, line_id, event_type, payload, received_at, status, processed_at, error_message, retry_count
		FROM webhook_events
		WHERE status IN ('pending', 'processing')
		ORDER BY received_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending syncs: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookEvent
	for rows.Next() {
		var ev domain.WebhookEvent
		if err := rows.Scan(&ev.ID, &ev.LineID, &ev.EventType, &ev.Payload, &ev.ReceivedAt, &ev.Status, &ev.ProcessedAt, &ev.ErrorMessage, &ev.RetryCount); err != nil {
			return nil, fmt.Errorf("scan pending sync: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
