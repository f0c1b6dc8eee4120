package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/traveltek-sync/ingestiond/domain"
)

// CruiseUpsert bundles everything discovered from one normalized file
// that must land in a single transaction, in the lookups-first-
// sailing-last order of spec §4.7.
type CruiseUpsert struct {
	Line      domain.CruiseLine
	Ship      domain.Ship
	Ports     []domain.Port
	Regions   []domain.Region
	Cruise    domain.Cruise
	Itinerary []domain.ItineraryDay

	WebhookEventID string
}

// Batcher accumulates CruiseUpsert items the same way the teacher's
// analytics.Pipeline buffers events on a channel before a batched
// flush, sized for "buffer upserts, flush to Postgres" instead of
// "buffer analytics events, flush to ClickHouse".
type Batcher struct {
	ch       chan CruiseUpsert
	maxBatch int
}

// NewBatcher creates a batcher with the given max in-flight items and
// per-flush batch size (spec §4.7 default 100-500).
func NewBatcher(bufferSize, maxBatch int) *Batcher {
	return &Batcher{ch: make(chan CruiseUpsert, bufferSize), maxBatch: maxBatch}
}

// Add enqueues one item, blocking if the buffer is full (callers are
// expected to size the buffer generously; unlike request-path
// analytics events, a blocked worker here is acceptable backpressure
// rather than a dropped event).
func (b *Batcher) Add(item CruiseUpsert) {
	b.ch <- item
}

// Drain collects everything currently buffered without blocking,
// up to maxBatch items, for the caller to flush.
func (b *Batcher) Drain() []CruiseUpsert {
	batch := make([]CruiseUpsert, 0, b.maxBatch)
	for len(batch) < b.maxBatch {
		select {
		case item := <-b.ch:
			batch = append(batch, item)
		default:
			return batch
		}
	}
	return batch
}

// FlushCruiseBatch commits a batch of upserts in a single transaction.
// On failure it retries once; persistent failure splits the batch in
// half and recurses, surfacing the offending record when a
// single-item batch still fails (spec §4.7 "Batching").
func (s *Store) FlushCruiseBatch(ctx context.Context, items []CruiseUpsert) ([]domain.PriceSnapshot, error) {
	if len(items) == 0 {
		return nil, nil
	}

	snapshots, err := s.tryFlush(ctx, items)
	if err == nil {
		return snapshots, nil
	}

	s.logger.Warn().Err(err).Int("batch_size", len(items)).Msg("cruise batch flush failed, retrying once")
	snapshots, err = s.tryFlush(ctx, items)
	if err == nil {
		return snapshots, nil
	}

	if len(items) == 1 {
		return nil, fmt.Errorf("persistent failure on single record (code_to_cruise_id=%d): %w", items[0].Cruise.CodeToCruiseID, err)
	}

	s.logger.Error().Err(err).Int("batch_size", len(items)).Msg("cruise batch persistent failure, splitting")
	mid := len(items) / 2
	leftSnaps, leftErr := s.FlushCruiseBatch(ctx, items[:mid])
	rightSnaps, rightErr := s.FlushCruiseBatch(ctx, items[mid:])
	all := append(leftSnaps, rightSnaps...)
	if leftErr != nil {
		return all, leftErr
	}
	return all, rightErr
}

func (s *Store) tryFlush(ctx context.Context, items []CruiseUpsert) ([]domain.PriceSnapshot, error) {
	var snapshots []domain.PriceSnapshot

	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		for _, item := range items {
			if err := s.UpsertCruiseLine(ctx, tx, item.Line); err != nil {
				return err
			}
			if err := s.UpsertShip(ctx, tx, item.Ship); err != nil {
				return err
			}
			for _, p := range item.Ports {
				if err := s.UpsertPort(ctx, tx, p); err != nil {
					return err
				}
			}
			for _, r := range item.Regions {
				if err := s.UpsertRegion(ctx, tx, r); err != nil {
					return err
				}
			}

			oldPrices, changed, err := s.UpsertCruise(ctx, tx, item.Cruise)
			if err != nil {
				return err
			}
			if err := s.ReplaceItinerary(ctx, tx, item.Cruise.CodeToCruiseID, item.Itinerary); err != nil {
				return err
			}
			if err := s.SeedCheapestPricing(ctx, tx, domain.CheapestPricing{
				CodeToCruiseID: item.Cruise.CodeToCruiseID,
				Prices:         item.Cruise.Prices,
				UpdatedAt:      time.Now().UTC(),
			}); err != nil {
				return err
			}

			if changed {
				snap := domain.PriceSnapshot{
					CodeToCruiseID: item.Cruise.CodeToCruiseID,
					CreatedAt:      time.Now().UTC(),
					OldPrices:      oldPrices,
					NewPrices:      item.Cruise.Prices,
					WebhookEventID: item.WebhookEventID,
				}
				if err := s.InsertPriceSnapshot(ctx, tx, snap); err != nil {
					return err
				}
				snapshots = append(snapshots, snap)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}
