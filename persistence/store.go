// Package persistence is the pgx-backed storage layer for spec §4.7:
// per-entity upserts ordered lookups-first-sailing-last, change
// detection against an epsilon for price snapshots, and a batching
// accumulator adapted from the teacher's analytics ingestion pipeline.
package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/traveltek-sync/ingestiond/domain"
)

// Epsilon is the minimum category-price delta that counts as a real
// change for PriceSnapshot emission (spec §4.7, default $0.01).
const Epsilon = 0.01

// Store wraps a pgxpool.Pool with the upsert methods the worker and
// webhook packages need.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New connects a pgxpool.Pool to databaseURL, capped at maxConns.
func New(ctx context.Context, databaseURL string, maxConns int32, logger zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Store{pool: pool, logger: logger.With().Str("component", "persistence").Logger()}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// UpsertCruiseLine inserts or refreshes a cruise line's name.
func (s *Store) UpsertCruiseLine(ctx context.Context, tx pgx.Tx, line domain.CruiseLine) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO cruise_lines (line_id, name, code, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (line_id) DO UPDATE SET
			name = EXCLUDED.name,
			code = EXCLUDED.code,
			updated_at = now()
	`, line.LineID, line.Name, line.Code)
	if err != nil {
		return fmt.Errorf("upsert cruise_line %d: %w", line.LineID, err)
	}
	return nil
}

// UpsertShip inserts or refreshes a ship record.
func (s *Store) UpsertShip(ctx context.Context, tx pgx.Tx, ship domain.Ship) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ships (ship_id, line_id, name, decks, images, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (ship_id) DO UPDATE SET
			line_id = EXCLUDED.line_id,
			name = EXCLUDED.name,
			decks = EXCLUDED.decks,
			images = EXCLUDED.images,
			updated_at = now()
	`, ship.ShipID, ship.LineID, ship.Name, ship.Decks, ship.Images)
	if err != nil {
		return fmt.Errorf("upsert ship %d: %w", ship.ShipID, err)
	}
	return nil
}

// UpsertPort inserts a port, or refreshes its name, country and code if
// it is already known. Ports are keyed by the provider's port id.
func (s *Store) UpsertPort(ctx context.Context, tx pgx.Tx, port domain.Port) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ports (port_id, name, country, code)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (port_id) DO UPDATE SET
			name = EXCLUDED.name,
			country = EXCLUDED.country,
			code = EXCLUDED.code
	`, port.PortID, port.Name, port.Country, port.Code)
	if err != nil {
		return fmt.Errorf("upsert port %d: %w", port.PortID, err)
	}
	return nil
}

// UpsertRegion inserts a region, or refreshes its name if it is
// already known.
func (s *Store) UpsertRegion(ctx context.Context, tx pgx.Tx, region domain.Region) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO regions (region_id, name)
		VALUES ($1, $2)
		ON CONFLICT (region_id) DO UPDATE SET name = EXCLUDED.name
	`, region.RegionID, region.Name)
	if err != nil {
		return fmt.Errorf("upsert region %d: %w", region.RegionID, err)
	}
	return nil
}

// currentPrices reads the live category prices for a sailing, used for
// change detection before an update (spec §4.7). Returns ok=false if
// the cruise doesn't exist yet (first sight, no snapshot to emit).
func (s *Store) currentPrices(ctx context.Context, tx pgx.Tx, codeToCruiseID int) (domain.CategoryPrices, bool, error) {
	var cp domain.CategoryPrices
	row := tx.QueryRow(ctx, `
		SELECT interior, oceanview, balcony, suite
		FROM cruises WHERE code_to_cruise_id = $1
	`, codeToCruiseID)
	if err := row.Scan(&cp.Interior, &cp.Oceanview, &cp.Balcony, &cp.Suite); err != nil {
		if err == pgx.ErrNoRows {
			return domain.CategoryPrices{}, false, nil
		}
		return domain.CategoryPrices{}, false, fmt.Errorf("read current prices for %d: %w", codeToCruiseID, err)
	}
	return cp, true, nil
}

// UpsertCruise writes the sailing row and, if any category price
// changed by more than Epsilon, returns the prior prices so the caller
// can emit a PriceSnapshot (spec §4.7 change detection). A nil category
// price means the incoming file had nothing for that category, not
// that it should be cleared, so the conflict update coalesces onto the
// existing stored value rather than overwriting it with NULL.
func (s *Store) UpsertCruise(ctx context.Context, tx pgx.Tx, c domain.Cruise) (oldPrices domain.CategoryPrices, changed bool, err error) {
	oldPrices, existed, err := s.currentPrices(ctx, tx, c.CodeToCruiseID)
	if err != nil {
		return domain.CategoryPrices{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO cruises (
			code_to_cruise_id, cruise_id, line_id, ship_id, name,
			sail_date, return_date, nights, embark_port_id, disembark_port_id,
			port_ids, region_ids, interior, oceanview, balcony, suite,
			raw_data, is_active, show_cruise, needs_price_update, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, false, now()
		)
		ON CONFLICT (code_to_cruise_id) DO UPDATE SET
			cruise_id = EXCLUDED.cruise_id,
			line_id = EXCLUDED.line_id,
			ship_id = EXCLUDED.ship_id,
			name = EXCLUDED.name,
			sail_date = EXCLUDED.sail_date,
			return_date = EXCLUDED.return_date,
			nights = EXCLUDED.nights,
			embark_port_id = EXCLUDED.embark_port_id,
			disembark_port_id = EXCLUDED.disembark_port_id,
			port_ids = EXCLUDED.port_ids,
			region_ids = EXCLUDED.region_ids,
			interior = COALESCE(EXCLUDED.interior, cruises.interior),
			oceanview = COALESCE(EXCLUDED.oceanview, cruises.oceanview),
			balcony = COALESCE(EXCLUDED.balcony, cruises.balcony),
			suite = COALESCE(EXCLUDED.suite, cruises.suite),
			raw_data = EXCLUDED.raw_data,
			is_active = EXCLUDED.is_active,
			show_cruise = EXCLUDED.show_cruise,
			needs_price_update = false,
			updated_at = now()
	`,
		c.CodeToCruiseID, c.CruiseID, c.LineID, c.ShipID, c.Name,
		c.SailDate, c.ReturnDate, c.Nights, c.EmbarkPortID, c.DisembarkPortID,
		c.PortIDs, c.RegionIDs, c.Prices.Interior, c.Prices.Oceanview, c.Prices.Balcony, c.Prices.Suite,
		c.RawData, c.IsActive, c.ShowCruise,
	)
	if err != nil {
		return domain.CategoryPrices{}, false, fmt.Errorf("upsert cruise %d: %w", c.CodeToCruiseID, err)
	}

	if !existed {
		return domain.CategoryPrices{}, false, nil
	}
	// Compare against the row as stored: a nil incoming price kept the
	// old value via COALESCE, so it is not a change.
	stored := c.Prices
	if stored.Interior == nil {
		stored.Interior = oldPrices.Interior
	}
	if stored.Oceanview == nil {
		stored.Oceanview = oldPrices.Oceanview
	}
	if stored.Balcony == nil {
		stored.Balcony = oldPrices.Balcony
	}
	if stored.Suite == nil {
		stored.Suite = oldPrices.Suite
	}
	return oldPrices, priceChanged(oldPrices, stored), nil
}

func priceChanged(old, next domain.CategoryPrices) bool {
	return ptrDelta(old.Interior, next.Interior) ||
		ptrDelta(old.Oceanview, next.Oceanview) ||
		ptrDelta(old.Balcony, next.Balcony) ||
		ptrDelta(old.Suite, next.Suite)
}

func ptrDelta(a, b *float64) bool {
	switch {
	case a == nil && b == nil:
		return false
	case a == nil || b == nil:
		return true
	default:
		d := *a - *b
		if d < 0 {
			d = -d
		}
		return d > Epsilon
	}
}

// ReplaceItinerary deletes and reinserts the full itinerary for a
// sailing. Itineraries are small and replaced wholesale rather than
// diffed.
func (s *Store) ReplaceItinerary(ctx context.Context, tx pgx.Tx, codeToCruiseID int, days []domain.ItineraryDay) error {
	if _, err := tx.Exec(ctx, `DELETE FROM itinerary_days WHERE code_to_cruise_id = $1`, codeToCruiseID); err != nil {
		return fmt.Errorf("clear itinerary for %d: %w", codeToCruiseID, err)
	}
	for _, d := range days {
		_, err := tx.Exec(ctx, `
			INSERT INTO itinerary_days (code_to_cruise_id, day_number, port_id, arrive_time, depart_time, description)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, codeToCruiseID, d.DayNumber, d.PortID, d.ArriveTime, d.DepartTime, d.Description)
		if err != nil {
			return fmt.Errorf("insert itinerary day %d for %d: %w", d.DayNumber, codeToCruiseID, err)
		}
	}
	return nil
}

// SeedCheapestPricing writes the initial cheapest_pricing row
// alongside a brand-new cruise; thereafter the database trigger (see
// migrations/) keeps this table in sync and the application never
// writes it again (spec §4 design notes, invariant 3).
func (s *Store) SeedCheapestPricing(ctx context.Context, tx pgx.Tx, cp domain.CheapestPricing) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO cheapest_pricing (code_to_cruise_id, interior, oceanview, balcony, suite, cheapest, cheapest_cabin_type, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (code_to_cruise_id) DO NOTHING
	`, cp.CodeToCruiseID, cp.Prices.Interior, cp.Prices.Oceanview, cp.Prices.Balcony, cp.Prices.Suite, cp.Prices.Cheapest, cp.Prices.CheapestCabinType)
	if err != nil {
		return fmt.Errorf("seed cheapest_pricing %d: %w", cp.CodeToCruiseID, err)
	}
	return nil
}

// InsertPriceSnapshot writes an immutable audit row for a detected
// price change.
func (s *Store) InsertPriceSnapshot(ctx context.Context, tx pgx.Tx, snap domain.PriceSnapshot) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO price_snapshots (
			code_to_cruise_id, created_at,
			old_interior, old_oceanview, old_balcony, old_suite,
			new_interior, new_oceanview, new_balcony, new_suite,
			webhook_event_id
		) VALUES ($1, now(), $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		snap.CodeToCruiseID,
		snap.OldPrices.Interior, snap.OldPrices.Oceanview, snap.OldPrices.Balcony, snap.OldPrices.Suite,
		snap.NewPrices.Interior, snap.NewPrices.Oceanview, snap.NewPrices.Balcony, snap.NewPrices.Suite,
		snap.WebhookEventID,
	)
	if err != nil {
		return fmt.Errorf("insert price_snapshot for %d: %w", snap.CodeToCruiseID, err)
	}
	return nil
}

// MarkNeedsPriceUpdate bulk-flags sailings for deferred processing
// (spec §4, C13): used when Discovery reports more files than its
// maxFilesBeforeDefer threshold (config MaxFilesBeforeDefer) and the
// worker defers instead of processing inline.
func (s *Store) MarkNeedsPriceUpdate(ctx context.Context, codeToCruiseIDs []int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE cruises SET needs_price_update = true, updated_at = now()
		WHERE code_to_cruise_id = ANY($1)
	`, codeToCruiseIDs)
	if err != nil {
		return fmt.Errorf("mark needs_price_update: %w", err)
	}
	return nil
}

// PendingPriceUpdates returns up to limit code_to_cruise_ids flagged
// needs_price_update, for the batch-sync drain job (C13).
func (s *Store) PendingPriceUpdates(ctx context.Context, limit int) ([]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT code_to_cruise_id FROM cruises
		WHERE needs_price_update = true
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending price updates: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending price update: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PendingPriceUpdateRefs is like PendingPriceUpdates but returns
// enough of each sailing (line, ship, sail date) for the reaper's
// batch-sync drain to reconstruct the FTP path convention
// (/YYYY/MM/<lineId>/<shipId>/<codeToCruiseId>.json) and re-enqueue a
// cruise-line-processing pass without a triggering webhook.
func (s *Store) PendingPriceUpdateRefs(ctx context.Context, limit int) ([]domain.Cruise, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT code_to_cruise_id, line_id, ship_id, sail_date FROM cruises
		WHERE needs_price_update = true
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending price update refs: %w", err)
	}
	defer rows.Close()

	var out []domain.Cruise
	for rows.Next() {
		var c domain.Cruise
		if err := rows.Scan(&c.CodeToCruiseID, &c.LineID, &c.ShipID, &c.SailDate); err != nil {
			return nil, fmt.Errorf("scan pending price update ref: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// WithTx runs fn inside a transaction, committing on success.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
