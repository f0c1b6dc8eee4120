package worker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/traveltek-sync/ingestiond/discovery"
	"github.com/traveltek-sync/ingestiond/domain"
	"github.com/traveltek-sync/ingestiond/normalize"
	"github.com/traveltek-sync/ingestiond/persistence"
	"github.com/traveltek-sync/ingestiond/pricing"
)

// dateLayouts are tried in order against Traveltek's date strings,
// which the pack has observed as bare "2025-10-06" (spec §8 scenarios)
// but occasionally arrive with a time component.
var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}

func parseDate(s string) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// toCruiseUpsert maps one normalized Record plus its FileRef into the
// atomic set of rows spec §4.7 requires in a single transaction,
// lookups-first-sailing-last. Line and ship names are always the
// placeholders "line-<id>" and "ship-<id>"; the record's line and ship
// content blobs are not read for names.
func toCruiseUpsert(rec *normalize.Record, ref discovery.FileRef, webhookEventID string) (persistence.CruiseUpsert, error) {
	codeToCruiseID, err := strconv.Atoi(rec.CodeToCruiseID)
	if err != nil {
		return persistence.CruiseUpsert{}, fmt.Errorf("mapping: invalid codeToCruiseId %q: %w", rec.CodeToCruiseID, err)
	}

	sailDate := rec.SailDate
	if sailDate == "" {
		sailDate = rec.StartDate
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return persistence.CruiseUpsert{}, fmt.Errorf("mapping: re-marshal record: %w", err)
	}

	prices := pricing.Extract(rec, rec.LineID)

	var days []domain.ItineraryDay
	for _, entry := range rec.Itinerary {
		days = append(days, domain.ItineraryDay{
			CodeToCruiseID: codeToCruiseID,
			DayNumber:      entry.Day,
			PortID:         entry.PortID,
			ArriveTime:     parseClockPtr(sailDate, entry.ArriveTime),
			DepartTime:     parseClockPtr(sailDate, entry.DepartTime),
			Description:    entry.Description,
		})
	}

	ports := uniquePorts(rec)
	regions := uniqueRegions(rec)

	return persistence.CruiseUpsert{
		Line: domain.CruiseLine{
			LineID:    rec.LineID,
			Name:      fmt.Sprintf("line-%d", rec.LineID),
			UpdatedAt: time.Now().UTC(),
		},
		Ship: domain.Ship{
			ShipID:    rec.ShipID,
			LineID:    rec.LineID,
			Name:      fmt.Sprintf("ship-%d", rec.ShipID),
			Decks:     rec.ShipContent,
			UpdatedAt: time.Now().UTC(),
		},
		Ports:   ports,
		Regions: regions,
		Cruise: domain.Cruise{
			CodeToCruiseID:  codeToCruiseID,
			CruiseID:        rec.CruiseID,
			LineID:          rec.LineID,
			ShipID:          rec.ShipID,
			Name:            rec.Name,
			SailDate:        parseDate(sailDate),
			ReturnDate:      parseDate(sailDate).AddDate(0, 0, rec.Nights),
			Nights:          rec.Nights,
			EmbarkPortID:    rec.StartPortID,
			DisembarkPortID: rec.EndPortID,
			PortIDs:         rec.PortIDs,
			RegionIDs:       rec.RegionIDs,
			Prices:          prices,
			RawData:         raw,
			IsActive:        true,
			ShowCruise:      true,
			UpdatedAt:       time.Now().UTC(),
		},
		Itinerary:      days,
		WebhookEventID: webhookEventID,
	}, nil
}

func uniquePorts(rec *normalize.Record) []domain.Port {
	seen := map[int]bool{}
	var out []domain.Port
	add := func(id int) {
		if id == 0 || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, domain.Port{PortID: id})
	}
	add(rec.StartPortID)
	add(rec.EndPortID)
	for _, id := range rec.PortIDs {
		add(id)
	}
	for _, entry := range rec.Itinerary {
		add(entry.PortID)
	}
	return out
}

func uniqueRegions(rec *normalize.Record) []domain.Region {
	seen := map[int]bool{}
	var out []domain.Region
	for _, id := range rec.RegionIDs {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, domain.Region{RegionID: id})
	}
	return out
}

// parseClockPtr combines a sail date with a bare "HH:MM" time string;
// Traveltek itinerary entries carry only the latter. Returns nil when
// the clock string is absent, matching the provider's "field omitted
// means unknown, not midnight" convention.
func parseClockPtr(sailDate, clock string) *time.Time {
	if clock == "" {
		return nil
	}
	day := parseDate(sailDate)
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return nil
	}
	combined := time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
	return &combined
}
