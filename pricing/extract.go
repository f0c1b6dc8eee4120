// Package pricing implements the cheapest-category price ladder and
// per-line corrections of spec §4.4. The correction table follows the
// same "map id/name -> adjustment function" shape as the teacher's
// provider/pricing.go per-provider cost table.
package pricing

import (
	"math"

	"github.com/traveltek-sync/ingestiond/domain"
	"github.com/traveltek-sync/ingestiond/normalize"
)

// correction adjusts category prices for known provider anomalies.
type correction func(domain.CategoryPrices) domain.CategoryPrices

// corrections is keyed by the webhook/database lineId (spec §9 open
// question 3 treats webhook lineid and cruise_line_id as equal).
var corrections = map[int]correction{
	// Riviera Travel: historical anomaly, prices are in the record
	// multiplied by 1000 (spec §4.4).
	329: divideBy(1000),
}

func divideBy(factor float64) correction {
	return func(cp domain.CategoryPrices) domain.CategoryPrices {
		cp.Interior = divPtr(cp.Interior, factor)
		cp.Oceanview = divPtr(cp.Oceanview, factor)
		cp.Balcony = divPtr(cp.Balcony, factor)
		cp.Suite = divPtr(cp.Suite, factor)
		return cp
	}
}

func divPtr(p *float64, factor float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p / factor
	return &v
}

// RegisterCorrection adds or replaces a per-line correction. Exposed
// so operators can extend the table without a code change landing in
// this package (the table is a lookup, not a hardcoded branch).
func RegisterCorrection(lineID int, fn func(domain.CategoryPrices) domain.CategoryPrices) {
	corrections[lineID] = fn
}

// Extract computes {interior, oceanview, balcony, suite, cheapest,
// cheapestCabinType} from a normalized Record, applying the line's
// correction (if any) and the four-step fallback ladder of spec §4.4.
// cachedprices is never used as a source — it is captured into rawData
// only, never persisted as an authoritative price.
func Extract(rec *normalize.Record, lineID int) domain.CategoryPrices {
	cp := domain.CategoryPrices{
		Interior:  firstPositive(rec.CheapestInside, fieldOf(rec.Cheapest.Prices, "inside"), fieldOf(rec.Cheapest.Combined, "inside"), derivedMin(rec, "inside")),
		Oceanview: firstPositive(rec.CheapestOutside, fieldOf(rec.Cheapest.Prices, "outside"), fieldOf(rec.Cheapest.Combined, "outside"), derivedMin(rec, "outside")),
		Balcony:   firstPositive(rec.CheapestBalcony, fieldOf(rec.Cheapest.Prices, "balcony"), fieldOf(rec.Cheapest.Combined, "balcony"), derivedMin(rec, "balcony")),
		Suite:     firstPositive(rec.CheapestSuite, fieldOf(rec.Cheapest.Prices, "suite"), fieldOf(rec.Cheapest.Combined, "suite"), derivedMin(rec, "suite")),
	}

	if fn, ok := corrections[lineID]; ok {
		cp = fn(cp)
	}

	cp.Cheapest, cp.CheapestCabinType = cheapestOf(cp)
	return cp
}

// firstPositive returns the first non-nil, >0 candidate.
func firstPositive(candidates ...*float64) *float64 {
	for _, c := range candidates {
		if c != nil && *c > 0 {
			v := *c
			return &v
		}
	}
	return nil
}

func fieldOf(block *normalize.CategoryBlock, name string) *float64 {
	if block == nil {
		return nil
	}
	switch name {
	case "inside":
		return block.Inside
	case "outside":
		return block.Outside
	case "balcony":
		return block.Balcony
	case "suite":
		return block.Suite
	}
	return nil
}

// cabinCategoryTag maps the detailed prices object's free-form cabin
// codes to the four canonical categories. Traveltek cabin codes
// conventionally start with I/O/B/S for inside/outside/balcony/suite.
func cabinCategoryTag(cabinCode string) string {
	if cabinCode == "" {
		return ""
	}
	switch cabinCode[0] {
	case 'I', 'i':
		return "inside"
	case 'O', 'o':
		return "outside"
	case 'B', 'b':
		return "balcony"
	case 'S', 's':
		return "suite"
	}
	return ""
}

// derivedMin computes the minimum positive price across the detailed
// prices object for cabins tagged with the given category (step 4 of
// the ladder).
func derivedMin(rec *normalize.Record, category string) *float64 {
	if rec.Prices == nil {
		return nil
	}
	min := math.Inf(1)
	found := false
	for _, cabins := range rec.Prices {
		for cabinCode, occupancies := range cabins {
			if cabinCategoryTag(cabinCode) != category {
				continue
			}
			for _, price := range occupancies {
				if price > 0 && price < min {
					min = price
					found = true
				}
			}
		}
	}
	if !found {
		return nil
	}
	return &min
}

// cheapestOf returns min{non-null, >0 category prices} and the
// matching cabin type. Ties are resolved interior < oceanview <
// balcony < suite.
func cheapestOf(cp domain.CategoryPrices) (*float64, string) {
	type candidate struct {
		price *float64
		name  string
	}
	ordered := []candidate{
		{cp.Interior, "interior"},
		{cp.Oceanview, "oceanview"},
		{cp.Balcony, "balcony"},
		{cp.Suite, "suite"},
	}

	var best *float64
	bestName := ""
	for _, c := range ordered {
		if c.price == nil || *c.price <= 0 {
			continue
		}
		if best == nil || *c.price < *best {
			v := *c.price
			best = &v
			bestName = c.name
		}
	}
	if best == nil {
		return nil, ""
	}
	return best, bestName
}
