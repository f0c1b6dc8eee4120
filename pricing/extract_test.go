package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traveltek-sync/ingestiond/normalize"
)

func f(v float64) *float64 { return &v }

func TestExtract_DirectFieldsTakePriority(t *testing.T) {
	rec := &normalize.Record{
		CheapestInside:  f(199.99),
		CheapestOutside: f(299.99),
		Cheapest: normalize.CheapestBlock{
			Prices: &normalize.CategoryBlock{Inside: f(1.0), Outside: f(1.0)},
		},
	}

	cp := Extract(rec, 1)
	require.NotNil(t, cp.Interior)
	assert.Equal(t, 199.99, *cp.Interior)
	require.NotNil(t, cp.Oceanview)
	assert.Equal(t, 299.99, *cp.Oceanview)
}

func TestExtract_FallsBackToCheapestPrices(t *testing.T) {
	rec := &normalize.Record{
		Cheapest: normalize.CheapestBlock{
			Prices: &normalize.CategoryBlock{Inside: f(150.0)},
		},
	}
	cp := Extract(rec, 1)
	require.NotNil(t, cp.Interior)
	assert.Equal(t, 150.0, *cp.Interior)
}

func TestExtract_FallsBackToCombined(t *testing.T) {
	rec := &normalize.Record{
		Cheapest: normalize.CheapestBlock{
			Combined: &normalize.CategoryBlock{Balcony: f(450.0)},
		},
	}
	cp := Extract(rec, 1)
	require.NotNil(t, cp.Balcony)
	assert.Equal(t, 450.0, *cp.Balcony)
}

func TestExtract_DerivesFromDetailedPrices(t *testing.T) {
	rec := &normalize.Record{
		Prices: map[string]map[string]map[string]float64{
			"RATE1": {
				"IA": {"2": 600.0, "1": 500.0},
				"OB": {"2": 700.0},
			},
		},
	}
	cp := Extract(rec, 1)
	require.NotNil(t, cp.Interior)
	assert.Equal(t, 500.0, *cp.Interior)
	require.NotNil(t, cp.Oceanview)
	assert.Equal(t, 700.0, *cp.Oceanview)
	assert.Nil(t, cp.Balcony)
	assert.Nil(t, cp.Suite)
}

func TestExtract_ZeroAndNegativePricesIgnored(t *testing.T) {
	rec := &normalize.Record{
		CheapestInside: f(0),
		Cheapest: normalize.CheapestBlock{
			Prices: &normalize.CategoryBlock{Inside: f(-5)},
		},
		Prices: map[string]map[string]map[string]float64{
			"RATE1": {"IA": {"1": 250.0}},
		},
	}
	cp := Extract(rec, 1)
	require.NotNil(t, cp.Interior)
	assert.Equal(t, 250.0, *cp.Interior)
}

func TestExtract_Line329Correction(t *testing.T) {
	rec := &normalize.Record{
		CheapestInside:  f(199990.0),
		CheapestOutside: f(299990.0),
		CheapestBalcony: f(399990.0),
		CheapestSuite:   f(599990.0),
	}
	cp := Extract(rec, 329)
	require.NotNil(t, cp.Interior)
	assert.InDelta(t, 199.99, *cp.Interior, 0.001)
	require.NotNil(t, cp.Suite)
	assert.InDelta(t, 599.99, *cp.Suite, 0.001)
}

func TestExtract_NoCorrectionForOtherLines(t *testing.T) {
	rec := &normalize.Record{CheapestInside: f(199990.0)}
	cp := Extract(rec, 42)
	require.NotNil(t, cp.Interior)
	assert.Equal(t, 199990.0, *cp.Interior)
}

func TestExtract_CheapestTieBreakOrder(t *testing.T) {
	rec := &normalize.Record{
		CheapestInside:  f(100.0),
		CheapestOutside: f(100.0),
		CheapestBalcony: f(100.0),
		CheapestSuite:   f(100.0),
	}
	cp := Extract(rec, 1)
	require.NotNil(t, cp.Cheapest)
	assert.Equal(t, 100.0, *cp.Cheapest)
	assert.Equal(t, "interior", cp.CheapestCabinType)
}

func TestExtract_CheapestPicksActualMinimum(t *testing.T) {
	rec := &normalize.Record{
		CheapestInside:  f(500.0),
		CheapestOutside: f(100.0),
		CheapestBalcony: f(300.0),
	}
	cp := Extract(rec, 1)
	require.NotNil(t, cp.Cheapest)
	assert.Equal(t, 100.0, *cp.Cheapest)
	assert.Equal(t, "oceanview", cp.CheapestCabinType)
}

func TestExtract_AllNilYieldsNilCheapest(t *testing.T) {
	rec := &normalize.Record{}
	cp := Extract(rec, 1)
	assert.Nil(t, cp.Cheapest)
	assert.Equal(t, "", cp.CheapestCabinType)
}

func TestRegisterCorrection_Overrides(t *testing.T) {
	RegisterCorrection(99999, divideBy(2))
	rec := &normalize.Record{CheapestInside: f(100.0)}
	cp := Extract(rec, 99999)
	require.NotNil(t, cp.Interior)
	assert.Equal(t, 50.0, *cp.Interior)
	delete(corrections, 99999)
}
