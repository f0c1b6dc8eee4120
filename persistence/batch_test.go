package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/traveltek-sync/ingestiond/domain"
)

func ptr(v float64) *float64 { return &v }

func TestPriceChanged_WithinEpsilonIsNoChange(t *testing.T) {
	old := domain.CategoryPrices{Interior: ptr(100.00)}
	next := domain.CategoryPrices{Interior: ptr(100.005)}
	assert.False(t, priceChanged(old, next))
}

func TestPriceChanged_BeyondEpsilonIsChange(t *testing.T) {
	old := domain.CategoryPrices{Interior: ptr(100.00)}
	next := domain.CategoryPrices{Interior: ptr(100.02)}
	assert.True(t, priceChanged(old, next))
}

func TestPriceChanged_NilToValueIsChange(t *testing.T) {
	old := domain.CategoryPrices{}
	next := domain.CategoryPrices{Interior: ptr(50.0)}
	assert.True(t, priceChanged(old, next))
}

func TestPriceChanged_BothNilIsNoChange(t *testing.T) {
	assert.False(t, priceChanged(domain.CategoryPrices{}, domain.CategoryPrices{}))
}

func TestBatcherDrain_RespectsMaxBatch(t *testing.T) {
	b := NewBatcher(10, 2)
	b.Add(CruiseUpsert{Cruise: domain.Cruise{CodeToCruiseID: 1}})
	b.Add(CruiseUpsert{Cruise: domain.Cruise{CodeToCruiseID: 2}})
	b.Add(CruiseUpsert{Cruise: domain.Cruise{CodeToCruiseID: 3}})

	first := b.Drain()
	assert.Len(t, first, 2)

	second := b.Drain()
	assert.Len(t, second, 1)
	assert.Equal(t, 3, second[0].Cruise.CodeToCruiseID)
}

func TestBatcherDrain_EmptyReturnsEmpty(t *testing.T) {
	b := NewBatcher(10, 5)
	assert.Empty(t, b.Drain())
}
