package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traveltek-sync/ingestiond/discovery"
	"github.com/traveltek-sync/ingestiond/normalize"
)

func TestToCruiseUpsert_S2Scenario(t *testing.T) {
	body := []byte(`{"cruiseid":2144014,"codetocruiseid":"2144014","lineid":22,"shipid":180,
		"nights":7,"saildate":"2025-10-06",
		"cheapestinside":899.00,"cheapestoutside":999.00,"cheapestbalcony":1199.00,"cheapestsuite":1599.00}`)

	rec, err := normalize.Normalize(body)
	require.NoError(t, err)

	ref := discovery.FileRef{Path: "/2025/10/22/180/2144014.json", LineID: 22, ShipID: 180, CodeToCruiseID: 2144014}
	upsert, err := toCruiseUpsert(rec, ref, "wh-1")
	require.NoError(t, err)

	assert.Equal(t, 2144014, upsert.Cruise.CodeToCruiseID)
	assert.Equal(t, 22, upsert.Cruise.LineID)
	assert.Equal(t, 180, upsert.Cruise.ShipID)
	assert.Equal(t, 7, upsert.Cruise.Nights)
	require.NotNil(t, upsert.Cruise.Prices.Interior)
	assert.Equal(t, 899.00, *upsert.Cruise.Prices.Interior)
	require.NotNil(t, upsert.Cruise.Prices.Cheapest)
	assert.Equal(t, 899.00, *upsert.Cruise.Prices.Cheapest)
	assert.Equal(t, "interior", upsert.Cruise.Prices.CheapestCabinType)
	assert.Equal(t, "wh-1", upsert.WebhookEventID)
}

func TestToCruiseUpsert_Line329Correction(t *testing.T) {
	body := []byte(`{"cruiseid":1,"codetocruiseid":"1","lineid":329,"shipid":5,"cheapestinside":120000}`)
	rec, err := normalize.Normalize(body)
	require.NoError(t, err)

	upsert, err := toCruiseUpsert(rec, discovery.FileRef{}, "")
	require.NoError(t, err)

	require.NotNil(t, upsert.Cruise.Prices.Interior)
	assert.Equal(t, 120.00, *upsert.Cruise.Prices.Interior)
	assert.Equal(t, 120.00, *upsert.Cruise.Prices.Cheapest)
}

func TestToCruiseUpsert_InvalidCodeToCruiseIDErrors(t *testing.T) {
	body := []byte(`{"cruiseid":1,"codetocruiseid":"not-a-number","lineid":1,"shipid":1}`)
	rec, err := normalize.Normalize(body)
	require.NoError(t, err)

	_, err = toCruiseUpsert(rec, discovery.FileRef{}, "")
	require.Error(t, err)
}

func TestUniquePorts_DedupsAcrossSources(t *testing.T) {
	rec := &normalize.Record{
		StartPortID: 1,
		EndPortID:   2,
		PortIDs:     []int{2, 3},
		Itinerary:   []normalize.ItineraryEntry{{PortID: 3}, {PortID: 4}},
	}
	ports := uniquePorts(rec)
	var ids []int
	for _, p := range ports {
		ids = append(ids, p.PortID)
	}
	assert.ElementsMatch(t, []int{1, 2, 3, 4}, ids)
}
