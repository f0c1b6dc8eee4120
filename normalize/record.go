package normalize

import "encoding/json"

// Record is the canonical in-memory shape produced by Normalize,
// regardless of which of the three pathological wire encodings
// (proper object / double-encoded string / char-indexed object) the
// provider actually sent. Field presence in the source JSON is
// preserved through pointer/zero-value semantics rather than an
// "isset" map, matching how the teacher's ChatRequest/ChatResponse
// types use *int/*float64 for optional fields.
type Record struct {
	CruiseID       int    `json:"cruiseid"`
	CodeToCruiseID string `json:"codetocruiseid"`
	LineID         int    `json:"lineid"`
	ShipID         int    `json:"shipid"`
	Name           string `json:"name"`
	SailDate       string `json:"saildate"`
	StartDate      string `json:"startdate"`
	Nights         int    `json:"nights"`
	StartPortID    int    `json:"startportid"`
	EndPortID      int    `json:"endportid"`
	PortIDs        []int  `json:"portids"`
	RegionIDs      []int  `json:"regionids"`
	MarketID       int    `json:"marketid"`
	OwnerID        int    `json:"ownerid"`

	ShipContent json.RawMessage `json:"shipcontent"`
	LineContent json.RawMessage `json:"linecontent"`

	Itinerary []ItineraryEntry `json:"itinerary"`

	// Prices is rate -> cabin -> occupancy -> price.
	Prices map[string]map[string]map[string]float64 `json:"prices"`

	Cabins map[string]json.RawMessage `json:"cabins"`

	Cheapest CheapestBlock `json:"cheapest"`

	CheapestInside  *float64 `json:"cheapestinside"`
	CheapestOutside *float64 `json:"cheapestoutside"`
	CheapestBalcony *float64 `json:"cheapestbalcony"`
	CheapestSuite   *float64 `json:"cheapestsuite"`

	AltSailings []json.RawMessage `json:"altsailings"`
}

// ItineraryEntry is one day of a sailing's itinerary.
type ItineraryEntry struct {
	Day         int    `json:"day"`
	PortID      int    `json:"portid"`
	ArriveTime  string `json:"arrivetime"`
	DepartTime  string `json:"departtime"`
	Description string `json:"description"`
}

// CheapestBlock is the provider's nested cheapest-price summary.
type CheapestBlock struct {
	Prices       *CategoryBlock `json:"prices"`
	CachedPrices *CategoryBlock `json:"cachedprices"`
	Combined     *CategoryBlock `json:"combined"`
}

// CategoryBlock carries the four cabin-category prices.
type CategoryBlock struct {
	Inside  *float64 `json:"inside"`
	Outside *float64 `json:"outside"`
	Balcony *float64 `json:"balcony"`
	Suite   *float64 `json:"suite"`
}
