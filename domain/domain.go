// Package domain holds the canonical entities shared across the ingestion
// pipeline. Entities reference each other by external integer id only —
// no pointers, no cycles — reconstructed at query time by the persistence
// layer.
package domain

import "time"

// CruiseLine is created on first sight and updated when an authoritative
// name is observed.
type CruiseLine struct {
	LineID      int
	Name        string
	Code        string
	UpdatedAt   time.Time
}

// Ship belongs to exactly one CruiseLine.
type Ship struct {
	ShipID    int
	LineID    int
	Name      string
	Decks     []byte // opaque provider blob
	Images    []byte // opaque provider blob
	UpdatedAt time.Time
}

// Port is created on first reference.
type Port struct {
	PortID  int
	Name    string
	Country string
	Code    string
}

// Region is created on first reference.
type Region struct {
	RegionID int
	Name     string
}

// CategoryPrices holds the four cabin-category prices plus the derived
// cheapest price and cabin type. Any field may be nil.
type CategoryPrices struct {
	Interior  *float64
	Oceanview *float64
	Balcony   *float64
	Suite     *float64

	Cheapest          *float64
	CheapestCabinType string // "", "interior", "oceanview", "balcony", "suite"
}

// Cruise is one physical sailing, primary key CodeToCruiseID.
type Cruise struct {
	CodeToCruiseID int
	CruiseID       int
	LineID         int
	ShipID         int
	Name           string
	SailDate       time.Time
	ReturnDate     time.Time
	Nights         int
	EmbarkPortID   int
	DisembarkPortID int
	PortIDs        []int
	RegionIDs      []int

	Prices CategoryPrices

	RawData []byte

	IsActive              bool
	ShowCruise            bool
	NeedsPriceUpdate      bool
	PriceUpdateRequestedAt *time.Time

	UpdatedAt time.Time
}

// ItineraryDay is one day of a sailing's itinerary.
type ItineraryDay struct {
	CodeToCruiseID int
	DayNumber      int
	PortID         int
	ArriveTime     *time.Time
	DepartTime     *time.Time
	Description    string
}

// CheapestPricing mirrors the Cruise category prices; maintained by a
// database trigger (see migrations/). The application never writes this
// table directly except to seed the initial row alongside the cruise
// upsert — the trigger keeps it in sync thereafter.
type CheapestPricing struct {
	CodeToCruiseID int
	Prices         CategoryPrices
	UpdatedAt      time.Time
}

// PriceSnapshot is an immutable audit row written whenever a category
// price changes by more than epsilon.
type PriceSnapshot struct {
	ID              int64
	CodeToCruiseID  int
	CreatedAt       time.Time
	OldPrices       CategoryPrices
	NewPrices       CategoryPrices
	WebhookEventID  string
}

// WebhookEventStatus is the lifecycle state of a WebhookEvent.
type WebhookEventStatus string

const (
	WebhookStatusPending    WebhookEventStatus = "pending"
	WebhookStatusProcessing WebhookEventStatus = "processing"
	WebhookStatusCompleted  WebhookEventStatus = "completed"
	WebhookStatusFailed     WebhookEventStatus = "failed"
	WebhookStatusSkipped    WebhookEventStatus = "skipped"
)

// WebhookEvent is the intake ledger entry. Terminal states are final;
// a failed event may be administratively reset to pending, which bumps
// RetryCount.
type WebhookEvent struct {
	ID           string
	LineID       int
	EventType    string
	Payload      []byte
	ReceivedAt   time.Time
	Status       WebhookEventStatus
	ProcessedAt  *time.Time
	ErrorMessage string
	RetryCount   int
}

// SyncLockStatus is the lifecycle state of a SyncLock.
type SyncLockStatus string

const (
	SyncLockProcessing SyncLockStatus = "processing"
	SyncLockReleased   SyncLockStatus = "released"
)

// SyncLock enforces at-most-one concurrent worker per cruise line.
type SyncLock struct {
	LineID      int
	AcquiredAt  time.Time
	Owner       string
	Status      SyncLockStatus
	CompletedAt *time.Time
}

// Well-known SystemFlag keys, per spec §6.
const (
	FlagWebhooksPaused          = "webhooks_paused"
	FlagBatchSyncPaused         = "batch_sync_paused"
	FlagSyncInProgress          = "sync_in_progress"
	FlagSyncStartedAt           = "sync_started_at"
	FlagSyncOperator            = "sync_operator"
	FlagDedupWindowSeconds      = "webhook_deduplication_window"
	FlagMaxCruisesPerWebhook    = "max_cruises_per_webhook"
)

// SystemFlag is a single process-wide toggle or setting.
type SystemFlag struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
