package queue

import "time"

// Named queues, per spec §4.5.
const (
	NameWebhookIntake        = "webhook-intake"
	NameCruiseLineProcessing = "cruise-line-processing"
)

// Per-queue defaults (spec §4.5).
const (
	WebhookIntakeMaxAttempts        = 3
	CruiseLineProcessingMaxAttempts = 5

	DefaultBackoffBase = 1 * time.Second
	DefaultMaxBackoff  = 5 * time.Minute

	// RelockBackoff is the jittered delay applied when a line-batch job
	// finds SyncLock(L) already held (spec §4.5).
	RelockBackoff = 30 * time.Second

	// FTPUnavailableBackoff is the delay applied when the FTP circuit
	// breaker is open (ftppool.ErrFTPUnavailable) — the job fails fast
	// and is retried once the breaker has had time to recover rather
	// than hammering every remaining file in the batch.
	FTPUnavailableBackoff = 1 * time.Minute

	DefaultHeartbeatInterval = 10 * time.Second
	DefaultStalledAfter      = 60 * time.Second
)
