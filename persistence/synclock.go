package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/traveltek-sync/ingestiond/domain"
)

// ErrLockHeld is returned by AcquireSyncLock when another owner
// already holds the line's lock.
var ErrLockHeld = errors.New("persistence: sync lock already held")

// AcquireSyncLock enforces spec §4.5's per-line mutual exclusion: a
// partial unique index on sync_locks(line_id) WHERE status != 'released'
// (see migrations/) makes this insert fail under concurrent holders,
// which this method turns into ErrLockHeld rather than a generic
// database error.
func (s *Store) AcquireSyncLock(ctx context.Context, lineID int, owner string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_locks (line_id, acquired_at, owner, status, completed_at)
		VALUES ($1, now(), $2, 'processing', NULL)
	`, lineID, owner)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrLockHeld
		}
		return fmt.Errorf("acquire sync lock for line %d: %w", lineID, err)
	}
	return nil
}

// ReleaseSyncLock marks a line's lock released, freeing it for the
// next worker.
func (s *Store) ReleaseSyncLock(ctx context.Context, lineID int, owner string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_locks SET status = 'released', completed_at = now()
		WHERE line_id = $1 AND owner = $2 AND status = 'processing'
	`, lineID, owner)
	if err != nil {
		return fmt.Errorf("release sync lock for line %d: %w", lineID, err)
	}
	return nil
}

// ExpiredSyncLocks returns locks acquired more than ttl ago and still
// marked processing, for the reaper's expired-lock sweep (spec §4.9).
func (s *Store) ExpiredSyncLocks(ctx context.Context, ttl time.Duration) ([]domain.SyncLock, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT line_id, acquired_at, owner, status, completed_at
		FROM sync_locks
		WHERE status = 'processing' AND acquired_at < $1
	`, time.Now().Add(-ttl))
	if err != nil {
		return nil, fmt.Errorf("query expired sync locks: %w", err)
	}
	defer rows.Close()

	var out []domain.SyncLock
	for rows.Next() {
		var l domain.SyncLock
		if err := rows.Scan(&l.LineID, &l.AcquiredAt, &l.Owner, &l.Status, &l.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan sync lock: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ForceReleaseSyncLock is used by the reaper to free a stale lock
// regardless of owner.
func (s *Store) ForceReleaseSyncLock(ctx context.Context, lineID int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_locks SET status = 'released', completed_at = now()
		WHERE line_id = $1 AND status = 'processing'
	`, lineID)
	if err != nil {
		return fmt.Errorf("force release sync lock for line %d: %w", lineID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
