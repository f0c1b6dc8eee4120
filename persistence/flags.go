package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/traveltek-sync/ingestiond/domain"
)

// GetFlag reads a single system flag. found=false if the key has never
// been set (callers apply their own defaults).
func (s *Store) GetFlag(ctx context.Context, key string) (value string, found bool, err error) {
	row := s.pool.QueryRow(ctx, `SELECT value FROM system_flags WHERE key = $1`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read flag %s: %w", key, err)
	}
	return value, true, nil
}

// SetFlag upserts a flag value (C9, and the admin flags endpoint).
func (s *Store) SetFlag(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_flags (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("set flag %s: %w", key, err)
	}
	return nil
}

// AllFlags returns every known flag, for the admin introspection
// endpoint.
func (s *Store) AllFlags(ctx context.Context) ([]domain.SystemFlag, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value, updated_at FROM system_flags ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	defer rows.Close()

	var out []domain.SystemFlag
	for rows.Next() {
		var f domain.SystemFlag
		if err := rows.Scan(&f.Key, &f.Value, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
