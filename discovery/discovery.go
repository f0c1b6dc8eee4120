// Package discovery enumerates Traveltek's FTP directory layout for a
// cruise line across a configurable future window, per spec §4.2.
package discovery

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/traveltek-sync/ingestiond/ftppool"
)

// FileRef identifies one JSON pricing file on the FTP host.
type FileRef struct {
	Path           string
	Year           int
	Month          int
	LineID         int
	ShipID         int
	CodeToCruiseID int
	Size           uint64
	LastModified   time.Time
}

// Result is the outcome of one Discover call.
type Result struct {
	Files    []FileRef
	Deferred bool // true when len(Files) exceeds MaxFilesBeforeDefer
}

// Discoverer walks the FTP tree through a connection pool.
type Discoverer struct {
	pool                *ftppool.Pool
	logger              zerolog.Logger
	maxFilesBeforeDefer int
}

// New creates a Discoverer.
func New(pool *ftppool.Pool, maxFilesBeforeDefer int, logger zerolog.Logger) *Discoverer {
	return &Discoverer{
		pool:                pool,
		logger:              logger.With().Str("component", "discovery").Logger(),
		maxFilesBeforeDefer: maxFilesBeforeDefer,
	}
}

// Discover enumerates /YYYY/MM/<lineId>/<shipId>/*.json for every
// (year, month) in [windowStart, windowEnd]. Inaccessible ship
// subdirectories are skipped without failing the whole enumeration —
// the same "collect everything reachable, log the rest" posture the
// teacher's health poller uses when some providers fail a check.
func (d *Discoverer) Discover(ctx context.Context, lineID int, windowStart, windowEnd time.Time) (Result, error) {
	var files []FileRef

	for ym := firstOfMonth(windowStart); !ym.After(windowEnd); ym = ym.AddDate(0, 1, 0) {
		monthPath := fmt.Sprintf("/%04d/%02d/%d", ym.Year(), int(ym.Month()), lineID)

		var shipDirs []ftppool.Entry
		err := d.pool.WithSession(ctx, func(s *ftppool.Session) error {
			var err error
			shipDirs, err = s.List(monthPath)
			return err
		})
		if err != nil {
			d.logger.Debug().Str("path", monthPath).Err(err).Msg("month directory unreadable, skipping")
			continue
		}

		for _, shipDir := range shipDirs {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			shipID, err := strconv.Atoi(shipDir.Name)
			if err != nil {
				continue
			}
			shipPath := path.Join(monthPath, shipDir.Name)

			var entries []ftppool.Entry
			err = d.pool.WithSession(ctx, func(s *ftppool.Session) error {
				var err error
				entries, err = s.List(shipPath)
				return err
			})
			if err != nil {
				d.logger.Debug().Str("path", shipPath).Err(err).Msg("ship directory unreadable, skipping")
				continue
			}

			for _, e := range entries {
				if !strings.HasSuffix(e.Name, ".json") {
					continue
				}
				codeToCruiseID, err := strconv.Atoi(strings.TrimSuffix(e.Name, ".json"))
				if err != nil {
					continue
				}
				files = append(files, FileRef{
					Path:           path.Join(shipPath, e.Name),
					Year:           ym.Year(),
					Month:          int(ym.Month()),
					LineID:         lineID,
					ShipID:         shipID,
					CodeToCruiseID: codeToCruiseID,
					Size:           e.Size,
					LastModified:   e.Time,
				})
			}
		}
	}

	deferred := d.maxFilesBeforeDefer > 0 && len(files) > d.maxFilesBeforeDefer
	return Result{Files: files, Deferred: deferred}, nil
}

// DefaultWindow returns now and now plus months. Discover treats the
// end bound as inclusive, so the month containing it is walked too.
func DefaultWindow(months int) (time.Time, time.Time) {
	now := time.Now().UTC()
	return now, now.AddDate(0, months, 0)
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
