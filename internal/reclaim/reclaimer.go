package reclaim

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/fieldsurvey/constants"
)

// Stats summarizes one sweep.
type Stats struct {
	Scanned uint32 // regular files visited
	Matched uint32 // files with a transient extension
	Deleted uint32
	Failed  uint32
}

// Reclaimer deletes transient captures left in the volatile scratch
// directory. Permanent storage is never touched.
type Reclaimer struct {
	scratchDir string
	logger     *slog.Logger
}

func NewReclaimer(scratchDir string, logger *slog.Logger) *Reclaimer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reclaimer{scratchDir: scratchDir, logger: logger}
}

// Start runs one sweep in the background. The channel yields the stats
// once and is then closed.
func (r *Reclaimer) Start(ctx context.Context) <-chan Stats {
	out := make(chan Stats, 1)
	go func() {
		defer close(out)
		out <- r.Sweep(ctx)
	}()
	return out
}

// Sweep walks the scratch directory, hidden subdirectories included, and
// removes every regular file with a transient extension. Per-file failures
// are counted and skipped.
func (r *Reclaimer) Sweep(ctx context.Context) Stats {
	var stats Stats
	if r.scratchDir == "" {
		return stats
	}
	start := time.Now()

	err := filepath.WalkDir(r.scratchDir, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == r.scratchDir {
				return walkErr
			}
			stats.Failed++
			return nil // continue walking
		}
		if !d.Type().IsRegular() {
			return nil
		}
		stats.Scanned++
		if !constants.HasExt(constants.TransientExtensions, filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			stats.Failed++
			r.logger.Debug("reclaim skip", "path", path, "error", err)
			return nil
		}
		stats.Deleted++
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		r.logger.Debug("scratch dir missing; nothing to reclaim", "dir", r.scratchDir)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.logger.Info("reclaim interrupted", "dir", r.scratchDir, "deleted", stats.Deleted)
	default:
		r.logger.Warn("reclaim walk failed", "dir", r.scratchDir, "error", err)
	}

	r.logger.Info("cache reclaimed",
		"dir", r.scratchDir,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"deleted", stats.Deleted,
		"failed", stats.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return stats
}
