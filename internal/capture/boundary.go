package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joseph-ayodele/fieldsurvey/constants"
	"github.com/joseph-ayodele/fieldsurvey/internal/common"
	"github.com/joseph-ayodele/fieldsurvey/internal/core"
	"github.com/joseph-ayodele/fieldsurvey/internal/entity"
)

const (
	defaultSubmitRetries = 3
	defaultSidecarGrace  = 2 * time.Second
	defaultHandleRetry   = 30 * time.Second
	maxHandleAttempts    = 5
	sidecarPoll          = 100 * time.Millisecond
)

type Submitter interface {
	SubmitCapture(ctx context.Context, c core.Capture) (int64, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, id int64) error
}

// Locator supplies a best-effort fix when a capture has no manifest location.
type Locator interface {
	Acquire(ctx context.Context) *entity.Coordinate
}

// Boundary hands captures from the inbox to the pipeline.
type Boundary struct {
	submitter    Submitter
	queue        Enqueuer
	locator      Locator
	permanentDir string
	logger       *slog.Logger

	submitRetries int
	newBackOff    func() backoff.BackOff
	sidecarGrace  time.Duration
	handleRetry   time.Duration
}

func NewBoundary(submitter Submitter, queue Enqueuer, locator Locator, permanentDir string, logger *slog.Logger) *Boundary {
	if logger == nil {
		logger = slog.Default()
	}
	return &Boundary{
		submitter:     submitter,
		queue:         queue,
		locator:       locator,
		permanentDir:  permanentDir,
		logger:        logger,
		submitRetries: defaultSubmitRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		sidecarGrace: defaultSidecarGrace,
		handleRetry:  defaultHandleRetry,
	}
}

// Handle imports one inbox capture and submits it for processing.
// The inbox file and its sidecar are removed only after the job exists.
// On failure the inbox file is left untouched, so a later attempt (or the
// initial scan of the next start) picks it up again.
func (b *Boundary) Handle(ctx context.Context, inboxPath string) (int64, error) {
	ctx = common.WithLogger(ctx, b.logger.With("inbox_path", inboxPath))
	logger := common.LoggerFromContext(ctx, b.logger)

	st, err := os.Stat(inboxPath)
	if err != nil {
		return 0, fmt.Errorf("stat capture: %w", err)
	}

	b.awaitSidecar(ctx, inboxPath, st.ModTime())
	manifest, err := ReadManifest(inboxPath)
	if err != nil {
		logger.Warn("ignoring invalid capture manifest", "error", err)
		manifest = nil
	}

	c := core.Capture{CapturedAt: st.ModTime()}
	if manifest != nil {
		c.Coordinate = manifest.Coordinate()
		c.Caption = manifest.Caption
		if manifest.CapturedAt != nil {
			c.CapturedAt = *manifest.CapturedAt
		}
	}
	if c.Coordinate == nil && b.locator != nil {
		c.Coordinate = b.locator.Acquire(ctx)
	}
	if c.CapturedAt.IsZero() {
		c.CapturedAt = time.Now()
	}

	raw, err := copyToPermanent(inboxPath, b.permanentDir)
	if err != nil {
		return 0, fmt.Errorf("import capture: %w", err)
	}
	c.FilePath = raw

	id, err := b.submit(ctx, c)
	if err != nil {
		// the inbox copy is still there; the permanent one would be an orphan
		_ = os.Remove(raw)
		return 0, fmt.Errorf("submit capture: %w", err)
	}

	for _, p := range []string{inboxPath, SidecarPath(inboxPath)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Debug("inbox cleanup failed", "path", p, "error", err)
		}
	}

	// A job that fails to enqueue stays Pending for the next recovery sweep.
	if err := b.queue.Enqueue(ctx, id); err != nil {
		logger.Warn("enqueue failed", "job_id", id, "error", err)
	}
	logger.Info("capture accepted", "job_id", id, "raw_path", raw, "has_location", c.Coordinate != nil)
	return id, nil
}

func (b *Boundary) submit(ctx context.Context, c core.Capture) (int64, error) {
	var id int64
	op := func() error {
		var err error
		id, err = b.submitter.SubmitCapture(ctx, c)
		if err != nil && (errors.Is(err, common.ErrValidation) || errors.Is(err, common.ErrInvalidInput)) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(b.newBackOff(), uint64(b.submitRetries)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return 0, err
	}
	return id, nil
}

// awaitSidecar gives a freshly written capture a short grace period for its
// manifest to land. Captures older than the grace period are not delayed.
func (b *Boundary) awaitSidecar(ctx context.Context, capturePath string, modTime time.Time) {
	deadline := modTime.Add(b.sidecarGrace)
	for time.Now().Before(deadline) {
		if st, err := os.Stat(SidecarPath(capturePath)); err == nil && st.Size() > 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sidecarPoll):
		}
	}
}

// retryable reports whether a failed Handle may succeed on a later attempt.
func retryable(err error) bool {
	return !errors.Is(err, fs.ErrNotExist) &&
		!errors.Is(err, common.ErrNotFound) &&
		!errors.Is(err, common.ErrInvalidInput) &&
		!errors.Is(err, common.ErrValidation) &&
		!errors.Is(err, context.Canceled)
}

// Serve handles every path from paths until the channel closes or ctx ends.
// Transient failures are retried after a delay; a capture that keeps
// failing stays in the inbox for the next start.
func (b *Boundary) Serve(ctx context.Context, paths <-chan string) {
	retry := make(chan string)
	attempts := map[string]int{}

	handle := func(p string) {
		_, err := b.Handle(ctx, p)
		if err == nil {
			delete(attempts, p)
			return
		}
		if errors.Is(err, fs.ErrNotExist) {
			// already imported by an earlier event for the same file
			b.logger.Debug("capture gone before handling", "path", p)
			delete(attempts, p)
			return
		}
		attempts[p]++
		if !retryable(err) || attempts[p] >= maxHandleAttempts || ctx.Err() != nil {
			b.logger.Error("capture.handle.failed", "path", p, "attempts", attempts[p], "error", err)
			delete(attempts, p)
			return
		}
		b.logger.Warn("capture.handle.retry", "path", p, "attempt", attempts[p], "error", err)
		go func() {
			select {
			case <-ctx.Done():
			case <-time.After(b.handleRetry):
				select {
				case retry <- p:
				case <-ctx.Done():
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-retry:
			handle(p)
		case p, ok := <-paths:
			if !ok {
				return
			}
			handle(p)
		}
	}
}

// RemoveOrphanSidecars deletes manifests under dir whose capture no longer
// exists and that are older than the sidecar grace period. It returns how
// many were removed.
func RemoveOrphanSidecars(dir string, grace time.Duration) int {
	n := 0
	cutoff := time.Now().Add(-grace)
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.Type().IsRegular() || !strings.HasSuffix(path, constants.SidecarExt) {
			return nil
		}
		capture := strings.TrimSuffix(path, constants.SidecarExt)
		if !constants.HasExt(constants.CaptureExtensions, filepath.Ext(capture)) {
			return nil
		}
		if _, err := os.Stat(capture); !errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if os.Remove(path) == nil {
			n++
		}
		return nil
	})
	return n
}
