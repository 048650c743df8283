package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joseph-ayodele/fieldsurvey/constants"
	"github.com/joseph-ayodele/fieldsurvey/internal/common"
	"github.com/joseph-ayodele/fieldsurvey/internal/entity"
	"github.com/joseph-ayodele/fieldsurvey/internal/imaging"
	"github.com/joseph-ayodele/fieldsurvey/internal/repository"
)

const maxCaptionLength = 500

// Transformer produces the final image for a raw capture.
type Transformer interface {
	Transform(ctx context.Context, rawPath string, meta imaging.Metadata) (string, error)
}

// Capture is what the capture boundary hands over once the raw file is in
// permanent storage.
type Capture struct {
	FilePath   string
	Coordinate *entity.Coordinate // nil when no fix was acquired
	CapturedAt time.Time
	Caption    string
}

// Processor drives each job through Pending -> Processing -> Completed|Failed.
// It is not safe to process the same job from two goroutines; the async
// queue serializes all calls.
type Processor struct {
	logger       *slog.Logger
	jobsRepo     repository.JobRepository
	transformer  Transformer
	writeRetries int
	newBackOff   func() backoff.BackOff
}

func NewProcessor(
	logger *slog.Logger,
	jobsRepo repository.JobRepository,
	transformer Transformer,
	writeRetries int,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if writeRetries < 0 {
		writeRetries = 0
	}
	return &Processor{
		logger:       logger,
		jobsRepo:     jobsRepo,
		transformer:  transformer,
		writeRetries: writeRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

// SubmitCapture records a new Pending job for a raw file already in
// permanent storage and returns its id. It does not process the job.
func (p *Processor) SubmitCapture(ctx context.Context, c Capture) (int64, error) {
	v := common.NewValidator()
	v.Field("file_path", c.FilePath, common.Required)
	v.Field("captured_at", c.CapturedAt, common.Required)
	v.Field("caption", c.Caption, common.MaxLength(maxCaptionLength))
	if c.Coordinate != nil {
		v.Field("latitude", c.Coordinate.Latitude, common.InRange(-90, 90))
		v.Field("longitude", c.Coordinate.Longitude, common.InRange(-180, 180))
		v.Field("altitude", c.Coordinate.Altitude, common.InRange(-20000, 100000))
	}
	if err := v.Err(); err != nil {
		return 0, err
	}

	raw, err := filepath.Abs(c.FilePath)
	if err != nil {
		return 0, common.InvalidInputErrorf("file_path %q: %v", c.FilePath, err)
	}

	loc := c.Coordinate.OrUnknown()
	job := &entity.Job{
		RawPath:    raw,
		Latitude:   loc.Latitude,
		Longitude:  loc.Longitude,
		Altitude:   loc.Altitude,
		CapturedAt: c.CapturedAt,
		Caption:    c.Caption,
		Status:     constants.JobStatusPending,
	}
	id, err := p.jobsRepo.Create(ctx, job)
	if err != nil {
		p.logger.Error("processor.submit.failed", "raw_path", raw, "error", err)
		return 0, err
	}
	p.logger.Info("capture submitted", "job_id", id, "raw_path", raw, "has_location", job.HasLocation())
	return id, nil
}

// ProcessJob runs one job to a terminal state. A transform fault is recorded
// as Failed and is not returned as an error; errors mean the outcome could
// not be persisted, and the job will be picked up by the next sweep.
func (p *Processor) ProcessJob(ctx context.Context, id int64) (*entity.Job, error) {
	ctx = common.WithJobID(ctx, id)
	logger := common.LoggerFromContext(ctx, p.logger)

	job, err := p.jobsRepo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if job.Status == constants.JobStatusCompleted {
		logger.Debug("job already completed", "final_path", job.FinalPath)
		return job, nil
	}

	// 1) Processing is durable before any image bytes are touched.
	prev := job.Clone()
	job.Status = constants.JobStatusProcessing
	job.ErrorDetail = ""
	if err := p.jobsRepo.Update(ctx, job); err != nil {
		logger.Error("processor.start.failed", "status", prev.Status, "error", err)
		return prev, fmt.Errorf("mark processing: %w", err)
	}

	// 2) transform
	start := time.Now()
	finalPath, err := p.transform(ctx, job, logger)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// shutdown; stays Processing and resumes on the next sweep
			logger.Warn("transform interrupted", "error", err)
			return job, err
		}
		logger.Warn("processor.transform.failed",
			"raw_path", job.RawPath,
			"code", faultCode(err),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return p.fail(ctx, job, failureDetail(err), logger)
	}

	// 3) record completion, then release the raw
	return p.complete(ctx, job, finalPath, logger)
}

func (p *Processor) transform(ctx context.Context, job *entity.Job, logger *slog.Logger) (finalPath string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("processor.transform.panic", "panic", r, "stack", string(debug.Stack()))
			finalPath, err = "", fmt.Errorf("transform panic: %v", r)
		}
	}()
	return p.transformer.Transform(ctx, job.RawPath, imaging.Metadata{
		Latitude:   job.Latitude,
		Longitude:  job.Longitude,
		Altitude:   job.Altitude,
		CapturedAt: job.CapturedAt,
	})
}

func (p *Processor) fail(ctx context.Context, job *entity.Job, detail string, logger *slog.Logger) (*entity.Job, error) {
	job.Status = constants.JobStatusFailed
	job.ErrorDetail = detail
	job.FinalPath = ""
	if err := p.persistTerminal(ctx, job); err != nil {
		logger.Error("processor.persist_failed.failed", "error", err)
		return nil, fmt.Errorf("persist failure: %w", err)
	}
	logger.Info("job failed", "status", job.Status, "error_detail", detail)
	return job, nil
}

func (p *Processor) complete(ctx context.Context, job *entity.Job, finalPath string, logger *slog.Logger) (*entity.Job, error) {
	job.Status = constants.JobStatusCompleted
	job.FinalPath = finalPath
	if err := p.persistTerminal(ctx, job); err != nil {
		logger.Error("processor.persist_completed.failed", "final_path", finalPath, "error", err)

		// The raw stays the only copy; the final file would be an orphan.
		job.Status = constants.JobStatusFailed
		job.FinalPath = ""
		job.ErrorDetail = "persist completion: " + err.Error()
		if ferr := p.persistTerminal(ctx, job); ferr != nil {
			logger.Error("processor.persist_failed.failed", "error", ferr)
		}
		if rerr := os.Remove(finalPath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			logger.Warn("remove orphan final failed", "final_path", finalPath, "error", rerr)
		}
		return nil, fmt.Errorf("persist completion: %w", err)
	}

	if err := os.Remove(job.RawPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("processor.raw_delete.failed", "raw_path", job.RawPath, "error", err)
	}
	logger.Info("job completed", "final_path", finalPath)
	return job, nil
}

// persistTerminal writes a terminal status with bounded retries. The write
// is detached from ctx cancellation so a finished transform is not lost to
// shutdown.
func (p *Processor) persistTerminal(ctx context.Context, job *entity.Job) error {
	if !job.Status.Terminal() {
		return common.InvalidInputError(fmt.Sprintf("status %s is not terminal", job.Status))
	}
	wctx := context.WithoutCancel(ctx)
	op := func() error {
		err := p.jobsRepo.Update(wctx, job)
		if err != nil && (errors.Is(err, repository.ErrJobNotFound) || errors.Is(err, common.ErrValidation)) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithMaxRetries(p.newBackOff(), uint64(p.writeRetries)))
}

func failureDetail(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "transform timed out: " + err.Error()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "transform failed"
}

func faultCode(err error) string {
	var fault *imaging.TransformFault
	if errors.As(err, &fault) {
		return fault.Code()
	}
	return common.CodeOf(err)
}

// Recover returns the ids of every job that still needs work, in listing
// order. Leftover raw files of completed jobs are removed on the way.
func (p *Processor) Recover(ctx context.Context) ([]int64, error) {
	jobs, err := p.jobsRepo.ListByStatus(ctx, constants.UnfinishedStatuses...)
	if err != nil {
		p.logger.Error("processor.recover.failed", "error", err)
		return nil, err
	}
	ids := make([]int64, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}

	removed := p.removeCompletedRaws(ctx)
	p.logger.Info("recovery sweep", "unfinished", len(ids), "stale_raws_removed", removed)
	return ids, nil
}

func (p *Processor) removeCompletedRaws(ctx context.Context) int {
	done, err := p.jobsRepo.ListByStatus(ctx, constants.JobStatusCompleted)
	if err != nil {
		p.logger.Warn("list completed jobs failed", "error", err)
		return 0
	}
	n := 0
	for _, j := range done {
		if j.RawPath == "" || j.RawPath == j.FinalPath || !nonEmptyFile(j.FinalPath) {
			continue
		}
		if _, err := os.Stat(j.RawPath); err != nil {
			continue
		}
		if err := os.Remove(j.RawPath); err != nil {
			p.logger.Warn("stale raw delete failed", "job_id", j.ID, "raw_path", j.RawPath, "error", err)
			continue
		}
		n++
	}
	return n
}

// ListJobs returns every job, newest capture first.
func (p *Processor) ListJobs(ctx context.Context) ([]*entity.Job, error) {
	return p.jobsRepo.ListAll(ctx)
}

func (p *Processor) GetJob(ctx context.Context, id int64) (*entity.Job, error) {
	return p.jobsRepo.Get(ctx, id)
}

// Retry checks that a job may re-enter the pipeline. Only Failed jobs can;
// the caller enqueues it afterwards.
func (p *Processor) Retry(ctx context.Context, id int64) error {
	job, err := p.jobsRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != constants.JobStatusFailed {
		return common.InvalidInputErrorf("job %d is %s; only failed jobs can be retried", id, job.Status)
	}
	return nil
}

// Discard deletes the job record, then its files best effort.
func (p *Processor) Discard(ctx context.Context, id int64) error {
	job, err := p.jobsRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := p.jobsRepo.Delete(ctx, id); err != nil {
		return err
	}
	for _, path := range []string{job.RawPath, job.FinalPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("discard file failed", "job_id", id, "path", path, "error", err)
		}
	}
	p.logger.Info("job discarded", "job_id", id, "status", job.Status)
	return nil
}

// PreviewPath picks the image to show for a job: the final image once
// completed, otherwise the raw capture. Empty when neither exists.
func PreviewPath(job *entity.Job) string {
	if job == nil {
		return ""
	}
	if job.Status == constants.JobStatusCompleted && nonEmptyFile(job.FinalPath) {
		return job.FinalPath
	}
	if job.RawPath != "" {
		if _, err := os.Stat(job.RawPath); err == nil {
			return job.RawPath
		}
	}
	return ""
}

func nonEmptyFile(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular() && st.Size() > 0
}
