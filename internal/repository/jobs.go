package repository

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/fieldsurvey/constants"
	"github.com/joseph-ayodele/fieldsurvey/internal/common"
	"github.com/joseph-ayodele/fieldsurvey/internal/entity"
)

// ErrJobNotFound is returned when no job has the requested identity.
var ErrJobNotFound = common.NewAppError(common.CodeNotFound, "job not found", common.ErrNotFound)

// JobRepository is the durable job table. Every mutation is a single
// statement, so no partially written record is ever observable.
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) (int64, error)
	Update(ctx context.Context, job *entity.Job) error
	Get(ctx context.Context, id int64) (*entity.Job, error)
	ListByStatus(ctx context.Context, statuses ...constants.JobStatus) ([]*entity.Job, error)
	ListAll(ctx context.Context) ([]*entity.Job, error)
	Delete(ctx context.Context, id int64) error
}

var jobColumns = []string{
	"id", "raw_path", "final_path",
	"latitude", "longitude", "altitude",
	"captured_at", "caption", "status", "error_detail", "updated_at",
}

type jobRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewJobRepository(db *DB, log *slog.Logger) JobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &jobRepo{db: db, log: log, now: time.Now}
}

func (r *jobRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.db.dialect)
}

func (r *jobRepo) Create(ctx context.Context, job *entity.Job) (int64, error) {
	if err := job.Validate(); err != nil {
		return 0, common.NewAppError(common.CodeValidation, "invalid job", errors.Join(common.ErrValidation, err))
	}
	now := r.now()

	insert := r.builder().Insert(jobsTable).
		Columns(jobColumns[1:]...).
		Values(
			job.RawPath, job.FinalPath,
			job.Latitude, job.Longitude, job.Altitude,
			job.CapturedAt.UnixNano(), job.Caption, string(job.Status), job.ErrorDetail, now.UnixNano(),
		)

	var id int64
	if r.db.dialect == dialect.Postgres {
		query, args := insert.Returning("id").Query()
		rows := &entsql.Rows{}
		if err := r.db.drv.Query(ctx, query, args, rows); err != nil {
			r.log.Error("photo_job create failed", "raw_path", job.RawPath, "err", err)
			return 0, common.StorageFault("create job", err)
		}
		defer rows.Close()
		if !rows.Next() {
			err := rows.Err()
			if err == nil {
				err = errors.New("insert returned no id")
			}
			return 0, common.StorageFault("create job", err)
		}
		if err := rows.Scan(&id); err != nil {
			return 0, common.StorageFault("create job", err)
		}
	} else {
		query, args := insert.Query()
		var res stdsql.Result
		if err := r.db.drv.Exec(ctx, query, args, &res); err != nil {
			r.log.Error("photo_job create failed", "raw_path", job.RawPath, "err", err)
			return 0, common.StorageFault("create job", err)
		}
		var err error
		if id, err = res.LastInsertId(); err != nil {
			return 0, common.StorageFault("create job", err)
		}
	}

	job.ID = id
	job.UpdatedAt = time.Unix(0, now.UnixNano())
	r.log.Info("photo_job created", "job_id", id, "raw_path", job.RawPath, "status", job.Status)
	return id, nil
}

// Update replaces every mutable column of the record in one statement.
// captured_at is fixed at creation and never rewritten.
func (r *jobRepo) Update(ctx context.Context, job *entity.Job) error {
	if err := job.Validate(); err != nil {
		return common.NewAppError(common.CodeValidation, "invalid job", errors.Join(common.ErrValidation, err))
	}
	now := r.now()

	query, args := r.builder().Update(jobsTable).
		Set("raw_path", job.RawPath).
		Set("final_path", job.FinalPath).
		Set("latitude", job.Latitude).
		Set("longitude", job.Longitude).
		Set("altitude", job.Altitude).
		Set("caption", job.Caption).
		Set("status", string(job.Status)).
		Set("error_detail", job.ErrorDetail).
		Set("updated_at", now.UnixNano()).
		Where(entsql.EQ("id", job.ID)).
		Query()

	var res stdsql.Result
	if err := r.db.drv.Exec(ctx, query, args, &res); err != nil {
		r.log.Error("photo_job update failed", "job_id", job.ID, "status", job.Status, "err", err)
		return common.StorageFault("update job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.StorageFault("update job", err)
	}
	if n == 0 {
		return fmt.Errorf("update job %d: %w", job.ID, ErrJobNotFound)
	}

	job.UpdatedAt = time.Unix(0, now.UnixNano())
	r.log.Debug("photo_job updated", "job_id", job.ID, "status", job.Status)
	return nil
}

func (r *jobRepo) Get(ctx context.Context, id int64) (*entity.Job, error) {
	b := r.builder()
	query, args := b.Select(jobColumns...).
		From(b.Table(jobsTable)).
		Where(entsql.EQ("id", id)).
		Query()

	jobs, err := r.query(ctx, query, args)
	if err != nil {
		return nil, common.StorageFault("get job", err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("get job %d: %w", id, ErrJobNotFound)
	}
	return jobs[0], nil
}

// ListByStatus returns matching jobs in identity order, which is stable for
// a given snapshot.
func (r *jobRepo) ListByStatus(ctx context.Context, statuses ...constants.JobStatus) ([]*entity.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	vals := make([]any, len(statuses))
	for i, s := range statuses {
		vals[i] = string(s)
	}

	b := r.builder()
	query, args := b.Select(jobColumns...).
		From(b.Table(jobsTable)).
		Where(entsql.In("status", vals...)).
		OrderBy(entsql.Asc("id")).
		Query()

	jobs, err := r.query(ctx, query, args)
	if err != nil {
		r.log.Error("photo_job list by status failed", "statuses", statuses, "err", err)
		return nil, common.StorageFault("list jobs by status", err)
	}
	return jobs, nil
}

// ListAll returns every job, newest capture first.
func (r *jobRepo) ListAll(ctx context.Context) ([]*entity.Job, error) {
	b := r.builder()
	query, args := b.Select(jobColumns...).
		From(b.Table(jobsTable)).
		OrderBy(entsql.Desc("captured_at"), entsql.Desc("id")).
		Query()

	jobs, err := r.query(ctx, query, args)
	if err != nil {
		r.log.Error("photo_job list failed", "err", err)
		return nil, common.StorageFault("list jobs", err)
	}
	return jobs, nil
}

func (r *jobRepo) Delete(ctx context.Context, id int64) error {
	query, args := r.builder().Delete(jobsTable).
		Where(entsql.EQ("id", id)).
		Query()

	var res stdsql.Result
	if err := r.db.drv.Exec(ctx, query, args, &res); err != nil {
		r.log.Error("photo_job delete failed", "job_id", id, "err", err)
		return common.StorageFault("delete job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.StorageFault("delete job", err)
	}
	if n == 0 {
		return fmt.Errorf("delete job %d: %w", id, ErrJobNotFound)
	}
	r.log.Info("photo_job deleted", "job_id", id)
	return nil
}

func (r *jobRepo) query(ctx context.Context, query string, args []any) ([]*entity.Job, error) {
	rows := &entsql.Rows{}
	if err := r.db.drv.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Job
	for rows.Next() {
		var (
			j                     entity.Job
			status                string
			capturedAt, updatedAt int64
		)
		if err := rows.Scan(
			&j.ID, &j.RawPath, &j.FinalPath,
			&j.Latitude, &j.Longitude, &j.Altitude,
			&capturedAt, &j.Caption, &status, &j.ErrorDetail, &updatedAt,
		); err != nil {
			return nil, err
		}
		j.Status = constants.JobStatus(status)
		j.CapturedAt = time.Unix(0, capturedAt)
		j.UpdatedAt = time.Unix(0, updatedAt)
		out = append(out, &j)
	}
	return out, rows.Err()
}
