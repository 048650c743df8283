package repository

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect"
)

const jobsTable = "photo_jobs"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS photo_jobs (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		raw_path     TEXT    NOT NULL,
		final_path   TEXT    NOT NULL DEFAULT '',
		latitude     REAL    NOT NULL DEFAULT 0,
		longitude    REAL    NOT NULL DEFAULT 0,
		altitude     REAL    NOT NULL DEFAULT 0,
		captured_at  INTEGER NOT NULL,
		caption      TEXT    NOT NULL DEFAULT '',
		status       TEXT    NOT NULL,
		error_detail TEXT    NOT NULL DEFAULT '',
		updated_at   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS photo_jobs_status_idx ON photo_jobs (status)`,
	`CREATE INDEX IF NOT EXISTS photo_jobs_captured_at_idx ON photo_jobs (captured_at)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS photo_jobs (
		id           BIGSERIAL PRIMARY KEY,
		raw_path     TEXT             NOT NULL,
		final_path   TEXT             NOT NULL DEFAULT '',
		latitude     DOUBLE PRECISION NOT NULL DEFAULT 0,
		longitude    DOUBLE PRECISION NOT NULL DEFAULT 0,
		altitude     DOUBLE PRECISION NOT NULL DEFAULT 0,
		captured_at  BIGINT           NOT NULL,
		caption      TEXT             NOT NULL DEFAULT '',
		status       TEXT             NOT NULL,
		error_detail TEXT             NOT NULL DEFAULT '',
		updated_at   BIGINT           NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS photo_jobs_status_idx ON photo_jobs (status)`,
	`CREATE INDEX IF NOT EXISTS photo_jobs_captured_at_idx ON photo_jobs (captured_at)`,
}

// migrate applies the idempotent schema for the handle's dialect.
func migrate(ctx context.Context, db *DB) error {
	stmts := sqliteSchema
	if db.dialect == dialect.Postgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := db.drv.DB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
