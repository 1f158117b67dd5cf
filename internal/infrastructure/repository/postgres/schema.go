package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

const (
	schemaLockKey       = int64(2026101901)
	uniqueViolationCode = "23505"
	contentHashIndex    = "assets_content_hash_key"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the four tables. version_snapshots and audit_entries
// reject UPDATE and DELETE at the database level.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	filename TEXT NOT NULL,
	asset_type TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	storage_key TEXT NOT NULL,
	source_system TEXT NOT NULL,
	status TEXT NOT NULL,
	current_version INTEGER NOT NULL,
	current_version_id TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	operational_tags JSONB NOT NULL DEFAULT '{}'::jsonb,
	uploaded_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	processing_completed_at TIMESTAMPTZ,
	CONSTRAINT assets_content_hash_key UNIQUE (content_hash)
);

CREATE INDEX IF NOT EXISTS idx_assets_status ON assets(status);

CREATE TABLE IF NOT EXISTS version_snapshots (
	asset_id TEXT NOT NULL REFERENCES assets(id),
	version INTEGER NOT NULL,
	version_id TEXT NOT NULL,
	metadata JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	created_by TEXT NOT NULL,
	conflict_resolved BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (asset_id, version)
);

CREATE TABLE IF NOT EXISTS processing_jobs (
	id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL REFERENCES assets(id),
	workflow_name TEXT NOT NULL,
	status TEXT NOT NULL,
	progress_percentage INTEGER NOT NULL DEFAULT 0,
	capabilities_completed JSONB NOT NULL DEFAULT '[]'::jsonb,
	capabilities_failed JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_message TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	retry_config JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	estimated_completion TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processing_jobs_asset_created ON processing_jobs(asset_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_processing_jobs_status ON processing_jobs(status);

CREATE TABLE IF NOT EXISTS audit_entries (
	id TEXT PRIMARY KEY,
	asset_id TEXT,
	action TEXT NOT NULL,
	direction TEXT NOT NULL,
	controller TEXT NOT NULL,
	controller_version TEXT NOT NULL,
	source_system TEXT NOT NULL DEFAULT '',
	destination_system TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	actor TEXT NOT NULL,
	details JSONB NOT NULL DEFAULT '{}'::jsonb,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_entries_asset ON audit_entries(asset_id, recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_entries_controller ON audit_entries(controller, recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_entries_recorded ON audit_entries(recorded_at DESC);

CREATE OR REPLACE FUNCTION reject_append_only_mutation() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION '% is append-only', TG_TABLE_NAME;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS version_snapshots_append_only ON version_snapshots;
CREATE TRIGGER version_snapshots_append_only
	BEFORE UPDATE OR DELETE ON version_snapshots
	FOR EACH ROW EXECUTE FUNCTION reject_append_only_mutation();

DROP TRIGGER IF EXISTS audit_entries_append_only ON audit_entries;
CREATE TRIGGER audit_entries_append_only
	BEFORE UPDATE OR DELETE ON audit_entries
	FOR EACH ROW EXECUTE FUNCTION reject_append_only_mutation();
`

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolationCode && (constraint == "" || pgErr.ConstraintName == constraint)
}

func persistenceError(op string, err error) error {
	return domain.WrapError(domain.ErrPersistence, op, err)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
