package store

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
)

// SchemaVersion is bumped for every breaking schema change.
const SchemaVersion = 1

// Timestamps are stored as UTC unix nanoseconds.
const createTablesSQL = `
	CREATE TABLE IF NOT EXISTS schema_versions (
		version     INTEGER PRIMARY KEY,
		applied_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reason_categories (
		code        TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS reason_subcodes (
		category_code TEXT NOT NULL REFERENCES reason_categories(code),
		number        INTEGER NOT NULL CHECK (number BETWEEN 1 AND 9),
		name          TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (category_code, number)
	);

	CREATE TABLE IF NOT EXISTS work_orders (
		id                  TEXT PRIMARY KEY,
		product_id          TEXT NOT NULL DEFAULT '',
		product_description TEXT NOT NULL DEFAULT '',
		planned_quantity    INTEGER NOT NULL CHECK (planned_quantity >= 0),
		unit_of_measure     TEXT NOT NULL DEFAULT '',
		scheduled_start     INTEGER NOT NULL DEFAULT 0,
		scheduled_end       INTEGER NOT NULL DEFAULT 0,
		resource            TEXT NOT NULL,
		status              TEXT NOT NULL CHECK (status IN ('Pending', 'Active', 'Paused', 'Completed', 'Cancelled')),
		good_quantity       INTEGER NOT NULL DEFAULT 0 CHECK (good_quantity >= 0),
		scrap_quantity      INTEGER NOT NULL DEFAULT 0 CHECK (scrap_quantity >= 0),
		actual_start        INTEGER,
		actual_end          INTEGER,
		cancel_reason       TEXT NOT NULL DEFAULT '',
		version             INTEGER NOT NULL,
		CHECK (actual_start IS NULL OR actual_end IS NULL OR actual_end >= actual_start)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_work_orders_open_resource
		ON work_orders(resource) WHERE status IN ('Active', 'Paused');

	CREATE TABLE IF NOT EXISTS stoppage_events (
		id                        TEXT PRIMARY KEY,
		device_id                 TEXT NOT NULL,
		work_order_id             TEXT,
		start_time                INTEGER NOT NULL,
		end_time                  INTEGER,
		detection                 TEXT NOT NULL CHECK (detection IN ('auto', 'manual')),
		minimum_threshold_minutes REAL NOT NULL DEFAULT 0,
		is_classified             INTEGER NOT NULL DEFAULT 0 CHECK (is_classified IN (0, 1)),
		category_code             TEXT,
		subcode                   INTEGER,
		comment                   TEXT NOT NULL DEFAULT '',
		classified_by             TEXT,
		classified_at             INTEGER,
		version                   INTEGER NOT NULL,
		FOREIGN KEY (category_code, subcode) REFERENCES reason_subcodes(category_code, number),
		CHECK (end_time IS NULL OR end_time >= start_time),
		CHECK (is_classified = (category_code IS NOT NULL AND subcode IS NOT NULL
			AND classified_by IS NOT NULL AND classified_at IS NOT NULL))
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_stoppage_events_open_device
		ON stoppage_events(device_id) WHERE end_time IS NULL;
	CREATE INDEX IF NOT EXISTS idx_stoppage_events_device_start
		ON stoppage_events(device_id, start_time);

	CREATE TABLE IF NOT EXISTS job_issues (
		id               TEXT PRIMARY KEY,
		work_order_id    TEXT NOT NULL,
		device_id        TEXT NOT NULL,
		kind             TEXT NOT NULL CHECK (kind IN ('under_production', 'over_production')),
		planned_quantity INTEGER NOT NULL,
		actual_quantity  INTEGER NOT NULL,
		created_at       INTEGER NOT NULL,
		is_classified    INTEGER NOT NULL DEFAULT 0 CHECK (is_classified IN (0, 1)),
		category_code    TEXT,
		subcode          INTEGER,
		comment          TEXT NOT NULL DEFAULT '',
		classified_by    TEXT,
		classified_at    INTEGER,
		resolved_by      TEXT,
		resolved_at      INTEGER,
		version          INTEGER NOT NULL,
		FOREIGN KEY (category_code, subcode) REFERENCES reason_subcodes(category_code, number),
		CHECK (is_classified = (category_code IS NOT NULL AND subcode IS NOT NULL
			AND classified_by IS NOT NULL AND classified_at IS NOT NULL)),
		CHECK (resolved_at IS NULL OR is_classified = 1)
	);
	CREATE INDEX IF NOT EXISTS idx_job_issues_work_order ON job_issues(work_order_id);`

func (s *Store) migrate(ctx context.Context) error {
	version, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if version == SchemaVersion {
		log.Debug().Int("version", version).Msg("Schema is current")
		return nil
	}
	if version > SchemaVersion {
		return errors.New().WithMessage(errors.ErrStorage, "database schema is newer than this binary")
	}
	return s.initSchema(ctx)
}

func (s *Store) initSchema(ctx context.Context) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database schema...")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(errors.ErrStorage, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, createTablesSQL); err != nil {
		return errFactory.WithData(errors.ErrStorage, struct {
			Phase string
			Error string
		}{
			Phase: "create_tables",
			Error: err.Error(),
		})
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_versions (version, applied_at)
		VALUES (?, datetime('now'))
	`, SchemaVersion); err != nil {
		return errFactory.WithData(errors.ErrStorage, struct {
			Phase string
			Error string
		}{
			Phase: "record_version",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(errors.ErrStorage, err)
	}
	committed = true

	log.Info().Int("version", SchemaVersion).Msg("Schema initialized")
	return nil
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sqlite_master
			WHERE type = 'table' AND name = 'schema_versions'
		)`).Scan(&exists)
	if err != nil {
		return 0, storageErr("check schema table", err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = s.db.QueryRowContext(ctx, `
		SELECT version FROM schema_versions
		ORDER BY version DESC
		LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("read schema version", err)
	}
	return version, nil
}
