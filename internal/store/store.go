// Package store persists work orders, stoppages, job issues and the reason
// taxonomy in SQLite.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
)

const defaultDirPerm = 0o755

// Store owns the database handle and hands out repositories.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the database file if needed and brings the schema up to date.
func Open(ctx context.Context, path string) (*Store, error) {
	errFactory := errors.New()

	if path == "" {
		return nil, errFactory.WithMessage(errors.ErrInvalidConfig, "store path is required")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
			return nil, errFactory.WithData(errors.ErrStorage, struct {
				Phase string
				Path  string
				Error string
			}{
				Phase: "create_directory",
				Path:  path,
				Error: err.Error(),
			})
		}
	}

	dsn := path + "?_journal=WAL&_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrStorage, err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().
		Str("path", path).
		Int("schema_version", SchemaVersion).
		Msg("Store initialized")

	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WorkOrders() *WorkOrderRepository {
	return &WorkOrderRepository{db: s.db}
}

func (s *Store) Stoppages() *StoppageRepository {
	return &StoppageRepository{db: s.db}
}

func (s *Store) JobIssues() *JobIssueRepository {
	return &JobIssueRepository{db: s.db}
}

func isConstraint(err error, codes ...sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	for _, c := range codes {
		if sqliteErr.ExtendedCode == c {
			return true
		}
	}
	return false
}

func storageErr(op string, err error) error {
	return errors.New().Wrap(errors.ErrStorage, err).WithMessage("storage: " + op)
}

func toNullTime(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixNano(), Valid: true}
}

func fromNullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
