package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
	"github.com/sebastiankruger/shopfloor-oee/internal/stoppage"
)

const stoppageColumns = `id, device_id, work_order_id, start_time, end_time, detection,
	minimum_threshold_minutes, is_classified, category_code, subcode, comment,
	classified_by, classified_at, version`

// StoppageRepository implements stoppage.Repository.
type StoppageRepository struct {
	db *sql.DB
}

var _ stoppage.Repository = (*StoppageRepository)(nil)

func (r *StoppageRepository) Create(ctx context.Context, e *stoppage.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}

	c := classificationColumns(e.Classification)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stoppage_events (`+stoppageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		e.ID, e.DeviceID, nullString(e.WorkOrderID), toUnix(e.StartTime), toNullTime(e.EndTime),
		string(e.Detection), e.MinimumThresholdMinutes,
		c.classified, c.category, c.subcode, c.comment, c.by, c.at,
	)
	if err != nil {
		return mapReasonErr(err, "insert stoppage", func() error {
			return errors.New().WithData(errors.ErrResourceBusy, e.DeviceID)
		})
	}

	e.Version = 1
	return nil
}

func (r *StoppageRepository) Get(ctx context.Context, id string) (*stoppage.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+stoppageColumns+` FROM stoppage_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New().WithData(errors.ErrStoppageNotFound, id)
	}
	if err != nil {
		return nil, storageErr("get stoppage", err)
	}
	return e, nil
}

func (r *StoppageRepository) Save(ctx context.Context, e *stoppage.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}

	c := classificationColumns(e.Classification)
	res, err := r.db.ExecContext(ctx, `
		UPDATE stoppage_events SET
			device_id = ?, work_order_id = ?, start_time = ?, end_time = ?, detection = ?,
			minimum_threshold_minutes = ?, is_classified = ?, category_code = ?, subcode = ?,
			comment = ?, classified_by = ?, classified_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		e.DeviceID, nullString(e.WorkOrderID), toUnix(e.StartTime), toNullTime(e.EndTime),
		string(e.Detection), e.MinimumThresholdMinutes,
		c.classified, c.category, c.subcode, c.comment, c.by, c.at,
		e.ID, e.Version,
	)
	if err != nil {
		return mapReasonErr(err, "update stoppage", func() error {
			return errors.New().WithData(errors.ErrResourceBusy, e.DeviceID)
		})
	}

	if err := checkUpdated(ctx, r.db, res, "stoppage_events", e.ID, errors.ErrStoppageNotFound); err != nil {
		return err
	}
	e.Version++
	return nil
}

func (r *StoppageRepository) OpenForDevice(ctx context.Context, deviceID string) (*stoppage.Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+stoppageColumns+` FROM stoppage_events
		WHERE device_id = ? AND end_time IS NULL`, deviceID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("open stoppage", err)
	}
	return e, nil
}

func (r *StoppageRepository) ListUnclassified(ctx context.Context, startedBefore time.Time) ([]*stoppage.Event, error) {
	return r.query(ctx, `
		SELECT `+stoppageColumns+` FROM stoppage_events
		WHERE is_classified = 0 AND start_time < ?
		ORDER BY start_time, id`, toUnix(startedBefore))
}

func (r *StoppageRepository) ListOverlapping(ctx context.Context, deviceID string, from, to time.Time) ([]*stoppage.Event, error) {
	return r.query(ctx, `
		SELECT `+stoppageColumns+` FROM stoppage_events
		WHERE device_id = ? AND start_time < ? AND (end_time IS NULL OR end_time > ?)
		ORDER BY start_time, id`, deviceID, toUnix(to), toUnix(from))
}

func (r *StoppageRepository) query(ctx context.Context, q string, args ...any) ([]*stoppage.Event, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr("query stoppages", err)
	}
	defer rows.Close()

	var out []*stoppage.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, storageErr("scan stoppage", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate stoppages", err)
	}
	return out, nil
}

func scanEvent(row scanner) (*stoppage.Event, error) {
	var (
		e           stoppage.Event
		workOrderID sql.NullString
		start       int64
		end         sql.NullInt64
		detection   string
		c           classificationRow
	)
	err := row.Scan(
		&e.ID, &e.DeviceID, &workOrderID, &start, &end, &detection,
		&e.MinimumThresholdMinutes, &c.classified, &c.category, &c.subcode, &c.comment,
		&c.by, &c.at, &e.Version,
	)
	if err != nil {
		return nil, err
	}

	e.WorkOrderID = workOrderID.String
	e.StartTime = fromUnix(start)
	e.EndTime = fromNullTime(end)
	e.Detection = stoppage.Detection(detection)
	e.Classification = c.classification()
	return &e, nil
}

// classificationRow is the column form of a *stoppage.Classification.
type classificationRow struct {
	classified bool
	category   sql.NullString
	subcode    sql.NullInt64
	comment    string
	by         sql.NullString
	at         sql.NullInt64
}

func classificationColumns(c *stoppage.Classification) classificationRow {
	if c == nil {
		return classificationRow{}
	}
	return classificationRow{
		classified: true,
		category:   sql.NullString{String: c.Category, Valid: true},
		subcode:    sql.NullInt64{Int64: int64(c.Subcode), Valid: true},
		comment:    c.Comment,
		by:         sql.NullString{String: c.ClassifiedBy, Valid: true},
		at:         toNullTime(&c.ClassifiedAt),
	}
}

func (r classificationRow) classification() *stoppage.Classification {
	if !r.classified {
		return nil
	}
	return &stoppage.Classification{
		Category:     r.category.String,
		Subcode:      int(r.subcode.Int64),
		Comment:      r.comment,
		ClassifiedBy: r.by.String,
		ClassifiedAt: fromUnix(r.at.Int64),
	}
}

// mapReasonErr converts constraint failures into domain errors. A unique
// violation is passed to onUnique since its meaning depends on the table.
func mapReasonErr(err error, op string, onUnique func() error) error {
	switch {
	case isConstraint(err, sqlite3.ErrConstraintForeignKey):
		return errors.New().Wrap(errors.ErrUnknownReason, err)
	case isConstraint(err, sqlite3.ErrConstraintCheck):
		return errors.New().Wrap(errors.ErrIncompleteClassifying, err)
	case isConstraint(err, sqlite3.ErrConstraintPrimaryKey):
		return errors.New().Wrap(errors.ErrInvalidArgument, err).WithMessage("duplicate id")
	case isConstraint(err, sqlite3.ErrConstraintUnique) && onUnique != nil:
		return onUnique()
	default:
		return storageErr(op, err)
	}
}
