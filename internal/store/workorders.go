package store

import (
	"context"
	"database/sql"

	"github.com/mattn/go-sqlite3"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
	"github.com/sebastiankruger/shopfloor-oee/internal/workorder"
)

const workOrderColumns = `id, product_id, product_description, planned_quantity, unit_of_measure,
	scheduled_start, scheduled_end, resource, status, good_quantity, scrap_quantity,
	actual_start, actual_end, cancel_reason, version`

// WorkOrderRepository implements workorder.Repository.
type WorkOrderRepository struct {
	db *sql.DB
}

var _ workorder.Repository = (*WorkOrderRepository)(nil)

func (r *WorkOrderRepository) Create(ctx context.Context, w *workorder.WorkOrder) error {
	s := w.Snapshot()
	s.Version = 1

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO work_orders (`+workOrderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ProductID, s.ProductDescription, s.PlannedQuantity, s.UnitOfMeasure,
		toUnix(s.ScheduledStart), toUnix(s.ScheduledEnd), s.Resource, s.Status.String(),
		s.GoodQuantity, s.ScrapQuantity, toNullTime(s.ActualStart), toNullTime(s.ActualEnd),
		s.CancelReason, s.Version,
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
			return errors.New().WithData(errors.ErrDuplicateWorkOrder, s.ID)
		}
		if isConstraint(err, sqlite3.ErrConstraintUnique) {
			return errors.New().WithData(errors.ErrResourceBusy, s.Resource)
		}
		return storageErr("insert work order", err)
	}

	w.SetVersion(s.Version)
	return nil
}

func (r *WorkOrderRepository) Get(ctx context.Context, id string) (*workorder.WorkOrder, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = ?`, id)
	w, err := scanWorkOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New().WithData(errors.ErrWorkOrderNotFound, id)
	}
	if err != nil {
		return nil, storageErr("get work order", err)
	}
	return w, nil
}

// Save writes the order if the stored version still matches.
func (r *WorkOrderRepository) Save(ctx context.Context, w *workorder.WorkOrder) error {
	s := w.Snapshot()

	res, err := r.db.ExecContext(ctx, `
		UPDATE work_orders SET
			product_id = ?, product_description = ?, planned_quantity = ?, unit_of_measure = ?,
			scheduled_start = ?, scheduled_end = ?, resource = ?, status = ?,
			good_quantity = ?, scrap_quantity = ?, actual_start = ?, actual_end = ?,
			cancel_reason = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		s.ProductID, s.ProductDescription, s.PlannedQuantity, s.UnitOfMeasure,
		toUnix(s.ScheduledStart), toUnix(s.ScheduledEnd), s.Resource, s.Status.String(),
		s.GoodQuantity, s.ScrapQuantity, toNullTime(s.ActualStart), toNullTime(s.ActualEnd),
		s.CancelReason, s.ID, s.Version,
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique) {
			return errors.New().WithData(errors.ErrResourceBusy, s.Resource)
		}
		return storageErr("update work order", err)
	}

	if err := checkUpdated(ctx, r.db, res, "work_orders", s.ID, errors.ErrWorkOrderNotFound); err != nil {
		return err
	}
	w.SetVersion(s.Version + 1)
	return nil
}

func (r *WorkOrderRepository) OpenForResource(ctx context.Context, resource string) ([]*workorder.WorkOrder, error) {
	return r.query(ctx, `
		SELECT `+workOrderColumns+` FROM work_orders
		WHERE resource = ? AND status IN ('Active', 'Paused')
		ORDER BY id`, resource)
}

func (r *WorkOrderRepository) ListByStatus(ctx context.Context, status workorder.Status) ([]*workorder.WorkOrder, error) {
	return r.query(ctx, `
		SELECT `+workOrderColumns+` FROM work_orders
		WHERE status = ?
		ORDER BY scheduled_start, id`, status.String())
}

func (r *WorkOrderRepository) query(ctx context.Context, q string, args ...any) ([]*workorder.WorkOrder, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr("query work orders", err)
	}
	defer rows.Close()

	var out []*workorder.WorkOrder
	for rows.Next() {
		w, err := scanWorkOrder(rows)
		if err != nil {
			return nil, storageErr("scan work order", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate work orders", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkOrder(row scanner) (*workorder.WorkOrder, error) {
	var (
		s           workorder.Snapshot
		status      string
		schedStart  int64
		schedEnd    int64
		actualStart sql.NullInt64
		actualEnd   sql.NullInt64
	)
	err := row.Scan(
		&s.ID, &s.ProductID, &s.ProductDescription, &s.PlannedQuantity, &s.UnitOfMeasure,
		&schedStart, &schedEnd, &s.Resource, &status, &s.GoodQuantity, &s.ScrapQuantity,
		&actualStart, &actualEnd, &s.CancelReason, &s.Version,
	)
	if err != nil {
		return nil, err
	}

	st, err := workorder.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	s.Status = st
	s.ScheduledStart = fromUnix(schedStart)
	s.ScheduledEnd = fromUnix(schedEnd)
	s.ActualStart = fromNullTime(actualStart)
	s.ActualEnd = fromNullTime(actualEnd)

	return workorder.Restore(s), nil
}

// checkUpdated distinguishes a missing row from a stale version after an
// UPDATE ... WHERE version = ? touched nothing.
func checkUpdated(ctx context.Context, db *sql.DB, res sql.Result, table, id string, notFound errors.ErrorCode) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("rows affected", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return storageErr("check existence", err)
	}
	if !exists {
		return errors.New().WithData(notFound, id)
	}
	return errors.New().WithData(errors.ErrVersionConflict, id)
}
