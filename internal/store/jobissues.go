package store

import (
	"context"
	"database/sql"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
	"github.com/sebastiankruger/shopfloor-oee/internal/stoppage"
)

const jobIssueColumns = `id, work_order_id, device_id, kind, planned_quantity, actual_quantity,
	created_at, is_classified, category_code, subcode, comment, classified_by, classified_at,
	resolved_by, resolved_at, version`

// JobIssueRepository implements stoppage.JobIssueRepository.
type JobIssueRepository struct {
	db *sql.DB
}

var _ stoppage.JobIssueRepository = (*JobIssueRepository)(nil)

func (r *JobIssueRepository) Create(ctx context.Context, j *stoppage.JobIssue) error {
	if err := j.Validate(); err != nil {
		return err
	}

	c := classificationColumns(j.Classification)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_issues (`+jobIssueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		j.ID, j.WorkOrderID, j.DeviceID, string(j.Kind), j.PlannedQuantity, j.ActualQuantity,
		toUnix(j.CreatedAt), c.classified, c.category, c.subcode, c.comment, c.by, c.at,
		nullString(j.ResolvedBy), toNullTime(j.ResolvedAt),
	)
	if err != nil {
		return mapReasonErr(err, "insert job issue", nil)
	}

	j.Version = 1
	return nil
}

func (r *JobIssueRepository) Get(ctx context.Context, id string) (*stoppage.JobIssue, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobIssueColumns+` FROM job_issues WHERE id = ?`, id)
	j, err := scanJobIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New().WithData(errors.ErrJobIssueNotFound, id)
	}
	if err != nil {
		return nil, storageErr("get job issue", err)
	}
	return j, nil
}

func (r *JobIssueRepository) Save(ctx context.Context, j *stoppage.JobIssue) error {
	if err := j.Validate(); err != nil {
		return err
	}

	c := classificationColumns(j.Classification)
	res, err := r.db.ExecContext(ctx, `
		UPDATE job_issues SET
			work_order_id = ?, device_id = ?, kind = ?, planned_quantity = ?, actual_quantity = ?,
			created_at = ?, is_classified = ?, category_code = ?, subcode = ?, comment = ?,
			classified_by = ?, classified_at = ?, resolved_by = ?, resolved_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		j.WorkOrderID, j.DeviceID, string(j.Kind), j.PlannedQuantity, j.ActualQuantity,
		toUnix(j.CreatedAt), c.classified, c.category, c.subcode, c.comment, c.by, c.at,
		nullString(j.ResolvedBy), toNullTime(j.ResolvedAt),
		j.ID, j.Version,
	)
	if err != nil {
		return mapReasonErr(err, "update job issue", nil)
	}

	if err := checkUpdated(ctx, r.db, res, "job_issues", j.ID, errors.ErrJobIssueNotFound); err != nil {
		return err
	}
	j.Version++
	return nil
}

func (r *JobIssueRepository) ListByWorkOrder(ctx context.Context, workOrderID string) ([]*stoppage.JobIssue, error) {
	return r.query(ctx, `
		SELECT `+jobIssueColumns+` FROM job_issues
		WHERE work_order_id = ?
		ORDER BY created_at, id`, workOrderID)
}

func (r *JobIssueRepository) ListUnresolved(ctx context.Context) ([]*stoppage.JobIssue, error) {
	return r.query(ctx, `
		SELECT `+jobIssueColumns+` FROM job_issues
		WHERE resolved_at IS NULL
		ORDER BY created_at, id`)
}

func (r *JobIssueRepository) query(ctx context.Context, q string, args ...any) ([]*stoppage.JobIssue, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr("query job issues", err)
	}
	defer rows.Close()

	var out []*stoppage.JobIssue
	for rows.Next() {
		j, err := scanJobIssue(rows)
		if err != nil {
			return nil, storageErr("scan job issue", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate job issues", err)
	}
	return out, nil
}

func scanJobIssue(row scanner) (*stoppage.JobIssue, error) {
	var (
		j          stoppage.JobIssue
		kind       string
		created    int64
		c          classificationRow
		resolvedBy sql.NullString
		resolvedAt sql.NullInt64
	)
	err := row.Scan(
		&j.ID, &j.WorkOrderID, &j.DeviceID, &kind, &j.PlannedQuantity, &j.ActualQuantity,
		&created, &c.classified, &c.category, &c.subcode, &c.comment, &c.by, &c.at,
		&resolvedBy, &resolvedAt, &j.Version,
	)
	if err != nil {
		return nil, err
	}

	j.Kind = stoppage.IssueKind(kind)
	j.CreatedAt = fromUnix(created)
	j.Classification = c.classification()
	j.ResolvedBy = resolvedBy.String
	j.ResolvedAt = fromNullTime(resolvedAt)
	return &j, nil
}
