package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"qcline/internal/domain"
)

// ConflictError reports a compare-and-swap miss: the stored status no longer
// matches the status the caller read.
type ConflictError struct {
	AssetID  string
	Expected domain.AssetStatus
	Actual   domain.AssetStatus
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("asset %s: expected status %s, found %s", e.AssetID, e.Expected, e.Actual)
}

func (e ConflictError) Is(target error) bool { return target == domain.ErrConcurrentModification }

const assetColumns = `id,title,classification,status,qc_status,qc_score,COALESCE(qc_remarks,''),created_by,COALESCE(designed_by,''),
COALESCE(submitted_by,''),submitted_at,rework_count,linking_active,version,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (domain.AssetRecord, error) {
	var (
		a           domain.AssetRecord
		qcStatus    sql.NullString
		qcScore     sql.NullInt64
		submittedAt sql.NullString
		linking     int
	)
	err := row.Scan(&a.ID, &a.Title, &a.Classification, &a.Status, &qcStatus, &qcScore, &a.QCRemarks, &a.CreatedBy, &a.DesignedBy,
		&a.SubmittedBy, &submittedAt, &a.ReworkCount, &linking, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if qcStatus.Valid {
		s := domain.QCStatus(qcStatus.String)
		a.QCStatus = &s
	}
	if qcScore.Valid {
		v := int(qcScore.Int64)
		a.QCScore = &v
	}
	if submittedAt.Valid {
		v := submittedAt.String
		a.SubmittedAt = &v
	}
	a.LinkingActive = linking == 1
	return a, nil
}

func qcStatusValue(s *domain.QCStatus) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

func (r Repo) InsertAssetTx(ctx context.Context, tx *sql.Tx, a domain.AssetRecord) error {
	if a.Version == 0 {
		a.Version = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO assets(id,title,classification,status,qc_status,qc_score,qc_remarks,created_by,designed_by,
submitted_by,submitted_at,rework_count,linking_active,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Title, a.Classification, a.Status, qcStatusValue(a.QCStatus), nullableIntPtr(a.QCScore), nullable(a.QCRemarks),
		a.CreatedBy, nullable(a.DesignedBy), nullable(a.SubmittedBy), nullableStringPtr(a.SubmittedAt), a.ReworkCount,
		boolInt(a.LinkingActive), a.Version, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAsset(ctx context.Context, id string) (domain.AssetRecord, error) {
	return getAsset(ctx, r.DB, id)
}

func (r Repo) GetAssetTx(ctx context.Context, tx *sql.Tx, id string) (domain.AssetRecord, error) {
	return getAsset(ctx, tx, id)
}

func getAsset(ctx context.Context, q querier, id string) (domain.AssetRecord, error) {
	return scanAsset(q.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id=?`, id))
}

// AssetVersion returns the stored row version of an asset.
func (r Repo) AssetVersion(ctx context.Context, id string) (int64, error) {
	var version int64
	err := r.DB.QueryRowContext(ctx, `SELECT version FROM assets WHERE id=?`, id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	return version, err
}

// SaveAssetTx writes a only if its stored status still equals expected and
// returns the new row version. A miss is reported as ErrNotFound when the
// row is gone, otherwise as a ConflictError.
func (r Repo) SaveAssetTx(ctx context.Context, tx *sql.Tx, a domain.AssetRecord, expected domain.AssetStatus) (int64, error) {
	var version int64
	err := tx.QueryRowContext(ctx, `UPDATE assets SET title=?, classification=?, status=?, qc_status=?, qc_score=?, qc_remarks=?,
designed_by=?, submitted_by=?, submitted_at=?, rework_count=?, linking_active=?, version=version+1, updated_at=?
WHERE id=? AND status=? RETURNING version`,
		a.Title, a.Classification, a.Status, qcStatusValue(a.QCStatus), nullableIntPtr(a.QCScore), nullable(a.QCRemarks),
		nullable(a.DesignedBy), nullable(a.SubmittedBy), nullableStringPtr(a.SubmittedAt), a.ReworkCount, boolInt(a.LinkingActive),
		a.UpdatedAt, a.ID, expected).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	var actual domain.AssetStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM assets WHERE id=?`, a.ID).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return 0, ConflictError{AssetID: a.ID, Expected: expected, Actual: actual}
}

type AssetFilter struct {
	Status         domain.AssetStatus
	Classification string
	// VisibleTo restricts results to assets the actor created, designed or
	// submitted. Empty means no restriction.
	VisibleTo string
	Limit     int
}

func (r Repo) ListAssets(ctx context.Context, f AssetFilter) ([]domain.AssetRecord, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Classification != "" {
		clauses = append(clauses, "lower(classification)=lower(?)")
		args = append(args, f.Classification)
	}
	if f.VisibleTo != "" {
		clauses = append(clauses, "(created_by=? OR designed_by=? OR submitted_by=?)")
		args = append(args, f.VisibleTo, f.VisibleTo, f.VisibleTo)
	}
	query := `SELECT ` + assetColumns + ` FROM assets`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY updated_at DESC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AssetRecord
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
