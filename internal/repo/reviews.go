package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"qcline/internal/domain"
)

// InsertReviewTx stores a completed review with the checklist as evaluated.
func (r Repo) InsertReviewTx(ctx context.Context, tx *sql.Tx, rv domain.ReviewRecord) error {
	snapshot, err := json.Marshal(rv.ChecklistSnapshot)
	if err != nil {
		return err
	}
	evals, err := json.Marshal(rv.Evaluations)
	if err != nil {
		return err
	}
	warnings := rv.Warnings
	if warnings == nil {
		warnings = []domain.DecisionWarning{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO reviews(id,asset_id,reviewer_id,reviewer_role,checklist_id,checklist_json,evaluations_json,
raw_score,score,outcome,requested_decision,warnings_json,remarks,from_status,to_status,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rv.ID, rv.AssetID, rv.ReviewerID, rv.ReviewerRole, rv.ChecklistID, string(snapshot), string(evals), rv.RawScore, rv.Score,
		rv.Outcome, rv.Requested, string(warningsJSON), nullable(rv.Remarks), rv.FromStatus, rv.ToStatus, rv.CreatedAt)
	return err
}

// ListReviews returns an asset's review history, oldest first.
func (r Repo) ListReviews(ctx context.Context, assetID string) ([]domain.ReviewRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,asset_id,reviewer_id,reviewer_role,checklist_id,checklist_json,evaluations_json,raw_score,
score,outcome,requested_decision,warnings_json,COALESCE(remarks,''),from_status,to_status,created_at
FROM reviews WHERE asset_id=? ORDER BY created_at ASC, rowid ASC`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ReviewRecord
	for rows.Next() {
		var (
			rv                        domain.ReviewRecord
			snapshot, evals, warnings string
		)
		if err := rows.Scan(&rv.ID, &rv.AssetID, &rv.ReviewerID, &rv.ReviewerRole, &rv.ChecklistID, &snapshot, &evals, &rv.RawScore,
			&rv.Score, &rv.Outcome, &rv.Requested, &warnings, &rv.Remarks, &rv.FromStatus, &rv.ToStatus, &rv.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(snapshot), &rv.ChecklistSnapshot); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(evals), &rv.Evaluations); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(warnings), &rv.Warnings); err != nil {
			return nil, err
		}
		if len(rv.Warnings) == 0 {
			rv.Warnings = nil
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}
