package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"qcline/internal/domain"
)

const checklistColumns = `id,name,type,category,status,scoring_mode,output_type,pass_threshold,rework_threshold,
auto_fail_required,auto_fail_critical,linked_modules_json,created_at,updated_at`

func scanChecklist(row rowScanner) (domain.Checklist, error) {
	var (
		c                      domain.Checklist
		autoRequired, autoCrit int
		mods                   string
	)
	err := row.Scan(&c.ID, &c.Name, &c.Type, &c.Category, &c.Status, &c.ScoringMode, &c.OutputType, &c.PassThreshold,
		&c.ReworkThreshold, &autoRequired, &autoCrit, &mods, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.AutoFailOnRequiredItemFail = autoRequired == 1
	c.AutoFailOnCriticalItemFail = autoCrit == 1
	if mods != "" {
		if err := json.Unmarshal([]byte(mods), &c.LinkedModules); err != nil {
			return c, err
		}
	}
	return c, nil
}

func modulesJSON(modules []string) (string, error) {
	if modules == nil {
		modules = []string{}
	}
	b, err := json.Marshal(modules)
	return string(b), err
}

// InsertChecklistTx stores a checklist and its items.
func (r Repo) InsertChecklistTx(ctx context.Context, tx *sql.Tx, c domain.Checklist) error {
	mods, err := modulesJSON(c.LinkedModules)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO checklists(id,name,type,category,status,scoring_mode,output_type,pass_threshold,
rework_threshold,auto_fail_required,auto_fail_critical,linked_modules_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, c.Type, c.Category, c.Status, c.ScoringMode, c.OutputType, c.PassThreshold, c.ReworkThreshold,
		boolInt(c.AutoFailOnRequiredItemFail), boolInt(c.AutoFailOnCriticalItemFail), mods, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return err
	}
	return insertItems(ctx, tx, c.ID, c.Items)
}

// UpdateChecklistTx rewrites the checklist header and replaces its items.
func (r Repo) UpdateChecklistTx(ctx context.Context, tx *sql.Tx, c domain.Checklist) error {
	mods, err := modulesJSON(c.LinkedModules)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE checklists SET name=?, type=?, category=?, status=?, scoring_mode=?, output_type=?,
pass_threshold=?, rework_threshold=?, auto_fail_required=?, auto_fail_critical=?, linked_modules_json=?, updated_at=? WHERE id=?`,
		c.Name, c.Type, c.Category, c.Status, c.ScoringMode, c.OutputType, c.PassThreshold, c.ReworkThreshold,
		boolInt(c.AutoFailOnRequiredItemFail), boolInt(c.AutoFailOnCriticalItemFail), mods, c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM checklist_items WHERE checklist_id=?`, c.ID); err != nil {
		return err
	}
	return insertItems(ctx, tx, c.ID, c.Items)
}

func insertItems(ctx context.Context, tx *sql.Tx, checklistID string, items []domain.ChecklistItem) error {
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `INSERT INTO checklist_items(id,checklist_id,name,severity,is_required,default_score,position)
VALUES (?,?,?,?,?,?,?)`, it.ID, checklistID, it.Name, it.Severity, boolInt(it.IsRequired), it.DefaultScore, it.Position); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetChecklist(ctx context.Context, id string) (domain.Checklist, error) {
	return getChecklist(ctx, r.DB, id)
}

func (r Repo) GetChecklistTx(ctx context.Context, tx *sql.Tx, id string) (domain.Checklist, error) {
	return getChecklist(ctx, tx, id)
}

func getChecklist(ctx context.Context, q querier, id string) (domain.Checklist, error) {
	c, err := scanChecklist(q.QueryRowContext(ctx, `SELECT `+checklistColumns+` FROM checklists WHERE id=?`, id))
	if err != nil {
		return c, err
	}
	byID, err := loadItems(ctx, q, []string{c.ID})
	if err != nil {
		return c, err
	}
	c.Items = byID[c.ID]
	return c, nil
}

type ChecklistFilter struct {
	Status domain.ChecklistStatus
	Type   domain.ChecklistType
	// Module keeps only checklists linked to this module, case-insensitively.
	Module string
}

// ListChecklists returns checklists ordered by most recently updated first,
// ties broken by id.
func (r Repo) ListChecklists(ctx context.Context, f ChecklistFilter) ([]domain.Checklist, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	query := `SELECT ` + checklistColumns + ` FROM checklists`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY updated_at DESC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var (
		out []domain.Checklist
		ids []string
	)
	for rows.Next() {
		c, err := scanChecklist(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if f.Module != "" && !linked(c.LinkedModules, f.Module) {
			continue
		}
		out = append(out, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(ids) == 0 {
		return out, nil
	}
	items, err := loadItems(ctx, r.DB, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func linked(modules []string, module string) bool {
	for _, m := range modules {
		if strings.EqualFold(strings.TrimSpace(m), strings.TrimSpace(module)) {
			return true
		}
	}
	return false
}

func loadItems(ctx context.Context, q querier, checklistIDs []string) (map[string][]domain.ChecklistItem, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(checklistIDs)), ",")
	args := make([]any, 0, len(checklistIDs))
	for _, id := range checklistIDs {
		args = append(args, id)
	}
	rows, err := q.QueryContext(ctx, `SELECT id,checklist_id,name,severity,is_required,default_score,position FROM checklist_items
WHERE checklist_id IN (`+placeholders+`) ORDER BY checklist_id, position ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string][]domain.ChecklistItem{}
	for rows.Next() {
		var (
			it          domain.ChecklistItem
			checklistID string
			required    int
		)
		if err := rows.Scan(&it.ID, &checklistID, &it.Name, &it.Severity, &required, &it.DefaultScore, &it.Position); err != nil {
			return nil, err
		}
		it.IsRequired = required == 1
		out[checklistID] = append(out[checklistID], it)
	}
	return out, rows.Err()
}
