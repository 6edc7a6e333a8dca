package repo

import (
	"context"
	"database/sql"

	"spcline/internal/domain"
)

const actionCols = `code,name,risk_code,target_role,instruction_template,priority,category,active`

func scanAction(scan func(...any) error) (domain.ActionDef, error) {
	var a domain.ActionDef
	var risk, category sql.NullString
	var active int
	if err := scan(&a.Code, &a.Name, &risk, &a.TargetRole, &a.InstructionTemplate, &a.Priority, &category, &active); err != nil {
		return a, err
	}
	a.RiskCode = strPtr(risk)
	if category.Valid {
		a.Category = category.String
	}
	a.Active = active != 0
	return a, nil
}

func (r Repo) InsertAction(ctx context.Context, a domain.ActionDef) error {
	active := 0
	if a.Active {
		active = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO meta_actions(code,name,risk_code,target_role,instruction_template,priority,category,active) VALUES (?,?,?,?,?,?,?,?)`,
		a.Code, a.Name, nullStr(a.RiskCode), a.TargetRole, a.InstructionTemplate, a.Priority, nullable(a.Category), active)
	return err
}

func (r Repo) GetAction(ctx context.Context, code string) (domain.ActionDef, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+actionCols+` FROM meta_actions WHERE code=?`, code)
	a, err := scanAction(row.Scan)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) listActions(ctx context.Context, query string, args ...any) ([]domain.ActionDef, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActionDef
	for rows.Next() {
		a, err := scanAction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListActiveActions returns the active action catalog ordered by code.
func (r Repo) ListActiveActions(ctx context.Context) ([]domain.ActionDef, error) {
	return r.listActions(ctx, `SELECT `+actionCols+` FROM meta_actions WHERE active=1 ORDER BY code`)
}

func (r Repo) ListActionsByRisk(ctx context.Context, riskCode string) ([]domain.ActionDef, error) {
	return r.listActions(ctx, `SELECT `+actionCols+` FROM meta_actions WHERE active=1 AND risk_code=? ORDER BY code`, riskCode)
}
