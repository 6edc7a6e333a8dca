package repo

import (
	"context"
	"database/sql"

	"spcline/internal/domain"
)

func (r Repo) InsertNode(ctx context.Context, n domain.Node) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO meta_process_nodes(code,name,node_type,parent_code) VALUES (?,?,?,?)`,
		n.Code, n.Name, n.Type, nullStr(n.ParentCode))
	return err
}

func scanNode(scan func(...any) error) (domain.Node, error) {
	var n domain.Node
	var parent sql.NullString
	if err := scan(&n.Code, &n.Name, &n.Type, &parent); err != nil {
		return n, err
	}
	n.ParentCode = strPtr(parent)
	return n, nil
}

func (r Repo) GetNode(ctx context.Context, code string) (domain.Node, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT code,name,node_type,parent_code FROM meta_process_nodes WHERE code=?`, code)
	n, err := scanNode(row.Scan)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	return n, err
}

func (r Repo) listNodes(ctx context.Context, query string, args ...any) ([]domain.Node, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Node
	for rows.Next() {
		n, err := scanNode(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) ListNodes(ctx context.Context) ([]domain.Node, error) {
	return r.listNodes(ctx, `SELECT code,name,node_type,parent_code FROM meta_process_nodes ORDER BY code`)
}

func (r Repo) ListNodesByType(ctx context.Context, nodeType string) ([]domain.Node, error) {
	return r.listNodes(ctx, `SELECT code,name,node_type,parent_code FROM meta_process_nodes WHERE node_type=? ORDER BY code`, nodeType)
}

func (r Repo) ListChildNodes(ctx context.Context, parentCode string) ([]domain.Node, error) {
	return r.listNodes(ctx, `SELECT code,name,node_type,parent_code FROM meta_process_nodes WHERE parent_code=? ORDER BY code`, parentCode)
}

func (r Repo) InsertFlow(ctx context.Context, f domain.Flow) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO meta_process_flows(source_code,target_code,name,loss_rate) VALUES (?,?,?,?)`,
		f.SourceCode, f.TargetCode, nullable(f.Name), nullFloat(f.LossRate))
	return err
}

func (r Repo) ListFlows(ctx context.Context) ([]domain.Flow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT source_code,target_code,name,loss_rate FROM meta_process_flows ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Flow
	for rows.Next() {
		var f domain.Flow
		var name sql.NullString
		var loss sql.NullFloat64
		if err := rows.Scan(&f.SourceCode, &f.TargetCode, &name, &loss); err != nil {
			return nil, err
		}
		if name.Valid {
			f.Name = name.String
		}
		f.LossRate = floatPtr(loss)
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) InsertParameter(ctx context.Context, p domain.ParameterDef) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO meta_parameters(node_code,code,name,unit,role,usl,lsl,target,data_type) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.NodeCode, p.Code, p.Name, nullable(p.Unit), p.Role, nullFloat(p.USL), nullFloat(p.LSL), nullFloat(p.Target), p.DataType)
	return err
}

func scanParameter(scan func(...any) error) (domain.ParameterDef, error) {
	var p domain.ParameterDef
	var unit sql.NullString
	var usl, lsl, target sql.NullFloat64
	if err := scan(&p.NodeCode, &p.Code, &p.Name, &unit, &p.Role, &usl, &lsl, &target, &p.DataType); err != nil {
		return p, err
	}
	if unit.Valid {
		p.Unit = unit.String
	}
	p.USL = floatPtr(usl)
	p.LSL = floatPtr(lsl)
	p.Target = floatPtr(target)
	return p, nil
}

func (r Repo) GetParameter(ctx context.Context, nodeCode, paramCode string) (domain.ParameterDef, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT node_code,code,name,unit,role,usl,lsl,target,data_type FROM meta_parameters WHERE node_code=? AND code=?`, nodeCode, paramCode)
	p, err := scanParameter(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListParameters(ctx context.Context, nodeCode string) ([]domain.ParameterDef, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT node_code,code,name,unit,role,usl,lsl,target,data_type FROM meta_parameters WHERE node_code=? ORDER BY code`, nodeCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ParameterDef
	for rows.Next() {
		p, err := scanParameter(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertRisk(ctx context.Context, rk domain.Risk) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO meta_risk_nodes(code,name,category,base_probability) VALUES (?,?,?,?)`,
		rk.Code, rk.Name, rk.Category, nullFloat(rk.BaseProbability))
	return err
}

func (r Repo) listRisks(ctx context.Context, query string, args ...any) ([]domain.Risk, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Risk
	for rows.Next() {
		var rk domain.Risk
		var prob sql.NullFloat64
		if err := rows.Scan(&rk.Code, &rk.Name, &rk.Category, &prob); err != nil {
			return nil, err
		}
		rk.BaseProbability = floatPtr(prob)
		res = append(res, rk)
	}
	return res, rows.Err()
}

func (r Repo) ListRisks(ctx context.Context) ([]domain.Risk, error) {
	return r.listRisks(ctx, `SELECT code,name,category,base_probability FROM meta_risk_nodes ORDER BY code`)
}

// ListRisksByCodePrefix returns risks whose code starts with prefix.
func (r Repo) ListRisksByCodePrefix(ctx context.Context, prefix string) ([]domain.Risk, error) {
	return r.listRisks(ctx, `SELECT code,name,category,base_probability FROM meta_risk_nodes WHERE code LIKE ? ORDER BY code`, prefix+"%")
}

func (r Repo) InsertRiskEdge(ctx context.Context, e domain.RiskEdge) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO meta_risk_edges(source_code,target_code) VALUES (?,?)`,
		e.SourceCode, e.TargetCode)
	return err
}

func (r Repo) ListRiskEdges(ctx context.Context) ([]domain.RiskEdge, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT source_code,target_code FROM meta_risk_edges ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RiskEdge
	for rows.Next() {
		var e domain.RiskEdge
		if err := rows.Scan(&e.SourceCode, &e.TargetCode); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
