package repo

import (
	"context"
	"database/sql"
	"strings"

	"spcline/internal/domain"
)

func scanBatch(scan func(...any) error) (domain.Batch, error) {
	var b domain.Batch
	var product, operator, end sql.NullString
	if err := scan(&b.ID, &product, &operator, &b.StartTime, &end, &b.Status); err != nil {
		return b, err
	}
	if product.Valid {
		b.ProductName = product.String
	}
	b.OperatorID = strPtr(operator)
	b.EndTime = strPtr(end)
	return b, nil
}

func (r Repo) GetBatch(ctx context.Context, id string) (domain.Batch, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,product_name,operator_id,start_time,end_time,status FROM data_batches WHERE id=?`, id)
	b, err := scanBatch(row.Scan)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

// UpsertBatch inserts a batch or, when the id exists (auto-created by an
// earlier measurement), fills in the explicit fields instead of failing.
func (r Repo) UpsertBatch(ctx context.Context, b domain.Batch) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO data_batches(id,product_name,operator_id,start_time,end_time,status) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET product_name=excluded.product_name, operator_id=excluded.operator_id, end_time=excluded.end_time, status=excluded.status`,
		b.ID, nullable(b.ProductName), nullStr(b.OperatorID), b.StartTime, nullStr(b.EndTime), b.Status)
	return err
}

// EnsureBatchTx creates a Running batch row if none exists for id. Returns
// true when a new row was created.
func (r Repo) EnsureBatchTx(ctx context.Context, tx *sql.Tx, id, startTime string) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO data_batches(id,start_time,status) VALUES (?,?,'Running')`, id, startTime)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) ListBatchesByOperator(ctx context.Context, operatorID, start, end string) ([]domain.Batch, error) {
	clauses := []string{"operator_id=?"}
	args := []any{operatorID}
	if start != "" {
		clauses = append(clauses, "start_time>=?")
		args = append(args, start)
	}
	if end != "" {
		clauses = append(clauses, "start_time<?")
		args = append(args, end)
	}
	query := `SELECT id,product_name,operator_id,start_time,end_time,status FROM data_batches WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY start_time`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// ListBatchesStarted returns batches whose start_time falls in [start, end).
func (r Repo) ListBatchesStarted(ctx context.Context, start, end string) ([]domain.Batch, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,product_name,operator_id,start_time,end_time,status FROM data_batches
WHERE start_time>=? AND start_time<? ORDER BY start_time, id`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) InsertMeasurementTx(ctx context.Context, tx *sql.Tx, m domain.Measurement) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO data_measurements(batch_id,node_code,param_code,value,timestamp,source) VALUES (?,?,?,?,?,?)`,
		m.BatchID, m.NodeCode, m.ParamCode, m.Value, m.Timestamp, m.Source)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const measurementCols = `id,batch_id,node_code,param_code,value,timestamp,source`

// listMeasurements fetches the most recent rows matching where, then returns
// them ordered by timestamp ascending.
func (r Repo) listMeasurements(ctx context.Context, where string, limit int, args ...any) ([]domain.Measurement, error) {
	query := `SELECT ` + measurementCols + ` FROM data_measurements`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Measurement
	for rows.Next() {
		var m domain.Measurement
		if err := rows.Scan(&m.ID, &m.BatchID, &m.NodeCode, &m.ParamCode, &m.Value, &m.Timestamp, &m.Source); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

func (r Repo) ListMeasurementsByBatch(ctx context.Context, batchID string, limit int) ([]domain.Measurement, error) {
	return r.listMeasurements(ctx, `batch_id=?`, limit, batchID)
}

func (r Repo) ListMeasurementsByBatches(ctx context.Context, batchIDs []string, limit int) ([]domain.Measurement, error) {
	if len(batchIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(batchIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(batchIDs))
	for i, id := range batchIDs {
		args[i] = id
	}
	return r.listMeasurements(ctx, `batch_id IN (`+placeholders+`)`, limit, args...)
}

// ListMeasurementsByNode scopes to one node; paramCode may be empty for all
// parameters, and since may be empty for no lower bound.
func (r Repo) ListMeasurementsByNode(ctx context.Context, nodeCode, paramCode, since string, limit int) ([]domain.Measurement, error) {
	clauses := []string{"node_code=?"}
	args := []any{nodeCode}
	if paramCode != "" {
		clauses = append(clauses, "param_code=?")
		args = append(args, paramCode)
	}
	if since != "" {
		clauses = append(clauses, "timestamp>=?")
		args = append(args, since)
	}
	return r.listMeasurements(ctx, strings.Join(clauses, " AND "), limit, args...)
}

func (r Repo) ListMeasurementsByNodes(ctx context.Context, nodeCodes []string, start, end string, limit int) ([]domain.Measurement, error) {
	if len(nodeCodes) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(nodeCodes))
	placeholders = placeholders[:len(placeholders)-1]
	clauses := []string{`node_code IN (` + placeholders + `)`}
	var args []any
	for _, c := range nodeCodes {
		args = append(args, c)
	}
	if start != "" {
		clauses = append(clauses, "timestamp>=?")
		args = append(args, start)
	}
	if end != "" {
		clauses = append(clauses, "timestamp<?")
		args = append(args, end)
	}
	return r.listMeasurements(ctx, strings.Join(clauses, " AND "), limit, args...)
}

func (r Repo) ListMeasurementsByTime(ctx context.Context, start, end string, limit int) ([]domain.Measurement, error) {
	return r.listMeasurements(ctx, `timestamp>=? AND timestamp<?`, limit, start, end)
}

// LatestMeasurement returns the newest point for a (node, param) pair.
func (r Repo) LatestMeasurement(ctx context.Context, nodeCode, paramCode string) (domain.Measurement, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+measurementCols+` FROM data_measurements WHERE node_code=? AND param_code=? ORDER BY timestamp DESC, id DESC LIMIT 1`,
		nodeCode, paramCode)
	var m domain.Measurement
	err := row.Scan(&m.ID, &m.BatchID, &m.NodeCode, &m.ParamCode, &m.Value, &m.Timestamp, &m.Source)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}
