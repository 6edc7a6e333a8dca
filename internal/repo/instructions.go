package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"spcline/internal/domain"
)

const instructionCols = `id,target_date,role,action_code,batch_id,node_code,param_code,content,status,priority,evidence_json,feedback,instruction_type,created_at,read_at,done_at`

func scanInstruction(scan func(...any) error) (domain.Instruction, error) {
	var ins domain.Instruction
	var batch, node, param, feedback, readAt, doneAt sql.NullString
	var evidence string
	if err := scan(&ins.ID, &ins.TargetDate, &ins.Role, &ins.ActionCode, &batch, &node, &param,
		&ins.Content, &ins.Status, &ins.Priority, &evidence, &feedback, &ins.InstructionType,
		&ins.CreatedAt, &readAt, &doneAt); err != nil {
		return ins, err
	}
	ins.BatchID = strPtr(batch)
	ins.NodeCode = strPtr(node)
	ins.ParamCode = strPtr(param)
	ins.Feedback = strPtr(feedback)
	ins.ReadAt = strPtr(readAt)
	ins.DoneAt = strPtr(doneAt)
	if evidence != "" {
		if err := json.Unmarshal([]byte(evidence), &ins.Evidence); err != nil {
			return ins, fmt.Errorf("instruction %s evidence: %w", ins.ID, err)
		}
	}
	return ins, nil
}

// InsertInstructionTx persists a new instruction unless an instruction with
// the same dedup tuple already exists; returns false in that case.
func (r Repo) InsertInstructionTx(ctx context.Context, tx *sql.Tx, ins domain.Instruction) (bool, error) {
	evidence, err := json.Marshal(ins.Evidence)
	if err != nil {
		return false, fmt.Errorf("marshal evidence: %w", err)
	}
	if ins.Evidence == nil {
		evidence = []byte("{}")
	}
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO data_instructions(id,target_date,role,action_code,batch_id,node_code,param_code,content,status,priority,evidence_json,instruction_type,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ins.ID, ins.TargetDate, ins.Role, ins.ActionCode, nullStr(ins.BatchID), nullStr(ins.NodeCode), nullStr(ins.ParamCode),
		ins.Content, ins.Status, ins.Priority, string(evidence), ins.InstructionType, ins.CreatedAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetInstruction(ctx context.Context, id string) (domain.Instruction, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+instructionCols+` FROM data_instructions WHERE id=?`, id)
	ins, err := scanInstruction(row.Scan)
	if err == sql.ErrNoRows {
		return ins, ErrNotFound
	}
	return ins, err
}

// ListInstructions filters by role, target date and statuses; empty values
// mean no filter. Rows come back newest first within descending priority
// score.
func (r Repo) ListInstructions(ctx context.Context, role, targetDate string, statuses []string) ([]domain.Instruction, error) {
	var clauses []string
	var args []any
	if role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, role)
	}
	if targetDate != "" {
		clauses = append(clauses, "target_date=?")
		args = append(args, targetDate)
	}
	if len(statuses) > 0 {
		placeholders := strings.Repeat("?,", len(statuses))
		clauses = append(clauses, `status IN (`+placeholders[:len(placeholders)-1]+`)`)
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query := `SELECT ` + instructionCols + ` FROM data_instructions`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY CASE priority WHEN 'CRITICAL' THEN 0 WHEN 'HIGH' THEN 1 WHEN 'MEDIUM' THEN 2 ELSE 3 END, created_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Instruction
	for rows.Next() {
		ins, err := scanInstruction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ins)
	}
	return res, rows.Err()
}

// CountInstructionsTx counts instructions already generated for a role on a
// target date, inside the generation transaction.
func (r Repo) CountInstructionsTx(ctx context.Context, tx *sql.Tx, targetDate, role string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM data_instructions WHERE target_date=? AND role=?`, targetDate, role).Scan(&n)
	return n, err
}

// MarkInstructionReadTx flips Pending to Read; returns false when the row is
// not currently Pending.
func (r Repo) MarkInstructionReadTx(ctx context.Context, tx *sql.Tx, id, ts string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE data_instructions SET status=?, read_at=? WHERE id=? AND status=?`,
		domain.InstructionRead, ts, id, domain.InstructionPending)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkInstructionDoneTx flips Read to Done recording optional feedback.
func (r Repo) MarkInstructionDoneTx(ctx context.Context, tx *sql.Tx, id, ts string, feedback *string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE data_instructions SET status=?, done_at=?, feedback=? WHERE id=? AND status=?`,
		domain.InstructionDone, ts, nullStr(feedback), id, domain.InstructionRead)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
