package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Type names an audit event. The set below is closed: every state change the
// system records flows through one of these.
type Type string

const (
	BatchCreated        Type = "batch.created"
	MeasurementRecorded Type = "measurement.recorded"
	InstructionCreated  Type = "instruction.created"
	InstructionRead     Type = "instruction.read"
	InstructionDone     Type = "instruction.done"
)

// Writer appends audit rows inside the caller's transaction so the event
// commits or rolls back with the state change it records.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType Type, entityKind, entityID, actor string, payload Payload) error {
	ts := w.now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, string(evtType), entityKind, nullable(entityID), actor, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
