package events

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spcline/internal/db"
	"spcline/internal/migrate"
)

func newTestWriter(t *testing.T) Writer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return Writer{DB: conn, Now: func() time.Time {
		return time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)
	}}
}

func TestAppendRecordsTypedEvent(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	tx, err := w.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, tx, BatchCreated, "batch", "B1", "op-1", Payload{"start_time": "2025-01-08T08:00:00Z"}))
	require.NoError(t, tx.Commit())

	var evtType, ts, actor, payload string
	row := w.DB.QueryRowContext(ctx, `SELECT type, ts, actor, payload_json FROM events WHERE entity_id = ?`, "B1")
	require.NoError(t, row.Scan(&evtType, &ts, &actor, &payload))
	assert.Equal(t, string(BatchCreated), evtType)
	assert.Equal(t, "2025-01-08T10:00:00Z", ts)
	assert.Equal(t, "op-1", actor)
	assert.JSONEq(t, `{"start_time":"2025-01-08T08:00:00Z"}`, payload)
}

func TestAppendNullEntityID(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	tx, err := w.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, tx, MeasurementRecorded, "measurement", "", "op-1", nil))
	require.NoError(t, tx.Commit())

	var id sql.NullString
	var payload string
	row := w.DB.QueryRowContext(ctx, `SELECT entity_id, payload_json FROM events WHERE type = ?`, string(MeasurementRecorded))
	require.NoError(t, row.Scan(&id, &payload))
	assert.False(t, id.Valid)
	assert.JSONEq(t, `{}`, payload)
}
