package repo

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spcline/internal/db"
	"spcline/internal/domain"
	"spcline/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return Repo{DB: conn}
}

func TestEnsureBatchAutoCreate(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	created, err := r.EnsureBatchTx(ctx, tx, "B1", "2025-01-08T08:00:00Z")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = r.EnsureBatchTx(ctx, tx, "B1", "2025-01-08T09:00:00Z")
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, tx.Commit())

	b, err := r.GetBatch(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, "Running", b.Status)
	assert.Equal(t, "2025-01-08T08:00:00Z", b.StartTime)

	// A later explicit creation updates instead of failing.
	op := "op-1"
	require.NoError(t, r.UpsertBatch(ctx, domain.Batch{
		ID: "B1", ProductName: "复方制剂", OperatorID: &op,
		StartTime: "2025-01-08T08:00:00Z", Status: "Completed",
	}))
	b, err = r.GetBatch(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, "Completed", b.Status)
	assert.Equal(t, "复方制剂", b.ProductName)
	require.NotNil(t, b.OperatorID)
	assert.Equal(t, "op-1", *b.OperatorID)
}

func seedTestAction(t *testing.T, r Repo, code string) {
	t.Helper()
	require.NoError(t, r.InsertAction(context.Background(), domain.ActionDef{
		Code: code, Name: code, TargetRole: "Operator",
		InstructionTemplate: "check {node_name}", Priority: domain.PriorityMedium, Active: true,
	}))
}

func TestMeasurementWindowIsMostRecentAscending(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.InsertNode(ctx, domain.Node{Code: "E01", Name: "提取罐一", Type: "Unit"}))

	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = r.EnsureBatchTx(ctx, tx, "B1", "2025-01-08T00:00:00Z")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := r.InsertMeasurementTx(ctx, tx, domain.Measurement{
			BatchID: "B1", NodeCode: "E01", ParamCode: "temp",
			Value:     float64(i),
			Timestamp: fmt.Sprintf("2025-01-08T08:%02d:00Z", i),
			Source:    "SENSOR",
		})
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())

	ms, err := r.ListMeasurementsByBatch(ctx, "B1", 4)
	require.NoError(t, err)
	require.Len(t, ms, 4)
	// The window keeps the newest rows but yields them oldest first.
	assert.Equal(t, 6.0, ms[0].Value)
	assert.Equal(t, 9.0, ms[3].Value)
	for i := 1; i < len(ms); i++ {
		assert.LessOrEqual(t, ms[i-1].Timestamp, ms[i].Timestamp)
	}
}

func TestInstructionDedupTuple(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	seedTestAction(t, r, "ACT_1")
	batch := "B1"
	node := "E04"
	base := domain.Instruction{
		TargetDate: "2025-01-08", Role: "Operator", ActionCode: "ACT_1",
		BatchID: &batch, NodeCode: &node,
		Content: "do it", Status: domain.InstructionPending,
		Priority: domain.PriorityHigh, InstructionType: "tactical",
		CreatedAt: "2025-01-08T10:00:00Z",
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	first := base
	first.ID = "ins-1"
	inserted, err := r.InsertInstructionTx(ctx, tx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := base
	dup.ID = "ins-2"
	inserted, err = r.InsertInstructionTx(ctx, tx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	other := base
	other.ID = "ins-3"
	other.Role = "QA"
	inserted, err = r.InsertInstructionTx(ctx, tx, other)
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, tx.Commit())

	all, err := r.ListInstructions(ctx, "", "2025-01-08", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListInstructionsPriorityOrder(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	for i := range []int{0, 1, 2} {
		seedTestAction(t, r, fmt.Sprintf("ACT_%d", i))
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	for i, prio := range []string{domain.PriorityLow, domain.PriorityCritical, domain.PriorityMedium} {
		node := fmt.Sprintf("E%02d", i)
		_, err := r.InsertInstructionTx(ctx, tx, domain.Instruction{
			ID: fmt.Sprintf("ins-%d", i), TargetDate: "2025-01-08", Role: "Operator",
			ActionCode: fmt.Sprintf("ACT_%d", i), NodeCode: &node,
			Content: "x", Status: domain.InstructionPending, Priority: prio,
			InstructionType: "tactical", CreatedAt: "2025-01-08T10:00:00Z",
		})
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())

	out, err := r.ListInstructions(ctx, "Operator", "2025-01-08", nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, domain.PriorityCritical, out[0].Priority)
	assert.Equal(t, domain.PriorityMedium, out[1].Priority)
	assert.Equal(t, domain.PriorityLow, out[2].Priority)
}

func TestRisksByCodePrefix(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	for _, code := range []string{"R_E01_TEMP_HIGH", "R_E02_TEMP_LOW", "R_C01_MIX"} {
		require.NoError(t, r.InsertRisk(ctx, domain.Risk{Code: code, Name: code, Category: "Equipment"}))
	}

	risks, err := r.ListRisksByCodePrefix(ctx, "R_E")
	require.NoError(t, err)
	require.Len(t, risks, 2)
	assert.Equal(t, "R_E01_TEMP_HIGH", risks[0].Code)
}

func TestGetNodeNotFound(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.GetNode(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
