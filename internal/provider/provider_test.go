package provider

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spcline/internal/db"
	"spcline/internal/domain"
	"spcline/internal/migrate"
	"spcline/internal/repo"
)

var testClock = time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)

func newTestProvider(t *testing.T) (Provider, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := repo.Repo{DB: conn}
	p := Provider{Repo: r, Now: func() time.Time { return testClock }, DefaultLimit: 100, MaxLimit: 200}
	return p, r
}

func seedGraph(t *testing.T, r repo.Repo) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.InsertNode(ctx, domain.Node{Code: "BLOCK_E", Name: "提取车间", Type: "Block"}))
	parent := "BLOCK_E"
	for _, unit := range []struct{ code, name string }{{"E01", "提取罐一"}, {"E02", "提取罐二"}} {
		require.NoError(t, r.InsertNode(ctx, domain.Node{Code: unit.code, Name: unit.name, Type: "Unit", ParentCode: &parent}))
		usl, lsl, target := 90.0, 80.0, 85.0
		require.NoError(t, r.InsertParameter(ctx, domain.ParameterDef{
			NodeCode: unit.code, Code: "temp", Name: "温度", Unit: "℃", Role: "Control",
			USL: &usl, LSL: &lsl, Target: &target, DataType: "Scalar",
		}))
	}
	require.NoError(t, r.InsertNode(ctx, domain.Node{Code: "TANK_A", Name: "储罐", Type: "Resource", ParentCode: &parent}))
}

func seedMeasurements(t *testing.T, r repo.Repo, batchID, operatorID, nodeCode, day string, values []float64) {
	t.Helper()
	ctx := context.Background()
	var op *string
	if operatorID != "" {
		op = &operatorID
	}
	require.NoError(t, r.UpsertBatch(ctx, domain.Batch{
		ID: batchID, ProductName: "复方制剂", OperatorID: op,
		StartTime: day + "T08:00:00Z", Status: "Running",
	}))
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	for i, v := range values {
		_, err := r.InsertMeasurementTx(ctx, tx, domain.Measurement{
			BatchID:   batchID,
			NodeCode:  nodeCode,
			ParamCode: "temp",
			Value:     v,
			Timestamp: fmt.Sprintf("%sT08:%02d:00Z", day, 10+i),
			Source:    "SENSOR",
		})
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
}

func TestByBatchGroupsAndOrders(t *testing.T) {
	p, r := newTestProvider(t)
	seedGraph(t, r)
	seedMeasurements(t, r, "B1", "", "E02", "2025-01-08", []float64{85, 86})
	seedMeasurements(t, r, "B1", "", "E01", "2025-01-08", []float64{84, 85, 86})

	dc, err := p.ByBatch(context.Background(), "B1", 0)
	require.NoError(t, err)
	assert.Equal(t, "batch", dc.Dimension)
	assert.Equal(t, []string{"B1"}, dc.Batches)
	require.Len(t, dc.Groups, 2)
	// Sorted by (node, param).
	assert.Equal(t, "E01", dc.Groups[0].NodeCode)
	assert.Equal(t, "E02", dc.Groups[1].NodeCode)
	assert.Equal(t, []float64{84, 85, 86}, dc.Groups[0].Values)
	require.NotNil(t, dc.Groups[0].Param)
	assert.Equal(t, "温度", dc.Groups[0].Param.Name)
	assert.Equal(t, "复方制剂", dc.Metadata["product_name"])
}

func TestByBatchUnknownIsEmpty(t *testing.T) {
	p, _ := newTestProvider(t)
	dc, err := p.ByBatch(context.Background(), "NOPE", 0)
	require.NoError(t, err)
	assert.True(t, dc.Empty())
}

func TestByProcessTimeWindow(t *testing.T) {
	p, r := newTestProvider(t)
	seedGraph(t, r)
	seedMeasurements(t, r, "B_OLD", "", "E01", "2024-12-01", []float64{82, 83})
	seedMeasurements(t, r, "B_NEW", "", "E01", "2025-01-07", []float64{84, 85, 86})

	dc, err := p.ByProcess(context.Background(), "E01", "temp", 7, 0)
	require.NoError(t, err)
	require.Len(t, dc.Groups, 1)
	assert.Equal(t, []float64{84, 85, 86}, dc.Groups[0].Values)
	assert.Equal(t, []string{"B_NEW"}, dc.Batches)
	assert.Equal(t, 7, dc.Metadata["time_window"])
}

func TestByWorkshopUnitsOnly(t *testing.T) {
	p, r := newTestProvider(t)
	seedGraph(t, r)
	seedMeasurements(t, r, "B1", "", "E01", "2025-01-08", []float64{84, 85})
	seedMeasurements(t, r, "B1", "", "E02", "2025-01-08", []float64{85, 86})
	// Resource node data is out of scope for workshop analysis.
	seedMeasurements(t, r, "B1", "", "TANK_A", "2025-01-08", []float64{42})

	dc, err := p.ByWorkshop(context.Background(), "BLOCK_E", "2025-01-08", 0)
	require.NoError(t, err)
	require.Len(t, dc.Groups, 2)
	assert.Equal(t, "E01", dc.Groups[0].NodeCode)
	assert.Equal(t, "E02", dc.Groups[1].NodeCode)
	assert.Equal(t, []string{"E01", "E02"}, dc.Metadata["node_codes"])
}

func TestByPersonAttributesThroughBatches(t *testing.T) {
	p, r := newTestProvider(t)
	seedGraph(t, r)
	seedMeasurements(t, r, "B1", "op-1", "E01", "2025-01-07", []float64{84, 85})
	seedMeasurements(t, r, "B2", "op-2", "E01", "2025-01-07", []float64{99, 99})

	dc, err := p.ByPerson(context.Background(), "op-1", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"B1"}, dc.Batches)
	require.Len(t, dc.Groups, 1)
	assert.Equal(t, []float64{84, 85}, dc.Groups[0].Values)

	dc, err = p.ByPerson(context.Background(), "op-1", []string{"2025-01-08", "2025-01-09"}, 0)
	require.NoError(t, err)
	assert.True(t, dc.Empty())
}

func TestByTimeRange(t *testing.T) {
	p, r := newTestProvider(t)
	seedGraph(t, r)
	seedMeasurements(t, r, "B1", "", "E01", "2025-01-06", []float64{84})
	seedMeasurements(t, r, "B2", "", "E01", "2025-01-08", []float64{85})

	dc, err := p.ByTime(context.Background(), "2025-01-06", "2025-01-06", "day", 0)
	require.NoError(t, err)
	require.Len(t, dc.Groups, 1)
	assert.Equal(t, []float64{84}, dc.Groups[0].Values)
	assert.Equal(t, 1, dc.Metadata["total_days"])
}

func TestByTimeBadInterval(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	_, err := p.ByTime(ctx, "2025-01-08", "2025-01-06", "day", 0)
	require.Error(t, err)
	assert.Equal(t, domain.KindBadRequest, domain.KindOf(err))

	_, err = p.ByTime(ctx, "not-a-date", "2025-01-08", "day", 0)
	require.Error(t, err)
	assert.Equal(t, domain.KindBadRequest, domain.KindOf(err))

	_, err = p.ByTime(ctx, "2025-01-06", "2025-01-08", "hourly", 0)
	require.Error(t, err)
	assert.Equal(t, domain.KindBadRequest, domain.KindOf(err))
}

func TestLimitClamp(t *testing.T) {
	p, r := newTestProvider(t)
	seedGraph(t, r)
	values := make([]float64, 30)
	for i := range values {
		values[i] = 85
	}
	seedMeasurements(t, r, "B1", "", "E01", "2025-01-08", values)

	dc, err := p.ByBatch(context.Background(), "B1", 10)
	require.NoError(t, err)
	require.Len(t, dc.Groups, 1)
	assert.Len(t, dc.Groups[0].Values, 10)

	p.MaxLimit = 20
	dc, err = p.ByBatch(context.Background(), "B1", 500)
	require.NoError(t, err)
	assert.Len(t, dc.Groups[0].Values, 20)
}
