package monitor

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

func newTestMonitor(t *testing.T) (Monitor, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := repo.Repo{DB: conn}
	m := Monitor{Repo: r, Now: func() time.Time { return time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC) }}
	return m, r
}

func seedUnit(t *testing.T, r repo.Repo, code, name string, values []float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.InsertNode(ctx, domain.Node{Code: code, Name: name, Type: "Unit"}))
	usl, lsl, target := 90.0, 80.0, 85.0
	require.NoError(t, r.InsertParameter(ctx, domain.ParameterDef{
		NodeCode: code, Code: "temp", Name: "温度", Unit: "℃", Role: "Control",
		USL: &usl, LSL: &lsl, Target: &target, DataType: "Scalar",
	}))
	require.NoError(t, r.UpsertBatch(ctx, domain.Batch{ID: "B_" + code, StartTime: "2025-01-08T00:00:00Z", Status: "Running"}))

	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	for i, v := range values {
		_, err := r.InsertMeasurementTx(ctx, tx, domain.Measurement{
			BatchID:   "B_" + code,
			NodeCode:  code,
			ParamCode: "temp",
			Value:     v,
			Timestamp: fmt.Sprintf("2025-01-08T%02d:%02d:00Z", 6+i/60, i%60),
			Source:    "SENSOR",
		})
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
}

func cycle(values []float64, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = values[i%len(values)]
	}
	return out
}

func TestNodeMonitorWindow(t *testing.T) {
	m, r := newTestMonitor(t)
	seedUnit(t, r, "E01", "提取罐一", cycle([]float64{84, 85, 86}, 30))
	m.Window = 20

	view, err := m.NodeMonitor(context.Background(), "E01")
	require.NoError(t, err)
	assert.Equal(t, "提取罐一", view.NodeName)
	require.Len(t, view.Parameters, 1)

	pv := view.Parameters[0]
	assert.Equal(t, "temp", pv.ParamCode)
	assert.Len(t, pv.Values, 20)
	// Series comes back oldest first; latest is the last point.
	assert.Equal(t, pv.Values[len(pv.Values)-1], pv.Latest)
	assert.Equal(t, pv.Timestamps[len(pv.Timestamps)-1], pv.LatestTime)
	for i := 1; i < len(pv.Timestamps); i++ {
		assert.LessOrEqual(t, pv.Timestamps[i-1], pv.Timestamps[i])
	}
	require.NotNil(t, pv.Cpk)
	assert.Greater(t, *pv.Cpk, 1.33)
	assert.Equal(t, StatusNormal, pv.Status)
}

func TestNodeMonitorUnknownNode(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.NodeMonitor(context.Background(), "ZZ")
	require.Error(t, err)
	assert.Equal(t, domain.KindUnknownEntity, domain.KindOf(err))
}

func TestNodeMonitorNoData(t *testing.T) {
	m, r := newTestMonitor(t)
	ctx := context.Background()
	require.NoError(t, r.InsertNode(ctx, domain.Node{Code: "E09", Name: "备用罐", Type: "Unit"}))
	require.NoError(t, r.InsertParameter(ctx, domain.ParameterDef{
		NodeCode: "E09", Code: "temp", Name: "温度", Role: "Control", DataType: "Scalar",
	}))

	view, err := m.NodeMonitor(ctx, "E09")
	require.NoError(t, err)
	require.Len(t, view.Parameters, 1)
	assert.Empty(t, view.Parameters[0].Values)
	assert.Nil(t, view.Parameters[0].Cpk)
	assert.Equal(t, StatusNormal, view.Parameters[0].Status)
}

func TestLatestStatusClassification(t *testing.T) {
	m, r := newTestMonitor(t)
	seedUnit(t, r, "E01", "提取罐一", cycle([]float64{84, 85, 86}, 12))       // Cpk ~2.0
	seedUnit(t, r, "E02", "提取罐二", cycle([]float64{83.4, 85, 86.6}, 12)) // Cpk ~1.25
	seedUnit(t, r, "E03", "提取罐三", cycle([]float64{82.8, 85, 87.2}, 12)) // Cpk ~0.91

	statuses, err := m.LatestStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	byCode := map[string]NodeStatus{}
	for _, s := range statuses {
		byCode[s.NodeCode] = s
	}
	assert.Equal(t, StatusNormal, byCode["E01"].Status)
	assert.Equal(t, StatusWarning, byCode["E02"].Status)
	assert.Equal(t, StatusError, byCode["E03"].Status)
	assert.NotEmpty(t, byCode["E01"].LatestTime)
	require.NotNil(t, byCode["E03"].Cpk)
	assert.Less(t, *byCode["E03"].Cpk, 1.0)
}
