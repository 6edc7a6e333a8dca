package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spcline/internal/domain"
)

func TestSPCStableProcess(t *testing.T) {
	data := Data{Values: []float64{85.0, 85.5, 86.0, 84.8, 85.2, 85.6, 85.1, 85.4, 85.3, 85.7}}
	cfg := Config{"usl": 90.0, "lsl": 80.0, "target": 85.0}

	res := SPCTool{}.Run(data, cfg)
	require.True(t, res.Success, "errors: %v", res.Errors)

	assert.InDelta(t, 85.36, res.Result["mean"], 0.001)
	assert.InDelta(t, 0.357, res.Result["std"], 0.02)
	assert.InDelta(t, 4.3, res.Result["cpk"].(float64), 0.2)
	assert.Equal(t, StatusInControl, res.Result["process_status"])
	assert.Empty(t, res.Result["violations"])
	assert.GreaterOrEqual(t, len(res.Insights), 2)

	plot := res.PlotData
	assert.Equal(t, "spc", plot["type"])
	assert.InDelta(t, 85.36+2.66*(4.3/9), plot["ucl"].(float64), 0.001)
	assert.InDelta(t, 85.36-2.66*(4.3/9), plot["lcl"].(float64), 0.001)
}

func TestSPCSpecBreach(t *testing.T) {
	data := Data{Values: []float64{85, 86, 85.5, 87, 85.8, 84.5, 86.2, 85.9, 90.2, 86.0}}
	cfg := Config{"usl": 90.0, "lsl": 80.0, "target": 85.0}

	res := SPCTool{}.Run(data, cfg)
	require.True(t, res.Success)

	violations := res.Result["violations"].([]map[string]any)
	require.Len(t, violations, 1)
	assert.Equal(t, 8, violations[0]["index"])
	assert.InDelta(t, 90.2, violations[0]["value"].(float64), 1e-9)
	assert.Equal(t, "USL", violations[0]["type"])
	assert.Equal(t, "Out of spec limit", violations[0]["rule"])
	assert.Equal(t, StatusOutOfControl, res.Result["process_status"])

	found := false
	for _, ins := range res.Insights {
		if strings.Contains(ins, "90.20") {
			found = true
		}
	}
	assert.True(t, found, "insights should reference the out-of-range sample: %v", res.Insights)
}

func TestSPCConstantInput(t *testing.T) {
	res := SPCTool{}.Run(Data{Values: []float64{5, 5, 5, 5}}, Config{"usl": 10.0, "lsl": 0.0})
	require.True(t, res.Success)

	assert.Equal(t, 0.0, res.Result["std"])
	assert.Equal(t, 0.0, res.Result["mr_bar"])
	assert.Equal(t, res.Result["ucl"], res.Result["lcl"])
	assert.Nil(t, res.Result["cp"])
	assert.Nil(t, res.Result["cpk"])
	assert.Equal(t, StatusInControl, res.Result["process_status"])
}

func TestSPCInsufficientData(t *testing.T) {
	errs := SPCTool{}.Validate(Data{Values: []float64{85.0}}, Config{})
	require.Len(t, errs, 1)
	assert.Equal(t, domain.KindInsufficientData, domain.KindOf(errs[0]))

	res := SPCTool{}.Run(Data{Values: []float64{85.0}}, Config{})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Errors)
}

func TestSPCTwoPoints(t *testing.T) {
	res := SPCTool{}.Run(Data{Values: []float64{84, 86}}, Config{})
	require.True(t, res.Success)
	assert.InDelta(t, 2.0, res.Result["mr_bar"], 1e-9)
	assert.InDelta(t, 85+2.66*2, res.Result["ucl"].(float64), 1e-9)
	assert.Nil(t, res.Result["cpk"])
}

func TestCpkGrade(t *testing.T) {
	assert.Equal(t, "优秀", CpkGrade(1.4))
	assert.Equal(t, "良好", CpkGrade(1.1))
	assert.Equal(t, "勉强", CpkGrade(0.7))
	assert.Equal(t, "不足", CpkGrade(0.5))
}
