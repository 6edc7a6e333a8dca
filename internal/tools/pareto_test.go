package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spcline/internal/domain"
)

func TestParetoKeyFewSelection(t *testing.T) {
	data := Data{Categories: []Category{
		{Category: "温度异常", Count: 45},
		{Category: "压力异常", Count: 28},
		{Category: "水分异常", Count: 22},
		{Category: "时间偏差", Count: 18},
		{Category: "其他", Count: 7},
	}}

	res := ParetoTool{}.Run(data, Config{"threshold": 0.8})
	require.True(t, res.Success, "errors: %v", res.Errors)

	assert.Equal(t, 120.0, res.Result["total_count"])

	cumulative := res.PlotData["cumulative"].([]float64)
	expected := []float64{37.5, 60.8, 79.2, 94.2, 100.0}
	require.Len(t, cumulative, len(expected))
	for i, want := range expected {
		assert.InDelta(t, want, cumulative[i], 0.05, "cumulative[%d]", i)
	}

	// 79.2% after three categories is below the 80% threshold, so the key
	// few must extend to the fourth.
	assert.Equal(t, 4, res.Result["key_few_count"])
	assert.InDelta(t, 94.2, res.Result["key_few_contribution"].(float64), 0.05)

	abc := res.Result["abc_classification"].(map[string][]string)
	assert.Equal(t, []string{"温度异常", "压力异常", "水分异常", "时间偏差"}, abc["A"])
	assert.Equal(t, []string{"其他"}, abc["C"])
}

func TestParetoCumulativeInvariants(t *testing.T) {
	data := Data{Categories: []Category{
		{Category: "a", Count: 10},
		{Category: "b", Count: 30},
		{Category: "c", Count: 5},
	}}
	res := ParetoTool{}.Run(data, Config{})
	require.True(t, res.Success)

	cumulative := res.PlotData["cumulative"].([]float64)
	assert.InDelta(t, 100.0, cumulative[len(cumulative)-1], 1e-6)
	assert.GreaterOrEqual(t, res.Result["key_few_contribution"].(float64), 80.0)

	// Sorted descending, stable.
	assert.Equal(t, []string{"b", "a", "c"}, res.PlotData["categories"])
}

func TestParetoSingleCategory(t *testing.T) {
	res := ParetoTool{}.Run(Data{Categories: []Category{{Category: "温度异常", Count: 7}}}, Config{})
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Result["key_few_count"])
	assert.InDelta(t, 100.0, res.Result["key_few_contribution"].(float64), 1e-9)
	assert.Equal(t, []string{"温度异常"}, res.Result["key_few"])
}

func TestParetoEmptyInput(t *testing.T) {
	errs := ParetoTool{}.Validate(Data{}, Config{})
	require.Len(t, errs, 1)
	assert.Equal(t, domain.KindInsufficientData, domain.KindOf(errs[0]))

	res := ParetoTool{}.Run(Data{}, Config{})
	assert.False(t, res.Success)
}

func TestParetoZeroTotal(t *testing.T) {
	res := ParetoTool{}.Run(Data{Categories: []Category{{Category: "a", Count: 0}}}, Config{})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Errors)
}

func TestParetoColors(t *testing.T) {
	data := Data{Categories: []Category{
		{Category: "a", Count: 5}, {Category: "b", Count: 4}, {Category: "c", Count: 3},
		{Category: "d", Count: 2}, {Category: "e", Count: 1},
	}}
	res := ParetoTool{}.Run(data, Config{})
	require.True(t, res.Success)
	colors := res.PlotData["colors"].([]string)
	require.Len(t, colors, 5)
	assert.Equal(t, "rgba(255, 100, 0, 0.7)", colors[0])
	assert.Equal(t, "rgba(255, 40, 0, 0.7)", colors[2])
	assert.Equal(t, "rgba(200, 200, 200, 0.5)", colors[3])
}
