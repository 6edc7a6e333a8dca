package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// normalSample builds a deterministic, maximally normal-shaped sample from
// standard normal quantiles.
func normalSample(n int, mu, sigma float64) []float64 {
	xs := make([]float64, n)
	for i := 0; i < n; i++ {
		xs[i] = mu + sigma*normPPF((float64(i)+0.5)/float64(n))
	}
	return xs
}

func TestHistogramBinning(t *testing.T) {
	data := Data{Values: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}
	res := HistogramTool{}.Run(data, Config{"bins": 5})
	require.True(t, res.Success, "errors: %v", res.Errors)

	boundaries := res.PlotData["bins"].([]float64)
	counts := res.PlotData["counts"].([]int)
	require.Len(t, boundaries, 6)
	require.Len(t, counts, 5)

	sum := 0
	for _, c := range counts {
		sum += c
	}
	assert.Equal(t, 10, sum)
	assert.InDelta(t, 1.0, boundaries[0], 1e-9)
	assert.InDelta(t, 10.0, boundaries[5], 1e-9)
	// The last bin is closed on the right, so 10 falls into it.
	assert.Equal(t, []int{2, 2, 2, 2, 2}, counts)
}

func TestHistogramNormalData(t *testing.T) {
	data := Data{Values: normalSample(50, 85, 0.5)}
	res := HistogramTool{}.Run(data, Config{})
	require.True(t, res.Success)

	require.NotNil(t, res.Result["p_value"])
	p := res.Result["p_value"].(float64)
	assert.Greater(t, p, 0.05)
	assert.Equal(t, true, res.Result["is_normal"])
	assert.Equal(t, DistNormal, res.Result["distribution"])
}

func TestHistogramSkewedData(t *testing.T) {
	// Heavy right tail.
	xs := []float64{1, 1.1, 1.2, 1.1, 1.3, 1.2, 1.1, 1.4, 1.2, 1.3, 1.1, 1.2, 5, 9, 14}
	res := HistogramTool{}.Run(Data{Values: xs}, Config{})
	require.True(t, res.Success)

	skew := res.Result["skewness"].(float64)
	assert.Greater(t, skew, 1.0)
	assert.Equal(t, false, res.Result["is_normal"])
	assert.Equal(t, DistRightSkewed, res.Result["distribution"])
}

func TestHistogramSmallSampleSkipsNormality(t *testing.T) {
	res := HistogramTool{}.Run(Data{Values: []float64{1, 2}}, Config{})
	require.True(t, res.Success)
	assert.Nil(t, res.Result["p_value"])
	assert.Nil(t, res.Result["is_normal"])
	assert.InDelta(t, 1.5, res.Result["mean"], 1e-9)
}

func TestHistogramConstantInput(t *testing.T) {
	res := HistogramTool{}.Run(Data{Values: []float64{7, 7, 7, 7, 7}}, Config{"bins": 4})
	require.True(t, res.Success)

	counts := res.PlotData["counts"].([]int)
	assert.Equal(t, []int{5, 0, 0, 0}, counts)
	assert.Nil(t, res.Result["p_value"])
}

func TestHistogramSpecWarnings(t *testing.T) {
	xs := normalSample(20, 85, 1)
	res := HistogramTool{}.Run(Data{Values: xs}, Config{"usl": 86.0, "lsl": 84.0})
	require.True(t, res.Success)
	assert.NotEmpty(t, res.Warnings)
}

func TestShapiroWilkThreePoints(t *testing.T) {
	_, p, err := shapiroWilk([]float64{1, 2, 3})
	require.NoError(t, err)
	assert.Greater(t, p, 0.5)
	assert.LessOrEqual(t, p, 1.0)
}

func TestShapiroWilkRange(t *testing.T) {
	_, _, err := shapiroWilk([]float64{1, 2})
	assert.Error(t, err)

	w, p, err := shapiroWilk(normalSample(100, 0, 1))
	require.NoError(t, err)
	assert.Greater(t, w, 0.98)
	assert.Greater(t, p, 0.05)
}
