package tools

import (
	"fmt"
	"sort"
	"strings"

	"spcline/internal/domain"
)

// BoxplotTool compares multiple series by quartiles and IQR-fence outliers.
type BoxplotTool struct{}

func (BoxplotTool) Metadata() Metadata {
	return Metadata{
		Key:         "boxplot",
		Name:        "箱线图分析",
		Description: "多组数据对比，识别异常值，分析过程稳定性",
		Category:    "Descriptive",
		DataShape:   "MultipleTimeSeries",
	}
}

func (BoxplotTool) Validate(data Data, cfg Config) []error {
	var errs []error
	if len(data.Series) == 0 {
		errs = append(errs, domain.E(domain.KindInsufficientData, "数据不能为空"))
		return errs
	}
	for name, values := range data.Series {
		if len(values) < 5 {
			errs = append(errs, domain.E(domain.KindInsufficientData, "%s数据量至少需要5个点", name))
		}
	}
	if k := cfg.FloatOr("outlier_factor", 1.5); k <= 0 {
		errs = append(errs, domain.E(domain.KindBadRequest, "outlier_factor 必须大于0"))
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errs
}

type seriesStats struct {
	name     string
	q1       float64
	q2       float64
	q3       float64
	iqr      float64
	min      float64
	max      float64
	mean     float64
	std      float64
	n        int
	outliers []map[string]any
}

func (t BoxplotTool) Run(data Data, cfg Config) Result {
	if errs := t.Validate(data, cfg); len(errs) > 0 {
		return failure(errs)
	}
	factor := cfg.FloatOr("outlier_factor", 1.5)

	names := make([]string, 0, len(data.Series))
	for name := range data.Series {
		names = append(names, name)
	}
	sort.Strings(names)

	stats := make([]seriesStats, 0, len(names))
	totalOutliers := 0
	for _, name := range names {
		values := data.Series[name]
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)

		s := seriesStats{name: name, n: len(values)}
		s.q1 = percentileSorted(sorted, 0.25)
		s.q2 = percentileSorted(sorted, 0.50)
		s.q3 = percentileSorted(sorted, 0.75)
		s.iqr = s.q3 - s.q1
		s.min, s.max = sorted[0], sorted[len(sorted)-1]
		s.mean = mean(values)
		s.std = sampleStd(values)

		lowFence := s.q1 - factor*s.iqr
		highFence := s.q3 + factor*s.iqr
		for i, v := range values {
			if v < lowFence {
				s.outliers = append(s.outliers, map[string]any{"index": i, "value": v, "type": "low"})
			} else if v > highFence {
				s.outliers = append(s.outliers, map[string]any{"index": i, "value": v, "type": "high"})
			}
		}
		if s.outliers == nil {
			s.outliers = []map[string]any{}
		}
		totalOutliers += len(s.outliers)
		stats = append(stats, s)
	}

	// Comparisons; ties resolve to the first series in name order.
	mostVariable := stats[0]
	mostOutliers := stats[0]
	maxMedian := stats[0]
	minMedian := stats[0]
	minStd, maxStd := stats[0].std, stats[0].std
	for _, s := range stats[1:] {
		if s.std > mostVariable.std {
			mostVariable = s
		}
		if len(s.outliers) > len(mostOutliers.outliers) {
			mostOutliers = s
		}
		if s.q2 > maxMedian.q2 {
			maxMedian = s
		}
		if s.q2 < minMedian.q2 {
			minMedian = s
		}
		if s.std < minStd {
			minStd = s.std
		}
		if s.std > maxStd {
			maxStd = s.std
		}
	}
	medianRange := maxMedian.q2 - minMedian.q2

	// A stable series has no outliers and sits in the lower half of the
	// std spread.
	stableCut := minStd + 0.5*(maxStd-minStd)
	var stable []string
	for _, s := range stats {
		if len(s.outliers) == 0 && s.std < stableCut {
			stable = append(stable, s.name)
		}
	}

	insights := []string{
		fmt.Sprintf("📊 %s波动最大（标准差=%.2f）", mostVariable.name, mostVariable.std),
	}
	if len(mostOutliers.outliers) > 0 {
		insights = append(insights, fmt.Sprintf("⚠️ %s异常值最多（%d个），需检查原因", mostOutliers.name, len(mostOutliers.outliers)))
	}
	insights = append(insights, fmt.Sprintf("ℹ️ 各组中位数范围=%.2f（最高%s，最低%s）", medianRange, maxMedian.name, minMedian.name))
	if len(stable) > 0 {
		insights = append(insights, fmt.Sprintf("✅ %s过程稳定，可作为标杆", strings.Join(stable, ", ")))
	}

	statsMap := map[string]any{}
	plotSeries := make([]map[string]any, 0, len(stats))
	for _, s := range stats {
		statsMap[s.name] = map[string]any{
			"q1":       s.q1,
			"q2":       s.q2,
			"q3":       s.q3,
			"iqr":      s.iqr,
			"min":      s.min,
			"max":      s.max,
			"mean":     s.mean,
			"std":      s.std,
			"n":        s.n,
			"outliers": s.outliers,
		}
		outlierValues := make([]float64, 0, len(s.outliers))
		for _, o := range s.outliers {
			outlierValues = append(outlierValues, o["value"].(float64))
		}
		plotSeries = append(plotSeries, map[string]any{
			"name":     s.name,
			"min":      s.min,
			"q1":       s.q1,
			"median":   s.q2,
			"q3":       s.q3,
			"max":      s.max,
			"outliers": outlierValues,
		})
	}

	var warnings []string
	if totalOutliers > 0 {
		warnings = append(warnings, fmt.Sprintf("发现%d个异常值", totalOutliers))
	}
	if warnings == nil {
		warnings = []string{}
	}

	return Result{
		Success: true,
		Result: map[string]any{
			"series_stats":   statsMap,
			"total_outliers": totalOutliers,
			"comparison": map[string]any{
				"most_variable":     mostVariable.name,
				"most_outliers":     mostOutliers.name,
				"max_median_series": maxMedian.name,
				"min_median_series": minMedian.name,
				"median_range":      medianRange,
			},
		},
		PlotData: map[string]any{
			"type":   "boxplot",
			"series": plotSeries,
		},
		Metrics: map[string]float64{
			"total_series":   float64(len(stats)),
			"total_outliers": float64(totalOutliers),
		},
		Warnings: warnings,
		Errors:   []string{},
		Insights: insights,
	}
}
