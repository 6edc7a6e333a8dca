package tools

import (
	"fmt"

	"spcline/internal/domain"
)

const (
	DistNormal       = "正态"
	DistNearNormal   = "近似正态"
	DistLeftSkewed   = "左偏"
	DistRightSkewed  = "右偏"
	DistIrregular    = "不规则"
	shapiroMinPoints = 3
	shapiroMaxPoints = 5000
)

// HistogramTool bins a time series, computes shape statistics and runs the
// Shapiro-Wilk normality test.
type HistogramTool struct{}

func (HistogramTool) Metadata() Metadata {
	return Metadata{
		Key:         "histogram",
		Name:        "直方图分析",
		Description: "频数分布统计、正态性检验、偏度峰度计算",
		Category:    "Descriptive",
		DataShape:   "TimeSeries",
	}
}

func (HistogramTool) Validate(data Data, cfg Config) []error {
	var errs []error
	if len(data.Values) == 0 {
		errs = append(errs, domain.E(domain.KindInsufficientData, "数据不能为空"))
		return errs
	}
	if len(data.Values) < 2 {
		errs = append(errs, domain.E(domain.KindInsufficientData, "直方图分析至少需要2个数据点"))
	}
	if bins := cfg.IntOr("bins", 10); bins < 1 {
		errs = append(errs, domain.E(domain.KindBadRequest, "bins 必须大于0"))
	}
	return errs
}

func (t HistogramTool) Run(data Data, cfg Config) Result {
	if errs := t.Validate(data, cfg); len(errs) > 0 {
		return failure(errs)
	}
	xs := data.Values
	bins := cfg.IntOr("bins", 10)
	usl, lsl := cfg.Float("usl"), cfg.Float("lsl")

	n := len(xs)
	mu := mean(xs)
	std := sampleStd(xs)
	med := median(xs)
	lo, hi := minMax(xs)
	skew := skewness(xs)
	kurt := kurtosis(xs)

	boundaries := make([]float64, bins+1)
	counts := make([]int, bins)
	width := (hi - lo) / float64(bins)
	for i := range boundaries {
		boundaries[i] = lo + float64(i)*width
	}
	boundaries[bins] = hi
	if width == 0 {
		// Degenerate constant input: everything lands in the first bin.
		counts[0] = n
	} else {
		for _, v := range xs {
			idx := int((v - lo) / width)
			if idx >= bins {
				idx = bins - 1
			}
			counts[idx]++
		}
	}

	var pValue *float64
	var isNormal *bool
	if n >= shapiroMinPoints && n <= shapiroMaxPoints && std > 0 {
		if _, p, err := shapiroWilk(xs); err == nil {
			pValue = &p
			normal := p >= 0.05
			isNormal = &normal
		}
	}

	dist := classifyDistribution(isNormal, skew, kurt)

	var warnings []string
	if usl != nil && hi > *usl {
		warnings = append(warnings, fmt.Sprintf("存在超出规格上限的数据 (max=%.2f > USL=%.2f)", hi, *usl))
	}
	if lsl != nil && lo < *lsl {
		warnings = append(warnings, fmt.Sprintf("存在低于规格下限的数据 (min=%.2f < LSL=%.2f)", lo, *lsl))
	}
	if isNormal != nil && !*isNormal {
		warnings = append(warnings, "数据不服从正态分布")
	}
	if warnings == nil {
		warnings = []string{}
	}

	insights := []string{
		fmt.Sprintf("分布形态：%s（偏度=%.3f，峰度=%.3f）", dist, skew, kurt),
		fmt.Sprintf("共分析%d个数据点，均值=%.3f，标准差=%.3f", n, mu, std),
	}
	if pValue != nil {
		insights = append(insights, fmt.Sprintf("Shapiro-Wilk正态性检验 p=%.4f", *pValue))
	}

	lines := map[string]any{
		"mean":   map[string]any{"x": mu, "label": "均值"},
		"median": map[string]any{"x": med, "label": "中位数"},
	}
	if usl != nil {
		lines["usl"] = map[string]any{"x": *usl, "label": "规格上限"}
	}
	if lsl != nil {
		lines["lsl"] = map[string]any{"x": *lsl, "label": "规格下限"}
	}

	metrics := map[string]float64{
		"mean":     mu,
		"std":      std,
		"n":        float64(n),
		"skewness": skew,
		"kurtosis": kurt,
	}
	if pValue != nil {
		metrics["p_value"] = *pValue
	}

	var pv, nv any
	if pValue != nil {
		pv = *pValue
	}
	if isNormal != nil {
		nv = *isNormal
	}

	return Result{
		Success: true,
		Result: map[string]any{
			"mean":         mu,
			"std":          std,
			"median":       med,
			"min":          lo,
			"max":          hi,
			"n":            n,
			"skewness":     skew,
			"kurtosis":     kurt,
			"p_value":      pv,
			"is_normal":    nv,
			"distribution": dist,
			"boundaries":   boundaries,
			"counts":       counts,
		},
		PlotData: map[string]any{
			"type":   "histogram",
			"bins":   boundaries,
			"counts": counts,
			"lines":  lines,
		},
		Metrics:  metrics,
		Warnings: warnings,
		Errors:   []string{},
		Insights: insights,
	}
}

func classifyDistribution(isNormal *bool, skew, kurt float64) string {
	if isNormal != nil && *isNormal {
		return DistNormal
	}
	abs := skew
	if abs < 0 {
		abs = -abs
	}
	absKurt := kurt
	if absKurt < 0 {
		absKurt = -absKurt
	}
	switch {
	case abs < 1 && absKurt < 2:
		return DistNearNormal
	case skew >= 1:
		return DistRightSkewed
	case skew <= -1:
		return DistLeftSkewed
	default:
		return DistIrregular
	}
}
