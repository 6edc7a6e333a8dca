package tools

import (
	"fmt"
	"math"

	"spcline/internal/domain"
)

// Control chart constant 3/d2 for subgroup size 2.
const mrConstant = 2.66

const (
	StatusInControl    = "受控"
	StatusWarning      = "警告"
	StatusOutOfControl = "失控"
)

// SPCTool runs statistical process control on a single time series:
// individuals control limits from the moving range, capability indices
// against specification limits, and violation scanning.
type SPCTool struct{}

func (SPCTool) Metadata() Metadata {
	return Metadata{
		Key:         "spc",
		Name:        "SPC 统计过程控制分析",
		Description: "计算过程能力指数(Cpk)、控制限，判定过程是否受控",
		Category:    "Descriptive",
		DataShape:   "TimeSeries",
	}
}

func (SPCTool) Validate(data Data, cfg Config) []error {
	var errs []error
	if len(data.Values) == 0 {
		errs = append(errs, domain.E(domain.KindInsufficientData, "数据不能为空"))
		return errs
	}
	if len(data.Values) < 2 {
		errs = append(errs, domain.E(domain.KindInsufficientData, "SPC分析至少需要2个数据点"))
	}
	usl, lsl := cfg.Float("usl"), cfg.Float("lsl")
	if usl != nil && lsl != nil && *lsl >= *usl {
		errs = append(errs, domain.E(domain.KindBadRequest, "规格下限必须小于规格上限"))
	}
	return errs
}

type violation struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
	Type  string  `json:"type"`
	Rule  string  `json:"rule"`
}

func (t SPCTool) Run(data Data, cfg Config) Result {
	if errs := t.Validate(data, cfg); len(errs) > 0 {
		return failure(errs)
	}
	xs := data.Values
	usl, lsl, target := cfg.Float("usl"), cfg.Float("lsl"), cfg.Float("target")

	n := len(xs)
	mu := mean(xs)
	std := sampleStd(xs)
	lo, hi := minMax(xs)

	var mrSum float64
	for i := 1; i < n; i++ {
		mrSum += math.Abs(xs[i] - xs[i-1])
	}
	mrBar := mrSum / float64(n-1)
	ucl := mu + mrConstant*mrBar
	lcl := mu - mrConstant*mrBar

	var cp, cpu, cpl, cpk *float64
	if std > 0 {
		if usl != nil && lsl != nil {
			cp = round3((*usl - *lsl) / (6 * std))
		}
		if usl != nil {
			cpu = round3((*usl - mu) / (3 * std))
		}
		if lsl != nil {
			cpl = round3((mu - *lsl) / (3 * std))
		}
		switch {
		case cpu != nil && cpl != nil:
			cpk = round3(math.Min(*cpu, *cpl))
		case cpu != nil:
			cpk = cpu
		case cpl != nil:
			cpk = cpl
		}
	}

	var violations []violation
	specViolated := false
	for i, v := range xs {
		if v > ucl {
			violations = append(violations, violation{i, v, "UCL", "Out of control limit"})
		} else if v < lcl {
			violations = append(violations, violation{i, v, "LCL", "Out of control limit"})
		}
		if usl != nil && v > *usl {
			violations = append(violations, violation{i, v, "USL", "Out of spec limit"})
			specViolated = true
		} else if lsl != nil && v < *lsl {
			violations = append(violations, violation{i, v, "LSL", "Out of spec limit"})
			specViolated = true
		}
	}

	status := StatusInControl
	beyond3Sigma := false
	if std > 0 {
		for _, v := range xs {
			if math.Abs(v-mu) > 3*std {
				beyond3Sigma = true
				break
			}
		}
	}
	switch {
	case beyond3Sigma || specViolated:
		status = StatusOutOfControl
	case cpk != nil && *cpk < 1.33:
		status = StatusWarning
	}

	var insights []string
	if cpk != nil {
		insights = append(insights, fmt.Sprintf("过程能力Cpk=%.3f，评级：%s", *cpk, CpkGrade(*cpk)))
	} else {
		insights = append(insights, "未提供规格限或数据无波动，无法计算Cpk")
	}
	insights = append(insights, fmt.Sprintf("共分析%d个数据点，过程状态：%s", n, status))
	if len(violations) > 0 {
		insights = append(insights, fmt.Sprintf("发现%d个违规点", len(violations)))
		worst := violations[0]
		worstDev := math.Abs(worst.Value - mu)
		for _, v := range violations[1:] {
			if d := math.Abs(v.Value - mu); d > worstDev {
				worst, worstDev = v, d
			}
		}
		insights = append(insights, fmt.Sprintf("最大偏离样本：第%d个点（值=%.2f，偏离均值%.2f）", worst.Index+1, worst.Value, worstDev))
	}

	var warnings []string
	if cpk != nil && *cpk < 1.33 {
		warnings = append(warnings, fmt.Sprintf("过程能力不足 (Cpk=%.3f < 1.33)", *cpk))
	}
	if len(violations) > 0 {
		warnings = append(warnings, fmt.Sprintf("发现 %d 个违规数据点", len(violations)))
	}

	if violations == nil {
		violations = []violation{}
	}
	violationMaps := make([]map[string]any, 0, len(violations))
	for _, v := range violations {
		violationMaps = append(violationMaps, map[string]any{
			"index": v.Index, "value": v.Value, "type": v.Type, "rule": v.Rule,
		})
	}

	result := map[string]any{
		"mean":           mu,
		"std":            std,
		"min":            lo,
		"max":            hi,
		"n":              n,
		"mr_bar":         mrBar,
		"ucl":            ucl,
		"lcl":            lcl,
		"usl":            floatOrNil(usl),
		"lsl":            floatOrNil(lsl),
		"target":         floatOrNil(target),
		"cp":             floatOrNil(cp),
		"cpu":            floatOrNil(cpu),
		"cpl":            floatOrNil(cpl),
		"cpk":            floatOrNil(cpk),
		"violations":     violationMaps,
		"process_status": status,
	}

	metrics := map[string]float64{
		"mean":            mu,
		"std":             std,
		"n":               float64(n),
		"violation_count": float64(len(violations)),
	}
	if cpk != nil {
		metrics["cpk"] = *cpk
	}

	plot := map[string]any{
		"type":       "spc",
		"values":     xs,
		"ucl":        ucl,
		"lcl":        lcl,
		"target":     floatOrNil(target),
		"usl":        floatOrNil(usl),
		"lsl":        floatOrNil(lsl),
		"violations": violationMaps,
	}

	res := Result{
		Success:  true,
		Result:   result,
		PlotData: plot,
		Metrics:  metrics,
		Warnings: warnings,
		Errors:   []string{},
		Insights: insights,
	}
	if res.Warnings == nil {
		res.Warnings = []string{}
	}
	return res
}

// CpkGrade maps a capability index to its Chinese grade label.
func CpkGrade(cpk float64) string {
	switch {
	case cpk >= 1.33:
		return "优秀"
	case cpk >= 1.0:
		return "良好"
	case cpk >= 0.67:
		return "勉强"
	default:
		return "不足"
	}
}

func round3(v float64) *float64 {
	r := math.Round(v*1000) / 1000
	return &r
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
