package tools

import (
	"fmt"
	"sort"
	"strings"

	"spcline/internal/domain"
)

// ParetoTool ranks problem categories, computes cumulative contribution and
// identifies the key few per the 80/20 rule.
type ParetoTool struct{}

func (ParetoTool) Metadata() Metadata {
	return Metadata{
		Key:         "pareto",
		Name:        "帕累托图分析",
		Description: "识别'关键少数'问题，应用80/20法则进行根因分析",
		Category:    "Descriptive",
		DataShape:   "CategoricalCounts",
	}
}

func (ParetoTool) Validate(data Data, cfg Config) []error {
	var errs []error
	if len(data.Categories) == 0 {
		errs = append(errs, domain.E(domain.KindInsufficientData, "数据不能为空"))
		return errs
	}
	var total float64
	for _, c := range data.Categories {
		if c.Count < 0 {
			errs = append(errs, domain.E(domain.KindBadRequest, "类别 %s 的计数不能为负", c.Category))
		}
		total += c.Count
	}
	if total == 0 {
		errs = append(errs, domain.E(domain.KindInsufficientData, "所有类别计数为0"))
	}
	threshold := cfg.FloatOr("threshold", 0.8)
	if threshold <= 0 || threshold > 1 {
		errs = append(errs, domain.E(domain.KindBadRequest, "threshold 必须在 (0,1] 区间"))
	}
	return errs
}

func (t ParetoTool) Run(data Data, cfg Config) Result {
	if errs := t.Validate(data, cfg); len(errs) > 0 {
		return failure(errs)
	}
	threshold := cfg.FloatOr("threshold", 0.8)

	sorted := append([]Category(nil), data.Categories...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Count > sorted[j].Count })

	var total float64
	for _, c := range sorted {
		total += c.Count
	}

	type row struct {
		Category        string  `json:"category"`
		Count           float64 `json:"count"`
		CumulativeCount float64 `json:"cumulative_count"`
		CumulativePct   float64 `json:"cumulative_pct"`
	}
	rows := make([]row, len(sorted))
	cumulative := 0.0
	for i, c := range sorted {
		cumulative += c.Count
		rows[i] = row{c.Category, c.Count, cumulative, cumulative / total * 100}
	}

	// Key few: the smallest prefix whose cumulative percentage reaches the
	// threshold.
	keyFewCount := len(rows)
	for i, r := range rows {
		if r.CumulativePct >= threshold*100 {
			keyFewCount = i + 1
			break
		}
	}
	keyFew := make([]string, 0, keyFewCount)
	for _, r := range rows[:keyFewCount] {
		keyFew = append(keyFew, r.Category)
	}
	contribution := rows[keyFewCount-1].CumulativePct

	abc := map[string][]string{"A": {}, "B": {}, "C": {}}
	for i, r := range rows {
		switch {
		case i < keyFewCount:
			abc["A"] = append(abc["A"], r.Category)
		case r.CumulativePct <= 95:
			abc["B"] = append(abc["B"], r.Category)
		default:
			abc["C"] = append(abc["C"], r.Category)
		}
	}

	categories := make([]string, len(rows))
	counts := make([]float64, len(rows))
	cumulativePct := make([]float64, len(rows))
	for i, r := range rows {
		categories[i] = r.Category
		counts[i] = r.Count
		cumulativePct[i] = r.CumulativePct
	}

	colors := make([]string, len(rows))
	for i := range colors {
		if i < 3 {
			colors[i] = fmt.Sprintf("rgba(255, %d, 0, 0.7)", 100-i*30)
		} else {
			colors[i] = "rgba(200, 200, 200, 0.5)"
		}
	}

	var insights []string
	insights = append(insights, fmt.Sprintf("🎯 前%d类问题（占总数%.1f%%）贡献了%.1f%%的问题总量",
		keyFewCount, float64(keyFewCount)/float64(len(rows))*100, contribution))
	if len(abc["A"]) > 0 {
		insights = append(insights, fmt.Sprintf("📌 A类关键问题（优先解决）: %s", strings.Join(topN(abc["A"], 3), ", ")))
	}
	if len(abc["B"]) > 0 {
		insights = append(insights, fmt.Sprintf("⚠️ B类次要问题: %s", strings.Join(topN(abc["B"], 3), ", ")))
	}
	if contribution >= 80 {
		insights = append(insights, fmt.Sprintf("💡 建议：优先解决'%s'类问题，可消除%.1f%%的故障", keyFew[0], contribution))
	} else {
		insights = append(insights, "💡 问题分布较为分散，建议进一步分类细化")
	}

	rowMaps := make([]map[string]any, len(rows))
	for i, r := range rows {
		rowMaps[i] = map[string]any{
			"category":         r.Category,
			"count":            r.Count,
			"cumulative_count": r.CumulativeCount,
			"cumulative_pct":   r.CumulativePct,
		}
	}

	return Result{
		Success: true,
		Result: map[string]any{
			"total_count":          total,
			"total_categories":     len(rows),
			"key_few":              keyFew,
			"key_few_count":        keyFewCount,
			"key_few_percentage":   float64(keyFewCount) / float64(len(rows)) * 100,
			"key_few_contribution": contribution,
			"sorted_data":          rowMaps,
			"abc_classification":   abc,
		},
		PlotData: map[string]any{
			"type":           "pareto",
			"categories":     categories,
			"counts":         counts,
			"cumulative":     cumulativePct,
			"threshold_line": threshold * 100,
			"colors":         colors,
		},
		Metrics: map[string]float64{
			"total_count":         total,
			"key_few_count":       float64(keyFewCount),
			"concentration_ratio": contribution,
		},
		Warnings: []string{},
		Errors:   []string{},
		Insights: insights,
	}
}

func topN(xs []string, n int) []string {
	if len(xs) > n {
		return xs[:n]
	}
	return xs
}
