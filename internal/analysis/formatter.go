package analysis

import (
	"fmt"
	"sort"
	"strings"

	"spcline/internal/domain"
)

var statusBadges = map[string]string{
	domain.SeverityCritical: "🔴 严重",
	domain.SeverityWarning:  "🟡 警告",
	domain.SeverityNormal:   "🟢 正常",
}

// Paragraphs renders a report as an ordered list of display paragraphs:
// headline, status badge, issues with evidence, warnings, insights.
func Paragraphs(r Report) []string {
	out := []string{
		fmt.Sprintf("%s维度分析报告：%s", dimensionLabel(r.Dimension), r.Key),
		fmt.Sprintf("总体状态：%s", badge(r.Status)),
	}
	for i, issue := range r.CriticalIssues {
		out = append(out, fmt.Sprintf("问题%d [%s] %s%s", i+1, issue.Severity, issue.Description, evidenceSuffix(issue)))
	}
	for i, issue := range r.Warnings {
		out = append(out, fmt.Sprintf("警告%d %s", i+1, issue.Description))
	}
	out = append(out, r.Insights...)
	return out
}

// Markdown renders a report as a markdown document.
func Markdown(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s维度分析报告\n\n", dimensionLabel(r.Dimension))
	fmt.Fprintf(&b, "- 对象：%s\n", r.Key)
	fmt.Fprintf(&b, "- 状态：%s\n", badge(r.Status))
	if r.GeneratedAt != "" {
		fmt.Fprintf(&b, "- 生成时间：%s\n", r.GeneratedAt)
	}
	if len(r.CriticalIssues) > 0 {
		b.WriteString("\n## 关键问题\n\n")
		for _, issue := range r.CriticalIssues {
			fmt.Fprintf(&b, "- **[%s]** %s%s\n", issue.Severity, issue.Description, evidenceSuffix(issue))
		}
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\n## 警告\n\n")
		for _, issue := range r.Warnings {
			fmt.Fprintf(&b, "- %s\n", issue.Description)
		}
	}
	if len(r.Insights) > 0 {
		b.WriteString("\n## 分析洞察\n\n")
		for _, ins := range r.Insights {
			fmt.Fprintf(&b, "- %s\n", ins)
		}
	}
	if len(r.QuickActions) > 0 {
		b.WriteString("\n## 建议措施\n\n")
		for _, code := range r.QuickActions {
			fmt.Fprintf(&b, "- %s\n", code)
		}
	}
	return b.String()
}

// Merge folds several reports into one daily summary. Issues keep the
// workflow's severity-then-param ordering; status is the worst of the parts.
func Merge(reports []Report) Report {
	merged := Report{
		Dimension:      "daily",
		Status:         domain.SeverityNormal,
		CriticalIssues: []Issue{},
		Warnings:       []Issue{},
		Insights:       []string{},
		Metadata:       map[string]any{},
	}
	var keys []string
	seenActions := map[string]bool{}
	for _, r := range reports {
		keys = append(keys, r.Key)
		merged.CriticalIssues = append(merged.CriticalIssues, r.CriticalIssues...)
		merged.Warnings = append(merged.Warnings, r.Warnings...)
		if domain.SeverityRank(r.Status) > domain.SeverityRank(merged.Status) {
			merged.Status = r.Status
		}
		if r.GeneratedAt > merged.GeneratedAt {
			merged.GeneratedAt = r.GeneratedAt
		}
		for _, code := range r.QuickActions {
			if !seenActions[code] {
				seenActions[code] = true
				merged.QuickActions = append(merged.QuickActions, code)
			}
		}
	}
	sort.Strings(keys)
	merged.Key = strings.Join(keys, ",")
	merged.Metadata["sources"] = keys
	sortIssues(merged.CriticalIssues)
	sortIssues(merged.Warnings)
	merged.Insights = append(merged.Insights,
		fmt.Sprintf("合并%d个维度报告：%d个关键问题，%d项警告", len(reports), len(merged.CriticalIssues), len(merged.Warnings)))
	for _, r := range reports {
		for _, ins := range r.Insights {
			merged.Insights = append(merged.Insights, fmt.Sprintf("[%s] %s", r.Key, ins))
		}
	}
	return merged
}

func badge(status string) string {
	if b, ok := statusBadges[status]; ok {
		return b
	}
	return status
}

func evidenceSuffix(issue Issue) string {
	var parts []string
	if issue.Cpk != nil {
		parts = append(parts, fmt.Sprintf("Cpk=%.2f", *issue.Cpk))
	}
	parts = append(parts, fmt.Sprintf("当前值=%.2f", issue.CurrentValue))
	if issue.Violations > 0 {
		parts = append(parts, fmt.Sprintf("违规点=%d", issue.Violations))
	}
	return "（" + strings.Join(parts, "，") + "）"
}

func dimensionLabel(dimension string) string {
	switch dimension {
	case "batch":
		return "批次"
	case "process":
		return "工序"
	case "workshop":
		return "车间"
	case "person":
		return "人员"
	case "time":
		return "时间"
	case "daily":
		return "每日"
	}
	return dimension
}
