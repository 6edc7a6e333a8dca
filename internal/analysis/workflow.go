// Package analysis turns provider data into structured reports: a workflow
// that scans every (node, param) group with the spc tool, a per-dimension
// orchestrator, and a pluggable decision engine mapping findings to actions.
package analysis

import (
	"fmt"
	"sort"

	"spcline/internal/domain"
	"spcline/internal/provider"
	"spcline/internal/tools"
)

// Issue is one problematic (node, param) group found by the workflow.
type Issue struct {
	NodeCode     string   `json:"node_code"`
	NodeName     string   `json:"node_name,omitempty"`
	ParamCode    string   `json:"param_code"`
	ParamName    string   `json:"param_name,omitempty"`
	Severity     string   `json:"severity" enum:"CRITICAL,HIGH,WARNING,NORMAL"`
	Status       string   `json:"status"`
	Cpk          *float64 `json:"cpk,omitempty"`
	Mean         float64  `json:"mean"`
	CurrentValue float64  `json:"current_value"`
	Target       *float64 `json:"target,omitempty"`
	USL          *float64 `json:"usl,omitempty"`
	LSL          *float64 `json:"lsl,omitempty"`
	Violations   int      `json:"violations"`
	DataPoints   int      `json:"data_points"`
	BatchID      string   `json:"batch_id,omitempty"`
	Description  string   `json:"description"`
	Errors       []string `json:"errors,omitempty"`
}

// Report is the workflow output for one dimension invocation.
type Report struct {
	Dimension      string         `json:"dimension"`
	Key            string         `json:"key"`
	Status         string         `json:"status" enum:"CRITICAL,WARNING,NORMAL"`
	CriticalIssues []Issue        `json:"critical_issues"`
	Warnings       []Issue        `json:"warnings"`
	Insights       []string       `json:"insights"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	QuickActions   []string       `json:"quick_actions,omitempty"`
	GeneratedAt    string         `json:"generated_at,omitempty"`
}

// StatusErrored marks a group whose tool invocation failed; the group lands
// in the warnings list and the report degrades to at least WARNING.
const StatusErrored = "ERRORED"

// Workflow runs the spc scan over a DataContext. NodeName, when set, resolves
// display names for insight and instruction text.
type Workflow struct {
	Registry      *tools.Registry
	CpkCritical   float64
	CpkWarning    float64
	MinDataPoints int
	NodeName      func(code string) string
}

func (w Workflow) cpkCritical() float64 {
	if w.CpkCritical > 0 {
		return w.CpkCritical
	}
	return 0.8
}

func (w Workflow) cpkWarning() float64 {
	if w.CpkWarning > 0 {
		return w.CpkWarning
	}
	return 1.33
}

func (w Workflow) minPoints() int {
	if w.MinDataPoints > 1 {
		return w.MinDataPoints
	}
	return 2
}

func (w Workflow) nodeName(code string) string {
	if w.NodeName != nil {
		if name := w.NodeName(code); name != "" {
			return name
		}
	}
	return code
}

// Run scans every group and classifies it. Reruns over the same context
// produce an identical report.
func (w Workflow) Run(dc provider.DataContext) Report {
	report := Report{
		Dimension:      dc.Dimension,
		Key:            dc.Key,
		Status:         domain.SeverityNormal,
		CriticalIssues: []Issue{},
		Warnings:       []Issue{},
		Insights:       []string{},
		Metadata:       dc.Metadata,
	}

	spc, err := w.Registry.Get("spc")
	if err != nil {
		report.Status = domain.SeverityWarning
		report.Insights = append(report.Insights, fmt.Sprintf("⚠️ 分析不可用：%v", err))
		return report
	}

	analyzed := 0
	normal := 0
	for _, g := range dc.Groups {
		if len(g.Values) < w.minPoints() {
			continue
		}
		analyzed++

		cfg := tools.Config{}
		issue := Issue{
			NodeCode:     g.NodeCode,
			NodeName:     w.nodeName(g.NodeCode),
			ParamCode:    g.ParamCode,
			ParamName:    g.ParamCode,
			CurrentValue: g.Values[len(g.Values)-1],
			DataPoints:   len(g.Values),
		}
		if len(dc.Batches) > 0 {
			issue.BatchID = dc.Batches[0]
		}
		if g.Param != nil {
			issue.ParamName = g.Param.Name
			issue.Target = g.Param.Target
			issue.USL = g.Param.USL
			issue.LSL = g.Param.LSL
			if g.Param.USL != nil {
				cfg["usl"] = *g.Param.USL
			}
			if g.Param.LSL != nil {
				cfg["lsl"] = *g.Param.LSL
			}
			if g.Param.Target != nil {
				cfg["target"] = *g.Param.Target
			}
		}

		res := spc.Run(tools.Data{Values: g.Values}, cfg)
		if !res.Success {
			issue.Severity = domain.SeverityWarning
			issue.Status = StatusErrored
			issue.Errors = res.Errors
			issue.Description = fmt.Sprintf("%s 分析失败", issue.ParamName)
			report.Warnings = append(report.Warnings, issue)
			continue
		}

		issue.Mean = res.Result["mean"].(float64)
		issue.Status = res.Result["process_status"].(string)
		if cpk, ok := res.Result["cpk"].(float64); ok {
			issue.Cpk = &cpk
		}
		if vs, ok := res.Result["violations"].([]map[string]any); ok {
			issue.Violations = len(vs)
		}
		issue.Severity = w.classify(issue)
		issue.Description = describe(issue)

		switch issue.Severity {
		case domain.SeverityCritical, domain.SeverityHigh:
			report.CriticalIssues = append(report.CriticalIssues, issue)
		case domain.SeverityWarning:
			report.Warnings = append(report.Warnings, issue)
		default:
			normal++
		}
	}

	sortIssues(report.CriticalIssues)
	sortIssues(report.Warnings)
	report.Status = aggregateStatus(report)
	report.Insights = w.insights(report, analyzed, normal)
	return report
}

// classify applies the severity ladder to one analysed group.
func (w Workflow) classify(issue Issue) string {
	if issue.Status == tools.StatusOutOfControl {
		return domain.SeverityCritical
	}
	if issue.Cpk != nil {
		switch cpk := *issue.Cpk; {
		case cpk < w.cpkCritical():
			return domain.SeverityCritical
		case cpk < 1.0:
			return domain.SeverityHigh
		case cpk < w.cpkWarning():
			return domain.SeverityWarning
		}
	}
	if issue.Violations > 0 {
		return domain.SeverityWarning
	}
	return domain.SeverityNormal
}

func describe(issue Issue) string {
	s := fmt.Sprintf("%s（%s）", issue.ParamName, issue.NodeName)
	if issue.Cpk != nil {
		s += fmt.Sprintf(" Cpk=%.2f（%s）", *issue.Cpk, tools.CpkGrade(*issue.Cpk))
	}
	switch {
	case issue.Status == tools.StatusOutOfControl:
		s += fmt.Sprintf("，过程失控，%d个违规点", issue.Violations)
	case issue.Status == tools.StatusWarning:
		s += "，能力不足需关注"
	case issue.Violations > 0:
		s += fmt.Sprintf("，%d个违规点", issue.Violations)
	}
	return s
}

// sortIssues orders by severity descending, then param code, then node code.
func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if a, b := domain.SeverityRank(issues[i].Severity), domain.SeverityRank(issues[j].Severity); a != b {
			return a > b
		}
		if issues[i].ParamCode != issues[j].ParamCode {
			return issues[i].ParamCode < issues[j].ParamCode
		}
		return issues[i].NodeCode < issues[j].NodeCode
	})
}

func aggregateStatus(r Report) string {
	for _, issue := range r.CriticalIssues {
		if issue.Severity == domain.SeverityCritical {
			return domain.SeverityCritical
		}
	}
	if len(r.CriticalIssues) > 0 || len(r.Warnings) > 0 {
		return domain.SeverityWarning
	}
	return domain.SeverityNormal
}

func (w Workflow) insights(r Report, analyzed, normal int) []string {
	var out []string
	switch r.Status {
	case domain.SeverityCritical:
		out = append(out, fmt.Sprintf("🔴 发现%d个严重问题，需立即处理", len(r.CriticalIssues)))
	case domain.SeverityWarning:
		out = append(out, fmt.Sprintf("🟡 过程总体可控，%d项需要关注", len(r.CriticalIssues)+len(r.Warnings)))
	default:
		out = append(out, fmt.Sprintf("🟢 全部%d个参数受控", analyzed))
	}
	for i, issue := range r.CriticalIssues {
		if i >= 3 {
			break
		}
		out = append(out, fmt.Sprintf("%d. %s", i+1, issue.Description))
	}
	if len(r.Warnings) > 0 {
		out = append(out, fmt.Sprintf("⚠️ 另有%d项警告", len(r.Warnings)))
	}
	if normal > 0 && r.Status != domain.SeverityNormal {
		out = append(out, fmt.Sprintf("✅ %d个参数保持正常", normal))
	}
	return out
}
