package analysis

import (
	"context"
	"time"

	"spcline/internal/provider"
	"spcline/internal/repo"
)

// Orchestrator exposes one analysis entry point per dimension. Each call
// fetches data through the provider, runs the workflow, and attaches quick
// actions for the critical findings.
type Orchestrator struct {
	Provider provider.Provider
	Repo     repo.Repo
	Workflow Workflow
	Decision DecisionEngine
	Now      func() time.Time
}

func (o Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Orchestrator) AnalyzeByBatch(ctx context.Context, batchID string, limit int) (Report, error) {
	dc, err := o.Provider.ByBatch(ctx, batchID, limit)
	if err != nil {
		return Report{}, err
	}
	return o.analyze(ctx, dc)
}

func (o Orchestrator) AnalyzeByProcess(ctx context.Context, nodeCode, paramCode string, timeWindow, limit int) (Report, error) {
	dc, err := o.Provider.ByProcess(ctx, nodeCode, paramCode, timeWindow, limit)
	if err != nil {
		return Report{}, err
	}
	return o.analyze(ctx, dc)
}

func (o Orchestrator) AnalyzeByWorkshop(ctx context.Context, blockCode, date string, limit int) (Report, error) {
	dc, err := o.Provider.ByWorkshop(ctx, blockCode, date, limit)
	if err != nil {
		return Report{}, err
	}
	return o.analyze(ctx, dc)
}

func (o Orchestrator) AnalyzeByPerson(ctx context.Context, operatorID string, dateRange []string, limit int) (Report, error) {
	dc, err := o.Provider.ByPerson(ctx, operatorID, dateRange, limit)
	if err != nil {
		return Report{}, err
	}
	return o.analyze(ctx, dc)
}

func (o Orchestrator) AnalyzeByTime(ctx context.Context, startDate, endDate, granularity string, limit int) (Report, error) {
	dc, err := o.Provider.ByTime(ctx, startDate, endDate, granularity, limit)
	if err != nil {
		return Report{}, err
	}
	return o.analyze(ctx, dc)
}

func (o Orchestrator) analyze(ctx context.Context, dc provider.DataContext) (Report, error) {
	wf := o.Workflow
	if wf.NodeName == nil {
		names := map[string]string{}
		wf.NodeName = func(code string) string {
			if name, ok := names[code]; ok {
				return name
			}
			name := ""
			if node, err := o.Repo.GetNode(ctx, code); err == nil {
				name = node.Name
			}
			names[code] = name
			return name
		}
	}
	report := wf.Run(dc)
	report.GeneratedAt = o.now().UTC().Format(time.RFC3339)

	if o.Decision != nil {
		report.QuickActions = o.quickActions(ctx, report)
	}
	return report, nil
}

// quickActions suggests at most one action code per critical issue, deduped
// in issue order.
func (o Orchestrator) quickActions(ctx context.Context, r Report) []string {
	seen := map[string]bool{}
	var codes []string
	for _, issue := range r.CriticalIssues {
		actions, err := o.Decision.GenerateActions(ctx, issue)
		if err != nil || len(actions) == 0 {
			continue
		}
		code := actions[0].Code
		if !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	return codes
}
