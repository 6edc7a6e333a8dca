package analysis

import (
	"context"
	"sort"
	"strings"

	"spcline/internal/domain"
	"spcline/internal/repo"
)

// DecisionEngine maps one report issue to candidate remediation actions.
// Implementations must not mutate the issue.
type DecisionEngine interface {
	GenerateActions(ctx context.Context, issue Issue) ([]domain.ActionDef, error)
}

// Rule is an explicit (node, param, severity) → action binding checked before
// any heuristic. Empty fields match anything.
type Rule struct {
	NodeCode   string
	ParamCode  string
	Severity   string
	ActionCode string
}

// RuleBasedEngine is the default decision engine. Matching order: explicit
// rule table, then risk-code mapping against the action catalog, then a
// keyword heuristic over active action templates.
type RuleBasedEngine struct {
	Repo  repo.Repo
	Rules []Rule
}

func (e RuleBasedEngine) GenerateActions(ctx context.Context, issue Issue) ([]domain.ActionDef, error) {
	byCode := map[string]domain.ActionDef{}

	for _, rule := range e.Rules {
		if !rule.matches(issue) {
			continue
		}
		a, err := e.Repo.GetAction(ctx, rule.ActionCode)
		if err == repo.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, domain.E(domain.KindStoreUnavailable, "store: %v", err)
		}
		if a.Active {
			byCode[a.Code] = a
		}
	}

	if riskCode := RiskCodeFor(issue); riskCode != "" {
		actions, err := e.Repo.ListActionsByRisk(ctx, riskCode)
		if err != nil {
			return nil, domain.E(domain.KindStoreUnavailable, "store: %v", err)
		}
		for _, a := range actions {
			byCode[a.Code] = a
		}
	}

	if len(byCode) == 0 {
		actions, err := e.Repo.ListActiveActions(ctx)
		if err != nil {
			return nil, domain.E(domain.KindStoreUnavailable, "store: %v", err)
		}
		for _, a := range actions {
			if templateMatches(a.InstructionTemplate, issue) {
				byCode[a.Code] = a
			}
		}
	}

	matched := make([]domain.ActionDef, 0, len(byCode))
	for _, a := range byCode {
		if domain.PriorityRank(a.Priority) >= domain.PriorityRank(domain.PriorityHigh) &&
			domain.SeverityRank(issue.Severity) < domain.SeverityRank(domain.SeverityHigh) {
			continue
		}
		matched = append(matched, a)
	}
	sort.Slice(matched, func(i, j int) bool {
		if a, b := domain.PriorityRank(matched[i].Priority), domain.PriorityRank(matched[j].Priority); a != b {
			return a > b
		}
		return matched[i].Code < matched[j].Code
	})
	return matched, nil
}

func (r Rule) matches(issue Issue) bool {
	if r.NodeCode != "" && r.NodeCode != issue.NodeCode {
		return false
	}
	if r.ParamCode != "" && r.ParamCode != issue.ParamCode {
		return false
	}
	if r.Severity != "" && r.Severity != issue.Severity {
		return false
	}
	return r.ActionCode != ""
}

// templateMatches applies the keyword heuristic: the template names the
// issue's node, or both sides reference temperature.
func templateMatches(template string, issue Issue) bool {
	if issue.NodeCode != "" && strings.Contains(template, issue.NodeCode) {
		return true
	}
	if issue.ParamCode == "" {
		return false
	}
	param := strings.ToLower(issue.ParamCode)
	lowered := strings.ToLower(template)
	if (strings.Contains(lowered, "temp") || strings.Contains(template, "温度")) &&
		(strings.Contains(param, "temp") || strings.Contains(issue.ParamCode, "温度")) {
		return true
	}
	return false
}

// RiskCodeFor derives the fault-tree risk code an issue most likely evidences,
// keyed on the parameter kind and severity.
func RiskCodeFor(issue Issue) string {
	param := strings.ToLower(issue.ParamCode)
	node := issue.NodeCode
	switch {
	case strings.Contains(param, "temp") || strings.Contains(issue.ParamCode, "温度"):
		if domain.SeverityRank(issue.Severity) >= domain.SeverityRank(domain.SeverityHigh) {
			return "R_" + node + "_TEMP_HIGH"
		}
		return "R_" + node + "_TEMP_LOW"
	case strings.Contains(param, "pressure") || strings.Contains(issue.ParamCode, "压力"):
		return "R_" + node + "_PRESSURE_HIGH"
	case strings.Contains(param, "moisture") || strings.Contains(issue.ParamCode, "水分"):
		return "R_P01_MOISTURE_HIGH"
	case strings.Contains(param, "time") || strings.Contains(issue.ParamCode, "时间"):
		return "R_" + node + "_TIME_SHORT"
	}
	return ""
}

// LLMClient is the completion surface an LLM-backed decision engine would
// call. No client ships with this module; the interface keeps the engine
// seam stable for deployments that wire one in.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
