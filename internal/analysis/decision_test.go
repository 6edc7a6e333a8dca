package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spcline/internal/db"
	"spcline/internal/domain"
	"spcline/internal/migrate"
	"spcline/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}
}

func seedAction(t *testing.T, r repo.Repo, code, riskCode, role, template, priority string) {
	t.Helper()
	var risk *string
	if riskCode != "" {
		risk = &riskCode
	}
	require.NoError(t, r.InsertAction(context.Background(), domain.ActionDef{
		Code:                code,
		Name:                code,
		RiskCode:            risk,
		TargetRole:          role,
		InstructionTemplate: template,
		Priority:            priority,
		Active:              true,
	}))
}

func TestRiskCodeFor(t *testing.T) {
	cases := []struct {
		param    string
		node     string
		severity string
		want     string
	}{
		{"temp", "E04", domain.SeverityCritical, "R_E04_TEMP_HIGH"},
		{"temperature", "E01", domain.SeverityHigh, "R_E01_TEMP_HIGH"},
		{"temp", "E01", domain.SeverityWarning, "R_E01_TEMP_LOW"},
		{"pressure", "E02", domain.SeverityCritical, "R_E02_PRESSURE_HIGH"},
		{"moisture", "P03", domain.SeverityCritical, "R_P01_MOISTURE_HIGH"},
		{"mix_time", "C01", domain.SeverityHigh, "R_C01_TIME_SHORT"},
		{"ph", "E01", domain.SeverityCritical, ""},
	}
	for _, tc := range cases {
		got := RiskCodeFor(Issue{NodeCode: tc.node, ParamCode: tc.param, Severity: tc.severity})
		assert.Equal(t, tc.want, got, "param=%s severity=%s", tc.param, tc.severity)
	}
}

func TestRuleBasedEngineRiskMatch(t *testing.T) {
	r := newTestRepo(t)
	seedAction(t, r, "ACT_VALVE", "R_E04_TEMP_HIGH", "Operator", "Adjust valve on {node_name}", domain.PriorityHigh)
	seedAction(t, r, "ACT_OTHER", "R_E01_PRESSURE_HIGH", "QA", "Check pressure", domain.PriorityHigh)

	engine := RuleBasedEngine{Repo: r}
	actions, err := engine.GenerateActions(context.Background(), Issue{
		NodeCode: "E04", ParamCode: "temp", Severity: domain.SeverityCritical,
	})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "ACT_VALVE", actions[0].Code)
}

func TestRuleBasedEngineExplicitTableWins(t *testing.T) {
	r := newTestRepo(t)
	seedAction(t, r, "ACT_TABLE", "", "TeamLeader", "Review {node_name}", domain.PriorityMedium)
	seedAction(t, r, "ACT_RISK", "R_E04_TEMP_HIGH", "Operator", "Adjust valve", domain.PriorityHigh)

	engine := RuleBasedEngine{
		Repo:  r,
		Rules: []Rule{{NodeCode: "E04", ParamCode: "temp", Severity: domain.SeverityCritical, ActionCode: "ACT_TABLE"}},
	}
	actions, err := engine.GenerateActions(context.Background(), Issue{
		NodeCode: "E04", ParamCode: "temp", Severity: domain.SeverityCritical,
	})
	require.NoError(t, err)
	require.Len(t, actions, 2)
	// Priority descending, so the HIGH risk-matched action leads.
	assert.Equal(t, "ACT_RISK", actions[0].Code)
	assert.Equal(t, "ACT_TABLE", actions[1].Code)
}

func TestRuleBasedEngineKeywordFallback(t *testing.T) {
	r := newTestRepo(t)
	seedAction(t, r, "ACT_TEMP", "", "Operator", "检查温度探头", domain.PriorityMedium)
	seedAction(t, r, "ACT_UNRELATED", "", "Operator", "清洁过滤器", domain.PriorityMedium)

	engine := RuleBasedEngine{Repo: r}
	actions, err := engine.GenerateActions(context.Background(), Issue{
		NodeCode: "X99", ParamCode: "outlet_temp", Severity: domain.SeverityWarning,
	})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "ACT_TEMP", actions[0].Code)
}

func TestRuleBasedEngineNilParamGuard(t *testing.T) {
	r := newTestRepo(t)
	seedAction(t, r, "ACT_TEMP", "", "Operator", "检查温度探头", domain.PriorityMedium)

	engine := RuleBasedEngine{Repo: r}
	actions, err := engine.GenerateActions(context.Background(), Issue{
		NodeCode: "X99", Severity: domain.SeverityWarning,
	})
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestRuleBasedEngineSeverityGate(t *testing.T) {
	r := newTestRepo(t)
	seedAction(t, r, "ACT_HIGH", "R_E01_TEMP_LOW", "Operator", "Raise temperature", domain.PriorityHigh)
	seedAction(t, r, "ACT_LOW", "R_E01_TEMP_LOW", "QA", "Log observation", domain.PriorityLow)

	engine := RuleBasedEngine{Repo: r}
	// WARNING severity maps to the TEMP_LOW risk; the HIGH-priority action
	// is gated out, the LOW one passes.
	actions, err := engine.GenerateActions(context.Background(), Issue{
		NodeCode: "E01", ParamCode: "temp", Severity: domain.SeverityWarning,
	})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "ACT_LOW", actions[0].Code)
}

func TestRuleBasedEnginePriorityThenCodeOrder(t *testing.T) {
	r := newTestRepo(t)
	seedAction(t, r, "ACT_B", "R_E04_TEMP_HIGH", "Operator", "B", domain.PriorityHigh)
	seedAction(t, r, "ACT_A", "R_E04_TEMP_HIGH", "Operator", "A", domain.PriorityHigh)
	seedAction(t, r, "ACT_C", "R_E04_TEMP_HIGH", "Manager", "C", domain.PriorityCritical)

	engine := RuleBasedEngine{Repo: r}
	actions, err := engine.GenerateActions(context.Background(), Issue{
		NodeCode: "E04", ParamCode: "temp", Severity: domain.SeverityCritical,
	})
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, "ACT_C", actions[0].Code)
	assert.Equal(t, "ACT_A", actions[1].Code)
	assert.Equal(t, "ACT_B", actions[2].Code)
}
