// Package commander renders analysis findings into per-role daily
// instructions and drives their Pending → Read → Done lifecycle.
package commander

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"spcline/internal/analysis"
	"spcline/internal/domain"
	"spcline/internal/events"
	"spcline/internal/repo"
)

type Commander struct {
	Repo         repo.Repo
	Orchestrator analysis.Orchestrator
	Decision     analysis.DecisionEngine
	Events       events.Writer
	Now          func() time.Time
	NewID        func() string
	MaxPerRole   int
}

const dateLayout = "2006-01-02"

var defaultDimensions = []string{"batch", "process", "workshop"}

func (c Commander) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Commander) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}

func (c Commander) maxPerRole() int {
	if c.MaxPerRole > 0 {
		return c.MaxPerRole
	}
	return 10
}

// GenerateDailyOrders analyses the target date's batches, Unit processes and
// Block workshops, asks the decision engine for actions on every finding, and
// persists the rendered instructions grouped by role. Regenerating for the
// same date is a no-op thanks to the store-level dedup tuple.
func (c Commander) GenerateDailyOrders(ctx context.Context, targetDate string, dimensions []string) (map[string][]domain.Instruction, error) {
	day, err := time.Parse(dateLayout, targetDate)
	if err != nil {
		return nil, domain.E(domain.KindBadRequest, "invalid target_date %q: expected YYYY-MM-DD", targetDate)
	}
	if len(dimensions) == 0 {
		dimensions = defaultDimensions
	}

	reports, err := c.collectReports(ctx, day, dimensions)
	if err != nil {
		return nil, err
	}

	var candidates []domain.Instruction
	createdAt := c.now().UTC().Format(time.RFC3339)
	for _, report := range reports {
		issues := append(append([]analysis.Issue{}, report.CriticalIssues...), report.Warnings...)
		for _, issue := range issues {
			if issue.Status == analysis.StatusErrored {
				continue
			}
			actions, err := c.Decision.GenerateActions(ctx, issue)
			if err != nil {
				return nil, err
			}
			for _, action := range actions {
				candidates = append(candidates, c.instruction(targetDate, createdAt, issue, action))
			}
		}
	}
	// Highest priority first so the per-role cap keeps what matters.
	sort.SliceStable(candidates, func(i, j int) bool {
		return domain.PriorityRank(candidates[i].Priority) > domain.PriorityRank(candidates[j].Priority)
	})

	tx, err := c.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "store: %v", err)
	}
	defer tx.Rollback()

	orders := map[string][]domain.Instruction{}
	counts := map[string]int{}
	for _, ins := range candidates {
		if _, ok := counts[ins.Role]; !ok {
			n, err := c.Repo.CountInstructionsTx(ctx, tx, targetDate, ins.Role)
			if err != nil {
				return nil, domain.E(domain.KindStoreUnavailable, "store: %v", err)
			}
			counts[ins.Role] = n
		}
		if counts[ins.Role] >= c.maxPerRole() {
			continue
		}
		inserted, err := c.Repo.InsertInstructionTx(ctx, tx, ins)
		if err != nil {
			return nil, domain.E(domain.KindStoreUnavailable, "store: %v", err)
		}
		if !inserted {
			continue
		}
		counts[ins.Role]++
		orders[ins.Role] = append(orders[ins.Role], ins)
		if err := c.Events.Append(ctx, tx, events.InstructionCreated, "instruction", ins.ID, "commander", events.Payload{
			"role":        ins.Role,
			"action_code": ins.ActionCode,
			"target_date": ins.TargetDate,
			"priority":    ins.Priority,
		}); err != nil {
			return nil, domain.E(domain.KindStoreUnavailable, "store: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "store: %v", err)
	}
	return orders, nil
}

func (c Commander) collectReports(ctx context.Context, day time.Time, dimensions []string) ([]analysis.Report, error) {
	var reports []analysis.Report
	targetDate := day.Format(dateLayout)
	for _, dim := range dimensions {
		switch dim {
		case "batch":
			start := day.UTC().Format(time.RFC3339)
			end := day.UTC().AddDate(0, 0, 1).Format(time.RFC3339)
			batches, err := c.Repo.ListBatchesStarted(ctx, start, end)
			if err != nil {
				return nil, domain.E(domain.KindStoreUnavailable, "store: %v", err)
			}
			for _, b := range batches {
				report, err := c.Orchestrator.AnalyzeByBatch(ctx, b.ID, 0)
				if err != nil {
					return nil, err
				}
				reports = append(reports, report)
			}
		case "process":
			units, err := c.Repo.ListNodesByType(ctx, "Unit")
			if err != nil {
				return nil, domain.E(domain.KindStoreUnavailable, "store: %v", err)
			}
			for _, n := range units {
				report, err := c.Orchestrator.AnalyzeByProcess(ctx, n.Code, "", 0, 0)
				if err != nil {
					return nil, err
				}
				reports = append(reports, report)
			}
		case "workshop":
			blocks, err := c.Repo.ListNodesByType(ctx, "Block")
			if err != nil {
				return nil, domain.E(domain.KindStoreUnavailable, "store: %v", err)
			}
			for _, n := range blocks {
				report, err := c.Orchestrator.AnalyzeByWorkshop(ctx, n.Code, targetDate, 0)
				if err != nil {
					return nil, err
				}
				reports = append(reports, report)
			}
		default:
			return nil, domain.E(domain.KindBadRequest, "unknown dimension %q", dim)
		}
	}
	return reports, nil
}

func (c Commander) instruction(targetDate, createdAt string, issue analysis.Issue, action domain.ActionDef) domain.Instruction {
	content := renderTemplate(action.InstructionTemplate, templateVars(issue))
	ins := domain.Instruction{
		ID:              c.newID(),
		TargetDate:      targetDate,
		Role:            action.TargetRole,
		ActionCode:      action.Code,
		NodeCode:        &issue.NodeCode,
		Content:         content,
		Status:          domain.InstructionPending,
		Priority:        action.Priority,
		InstructionType: "tactical",
		CreatedAt:       createdAt,
		Evidence: map[string]any{
			"severity":       issue.Severity,
			"current_value":  issue.CurrentValue,
			"node_code":      issue.NodeCode,
			"param_code":     issue.ParamCode,
			"violations":     issue.Violations,
			"priority_score": domain.PriorityScore(action.Priority),
		},
	}
	if issue.ParamCode != "" {
		code := issue.ParamCode
		ins.ParamCode = &code
	}
	if issue.BatchID != "" {
		id := issue.BatchID
		ins.BatchID = &id
		ins.Evidence["batch_id"] = issue.BatchID
	}
	if issue.Cpk != nil {
		ins.Evidence["cpk"] = *issue.Cpk
	}
	if issue.Target != nil {
		ins.Evidence["target_value"] = *issue.Target
	}
	return ins
}

// templateVars builds the substitution bag for an instruction template. The
// valve placeholders assume a 50% default opening and nudge it toward the
// target value.
func templateVars(issue analysis.Issue) map[string]string {
	vars := map[string]string{
		"node_name":     issue.NodeName,
		"node_code":     issue.NodeCode,
		"param_code":    issue.ParamCode,
		"param_name":    issue.ParamName,
		"batch_id":      issue.BatchID,
		"current_value": formatValue(issue.CurrentValue),
		"current_valve": "50",
	}
	if vars["node_name"] == "" {
		vars["node_name"] = issue.NodeCode
	}
	if issue.Target != nil {
		vars["target_value"] = formatValue(*issue.Target)
	} else {
		vars["target_value"] = "N/A"
	}
	if issue.Cpk != nil {
		vars["cpk"] = strconv.FormatFloat(*issue.Cpk, 'f', 2, 64)
	} else {
		vars["cpk"] = "N/A"
	}
	if issue.Target != nil && issue.CurrentValue > *issue.Target {
		vars["suggested_valve"] = "45"
	} else {
		vars["suggested_valve"] = "55"
	}
	return vars
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func renderTemplate(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// InstructionsByRole lists a role's instructions for a date, optionally
// filtered by a comma-separated status list.
func (c Commander) InstructionsByRole(ctx context.Context, role, targetDate, statusFilter string) ([]domain.Instruction, error) {
	if role == "" {
		return nil, domain.E(domain.KindBadRequest, "role is required")
	}
	var statuses []string
	if statusFilter != "" {
		for _, s := range strings.Split(statusFilter, ",") {
			s = strings.TrimSpace(s)
			switch s {
			case domain.InstructionPending, domain.InstructionRead, domain.InstructionDone:
				statuses = append(statuses, s)
			case "":
			default:
				return nil, domain.E(domain.KindBadRequest, "unknown status %q", s)
			}
		}
	}
	res, err := c.Repo.ListInstructions(ctx, role, targetDate, statuses)
	if err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "store: %v", err)
	}
	return res, nil
}

// MarkRead transitions Pending → Read.
func (c Commander) MarkRead(ctx context.Context, id, actor string) (domain.Instruction, error) {
	return c.transition(ctx, id, actor, domain.InstructionPending, events.InstructionRead,
		func(tx *sql.Tx, ts string) (bool, error) {
			return c.Repo.MarkInstructionReadTx(ctx, tx, id, ts)
		})
}

// MarkDone transitions Read → Done with optional feedback.
func (c Commander) MarkDone(ctx context.Context, id, actor string, feedback *string) (domain.Instruction, error) {
	return c.transition(ctx, id, actor, domain.InstructionRead, events.InstructionDone,
		func(tx *sql.Tx, ts string) (bool, error) {
			return c.Repo.MarkInstructionDoneTx(ctx, tx, id, ts, feedback)
		})
}

func (c Commander) transition(ctx context.Context, id, actor, wantStatus string, evtType events.Type, apply func(*sql.Tx, string) (bool, error)) (domain.Instruction, error) {
	current, err := c.Repo.GetInstruction(ctx, id)
	if err == repo.ErrNotFound {
		return domain.Instruction{}, domain.E(domain.KindUnknownEntity, "instruction %s not found", id)
	}
	if err != nil {
		return domain.Instruction{}, domain.E(domain.KindStoreUnavailable, "store: %v", err)
	}

	tx, err := c.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Instruction{}, domain.E(domain.KindStoreUnavailable, "store: %v", err)
	}
	defer tx.Rollback()

	ts := c.now().UTC().Format(time.RFC3339)
	ok, err := apply(tx, ts)
	if err != nil {
		return domain.Instruction{}, domain.E(domain.KindStoreUnavailable, "store: %v", err)
	}
	if !ok {
		return domain.Instruction{}, domain.E(domain.KindBadTransition,
			"instruction %s is %s, expected %s", id, current.Status, wantStatus)
	}
	if err := c.Events.Append(ctx, tx, evtType, "instruction", id, actor, events.Payload{"at": ts}); err != nil {
		return domain.Instruction{}, domain.E(domain.KindStoreUnavailable, "store: %v", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Instruction{}, domain.E(domain.KindStoreUnavailable, "store: %v", err)
	}
	return c.Repo.GetInstruction(ctx, id)
}
