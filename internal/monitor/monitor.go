// Package monitor serves current-state views: per-node parameter trends with
// rolling capability, and a fleet-wide latest-status map.
package monitor

import (
	"context"
	"time"

	"spcline/internal/domain"
	"spcline/internal/repo"
	"spcline/internal/tools"
)

const (
	StatusNormal  = "Normal"
	StatusWarning = "Warning"
	StatusError   = "Error"
)

// ParamView is one parameter's recent window on a node.
type ParamView struct {
	ParamCode  string    `json:"param_code"`
	ParamName  string    `json:"param_name"`
	Unit       string    `json:"unit,omitempty"`
	USL        *float64  `json:"usl,omitempty"`
	LSL        *float64  `json:"lsl,omitempty"`
	Target     *float64  `json:"target,omitempty"`
	Values     []float64 `json:"values"`
	Timestamps []string  `json:"timestamps"`
	Latest     float64   `json:"latest"`
	LatestTime string    `json:"latest_time"`
	Cpk        *float64  `json:"cpk,omitempty"`
	Status     string    `json:"status" enum:"Normal,Warning,Error"`
}

// NodeView is the monitor payload for one node.
type NodeView struct {
	NodeCode   string      `json:"node_code"`
	NodeName   string      `json:"node_name"`
	NodeType   string      `json:"node_type"`
	Parameters []ParamView `json:"parameters"`
	QueryTime  string      `json:"query_time"`
}

// NodeStatus is one row of the fleet status map.
type NodeStatus struct {
	NodeCode   string   `json:"node_code"`
	NodeName   string   `json:"node_name"`
	Status     string   `json:"status" enum:"Normal,Warning,Error"`
	Cpk        *float64 `json:"cpk,omitempty"`
	LatestTime string   `json:"latest_time,omitempty"`
}

type Monitor struct {
	Repo   repo.Repo
	Now    func() time.Time
	Window int
}

func (m Monitor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m Monitor) window() int {
	if m.Window > 0 {
		return m.Window
	}
	return 20
}

// NodeMonitor returns the last-window series and rolling Cpk for every
// parameter of a node.
func (m Monitor) NodeMonitor(ctx context.Context, nodeCode string) (NodeView, error) {
	node, err := m.Repo.GetNode(ctx, nodeCode)
	if err == repo.ErrNotFound {
		return NodeView{}, domain.E(domain.KindUnknownEntity, "node %s not found", nodeCode)
	}
	if err != nil {
		return NodeView{}, domain.E(domain.KindStoreUnavailable, "store: %v", err)
	}

	params, err := m.Repo.ListParameters(ctx, nodeCode)
	if err != nil {
		return NodeView{}, domain.E(domain.KindStoreUnavailable, "store: %v", err)
	}

	view := NodeView{
		NodeCode:   node.Code,
		NodeName:   node.Name,
		NodeType:   node.Type,
		Parameters: []ParamView{},
		QueryTime:  m.now().UTC().Format(time.RFC3339),
	}
	for _, p := range params {
		pv, err := m.paramView(ctx, p)
		if err != nil {
			return NodeView{}, err
		}
		view.Parameters = append(view.Parameters, pv)
	}
	return view, nil
}

func (m Monitor) paramView(ctx context.Context, p domain.ParameterDef) (ParamView, error) {
	pv := ParamView{
		ParamCode:  p.Code,
		ParamName:  p.Name,
		Unit:       p.Unit,
		USL:        p.USL,
		LSL:        p.LSL,
		Target:     p.Target,
		Values:     []float64{},
		Timestamps: []string{},
		Status:     StatusNormal,
	}
	ms, err := m.Repo.ListMeasurementsByNode(ctx, p.NodeCode, p.Code, "", m.window())
	if err != nil {
		return pv, domain.E(domain.KindStoreUnavailable, "store: %v", err)
	}
	for _, meas := range ms {
		pv.Values = append(pv.Values, meas.Value)
		pv.Timestamps = append(pv.Timestamps, meas.Timestamp)
	}
	if n := len(ms); n > 0 {
		pv.Latest = ms[n-1].Value
		pv.LatestTime = ms[n-1].Timestamp
	}
	pv.Cpk = rollingCpk(pv.Values, p)
	pv.Status = statusForCpk(pv.Cpk)
	return pv, nil
}

// LatestStatus summarises every Unit node for the fleet map.
func (m Monitor) LatestStatus(ctx context.Context) ([]NodeStatus, error) {
	units, err := m.Repo.ListNodesByType(ctx, "Unit")
	if err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "store: %v", err)
	}
	res := make([]NodeStatus, 0, len(units))
	for _, node := range units {
		ns := NodeStatus{NodeCode: node.Code, NodeName: node.Name, Status: StatusNormal}
		params, err := m.Repo.ListParameters(ctx, node.Code)
		if err != nil {
			return nil, domain.E(domain.KindStoreUnavailable, "store: %v", err)
		}
		// The node takes the worst parameter status and the newest timestamp.
		for _, p := range params {
			pv, err := m.paramView(ctx, p)
			if err != nil {
				return nil, err
			}
			if pv.LatestTime > ns.LatestTime {
				ns.LatestTime = pv.LatestTime
			}
			if worse(pv.Status, ns.Status) {
				ns.Status = pv.Status
				ns.Cpk = pv.Cpk
			} else if ns.Cpk == nil && pv.Cpk != nil && pv.Status == ns.Status {
				ns.Cpk = pv.Cpk
			}
		}
		res = append(res, ns)
	}
	return res, nil
}

// rollingCpk computes capability over the window with the spc tool; nil when
// the window is too short or limits are missing.
func rollingCpk(values []float64, p domain.ParameterDef) *float64 {
	if len(values) < 2 || (p.USL == nil && p.LSL == nil) {
		return nil
	}
	cfg := tools.Config{}
	if p.USL != nil {
		cfg["usl"] = *p.USL
	}
	if p.LSL != nil {
		cfg["lsl"] = *p.LSL
	}
	if p.Target != nil {
		cfg["target"] = *p.Target
	}
	res := tools.SPCTool{}.Run(tools.Data{Values: values}, cfg)
	if !res.Success {
		return nil
	}
	if cpk, ok := res.Result["cpk"].(float64); ok {
		return &cpk
	}
	return nil
}

func statusForCpk(cpk *float64) string {
	switch {
	case cpk == nil:
		return StatusNormal
	case *cpk >= 1.33:
		return StatusNormal
	case *cpk >= 1.0:
		return StatusWarning
	default:
		return StatusError
	}
}

var statusRank = map[string]int{StatusNormal: 0, StatusWarning: 1, StatusError: 2}

func worse(a, b string) bool { return statusRank[a] > statusRank[b] }
