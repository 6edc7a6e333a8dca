package domain

// Node is a unit in the process graph. Blocks sit at the roots, Units under
// Blocks, Resources attached to Blocks. Codes are unique process-wide.
type Node struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Type       string  `json:"type" enum:"Block,Unit,Resource"`
	ParentCode *string `json:"parent_code,omitempty"`
}

// ParameterDef is a measurable attribute of a Node, unique per
// (node_code, code).
type ParameterDef struct {
	NodeCode string   `json:"node_code"`
	Code     string   `json:"code"`
	Name     string   `json:"name"`
	Unit     string   `json:"unit,omitempty"`
	Role     string   `json:"role" enum:"Input,Control,Output"`
	USL      *float64 `json:"usl,omitempty"`
	LSL      *float64 `json:"lsl,omitempty"`
	Target   *float64 `json:"target,omitempty"`
	DataType string   `json:"data_type" enum:"Scalar,Spectrum,Image,Grade"`
}

// Flow is a directed edge between two process Nodes.
type Flow struct {
	SourceCode string   `json:"source_code"`
	TargetCode string   `json:"target_code"`
	Name       string   `json:"name,omitempty"`
	LossRate   *float64 `json:"loss_rate,omitempty"`
}

// Risk is a fault-tree node; RiskEdges link child cause to parent effect and
// together form a DAG.
type Risk struct {
	Code            string   `json:"code"`
	Name            string   `json:"name"`
	Category        string   `json:"category" enum:"Top,Equipment,Material,Human,Environment,Method"`
	BaseProbability *float64 `json:"base_probability,omitempty"`
}

type RiskEdge struct {
	SourceCode string `json:"source_code"`
	TargetCode string `json:"target_code"`
}

// Batch is a production run. It may be created implicitly by the first
// measurement that references it.
type Batch struct {
	ID          string  `json:"id"`
	ProductName string  `json:"product_name,omitempty"`
	OperatorID  *string `json:"operator_id,omitempty"`
	StartTime   string  `json:"start_time" format:"date-time"`
	EndTime     *string `json:"end_time,omitempty" format:"date-time"`
	Status      string  `json:"status" enum:"Running,Completed"`
}

type Measurement struct {
	ID        int64   `json:"id"`
	BatchID   string  `json:"batch_id"`
	NodeCode  string  `json:"node_code"`
	ParamCode string  `json:"param_code"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp" format:"date-time"`
	Source    string  `json:"source" enum:"HISTORY,SIMULATION,SENSOR,INPUT"`
}

// ActionDef is a remediation template. InstructionTemplate carries
// {placeholder} tokens rendered at instruction generation time.
type ActionDef struct {
	Code                string  `json:"code"`
	Name                string  `json:"name"`
	RiskCode            *string `json:"risk_code,omitempty"`
	TargetRole          string  `json:"target_role" enum:"Operator,QA,TeamLeader,Manager"`
	InstructionTemplate string  `json:"instruction_template"`
	Priority            string  `json:"priority" enum:"CRITICAL,HIGH,MEDIUM,LOW"`
	Category            string  `json:"category,omitempty"`
	Active              bool    `json:"active"`
}

// Instruction is a materialised per-role directive. Status only moves
// forward: Pending, then Read, then Done.
type Instruction struct {
	ID              string         `json:"id"`
	TargetDate      string         `json:"target_date"`
	Role            string         `json:"role"`
	ActionCode      string         `json:"action_code"`
	BatchID         *string        `json:"batch_id,omitempty"`
	NodeCode        *string        `json:"node_code,omitempty"`
	ParamCode       *string        `json:"param_code,omitempty"`
	Content         string         `json:"content"`
	Status          string         `json:"status" enum:"Pending,Read,Done"`
	Priority        string         `json:"priority" enum:"CRITICAL,HIGH,MEDIUM,LOW"`
	Evidence        map[string]any `json:"evidence,omitempty"`
	Feedback        *string        `json:"feedback,omitempty"`
	InstructionType string         `json:"instruction_type" enum:"tactical,strategic"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	ReadAt          *string        `json:"read_at,omitempty" format:"date-time"`
	DoneAt          *string        `json:"done_at,omitempty" format:"date-time"`
}

const (
	InstructionPending = "Pending"
	InstructionRead    = "Read"
	InstructionDone    = "Done"
)

const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityWarning  = "WARNING"
	SeverityNormal   = "NORMAL"
)

const (
	PriorityCritical = "CRITICAL"
	PriorityHigh     = "HIGH"
	PriorityMedium   = "MEDIUM"
	PriorityLow      = "LOW"
)

var severityRank = map[string]int{
	SeverityCritical: 3,
	SeverityHigh:     2,
	SeverityWarning:  1,
	SeverityNormal:   0,
}

var priorityRank = map[string]int{
	PriorityCritical: 3,
	PriorityHigh:     2,
	PriorityMedium:   1,
	PriorityLow:      0,
}

// SeverityRank orders severities; unknown values rank lowest.
func SeverityRank(s string) int { return severityRank[s] }

// PriorityRank orders action priorities; unknown values rank lowest.
func PriorityRank(p string) int { return priorityRank[p] }

// PriorityScore maps a priority to the numeric score persisted in instruction
// evidence and used for per-role ordering.
func PriorityScore(p string) int {
	switch p {
	case PriorityCritical:
		return 100
	case PriorityHigh:
		return 75
	case PriorityMedium:
		return 50
	default:
		return 25
	}
}
