package server

import (
	"spcline/internal/analysis"
	"spcline/internal/domain"
	"spcline/internal/tools"
)

// Request payloads

type BatchAnalysisRequest struct {
	BatchID string `json:"batch_id"`
	Limit   int    `json:"limit,omitempty" minimum:"0"`
}

type ProcessAnalysisRequest struct {
	NodeCode   string `json:"node_code"`
	ParamCode  string `json:"param_code,omitempty"`
	TimeWindow int    `json:"time_window,omitempty" minimum:"0" doc:"Days of history to include; 0 means all"`
	Limit      int    `json:"limit,omitempty" minimum:"0"`
}

type WorkshopAnalysisRequest struct {
	BlockCode string `json:"block_code"`
	Date      string `json:"date,omitempty" doc:"YYYY-MM-DD; empty means all dates"`
	Limit     int    `json:"limit,omitempty" minimum:"0"`
}

type PersonAnalysisRequest struct {
	OperatorID string   `json:"operator_id"`
	DateRange  []string `json:"date_range,omitempty" minItems:"2" maxItems:"2"`
	Limit      int      `json:"limit,omitempty" minimum:"0"`
}

type TimeAnalysisRequest struct {
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Granularity string `json:"granularity,omitempty" enum:",day,week,month"`
	Limit       int    `json:"limit,omitempty" minimum:"0"`
}

type DailyAnalysisRequest struct {
	Date string `json:"date" doc:"YYYY-MM-DD"`
}

type ToolRunData struct {
	Values     []float64            `json:"values,omitempty"`
	Categories []tools.Category     `json:"categories,omitempty"`
	Series     map[string][]float64 `json:"series,omitempty"`
}

type ToolRunRequest struct {
	Data   ToolRunData    `json:"data"`
	Config map[string]any `json:"config,omitempty"`
}

// SPCAnalysisRequest runs capability analysis over stored measurements. The
// optional limit overrides inherit the parameter definition when omitted.
type SPCAnalysisRequest struct {
	NodeCode   string   `json:"node_code"`
	ParamCode  string   `json:"param_code"`
	TimeWindow int      `json:"time_window,omitempty" minimum:"0"`
	Limit      int      `json:"limit,omitempty" minimum:"0"`
	USL        *float64 `json:"usl,omitempty"`
	LSL        *float64 `json:"lsl,omitempty"`
	Target     *float64 `json:"target,omitempty"`
}

type HistogramAnalysisRequest struct {
	NodeCode   string   `json:"node_code"`
	ParamCode  string   `json:"param_code"`
	TimeWindow int      `json:"time_window,omitempty" minimum:"0"`
	Limit      int      `json:"limit,omitempty" minimum:"0"`
	Bins       int      `json:"bins,omitempty" minimum:"0"`
	USL        *float64 `json:"usl,omitempty"`
	LSL        *float64 `json:"lsl,omitempty"`
}

type BoxplotAnalysisRequest struct {
	NodeCodes     []string `json:"node_codes" minItems:"1"`
	ParamCode     string   `json:"param_code"`
	TimeWindow    int      `json:"time_window,omitempty" minimum:"0"`
	Limit         int      `json:"limit,omitempty" minimum:"0"`
	OutlierFactor *float64 `json:"outlier_factor,omitempty"`
}

type ParetoAnalysisRequest struct {
	Categories []tools.Category `json:"categories" minItems:"1"`
	Threshold  *float64         `json:"threshold,omitempty"`
}

type GenerateOrdersRequest struct {
	TargetDate string   `json:"target_date" doc:"YYYY-MM-DD"`
	Dimensions []string `json:"dimensions,omitempty"`
}

type TransitionRequest struct {
	Operator string  `json:"operator,omitempty" doc:"Acting user; ignored when a JWT principal is present"`
	Feedback *string `json:"feedback,omitempty"`
}

type RecordMeasurementRequest struct {
	BatchID   string  `json:"batch_id"`
	NodeCode  string  `json:"node_code"`
	ParamCode string  `json:"param_code"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp,omitempty" format:"date-time"`
	Source    string  `json:"source,omitempty" enum:",HISTORY,SIMULATION,SENSOR,INPUT"`
}

// Response payloads

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type GraphNode struct {
	Code       string   `json:"code"`
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	ParentCode *string  `json:"parent_code,omitempty"`
	Position   Position `json:"position"`
	Hidden     bool     `json:"hidden,omitempty"`
}

type GraphEdge struct {
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Name     string   `json:"name,omitempty"`
	LossRate *float64 `json:"loss_rate,omitempty"`
}

type GraphStructureResponse struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

type RiskTreeResponse struct {
	Risks []domain.Risk     `json:"risks"`
	Edges []domain.RiskEdge `json:"edges"`
}

type NodeRisksResponse struct {
	NodeCode string        `json:"node_code"`
	NodeName string        `json:"node_name"`
	Risks    []domain.Risk `json:"risks"`
}

type ReportResponse struct {
	Success    bool            `json:"success"`
	Report     analysis.Report `json:"report"`
	Paragraphs []string        `json:"paragraphs"`
	Markdown   string          `json:"markdown"`
}

type ToolListResponse struct {
	Tools []tools.Metadata `json:"tools"`
}

type GenerateOrdersResponse struct {
	Success    bool                            `json:"success"`
	TargetDate string                          `json:"target_date"`
	Total      int                             `json:"total"`
	Orders     map[string][]domain.Instruction `json:"orders"`
}

type InstructionListResponse struct {
	Instructions []domain.Instruction `json:"instructions"`
	Total        int                  `json:"total"`
}

type RecordMeasurementResponse struct {
	Success      bool  `json:"success"`
	ID           int64 `json:"id"`
	BatchCreated bool  `json:"batch_created"`
}

type LatestStatusResponse struct {
	Nodes     []NodeStatusItem `json:"nodes"`
	QueryTime string           `json:"query_time"`
}

// NodeStatusItem mirrors monitor.NodeStatus for the wire.
type NodeStatusItem struct {
	NodeCode   string   `json:"node_code"`
	NodeName   string   `json:"node_name"`
	Status     string   `json:"status" enum:"Normal,Warning,Error"`
	Cpk        *float64 `json:"cpk,omitempty"`
	LatestTime string   `json:"latest_time,omitempty"`
}
