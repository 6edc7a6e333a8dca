package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"spcline/internal/domain"
	"spcline/internal/events"
	"spcline/internal/monitor"
	"spcline/internal/repo"
)

func registerInstructions(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-orders",
		Method:      http.MethodPost,
		Path:        "/instructions/generate",
		Summary:     "Generate daily instructions from analysis findings",
	}, func(ctx context.Context, input *struct {
		Body GenerateOrdersRequest
	}) (*struct {
		Body GenerateOrdersResponse `json:"body"`
	}, error) {
		orders, err := cfg.Commander.GenerateDailyOrders(ctx, input.Body.TargetDate, input.Body.Dimensions)
		if err != nil {
			return nil, handleError(err)
		}
		total := 0
		for _, ins := range orders {
			total += len(ins)
		}
		return &struct {
			Body GenerateOrdersResponse `json:"body"`
		}{Body: GenerateOrdersResponse{
			Success:    true,
			TargetDate: input.Body.TargetDate,
			Total:      total,
			Orders:     orders,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-instructions",
		Method:      http.MethodGet,
		Path:        "/instructions",
		Summary:     "List a role's instructions",
	}, func(ctx context.Context, input *struct {
		Role       string `query:"role"`
		TargetDate string `query:"target_date"`
		Status     string `query:"status" doc:"Comma-separated status filter"`
	}) (*struct {
		Body InstructionListResponse `json:"body"`
	}, error) {
		ins, err := cfg.Commander.InstructionsByRole(ctx, input.Role, input.TargetDate, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		if ins == nil {
			ins = []domain.Instruction{}
		}
		return &struct {
			Body InstructionListResponse `json:"body"`
		}{Body: InstructionListResponse{Instructions: ins, Total: len(ins)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-instruction",
		Method:      http.MethodPost,
		Path:        "/instructions/{id}/read",
		Summary:     "Acknowledge an instruction",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body TransitionRequest
	}) (*struct {
		Body domain.Instruction `json:"body"`
	}, error) {
		actor := actorFromContext(ctx, input.Body.Operator)
		ins, err := cfg.Commander.MarkRead(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Instruction `json:"body"`
		}{Body: ins}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-instruction",
		Method:      http.MethodPost,
		Path:        "/instructions/{id}/done",
		Summary:     "Complete an instruction with optional feedback",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body TransitionRequest
	}) (*struct {
		Body domain.Instruction `json:"body"`
	}, error) {
		actor := actorFromContext(ctx, input.Body.Operator)
		ins, err := cfg.Commander.MarkDone(ctx, input.ID, actor, input.Body.Feedback)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Instruction `json:"body"`
		}{Body: ins}, nil
	})
}

func registerMeasurements(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "record-measurement",
		Method:      http.MethodPost,
		Path:        "/measurements",
		Summary:     "Record one measurement, auto-creating its batch",
	}, func(ctx context.Context, input *struct {
		Body RecordMeasurementRequest
	}) (*struct {
		Body RecordMeasurementResponse `json:"body"`
	}, error) {
		req := input.Body
		if req.BatchID == "" || req.NodeCode == "" || req.ParamCode == "" {
			return nil, handleError(domain.E(domain.KindBadRequest, "batch_id, node_code and param_code are required"))
		}
		if _, err := cfg.Repo.GetParameter(ctx, req.NodeCode, req.ParamCode); err == repo.ErrNotFound {
			return nil, handleError(domain.E(domain.KindUnknownEntity, "parameter %s/%s not found", req.NodeCode, req.ParamCode))
		} else if err != nil {
			return nil, handleError(storeErr(err))
		}
		ts := req.Timestamp
		if ts == "" {
			ts = cfg.now().UTC().Format(time.RFC3339)
		} else if _, err := time.Parse(time.RFC3339, ts); err != nil {
			return nil, handleError(domain.E(domain.KindBadRequest, "invalid timestamp %q", ts))
		}
		source := req.Source
		if source == "" {
			source = "INPUT"
		}

		tx, err := cfg.Repo.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(storeErr(err))
		}
		defer tx.Rollback()

		created, err := cfg.Repo.EnsureBatchTx(ctx, tx, req.BatchID, ts)
		if err != nil {
			return nil, handleError(storeErr(err))
		}
		id, err := cfg.Repo.InsertMeasurementTx(ctx, tx, domain.Measurement{
			BatchID:   req.BatchID,
			NodeCode:  req.NodeCode,
			ParamCode: req.ParamCode,
			Value:     req.Value,
			Timestamp: ts,
			Source:    source,
		})
		if err != nil {
			return nil, handleError(storeErr(err))
		}
		actor := actorFromContext(ctx, "")
		if created {
			if err := cfg.Events.Append(ctx, tx, events.BatchCreated, "batch", req.BatchID, actor, events.Payload{
				"start_time": ts,
			}); err != nil {
				return nil, handleError(storeErr(err))
			}
		}
		if err := cfg.Events.Append(ctx, tx, events.MeasurementRecorded, "measurement", strconv.FormatInt(id, 10), actor, events.Payload{
			"batch_id":   req.BatchID,
			"node_code":  req.NodeCode,
			"param_code": req.ParamCode,
			"value":      req.Value,
		}); err != nil {
			return nil, handleError(storeErr(err))
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(storeErr(err))
		}
		return &struct {
			Body RecordMeasurementResponse `json:"body"`
		}{Body: RecordMeasurementResponse{Success: true, ID: id, BatchCreated: created}}, nil
	})
}

func registerMonitor(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "monitor-node",
		Method:      http.MethodGet,
		Path:        "/monitor/node/{code}",
		Summary:     "Recent parameter trends for one node",
	}, func(ctx context.Context, input *struct {
		Code string `path:"code"`
	}) (*struct {
		Body monitor.NodeView `json:"body"`
	}, error) {
		view, err := cfg.Monitor.NodeMonitor(ctx, input.Code)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body monitor.NodeView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "monitor-latest",
		Method:      http.MethodGet,
		Path:        "/monitor/latest",
		Summary:     "Latest status across all units",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body LatestStatusResponse `json:"body"`
	}, error) {
		statuses, err := cfg.Monitor.LatestStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := LatestStatusResponse{Nodes: []NodeStatusItem{}, QueryTime: cfg.now().UTC().Format(time.RFC3339)}
		for _, s := range statuses {
			resp.Nodes = append(resp.Nodes, NodeStatusItem{
				NodeCode:   s.NodeCode,
				NodeName:   s.NodeName,
				Status:     s.Status,
				Cpk:        s.Cpk,
				LatestTime: s.LatestTime,
			})
		}
		return &struct {
			Body LatestStatusResponse `json:"body"`
		}{Body: resp}, nil
	})
}
