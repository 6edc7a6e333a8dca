package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"spcline/internal/analysis"
	"spcline/internal/domain"
	"spcline/internal/repo"
	"spcline/internal/tools"
)

type reportOutput struct {
	Body ReportResponse `json:"body"`
}

func reportResponse(r analysis.Report) *reportOutput {
	return &reportOutput{Body: ReportResponse{
		Success:    true,
		Report:     r,
		Paragraphs: analysis.Paragraphs(r),
		Markdown:   analysis.Markdown(r),
	}}
}

func registerAnalysis(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "analyze-batch",
		Method:      http.MethodPost,
		Path:        "/analysis/batch",
		Summary:     "Analyse one production batch",
	}, func(ctx context.Context, input *struct {
		Body BatchAnalysisRequest
	}) (*reportOutput, error) {
		if input.Body.BatchID == "" {
			return nil, handleError(domain.E(domain.KindBadRequest, "batch_id is required"))
		}
		report, err := cfg.Orchestrator.AnalyzeByBatch(ctx, input.Body.BatchID, input.Body.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return reportResponse(report), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analyze-process",
		Method:      http.MethodPost,
		Path:        "/analysis/process",
		Summary:     "Analyse one process node",
	}, func(ctx context.Context, input *struct {
		Body ProcessAnalysisRequest
	}) (*reportOutput, error) {
		if input.Body.NodeCode == "" {
			return nil, handleError(domain.E(domain.KindBadRequest, "node_code is required"))
		}
		report, err := cfg.Orchestrator.AnalyzeByProcess(ctx, input.Body.NodeCode, input.Body.ParamCode, input.Body.TimeWindow, input.Body.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return reportResponse(report), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analyze-workshop",
		Method:      http.MethodPost,
		Path:        "/analysis/workshop",
		Summary:     "Analyse a workshop block",
	}, func(ctx context.Context, input *struct {
		Body WorkshopAnalysisRequest
	}) (*reportOutput, error) {
		if input.Body.BlockCode == "" {
			return nil, handleError(domain.E(domain.KindBadRequest, "block_code is required"))
		}
		report, err := cfg.Orchestrator.AnalyzeByWorkshop(ctx, input.Body.BlockCode, input.Body.Date, input.Body.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return reportResponse(report), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analyze-person",
		Method:      http.MethodPost,
		Path:        "/analysis/person",
		Summary:     "Analyse one operator's batches",
	}, func(ctx context.Context, input *struct {
		Body PersonAnalysisRequest
	}) (*reportOutput, error) {
		if input.Body.OperatorID == "" {
			return nil, handleError(domain.E(domain.KindBadRequest, "operator_id is required"))
		}
		report, err := cfg.Orchestrator.AnalyzeByPerson(ctx, input.Body.OperatorID, input.Body.DateRange, input.Body.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return reportResponse(report), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analyze-time",
		Method:      http.MethodPost,
		Path:        "/analysis/time",
		Summary:     "Analyse a date range",
	}, func(ctx context.Context, input *struct {
		Body TimeAnalysisRequest
	}) (*reportOutput, error) {
		report, err := cfg.Orchestrator.AnalyzeByTime(ctx, input.Body.StartDate, input.Body.EndDate, input.Body.Granularity, input.Body.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return reportResponse(report), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analyze-daily",
		Method:      http.MethodPost,
		Path:        "/analysis/daily",
		Summary:     "Merged daily report across all workshops",
	}, func(ctx context.Context, input *struct {
		Body DailyAnalysisRequest
	}) (*reportOutput, error) {
		if _, err := time.Parse("2006-01-02", input.Body.Date); err != nil {
			return nil, handleError(domain.E(domain.KindBadRequest, "invalid date %q: expected YYYY-MM-DD", input.Body.Date))
		}
		blocks, err := cfg.Repo.ListNodesByType(ctx, "Block")
		if err != nil {
			return nil, handleError(storeErr(err))
		}
		var reports []analysis.Report
		for _, block := range blocks {
			report, err := cfg.Orchestrator.AnalyzeByWorkshop(ctx, block.Code, input.Body.Date, 0)
			if err != nil {
				return nil, handleError(err)
			}
			reports = append(reports, report)
		}
		return reportResponse(analysis.Merge(reports)), nil
	})
}

type toolOutput struct {
	Body tools.Result `json:"body"`
}

func registerTools(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tools",
		Method:      http.MethodGet,
		Path:        "/lss/tools",
		Summary:     "Statistical tool catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ToolListResponse `json:"body"`
	}, error) {
		return &struct {
			Body ToolListResponse `json:"body"`
		}{Body: ToolListResponse{Tools: cfg.registry().List()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-tool",
		Method:      http.MethodPost,
		Path:        "/lss/tools/{key}/run",
		Summary:     "Run a tool on caller-supplied data",
	}, func(ctx context.Context, input *struct {
		Key  string `path:"key"`
		Body ToolRunRequest
	}) (*toolOutput, error) {
		tool, err := cfg.registry().Get(input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		data := tools.Data{
			Values:     input.Body.Data.Values,
			Categories: input.Body.Data.Categories,
			Series:     input.Body.Data.Series,
		}
		return &toolOutput{Body: tool.Run(data, tools.Config(input.Body.Config))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "spc-analyze",
		Method:      http.MethodPost,
		Path:        "/lss/spc/analyze",
		Summary:     "Capability analysis over stored measurements",
	}, func(ctx context.Context, input *struct {
		Body SPCAnalysisRequest
	}) (*toolOutput, error) {
		values, param, err := storedSeries(ctx, cfg, input.Body.NodeCode, input.Body.ParamCode, input.Body.TimeWindow, input.Body.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		tcfg := limitConfig(param, input.Body.USL, input.Body.LSL, input.Body.Target)
		tool, err := cfg.registry().Get("spc")
		if err != nil {
			return nil, handleError(err)
		}
		return &toolOutput{Body: tool.Run(tools.Data{Values: values}, tcfg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "histogram-analyze",
		Method:      http.MethodPost,
		Path:        "/lss/histogram/analyze",
		Summary:     "Distribution analysis over stored measurements",
	}, func(ctx context.Context, input *struct {
		Body HistogramAnalysisRequest
	}) (*toolOutput, error) {
		values, param, err := storedSeries(ctx, cfg, input.Body.NodeCode, input.Body.ParamCode, input.Body.TimeWindow, input.Body.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		tcfg := limitConfig(param, input.Body.USL, input.Body.LSL, nil)
		if input.Body.Bins > 0 {
			tcfg["bins"] = float64(input.Body.Bins)
		}
		tool, err := cfg.registry().Get("histogram")
		if err != nil {
			return nil, handleError(err)
		}
		return &toolOutput{Body: tool.Run(tools.Data{Values: values}, tcfg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "boxplot-analyze",
		Method:      http.MethodPost,
		Path:        "/lss/boxplot/analyze",
		Summary:     "Cross-node comparison over stored measurements",
	}, func(ctx context.Context, input *struct {
		Body BoxplotAnalysisRequest
	}) (*toolOutput, error) {
		series := map[string][]float64{}
		for _, nodeCode := range input.Body.NodeCodes {
			values, _, err := storedSeries(ctx, cfg, nodeCode, input.Body.ParamCode, input.Body.TimeWindow, input.Body.Limit)
			if err != nil {
				return nil, handleError(err)
			}
			series[nodeCode] = values
		}
		tcfg := tools.Config{}
		if input.Body.OutlierFactor != nil {
			tcfg["outlier_factor"] = *input.Body.OutlierFactor
		}
		tool, err := cfg.registry().Get("boxplot")
		if err != nil {
			return nil, handleError(err)
		}
		return &toolOutput{Body: tool.Run(tools.Data{Series: series}, tcfg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pareto-analyze",
		Method:      http.MethodPost,
		Path:        "/lss/pareto/analyze",
		Summary:     "Pareto analysis of categorical counts",
	}, func(ctx context.Context, input *struct {
		Body ParetoAnalysisRequest
	}) (*toolOutput, error) {
		tcfg := tools.Config{}
		if input.Body.Threshold != nil {
			tcfg["threshold"] = *input.Body.Threshold
		}
		tool, err := cfg.registry().Get("pareto")
		if err != nil {
			return nil, handleError(err)
		}
		return &toolOutput{Body: tool.Run(tools.Data{Categories: input.Body.Categories}, tcfg)}, nil
	})
}

// storedSeries resolves a node parameter and fetches its measurement series
// through the provider so limit clamping and time windows behave identically
// to the analysis dimensions.
func storedSeries(ctx context.Context, cfg Config, nodeCode, paramCode string, timeWindow, limit int) ([]float64, domain.ParameterDef, error) {
	if nodeCode == "" || paramCode == "" {
		return nil, domain.ParameterDef{}, domain.E(domain.KindBadRequest, "node_code and param_code are required")
	}
	param, err := cfg.Repo.GetParameter(ctx, nodeCode, paramCode)
	if err == repo.ErrNotFound {
		return nil, domain.ParameterDef{}, domain.E(domain.KindUnknownEntity, "parameter %s/%s not found", nodeCode, paramCode)
	}
	if err != nil {
		return nil, domain.ParameterDef{}, storeErr(err)
	}
	dc, err := cfg.Provider.ByProcess(ctx, nodeCode, paramCode, timeWindow, limit)
	if err != nil {
		return nil, domain.ParameterDef{}, err
	}
	for _, g := range dc.Groups {
		if g.ParamCode == paramCode {
			return g.Values, param, nil
		}
	}
	return []float64{}, param, nil
}

// limitConfig seeds tool config from the parameter definition with request
// overrides taking precedence.
func limitConfig(param domain.ParameterDef, usl, lsl, target *float64) tools.Config {
	tcfg := tools.Config{}
	set := func(key string, override, def *float64) {
		switch {
		case override != nil:
			tcfg[key] = *override
		case def != nil:
			tcfg[key] = *def
		}
	}
	set("usl", usl, param.USL)
	set("lsl", lsl, param.LSL)
	set("target", target, param.Target)
	return tcfg
}
