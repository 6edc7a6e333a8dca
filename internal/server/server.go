package server

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"spcline/internal/analysis"
	"spcline/internal/commander"
	"spcline/internal/domain"
	"spcline/internal/events"
	"spcline/internal/monitor"
	"spcline/internal/provider"
	"spcline/internal/repo"
	"spcline/internal/tools"
)

// Config for the HTTP API handler.
type Config struct {
	Repo         repo.Repo
	Registry     *tools.Registry
	Provider     provider.Provider
	Orchestrator analysis.Orchestrator
	Commander    commander.Commander
	Monitor      monitor.Monitor
	Events       events.Writer
	Now          func() time.Time
	BasePath     string
	Auth         AuthConfig
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Config) registry() *tools.Registry {
	if c.Registry != nil {
		return c.Registry
	}
	return tools.Default()
}

// apiError models the required error envelope. Huma marshals the error value
// itself, so the envelope fields live directly on the struct.
type apiError struct {
	status  int
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return strings.Join(e.Errors, "; ") }

// New returns an HTTP handler exposing the SPCLine API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the required envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request.
			status = http.StatusBadRequest
		}
		msgs := []string{msg}
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		return newAPIError(status, msgs...)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("SPCLine API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerGraph(group, cfg)
	registerAnalysis(group, cfg)
	registerTools(group, cfg)
	registerInstructions(group, cfg)
	registerMeasurements(group, cfg)
	registerMonitor(group, cfg)

	return router, nil
}

func newAPIError(status int, msgs ...string) huma.StatusError {
	if len(msgs) == 0 {
		msgs = []string{strings.ToLower(http.StatusText(status))}
	}
	return &apiError{status: status, Success: false, Errors: msgs}
}

// handleError maps domain error kinds onto HTTP statuses.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindBadRequest:
		status = http.StatusBadRequest
	case domain.KindUnknownTool, domain.KindUnknownEntity:
		status = http.StatusNotFound
	case domain.KindInsufficientData:
		status = http.StatusUnprocessableEntity
	case domain.KindBadTransition:
		status = http.StatusConflict
	case domain.KindStoreUnavailable:
		status = http.StatusServiceUnavailable
	}
	return newAPIError(status, err.Error())
}

func storeErr(err error) error {
	return domain.E(domain.KindStoreUnavailable, "store: %v", err)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerGraph(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "graph-structure",
		Method:      http.MethodGet,
		Path:        "/graph/structure",
		Summary:     "Process graph with layout hints",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body GraphStructureResponse `json:"body"`
	}, error) {
		nodes, err := cfg.Repo.ListNodes(ctx)
		if err != nil {
			return nil, handleError(storeErr(err))
		}
		flows, err := cfg.Repo.ListFlows(ctx)
		if err != nil {
			return nil, handleError(storeErr(err))
		}
		resp := GraphStructureResponse{Nodes: layoutNodes(nodes), Edges: []GraphEdge{}}
		for _, f := range flows {
			resp.Edges = append(resp.Edges, GraphEdge{
				Source:   f.SourceCode,
				Target:   f.TargetCode,
				Name:     f.Name,
				LossRate: f.LossRate,
			})
		}
		return &struct {
			Body GraphStructureResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "risk-tree",
		Method:      http.MethodGet,
		Path:        "/graph/risks/tree",
		Summary:     "Full fault tree",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RiskTreeResponse `json:"body"`
	}, error) {
		risks, err := cfg.Repo.ListRisks(ctx)
		if err != nil {
			return nil, handleError(storeErr(err))
		}
		edges, err := cfg.Repo.ListRiskEdges(ctx)
		if err != nil {
			return nil, handleError(storeErr(err))
		}
		if risks == nil {
			risks = []domain.Risk{}
		}
		if edges == nil {
			edges = []domain.RiskEdge{}
		}
		return &struct {
			Body RiskTreeResponse `json:"body"`
		}{Body: RiskTreeResponse{Risks: risks, Edges: edges}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "node-risks",
		Method:      http.MethodGet,
		Path:        "/graph/nodes/{code}/risks",
		Summary:     "Risks associated with one node",
	}, func(ctx context.Context, input *struct {
		Code string `path:"code"`
	}) (*struct {
		Body NodeRisksResponse `json:"body"`
	}, error) {
		node, err := cfg.Repo.GetNode(ctx, input.Code)
		if err == repo.ErrNotFound {
			return nil, handleError(domain.E(domain.KindUnknownEntity, "node %s not found", input.Code))
		}
		if err != nil {
			return nil, handleError(storeErr(err))
		}
		// Node-scoped risk codes first, then the process-family prefix as a
		// fallback (R_E… for extraction units, R_C… for concentration, …).
		risks, err := cfg.Repo.ListRisksByCodePrefix(ctx, "R_"+node.Code)
		if err != nil {
			return nil, handleError(storeErr(err))
		}
		if len(risks) == 0 && node.Code != "" {
			risks, err = cfg.Repo.ListRisksByCodePrefix(ctx, "R_"+node.Code[:1])
			if err != nil {
				return nil, handleError(storeErr(err))
			}
		}
		if risks == nil {
			risks = []domain.Risk{}
		}
		return &struct {
			Body NodeRisksResponse `json:"body"`
		}{Body: NodeRisksResponse{NodeCode: node.Code, NodeName: node.Name, Risks: risks}}, nil
	})
}

// layoutNodes assigns deterministic canvas positions: Blocks across the top
// row, Units in the middle band, Resources hidden at the bottom.
func layoutNodes(nodes []domain.Node) []GraphNode {
	sorted := make([]domain.Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	out := make([]GraphNode, 0, len(sorted))
	blockIdx, unitIdx, resIdx := 0, 0, 0
	for _, n := range sorted {
		gn := GraphNode{Code: n.Code, Name: n.Name, Type: n.Type, ParentCode: n.ParentCode}
		switch n.Type {
		case "Block":
			gn.Position = Position{X: 120 + blockIdx*340, Y: 60}
			blockIdx++
		case "Unit":
			gn.Position = Position{X: 120 + unitIdx*180, Y: 240}
			unitIdx++
		default:
			gn.Position = Position{X: 120 + resIdx*180, Y: 420}
			gn.Hidden = true
			resIdx++
		}
		out = append(out, gn)
	}
	return out
}
