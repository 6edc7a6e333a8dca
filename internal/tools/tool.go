// Package tools holds the statistical analysis tool catalog: a uniform tool
// contract, a registry keyed by tool key, and the descriptive tools (spc,
// pareto, histogram, boxplot).
package tools

import (
	"encoding/json"
	"fmt"
	"sort"

	"spcline/internal/domain"
)

type Metadata struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category" enum:"Descriptive,Diagnostic,Predictive,Prescriptive"`
	DataShape   string `json:"required_data_shape" enum:"TimeSeries,CategoricalCounts,MultipleTimeSeries"`
}

type Category struct {
	Category string  `json:"category"`
	Count    float64 `json:"count"`
}

// Data is the tool input; which field applies depends on the tool's
// required data shape.
type Data struct {
	Values     []float64
	Categories []Category
	Series     map[string][]float64
}

// Config carries tool options as loosely typed key/value pairs so the
// generic run operation can pass request JSON through unchanged.
type Config map[string]any

func (c Config) Float(key string) *float64 {
	v, ok := c[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return &f
		}
	}
	return nil
}

func (c Config) FloatOr(key string, def float64) float64 {
	if f := c.Float(key); f != nil {
		return *f
	}
	return def
}

func (c Config) IntOr(key string, def int) int {
	if f := c.Float(key); f != nil {
		return int(*f)
	}
	return def
}

// Result is the uniform tool envelope.
type Result struct {
	Success  bool               `json:"success"`
	Result   map[string]any     `json:"result,omitempty"`
	PlotData map[string]any     `json:"plot_data,omitempty"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
	Warnings []string           `json:"warnings"`
	Errors   []string           `json:"errors"`
	Insights []string           `json:"insights"`
}

// Tool is the analysis procedure contract. Validate is pure; Run never
// panics and packages failures into the envelope.
type Tool interface {
	Metadata() Metadata
	Validate(data Data, cfg Config) []error
	Run(data Data, cfg Config) Result
}

func failure(errs []error) Result {
	res := Result{Warnings: []string{}, Errors: []string{}, Insights: []string{}}
	for _, err := range errs {
		res.Errors = append(res.Errors, err.Error())
	}
	return res
}

// Registry holds tools by key. It is populated once at startup and read-only
// afterwards.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

func (r *Registry) Register(t Tool) error {
	key := t.Metadata().Key
	if key == "" {
		return fmt.Errorf("tool key empty")
	}
	if _, exists := r.tools[key]; exists {
		return fmt.Errorf("tool %q already registered", key)
	}
	r.tools[key] = t
	return nil
}

func (r *Registry) Get(key string) (Tool, error) {
	t, ok := r.tools[key]
	if !ok {
		return nil, domain.E(domain.KindUnknownTool, "unknown tool %q", key)
	}
	return t, nil
}

// List enumerates registered tool metadata sorted by key.
func (r *Registry) List() []Metadata {
	res := make([]Metadata, 0, len(r.tools))
	for _, t := range r.tools {
		res = append(res, t.Metadata())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Key < res[j].Key })
	return res
}

// Default returns a registry with the descriptive tool catalog.
func Default() *Registry {
	r := NewRegistry()
	for _, t := range []Tool{SPCTool{}, ParetoTool{}, HistogramTool{}, BoxplotTool{}} {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}
