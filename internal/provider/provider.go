// Package provider is the read-only query surface over the measurement
// store, keyed by analysis dimension.
package provider

import (
	"context"
	"sort"
	"time"

	"spcline/internal/domain"
	"spcline/internal/repo"
)

// Group is one (node, param) measurement series inside a DataContext.
// Param is nil when no parameter definition exists for the pair.
type Group struct {
	NodeCode  string
	ParamCode string
	Param     *domain.ParameterDef
	Values    []float64
	Times     []string
}

// DataContext bundles the measurements for one dimension query. Groups are
// sorted by (node_code, param_code) and each series is ordered by timestamp
// ascending.
type DataContext struct {
	Dimension string
	Key       string
	Batches   []string
	Groups    []Group
	Metadata  map[string]any
	QueryTime time.Time
}

// Empty reports whether the context carries no measurements.
func (dc DataContext) Empty() bool { return len(dc.Groups) == 0 }

type Provider struct {
	Repo         repo.Repo
	Now          func() time.Time
	DefaultLimit int
	MaxLimit     int
}

const dateLayout = "2006-01-02"

func (p Provider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p Provider) clamp(limit int) int {
	if limit <= 0 {
		if p.DefaultLimit > 0 {
			return p.DefaultLimit
		}
		return 100
	}
	if p.MaxLimit > 0 && limit > p.MaxLimit {
		return p.MaxLimit
	}
	return limit
}

// parseDay returns the UTC midnight for a YYYY-MM-DD string.
func parseDay(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, domain.E(domain.KindBadRequest, "invalid date %q: expected YYYY-MM-DD", s)
	}
	return t.UTC(), nil
}

func rfc3339(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// ByPerson collects measurements from all batches attributed to an operator,
// optionally bounded to a [start, end] date range (end inclusive).
func (p Provider) ByPerson(ctx context.Context, operatorID string, dateRange []string, limit int) (DataContext, error) {
	if operatorID == "" {
		return DataContext{}, domain.E(domain.KindBadRequest, "operator_id is required")
	}
	var startTS, endTS string
	if len(dateRange) > 0 {
		if len(dateRange) != 2 {
			return DataContext{}, domain.E(domain.KindBadRequest, "date_range must carry exactly two dates")
		}
		start, err := parseDay(dateRange[0])
		if err != nil {
			return DataContext{}, err
		}
		end, err := parseDay(dateRange[1])
		if err != nil {
			return DataContext{}, err
		}
		if end.Before(start) {
			return DataContext{}, domain.E(domain.KindBadRequest, "date_range end precedes start")
		}
		startTS = rfc3339(start)
		endTS = rfc3339(end.AddDate(0, 0, 1))
	}
	batches, err := p.Repo.ListBatchesByOperator(ctx, operatorID, startTS, endTS)
	if err != nil {
		return DataContext{}, storeErr(err)
	}
	batchIDs := make([]string, 0, len(batches))
	for _, b := range batches {
		batchIDs = append(batchIDs, b.ID)
	}
	ms, err := p.Repo.ListMeasurementsByBatches(ctx, batchIDs, p.clamp(limit))
	if err != nil {
		return DataContext{}, storeErr(err)
	}
	return p.build(ctx, "person", operatorID, batchIDs, ms, map[string]any{
		"operator_id":   operatorID,
		"total_batches": len(batchIDs),
	})
}

// ByBatch collects all measurements of a single batch. An unknown batch
// yields an empty context, not an error.
func (p Provider) ByBatch(ctx context.Context, batchID string, limit int) (DataContext, error) {
	if batchID == "" {
		return DataContext{}, domain.E(domain.KindBadRequest, "batch_id is required")
	}
	meta := map[string]any{"batch_id": batchID}
	batch, err := p.Repo.GetBatch(ctx, batchID)
	switch {
	case err == repo.ErrNotFound:
	case err != nil:
		return DataContext{}, storeErr(err)
	default:
		meta["product_name"] = batch.ProductName
		meta["start_time"] = batch.StartTime
		meta["status"] = batch.Status
	}
	ms, err := p.Repo.ListMeasurementsByBatch(ctx, batchID, p.clamp(limit))
	if err != nil {
		return DataContext{}, storeErr(err)
	}
	return p.build(ctx, "batch", batchID, []string{batchID}, ms, meta)
}

// ByProcess collects recent measurements at one node, optionally scoped to a
// single parameter, within timeWindow days back from now.
func (p Provider) ByProcess(ctx context.Context, nodeCode, paramCode string, timeWindow, limit int) (DataContext, error) {
	if nodeCode == "" {
		return DataContext{}, domain.E(domain.KindBadRequest, "node_code is required")
	}
	if timeWindow <= 0 {
		timeWindow = 7
	}
	cutoff := rfc3339(p.now().AddDate(0, 0, -timeWindow))
	ms, err := p.Repo.ListMeasurementsByNode(ctx, nodeCode, paramCode, cutoff, p.clamp(limit))
	if err != nil {
		return DataContext{}, storeErr(err)
	}
	return p.build(ctx, "process", nodeCode, batchSet(ms), ms, map[string]any{
		"node_code":   nodeCode,
		"time_window": timeWindow,
		"cutoff":      cutoff,
	})
}

// ByWorkshop collects one day of measurements across all child Units of a
// Block. date defaults to today.
func (p Provider) ByWorkshop(ctx context.Context, blockCode, date string, limit int) (DataContext, error) {
	if blockCode == "" {
		return DataContext{}, domain.E(domain.KindBadRequest, "block_id is required")
	}
	var day time.Time
	if date == "" {
		day = p.now().UTC().Truncate(24 * time.Hour)
	} else {
		var err error
		day, err = parseDay(date)
		if err != nil {
			return DataContext{}, err
		}
	}
	nodes, err := p.Repo.ListChildNodes(ctx, blockCode)
	if err != nil {
		return DataContext{}, storeErr(err)
	}
	codes := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Type == "Unit" {
			codes = append(codes, n.Code)
		}
	}
	ms, err := p.Repo.ListMeasurementsByNodes(ctx, codes, rfc3339(day), rfc3339(day.AddDate(0, 0, 1)), p.clamp(limit))
	if err != nil {
		return DataContext{}, storeErr(err)
	}
	return p.build(ctx, "workshop", blockCode, batchSet(ms), ms, map[string]any{
		"block_id":    blockCode,
		"date":        day.Format(dateLayout),
		"node_codes":  codes,
		"total_nodes": len(codes),
	})
}

// ByTime collects measurements in [start, end] (end inclusive by day).
func (p Provider) ByTime(ctx context.Context, startDate, endDate, granularity string, limit int) (DataContext, error) {
	if startDate == "" || endDate == "" {
		return DataContext{}, domain.E(domain.KindBadRequest, "start_date and end_date are required")
	}
	switch granularity {
	case "", "day", "week", "month":
	default:
		return DataContext{}, domain.E(domain.KindBadRequest, "granularity must be day, week or month")
	}
	if granularity == "" {
		granularity = "day"
	}
	start, err := parseDay(startDate)
	if err != nil {
		return DataContext{}, err
	}
	end, err := parseDay(endDate)
	if err != nil {
		return DataContext{}, err
	}
	if end.Before(start) {
		return DataContext{}, domain.E(domain.KindBadRequest, "end_date precedes start_date")
	}
	ms, err := p.Repo.ListMeasurementsByTime(ctx, rfc3339(start), rfc3339(end.AddDate(0, 0, 1)), p.clamp(limit))
	if err != nil {
		return DataContext{}, storeErr(err)
	}
	return p.build(ctx, "time", startDate+".."+endDate, batchSet(ms), ms, map[string]any{
		"start_date":  startDate,
		"end_date":    endDate,
		"granularity": granularity,
		"total_days":  int(end.Sub(start).Hours()/24) + 1,
	})
}

func (p Provider) build(ctx context.Context, dimension, key string, batches []string, ms []domain.Measurement, meta map[string]any) (DataContext, error) {
	type groupKey struct{ node, param string }
	byKey := map[groupKey]*Group{}
	var order []groupKey
	for _, m := range ms {
		k := groupKey{m.NodeCode, m.ParamCode}
		g, ok := byKey[k]
		if !ok {
			g = &Group{NodeCode: m.NodeCode, ParamCode: m.ParamCode}
			byKey[k] = g
			order = append(order, k)
		}
		g.Values = append(g.Values, m.Value)
		g.Times = append(g.Times, m.Timestamp)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].node != order[j].node {
			return order[i].node < order[j].node
		}
		return order[i].param < order[j].param
	})
	groups := make([]Group, 0, len(order))
	for _, k := range order {
		g := byKey[k]
		def, err := p.Repo.GetParameter(ctx, g.NodeCode, g.ParamCode)
		if err == nil {
			g.Param = &def
		} else if err != repo.ErrNotFound {
			return DataContext{}, storeErr(err)
		}
		groups = append(groups, *g)
	}
	sort.Strings(batches)
	return DataContext{
		Dimension: dimension,
		Key:       key,
		Batches:   batches,
		Groups:    groups,
		Metadata:  meta,
		QueryTime: p.now().UTC(),
	}, nil
}

func batchSet(ms []domain.Measurement) []string {
	seen := map[string]bool{}
	var ids []string
	for _, m := range ms {
		if !seen[m.BatchID] {
			seen[m.BatchID] = true
			ids = append(ids, m.BatchID)
		}
	}
	return ids
}

func storeErr(err error) error {
	return domain.E(domain.KindStoreUnavailable, "store: %v", err)
}
