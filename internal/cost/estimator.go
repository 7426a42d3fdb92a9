package cost

import (
	"fmt"

	"relgate/internal/dsl"
)

// Estimator is the rich, table-statistics-based cost model. It sits
// beside the structural complexity score, not behind it: the score is a
// hard gate, the estimate is advisory planning and telemetry input.
type Estimator struct {
	stats   map[string]TableStats
	weights Weights
}

func NewEstimator(stats map[string]TableStats, weights Weights) *Estimator {
	if stats == nil {
		stats = map[string]TableStats{}
	}
	return &Estimator{stats: stats, weights: weights}
}

// Stats returns the statistics for a table, falling back to defaults.
func (e *Estimator) Stats(table string) TableStats {
	if s, ok := e.stats[table]; ok {
		return s
	}
	return DefaultStats(table)
}

// Estimate produces a cost breakdown for a query. Filters here are the
// merged set (scope first) so injected tenant filters count toward
// selectivity like any other predicate.
func (e *Estimator) Estimate(req *dsl.QueryRequest, filters []dsl.FilterClause) Breakdown {
	w := e.weights
	stats := e.Stats(req.Model)

	rows := stats.EstimatedRowCount
	if rows < 1 {
		rows = 1
	}

	scanPerRow := w.FullScanPerRow
	for _, f := range filters {
		if stats.HasIndex(f.Field) {
			scanPerRow = w.IndexScanPerRow
			break
		}
	}

	selectivity := 1.0
	for _, f := range filters {
		selectivity *= e.filterSelectivity(stats, f)
	}
	estRows := rows * selectivity
	if estRows < 1 {
		estRows = 1
	}

	returned := estRows
	if req.Take > 0 && float64(req.Take) < returned {
		returned = float64(req.Take)
	}

	columns := float64(len(req.Select))
	if columns == 0 {
		columns = 10 // unknown projection, assume a typical row
	}

	b := Breakdown{
		Scan:   rows * scanPerRow,
		Filter: estRows * w.FilterPerRow * float64(len(filters)),
		Details: map[string]any{
			"table":          req.Model,
			"row_count":      rows,
			"selectivity":    selectivity,
			"estimated_rows": estRows,
			"returned_rows":  returned,
		},
	}

	for range req.Include {
		b.Join += w.IncludeBase + w.IncludePerRow*estRows
	}

	if len(req.OrderBy) > 0 {
		sort := estRows * w.SortPerRow * float64(len(req.OrderBy)) * w.SortPerColumn
		if estRows > w.DiskSortRows {
			sort *= w.DiskSortMultiplier
			b.Details["disk_sort"] = true
		}
		b.Sort = sort
	}

	b.Network = returned * columns * w.NetworkPerValue
	b.Memory = returned * columns * w.MemoryPerValue

	return b
}

// EstimateAggregate costs an aggregate: the filtered rows are all
// consumed by the aggregation, and only one row (or one per group)
// crosses the wire.
func (e *Estimator) EstimateAggregate(req *dsl.AggregateRequest, filters []dsl.FilterClause) Breakdown {
	w := e.weights
	stats := e.Stats(req.Model)

	rows := stats.EstimatedRowCount
	if rows < 1 {
		rows = 1
	}

	scanPerRow := w.FullScanPerRow
	for _, f := range filters {
		if stats.HasIndex(f.Field) {
			scanPerRow = w.IndexScanPerRow
			break
		}
	}

	selectivity := 1.0
	for _, f := range filters {
		selectivity *= e.filterSelectivity(stats, f)
	}
	estRows := rows * selectivity
	if estRows < 1 {
		estRows = 1
	}

	b := Breakdown{
		Scan:      rows * scanPerRow,
		Filter:    estRows * w.FilterPerRow * float64(len(filters)),
		Aggregate: estRows * w.AggregatePerRow,
		Network:   w.NetworkPerValue,
		Memory:    estRows * w.MemoryPerValue,
		Details: map[string]any{
			"table":          req.Model,
			"op":             req.Op,
			"estimated_rows": estRows,
		},
	}
	if req.GroupBy != "" {
		// Grouping keeps per-group state and returns more rows.
		b.Memory *= 2
		b.Details["group_by"] = req.GroupBy
	}
	return b
}

// filterSelectivity follows the classic independence model: indexed
// equality uses the table's unique selectivity, primary-key equality
// hits exactly one row, everything else falls back to a fixed
// per-operator table.
func (e *Estimator) filterSelectivity(stats TableStats, f dsl.FilterClause) float64 {
	if f.Field == stats.PrimaryKey && f.Op == dsl.OpEq {
		if stats.EstimatedRowCount > 0 {
			return 1 / stats.EstimatedRowCount
		}
		return 0.001
	}
	if stats.HasIndex(f.Field) {
		if f.Op == dsl.OpEq {
			return stats.UniqueSelectivity
		}
		return stats.DefaultSelectivity * 0.5
	}

	switch f.Op {
	case dsl.OpEq:
		return 0.1
	case dsl.OpNe, dsl.OpNotIn:
		return 0.9
	case dsl.OpIn:
		n := float64(len(f.ListValues()))
		if s := 0.1 * n; s < 0.5 {
			return s
		}
		return 0.5
	case dsl.OpLt, dsl.OpLte, dsl.OpGt, dsl.OpGte:
		return 0.3
	case dsl.OpBetween:
		return 0.2
	case dsl.OpIsNull:
		return 0.05
	case dsl.OpContains, dsl.OpStartsWith, dsl.OpEndsWith:
		return 0.25
	default:
		return 0.5
	}
}

// CheckBudget compares a breakdown against a soft cost budget and
// returns diagnostic strings for every violated limit. Advisory only —
// hard enforcement belongs to the budget enforcer.
func CheckBudget(budget Budget, b Breakdown) []string {
	var violations []string
	check := func(name string, got, limit float64) {
		if limit > 0 && got > limit {
			violations = append(violations, fmt.Sprintf("%s cost %.1f exceeds limit %.1f", name, got, limit))
		}
	}
	check("total", b.Total(), budget.MaxTotal)
	check("scan", b.Scan, budget.MaxScan)
	check("filter", b.Filter, budget.MaxFilter)
	check("join", b.Join, budget.MaxJoin)
	check("sort", b.Sort, budget.MaxSort)
	check("aggregate", b.Aggregate, budget.MaxAggregate)
	check("network", b.Network, budget.MaxNetwork)
	check("memory", b.Memory, budget.MaxMemory)
	return violations
}
