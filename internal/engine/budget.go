package engine

import (
	"relgate/internal/dsl"
	"relgate/internal/policy"
)

// ComplexityWeights parameterize the structural cost heuristic. The
// score is computed from request shape alone; it never looks at data.
type ComplexityWeights struct {
	Base          int
	PerField      int
	PerFilter     int
	PerInclude    int
	PerOrder      int
	StringFilter  int
	InFilter      int
	BetweenFilter int
}

// DefaultComplexityWeights are the calibrated defaults.
func DefaultComplexityWeights() ComplexityWeights {
	return ComplexityWeights{
		Base:          1,
		PerField:      1,
		PerFilter:     2,
		PerInclude:    10,
		PerOrder:      1,
		StringFilter:  3,
		InFilter:      2,
		BetweenFilter: 2,
	}
}

// ComplexityScorer computes the cheap structural score used for hard
// budget enforcement.
type ComplexityScorer struct {
	weights ComplexityWeights
}

func NewComplexityScorer(weights ComplexityWeights) *ComplexityScorer {
	return &ComplexityScorer{weights: weights}
}

// Score is base + per-field select cost + filter costs + order cost +
// include costs.
func (s *ComplexityScorer) Score(req *dsl.QueryRequest) int {
	w := s.weights
	score := w.Base
	score += len(req.Select) * w.PerField
	for _, f := range req.Where {
		score += s.filterCost(f)
	}
	score += len(req.OrderBy) * w.PerOrder
	for _, inc := range req.Include {
		score += s.includeCost(inc)
	}
	return score
}

func (s *ComplexityScorer) filterCost(f dsl.FilterClause) int {
	w := s.weights
	cost := w.PerFilter
	switch f.Op {
	case dsl.OpContains, dsl.OpStartsWith, dsl.OpEndsWith:
		cost += w.StringFilter
	case dsl.OpIn:
		cost += len(f.ListValues()) * w.InFilter
	case dsl.OpBetween:
		cost += w.BetweenFilter
	}
	return cost
}

func (s *ComplexityScorer) includeCost(inc dsl.IncludeClause) int {
	w := s.weights
	cost := w.PerInclude
	cost += len(inc.Select) * w.PerField
	for _, f := range inc.Where {
		cost += s.filterCost(f)
	}
	return cost
}

// BudgetEnforcer applies hard structural limits to a query. Checks run
// in a fixed order — rows, fields, includes, complexity — failing fast
// on the first violated dimension.
type BudgetEnforcer struct {
	budget policy.Budget
	scorer *ComplexityScorer
}

func NewBudgetEnforcer(budget policy.Budget, scorer *ComplexityScorer) *BudgetEnforcer {
	if scorer == nil {
		scorer = NewComplexityScorer(DefaultComplexityWeights())
	}
	return &BudgetEnforcer{budget: budget, scorer: scorer}
}

// Enforce checks the request against every budget dimension.
func (e *BudgetEnforcer) Enforce(req *dsl.QueryRequest) error {
	if req.Take > e.budget.MaxRows {
		return BudgetExceededError("rows", e.budget.MaxRows, req.Take)
	}
	if len(req.Select) > e.budget.MaxSelectFields {
		return BudgetExceededError("fields", e.budget.MaxSelectFields, len(req.Select))
	}
	if len(req.Include) > e.budget.MaxIncludesDepth {
		return BudgetExceededError("includes", e.budget.MaxIncludesDepth, len(req.Include))
	}
	if score := e.scorer.Score(req); score > e.budget.MaxComplexityScore {
		return BudgetExceededError("complexity", e.budget.MaxComplexityScore, score)
	}
	return nil
}

// EffectiveLimit caps a requested row count at the budget limit; zero
// means "give me the budget limit".
func (e *BudgetEnforcer) EffectiveLimit(requested int) int {
	if requested <= 0 || requested > e.budget.MaxRows {
		return e.budget.MaxRows
	}
	return requested
}
