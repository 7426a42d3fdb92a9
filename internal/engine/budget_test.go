package engine

import (
	"testing"

	"relgate/internal/dsl"
	"relgate/internal/policy"
)

func testBudget() policy.Budget {
	return policy.Budget{
		MaxRows:            50,
		MaxIncludesDepth:   2,
		MaxSelectFields:    5,
		StatementTimeoutMs: 5000,
		MaxComplexityScore: 30,
	}
}

func TestEnforce_RowsDimension(t *testing.T) {
	e := NewBudgetEnforcer(testBudget(), nil)

	req := &dsl.QueryRequest{Model: "Customer", Take: 51}
	err := e.Enforce(req)
	pe, ok := AsPolicyError(err)
	if !ok || pe.Code != CodeQueryBudgetExceeded {
		t.Fatalf("expected budget error, got %v", err)
	}
	if pe.Details["dimension"] != "rows" || pe.Details["limit"] != 50 || pe.Details["requested"] != 51 {
		t.Fatalf("unexpected details: %v", pe.Details)
	}
}

func TestEnforce_FieldsDimension(t *testing.T) {
	e := NewBudgetEnforcer(testBudget(), nil)

	req := &dsl.QueryRequest{
		Model:  "Customer",
		Take:   10,
		Select: []string{"a", "b", "c", "d", "e", "f"},
	}
	err := e.Enforce(req)
	pe, _ := AsPolicyError(err)
	if pe == nil || pe.Details["dimension"] != "fields" {
		t.Fatalf("expected fields dimension, got %v", err)
	}
}

func TestEnforce_IncludesDimension(t *testing.T) {
	e := NewBudgetEnforcer(testBudget(), nil)

	req := &dsl.QueryRequest{
		Model: "Customer",
		Take:  10,
		Include: []dsl.IncludeClause{
			{Relation: "a"}, {Relation: "b"}, {Relation: "c"},
		},
	}
	err := e.Enforce(req)
	pe, _ := AsPolicyError(err)
	if pe == nil || pe.Details["dimension"] != "includes" {
		t.Fatalf("expected includes dimension, got %v", err)
	}
}

func TestEnforce_ComplexityDimension(t *testing.T) {
	e := NewBudgetEnforcer(testBudget(), nil)

	// Two includes are within the includes limit but push the score
	// (1 + 2*10 + filters) over 30.
	req := &dsl.QueryRequest{
		Model: "Customer",
		Take:  10,
		Where: []dsl.FilterClause{
			{Field: "name", Op: dsl.OpContains, Value: "x"},
			{Field: "city", Op: dsl.OpContains, Value: "y"},
		},
		Include: []dsl.IncludeClause{{Relation: "a"}, {Relation: "b"}},
	}
	err := e.Enforce(req)
	pe, _ := AsPolicyError(err)
	if pe == nil || pe.Details["dimension"] != "complexity" {
		t.Fatalf("expected complexity dimension, got %v", err)
	}
}

func TestEnforce_FailsFastOnFirstDimension(t *testing.T) {
	e := NewBudgetEnforcer(testBudget(), nil)

	// Both rows and fields are over budget; rows is checked first.
	req := &dsl.QueryRequest{
		Model:  "Customer",
		Take:   500,
		Select: []string{"a", "b", "c", "d", "e", "f"},
	}
	err := e.Enforce(req)
	pe, _ := AsPolicyError(err)
	if pe == nil || pe.Details["dimension"] != "rows" {
		t.Fatalf("expected rows to fail first, got %v", err)
	}
}

func TestScore_MonotoneInRequestShape(t *testing.T) {
	s := NewComplexityScorer(DefaultComplexityWeights())

	base := &dsl.QueryRequest{Model: "Customer", Take: 10}
	withFilter := &dsl.QueryRequest{
		Model: "Customer", Take: 10,
		Where: []dsl.FilterClause{{Field: "name", Op: dsl.OpEq, Value: "x"}},
	}
	withInclude := &dsl.QueryRequest{
		Model: "Customer", Take: 10,
		Where:   withFilter.Where,
		Include: []dsl.IncludeClause{{Relation: "orders"}},
	}

	if !(s.Score(base) < s.Score(withFilter)) {
		t.Fatal("adding a filter must increase the score")
	}
	if !(s.Score(withFilter) < s.Score(withInclude)) {
		t.Fatal("adding an include must increase the score")
	}
}

func TestScore_OperatorWeights(t *testing.T) {
	s := NewComplexityScorer(DefaultComplexityWeights())

	eq := &dsl.QueryRequest{
		Model: "c",
		Where: []dsl.FilterClause{{Field: "name", Op: dsl.OpEq, Value: "x"}},
	}
	contains := &dsl.QueryRequest{
		Model: "c",
		Where: []dsl.FilterClause{{Field: "name", Op: dsl.OpContains, Value: "x"}},
	}
	in := &dsl.QueryRequest{
		Model: "c",
		Where: []dsl.FilterClause{{Field: "name", Op: dsl.OpIn, Value: []any{"a", "b", "c"}}},
	}

	if !(s.Score(eq) < s.Score(contains)) {
		t.Fatal("string filters must score above eq")
	}
	if !(s.Score(eq) < s.Score(in)) {
		t.Fatal("in filters must score above eq")
	}

	// in cost scales with the list size
	bigIn := &dsl.QueryRequest{
		Model: "c",
		Where: []dsl.FilterClause{{Field: "name", Op: dsl.OpIn, Value: []any{"a", "b", "c", "d", "e", "f"}}},
	}
	if !(s.Score(in) < s.Score(bigIn)) {
		t.Fatal("in score must grow with list length")
	}
}

func TestEffectiveLimit(t *testing.T) {
	e := NewBudgetEnforcer(testBudget(), nil)

	if got := e.EffectiveLimit(0); got != 50 {
		t.Fatalf("zero request: got %d", got)
	}
	if got := e.EffectiveLimit(10); got != 10 {
		t.Fatalf("in-budget request: got %d", got)
	}
	if got := e.EffectiveLimit(900); got != 50 {
		t.Fatalf("over-budget request: got %d", got)
	}
}
