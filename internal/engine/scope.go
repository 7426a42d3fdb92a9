package engine

import (
	"relgate/internal/dsl"
	"relgate/internal/policy"
)

// ScopeFilters derives the row-level filters a request must carry, from
// the row policy and the caller identity. Emission order is fixed:
// tenant scope, ownership scope, soft-delete scope. These filters are
// always ANDed with user filters and can never be removed by the caller.
func ScopeFilters(rp *policy.RowPolicy, ctx dsl.RunContext) []dsl.FilterClause {
	if rp == nil {
		return nil
	}

	var filters []dsl.FilterClause

	if rp.TenantScopeField != "" && ctx.Principal.TenantID != "" {
		filters = append(filters, dsl.FilterClause{
			Field: rp.TenantScopeField,
			Op:    dsl.OpEq,
			Value: ctx.Principal.TenantID,
		})
	}

	if rp.OwnershipScopeField != "" && ctx.Principal.UserID != "" {
		filters = append(filters, dsl.FilterClause{
			Field: rp.OwnershipScopeField,
			Op:    dsl.OpEq,
			Value: ctx.Principal.UserID,
		})
	}

	if rp.SoftDeleteField != "" && !rp.IncludeSoftDeleted {
		filters = append(filters, dsl.FilterClause{
			Field: rp.SoftDeleteField,
			Op:    dsl.OpIsNull,
		})
	}

	return filters
}

// ScopeData returns the column values stamped onto created records so
// new rows land inside the caller's scope.
func ScopeData(rp *policy.RowPolicy, ctx dsl.RunContext) map[string]any {
	if rp == nil {
		return nil
	}

	data := make(map[string]any)
	if rp.TenantScopeField != "" && ctx.Principal.TenantID != "" {
		data[rp.TenantScopeField] = ctx.Principal.TenantID
	}
	if rp.OwnershipScopeField != "" && ctx.Principal.UserID != "" {
		data[rp.OwnershipScopeField] = ctx.Principal.UserID
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

// MergeFilters concatenates scope filters ahead of user filters. The
// ordering is a contract: scope predicates must be structurally first
// so downstream logging and explain tooling always sees them.
func MergeFilters(userFilters, scopeFilters []dsl.FilterClause) []dsl.FilterClause {
	merged := make([]dsl.FilterClause, 0, len(scopeFilters)+len(userFilters))
	merged = append(merged, scopeFilters...)
	merged = append(merged, userFilters...)
	return merged
}
