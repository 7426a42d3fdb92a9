package policy

import (
	"fmt"
	"path"
)

// Field actions. Deny is the only action that blocks selection; mask and
// hash still allow the field to be selected and are applied after
// execution by the redactor.
const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
	ActionMask  = "mask"
	ActionHash  = "hash"
)

var fieldActions = map[string]bool{
	ActionAllow: true, ActionDeny: true, ActionMask: true, ActionHash: true,
}

// Policy is the root declarative document the engine evaluates requests
// against. Immutable once loaded.
type Policy struct {
	Models             map[string]*ModelPolicy `mapstructure:"models" json:"models"`
	DefaultBudget      Budget                  `mapstructure:"default_budget" json:"default_budget"`
	DefaultRowPolicy   *RowPolicy              `mapstructure:"default_row_policy" json:"default_row_policy,omitempty"`
	GlobalDenyPatterns []string                `mapstructure:"global_deny_patterns" json:"global_deny_patterns,omitempty"`
	GlobalMaskPatterns []string                `mapstructure:"global_mask_patterns" json:"global_mask_patterns,omitempty"`
	RequireTenantScope bool                    `mapstructure:"require_tenant_scope" json:"require_tenant_scope,omitempty"`
	WritesEnabled      bool                    `mapstructure:"writes_enabled" json:"writes_enabled,omitempty"`
}

type ModelPolicy struct {
	Allowed             bool                       `mapstructure:"allowed" json:"allowed"`
	Readable            bool                       `mapstructure:"readable" json:"readable"`
	Writable            bool                       `mapstructure:"writable" json:"writable"`
	Fields              map[string]*FieldPolicy    `mapstructure:"fields" json:"fields,omitempty"`
	DefaultFieldAction  string                     `mapstructure:"default_field_action" json:"default_field_action,omitempty"`
	Relations           map[string]*RelationPolicy `mapstructure:"relations" json:"relations,omitempty"`
	RowPolicy           *RowPolicy                 `mapstructure:"row_policy" json:"row_policy,omitempty"`
	WritePolicy         WritePolicy                `mapstructure:"write_policy" json:"write_policy"`
	Budget              *Budget                    `mapstructure:"budget" json:"budget,omitempty"`
	AllowedAggregations []string                   `mapstructure:"allowed_aggregations" json:"allowed_aggregations,omitempty"`
	AggregatableFields  []string                   `mapstructure:"aggregatable_fields" json:"aggregatable_fields,omitempty"`
	WriteRules          []*Rule                    `mapstructure:"write_rules" json:"write_rules,omitempty"`
}

type FieldPolicy struct {
	Action      string `mapstructure:"action" json:"action"`
	MaskPattern string `mapstructure:"mask_pattern" json:"mask_pattern,omitempty"`
}

type RelationPolicy struct {
	Allowed       bool     `mapstructure:"allowed" json:"allowed"`
	MaxDepth      int      `mapstructure:"max_depth" json:"max_depth,omitempty"` // 0..5
	AllowedFields []string `mapstructure:"allowed_fields" json:"allowed_fields,omitempty"`
}

// RowPolicy drives scope-filter injection. Fields left empty inject
// nothing. RequireScope defaults to true; nil means unset.
type RowPolicy struct {
	TenantScopeField    string `mapstructure:"tenant_scope_field" json:"tenant_scope_field,omitempty"`
	OwnershipScopeField string `mapstructure:"ownership_scope_field" json:"ownership_scope_field,omitempty"`
	RequireScope        *bool  `mapstructure:"require_scope" json:"require_scope,omitempty"`
	SoftDeleteField     string `mapstructure:"soft_delete_field" json:"soft_delete_field,omitempty"`
	IncludeSoftDeleted  bool   `mapstructure:"include_soft_deleted" json:"include_soft_deleted,omitempty"`
}

// WritePolicy gates mutations. RequirePrimaryKey, SoftDelete and
// RequireReason default to true when unset.
type WritePolicy struct {
	Enabled           bool     `mapstructure:"enabled" json:"enabled"`
	AllowCreate       bool     `mapstructure:"allow_create" json:"allow_create"`
	AllowUpdate       bool     `mapstructure:"allow_update" json:"allow_update"`
	AllowDelete       bool     `mapstructure:"allow_delete" json:"allow_delete"`
	AllowBulk         bool     `mapstructure:"allow_bulk" json:"allow_bulk"`
	RequirePrimaryKey *bool    `mapstructure:"require_primary_key" json:"require_primary_key,omitempty"`
	SoftDelete        *bool    `mapstructure:"soft_delete" json:"soft_delete,omitempty"`
	MaxAffectedRows   int      `mapstructure:"max_affected_rows" json:"max_affected_rows,omitempty"` // 1..1000
	RequireReason     *bool    `mapstructure:"require_reason" json:"require_reason,omitempty"`
	RequireApproval   bool     `mapstructure:"require_approval" json:"require_approval,omitempty"`
	ReadonlyFields    []string `mapstructure:"readonly_fields" json:"readonly_fields,omitempty"`
}

type Budget struct {
	MaxRows                 int  `mapstructure:"max_rows" json:"max_rows"`                                   // 1..10000
	MaxIncludesDepth        int  `mapstructure:"max_includes_depth" json:"max_includes_depth"`               // 0..5
	MaxSelectFields         int  `mapstructure:"max_select_fields" json:"max_select_fields"`                 // 1..200
	StatementTimeoutMs      int  `mapstructure:"statement_timeout_ms" json:"statement_timeout_ms"`           // 100..30000
	MaxComplexityScore      int  `mapstructure:"max_complexity_score" json:"max_complexity_score"`           // >= 1
	BroadQueryGuard         bool `mapstructure:"broad_query_guard" json:"broad_query_guard,omitempty"`
	MinFiltersForBroadQuery int  `mapstructure:"min_filters_for_broad_query" json:"min_filters_for_broad_query,omitempty"`
}

// DefaultBudget is the budget applied when neither the model nor the
// policy root sets one.
func DefaultBudget() Budget {
	return Budget{
		MaxRows:                 1000,
		MaxIncludesDepth:        2,
		MaxSelectFields:         50,
		StatementTimeoutMs:      5000,
		MaxComplexityScore:      200,
		MinFiltersForBroadQuery: 1,
	}
}

// RequireScopeEnabled applies the default-true semantics.
func (rp *RowPolicy) RequireScopeEnabled() bool {
	return rp == nil || rp.RequireScope == nil || *rp.RequireScope
}

func (w WritePolicy) RequirePrimaryKeyEnabled() bool {
	return w.RequirePrimaryKey == nil || *w.RequirePrimaryKey
}

func (w WritePolicy) SoftDeleteEnabled() bool {
	return w.SoftDelete == nil || *w.SoftDelete
}

func (w WritePolicy) RequireReasonEnabled() bool {
	return w.RequireReason == nil || *w.RequireReason
}

// EffectiveMaxAffectedRows defaults to 100 when unset.
func (w WritePolicy) EffectiveMaxAffectedRows() int {
	if w.MaxAffectedRows == 0 {
		return 100
	}
	return w.MaxAffectedRows
}

// IsReadonlyField reports whether the field is write-protected.
func (w WritePolicy) IsReadonlyField(name string) bool {
	for _, f := range w.ReadonlyFields {
		if f == name {
			return true
		}
	}
	return false
}

// GetModel returns the model policy, or nil when the model is not in the
// policy at all.
func (p *Policy) GetModel(name string) *ModelPolicy {
	if p == nil {
		return nil
	}
	return p.Models[name]
}

// AllowedModels lists all model names that are allowed, for attaching to
// model-access errors so callers can self-correct.
func (p *Policy) AllowedModels() []string {
	var names []string
	for name, mp := range p.Models {
		if mp != nil && mp.Allowed {
			names = append(names, name)
		}
	}
	return names
}

// EffectiveBudget resolves the model budget, falling back to the policy
// default, falling back to the built-in default.
func (p *Policy) EffectiveBudget(mp *ModelPolicy) Budget {
	if mp != nil && mp.Budget != nil {
		return *mp.Budget
	}
	if p.DefaultBudget != (Budget{}) {
		return p.DefaultBudget
	}
	return DefaultBudget()
}

// EffectiveRowPolicy resolves the model row policy, falling back to the
// policy-wide default. May return nil (no row scoping).
func (p *Policy) EffectiveRowPolicy(mp *ModelPolicy) *RowPolicy {
	if mp != nil && mp.RowPolicy != nil {
		return mp.RowPolicy
	}
	return p.DefaultRowPolicy
}

// FieldAction resolves the action for a field: explicit field policy,
// then global deny patterns, then global mask patterns, then the model
// default, then allow.
func (p *Policy) FieldAction(mp *ModelPolicy, field string) string {
	if mp != nil {
		if fp, ok := mp.Fields[field]; ok && fp != nil && fp.Action != "" {
			return fp.Action
		}
	}
	for _, pat := range p.GlobalDenyPatterns {
		if matched, _ := path.Match(pat, field); matched {
			return ActionDeny
		}
	}
	for _, pat := range p.GlobalMaskPatterns {
		if matched, _ := path.Match(pat, field); matched {
			return ActionMask
		}
	}
	if mp != nil && mp.DefaultFieldAction != "" {
		return mp.DefaultFieldAction
	}
	return ActionAllow
}

// MaskPattern returns the custom mask pattern for a field, if any.
func (mp *ModelPolicy) MaskPattern(field string) string {
	if mp == nil {
		return ""
	}
	if fp, ok := mp.Fields[field]; ok && fp != nil {
		return fp.MaskPattern
	}
	return ""
}

// AllowsAggregation reports whether the aggregate operation is permitted
// on the model.
func (mp *ModelPolicy) AllowsAggregation(op string) bool {
	for _, a := range mp.AllowedAggregations {
		if a == op {
			return true
		}
	}
	return false
}

// AggregatableField reports whether the field may be aggregated. An
// empty allowlist means every readable field is aggregatable.
func (mp *ModelPolicy) AggregatableField(field string) bool {
	if len(mp.AggregatableFields) == 0 {
		return true
	}
	for _, f := range mp.AggregatableFields {
		if f == field {
			return true
		}
	}
	return false
}

// Validate checks structural constraints on the whole policy document.
func (p *Policy) Validate() error {
	if p.DefaultBudget != (Budget{}) {
		if err := p.DefaultBudget.Validate(); err != nil {
			return fmt.Errorf("default_budget: %w", err)
		}
	}
	for name, mp := range p.Models {
		if mp == nil {
			continue
		}
		if err := mp.validate(); err != nil {
			return fmt.Errorf("model %s: %w", name, err)
		}
	}
	return nil
}

func (mp *ModelPolicy) validate() error {
	if mp.DefaultFieldAction != "" && !fieldActions[mp.DefaultFieldAction] {
		return fmt.Errorf("unknown default field action: %s", mp.DefaultFieldAction)
	}
	for name, fp := range mp.Fields {
		if fp == nil {
			continue
		}
		if !fieldActions[fp.Action] {
			return fmt.Errorf("field %s: unknown action: %s", name, fp.Action)
		}
	}
	for name, rp := range mp.Relations {
		if rp == nil {
			continue
		}
		if rp.MaxDepth < 0 || rp.MaxDepth > 5 {
			return fmt.Errorf("relation %s: max_depth must be between 0 and 5", name)
		}
	}
	if mp.WritePolicy.MaxAffectedRows != 0 &&
		(mp.WritePolicy.MaxAffectedRows < 1 || mp.WritePolicy.MaxAffectedRows > 1000) {
		return fmt.Errorf("write_policy: max_affected_rows must be between 1 and 1000")
	}
	if mp.Budget != nil {
		if err := mp.Budget.Validate(); err != nil {
			return fmt.Errorf("budget: %w", err)
		}
	}
	for _, rule := range mp.WriteRules {
		if rule.Name == "" || rule.Expression == "" {
			return fmt.Errorf("write rules need both a name and an expression")
		}
	}
	return nil
}

// Validate checks the budget ranges from the policy contract.
func (b Budget) Validate() error {
	if b.MaxRows < 1 || b.MaxRows > 10000 {
		return fmt.Errorf("max_rows must be between 1 and 10000, got %d", b.MaxRows)
	}
	if b.MaxIncludesDepth < 0 || b.MaxIncludesDepth > 5 {
		return fmt.Errorf("max_includes_depth must be between 0 and 5, got %d", b.MaxIncludesDepth)
	}
	if b.MaxSelectFields < 1 || b.MaxSelectFields > 200 {
		return fmt.Errorf("max_select_fields must be between 1 and 200, got %d", b.MaxSelectFields)
	}
	if b.StatementTimeoutMs < 100 || b.StatementTimeoutMs > 30000 {
		return fmt.Errorf("statement_timeout_ms must be between 100 and 30000, got %d", b.StatementTimeoutMs)
	}
	if b.MaxComplexityScore < 1 {
		return fmt.Errorf("max_complexity_score must be at least 1, got %d", b.MaxComplexityScore)
	}
	if b.MinFiltersForBroadQuery < 0 {
		return fmt.Errorf("min_filters_for_broad_query must not be negative")
	}
	return nil
}
