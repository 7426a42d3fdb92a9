package engine

import (
	"fmt"

	"relgate/internal/dsl"
	"relgate/internal/policy"
)

// Decision is the outcome of validating one request against policy. It
// is produced per call, handed to the query compiler, and discarded; it
// is never persisted.
type Decision struct {
	Model           string            `json:"model"`
	AllowedFields   []string          `json:"allowed_fields"`
	InjectedFilters []dsl.FilterClause `json:"injected_filters,omitempty"`
	RedactionRules  map[string]string `json:"redaction_rules,omitempty"` // field -> mask|hash|deny
	Budget          policy.Budget     `json:"budget"`
	ScopeData       map[string]any    `json:"scope_data,omitempty"` // values stamped onto creates
	Decisions       []string          `json:"decisions,omitempty"`  // human-readable audit trail
}

// note records one audit-trail line on the decision.
func (d *Decision) note(format string, args ...any) {
	d.Decisions = append(d.Decisions, fmt.Sprintf(format, args...))
}

// FieldAllowed reports whether the field survived policy resolution.
func (d *Decision) FieldAllowed(name string) bool {
	for _, f := range d.AllowedFields {
		if f == name {
			return true
		}
	}
	return false
}
