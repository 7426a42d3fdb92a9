package dsl

import (
	"fmt"
	"strings"
	"time"
)

// Filter operators. This is the whole vocabulary — the caller can never
// express a predicate outside this set.
const (
	OpEq         = "eq"
	OpNe         = "ne"
	OpLt         = "lt"
	OpLte        = "lte"
	OpGt         = "gt"
	OpGte        = "gte"
	OpIn         = "in"
	OpNotIn      = "not_in"
	OpIsNull     = "is_null"
	OpContains   = "contains"
	OpStartsWith = "startswith"
	OpEndsWith   = "endswith"
	OpBetween    = "between"
)

var filterOps = map[string]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLte: true, OpGt: true, OpGte: true,
	OpIn: true, OpNotIn: true, OpIsNull: true,
	OpContains: true, OpStartsWith: true, OpEndsWith: true, OpBetween: true,
}

// Fragments that must never appear in a field name. Field names end up
// interpolated into generated SQL as identifiers, so anything that could
// open a comment or terminate a statement is rejected outright.
var forbiddenFieldFragments = []string{";", "--", "/*", "*/"}

type FilterClause struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value,omitempty"`
}

type OrderClause struct {
	Field     string `json:"field"`
	Direction string `json:"direction,omitempty"` // asc or desc, default asc
}

type IncludeClause struct {
	Relation string         `json:"relation"`
	Select   []string       `json:"select,omitempty"`
	Where    []FilterClause `json:"where,omitempty"`
	Take     int            `json:"take,omitempty"` // 1..100, 0 means unset
}

const (
	DirAsc  = "asc"
	DirDesc = "desc"
)

// NewFilter builds a validated FilterClause. The operand shape is checked
// per operator: in/not_in need a list, between needs exactly two values,
// is_null takes no operand at all.
func NewFilter(field, op string, value any) (FilterClause, error) {
	f := FilterClause{Field: field, Op: op, Value: value}
	if err := f.Validate(); err != nil {
		return FilterClause{}, err
	}
	return f, nil
}

// Validate checks the field name, operator and operand shape.
func (f FilterClause) Validate() error {
	if err := CheckFieldName(f.Field); err != nil {
		return err
	}
	if !filterOps[f.Op] {
		return &ValidationError{Field: f.Field, Message: fmt.Sprintf("unknown filter operator: %s", f.Op)}
	}

	switch f.Op {
	case OpIn, OpNotIn:
		list, ok := toList(f.Value)
		if !ok || len(list) == 0 {
			return &ValidationError{Field: f.Field, Message: fmt.Sprintf("%s requires a non-empty list operand", f.Op)}
		}
		for _, v := range list {
			if !scalarValue(v) {
				return &ValidationError{Field: f.Field, Message: fmt.Sprintf("%s list elements must be scalar", f.Op)}
			}
		}
	case OpBetween:
		list, ok := toList(f.Value)
		if !ok || len(list) != 2 {
			return &ValidationError{Field: f.Field, Message: "between requires exactly two values"}
		}
		if !scalarValue(list[0]) || !scalarValue(list[1]) {
			return &ValidationError{Field: f.Field, Message: "between bounds must be scalar"}
		}
	case OpIsNull:
		if f.Value != nil {
			return &ValidationError{Field: f.Field, Message: "is_null takes no operand"}
		}
	case OpContains, OpStartsWith, OpEndsWith:
		if _, ok := f.Value.(string); !ok {
			return &ValidationError{Field: f.Field, Message: fmt.Sprintf("%s requires a string operand", f.Op)}
		}
	default:
		if !scalarValue(f.Value) {
			return &ValidationError{Field: f.Field, Message: fmt.Sprintf("%s requires a scalar operand", f.Op)}
		}
	}
	return nil
}

// ListValues returns the operand as a list for in/not_in/between.
func (f FilterClause) ListValues() []any {
	list, _ := toList(f.Value)
	return list
}

// Validate checks the direction and defaults it to asc.
func (o *OrderClause) Validate() error {
	if err := CheckFieldName(o.Field); err != nil {
		return err
	}
	switch o.Direction {
	case "":
		o.Direction = DirAsc
	case DirAsc, DirDesc:
	default:
		return &ValidationError{Field: o.Field, Message: fmt.Sprintf("order direction must be asc or desc, got %s", o.Direction)}
	}
	return nil
}

// Validate checks the relation name, nested filters and the take bound.
// Includes are one level only — there is no nested include.
func (i IncludeClause) Validate() error {
	if err := CheckFieldName(i.Relation); err != nil {
		return err
	}
	for _, sel := range i.Select {
		if err := CheckFieldName(sel); err != nil {
			return err
		}
	}
	for _, w := range i.Where {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	if i.Take != 0 && (i.Take < 1 || i.Take > MaxTake) {
		return &ValidationError{Field: i.Relation, Message: fmt.Sprintf("include take must be between 1 and %d", MaxTake)}
	}
	return nil
}

// CheckFieldName rejects empty names and names carrying SQL comment or
// statement-separator fragments.
func CheckFieldName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Message: "field name must not be empty"}
	}
	for _, frag := range forbiddenFieldFragments {
		if strings.Contains(name, frag) {
			return &ValidationError{Field: name, Message: fmt.Sprintf("field name contains forbidden sequence %q", frag)}
		}
	}
	return nil
}

// ValidationError is a construction-time constraint violation on a DSL value.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

// scalarValue reports whether v is one of the closed set of operand types
// the DSL accepts: string, number, bool, null, or time.
func scalarValue(v any) bool {
	switch v.(type) {
	case nil, string, bool,
		int, int32, int64, float32, float64,
		time.Time:
		return true
	}
	return false
}
