package dsl

import "fmt"

const (
	DefaultTake = 25
	MaxTake     = 100
)

// Aggregate operations.
const (
	AggCount = "count"
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
)

var aggregateOps = map[string]bool{
	AggCount: true, AggSum: true, AggAvg: true, AggMin: true, AggMax: true,
}

// QueryRequest is a filtered, ordered, paginated read over one model.
type QueryRequest struct {
	Model    string          `json:"model"`
	Select   []string        `json:"select,omitempty"`
	Where    []FilterClause  `json:"where,omitempty"`
	OrderBy  []OrderClause   `json:"order_by,omitempty"`
	Include  []IncludeClause `json:"include,omitempty"`
	Take     int             `json:"take,omitempty"`
	Cursor   string          `json:"cursor,omitempty"`
	Backward bool            `json:"backward,omitempty"`
}

// GetRequest is a single-row read by primary key.
type GetRequest struct {
	Model   string          `json:"model"`
	ID      any             `json:"id"`
	Select  []string        `json:"select,omitempty"`
	Include []IncludeClause `json:"include,omitempty"`
}

// AggregateRequest computes one aggregate over a filtered row set.
type AggregateRequest struct {
	Model   string         `json:"model"`
	Op      string         `json:"op"`
	Field   string         `json:"field,omitempty"` // required unless op is count
	Where   []FilterClause `json:"where,omitempty"`
	GroupBy string         `json:"group_by,omitempty"`
}

type CreateRequest struct {
	Model  string         `json:"model"`
	Data   map[string]any `json:"data"`
	Select []string       `json:"select,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

type UpdateRequest struct {
	Model  string         `json:"model"`
	ID     any            `json:"id"`
	Data   map[string]any `json:"data"`
	Select []string       `json:"select,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

type DeleteRequest struct {
	Model  string `json:"model"`
	ID     any    `json:"id"`
	Hard   bool   `json:"hard,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type BulkUpdateRequest struct {
	Model  string         `json:"model"`
	IDs    []any          `json:"ids"`
	Data   map[string]any `json:"data"`
	Reason string         `json:"reason,omitempty"`
}

// Normalize validates the request and applies defaults (take=25).
func (r *QueryRequest) Normalize() error {
	if r.Model == "" {
		return &ValidationError{Message: "model is required"}
	}
	if r.Take == 0 {
		r.Take = DefaultTake
	}
	if r.Take < 1 || r.Take > MaxTake {
		return &ValidationError{Message: fmt.Sprintf("take must be between 1 and %d", MaxTake)}
	}
	for _, sel := range r.Select {
		if err := CheckFieldName(sel); err != nil {
			return err
		}
	}
	for _, w := range r.Where {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	for i := range r.OrderBy {
		if err := r.OrderBy[i].Validate(); err != nil {
			return err
		}
	}
	for _, inc := range r.Include {
		if err := inc.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (r *GetRequest) Normalize() error {
	if r.Model == "" {
		return &ValidationError{Message: "model is required"}
	}
	if r.ID == nil {
		return &ValidationError{Message: "id is required"}
	}
	for _, sel := range r.Select {
		if err := CheckFieldName(sel); err != nil {
			return err
		}
	}
	for _, inc := range r.Include {
		if err := inc.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (r *AggregateRequest) Normalize() error {
	if r.Model == "" {
		return &ValidationError{Message: "model is required"}
	}
	if !aggregateOps[r.Op] {
		return &ValidationError{Message: fmt.Sprintf("unknown aggregate operation: %s", r.Op)}
	}
	if r.Op != AggCount && r.Field == "" {
		return &ValidationError{Message: fmt.Sprintf("%s requires a target field", r.Op)}
	}
	if r.Field != "" {
		if err := CheckFieldName(r.Field); err != nil {
			return err
		}
	}
	if r.GroupBy != "" {
		if err := CheckFieldName(r.GroupBy); err != nil {
			return err
		}
	}
	for _, w := range r.Where {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (r *CreateRequest) Normalize() error {
	if r.Model == "" {
		return &ValidationError{Message: "model is required"}
	}
	if len(r.Data) == 0 {
		return &ValidationError{Message: "data must not be empty"}
	}
	return checkDataKeys(r.Data, r.Select)
}

func (r *UpdateRequest) Normalize() error {
	if r.Model == "" {
		return &ValidationError{Message: "model is required"}
	}
	if r.ID == nil {
		return &ValidationError{Message: "id is required"}
	}
	if len(r.Data) == 0 {
		return &ValidationError{Message: "data must not be empty"}
	}
	return checkDataKeys(r.Data, r.Select)
}

func (r *DeleteRequest) Normalize() error {
	if r.Model == "" {
		return &ValidationError{Message: "model is required"}
	}
	if r.ID == nil {
		return &ValidationError{Message: "id is required"}
	}
	return nil
}

func (r *BulkUpdateRequest) Normalize() error {
	if r.Model == "" {
		return &ValidationError{Message: "model is required"}
	}
	// The upper bound on ids is policy-driven (max_affected_rows), so the
	// engine can report it with the right error code.
	if len(r.IDs) < 1 {
		return &ValidationError{Message: "ids must not be empty"}
	}
	if len(r.Data) == 0 {
		return &ValidationError{Message: "data must not be empty"}
	}
	return checkDataKeys(r.Data, nil)
}

func checkDataKeys(data map[string]any, selects []string) error {
	for key := range data {
		if err := CheckFieldName(key); err != nil {
			return err
		}
	}
	for _, sel := range selects {
		if err := CheckFieldName(sel); err != nil {
			return err
		}
	}
	return nil
}

// ValidAggregateOp reports whether op is a known aggregate operation.
func ValidAggregateOp(op string) bool {
	return aggregateOps[op]
}
