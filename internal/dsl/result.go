package dsl

// QueryResult carries the rows of a query plus pagination cursors.
type QueryResult struct {
	Records    []map[string]any `json:"records"`
	NextCursor string           `json:"next_cursor,omitempty"`
	PrevCursor string           `json:"prev_cursor,omitempty"`
	HasMore    bool             `json:"has_more"`
}

type GetResult struct {
	Record map[string]any `json:"record"`
}

type AggregateResult struct {
	Op     string           `json:"op"`
	Field  string           `json:"field,omitempty"`
	Value  any              `json:"value,omitempty"`
	Groups []map[string]any `json:"groups,omitempty"`
}

type CreateResult struct {
	Record map[string]any `json:"record"`
}

type UpdateResult struct {
	Record map[string]any `json:"record"`
}

type DeleteResult struct {
	ID   any  `json:"id"`
	Soft bool `json:"soft"` // true when the row was soft-deleted rather than removed
}

type BulkUpdateResult struct {
	Affected int `json:"affected"`
}
