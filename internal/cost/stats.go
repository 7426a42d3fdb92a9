package cost

// TableStats feed the estimator. They come from the adapter (ANALYZE
// output, catalog counters) and are advisory: a stale row count skews
// the estimate but never affects hard enforcement.
type TableStats struct {
	TableName         string   `json:"table_name"`
	EstimatedRowCount float64  `json:"estimated_row_count"`
	AvgRowSizeBytes   float64  `json:"avg_row_size_bytes"`
	IndexedColumns    []string `json:"indexed_columns,omitempty"`
	PrimaryKey        string   `json:"primary_key,omitempty"`
	DefaultSelectivity float64 `json:"default_selectivity"`
	UniqueSelectivity  float64 `json:"unique_selectivity"`
}

// HasIndex reports whether the column is indexed or the primary key.
func (s TableStats) HasIndex(column string) bool {
	if column == s.PrimaryKey {
		return true
	}
	for _, c := range s.IndexedColumns {
		if c == column {
			return true
		}
	}
	return false
}

// Breakdown is the seven-component cost estimate of one request.
type Breakdown struct {
	Scan      float64        `json:"scan"`
	Filter    float64        `json:"filter"`
	Join      float64        `json:"join"`
	Sort      float64        `json:"sort"`
	Aggregate float64        `json:"aggregate"`
	Network   float64        `json:"network"`
	Memory    float64        `json:"memory"`
	Details   map[string]any `json:"details,omitempty"`
}

// Total sums all components.
func (b Breakdown) Total() float64 {
	return b.Scan + b.Filter + b.Join + b.Sort + b.Aggregate + b.Network + b.Memory
}

// Budget is a set of soft cost ceilings. Zero means no limit on that
// category. Violations are diagnostics, never errors.
type Budget struct {
	MaxTotal     float64 `json:"max_total,omitempty"`
	MaxScan      float64 `json:"max_scan,omitempty"`
	MaxFilter    float64 `json:"max_filter,omitempty"`
	MaxJoin      float64 `json:"max_join,omitempty"`
	MaxSort      float64 `json:"max_sort,omitempty"`
	MaxAggregate float64 `json:"max_aggregate,omitempty"`
	MaxNetwork   float64 `json:"max_network,omitempty"`
	MaxMemory    float64 `json:"max_memory,omitempty"`
}

// Weights parameterize the cost model.
type Weights struct {
	FullScanPerRow   float64
	IndexScanPerRow  float64
	FilterPerRow     float64
	IncludeBase      float64
	IncludePerRow    float64
	SortPerRow       float64
	SortPerColumn    float64
	DiskSortRows     float64 // rows above which sorting spills to disk
	DiskSortMultiplier float64
	AggregatePerRow  float64
	NetworkPerValue  float64
	MemoryPerValue   float64
}

// DefaultWeights are the calibrated defaults; CostTracker samples are
// the input for recalibrating them offline.
func DefaultWeights() Weights {
	return Weights{
		FullScanPerRow:     1.0,
		IndexScanPerRow:    0.1,
		FilterPerRow:       0.05,
		IncludeBase:        50,
		IncludePerRow:      0.5,
		SortPerRow:         0.2,
		SortPerColumn:      1.0,
		DiskSortRows:       10000,
		DiskSortMultiplier: 3.0,
		AggregatePerRow:    0.1,
		NetworkPerValue:    0.01,
		MemoryPerValue:     0.005,
	}
}

// DefaultStats is the fallback for tables without statistics.
func DefaultStats(table string) TableStats {
	return TableStats{
		TableName:          table,
		EstimatedRowCount:  10000,
		AvgRowSizeBytes:    256,
		DefaultSelectivity: 0.1,
		UniqueSelectivity:  0.001,
	}
}
