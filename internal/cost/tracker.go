package cost

import (
	"math"
	"sync"
)

// Tracker retains calibration samples: estimated cost against observed
// execution. The stats it reports feed offline weight recalibration;
// nothing reads them on the request path.
type Tracker struct {
	mu      sync.Mutex
	samples []Sample
}

type Sample struct {
	Model            string  `json:"model"`
	EstimatedCost    float64 `json:"estimated_cost"`
	EstimatedRows    float64 `json:"estimated_rows"`
	ActualDurationMs float64 `json:"actual_duration_ms"`
	ActualRows       int     `json:"actual_rows"`
}

// AccuracyStats summarizes how well estimates track reality.
type AccuracyStats struct {
	Count             int     `json:"count"`
	MinDurationMs     float64 `json:"min_duration_ms"`
	MaxDurationMs     float64 `json:"max_duration_ms"`
	AvgDurationMs     float64 `json:"avg_duration_ms"`
	MeanCostPerMs     float64 `json:"mean_cost_per_ms"`
	MeanRowErrorRatio float64 `json:"mean_row_error_ratio"`
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Record stores one observation.
func (t *Tracker) Record(model string, estimate Breakdown, actualDurationMs float64, actualRows int) {
	estRows, _ := estimate.Details["estimated_rows"].(float64)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, Sample{
		Model:            model,
		EstimatedCost:    estimate.Total(),
		EstimatedRows:    estRows,
		ActualDurationMs: actualDurationMs,
		ActualRows:       actualRows,
	})
}

// AccuracyStats reports sample count, duration spread, the mean
// cost-to-duration ratio and the mean relative row-estimation error.
func (t *Tracker) AccuracyStats() AccuracyStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := AccuracyStats{Count: len(t.samples)}
	if stats.Count == 0 {
		return stats
	}

	stats.MinDurationMs = math.MaxFloat64
	var sumDuration, sumRatio, sumRowError float64
	for _, s := range t.samples {
		sumDuration += s.ActualDurationMs
		if s.ActualDurationMs < stats.MinDurationMs {
			stats.MinDurationMs = s.ActualDurationMs
		}
		if s.ActualDurationMs > stats.MaxDurationMs {
			stats.MaxDurationMs = s.ActualDurationMs
		}
		if s.ActualDurationMs > 0 {
			sumRatio += s.EstimatedCost / s.ActualDurationMs
		}
		if s.ActualRows > 0 {
			sumRowError += math.Abs(s.EstimatedRows-float64(s.ActualRows)) / float64(s.ActualRows)
		}
	}

	n := float64(stats.Count)
	stats.AvgDurationMs = sumDuration / n
	stats.MeanCostPerMs = sumRatio / n
	stats.MeanRowErrorRatio = sumRowError / n
	return stats
}

// Clear drops all samples.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = nil
}
