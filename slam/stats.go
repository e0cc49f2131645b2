package slam

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// RunStats collects per-scan diagnostics over a run
type RunStats struct {
	matchRatios []float64
	costs       []float64
	iterations  []float64
	rejected    int
	loops       int
	outliers    int
}

// Summary is a snapshot of RunStats
type Summary struct {
	Scans          int     `json:"scans"`
	Rejected       int     `json:"rejected"` // scans that kept the odometry prediction
	MeanMatchRatio float64 `json:"meanMatchRatio"`
	StdMatchRatio  float64 `json:"stdMatchRatio"`
	MedianCost     float64 `json:"medianCostPerPoint"`
	MeanIterations float64 `json:"meanIterations"`
	Optimizations  int     `json:"optimizations"`
	LoopOutliers   int     `json:"loopOutliers"`
}

// NewRunStats returns an empty collector
func NewRunStats() *RunStats {
	return &RunStats{}
}

// AddMatch records one scan match. The first scan has no estimate and is skipped.
func (s *RunStats) AddMatch(m MatchResult) {
	if m.Estimate.Iterations == 0 {
		return
	}
	s.matchRatios = append(s.matchRatios, m.Estimate.MatchRatio)
	if c := m.Estimate.CostPerPoint(); !math.IsInf(c, 1) {
		s.costs = append(s.costs, c)
	}
	s.iterations = append(s.iterations, float64(m.Estimate.Iterations))
	if !m.Accepted {
		s.rejected++
	}
}

// AddOptimize records one back-end run
func (s *RunStats) AddOptimize(r OptimizeReport) {
	s.loops++
	s.outliers += r.Outliers
}

// Summary computes the aggregate figures
func (s *RunStats) Summary() Summary {
	sum := Summary{
		Scans:         len(s.matchRatios),
		Rejected:      s.rejected,
		Optimizations: s.loops,
		LoopOutliers:  s.outliers,
	}
	if len(s.matchRatios) > 0 {
		sum.MeanMatchRatio = stat.Mean(s.matchRatios, nil)
		if len(s.matchRatios) > 1 {
			sum.StdMatchRatio = stat.StdDev(s.matchRatios, nil)
		}
		sum.MeanIterations = stat.Mean(s.iterations, nil)
	}
	if len(s.costs) > 0 {
		sorted := append([]float64(nil), s.costs...)
		sort.Float64s(sorted)
		sum.MedianCost = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	}
	return sum
}
