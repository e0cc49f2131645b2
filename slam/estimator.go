package slam

import "math"

// EstimateResult is the outcome of one ICP run
type EstimateResult struct {
	Pose       Pose    `json:"pose"`
	Cost       float64 `json:"cost"`
	MatchRatio float64 `json:"matchRatio"` // matched scan points at the start of the best iteration
	ValidRatio float64 `json:"validRatio"` // matched pairs whose reference has a normal
	UsedPoints int     `json:"usedPoints"`
	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`
}

// CostPerPoint normalizes the cost by the number of points used
func (r EstimateResult) CostPerPoint() float64 {
	if r.UsedPoints == 0 {
		return math.Inf(1)
	}
	return r.Cost / float64(r.UsedPoints)
}

// PoseEstimator alternates association and optimization
type PoseEstimator struct {
	Assoc     *DataAssociator
	Optimizer PoseOptimizer

	MaxIterations        int
	ConvergenceThreshold float64
}

// NewPoseEstimator creates an ICP driver; non-positive limits use 100 and 1e-6
func NewPoseEstimator(assoc *DataAssociator, opt PoseOptimizer, maxIter int, thresh float64) *PoseEstimator {
	if maxIter <= 0 {
		maxIter = 100
	}
	if thresh <= 0 {
		thresh = 1e-6
	}
	return &PoseEstimator{
		Assoc:                assoc,
		Optimizer:            opt,
		MaxIterations:        maxIter,
		ConvergenceThreshold: thresh,
	}
}

// SetReference sets the points the scan is aligned against
func (e *PoseEstimator) SetReference(points []Point) {
	e.Assoc.SetReferenceBase(points)
}

// EstimatePose aligns scan (sensor frame) to the reference starting from
// init and returns the lowest-cost pose seen.
func (e *PoseEstimator) EstimatePose(scan []Point, init Pose) EstimateResult {
	best := EstimateResult{Pose: init, Cost: math.Inf(1)}
	pose := init
	evOld := math.Inf(1)
	ev := initialErr

	it := 0
	for ; it < e.MaxIterations && math.Abs(evOld-ev) > e.ConvergenceThreshold; it++ {
		if it > 0 {
			evOld = ev
		}
		ratio := e.Assoc.FindCorrespondence(scan, pose)
		cs := e.Assoc.Correspondences()
		var next Pose
		next, ev = e.Optimizer.OptimizePose(cs, pose)
		pose = next
		if ev < best.Cost {
			best.Pose = pose
			best.Cost = ev
			best.MatchRatio = ratio
			best.ValidRatio = ValidRatio(cs)
			best.UsedPoints = usedPoints(cs)
		}
	}
	best.Iterations = it
	best.Converged = math.Abs(evOld-ev) <= e.ConvergenceThreshold
	if !best.Converged {
		Logf("icp: no convergence after %d iterations, best cost=%.6g", it, best.Cost)
	}
	return best
}

func usedPoints(cs *CorrespondenceSet) int {
	n := 0
	for i := 0; i < cs.Len(); i++ {
		if cs.Ref(i).HasNormal() {
			n++
		}
	}
	return n
}
