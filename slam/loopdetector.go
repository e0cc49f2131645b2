package slam

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// LoopInfo describes a detected revisit: the current node re-localized in
// the neighbourhood of an older reference node.
type LoopInfo struct {
	RefID  int            `json:"refId"`
	CurID  int            `json:"curId"`
	Pose   Pose           `json:"pose"` // revisit pose of the current scan
	Cov    *mat.SymDense  `json:"-"`    // ICP covariance, world frame
	Result EstimateResult `json:"result"`
}

// LoopDetector looks for an older part of the trajectory near the current
// pose and re-localizes the current scan against it.
type LoopDetector struct {
	cfg       LoopConfig
	Map       *PointCloudMap
	Graph     *PoseGraph
	Fuser     *PoseFuser
	estimator *PoseEstimator
}

// NewLoopDetector builds a detector with its own exact index and a plain
// Gauss-Newton optimizer
func NewLoopDetector(cfg LoopConfig, match MatcherConfig, opt OptimizerConfig, m *PointCloudMap, g *PoseGraph, fuser *PoseFuser) *LoopDetector {
	assoc := NewDataAssociator(NewTreeIndex(), match.MatchThreshold)
	gn := NewGaussNewtonOptimizer(opt)
	return &LoopDetector{
		cfg:       cfg,
		Map:       m,
		Graph:     g,
		Fuser:     fuser,
		estimator: NewPoseEstimator(assoc, gn, match.MaxIterations, match.ConvergenceThreshold),
	}
}

// FindCandidate returns the older pose closest to cur among those at least
// MinTravel behind the current travelled distance, if within Radius.
func (d *LoopDetector) FindCandidate(curID int, cur Pose) (int, bool) {
	atd := d.Map.AccumulatedDistance(curID)
	best := -1
	bestD := d.cfg.Radius
	for i := 0; i < curID && i < d.Map.Len(); i++ {
		if atd-d.Map.AccumulatedDistance(i) < d.cfg.MinTravel {
			break
		}
		if dist := PoseDistance(d.Map.poses[i], cur); dist <= bestD {
			bestD = dist
			best = i
		}
	}
	return best, best >= 0
}

// DetectLoop tries to close a loop from node curID whose scan (preprocessed,
// sensor frame) is scan. On success the loop arc is added to the graph.
func (d *LoopDetector) DetectLoop(scan []Point, curID int, cur Pose) (LoopInfo, bool) {
	refID, ok := d.FindCandidate(curID, cur)
	if !ok {
		return LoopInfo{}, false
	}
	half := d.cfg.SubmapHalfWindow
	ref := d.Map.Window(refID-half, refID+half)
	if len(ref) == 0 {
		return LoopInfo{}, false
	}

	res, ok := d.estimateRevisitPose(scan, ref, cur)
	if !ok {
		Logf("loop: candidate %d rejected for node %d", refID, curID)
		return LoopInfo{}, false
	}

	d.estimator.Assoc.FindCorrespondence(scan, res.Pose)
	cov, _ := d.Fuser.ICPCovariance(res.Pose, d.estimator.Assoc.Correspondences())
	info := LoopInfo{RefID: refID, CurID: curID, Pose: res.Pose, Cov: cov, Result: res}
	if err := d.addLoopArc(info); err != nil {
		Logf("loop: %v", err)
		return LoopInfo{}, false
	}
	Logf("loop: node %d -> %d revisit=(%.3f, %.3f, %.2f) cost/pt=%.4g",
		refID, curID, res.Pose.Tx, res.Pose.Ty, res.Pose.Th, res.CostPerPoint())
	return info, true
}

// estimateRevisitPose searches a grid of start poses around cur, refines
// those with enough overlap by ICP and keeps the cheapest.
func (d *LoopDetector) estimateRevisitPose(scan, ref []Point, cur Pose) (EstimateResult, bool) {
	d.estimator.SetReference(ref)
	assoc := d.estimator.Assoc

	best := EstimateResult{Cost: math.Inf(1)}
	found := false
	steps := func(rng, step float64) []float64 {
		if step <= 0 || rng <= 0 {
			return []float64{0}
		}
		var out []float64
		for v := -rng; v <= rng+1e-9; v += step {
			out = append(out, v)
		}
		return out
	}

	for _, dth := range steps(d.cfg.AngleRange, d.cfg.AngleStep) {
		for _, dy := range steps(d.cfg.SearchRange, d.cfg.SearchStep) {
			for _, dx := range steps(d.cfg.SearchRange, d.cfg.SearchStep) {
				start := NewPose(cur.Tx+dx, cur.Ty+dy, cur.Th+dth)
				if assoc.FindCorrespondence(scan, start) < d.cfg.MinMatchRatio {
					continue
				}
				res := d.estimator.EstimatePose(scan, start)
				if res.UsedPoints < d.cfg.MinUsedPoints || res.MatchRatio < d.cfg.MinMatchRatio {
					continue
				}
				if res.CostPerPoint() < best.CostPerPoint() || !found {
					best = res
					found = true
				}
			}
		}
	}
	if !found || best.CostPerPoint() > d.cfg.ScoreThreshold {
		return best, false
	}
	return best, true
}

// addLoopArc links the reference node to the current node. The relative
// pose and covariance are expressed in the reference node's frame.
func (d *LoopDetector) addLoopArc(info LoopInfo) error {
	src, err := d.Graph.Node(info.RefID)
	if err != nil {
		return err
	}
	if _, err := d.Graph.Node(info.CurID); err != nil {
		return err
	}
	rel := RelativePose(info.Pose, src.Pose)
	cov := RotateCovariance(src.Pose, info.Cov, true)
	_, err = d.Graph.MakeArc(info.RefID, info.CurID, rel, cov)
	return err
}
