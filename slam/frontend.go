package slam

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepResult is the front end's record of one processed scan
type StepResult struct {
	Match     MatchResult     `json:"match"`
	NodeID    int             `json:"nodeId"`
	Loop      *LoopInfo       `json:"loop,omitempty"`
	Optimized *OptimizeReport `json:"optimized,omitempty"`
}

// FrontEnd runs the full per-scan pipeline for one mapping run: scan
// matching, pose-graph growth, periodic loop detection and robust
// re-optimization.
type FrontEnd struct {
	cfg      *Config
	Map      *PointCloudMap
	Graph    *PoseGraph
	Matcher  *ScanMatcher
	Loops    *LoopDetector // nil disables loop closure
	Backend  *RobustOptimizer
	Stats    *RunStats
	cnt      int
	odoStart *Pose
}

// NewFrontEnd wires every component from cfg
func NewFrontEnd(cfg *Config) (*FrontEnd, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := NewPointCloudMap(cfg.Map)
	matcher, err := NewScanMatcher(cfg, m)
	if err != nil {
		return nil, fmt.Errorf("scan matcher: %w", err)
	}
	g := NewPoseGraph()
	fe := &FrontEnd{
		cfg:     cfg,
		Map:     m,
		Graph:   g,
		Matcher: matcher,
		Backend: NewRobustOptimizer(cfg.Graph),
		Stats:   NewRunStats(),
	}
	if cfg.Loop.Enabled {
		fe.Loops = NewLoopDetector(cfg.Loop, cfg.Matcher, cfg.Optimizer, m, g, matcher.Fuser)
	}
	return fe, nil
}

// Process handles one scan. Errors come only from pose-graph bookkeeping;
// a poor match is logged and the run continues.
func (fe *FrontEnd) Process(scan *Scan) (StepResult, error) {
	match := fe.Matcher.MatchScan(scan)
	cur := fe.Map.LastPose()
	step := StepResult{Match: match}
	fe.Stats.AddMatch(match)

	id, err := fe.addOdometryArc(cur, match.Cov)
	if err != nil {
		return step, err
	}
	step.NodeID = id

	skip := fe.cfg.Loop.KeyframeSkip
	if skip <= 0 {
		skip = 10
	}
	if fe.cnt%skip == 0 {
		fe.Map.MakeGlobalMap()
	}
	if fe.Loops != nil && fe.cnt > skip && fe.cnt%skip == 0 {
		pre := fe.Matcher.Preprocess(scan)
		if info, ok := fe.Loops.DetectLoop(pre.Points, id, cur); ok {
			step.Loop = &info
			report, err := fe.Optimize()
			if err != nil {
				return step, err
			}
			step.Optimized = &report
		}
	}
	fe.cnt++
	return step, nil
}

// addOdometryArc adds the node for the newest pose and, past the first,
// the arc from the previous node. The fused covariance is taken into the
// previous node's frame.
func (fe *FrontEnd) addOdometryArc(cur Pose, fusedCov *mat.SymDense) (int, error) {
	last := fe.Graph.LastNode()
	if last == nil {
		return fe.Graph.AddNode(cur), nil
	}
	lastID, lastPose := last.ID, last.Pose
	id := fe.Graph.AddNode(cur)
	rel := RelativePose(cur, lastPose)
	cov := RotateCovariance(lastPose, fusedCov, true)
	if _, err := fe.Graph.MakeArc(lastID, id, rel, cov); err != nil {
		return id, fmt.Errorf("odometry arc: %w", err)
	}
	return id, nil
}

// Optimize runs the robust back end and moves the map onto the refined poses
func (fe *FrontEnd) Optimize() (OptimizeReport, error) {
	iters := fe.cfg.Graph.Iterations
	if iters <= 0 {
		iters = 5
	}
	report, err := fe.Backend.Optimize(fe.Graph, iters)
	if err != nil {
		return report, err
	}
	fe.Stats.AddOptimize(report)
	if err := fe.Map.RemakeMap(fe.Graph.Poses()); err != nil {
		return report, fmt.Errorf("remake map: %w", err)
	}
	return report, nil
}

// MapByOdometry places the scan at its odometry pose relative to the first
// scan, with no matching.
func (fe *FrontEnd) MapByOdometry(scan *Scan) Pose {
	if fe.odoStart == nil {
		start := scan.Odometry
		fe.odoStart = &start
	}
	pose := RelativePose(scan.Odometry, *fe.odoStart)
	fe.Map.AddPose(pose)
	fe.Map.AddPoints(pose.GlobalPoints(scan.Points))
	fe.Map.MakeGlobalMap()
	fe.Graph.AddNode(pose)
	fe.cnt++
	return pose
}

// Count returns the number of processed scans
func (fe *FrontEnd) Count() int {
	return fe.cnt
}
