package slam

import (
	"gonum.org/v1/gonum/mat"
)

// MatchResult reports how one scan was placed
type MatchResult struct {
	ScanID     int            `json:"scanId"`
	Pose       Pose           `json:"pose"`      // pose added to the map
	Predicted  Pose           `json:"predicted"` // odometry prediction
	Estimate   EstimateResult `json:"estimate"`
	Accepted   bool           `json:"accepted"` // false when the prediction was kept
	Travelled  float64        `json:"travelled"`
	RefPoints  int            `json:"refPoints"`
	ScanPoints int            `json:"scanPoints"`
	Cov        *mat.SymDense  `json:"-"` // fused covariance, world frame
}

// ScanMatcher places each scan in the map: preprocessing, odometry
// prediction, ICP against the reference scan, fusion and map growth.
type ScanMatcher struct {
	Map       *PointCloudMap
	RefMaker  RefScanMaker
	Estimator *PoseEstimator
	Fuser     *PoseFuser
	Resampler *Resampler      // nil skips resampling
	Analyser  *NormalAnalyser // nil skips normal estimation
	InitPose  Pose

	ScoreThreshold float64
	MinUsedPoints  int

	cnt      int
	prevOdom Pose
	cov      *mat.SymDense
	atd      float64
}

// NewScanMatcher wires a matcher from configuration over m
func NewScanMatcher(cfg *Config, m *PointCloudMap) (*ScanMatcher, error) {
	finder, err := NewNearestFinder(cfg.Index.Kind, cfg.Index)
	if err != nil {
		return nil, err
	}
	refMaker, err := NewRefScanMaker(cfg.Map, m)
	if err != nil {
		return nil, err
	}
	assoc := NewDataAssociator(finder, cfg.Matcher.MatchThreshold)
	fuser := NewPoseFuser(cfg.Fuser, assoc)
	opt, err := NewPoseOptimizer(cfg.Optimizer, m, fuser)
	if err != nil {
		return nil, err
	}

	sm := &ScanMatcher{
		Map:            m,
		RefMaker:       refMaker,
		Estimator:      NewPoseEstimator(assoc, opt, cfg.Matcher.MaxIterations, cfg.Matcher.ConvergenceThreshold),
		Fuser:          fuser,
		ScoreThreshold: cfg.Matcher.ScoreThreshold,
		MinUsedPoints:  cfg.Matcher.MinUsedPoints,
		cnt:            -1,
	}
	if cfg.Matcher.Resample {
		sm.Resampler = NewResampler(cfg.Matcher.ResampleSpacing, cfg.Matcher.ResampleGap)
	}
	if cfg.Matcher.EstimateNormals {
		sm.Analyser = NewNormalAnalyser(cfg.Matcher.NormalMinDist, cfg.Matcher.NormalMaxDist, cfg.Matcher.CornerAngle)
	}
	return sm, nil
}

// Preprocess returns a resampled copy of the scan with normals assigned
func (sm *ScanMatcher) Preprocess(scan *Scan) *Scan {
	out := scan.Clone()
	if sm.Resampler != nil {
		out.Points = sm.Resampler.Resample(out.Points)
	}
	if sm.Analyser != nil {
		sm.Analyser.EstimateNormals(out.Points)
	}
	return out
}

// MatchScan places scan and grows the map. A poor match keeps the odometry
// prediction; it never stops the run.
func (sm *ScanMatcher) MatchScan(scan *Scan) MatchResult {
	sm.cnt++
	cur := sm.Preprocess(scan)
	res := MatchResult{ScanID: scan.ID, ScanPoints: len(cur.Points)}

	if sm.cnt == 0 {
		sm.growMap(cur, sm.InitPose)
		sm.prevOdom = cur.Odometry
		sm.cov = sm.Fuser.OdometryCovariance(Pose{}, sm.InitPose)
		res.Pose, res.Predicted, res.Accepted, res.Cov = sm.InitPose, sm.InitPose, true, sm.cov
		return res
	}

	odoMotion := RelativePose(cur.Odometry, sm.prevOdom)
	lastPose := sm.Map.LastPose()
	pred := GlobalPose(odoMotion, lastPose)
	res.Predicted = pred

	ref := sm.RefMaker.MakeRefScan()
	res.RefPoints = len(ref)
	sm.Estimator.SetReference(ref)
	est := sm.Estimator.EstimatePose(cur.Points, pred)
	res.Estimate = est

	pose := est.Pose
	res.Accepted = est.UsedPoints >= sm.MinUsedPoints &&
		(sm.ScoreThreshold <= 0 || est.CostPerPoint() <= sm.ScoreThreshold)
	if !res.Accepted {
		Logf("scan %d: weak match (used=%d cost/pt=%.4g), keeping odometry", scan.ID, est.UsedPoints, est.CostPerPoint())
		pose = pred
	}

	_, cov := sm.Fuser.FusePose(cur.Points, pose, odoMotion, lastPose)
	sm.cov = cov
	res.Cov = cov

	sm.growMap(cur, pose)
	sm.prevOdom = cur.Odometry

	step := RelativePose(pose, lastPose)
	sm.atd += PoseDistance(step, Pose{})
	res.Pose = pose
	res.Travelled = sm.atd

	Logf("scan %d: pose=(%.3f, %.3f, %.2f) ratio=%.2f used=%d iters=%d atd=%.2f",
		scan.ID, pose.Tx, pose.Ty, pose.Th, est.MatchRatio, est.UsedPoints, est.Iterations, sm.atd)
	return res
}

// growMap adds the pose and its transformed points
func (sm *ScanMatcher) growMap(scan *Scan, pose Pose) {
	sm.Map.AddPose(pose)
	sm.Map.AddPoints(pose.GlobalPoints(scan.Points))
}

// Covariance returns the fused covariance of the last matched scan
func (sm *ScanMatcher) Covariance() *mat.SymDense {
	return sm.cov
}

// Travelled returns the accumulated travel distance
func (sm *ScanMatcher) Travelled() float64 {
	return sm.atd
}

// Count returns the number of scans matched so far
func (sm *ScanMatcher) Count() int {
	return sm.cnt + 1
}
