package slam

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wallPoints samples three walls around the sensor: x=2 and y=±2, with
// normals facing the origin side.
func wallPoints() []Point {
	var pts []Point
	for v := -1.5; v <= 1.5+1e-9; v += 0.05 {
		pts = append(pts,
			Point{X: 2, Y: v, Type: PointLine, Nx: 1, Ny: 0},
			Point{X: v, Y: 2, Type: PointLine, Nx: 0, Ny: 1},
			Point{X: v, Y: -2, Type: PointLine, Nx: 0, Ny: 1},
		)
	}
	return pts
}

// pairedSet places scan points in the world with truth and pairs them by index
func pairedSet(scan []Point, truth Pose) *CorrespondenceSet {
	ref := truth.GlobalPoints(scan)
	pairs := make([]Correspondence, len(scan))
	for i := range scan {
		pairs[i] = Correspondence{Cur: i, Ref: i}
	}
	return NewCorrespondenceSet(scan, ref, pairs)
}

func assertPoseNear(t *testing.T, want, got Pose, tol, tolDeg float64) {
	t.Helper()
	assert.InDelta(t, want.Tx, got.Tx, tol, "tx")
	assert.InDelta(t, want.Ty, got.Ty, tol, "ty")
	assert.InDelta(t, 0, NormalizeAngle(want.Th-got.Th), tolDeg, "th")
}

func TestGaussNewton_RecoversKnownTransform(t *testing.T) {
	tests := []struct {
		name  string
		truth Pose
	}{
		{"translation", NewPose(0.1, -0.05, 0)},
		{"rotation", NewPose(0, 0, 3)},
		{"both", NewPose(-0.08, 0.06, -2.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scan := wallPoints()
			cs := pairedSet(scan, tt.truth)

			opt := NewGaussNewtonOptimizer(OptimizerConfig{MaxSteps: 30, Robust: false})
			pose, cost := opt.OptimizePose(cs, Pose{})
			assertPoseNear(t, tt.truth, pose, 1e-4, 1e-3)
			assert.Less(t, cost, 1e-6)
		})
	}
}

func TestGaussNewton_NoNormalsKeepsInit(t *testing.T) {
	scan := []Point{{X: 1, Y: 0}, {X: 0, Y: 1}}
	cs := pairedSet(scan, NewPose(0.5, 0.5, 10))

	init := NewPose(0.1, 0.2, 5)
	pose, cost := NewGaussNewtonOptimizer(OptimizerConfig{}).OptimizePose(cs, init)
	assert.Equal(t, init, pose)
	assert.Equal(t, 0.0, cost)
}

// outlierSet pairs wallPoints with their truth positions plus six bad pairs
// on the x=2 wall whose reference is pushed size meters along its normal.
func outlierSet(truth Pose, size float64) *CorrespondenceSet {
	scan := wallPoints()
	ref := truth.GlobalPoints(scan)
	pairs := make([]Correspondence, 0, len(scan)+6)
	for i := range scan {
		pairs = append(pairs, Correspondence{Cur: i, Ref: i})
	}
	for i := 0; i < 6; i++ {
		p := ref[3*i*5]
		p.X += size
		ref = append(ref, p)
		pairs = append(pairs, Correspondence{Cur: 3 * i * 5, Ref: len(ref) - 1})
	}
	return NewCorrespondenceSet(scan, ref, pairs)
}

func TestGaussNewton_RobustRejectsOutliers(t *testing.T) {
	truth := NewPose(0.02, -0.01, 0.5)
	cs := outlierSet(truth, 1)

	plain := NewGaussNewtonOptimizer(OptimizerConfig{MaxSteps: 30, Robust: false})
	biased, _ := plain.OptimizePose(cs, Pose{})

	robust := NewGaussNewtonOptimizer(OptimizerConfig{MaxSteps: 30, Robust: true, Kernel: KernelHuber, RobustLimit: 0.05})
	est, _ := robust.OptimizePose(cs, Pose{})

	assert.Greater(t, math.Abs(biased.Tx-truth.Tx), 0.05, "least squares is pulled by the outliers")
	assert.Less(t, math.Abs(est.Tx-truth.Tx), 0.02)
}

func TestGaussNewton_OutlierMagnitudeSweep(t *testing.T) {
	truth := NewPose(0.02, -0.01, 0.5)
	sizes := []float64{0.1, 0.5, 1, 5, 20, 50}

	plain := NewGaussNewtonOptimizer(OptimizerConfig{MaxSteps: 30, Robust: false})
	huber := NewGaussNewtonOptimizer(OptimizerConfig{MaxSteps: 30, Robust: true, Kernel: KernelHuber, RobustLimit: 0.05})
	tukey := NewGaussNewtonOptimizer(OptimizerConfig{MaxSteps: 30, Robust: true, Kernel: KernelTukey, RobustLimit: 0.05})

	var plainErr, huberErr []float64
	for _, size := range sizes {
		cs := outlierSet(truth, size)

		p, _ := plain.OptimizePose(cs, Pose{})
		plainErr = append(plainErr, PoseDistance(truth, p))

		h, _ := huber.OptimizePose(cs, Pose{})
		huberErr = append(huberErr, PoseDistance(truth, h))

		// tukey gives the outliers zero weight, so it lands on the inlier solution
		k, _ := tukey.OptimizePose(cs, Pose{})
		assertPoseNear(t, truth, k, 1e-6, 1e-5)
	}

	// least squares error keeps growing with the outlier size
	for i := 1; i < len(sizes); i++ {
		assert.Greater(t, plainErr[i], plainErr[i-1], "size %v", sizes[i])
	}
	assert.Greater(t, plainErr[len(sizes)-1], 1.0)

	// huber bounds the influence: the error stays small and flat
	for i, e := range huberErr {
		assert.Less(t, e, 0.01, "size %v", sizes[i])
		assert.InDelta(t, huberErr[0], e, 1e-3, "size %v", sizes[i])
	}
}

func TestRobustWeights(t *testing.T) {
	tests := []struct {
		name   string
		fn     func(err, limit float64) float64
		err    float64
		limit  float64
		expect float64
	}{
		{"huber inside", HuberWeight, 0.0001, 0.05, 1},
		{"huber outside", HuberWeight, 1, 0.05, 0.05},
		{"tukey zero residual", TukeyWeight, 0, 0.05, 1},
		{"tukey half", TukeyWeight, 0.00125, 0.05, 0.25},
		{"tukey outside", TukeyWeight, 0.01, 0.05, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expect, tt.fn(tt.err, tt.limit), 1e-12)
		})
	}
}

func TestValidRatio(t *testing.T) {
	scan := []Point{{X: 1}, {X: 2}, {X: 3}, {X: 4}}
	ref := []Point{{X: 1, Type: PointLine, Nx: 1}, {X: 2}, {X: 3, Type: PointLine, Nx: 1}, {X: 4}}
	cs := NewCorrespondenceSet(scan, ref, []Correspondence{{0, 0}, {1, 1}, {2, 2}, {3, 3}})
	assert.InDelta(t, 0.5, ValidRatio(cs), 1e-12)
	assert.Equal(t, 0.0, ValidRatio(NewCorrespondenceSet(nil, nil, nil)))
}

type fixedLast Pose

func (p fixedLast) LastPose() Pose { return Pose(p) }

func TestNewPoseOptimizer(t *testing.T) {
	fuser := NewPoseFuser(FuserConfig{}, nil)
	tests := []struct {
		name    string
		kind    string
		last    LastPoser
		fuser   *PoseFuser
		wantErr bool
	}{
		{"gn", OptimizerGN, nil, nil, false},
		{"map", OptimizerMAP, fixedLast{}, fuser, false},
		{"map without map", OptimizerMAP, nil, fuser, true},
		{"unknown", "lm", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultOptimizerConfig()
			cfg.Kind = tt.kind
			opt, err := NewPoseOptimizer(cfg, tt.last, tt.fuser)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, opt)
		})
	}
}

func TestMAPOptimizer_PriorHoldsPrediction(t *testing.T) {
	last := NewPose(1, 1, 30)
	pred := GlobalPose(NewPose(0.1, 0, 2), last)
	opt, err := NewPoseOptimizer(DefaultOptimizerConfig(), fixedLast(last), NewPoseFuser(FuserConfig{}, nil))
	require.NoError(t, err)

	// with no scan evidence the prior alone keeps the prediction
	pose, _ := opt.OptimizePose(NewCorrespondenceSet(nil, nil, nil), pred)
	assertPoseNear(t, pred, pose, 1e-9, 1e-9)
}

func TestMAPOptimizer_BlendsScanAndPrior(t *testing.T) {
	truth := NewPose(0.05, 0.02, 0)
	cs := pairedSet(wallPoints(), truth)

	cfg := DefaultOptimizerConfig()
	cfg.Robust = false
	cfg.MaxSteps = 30
	// one step of 0.1 m ending at the prediction
	opt, err := NewPoseOptimizer(cfg, fixedLast(NewPose(-0.1, 0, 0)), NewPoseFuser(FuserConfig{}, nil))
	require.NoError(t, err)

	pose, _ := opt.OptimizePose(cs, Pose{})
	assert.Greater(t, pose.Tx, 0.0)
	assert.Less(t, pose.Tx, truth.Tx)
	assert.Greater(t, pose.Ty, 0.0)
	assert.Less(t, pose.Ty, truth.Ty)

	gn, _ := NewGaussNewtonOptimizer(cfg).OptimizePose(cs, Pose{})
	assert.Less(t, PoseDistance(pose, Pose{}), PoseDistance(gn, Pose{}))
}
