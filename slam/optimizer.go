package slam

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Optimizer kinds
const (
	OptimizerGN  = "gn"
	OptimizerMAP = "map"
)

// Robust kernels
const (
	KernelHuber = "huber"
	KernelTukey = "tukey"
)

// initialErr seeds the step loop so the first step is always accepted
const initialErr = 1e6

// PoseOptimizer refines a pose for a fixed correspondence set. It returns
// the best pose and its weighted cost.
type PoseOptimizer interface {
	OptimizePose(cs *CorrespondenceSet, init Pose) (Pose, float64)
}

// LastPoser supplies the most recent map pose
type LastPoser interface {
	LastPose() Pose
}

// NewPoseOptimizer builds the optimizer named by cfg.Kind. The MAP variant
// needs the map and fuser for its odometry prior.
func NewPoseOptimizer(cfg OptimizerConfig, last LastPoser, fuser *PoseFuser) (PoseOptimizer, error) {
	gn := NewGaussNewtonOptimizer(cfg)
	switch cfg.Kind {
	case OptimizerGN:
		return gn, nil
	case OptimizerMAP, "":
		if last == nil || fuser == nil {
			return nil, fmt.Errorf("map optimizer needs a map and a fuser")
		}
		return &MAPOptimizer{GaussNewtonOptimizer: gn, Map: last, Fuser: fuser}, nil
	default:
		return nil, fmt.Errorf("unknown optimizer kind %q", cfg.Kind)
	}
}

// GaussNewtonOptimizer minimizes the point-to-line ICP cost
type GaussNewtonOptimizer struct {
	cfg OptimizerConfig
}

// NewGaussNewtonOptimizer fills unset fields from DefaultOptimizerConfig
func NewGaussNewtonOptimizer(cfg OptimizerConfig) *GaussNewtonOptimizer {
	def := DefaultOptimizerConfig()
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = def.MaxSteps
	}
	if cfg.ConvergenceThreshold <= 0 {
		cfg.ConvergenceThreshold = def.ConvergenceThreshold
	}
	if cfg.RobustLimit <= 0 {
		cfg.RobustLimit = def.RobustLimit
	}
	if cfg.Kernel == "" {
		cfg.Kernel = def.Kernel
	}
	return &GaussNewtonOptimizer{cfg: cfg}
}

// SetRobust toggles robust weighting
func (o *GaussNewtonOptimizer) SetRobust(robust bool) {
	o.cfg.Robust = robust
}

// SetRobustLimit changes the residual limit of the robust kernel
func (o *GaussNewtonOptimizer) SetRobustLimit(limit float64) {
	if limit > 0 {
		o.cfg.RobustLimit = limit
	}
}

// OptimizePose runs the step loop with no prior
func (o *GaussNewtonOptimizer) OptimizePose(cs *CorrespondenceSet, init Pose) (Pose, float64) {
	return o.iterate(cs, init, nil)
}

// priorFunc adds prior terms to the normal equations for the current pose
type priorFunc func(pose Pose, jwj *mat.SymDense, jwe *mat.VecDense)

// iterate keeps the lowest-cost pose: a step that does not lower the cost
// ends the loop, and a cost change within the threshold counts as converged.
func (o *GaussNewtonOptimizer) iterate(cs *CorrespondenceSet, init Pose, prior priorFunc) (Pose, float64) {
	pose := init
	prevErr := initialErr
	for i := 0; i < o.cfg.MaxSteps; i++ {
		npose, curErr := o.step(cs, pose, prior)
		if math.Abs(prevErr-curErr) <= o.cfg.ConvergenceThreshold {
			if curErr < prevErr {
				pose = npose
				prevErr = curErr
			}
			break
		}
		if curErr >= prevErr {
			break
		}
		pose = npose
		prevErr = curErr
	}
	return pose, prevErr
}

// step performs one Gauss-Newton update from pose and returns the cost at pose
func (o *GaussNewtonOptimizer) step(cs *CorrespondenceSet, pose Pose, prior priorFunc) (Pose, float64) {
	a := DegToRad(pose.Th)
	cosA, sn := math.Cos(a), math.Sin(a)

	jwj := mat.NewSymDense(3, nil)
	jwe := mat.NewVecDense(3, nil)
	var total float64

	for i := 0; i < cs.Len(); i++ {
		rp := cs.Ref(i)
		if !rp.HasNormal() {
			continue
		}
		cp := cs.Cur(i)
		ex := cosA*cp.X - sn*cp.Y + pose.Tx - rp.X
		ey := sn*cp.X + cosA*cp.Y + pose.Ty - rp.Y

		// W = n nᵀ, so eᵀWe = (n·e)² and JᵀWe = Jᵀn (n·e)
		d := rp.Nx*ex + rp.Ny*ey
		err := d * d
		w := 1.0
		if o.cfg.Robust {
			w = o.robustWeight(err)
		}
		if w == 0 {
			continue
		}

		// Jᵀn, with J = [[1, 0, -sn*x-cs*y], [0, 1, cs*x-sn*y]]
		jn := [3]float64{
			rp.Nx,
			rp.Ny,
			rp.Nx*(-sn*cp.X-cosA*cp.Y) + rp.Ny*(cosA*cp.X-sn*cp.Y),
		}
		for r := 0; r < 3; r++ {
			for c := r; c < 3; c++ {
				jwj.SetSym(r, c, jwj.At(r, c)+w*jn[r]*jn[c])
			}
			jwe.SetVec(r, jwe.AtVec(r)+w*jn[r]*d)
		}
		total += w * err
	}

	if prior != nil {
		prior(pose, jwj, jwe)
	}

	dx := solveNormal(jwj, jwe)
	npose := Pose{
		Tx: pose.Tx - dx.AtVec(0),
		Ty: pose.Ty - dx.AtVec(1),
		Th: AddAngle(pose.Th, -RadToDeg(dx.AtVec(2))),
	}
	return npose, total
}

// robustWeight scales a squared residual's contribution
func (o *GaussNewtonOptimizer) robustWeight(err float64) float64 {
	limit := o.cfg.RobustLimit
	if o.cfg.Kernel == KernelTukey {
		return TukeyWeight(err, limit)
	}
	return HuberWeight(err, limit)
}

// HuberWeight is 1 below limit² and limit/|e| above it
func HuberWeight(err, limit float64) float64 {
	if err < limit*limit {
		return 1
	}
	return limit / math.Sqrt(err)
}

// TukeyWeight falls off quadratically to zero at limit²
func TukeyWeight(err, limit float64) float64 {
	l2 := limit * limit
	if err >= l2 {
		return 0
	}
	r := 1 - err/l2
	return r * r
}

// ValidRatio is the fraction of pairs whose reference point carries a normal
func ValidRatio(cs *CorrespondenceSet) float64 {
	if cs.Len() == 0 {
		return 0
	}
	n := 0
	for i := 0; i < cs.Len(); i++ {
		if cs.Ref(i).HasNormal() {
			n++
		}
	}
	return float64(n) / float64(cs.Len())
}

// MAPOptimizer adds an odometry prior centred on the initial pose. The prior
// covariance comes from the motion between the map's last pose and the
// prediction.
type MAPOptimizer struct {
	*GaussNewtonOptimizer
	Map   LastPoser
	Fuser *PoseFuser
}

// OptimizePose runs the step loop with the odometry prior
func (o *MAPOptimizer) OptimizePose(cs *CorrespondenceSet, init Pose) (Pose, float64) {
	pred := init
	last := o.Map.LastPose()
	motion := RelativePose(pred, last)
	wprior := PseudoInverseSym(o.Fuser.OdometryCovariance(motion, last))

	prior := func(pose Pose, jwj *mat.SymDense, jwe *mat.VecDense) {
		b := mat.NewVecDense(3, []float64{
			pose.Tx - pred.Tx,
			pose.Ty - pred.Ty,
			DegToRad(AddAngle(pose.Th, -pred.Th)),
		})
		var wb mat.VecDense
		wb.MulVec(wprior, b)
		jwj.AddSym(jwj, wprior)
		jwe.AddVec(jwe, &wb)
	}
	return o.iterate(cs, init, prior)
}
