package slam

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// numeric Jacobian steps for the ICP covariance (meters, radians)
const (
	covStepTrans = 1e-5
	covStepRot   = 1e-5
)

// PoseFuser blends scan-matching and odometry estimates by inverse
// covariance weighting.
type PoseFuser struct {
	cfg   FuserConfig
	assoc *DataAssociator
}

// NewPoseFuser creates a fuser. assoc supplies correspondences at the
// scan-matched pose; it may be shared with the pose estimator.
func NewPoseFuser(cfg FuserConfig, assoc *DataAssociator) *PoseFuser {
	def := DefaultFuserConfig()
	if cfg.DeltaT <= 0 {
		cfg.DeltaT = def.DeltaT
	}
	if cfg.ICPCovScale <= 0 {
		cfg.ICPCovScale = def.ICPCovScale
	}
	if cfg.LinearXCoeff <= 0 {
		cfg.LinearXCoeff = def.LinearXCoeff
	}
	if cfg.LinearYCoeff <= 0 {
		cfg.LinearYCoeff = def.LinearYCoeff
	}
	if cfg.AngularCoeff <= 0 {
		cfg.AngularCoeff = def.AngularCoeff
	}
	return &PoseFuser{cfg: cfg, assoc: assoc}
}

// SetReference rebuilds the fuser's associator index over points
func (f *PoseFuser) SetReference(points []Point) {
	if f.assoc != nil {
		f.assoc.SetReferenceBase(points)
	}
}

// FusePose combines the ICP estimate est with the odometry prediction
// (odoMotion applied to lastPose). Returns the fused pose and covariance in
// the world frame.
func (f *PoseFuser) FusePose(scan []Point, est, odoMotion, lastPose Pose) (Pose, *mat.SymDense) {
	var icpCov *mat.SymDense
	if f.assoc != nil {
		f.assoc.FindCorrespondence(scan, est)
		icpCov, _ = f.ICPCovariance(est, f.assoc.Correspondences())
	} else {
		icpCov, _ = f.ICPCovariance(est, nil)
	}

	pred := GlobalPose(odoMotion, lastPose)
	odoCov := f.OdometryCovariance(odoMotion, lastPose)

	return f.Fuse(est, icpCov, pred, odoCov)
}

// OdometryCovariance derives motion noise from the step's translational and
// rotational speed, floored so a standstill keeps a finite covariance, and
// rotates it into the world by base's heading.
func (f *PoseFuser) OdometryCovariance(motion, base Pose) *mat.SymDense {
	dT := f.cfg.DeltaT
	vt := math.Hypot(motion.Tx, motion.Ty) / dT
	wt := math.Abs(DegToRad(motion.Th)) / dT
	vt = math.Max(vt, f.cfg.MinLinearVelocity)
	wt = math.Max(wt, f.cfg.MinAngularVelocity)

	local := diag3(
		f.cfg.LinearXCoeff*vt*vt,
		f.cfg.LinearYCoeff*vt*vt,
		f.cfg.AngularCoeff*wt*wt,
	)
	return RotateCovariance(base, local, false)
}

// ICPCovariance estimates the scan-match covariance at pose from the
// numeric Jacobian of point-to-line distances. The second value is the
// translational degeneracy ratio (largest over smallest eigenvalue); it is
// +Inf when a direction is unconstrained.
func (f *PoseFuser) ICPCovariance(pose Pose, cs *CorrespondenceSet) (*mat.SymDense, float64) {
	a := DegToRad(pose.Th)
	hess := mat.NewSymDense(3, nil)
	for i := 0; i < cs.Len(); i++ {
		rp := cs.Ref(i)
		if !rp.HasNormal() {
			continue
		}
		cp := cs.Cur(i)
		d0 := lineDistance(cp, rp, pose.Tx, pose.Ty, a)
		j := [3]float64{
			(lineDistance(cp, rp, pose.Tx+covStepTrans, pose.Ty, a) - d0) / covStepTrans,
			(lineDistance(cp, rp, pose.Tx, pose.Ty+covStepTrans, a) - d0) / covStepTrans,
			(lineDistance(cp, rp, pose.Tx, pose.Ty, a+covStepRot) - d0) / covStepRot,
		}
		for r := 0; r < 3; r++ {
			for c := r; c < 3; c++ {
				hess.SetSym(r, c, hess.At(r, c)+j[r]*j[c])
			}
		}
	}

	cov := PseudoInverseSym(hess)
	cov.ScaleSym(f.cfg.ICPCovScale, cov)
	return cov, degeneracyRatio(cov)
}

// lineDistance is the signed distance of cp, placed at (tx, ty, a), from the
// line through rp.
func lineDistance(cp, rp Point, tx, ty, a float64) float64 {
	cs, sn := math.Cos(a), math.Sin(a)
	x := cs*cp.X - sn*cp.Y + tx
	y := sn*cp.X + cs*cp.Y + ty
	return (x-rp.X)*rp.Nx + (y-rp.Y)*rp.Ny
}

// degeneracyRatio compares the eigenvalues of the translational block
func degeneracyRatio(cov *mat.SymDense) float64 {
	block := mat.NewSymDense(2, []float64{
		cov.At(0, 0), cov.At(0, 1),
		cov.At(1, 0), cov.At(1, 1),
	})
	var es mat.EigenSym
	if !es.Factorize(block, false) {
		return math.Inf(1)
	}
	vals := es.Values(nil)
	lo, hi := math.Min(vals[0], vals[1]), math.Max(vals[0], vals[1])
	if lo <= 0 {
		return math.Inf(1)
	}
	return hi / lo
}

// Fuse merges two Gaussian pose estimates. Headings are unwrapped before
// blending so estimates either side of ±180 average correctly.
func (f *PoseFuser) Fuse(mu1 Pose, c1 *mat.SymDense, mu2 Pose, c2 *mat.SymDense) (Pose, *mat.SymDense) {
	ic1 := PseudoInverseSym(c1)
	ic2 := PseudoInverseSym(c2)

	var ic mat.SymDense
	ic.AddSym(ic1, ic2)
	fused := PseudoInverseSym(&ic)

	th1 := mu1.Th
	if math.Abs(mu2.Th-th1) > 180 {
		if mu2.Th > th1 {
			th1 += 360
		} else {
			th1 -= 360
		}
	}
	v1 := mat.NewVecDense(3, []float64{mu1.Tx, mu1.Ty, DegToRad(th1)})
	v2 := mat.NewVecDense(3, []float64{mu2.Tx, mu2.Ty, DegToRad(mu2.Th)})

	var a, b, sum, mu mat.VecDense
	a.MulVec(ic1, v1)
	b.MulVec(ic2, v2)
	sum.AddVec(&a, &b)
	mu.MulVec(fused, &sum)

	return NewPose(mu.AtVec(0), mu.AtVec(1), RadToDeg(mu.AtVec(2))), fused
}
