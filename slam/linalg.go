package slam

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// singular values below pinvTol times the largest one are treated as zero
const pinvTol = 1e-12

// PseudoInverse returns the Moore-Penrose inverse of a via SVD.
// A zero matrix yields a zero matrix.
func PseudoInverse(a mat.Matrix) *mat.Dense {
	r, c := a.Dims()
	out := mat.NewDense(c, r, nil)

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return out
	}
	values := svd.Values(nil)
	if len(values) == 0 || values[0] <= 0 {
		return out
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	cutoff := values[0] * pinvTol
	inv := make([]float64, len(values))
	for i, s := range values {
		if s > cutoff {
			inv[i] = 1 / s
		}
	}

	// V * diag(1/s) * Uᵀ, using only the first len(values) columns
	k := len(values)
	vs := mat.NewDense(c, k, nil)
	for i := 0; i < c; i++ {
		for j := 0; j < k; j++ {
			vs.Set(i, j, v.At(i, j)*inv[j])
		}
	}
	out.Mul(vs, u.Slice(0, r, 0, k).T())
	return out
}

// PseudoInverseSym is PseudoInverse for symmetric input, symmetrized on output
func PseudoInverseSym(a mat.Symmetric) *mat.SymDense {
	return symmetrize(PseudoInverse(a))
}

// symmetrize averages a square matrix with its transpose
func symmetrize(m mat.Matrix) *mat.SymDense {
	n, _ := m.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return s
}

// solveNormal solves H x = b for a symmetric H. Cholesky is tried first; a
// singular or indefinite H falls back to the pseudo-inverse, which gives the
// minimum-norm step (zero for a zero H).
func solveNormal(h *mat.SymDense, b *mat.VecDense) *mat.VecDense {
	n, _ := h.Dims()
	x := mat.NewVecDense(n, nil)

	var chol mat.Cholesky
	if chol.Factorize(h) {
		if err := chol.SolveVecTo(x, b); err == nil && finiteVec(x) {
			return x
		}
	}
	x.MulVec(PseudoInverse(h), b)
	return x
}

func finiteVec(v *mat.VecDense) bool {
	for i := 0; i < v.Len(); i++ {
		f := v.AtVec(i)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// poseJacobian is the rotation taking a local (x, y, θ) perturbation into the
// frame of heading th.
func poseJacobian(th float64) *mat.Dense {
	a := DegToRad(th)
	cs, sn := math.Cos(a), math.Sin(a)
	return mat.NewDense(3, 3, []float64{
		cs, -sn, 0,
		sn, cs, 0,
		0, 0, 1,
	})
}

// RotateCovariance expresses cov in the world frame of pose (J C Jᵀ), or with
// reverse set takes a world covariance into the pose's local frame (Jᵀ C J).
func RotateCovariance(pose Pose, cov mat.Symmetric, reverse bool) *mat.SymDense {
	j := poseJacobian(pose.Th)
	var tmp, out mat.Dense
	if reverse {
		tmp.Mul(j.T(), cov)
		out.Mul(&tmp, j)
	} else {
		tmp.Mul(j, cov)
		out.Mul(&tmp, j.T())
	}
	return symmetrize(&out)
}

// diag3 builds a 3x3 diagonal symmetric matrix
func diag3(a, b, c float64) *mat.SymDense {
	return mat.NewSymDense(3, []float64{
		a, 0, 0,
		0, b, 0,
		0, 0, c,
	})
}
