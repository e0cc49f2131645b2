package slam

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// graphDamping keeps the normal equations positive definite when a node
	// has no constraints of its own
	graphDamping = 1e-6
	// graphStepTol ends the iterations once no coordinate moves further
	graphStepTol = 1e-9
)

// GaussNewtonGraphSolver optimizes a 2D pose graph by Gauss-Newton with the
// first node held fixed. Graphs up to DenseLimit nodes are solved with a
// dense Cholesky factorization, larger ones with preconditioned conjugate
// gradient over 3x3 blocks.
type GaussNewtonGraphSolver struct {
	DenseLimit int
}

// NewGaussNewtonGraphSolver returns a solver; denseLimit <= 0 uses 600
func NewGaussNewtonGraphSolver(denseLimit int) *GaussNewtonGraphSolver {
	if denseLimit <= 0 {
		denseLimit = 600
	}
	return &GaussNewtonGraphSolver{DenseLimit: denseLimit}
}

// Optimize returns refined poses for every node
func (s *GaussNewtonGraphSolver) Optimize(nodes []Pose, cons []Constraint, iterations int) ([]Pose, error) {
	n := len(nodes)
	if n == 0 {
		return nil, ErrEmptyGraph
	}
	for _, c := range cons {
		if c.Src < 0 || c.Src >= n || c.Dst < 0 || c.Dst >= n {
			return nil, fmt.Errorf("constraint %d->%d: %w", c.Src, c.Dst, ErrUnknownNode)
		}
	}

	x := make([]float64, 3*n)
	for i, p := range nodes {
		x[3*i], x[3*i+1], x[3*i+2] = p.Tx, p.Ty, DegToRad(p.Th)
	}

	for it := 0; it < iterations && n > 1; it++ {
		sys := newBlockSystem(n - 1)
		for _, c := range cons {
			linearizeConstraint(sys, x, c)
		}
		sys.damp(graphDamping)

		var dx []float64
		if n-1 <= s.DenseLimit {
			dx = sys.solveDense()
		}
		if dx == nil {
			dx = sys.solveCG()
		}

		step := 0.0
		for k := 0; k < n-1; k++ {
			i := 3 * (k + 1)
			x[i] += dx[3*k]
			x[i+1] += dx[3*k+1]
			x[i+2] = wrapRad(x[i+2] + dx[3*k+2])
			for d := 0; d < 3; d++ {
				step = math.Max(step, math.Abs(dx[3*k+d]))
			}
		}
		if step < graphStepTol {
			break
		}
	}

	out := make([]Pose, n)
	for i := range out {
		out[i] = NewPose(x[3*i], x[3*i+1], RadToDeg(x[3*i+2]))
	}
	return out, nil
}

// wrapRad maps an angle into (-π, π]
func wrapRad(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	} else if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

type block [9]float64 // row-major 3x3

// blockSystem holds H dx = -b over the free nodes (graph node k is free
// index k-1; node 0 is the anchor)
type blockSystem struct {
	n    int
	diag []block
	off  map[[2]int]*block // key {i, j} with i < j
	b    []float64
}

func newBlockSystem(n int) *blockSystem {
	return &blockSystem{
		n:    n,
		diag: make([]block, n),
		off:  make(map[[2]int]*block),
		b:    make([]float64, 3*n),
	}
}

// addBlock accumulates m into H(i, j), keeping only the upper half
func (s *blockSystem) addBlock(i, j int, m block) {
	if i < 0 || j < 0 {
		return
	}
	switch {
	case i == j:
		for k := range m {
			s.diag[i][k] += m[k]
		}
	case i < j:
		s.offBlock(i, j).add(m)
	default:
		s.offBlock(j, i).add(m.transpose())
	}
}

func (s *blockSystem) offBlock(i, j int) *block {
	key := [2]int{i, j}
	blk, ok := s.off[key]
	if !ok {
		blk = &block{}
		s.off[key] = blk
	}
	return blk
}

func (s *blockSystem) addRHS(i int, v [3]float64) {
	if i < 0 {
		return
	}
	for d := 0; d < 3; d++ {
		s.b[3*i+d] += v[d]
	}
}

func (s *blockSystem) damp(lambda float64) {
	for i := range s.diag {
		s.diag[i][0] += lambda
		s.diag[i][4] += lambda
		s.diag[i][8] += lambda
	}
}

func (m *block) add(o block) {
	for k := range m {
		m[k] += o[k]
	}
}

func (m block) transpose() block {
	return block{m[0], m[3], m[6], m[1], m[4], m[7], m[2], m[5], m[8]}
}

// mulT returns aᵀ b
func mulT(a, b block) block {
	var out block
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			var v float64
			for k := 0; k < 3; k++ {
				v += a[3*k+r] * b[3*k+c]
			}
			out[3*r+c] = v
		}
	}
	return out
}

func mulVec(a block, v [3]float64) [3]float64 {
	return [3]float64{
		a[0]*v[0] + a[1]*v[1] + a[2]*v[2],
		a[3]*v[0] + a[4]*v[1] + a[5]*v[2],
		a[6]*v[0] + a[7]*v[1] + a[8]*v[2],
	}
}

func symBlock(m *mat.SymDense) block {
	var out block
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[3*r+c] = m.At(r, c)
		}
	}
	return out
}

// linearizeConstraint adds one constraint's terms. The error is
// e = (R_iᵀ(t_j - t_i) - z_t, θ_j - θ_i - z_θ).
func linearizeConstraint(sys *blockSystem, x []float64, c Constraint) {
	i, j := c.Src, c.Dst
	xi, yi, ti := x[3*i], x[3*i+1], x[3*i+2]
	xj, yj, tj := x[3*j], x[3*j+1], x[3*j+2]
	cs, sn := math.Cos(ti), math.Sin(ti)
	dx, dy := xj-xi, yj-yi

	e := [3]float64{
		cs*dx + sn*dy - c.Rel.Tx,
		-sn*dx + cs*dy - c.Rel.Ty,
		wrapRad(tj - ti - DegToRad(c.Rel.Th)),
	}
	a := block{
		-cs, -sn, -sn*dx + cs*dy,
		sn, -cs, -cs*dx - sn*dy,
		0, 0, -1,
	}
	b := block{
		cs, sn, 0,
		-sn, cs, 0,
		0, 0, 1,
	}
	omega := symBlock(c.Info)

	// node k maps to free index k-1; the anchor maps to -1 and is skipped
	fi, fj := i-1, j-1
	ao := mulT(a, omega) // AᵀΩ
	bo := mulT(b, omega) // BᵀΩ
	sys.addBlock(fi, fi, mul(ao, a))
	sys.addBlock(fi, fj, mul(ao, b))
	sys.addBlock(fj, fj, mul(bo, b))
	sys.addRHS(fi, mulVec(ao, e))
	sys.addRHS(fj, mulVec(bo, e))
}

// mul returns a b
func mul(a, b block) block {
	var out block
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			var v float64
			for k := 0; k < 3; k++ {
				v += a[3*r+k] * b[3*k+c]
			}
			out[3*r+c] = v
		}
	}
	return out
}

// solveDense assembles H and solves by Cholesky. Returns nil if H is not
// positive definite.
func (s *blockSystem) solveDense() []float64 {
	dim := 3 * s.n
	h := mat.NewSymDense(dim, nil)
	for i, d := range s.diag {
		for r := 0; r < 3; r++ {
			for c := r; c < 3; c++ {
				h.SetSym(3*i+r, 3*i+c, d[3*r+c])
			}
		}
	}
	for key, blk := range s.off {
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.SetSym(3*key[0]+r, 3*key[1]+c, blk[3*r+c])
			}
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(h) {
		return nil
	}
	rhs := mat.NewVecDense(dim, nil)
	for k, v := range s.b {
		rhs.SetVec(k, -v)
	}
	dx := mat.NewVecDense(dim, nil)
	if err := chol.SolveVecTo(dx, rhs); err != nil {
		return nil
	}
	return dx.RawVector().Data
}

// mulH computes H v using the upper-half block storage
func (s *blockSystem) mulH(v []float64) []float64 {
	out := make([]float64, len(v))
	vec := func(i int) [3]float64 { return [3]float64{v[3*i], v[3*i+1], v[3*i+2]} }
	acc := func(i int, w [3]float64) {
		out[3*i] += w[0]
		out[3*i+1] += w[1]
		out[3*i+2] += w[2]
	}
	for i, d := range s.diag {
		acc(i, mulVec(d, vec(i)))
	}
	for key, blk := range s.off {
		i, j := key[0], key[1]
		acc(i, mulVec(*blk, vec(j)))
		acc(j, mulVec(blk.transpose(), vec(i)))
	}
	return out
}

// solveCG runs Jacobi-preconditioned conjugate gradient on H dx = -b
func (s *blockSystem) solveCG() []float64 {
	dim := 3 * s.n
	x := make([]float64, dim)
	r := make([]float64, dim)
	z := make([]float64, dim)
	pre := make([]float64, dim)
	for i, d := range s.diag {
		for k := 0; k < 3; k++ {
			if v := d[4*k]; v > 0 {
				pre[3*i+k] = 1 / v
			} else {
				pre[3*i+k] = 1
			}
		}
	}

	var bnorm float64
	for k, v := range s.b {
		r[k] = -v
		bnorm += v * v
	}
	if bnorm == 0 {
		return x
	}
	tol := 1e-20 * bnorm

	for k := range r {
		z[k] = pre[k] * r[k]
	}
	p := make([]float64, dim)
	copy(p, z)
	rz := dot(r, z)

	for it := 0; it < 10*dim; it++ {
		hp := s.mulH(p)
		pHp := dot(p, hp)
		if pHp <= 0 {
			break
		}
		alpha := rz / pHp
		for k := range x {
			x[k] += alpha * p[k]
			r[k] -= alpha * hp[k]
		}
		if dot(r, r) < tol {
			break
		}
		for k := range z {
			z[k] = pre[k] * r[k]
		}
		rzNew := dot(r, z)
		beta := rzNew / rz
		rz = rzNew
		for k := range p {
			p[k] = z[k] + beta*p[k]
		}
	}
	return x
}

func dot(a, b []float64) float64 {
	var s float64
	for k := range a {
		s += a[k] * b[k]
	}
	return s
}
