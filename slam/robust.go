package slam

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Constraint is one relative-pose measurement handed to a GraphSolver.
// Info is already scaled by the switch weight.
type Constraint struct {
	Src, Dst int
	Rel      Pose
	Info     *mat.SymDense
}

// GraphSolver refines node poses against constraints
type GraphSolver interface {
	Optimize(nodes []Pose, cons []Constraint, iterations int) ([]Pose, error)
}

// ChiSquare weighs the difference between the measured relative pose rel
// and the one implied by spose and dpose. Translation/rotation
// cross-information terms are not included.
func ChiSquare(spose, dpose, rel Pose, inf mat.Symmetric) float64 {
	r := RelativePose(dpose, spose)
	dx := r.Tx - rel.Tx
	dy := r.Ty - rel.Ty
	dth := DegToRad(AddAngle(r.Th, -rel.Th))
	return dx*dx*inf.At(0, 0) + dy*dy*inf.At(1, 1) + dth*dth*inf.At(2, 2) +
		dx*dy*(inf.At(0, 1)+inf.At(1, 0))
}

// SwitchWeight maps a chi-square residual to a [0, 1] constraint weight
func SwitchWeight(chi2, phi float64) float64 {
	return min(1, 2*phi/(phi+chi2))
}

// OptimizeReport summarizes one robust optimization pass
type OptimizeReport struct {
	Nodes     int     `json:"nodes"`
	Arcs      int     `json:"arcs"`
	LoopArcs  int     `json:"loopArcs"`
	Outliers  int     `json:"outliers"` // loop arcs with chi2 > 1
	MeanChi2  float64 `json:"meanChi2"`
	MaxChi2   float64 `json:"maxChi2"`
	MinWeight float64 `json:"minWeight"`
}

// RobustOptimizer prepares a pose graph for a GraphSolver, down-weighting
// inconsistent loop closures with switch weights.
type RobustOptimizer struct {
	Solver GraphSolver
	Robust bool
	Phi    float64

	// InjectLoopNoise corrupts loop arcs from even-numbered nodes by (2, 1)
	// before weighting, once per arc across repeated Optimize calls. Test
	// hook for the outlier handling.
	InjectLoopNoise bool
}

// NewRobustOptimizer builds an optimizer with the Gauss-Newton solver
func NewRobustOptimizer(cfg GraphConfig) *RobustOptimizer {
	phi := cfg.Phi
	if phi <= 0 {
		phi = 1
	}
	return &RobustOptimizer{
		Solver:          NewGaussNewtonGraphSolver(cfg.DenseLimit),
		Robust:          cfg.Robust,
		Phi:             phi,
		InjectLoopNoise: cfg.InjectLoopNoise,
	}
}

// Optimize weights loop arcs, runs the solver for iterations passes and
// writes the refined poses back into g.
func (o *RobustOptimizer) Optimize(g *PoseGraph, iterations int) (OptimizeReport, error) {
	report := OptimizeReport{Nodes: len(g.Nodes), Arcs: len(g.Arcs), MinWeight: 1}
	if len(g.Nodes) == 0 {
		return report, ErrEmptyGraph
	}

	cons := make([]Constraint, 0, len(g.Arcs))
	var sum float64
	for i := range g.Arcs {
		arc := &g.Arcs[i]
		sw := 1.0
		if arc.IsLoop() {
			if o.InjectLoopNoise && arc.Src%2 == 0 && !arc.noisy {
				arc.Rel.Tx += 2
				arc.Rel.Ty += 1
				arc.noisy = true
			}
			chi2 := ChiSquare(g.Nodes[arc.Src].Pose, g.Nodes[arc.Dst].Pose, arc.Rel, arc.Inf)
			if o.Robust {
				sw = SwitchWeight(chi2, o.Phi)
			}
			arc.SwitchWeight = sw
			report.LoopArcs++
			sum += chi2
			report.MaxChi2 = max(report.MaxChi2, chi2)
			report.MinWeight = min(report.MinWeight, sw)
			if chi2 > 1 {
				report.Outliers++
			}
			Logf("loop arc %d->%d chi2=%.4g sw=%.5f", arc.Src, arc.Dst, chi2, sw)
		}
		info := mat.NewSymDense(3, nil)
		info.ScaleSym(sw*sw, arc.Inf)
		cons = append(cons, Constraint{Src: arc.Src, Dst: arc.Dst, Rel: arc.Rel, Info: info})
	}
	if report.LoopArcs > 0 {
		report.MeanChi2 = sum / float64(report.LoopArcs)
	}

	poses, err := o.Solver.Optimize(g.Poses(), cons, iterations)
	if err != nil {
		return report, fmt.Errorf("pose graph solve: %w", err)
	}
	if err := g.SetPoses(poses); err != nil {
		return report, err
	}
	Logf("pose graph: nodes=%d arcs=%d loops=%d outliers=%d meanChi2=%.4g",
		report.Nodes, report.Arcs, report.LoopArcs, report.Outliers, report.MeanChi2)
	return report, nil
}
