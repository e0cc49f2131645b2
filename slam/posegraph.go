package slam

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrUnknownNode is returned when an arc names a node that does not exist
	ErrUnknownNode = errors.New("unknown pose node")
	// ErrEmptyGraph is returned when optimizing a graph with no nodes
	ErrEmptyGraph = errors.New("pose graph has no nodes")
)

// PoseNode is a graph vertex. Arcs lists indices into PoseGraph.Arcs.
type PoseNode struct {
	ID   int
	Pose Pose
	Arcs []int
}

// PoseArc constrains Dst relative to Src. Rel is Dst's pose in Src's frame;
// Inf is the information matrix over (tx, ty, θ in radians).
type PoseArc struct {
	Src, Dst     int
	Rel          Pose
	Inf          *mat.SymDense
	SwitchWeight float64

	noisy bool // Rel already carries the injected loop noise
}

// IsLoop reports whether the arc joins non-adjacent nodes
func (a *PoseArc) IsLoop() bool {
	return a.Dst != a.Src+1
}

// PoseGraph owns nodes and arcs for one mapping run
type PoseGraph struct {
	Nodes []PoseNode
	Arcs  []PoseArc
}

// NewPoseGraph returns an empty graph
func NewPoseGraph() *PoseGraph {
	return &PoseGraph{}
}

// AddNode appends a node and returns its sequential id
func (g *PoseGraph) AddNode(p Pose) int {
	id := len(g.Nodes)
	g.Nodes = append(g.Nodes, PoseNode{ID: id, Pose: p})
	return id
}

// Node returns the node with the given id
func (g *PoseGraph) Node(id int) (*PoseNode, error) {
	if id < 0 || id >= len(g.Nodes) {
		return nil, fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	return &g.Nodes[id], nil
}

// LastNode returns the newest node, or nil for an empty graph
func (g *PoseGraph) LastNode() *PoseNode {
	if len(g.Nodes) == 0 {
		return nil
	}
	return &g.Nodes[len(g.Nodes)-1]
}

// AddArc adds a constraint with switch weight 1 and returns its index
func (g *PoseGraph) AddArc(src, dst int, rel Pose, inf *mat.SymDense) (int, error) {
	if _, err := g.Node(src); err != nil {
		return -1, fmt.Errorf("arc source: %w", err)
	}
	if _, err := g.Node(dst); err != nil {
		return -1, fmt.Errorf("arc destination: %w", err)
	}
	if inf == nil {
		return -1, fmt.Errorf("arc %d->%d: missing information matrix", src, dst)
	}
	idx := len(g.Arcs)
	g.Arcs = append(g.Arcs, PoseArc{
		Src:          src,
		Dst:          dst,
		Rel:          rel,
		Inf:          mat.NewSymDense(3, nil),
		SwitchWeight: 1,
	})
	g.Arcs[idx].Inf.CopySym(inf)
	g.Nodes[src].Arcs = append(g.Nodes[src].Arcs, idx)
	g.Nodes[dst].Arcs = append(g.Nodes[dst].Arcs, idx)
	return idx, nil
}

// MakeArc adds a constraint from a covariance expressed in src's frame
func (g *PoseGraph) MakeArc(src, dst int, rel Pose, cov mat.Symmetric) (int, error) {
	return g.AddArc(src, dst, rel, PseudoInverseSym(cov))
}

// FindArc returns the index of the arc from src to dst
func (g *PoseGraph) FindArc(src, dst int) (int, bool) {
	n, err := g.Node(src)
	if err != nil {
		return -1, false
	}
	for _, idx := range n.Arcs {
		if g.Arcs[idx].Src == src && g.Arcs[idx].Dst == dst {
			return idx, true
		}
	}
	return -1, false
}

// LoopArcCount returns the number of loop-closure arcs
func (g *PoseGraph) LoopArcCount() int {
	n := 0
	for i := range g.Arcs {
		if g.Arcs[i].IsLoop() {
			n++
		}
	}
	return n
}

// Poses returns node poses in id order
func (g *PoseGraph) Poses() []Pose {
	out := make([]Pose, len(g.Nodes))
	for i, n := range g.Nodes {
		out[i] = n.Pose
	}
	return out
}

// SetPoses overwrites node poses in id order
func (g *PoseGraph) SetPoses(poses []Pose) error {
	if len(poses) != len(g.Nodes) {
		return fmt.Errorf("set poses: got %d, graph has %d nodes", len(poses), len(g.Nodes))
	}
	for i := range g.Nodes {
		g.Nodes[i].Pose = poses[i]
	}
	return nil
}
