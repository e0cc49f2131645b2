package slam

import (
	"fmt"
	"math"
)

// Reference scan policies
const (
	RefScanLast   = "last"
	RefScanWindow = "window"
	RefScanMap    = "map"
)

// PointCloudMap accumulates the trajectory and the globally placed points
// each pose contributed. It only grows; RemakeMap moves points in place after
// a pose-graph correction.
type PointCloudMap struct {
	poses  []Pose
	atd    []float64 // travelled distance up to each pose
	points []Point   // all global points, grouped by pose
	starts []int     // starts[i] is the first index of pose i's points

	thinCell float64
	thinMin  int
	global   []Point
}

// NewPointCloudMap creates an empty map. A positive thinCell makes
// MakeGlobalMap keep one averaged point per cell.
func NewPointCloudMap(cfg MapConfig) *PointCloudMap {
	return &PointCloudMap{
		thinCell: cfg.ThinCellSize,
		thinMin:  cfg.ThinMinPoints,
	}
}

// AddPose appends a pose to the trajectory. Points added afterwards belong to it.
func (m *PointCloudMap) AddPose(p Pose) {
	d := 0.0
	if n := len(m.poses); n > 0 {
		d = m.atd[n-1] + PoseDistance(p, m.poses[n-1])
	}
	m.poses = append(m.poses, p)
	m.atd = append(m.atd, d)
	m.starts = append(m.starts, len(m.points))
}

// AddPoints appends points already in the map frame to the last pose
func (m *PointCloudMap) AddPoints(global []Point) {
	if len(m.poses) == 0 {
		m.AddPose(Pose{})
	}
	m.points = append(m.points, global...)
}

// MakeGlobalMap rebuilds the queryable point set from everything added so far
func (m *PointCloudMap) MakeGlobalMap() {
	m.global = m.thin(m.points)
}

func (m *PointCloudMap) thin(points []Point) []Point {
	if m.thinCell <= 0 || len(points) == 0 {
		out := make([]Point, len(points))
		copy(out, points)
		return out
	}
	g := NewGridIndex(m.thinCell, boundsExtent(points))
	g.Build(points)
	return g.CellPoints(m.thinMin)
}

// boundsExtent returns a half-extent that covers every point
func boundsExtent(points []Point) float64 {
	ext := 1.0
	for _, p := range points {
		ext = math.Max(ext, math.Max(math.Abs(p.X), math.Abs(p.Y)))
	}
	return ext + 1
}

// GlobalMap returns the point set built by the last MakeGlobalMap
func (m *PointCloudMap) GlobalMap() []Point {
	return m.global
}

// AllPoints returns every accumulated point without thinning
func (m *PointCloudMap) AllPoints() []Point {
	return m.points
}

// LastPose returns the newest pose, or the origin for an empty map
func (m *PointCloudMap) LastPose() Pose {
	if len(m.poses) == 0 {
		return Pose{}
	}
	return m.poses[len(m.poses)-1]
}

// Poses returns a copy of the trajectory
func (m *PointCloudMap) Poses() []Pose {
	out := make([]Pose, len(m.poses))
	copy(out, m.poses)
	return out
}

// Len returns the number of poses
func (m *PointCloudMap) Len() int {
	return len(m.poses)
}

// AccumulatedDistance returns the distance travelled up to pose i
func (m *PointCloudMap) AccumulatedDistance(i int) float64 {
	if i < 0 || i >= len(m.atd) {
		return 0
	}
	return m.atd[i]
}

// Segment returns the points contributed by pose i
func (m *PointCloudMap) Segment(i int) []Point {
	if i < 0 || i >= len(m.poses) {
		return nil
	}
	end := len(m.points)
	if i+1 < len(m.starts) {
		end = m.starts[i+1]
	}
	return m.points[m.starts[i]:end]
}

// Window returns the points of poses from..to inclusive, clamped and thinned
func (m *PointCloudMap) Window(from, to int) []Point {
	from = max(from, 0)
	to = min(to, len(m.poses)-1)
	if from > to {
		return nil
	}
	end := len(m.points)
	if to+1 < len(m.starts) {
		end = m.starts[to+1]
	}
	return m.thin(m.points[m.starts[from]:end])
}

// RemakeMap replaces the trajectory with corrected poses and moves each
// pose's points by the same correction.
func (m *PointCloudMap) RemakeMap(poses []Pose) error {
	if len(poses) != len(m.poses) {
		return fmt.Errorf("remake map: got %d poses, map has %d", len(poses), len(m.poses))
	}
	for i, np := range poses {
		old := m.poses[i]
		seg := m.Segment(i)
		for j, gp := range seg {
			seg[j] = np.Global(old.Local(gp))
		}
		m.poses[i] = np
		if i > 0 {
			m.atd[i] = m.atd[i-1] + PoseDistance(np, poses[i-1])
		}
	}
	m.MakeGlobalMap()
	return nil
}

// RefScanMaker supplies the associator's reference points each cycle
type RefScanMaker interface {
	MakeRefScan() []Point
}

// NewRefScanMaker returns the policy named by cfg.RefScan
func NewRefScanMaker(cfg MapConfig, m *PointCloudMap) (RefScanMaker, error) {
	switch cfg.RefScan {
	case RefScanLast:
		return LastScanRef{Map: m}, nil
	case RefScanWindow, "":
		return WindowRef{Map: m, Size: cfg.WindowSize}, nil
	case RefScanMap:
		return WholeMapRef{Map: m}, nil
	default:
		return nil, fmt.Errorf("unknown reference scan policy %q", cfg.RefScan)
	}
}

// LastScanRef uses the points of the newest scan
type LastScanRef struct {
	Map *PointCloudMap
}

func (r LastScanRef) MakeRefScan() []Point {
	return r.Map.Segment(r.Map.Len() - 1)
}

// WindowRef uses the points of the newest Size scans
type WindowRef struct {
	Map  *PointCloudMap
	Size int
}

func (r WindowRef) MakeRefScan() []Point {
	size := r.Size
	if size <= 0 {
		size = 10
	}
	last := r.Map.Len() - 1
	return r.Map.Window(last-size+1, last)
}

// WholeMapRef uses the whole map, rebuilt on each call
type WholeMapRef struct {
	Map *PointCloudMap
}

func (r WholeMapRef) MakeRefScan() []Point {
	r.Map.MakeGlobalMap()
	return r.Map.GlobalMap()
}
