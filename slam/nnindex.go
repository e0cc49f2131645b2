package slam

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// NearestFinder answers nearest-neighbour queries over a reference point set.
// Nearest returns the index of the match in the slice given to Build.
type NearestFinder interface {
	Build(points []Point)
	Nearest(q Point, maxDist float64) (int, bool)
	Len() int
}

// Index kinds accepted by NewNearestFinder
const (
	IndexGrid = "grid"
	IndexTree = "tree"
)

// NewNearestFinder returns the index variant named by kind
func NewNearestFinder(kind string, cfg IndexConfig) (NearestFinder, error) {
	switch kind {
	case IndexGrid, "":
		return NewGridIndex(cfg.CellSize, cfg.HalfExtent), nil
	case IndexTree:
		return NewTreeIndex(), nil
	default:
		return nil, fmt.Errorf("unknown index kind %q", kind)
	}
}

// GridIndex buckets points into square cells over [-halfExtent, halfExtent]².
type GridIndex struct {
	cellSize   float64
	halfExtent float64
	width      int // cells per side
	points     []Point
	cells      map[int][]int // cell id -> point indices
}

// NewGridIndex creates an empty grid. Non-positive sizes fall back to 0.05 / 40.
func NewGridIndex(cellSize, halfExtent float64) *GridIndex {
	if cellSize <= 0 {
		cellSize = 0.05
	}
	if halfExtent <= 0 {
		halfExtent = 40
	}
	half := int(math.Ceil(halfExtent / cellSize))
	return &GridIndex{
		cellSize:   cellSize,
		halfExtent: halfExtent,
		width:      2*half + 1,
		cells:      make(map[int][]int),
	}
}

// cellCoords returns the column/row of a position, ok=false outside the bound
func (g *GridIndex) cellCoords(x, y float64) (int, int, bool) {
	if math.Abs(x) > g.halfExtent || math.Abs(y) > g.halfExtent {
		return 0, 0, false
	}
	half := g.width / 2
	xi := int(math.Floor(x/g.cellSize+0.5)) + half
	yi := int(math.Floor(y/g.cellSize+0.5)) + half
	if xi < 0 || xi >= g.width || yi < 0 || yi >= g.width {
		return 0, 0, false
	}
	return xi, yi, true
}

// Build replaces the indexed points. Points outside the bound are dropped.
func (g *GridIndex) Build(points []Point) {
	g.points = points
	clear(g.cells)
	for i, p := range points {
		xi, yi, ok := g.cellCoords(p.X, p.Y)
		if !ok {
			continue
		}
		id := yi*g.width + xi
		g.cells[id] = append(g.cells[id], i)
	}
}

// Len returns the number of points passed to Build
func (g *GridIndex) Len() int {
	return len(g.points)
}

// Nearest scans the query cell and the ring of cells that can hold a point
// within maxDist.
func (g *GridIndex) Nearest(q Point, maxDist float64) (int, bool) {
	xi, yi, ok := g.cellCoords(q.X, q.Y)
	if !ok || len(g.cells) == 0 {
		return -1, false
	}
	r := int(math.Ceil(maxDist/g.cellSize)) + 1
	best := -1
	bestD2 := maxDist * maxDist
	for y := max(yi-r, 0); y <= min(yi+r, g.width-1); y++ {
		for x := max(xi-r, 0); x <= min(xi+r, g.width-1); x++ {
			for _, idx := range g.cells[y*g.width+x] {
				p := g.points[idx]
				dx, dy := p.X-q.X, p.Y-q.Y
				d2 := dx*dx + dy*dy
				if d2 <= bestD2 {
					bestD2 = d2
					best = idx
				}
			}
		}
	}
	return best, best >= 0
}

// CellPoints returns one representative per cell holding at least minPoints
// points: the mean position, with the mean normal re-normalized for line
// points.
func (g *GridIndex) CellPoints(minPoints int) []Point {
	if minPoints < 1 {
		minPoints = 1
	}
	ids := make([]int, 0, len(g.cells))
	for id, idxs := range g.cells {
		if len(idxs) >= minPoints {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	out := make([]Point, len(ids))
	for i, id := range ids {
		out[i] = meanPoint(g.points, g.cells[id])
	}
	return out
}

func meanPoint(points []Point, idxs []int) Point {
	var m Point
	var nx, ny float64
	lines := 0
	for _, i := range idxs {
		p := points[i]
		m.X += p.X
		m.Y += p.Y
		if p.HasNormal() {
			nx += p.Nx
			ny += p.Ny
			lines++
		}
	}
	n := float64(len(idxs))
	m.X /= n
	m.Y /= n
	m.Type = PointIsolated
	if norm := math.Hypot(nx, ny); lines > 0 && norm > 0 {
		m.Type = PointLine
		m.Nx, m.Ny = nx/norm, ny/norm
	}
	return m
}

// TreeIndex is an exact k-d tree index with no bounded region
type TreeIndex struct {
	points []Point
	tree   *kdtree.Tree
}

// NewTreeIndex returns an empty tree index
func NewTreeIndex() *TreeIndex {
	return &TreeIndex{}
}

// Build rebuilds the tree over points
func (t *TreeIndex) Build(points []Point) {
	t.points = points
	t.tree = nil
	if len(points) == 0 {
		return
	}
	nodes := make(treePoints, len(points))
	for i, p := range points {
		nodes[i] = treePoint{x: p.X, y: p.Y, idx: i}
	}
	t.tree = kdtree.New(nodes, false)
}

// Len returns the number of indexed points
func (t *TreeIndex) Len() int {
	return len(t.points)
}

// Nearest returns the closest point if it lies within maxDist
func (t *TreeIndex) Nearest(q Point, maxDist float64) (int, bool) {
	if t.tree == nil {
		return -1, false
	}
	c, d2 := t.tree.Nearest(treePoint{x: q.X, y: q.Y})
	if c == nil || d2 > maxDist*maxDist {
		return -1, false
	}
	return c.(treePoint).idx, true
}

// treePoint adapts a point to kdtree.Comparable, remembering its source index
type treePoint struct {
	x, y float64
	idx  int
}

func (p treePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(treePoint)
	if d == 0 {
		return p.x - q.x
	}
	return p.y - q.y
}

func (p treePoint) Dims() int { return 2 }

func (p treePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(treePoint)
	dx, dy := p.x-q.x, p.y-q.y
	return dx*dx + dy*dy
}

// treePoints implements kdtree.Interface
type treePoints []treePoint

func (p treePoints) Index(i int) kdtree.Comparable { return p[i] }
func (p treePoints) Len() int                      { return len(p) }
func (p treePoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

func (p treePoints) Pivot(d kdtree.Dim) int {
	return plane{treePoints: p, dim: d}.Pivot()
}

// plane sorts along one dimension for median partitioning
type plane struct {
	treePoints
	dim kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	if p.dim == 0 {
		return p.treePoints[i].x < p.treePoints[j].x
	}
	return p.treePoints[i].y < p.treePoints[j].y
}

func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.treePoints = p.treePoints[start:end]
	return p
}

func (p plane) Swap(i, j int) {
	p.treePoints[i], p.treePoints[j] = p.treePoints[j], p.treePoints[i]
}
