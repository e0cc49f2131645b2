package slam

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAngle(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{180, 180},
		{-180, 180},
		{181, -179},
		{-181, 179},
		{360, 0},
		{540, 180},
		{-720 + 45, 45},
	}
	for _, tt := range tests {
		got := NormalizeAngle(tt.in)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeAngle(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPose_GlobalLocalRoundTrip(t *testing.T) {
	poses := []Pose{
		{},
		NewPose(1, 2, 30),
		NewPose(-3.5, 0.25, -135),
		NewPose(10, -10, 180),
	}
	pts := []Point{
		{X: 1, Y: 0},
		{X: -0.3, Y: 2.1, Type: PointLine, Nx: 0, Ny: 1},
		{X: 5, Y: -5},
	}
	for _, p := range poses {
		for _, lp := range pts {
			got := p.Local(p.Global(lp))
			assert.InDelta(t, lp.X, got.X, 1e-9)
			assert.InDelta(t, lp.Y, got.Y, 1e-9)
			assert.InDelta(t, lp.Nx, got.Nx, 1e-9)
			assert.InDelta(t, lp.Ny, got.Ny, 1e-9)
			assert.Equal(t, lp.Type, got.Type)
		}
	}
}

func TestPose_GlobalRotatesNormal(t *testing.T) {
	p := NewPose(0, 0, 90)
	g := p.Global(Point{X: 1, Y: 0, Type: PointLine, Nx: 1, Ny: 0})
	assert.InDelta(t, 0, g.X, 1e-9)
	assert.InDelta(t, 1, g.Y, 1e-9)
	assert.InDelta(t, 0, g.Nx, 1e-9)
	assert.InDelta(t, 1, g.Ny, 1e-9)
}

func TestRelativeGlobalPoseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		a, b Pose
	}{
		{"identity base", NewPose(1, 1, 10), Pose{}},
		{"rotated base", NewPose(2, -1, -170), NewPose(0.5, 0.5, 120)},
		{"wrapping heading", NewPose(-4, 3, 179), NewPose(1, 2, -179)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel := RelativePose(tt.a, tt.b)
			got := GlobalPose(rel, tt.b)
			assert.InDelta(t, tt.a.Tx, got.Tx, 1e-9)
			assert.InDelta(t, tt.a.Ty, got.Ty, 1e-9)
			assert.InDelta(t, 0, NormalizeAngle(tt.a.Th-got.Th), 1e-9)
		})
	}
}

func TestRelativePose_WrapsHeading(t *testing.T) {
	rel := RelativePose(NewPose(0, 0, 179), NewPose(0, 0, -179))
	assert.InDelta(t, -2, rel.Th, 1e-9)
}

func TestCentroidAndDistance(t *testing.T) {
	assert.Equal(t, Point{}, Centroid(nil))
	c := Centroid([]Point{{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 2, Y: 2}, {X: 0, Y: 2}})
	assert.InDelta(t, 1, c.X, 1e-12)
	assert.InDelta(t, 1, c.Y, 1e-12)
	assert.InDelta(t, 5, Distance(Point{X: 0, Y: 0}, Point{X: 3, Y: 4}), 1e-12)
	assert.InDelta(t, 5, PoseDistance(NewPose(1, 1, 0), NewPose(4, 5, 90)), 1e-12)
}
