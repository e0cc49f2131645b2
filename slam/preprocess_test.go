package slam

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResampler_EvenSpacing(t *testing.T) {
	// an uneven run along y=1 from x=0 to x=1.05
	in := []Point{{X: 0, Y: 1}, {X: 0.01, Y: 1}, {X: 0.02, Y: 1}, {X: 0.3, Y: 1}, {X: 0.31, Y: 1}, {X: 0.5, Y: 1}, {X: 1.05, Y: 1}}
	r := NewResampler(0.1, 1)
	out := r.Resample(in)

	require.Len(t, out, 11)
	for i, p := range out {
		assert.InDelta(t, 0.1*float64(i), p.X, 1e-9)
		assert.InDelta(t, 1, p.Y, 1e-12)
	}
}

func TestResampler_KeepsGaps(t *testing.T) {
	in := []Point{{X: 0, Y: 0}, {X: 0.05, Y: 0}, {X: 2, Y: 0}, {X: 2.05, Y: 0}}
	out := NewResampler(0.1, 0.25).Resample(in)

	// the far side of the gap is emitted as-is, nothing is interpolated inside it
	for _, p := range out {
		assert.False(t, p.X > 0.1 && p.X < 2, "point %v inside the gap", p)
	}
	assert.Contains(t, out, Point{X: 2, Y: 0})
	assert.Equal(t, Point{X: 0, Y: 0}, out[0])
}

func TestResampler_Edges(t *testing.T) {
	r := NewResampler(0, 0)
	assert.Equal(t, 0.05, r.Spacing)
	assert.Equal(t, 0.25, r.MaxGap)
	assert.Nil(t, r.Resample(nil))
	assert.Equal(t, []Point{{X: 1}}, r.Resample([]Point{{X: 1}}))
}

func TestNormalAnalyser_Classifies(t *testing.T) {
	// a wall at x=1 seen from the origin, then a corner into the wall y=1
	var pts []Point
	for y := -0.5; y < 1-1e-9; y += 0.1 {
		pts = append(pts, Point{X: 1, Y: y})
	}
	pts = append(pts, Point{X: 1, Y: 1})
	for x := 0.9; x > 0.4; x -= 0.1 {
		pts = append(pts, Point{X: x, Y: 1})
	}
	pts = append(pts, Point{X: -3, Y: 3}) // lone return

	a := NewNormalAnalyser(0.06, 0.5, 45)
	a.EstimateNormals(pts)

	first := pts[0]
	assert.Equal(t, PointLine, first.Type)
	assert.InDelta(t, -1, first.Nx, 1e-9, "normal faces the sensor")
	assert.InDelta(t, 0, first.Ny, 1e-9)

	corner := pts[15]
	require.Equal(t, Point{X: 1, Y: 1}, Point{X: corner.X, Y: corner.Y})
	assert.Equal(t, PointCorner, corner.Type)
	assert.False(t, corner.HasNormal())

	top := pts[17]
	assert.Equal(t, PointLine, top.Type)
	assert.InDelta(t, 0, top.Nx, 1e-9)
	assert.InDelta(t, -1, top.Ny, 1e-9)

	lone := pts[len(pts)-1]
	assert.Equal(t, PointIsolated, lone.Type)

	for _, p := range pts {
		if p.HasNormal() {
			assert.InDelta(t, 1, math.Hypot(p.Nx, p.Ny), 1e-9)
		}
	}
}

func TestPointTypeString(t *testing.T) {
	assert.Equal(t, "line", PointLine.String())
	assert.Equal(t, "corner", PointCorner.String())
	assert.Equal(t, "isolated", PointIsolated.String())
	assert.Equal(t, "unknown", PointUnknown.String())
}
