package slam

import "math"

// Resampler evens out point spacing along a scan
type Resampler struct {
	Spacing float64 // target distance between consecutive points
	MaxGap  float64 // gaps at least this long are not bridged
}

// NewResampler returns a resampler; non-positive values use 0.05 and 0.25
func NewResampler(spacing, maxGap float64) *Resampler {
	if spacing <= 0 {
		spacing = 0.05
	}
	if maxGap <= 0 {
		maxGap = 0.25
	}
	return &Resampler{Spacing: spacing, MaxGap: maxGap}
}

// Resample walks the scan and emits a point every Spacing of path length,
// interpolating between samples. Across a gap of MaxGap or more the far
// sample is emitted as-is.
func (r *Resampler) Resample(points []Point) []Point {
	if len(points) == 0 {
		return nil
	}
	out := make([]Point, 0, len(points))
	prev := points[0]
	out = append(out, prev)
	travelled := 0.0

	for i := 1; i < len(points); {
		cur := points[i]
		l := Distance(prev, cur)
		switch {
		case travelled+l < r.Spacing:
			travelled += l
			prev = cur
			i++
		case travelled+l >= r.MaxGap:
			out = append(out, cur)
			prev = cur
			travelled = 0
			i++
		default:
			t := (r.Spacing - travelled) / l
			np := Point{X: prev.X + t*(cur.X-prev.X), Y: prev.Y + t*(cur.Y-prev.Y)}
			out = append(out, np)
			prev = np
			travelled = 0
		}
	}
	return out
}

// NormalAnalyser classifies points and assigns line normals from their
// neighbours along the scan.
type NormalAnalyser struct {
	MinDist     float64 // nearest neighbour distance used for a normal
	MaxDist     float64 // search stops past this distance
	CornerAngle float64 // degrees between side normals beyond which a point is a corner
}

// NewNormalAnalyser returns an analyser; non-positive values use 0.06, 1.0 and 45°
func NewNormalAnalyser(minDist, maxDist, cornerAngle float64) *NormalAnalyser {
	if minDist <= 0 {
		minDist = 0.06
	}
	if maxDist <= 0 {
		maxDist = 1.0
	}
	if cornerAngle <= 0 {
		cornerAngle = 45
	}
	return &NormalAnalyser{MinDist: minDist, MaxDist: maxDist, CornerAngle: cornerAngle}
}

// EstimateNormals sets Type and, for line points, the unit normal facing
// the sensor origin. Points are modified in place.
func (a *NormalAnalyser) EstimateNormals(points []Point) {
	cosLimit := math.Cos(DegToRad(a.CornerAngle))
	for i := range points {
		nl, okL := a.sideNormal(points, i, -1)
		nr, okR := a.sideNormal(points, i, 1)
		p := &points[i]
		switch {
		case okL && okR:
			if nl[0]*nr[0]+nl[1]*nr[1] >= cosLimit {
				nx, ny := nl[0]+nr[0], nl[1]+nr[1]
				l := math.Hypot(nx, ny)
				p.Type, p.Nx, p.Ny = PointLine, nx/l, ny/l
			} else {
				p.Type, p.Nx, p.Ny = PointCorner, 0, 0
			}
		case okL:
			p.Type, p.Nx, p.Ny = PointLine, nl[0], nl[1]
		case okR:
			p.Type, p.Nx, p.Ny = PointLine, nr[0], nr[1]
		default:
			p.Type, p.Nx, p.Ny = PointIsolated, 0, 0
		}
	}
}

// sideNormal finds the first neighbour in direction dir lying between
// MinDist and MaxDist and returns the normal of the segment to it.
func (a *NormalAnalyser) sideNormal(points []Point, idx, dir int) ([2]float64, bool) {
	cp := points[idx]
	for i := idx + dir; i >= 0 && i < len(points); i += dir {
		d := Distance(cp, points[i])
		if d > a.MaxDist {
			break
		}
		if d < a.MinDist {
			continue
		}
		nx := (points[i].Y - cp.Y) / d
		ny := -(points[i].X - cp.X) / d
		if nx*cp.X+ny*cp.Y > 0 {
			nx, ny = -nx, -ny
		}
		return [2]float64{nx, ny}, true
	}
	return [2]float64{}, false
}
