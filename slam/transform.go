package slam

import "math"

// DegToRad converts degrees to radians
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// RadToDeg converts radians to degrees
func RadToDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}

// NormalizeAngle maps an angle in degrees into (-180, 180].
func NormalizeAngle(degrees float64) float64 {
	degrees = math.Mod(degrees, 360)
	if degrees <= -180 {
		degrees += 360
	} else if degrees > 180 {
		degrees -= 360
	}
	return degrees
}

// AddAngle adds two headings and wraps the result
func AddAngle(a, b float64) float64 {
	return NormalizeAngle(a + b)
}

// NewPose builds a pose with its heading normalized
func NewPose(tx, ty, th float64) Pose {
	return Pose{Tx: tx, Ty: ty, Th: NormalizeAngle(th)}
}

// Global maps a point from this pose's local frame into the parent frame.
// The normal, when present, is rotated along with the point.
func (p Pose) Global(lp Point) Point {
	a := DegToRad(p.Th)
	cs, sn := math.Cos(a), math.Sin(a)
	gp := Point{
		X:    cs*lp.X - sn*lp.Y + p.Tx,
		Y:    sn*lp.X + cs*lp.Y + p.Ty,
		Type: lp.Type,
	}
	if lp.Nx != 0 || lp.Ny != 0 {
		gp.Nx = cs*lp.Nx - sn*lp.Ny
		gp.Ny = sn*lp.Nx + cs*lp.Ny
	}
	return gp
}

// GlobalPoints transforms a slice of local points
func (p Pose) GlobalPoints(lps []Point) []Point {
	out := make([]Point, len(lps))
	for i, lp := range lps {
		out[i] = p.Global(lp)
	}
	return out
}

// Local is the inverse of Global
func (p Pose) Local(gp Point) Point {
	a := DegToRad(p.Th)
	cs, sn := math.Cos(a), math.Sin(a)
	dx, dy := gp.X-p.Tx, gp.Y-p.Ty
	lp := Point{
		X:    cs*dx + sn*dy,
		Y:    -sn*dx + cs*dy,
		Type: gp.Type,
	}
	if gp.Nx != 0 || gp.Ny != 0 {
		lp.Nx = cs*gp.Nx + sn*gp.Ny
		lp.Ny = -sn*gp.Nx + cs*gp.Ny
	}
	return lp
}

// RelativePose expresses pose a in the frame of pose b
func RelativePose(a, b Pose) Pose {
	rb := DegToRad(b.Th)
	cs, sn := math.Cos(rb), math.Sin(rb)
	dx, dy := a.Tx-b.Tx, a.Ty-b.Ty
	return Pose{
		Tx: cs*dx + sn*dy,
		Ty: -sn*dx + cs*dy,
		Th: AddAngle(a.Th, -b.Th),
	}
}

// GlobalPose applies the relative motion rel to base
func GlobalPose(rel, base Pose) Pose {
	rb := DegToRad(base.Th)
	cs, sn := math.Cos(rb), math.Sin(rb)
	return Pose{
		Tx: cs*rel.Tx - sn*rel.Ty + base.Tx,
		Ty: sn*rel.Tx + cs*rel.Ty + base.Ty,
		Th: AddAngle(base.Th, rel.Th),
	}
}

// Distance returns the Euclidean distance between two points
func Distance(p1, p2 Point) float64 {
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// PoseDistance returns the planar distance between two pose origins
func PoseDistance(a, b Pose) float64 {
	return math.Hypot(a.Tx-b.Tx, a.Ty-b.Ty)
}

// Centroid calculates the centroid of a set of points
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}
	n := float64(len(points))
	return Point{X: sumX / n, Y: sumY / n}
}
