package slam

import "time"

// PointType classifies a scan point after normal estimation
type PointType int

const (
	PointUnknown  PointType = iota
	PointLine               // lies on a fitted local line, carries a normal
	PointCorner             // between two lines that disagree
	PointIsolated           // no usable neighbours
)

func (t PointType) String() string {
	switch t {
	case PointLine:
		return "line"
	case PointCorner:
		return "corner"
	case PointIsolated:
		return "isolated"
	default:
		return "unknown"
	}
}

// Point is a 2D laser sample. Nx, Ny hold the unit normal when Type is PointLine.
type Point struct {
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
	Type PointType `json:"type,omitempty"`
	Nx   float64   `json:"nx,omitempty"`
	Ny   float64   `json:"ny,omitempty"`
}

// HasNormal reports whether the point carries a directional constraint
func (p Point) HasNormal() bool {
	return p.Type == PointLine
}

// Pose is a 2D rigid transform. Th is in degrees, normalized to (-180, 180].
type Pose struct {
	Tx float64 `json:"tx"`
	Ty float64 `json:"ty"`
	Th float64 `json:"th"`
}

// Scan is one laser sweep with the odometry pose reported at acquisition.
// Points are in the sensor frame, ordered by beam angle.
type Scan struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Odometry  Pose      `json:"odometry"`
	Points    []Point   `json:"points"`
}

// Clone returns a deep copy so preprocessing never touches the caller's scan
func (s *Scan) Clone() *Scan {
	c := *s
	c.Points = make([]Point, len(s.Points))
	copy(c.Points, s.Points)
	return &c
}
