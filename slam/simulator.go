package slam

import (
	"math"
	"math/rand/v2"
	"time"
)

// Wall is a line segment obstacle
type Wall struct {
	A, B Point
}

// Room is a set of walls the simulator casts rays against
type Room struct {
	Walls []Wall
}

// box appends the four sides of an axis-aligned rectangle
func (r *Room) box(x0, y0, x1, y1 float64) {
	c := []Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
	for i := range c {
		r.Walls = append(r.Walls, Wall{A: c[i], B: c[(i+1)%4]})
	}
}

// NewRectRoom returns a w by h room centred on the origin with two pillars
// and a short partition so no view is rotationally symmetric.
func NewRectRoom(w, h float64) Room {
	var r Room
	r.box(-w/2, -h/2, w/2, h/2)
	r.box(-w/4-0.2, -0.2, -w/4+0.2, 0.2)
	r.box(w/4-0.15, h/8-0.3, w/4+0.15, h/8+0.3)
	r.Walls = append(r.Walls, Wall{A: Point{X: -w / 2, Y: h / 4}, B: Point{X: -w/2 + 0.8, Y: h / 4}})
	return r
}

// Simulator produces laser scans with noisy odometry inside a Room
type Simulator struct {
	Room       Room
	Beams      int
	FOV        float64 // degrees
	MaxRange   float64
	RangeNoise float64 // std dev, meters
	OdoNoiseXY float64 // std dev per step, meters
	OdoNoiseTh float64 // std dev per step, degrees
	Period     time.Duration
	rng        *rand.Rand
}

// NewSimulator returns a 360 beam, 270 degree scanner with a fixed seed
func NewSimulator(room Room, seed uint64) *Simulator {
	return &Simulator{
		Room:     room,
		Beams:    360,
		FOV:      270,
		MaxRange: 5.9,
		Period:   100 * time.Millisecond,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// ScanAt casts every beam from truth and returns sensor-frame hits
func (s *Simulator) ScanAt(truth Pose) []Point {
	beams := max(s.Beams, 2)
	points := make([]Point, 0, beams)
	for i := 0; i < beams; i++ {
		a := -s.FOV/2 + s.FOV*float64(i)/float64(beams-1)
		rad := DegToRad(truth.Th + a)
		d, ok := s.cast(truth.Tx, truth.Ty, math.Cos(rad), math.Sin(rad))
		if !ok {
			continue
		}
		if s.RangeNoise > 0 {
			d += s.rng.NormFloat64() * s.RangeNoise
		}
		la := DegToRad(a)
		points = append(points, Point{X: d * math.Cos(la), Y: d * math.Sin(la)})
	}
	return points
}

// cast returns the distance to the nearest wall along (dx, dy)
func (s *Simulator) cast(ox, oy, dx, dy float64) (float64, bool) {
	best := math.Inf(1)
	for _, w := range s.Room.Walls {
		ex, ey := w.B.X-w.A.X, w.B.Y-w.A.Y
		den := dx*ey - dy*ex
		if math.Abs(den) < 1e-12 {
			continue
		}
		ax, ay := w.A.X-ox, w.A.Y-oy
		t := (ax*ey - ay*ex) / den
		u := (ax*dy - ay*dx) / den
		if t > 1e-9 && u >= 0 && u <= 1 && t < best {
			best = t
		}
	}
	return best, best <= s.MaxRange
}

// Run scans along truth and integrates noisy odometry from the true motion.
// The first odometry reading equals the first true pose.
func (s *Simulator) Run(truth []Pose) []*Scan {
	scans := make([]*Scan, len(truth))
	start := time.Unix(1_700_000_000, 0)
	var odo Pose
	for i, p := range truth {
		if i == 0 {
			odo = p
		} else {
			rel := RelativePose(p, truth[i-1])
			if s.OdoNoiseXY > 0 {
				rel.Tx += s.rng.NormFloat64() * s.OdoNoiseXY
				rel.Ty += s.rng.NormFloat64() * s.OdoNoiseXY
			}
			if s.OdoNoiseTh > 0 {
				rel.Th += s.rng.NormFloat64() * s.OdoNoiseTh
			}
			odo = GlobalPose(rel, odo)
		}
		scans[i] = &Scan{
			ID:        i,
			Timestamp: start.Add(time.Duration(i) * s.Period),
			Odometry:  odo,
			Points:    s.ScanAt(p),
		}
	}
	return scans
}

// LoopPath drives laps around a w by h rectangle centred on the origin,
// counter-clockwise, step meters per scan, turning in place at corners in
// turnStep degree increments.
func LoopPath(w, h, step, turnStep float64, laps int) []Pose {
	corners := []Point{{X: -w / 2, Y: -h / 2}, {X: w / 2, Y: -h / 2}, {X: w / 2, Y: h / 2}, {X: -w / 2, Y: h / 2}}
	heading := 0.0
	path := []Pose{NewPose(corners[0].X, corners[0].Y, heading)}
	for lap := 0; lap < laps; lap++ {
		for i := range corners {
			a, b := corners[i], corners[(i+1)%4]
			n := int(math.Ceil(Distance(a, b) / step))
			for k := 1; k <= n; k++ {
				f := float64(k) / float64(n)
				path = append(path, NewPose(a.X+f*(b.X-a.X), a.Y+f*(b.Y-a.Y), heading))
			}
			for turned := 0.0; turned < 90-1e-9; turned += turnStep {
				heading = AddAngle(heading, math.Min(turnStep, 90-turned))
				path = append(path, NewPose(b.X, b.Y, heading))
			}
		}
	}
	return path
}
