package slam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// perimeterMap walks the edge of a 3 m square in 1 m steps and ends 0.2 m
// short of the start
func perimeterMap() *PointCloudMap {
	m := NewPointCloudMap(MapConfig{})
	for _, p := range []Pose{
		NewPose(0, 0, 0), NewPose(1, 0, 0), NewPose(2, 0, 0), NewPose(3, 0, 0),
		NewPose(3, 1, 90), NewPose(3, 2, 90), NewPose(3, 3, 90),
		NewPose(2, 3, 180), NewPose(1, 3, 180), NewPose(0, 3, 180),
		NewPose(0, 2, -90), NewPose(0, 1, -90), NewPose(0, 0.2, -90),
	} {
		m.AddPose(p)
	}
	return m
}

func TestLoopDetector_FindCandidate(t *testing.T) {
	m := perimeterMap()
	tests := []struct {
		name   string
		cfg    LoopConfig
		curID  int
		want   int
		wantOK bool
	}{
		{"closest old pose", LoopConfig{Radius: 1, MinTravel: 5}, 12, 0, true},
		{"recent poses are skipped", LoopConfig{Radius: 1, MinTravel: 12}, 12, -1, false},
		{"too far away", LoopConfig{Radius: 0.1, MinTravel: 5}, 12, -1, false},
		{"not enough travel", LoopConfig{Radius: 10, MinTravel: 5}, 3, -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewLoopDetector(tt.cfg, MatcherConfig{}, OptimizerConfig{}, m, NewPoseGraph(), nil)
			got, ok := d.FindCandidate(tt.curID, m.poses[tt.curID])
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// lapFixture maps one lap at the true poses, except the final scan which is
// placed at a drifted pose
type lapFixture struct {
	truth   []Pose
	drifted Pose
	m       *PointCloudMap
	g       *PoseGraph
	det     *LoopDetector
	sm      *ScanMatcher
}

func newLapFixture(t *testing.T) *lapFixture {
	t.Helper()
	cfg := DefaultConfig()
	truth := LoopPath(5, 3, 0.1, 10, 1)
	end := len(truth) - 1
	drifted := NewPose(truth[end].Tx+0.15, truth[end].Ty-0.1, truth[end].Th+3)

	m := NewPointCloudMap(cfg.Map)
	sm, err := NewScanMatcher(cfg, m)
	require.NoError(t, err)
	g := NewPoseGraph()
	sim := NewSimulator(NewRectRoom(8, 6), 5)

	for i, p := range truth {
		placed := p
		if i == end {
			placed = drifted
		}
		scan := sm.Preprocess(&Scan{ID: i, Points: sim.ScanAt(p)})
		m.AddPose(placed)
		m.AddPoints(placed.GlobalPoints(scan.Points))
		g.AddNode(placed)
	}
	fuser := NewPoseFuser(cfg.Fuser, nil)
	return &lapFixture{
		truth:   truth,
		drifted: drifted,
		m:       m,
		g:       g,
		sm:      sm,
		det:     NewLoopDetector(cfg.Loop, cfg.Matcher, cfg.Optimizer, m, g, fuser),
	}
}

func TestLoopDetector_RecoversRevisitPose(t *testing.T) {
	f := newLapFixture(t)
	end := len(f.truth) - 1
	sim := NewSimulator(NewRectRoom(8, 6), 5)
	scan := f.sm.Preprocess(&Scan{Points: sim.ScanAt(f.truth[end])})

	info, ok := f.det.DetectLoop(scan.Points, end, f.drifted)
	require.True(t, ok)
	assert.Equal(t, 0, info.RefID)
	assert.Equal(t, end, info.CurID)
	assertPoseNear(t, f.truth[end], info.Pose, 0.03, 0.5)
	assert.NotNil(t, info.Cov)
	assert.GreaterOrEqual(t, info.Result.MatchRatio, 0.8)

	idx, found := f.g.FindArc(0, end)
	require.True(t, found)
	arc := f.g.Arcs[idx]
	assert.True(t, arc.IsLoop())
	assert.Equal(t, 1, f.g.LoopArcCount())
	assertPoseNear(t, RelativePose(f.truth[end], f.truth[0]), arc.Rel, 0.03, 0.5)
}

func TestLoopDetector_RejectsForeignScan(t *testing.T) {
	f := newLapFixture(t)
	end := len(f.truth) - 1
	sim := NewSimulator(NewRectRoom(8, 6), 5)

	// a view from the middle of the room facing up, claimed to be at the start
	scan := f.sm.Preprocess(&Scan{Points: sim.ScanAt(NewPose(0.5, 0.5, 90))})
	_, ok := f.det.DetectLoop(scan.Points, end, f.drifted)
	assert.False(t, ok)
	assert.Zero(t, f.g.LoopArcCount())
}

func TestLoopDetector_UnknownNode(t *testing.T) {
	f := newLapFixture(t)
	end := len(f.truth) - 1
	err := f.det.addLoopArc(LoopInfo{RefID: 0, CurID: end + 5, Pose: f.drifted, Cov: diag3(1, 1, 1)})
	assert.ErrorIs(t, err, ErrUnknownNode)
}
