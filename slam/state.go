package slam

import (
	"sync"
	"time"
)

// LoopEdge is a loop-closure arc in a snapshot
type LoopEdge struct {
	Src    int     `json:"src"`
	Dst    int     `json:"dst"`
	Weight float64 `json:"weight"` // switch weight from the last optimization
}

// MapSnapshot is an immutable copy of the mapping state for readers
type MapSnapshot struct {
	Poses     []Pose     `json:"poses"`
	Points    []Point    `json:"points"`
	Loops     []LoopEdge `json:"loops"`
	Travelled float64    `json:"travelled"`
	Summary   Summary    `json:"summary"`
	Updated   time.Time  `json:"updated"`
}

// LastPose returns the newest pose, or false for an empty snapshot
func (s *MapSnapshot) LastPose() (Pose, bool) {
	if s == nil || len(s.Poses) == 0 {
		return Pose{}, false
	}
	return s.Poses[len(s.Poses)-1], true
}

// SnapshotOf copies the front end's trajectory, thinned map and loop arcs
func SnapshotOf(fe *FrontEnd) *MapSnapshot {
	snap := &MapSnapshot{
		Poses:   fe.Map.Poses(),
		Points:  fe.Map.thin(fe.Map.AllPoints()),
		Summary: fe.Stats.Summary(),
		Updated: time.Now(),
	}
	if n := fe.Map.Len(); n > 0 {
		snap.Travelled = fe.Map.AccumulatedDistance(n - 1)
	}
	for i := range fe.Graph.Arcs {
		a := &fe.Graph.Arcs[i]
		if a.IsLoop() {
			snap.Loops = append(snap.Loops, LoopEdge{Src: a.Src, Dst: a.Dst, Weight: a.SwitchWeight})
		}
	}
	return snap
}

// StateTracker holds the latest snapshot and step for HTTP handlers
type StateTracker struct {
	mu       sync.RWMutex
	snapshot *MapSnapshot
	last     *StepResult
	steps    int
}

// NewStateTracker creates an empty tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{}
}

// RecordStep stores the result of the newest scan
func (st *StateTracker) RecordStep(step StepResult) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.last = &step
	st.steps++
}

// Update replaces the snapshot
func (st *StateTracker) Update(snap *MapSnapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.snapshot = snap
}

// Snapshot returns the latest snapshot, or nil before the first update
func (st *StateTracker) Snapshot() *MapSnapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snapshot
}

// LastStep returns the newest step result
func (st *StateTracker) LastStep() (StepResult, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.last == nil {
		return StepResult{}, false
	}
	return *st.last, true
}

// Steps returns how many scans were recorded
func (st *StateTracker) Steps() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.steps
}
