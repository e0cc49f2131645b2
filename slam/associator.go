package slam

// Correspondence pairs a scan point with a reference point by index
type Correspondence struct {
	Cur int // index into the scan's points
	Ref int // index into the reference base
}

// CorrespondenceSet is the output of one association pass. It refers into
// the scan and reference slices by index and is rebuilt on every pass.
type CorrespondenceSet struct {
	scan  []Point
	ref   []Point
	Pairs []Correspondence
}

// NewCorrespondenceSet builds a set from explicit pairs
func NewCorrespondenceSet(scan, ref []Point, pairs []Correspondence) *CorrespondenceSet {
	return &CorrespondenceSet{scan: scan, ref: ref, Pairs: pairs}
}

// Len returns the number of pairs
func (cs *CorrespondenceSet) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.Pairs)
}

// Cur returns the scan point of pair i (sensor frame)
func (cs *CorrespondenceSet) Cur(i int) Point {
	return cs.scan[cs.Pairs[i].Cur]
}

// Ref returns the reference point of pair i (map frame)
func (cs *CorrespondenceSet) Ref(i int) Point {
	return cs.ref[cs.Pairs[i].Ref]
}

// DataAssociator finds nearest-neighbour correspondences between a scan and
// a reference point set.
type DataAssociator struct {
	finder    NearestFinder
	ref       []Point
	threshold float64
	set       CorrespondenceSet
}

// NewDataAssociator creates an associator over the given index.
// A non-positive threshold uses 0.2.
func NewDataAssociator(finder NearestFinder, threshold float64) *DataAssociator {
	if threshold <= 0 {
		threshold = 0.2
	}
	return &DataAssociator{finder: finder, threshold: threshold}
}

// SetReferenceBase rebuilds the index over points. The slice is held, not copied.
func (da *DataAssociator) SetReferenceBase(points []Point) {
	da.ref = points
	da.finder.Build(points)
}

// ReferenceBase returns the current reference points
func (da *DataAssociator) ReferenceBase() []Point {
	return da.ref
}

// Threshold returns the correspondence distance limit
func (da *DataAssociator) Threshold() float64 {
	return da.threshold
}

// SetThreshold changes the correspondence distance limit
func (da *DataAssociator) SetThreshold(threshold float64) {
	if threshold > 0 {
		da.threshold = threshold
	}
}

// FindCorrespondence matches every scan point, placed by pred, against the
// reference base. The previous correspondence set is replaced. Returns the
// fraction of scan points that found a partner.
func (da *DataAssociator) FindCorrespondence(scan []Point, pred Pose) float64 {
	da.set = CorrespondenceSet{scan: scan, ref: da.ref, Pairs: da.set.Pairs[:0]}
	if len(scan) == 0 {
		return 0
	}
	for i, lp := range scan {
		gp := pred.Global(lp)
		if j, ok := da.finder.Nearest(gp, da.threshold); ok {
			da.set.Pairs = append(da.set.Pairs, Correspondence{Cur: i, Ref: j})
		}
	}
	return float64(len(da.set.Pairs)) / float64(len(scan))
}

// Correspondences returns the set from the last FindCorrespondence call.
// It is valid until the next call.
func (da *DataAssociator) Correspondences() *CorrespondenceSet {
	return &da.set
}
