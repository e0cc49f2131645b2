package slam

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// Feature kinds written to the "kind" property
const (
	FeatureTrajectory = "trajectory"
	FeatureMapPoints  = "map"
	FeatureLoop       = "loop"
)

// ExportGeoJSON converts a snapshot into a FeatureCollection in map
// coordinates (meters). The trajectory is Douglas-Peucker simplified with
// tolerance; a non-positive tolerance keeps every pose.
func ExportGeoJSON(snap *MapSnapshot, tolerance float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if snap == nil {
		return fc
	}

	if len(snap.Poses) > 0 {
		ls := make(orb.LineString, len(snap.Poses))
		for i, p := range snap.Poses {
			ls[i] = orb.Point{p.Tx, p.Ty}
		}
		length := planar.Length(ls)
		if tolerance > 0 && len(ls) > 2 {
			if s, ok := simplify.DouglasPeucker(tolerance).Simplify(ls.Clone()).(orb.LineString); ok {
				ls = s
			}
		}
		f := geojson.NewFeature(ls)
		f.Properties = geojson.Properties{
			"kind":      FeatureTrajectory,
			"poses":     len(snap.Poses),
			"vertices":  len(ls),
			"length":    length,
			"travelled": snap.Travelled,
		}
		if last, ok := snap.LastPose(); ok {
			f.Properties["heading"] = last.Th
		}
		fc.Append(f)
	}

	if len(snap.Points) > 0 {
		mp := make(orb.MultiPoint, len(snap.Points))
		for i, p := range snap.Points {
			mp[i] = orb.Point{p.X, p.Y}
		}
		f := geojson.NewFeature(mp)
		f.Properties = geojson.Properties{
			"kind":   FeatureMapPoints,
			"points": len(mp),
		}
		fc.Append(f)
	}

	for _, l := range snap.Loops {
		if l.Src >= len(snap.Poses) || l.Dst >= len(snap.Poses) {
			continue
		}
		a, b := snap.Poses[l.Src], snap.Poses[l.Dst]
		f := geojson.NewFeature(orb.LineString{{a.Tx, a.Ty}, {b.Tx, b.Ty}})
		f.Properties = geojson.Properties{
			"kind":   FeatureLoop,
			"src":    l.Src,
			"dst":    l.Dst,
			"weight": l.Weight,
		}
		fc.Append(f)
	}
	return fc
}

// SaveGeoJSON writes the snapshot export to path
func SaveGeoJSON(snap *MapSnapshot, tolerance float64, path string) error {
	data, err := json.MarshalIndent(ExportGeoJSON(snap, tolerance), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal geojson: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write geojson: %w", err)
	}
	return nil
}
