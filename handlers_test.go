package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kwv/scanslam/slam"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// populatedTracker returns a StateTracker with a small square trajectory,
// a few map points and one loop arc.
func populatedTracker() *slam.StateTracker {
	st := slam.NewStateTracker()
	st.Update(&slam.MapSnapshot{
		Poses: []slam.Pose{
			{Tx: 0, Ty: 0, Th: 0},
			{Tx: 1, Ty: 0, Th: 90},
			{Tx: 1, Ty: 1, Th: 180},
			{Tx: 0, Ty: 1, Th: -90},
		},
		Points: []slam.Point{
			{X: -1, Y: -1}, {X: 2, Y: -1}, {X: 2, Y: 2}, {X: -1, Y: 2},
		},
		Loops:     []slam.LoopEdge{{Src: 0, Dst: 3, Weight: 1}},
		Travelled: 3,
	})
	st.RecordStep(slam.StepResult{
		Match:  slam.MatchResult{ScanID: 3, Pose: slam.Pose{Tx: 0, Ty: 1, Th: -90}, Accepted: true},
		NodeID: 3,
	})
	return st
}

func serve(t *testing.T, st *slam.StateTracker, path string) *httptest.ResponseRecorder {
	t.Helper()
	handler := newHTTPServer(st, slam.DefaultConfig())
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// /health
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		tracker    *slam.StateTracker
		wantHasMap bool
		wantScans  int
	}{
		{"empty", slam.NewStateTracker(), false, 0},
		{"populated", populatedTracker(), true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, tt.tracker, "/health")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var body struct {
				Status string `json:"status"`
				Scans  int    `json:"scans"`
				HasMap bool   `json:"hasMap"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != "ok" || body.HasMap != tt.wantHasMap || body.Scans != tt.wantScans {
				t.Errorf("got %+v", body)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// empty tracker: every data endpoint is unavailable
// ---------------------------------------------------------------------------

func TestDataEndpoints_NoData(t *testing.T) {
	for _, path := range []string{"/pose", "/map.svg", "/map.png", "/trajectory.geojson"} {
		t.Run(path, func(t *testing.T) {
			rec := serve(t, slam.NewStateTracker(), path)
			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("%s status = %d, want 503", path, rec.Code)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// populated tracker
// ---------------------------------------------------------------------------

func TestPoseEndpoint(t *testing.T) {
	rec := serve(t, populatedTracker(), "/pose")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var step slam.StepResult
	if err := json.NewDecoder(rec.Body).Decode(&step); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if step.NodeID != 3 || step.Match.Pose.Th != -90 {
		t.Errorf("unexpected step %+v", step)
	}
}

func TestMapEndpoints(t *testing.T) {
	tests := []struct {
		path        string
		contentType string
		prefix      string
	}{
		{"/map.svg", "image/svg+xml", "<svg"},
		{"/map.png", "image/png", "\x89PNG"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(t, populatedTracker(), tt.path)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != tt.contentType {
				t.Errorf("Content-Type = %q, want %q", ct, tt.contentType)
			}
			if rec.Header().Get("Cache-Control") != "no-cache" {
				t.Error("expected Cache-Control no-cache")
			}
			if !strings.Contains(rec.Body.String(), tt.prefix) {
				t.Errorf("body does not contain %q", tt.prefix)
			}
		})
	}
}

func TestTrajectoryGeoJSONEndpoint(t *testing.T) {
	rec := serve(t, populatedTracker(), "/trajectory.geojson")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		t.Fatalf("type = %q", fc.Type)
	}
	kinds := map[string]string{}
	for _, f := range fc.Features {
		kinds[f.Properties["kind"].(string)] = f.Geometry.Type
	}
	want := map[string]string{
		slam.FeatureTrajectory: "LineString",
		slam.FeatureMapPoints:  "MultiPoint",
		slam.FeatureLoop:       "LineString",
	}
	for k, g := range want {
		if kinds[k] != g {
			t.Errorf("feature %s geometry = %q, want %q", k, kinds[k], g)
		}
	}
}

func TestUnknownPath(t *testing.T) {
	rec := serve(t, populatedTracker(), "/composite-map.png")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
