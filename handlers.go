package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/kwv/scanslam/slam"
)

// newHTTPServer creates an HTTP handler with all endpoints
func newHTTPServer(state *slam.StateTracker, cfg *slam.Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Scans     int       `json:"scans"`
			HasMap    bool      `json:"hasMap"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Scans:     state.Steps(),
			HasMap:    state.Snapshot() != nil,
		}
		writeJSON(w, status)
	})

	mux.HandleFunc("/pose", func(w http.ResponseWriter, r *http.Request) {
		step, ok := state.LastStep()
		if !ok {
			http.Error(w, "No pose available", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, step)
	})

	mux.HandleFunc("/map.svg", func(w http.ResponseWriter, r *http.Request) {
		snap := state.Snapshot()
		if snap == nil {
			http.Error(w, "No map available", http.StatusServiceUnavailable)
			return
		}
		var buf bytes.Buffer
		if err := slam.NewVectorRenderer(snap, cfg.Render).RenderToSVG(&buf); err != nil {
			log.Printf("Error rendering SVG: %v", err)
			http.Error(w, "Failed to render map", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(buf.Bytes()); err != nil {
			log.Printf("Error writing SVG: %v", err)
		}
	})

	mux.HandleFunc("/map.png", func(w http.ResponseWriter, r *http.Request) {
		snap := state.Snapshot()
		if snap == nil {
			http.Error(w, "No map available", http.StatusServiceUnavailable)
			return
		}
		img, err := slam.NewRasterRenderer(snap, cfg.Render).Render()
		if err != nil {
			log.Printf("Error rendering PNG: %v", err)
			http.Error(w, "Failed to render map", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := png.Encode(w, img); err != nil {
			log.Printf("Error encoding PNG: %v", err)
		}
	})

	mux.HandleFunc("/trajectory.geojson", func(w http.ResponseWriter, r *http.Request) {
		snap := state.Snapshot()
		if snap == nil {
			http.Error(w, "No map available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		if err := json.NewEncoder(w).Encode(slam.ExportGeoJSON(snap, cfg.Render.SimplifyTol)); err != nil {
			log.Printf("Error encoding GeoJSON: %v", err)
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON: %v", err)
	}
}
