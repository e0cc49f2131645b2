package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/scanslam/slam"
)

// App holds the state of one mapping run
type App struct {
	Opts      AppOptions
	Config    *slam.Config
	State     *slam.StateTracker
	FrontEnd  *slam.FrontEnd
	Source    *slam.MQTTScanSource
	Publisher *slam.Publisher
	out       io.Writer
}

// NewApp creates an App that prints progress to out
func NewApp(out io.Writer) *App {
	if out == nil {
		out = io.Discard
	}
	return &App{
		State: slam.NewStateTracker(),
		out:   out,
	}
}

// ApplyOptions stores the parsed command line
func (a *App) ApplyOptions(opts AppOptions) {
	a.Opts = opts
}

// loadConfig reads the config file, or defaults when none is given, then
// applies command line overrides
func (a *App) loadConfig() (*slam.Config, error) {
	cfg := slam.DefaultConfig()
	if a.Opts.ConfigFile != "" {
		loaded, err := slam.LoadConfig(a.Opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		log.Printf("Loaded config from %s", a.Opts.ConfigFile)
	}
	if a.Opts.Skip > 0 {
		cfg.Input.Skip = a.Opts.Skip
	}
	if a.Opts.HTTPPort > 0 {
		cfg.HTTP.Port = a.Opts.HTTPPort
	}
	a.Config = cfg
	return cfg, nil
}

func (a *App) newFrontEnd(cfg *slam.Config) error {
	fe, err := slam.NewFrontEnd(cfg)
	if err != nil {
		return fmt.Errorf("building front end: %w", err)
	}
	a.FrontEnd = fe
	return nil
}

// RunOffline maps a LASERSCAN file and writes the requested outputs
func (a *App) RunOffline() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := a.newFrontEnd(cfg); err != nil {
		return err
	}

	reader, err := slam.OpenScanFile(a.Opts.InputFile, cfg.Input)
	if err != nil {
		return err
	}
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Input.Skip > 0 {
		n, err := reader.Skip(ctx, cfg.Input.Skip)
		if err != nil {
			return fmt.Errorf("skipping scans: %w", err)
		}
		log.Printf("Skipped %d scans", n)
	}

	start := time.Now()
	n, err := a.consume(ctx, reader, nil)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no scans found in %s", a.Opts.InputFile)
	}
	a.State.Update(slam.SnapshotOf(a.FrontEnd))
	log.Printf("Mapped %d scans in %v", n, time.Since(start).Round(time.Millisecond))

	if err := a.writeOutputs(); err != nil {
		return err
	}
	return a.printSummary()
}

// consume feeds every scan from src through the front end. onStep, when
// set, sees each step after the state tracker.
func (a *App) consume(ctx context.Context, src slam.ScanSource, onStep func(slam.StepResult)) (int, error) {
	drawSkip := a.Opts.DrawSkip
	if drawSkip <= 0 {
		drawSkip = 10
	}
	n := 0
	for {
		scan, ok, err := src.LoadNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return n, nil
			}
			return n, fmt.Errorf("reading scan %d: %w", n, err)
		}
		if !ok {
			return n, nil
		}

		step, err := a.step(scan)
		if err != nil {
			return n, err
		}
		n++
		a.State.RecordStep(step)
		if n%drawSkip == 0 || step.Optimized != nil {
			a.State.Update(slam.SnapshotOf(a.FrontEnd))
		}
		if onStep != nil {
			onStep(step)
		}
	}
}

func (a *App) step(scan *slam.Scan) (slam.StepResult, error) {
	if a.Opts.OdometryOnly {
		pose := a.FrontEnd.MapByOdometry(scan)
		return slam.StepResult{
			Match: slam.MatchResult{
				ScanID:     scan.ID,
				Pose:       pose,
				Predicted:  pose,
				Accepted:   true,
				ScanPoints: len(scan.Points),
			},
			NodeID: a.FrontEnd.Count() - 1,
		}, nil
	}
	step, err := a.FrontEnd.Process(scan)
	if err != nil {
		return step, fmt.Errorf("scan %d: %w", scan.ID, err)
	}
	return step, nil
}

// writeOutputs renders the final snapshot to every requested file
func (a *App) writeOutputs() error {
	snap := a.State.Snapshot()
	render := a.Config.Render

	if path := a.Opts.OutputFile; path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		vr := slam.NewVectorRenderer(snap, render)
		switch strings.ToLower(filepath.Ext(path)) {
		case ".png":
			err = vr.RenderToPNG(f)
		default:
			err = vr.RenderToSVG(f)
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("rendering %s: %w", path, err)
		}
		fmt.Fprintf(a.out, "Map written to %s\n", path)
	}

	if path := a.Opts.RasterFile; path != "" {
		if err := slam.NewRasterRenderer(snap, render).SavePNG(path); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Raster map written to %s\n", path)
	}

	if path := a.Opts.GeoJSONFile; path != "" {
		if err := slam.SaveGeoJSON(snap, render.SimplifyTol, path); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "GeoJSON written to %s\n", path)
	}
	return nil
}

func (a *App) printSummary() error {
	snap := a.State.Snapshot()
	fmt.Fprintln(a.out, "\nRun Summary")
	fmt.Fprintln(a.out, "===========")
	fmt.Fprintf(a.out, "Poses:      %d\n", len(snap.Poses))
	fmt.Fprintf(a.out, "Map points: %d\n", len(snap.Points))
	fmt.Fprintf(a.out, "Loop arcs:  %d\n", len(snap.Loops))
	fmt.Fprintf(a.out, "Travelled:  %.2f m\n", snap.Travelled)
	if last, ok := snap.LastPose(); ok {
		fmt.Fprintf(a.out, "Final pose: (%.3f, %.3f) %.1f°\n", last.Tx, last.Ty, last.Th)
	}
	data, err := json.MarshalIndent(snap.Summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	fmt.Fprintf(a.out, "%s\n", data)
	return nil
}

// RunService consumes MQTT scans until interrupted, publishing poses and
// serving the live map over HTTP
func (a *App) RunService() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := a.newFrontEnd(cfg); err != nil {
		return err
	}

	src, err := slam.InitMQTT(cfg)
	if err != nil {
		return fmt.Errorf("initializing MQTT: %w", err)
	}
	if src == nil {
		return fmt.Errorf("service mode requires mqtt.broker or MQTT_BROKER")
	}
	a.Source = src
	a.Publisher = slam.NewPublisher(src.Client(), cfg.MQTT.PublishPrefix)
	a.Publisher.SetQoS(cfg.MQTT.QoS)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.HTTP.Port),
		Handler:           newHTTPServer(a.State, cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[HTTP] Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[HTTP] Server error: %v", err)
			stop()
		}
	}()

	fmt.Fprintln(a.out, "\nService Running")
	fmt.Fprintln(a.out, "===============")
	fmt.Fprintf(a.out, "  Scans from:  %s\n", cfg.MQTT.ScanTopic)
	fmt.Fprintf(a.out, "  Publishing:  %s/pose, %s/trajectory\n", cfg.MQTT.PublishPrefix, cfg.MQTT.PublishPrefix)
	fmt.Fprintf(a.out, "  Session:     %s\n", a.Publisher.Session())
	fmt.Fprintf(a.out, "\nHTTP endpoints (port %d):\n", cfg.HTTP.Port)
	fmt.Fprintln(a.out, "  GET /health             - Health check")
	fmt.Fprintln(a.out, "  GET /pose               - Latest pose")
	fmt.Fprintln(a.out, "  GET /map.svg            - Vector map")
	fmt.Fprintln(a.out, "  GET /map.png            - Raster map")
	fmt.Fprintln(a.out, "  GET /trajectory.geojson - Trajectory export")
	fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")

	n, err := a.serve(ctx, src)

	fmt.Fprintln(a.out, "\nShutting down service...")
	src.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Printf("[HTTP] Shutdown error: %v", serr)
	}
	received, dropped := src.Counts()
	fmt.Fprintf(a.out, "Service stopped after %d scans (%d received, %d dropped)\n", n, received, dropped)
	return err
}

// serve runs the mapping loop over src and publishes every step
func (a *App) serve(ctx context.Context, src slam.ScanSource) (int, error) {
	return a.consume(ctx, src, func(step slam.StepResult) {
		if a.Publisher == nil {
			return
		}
		if err := a.Publisher.PublishPose(step); err != nil {
			log.Printf("Error publishing pose: %v", err)
		}
		if step.Optimized != nil {
			snap := a.State.Snapshot()
			if err := a.Publisher.PublishTrajectory(snap.Poses, len(snap.Loops), snap.Travelled); err != nil {
				log.Printf("Error publishing trajectory: %v", err)
			}
		}
	})
}

// RunSimulate writes a synthetic LASERSCAN dataset of laps around a room
func (a *App) RunSimulate() error {
	laps := max(a.Opts.SimulateLaps, 1)
	sim := slam.NewSimulator(slam.NewRectRoom(8, 6), 1)
	sim.RangeNoise = 0.005
	sim.OdoNoiseXY = 0.005
	sim.OdoNoiseTh = 0.3
	scans := sim.Run(slam.LoopPath(5, 3, 0.1, 10, laps))

	f, err := os.Create(a.Opts.SimulateFile)
	if err != nil {
		return fmt.Errorf("creating %s: %w", a.Opts.SimulateFile, err)
	}
	defer f.Close()
	for _, s := range scans {
		if _, err := fmt.Fprintln(f, slam.FormatScanRecord(s)); err != nil {
			return fmt.Errorf("writing %s: %w", a.Opts.SimulateFile, err)
		}
	}
	fmt.Fprintf(a.out, "Wrote %d simulated scans to %s\n", len(scans), a.Opts.SimulateFile)
	return nil
}
