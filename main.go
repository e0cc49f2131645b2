package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions carries the parsed command line
type AppOptions struct {
	ConfigFile   string
	InputFile    string
	Skip         int
	DrawSkip     int
	OdometryOnly bool
	OutputFile   string
	GeoJSONFile  string
	RasterFile   string
	SimulateFile string
	SimulateLaps int
	Service      bool
	HTTPPort     int
}

// Runner is the application surface driven by run
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunOffline() error
	RunService() error
	RunSimulate() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal(err)
	}
}

// run parses args and dispatches to the selected mode
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("scanslam", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "", "Path to YAML configuration file (defaults apply when empty)")
	fs.StringVar(&opts.InputFile, "input", "", "LASERSCAN file to map offline")
	fs.IntVar(&opts.Skip, "skip", 0, "Scan records to skip before mapping (overrides input.skip)")
	fs.IntVar(&opts.DrawSkip, "draw-skip", 10, "Refresh the map snapshot every N scans")
	fs.BoolVar(&opts.OdometryOnly, "odometry-only", false, "Place scans by odometry without matching")
	fs.StringVar(&opts.OutputFile, "output", "", "Vector map output (.svg or .png)")
	fs.StringVar(&opts.GeoJSONFile, "geojson", "", "GeoJSON export of trajectory, map and loops")
	fs.StringVar(&opts.RasterFile, "raster", "", "Raster PNG with legend")
	fs.StringVar(&opts.SimulateFile, "simulate", "", "Write a simulated LASERSCAN dataset to this file and exit")
	fs.IntVar(&opts.SimulateLaps, "simulate-laps", 2, "Laps around the simulated room")
	fs.BoolVar(&opts.Service, "service", false, "Consume scans from MQTT and serve HTTP")
	fs.IntVar(&opts.HTTPPort, "http-port", 0, "HTTP server port (overrides http.port)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "scanslam version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.SimulateFile != "":
		return app.RunSimulate()
	case opts.Service:
		return app.RunService()
	case opts.InputFile != "":
		return app.RunOffline()
	}

	fmt.Fprintln(out, "Nothing to do.")
	fmt.Fprintln(out, "Use -input=FILE to map a LASERSCAN log")
	fmt.Fprintln(out, "Use -service to map scans received over MQTT")
	fmt.Fprintln(out, "Use -simulate=FILE to generate a test dataset")
	return nil
}
