package slam

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads a YAML config file. Keys that are absent keep their
// DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// Validate reports every out-of-range setting
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Input.MinRange >= 0, "input.minRange must be >= 0")
	check(c.Input.MaxRange == 0 || c.Input.MaxRange > c.Input.MinRange, "input.maxRange must exceed input.minRange")
	check(c.Input.Skip >= 0, "input.skip must be >= 0")

	check(c.Index.Kind == IndexGrid || c.Index.Kind == IndexTree, "index.kind must be %q or %q, got %q", IndexGrid, IndexTree, c.Index.Kind)
	check(c.Index.Kind != IndexGrid || c.Index.CellSize > 0, "index.cellSize must be > 0")
	check(c.Index.Kind != IndexGrid || c.Index.HalfExtent > 0, "index.halfExtent must be > 0")

	check(c.Matcher.MatchThreshold > 0, "matcher.matchThreshold must be > 0")
	check(c.Matcher.MaxIterations > 0, "matcher.maxIterations must be > 0")
	check(!c.Matcher.Resample || c.Matcher.ResampleSpacing > 0, "matcher.resampleSpacing must be > 0")

	check(c.Optimizer.Kind == OptimizerGN || c.Optimizer.Kind == OptimizerMAP, "optimizer.kind must be %q or %q, got %q", OptimizerGN, OptimizerMAP, c.Optimizer.Kind)
	check(c.Optimizer.Kernel == KernelHuber || c.Optimizer.Kernel == KernelTukey, "optimizer.kernel must be %q or %q, got %q", KernelHuber, KernelTukey, c.Optimizer.Kernel)
	check(c.Optimizer.MaxSteps > 0, "optimizer.maxSteps must be > 0")

	check(c.Fuser.DeltaT > 0, "fuser.deltaT must be > 0")
	check(c.Fuser.ICPCovScale > 0, "fuser.icpCovScale must be > 0")

	switch c.Map.RefScan {
	case RefScanLast, RefScanMap:
	case RefScanWindow:
		check(c.Map.WindowSize > 0, "map.windowSize must be > 0")
	default:
		errs = append(errs, fmt.Errorf("map.refScan must be one of %q, %q, %q, got %q", RefScanLast, RefScanWindow, RefScanMap, c.Map.RefScan))
	}
	check(c.Map.ThinCellSize >= 0, "map.thinCellSize must be >= 0")

	if c.Loop.Enabled {
		check(c.Loop.KeyframeSkip > 0, "loop.keyframeSkip must be > 0")
		check(c.Loop.Radius > 0, "loop.radius must be > 0")
		check(c.Loop.MinMatchRatio >= 0 && c.Loop.MinMatchRatio <= 1, "loop.minMatchRatio must be in [0, 1]")
	}

	check(c.Graph.Phi > 0, "graph.phi must be > 0")
	check(c.Graph.Iterations > 0, "graph.iterations must be > 0")

	check(c.HTTP.Port >= 0 && c.HTTP.Port < 65536, "http.port out of range: %d", c.HTTP.Port)
	check(c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1 or 2")
	check(c.Render.PixelsPerMeter > 0, "render.pixelsPerMeter must be > 0")

	return errors.Join(errs...)
}

// SaveConfig writes the configuration as YAML
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
