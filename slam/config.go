package slam

// Config is the full run configuration, loaded from YAML
type Config struct {
	Input     InputConfig     `yaml:"input" json:"input"`
	Index     IndexConfig     `yaml:"index" json:"index"`
	Matcher   MatcherConfig   `yaml:"matcher" json:"matcher"`
	Optimizer OptimizerConfig `yaml:"optimizer" json:"optimizer"`
	Fuser     FuserConfig     `yaml:"fuser" json:"fuser"`
	Map       MapConfig       `yaml:"map" json:"map"`
	Loop      LoopConfig      `yaml:"loop" json:"loop"`
	Graph     GraphConfig     `yaml:"graph" json:"graph"`
	MQTT      MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	Render    RenderConfig    `yaml:"render" json:"render"`
}

// InputConfig controls scan record decoding
type InputConfig struct {
	MinRange    float64 `yaml:"minRange" json:"minRange"`       // ranges at or below are dropped
	MaxRange    float64 `yaml:"maxRange" json:"maxRange"`       // ranges at or above are dropped
	AngleOffset float64 `yaml:"angleOffset" json:"angleOffset"` // degrees added to every beam angle
	Skip        int     `yaml:"skip" json:"skip"`               // records skipped before mapping starts
}

// IndexConfig selects the nearest-neighbour index
type IndexConfig struct {
	Kind       string  `yaml:"kind" json:"kind"` // "grid" or "tree"
	CellSize   float64 `yaml:"cellSize" json:"cellSize"`
	HalfExtent float64 `yaml:"halfExtent" json:"halfExtent"`
}

// MatcherConfig controls association, the ICP driver and preprocessing
type MatcherConfig struct {
	MatchThreshold       float64 `yaml:"matchThreshold" json:"matchThreshold"` // max correspondence distance
	MaxIterations        int     `yaml:"maxIterations" json:"maxIterations"`
	ConvergenceThreshold float64 `yaml:"convergenceThreshold" json:"convergenceThreshold"`
	ScoreThreshold       float64 `yaml:"scoreThreshold" json:"scoreThreshold"` // max cost per used point
	MinUsedPoints        int     `yaml:"minUsedPoints" json:"minUsedPoints"`

	Resample        bool    `yaml:"resample" json:"resample"`
	ResampleSpacing float64 `yaml:"resampleSpacing" json:"resampleSpacing"`
	ResampleGap     float64 `yaml:"resampleGap" json:"resampleGap"` // no interpolation across larger gaps

	EstimateNormals bool    `yaml:"estimateNormals" json:"estimateNormals"`
	NormalMinDist   float64 `yaml:"normalMinDist" json:"normalMinDist"`
	NormalMaxDist   float64 `yaml:"normalMaxDist" json:"normalMaxDist"`
	CornerAngle     float64 `yaml:"cornerAngle" json:"cornerAngle"` // degrees
}

// OptimizerConfig controls the inner Gauss-Newton loop
type OptimizerConfig struct {
	Kind                 string  `yaml:"kind" json:"kind"` // "gn" or "map"
	MaxSteps             int     `yaml:"maxSteps" json:"maxSteps"`
	ConvergenceThreshold float64 `yaml:"convergenceThreshold" json:"convergenceThreshold"`
	Robust               bool    `yaml:"robust" json:"robust"`
	Kernel               string  `yaml:"kernel" json:"kernel"` // "huber" or "tukey"
	RobustLimit          float64 `yaml:"robustLimit" json:"robustLimit"`
}

// FuserConfig holds the motion noise model and ICP covariance scale
type FuserConfig struct {
	DeltaT             float64 `yaml:"deltaT" json:"deltaT"`
	MinLinearVelocity  float64 `yaml:"minLinearVelocity" json:"minLinearVelocity"`
	MinAngularVelocity float64 `yaml:"minAngularVelocity" json:"minAngularVelocity"`
	LinearXCoeff       float64 `yaml:"linearXCoeff" json:"linearXCoeff"`
	LinearYCoeff       float64 `yaml:"linearYCoeff" json:"linearYCoeff"`
	AngularCoeff       float64 `yaml:"angularCoeff" json:"angularCoeff"`
	ICPCovScale        float64 `yaml:"icpCovScale" json:"icpCovScale"`
}

// MapConfig controls the point-cloud map and reference scan policy
type MapConfig struct {
	RefScan       string  `yaml:"refScan" json:"refScan"` // "last", "window" or "map"
	WindowSize    int     `yaml:"windowSize" json:"windowSize"`
	ThinCellSize  float64 `yaml:"thinCellSize" json:"thinCellSize"` // 0 disables thinning
	ThinMinPoints int     `yaml:"thinMinPoints" json:"thinMinPoints"`
}

// LoopConfig controls loop-closure detection
type LoopConfig struct {
	Enabled          bool    `yaml:"enabled" json:"enabled"`
	KeyframeSkip     int     `yaml:"keyframeSkip" json:"keyframeSkip"` // detection runs every N scans
	Radius           float64 `yaml:"radius" json:"radius"`             // max distance to a revisit candidate
	MinTravel        float64 `yaml:"minTravel" json:"minTravel"`       // travelled distance between candidate and current pose
	SubmapHalfWindow int     `yaml:"submapHalfWindow" json:"submapHalfWindow"`
	SearchRange      float64 `yaml:"searchRange" json:"searchRange"`
	SearchStep       float64 `yaml:"searchStep" json:"searchStep"`
	AngleRange       float64 `yaml:"angleRange" json:"angleRange"`
	AngleStep        float64 `yaml:"angleStep" json:"angleStep"`
	MinMatchRatio    float64 `yaml:"minMatchRatio" json:"minMatchRatio"`
	ScoreThreshold   float64 `yaml:"scoreThreshold" json:"scoreThreshold"`
	MinUsedPoints    int     `yaml:"minUsedPoints" json:"minUsedPoints"`
}

// GraphConfig controls the robust pose-graph back end
type GraphConfig struct {
	Robust          bool    `yaml:"robust" json:"robust"`
	Phi             float64 `yaml:"phi" json:"phi"`
	Iterations      int     `yaml:"iterations" json:"iterations"`
	DenseLimit      int     `yaml:"denseLimit" json:"denseLimit"` // larger graphs use the sparse solver
	InjectLoopNoise bool    `yaml:"injectLoopNoise" json:"injectLoopNoise"`
}

// MQTTConfig holds MQTT broker settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username" json:"username"`
	Password      string `yaml:"password" json:"password"`
	ScanTopic     string `yaml:"scanTopic" json:"scanTopic"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	QoS           byte   `yaml:"qos" json:"qos"`
}

// HTTPConfig holds the report server settings
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// RenderConfig controls map rendering
type RenderConfig struct {
	PixelsPerMeter float64 `yaml:"pixelsPerMeter" json:"pixelsPerMeter"`
	Margin         float64 `yaml:"margin" json:"margin"` // meters around the map bounds
	PointRadius    float64 `yaml:"pointRadius" json:"pointRadius"`
	ShowLoops      bool    `yaml:"showLoops" json:"showLoops"`
	SimplifyTol    float64 `yaml:"simplifyTolerance" json:"simplifyTolerance"` // GeoJSON trajectory
}

// DefaultConfig returns the settings used when no config file is given
func DefaultConfig() *Config {
	return &Config{
		Input: InputConfig{
			MinRange: 0.1,
			MaxRange: 6.0,
		},
		Index: IndexConfig{
			Kind:       IndexGrid,
			CellSize:   0.05,
			HalfExtent: 40,
		},
		Matcher: MatcherConfig{
			MatchThreshold:       0.2,
			MaxIterations:        100,
			ConvergenceThreshold: 1e-6,
			ScoreThreshold:       0.01,
			MinUsedPoints:        50,
			Resample:             true,
			ResampleSpacing:      0.05,
			ResampleGap:          0.25,
			EstimateNormals:      true,
			NormalMinDist:        0.06,
			NormalMaxDist:        1.0,
			CornerAngle:          45,
		},
		Optimizer: DefaultOptimizerConfig(),
		Fuser:     DefaultFuserConfig(),
		Map: MapConfig{
			RefScan:       RefScanWindow,
			WindowSize:    10,
			ThinCellSize:  0.05,
			ThinMinPoints: 1,
		},
		Loop: LoopConfig{
			Enabled:          true,
			KeyframeSkip:     10,
			Radius:           4,
			MinTravel:        10,
			SubmapHalfWindow: 10,
			SearchRange:      0.4,
			SearchStep:       0.2,
			AngleRange:       6,
			AngleStep:        3,
			MinMatchRatio:    0.8,
			ScoreThreshold:   0.005,
			MinUsedPoints:    50,
		},
		Graph: GraphConfig{
			Robust:     true,
			Phi:        1,
			Iterations: 5,
			DenseLimit: 600,
		},
		MQTT: MQTTConfig{
			ScanTopic:     "scanslam/scan",
			PublishPrefix: "scanslam",
		},
		HTTP: HTTPConfig{Port: 4040},
		Render: RenderConfig{
			PixelsPerMeter: 40,
			Margin:         1,
			PointRadius:    0.03,
			ShowLoops:      true,
			SimplifyTol:    0.02,
		},
	}
}

// DefaultOptimizerConfig returns the Gauss-Newton defaults
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		Kind:                 OptimizerMAP,
		MaxSteps:             10,
		ConvergenceThreshold: 1e-6,
		Robust:               true,
		Kernel:               KernelHuber,
		RobustLimit:          0.05,
	}
}

// DefaultFuserConfig returns the motion noise model defaults
func DefaultFuserConfig() FuserConfig {
	return FuserConfig{
		DeltaT:             0.1,
		MinLinearVelocity:  0.02,
		MinAngularVelocity: 0.05,
		LinearXCoeff:       0.001,
		LinearYCoeff:       0.005,
		AngularCoeff:       0.05,
		ICPCovScale:        0.1,
	}
}
