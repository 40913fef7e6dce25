package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/markfickett/dicehistogram/locator"
	"github.com/markfickett/dicehistogram/utils"
	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// FileNames are searched in the data directory when no config file is named
var FileNames = []string{"dicehistogram.yaml", "dicehistogram.yml", "dicehistogram.toml"}

// Detectors are the accepted feature detector names
var Detectors = []string{"akaze", "orb", "brisk"}

// Float is a float64 that also accepts "inf" in config files
type Float float64

// UnmarshalText implements encoding.TextUnmarshaler, used by TOML
func (f *Float) UnmarshalText(text []byte) error {
	v, err := utils.ParseFloatOrInf(strings.TrimPrefix(string(text), "."))
	if err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (f *Float) UnmarshalYAML(node *yaml.Node) error {
	return f.UnmarshalText([]byte(node.Value))
}

// String formats the value, with +Inf as "inf"
func (f Float) String() string {
	return utils.FormatFloatOrInf(float64(f))
}

// Config holds every stage's settings
type Config struct {
	Database string `yaml:"database" toml:"database"`
	LogFile  string `yaml:"log_file" toml:"log_file"`
	Debug    bool   `yaml:"debug" toml:"debug"`
	// Workers is the size of worker pools; 0 picks from the CPU count.
	Workers   int             `yaml:"workers" toml:"workers" default:"0"`
	Crop      CropConfig      `yaml:"crop" toml:"crop"`
	Group     GroupConfig     `yaml:"group" toml:"group"`
	Label     LabelConfig     `yaml:"label" toml:"label"`
	Summarize SummarizeConfig `yaml:"summarize" toml:"summarize"`
}

// CropConfig holds crop stage settings. Distances are full-resolution pixels.
type CropConfig struct {
	CaptureDir       string  `yaml:"capture_dir" toml:"capture_dir" default:"capture"`
	CropDir          string  `yaml:"crop_dir" toml:"crop_dir" default:"crop"`
	Reference        string  `yaml:"reference" toml:"reference" default:"reference.JPG"`
	Mask             string  `yaml:"mask" toml:"mask" default:"mask.JPG"`
	ScanDistance     int     `yaml:"scan_distance" toml:"scan_distance" default:"400"`
	DiffThreshold    int     `yaml:"diff_threshold" toml:"diff_threshold" default:"150"`
	CropSize         int     `yaml:"crop_size" toml:"crop_size" default:"660"`
	Downscale        int     `yaml:"downscale" toml:"downscale" default:"1"`
	AbortMultiplier  float64 `yaml:"abort_multiplier" toml:"abort_multiplier" default:"8"`
	MinAreaMultiple  float64 `yaml:"min_area_multiple" toml:"min_area_multiple" default:"2"`
	MaxAreaMultiple  float64 `yaml:"max_area_multiple" toml:"max_area_multiple" default:"6"`
	MaxEccentricity  float64 `yaml:"max_eccentricity" toml:"max_eccentricity" default:"2.0"`
	MinPixelMultiple float64 `yaml:"min_pixel_multiple" toml:"min_pixel_multiple" default:"1.5"`
	MaxAborts        int     `yaml:"max_aborts" toml:"max_aborts" default:"3"`
	Number           int     `yaml:"number" toml:"number"`
	Force            bool    `yaml:"force" toml:"force"`
	SummaryImage     string  `yaml:"summary_image" toml:"summary_image" default:"crop_summary.jpg"`
}

// LocatorOptions converts the crop settings to locator options, with the
// scan distance in analysis pixels
func (c CropConfig) LocatorOptions() locator.Options {
	return locator.Options{
		ScanDistance:     c.ScanDistance / max(1, c.Downscale),
		AbortMultiplier:  c.AbortMultiplier,
		MinAreaMultiple:  c.MinAreaMultiple,
		MaxAreaMultiple:  c.MaxAreaMultiple,
		MaxEccentricity:  c.MaxEccentricity,
		MinPixelMultiple: c.MinPixelMultiple,
	}
}

// GroupConfig holds group stage settings
type GroupConfig struct {
	CropDir            string `yaml:"crop_dir" toml:"crop_dir" default:"crop"`
	MatchThreshold     int    `yaml:"match_threshold" toml:"match_threshold" default:"32"`
	ScaleThreshold     Float  `yaml:"scale_threshold" toml:"scale_threshold" default:"+Inf"`
	FeatureThreshold   Float  `yaml:"feature_threshold" toml:"feature_threshold" default:"1.2"`
	Detector           string `yaml:"detector" toml:"detector" default:"akaze"`
	CountPips          bool   `yaml:"count_pips" toml:"count_pips"`
	StrictPips         bool   `yaml:"strict_pips" toml:"strict_pips"`
	WhitePips          bool   `yaml:"white_pips" toml:"white_pips"`
	PipThresholdAdjust int    `yaml:"pip_threshold_adjust" toml:"pip_threshold_adjust" default:"-10"`
	SummaryImage       string `yaml:"summary_image" toml:"summary_image" default:"summary.jpg"`
	SnapshotImage      string `yaml:"snapshot_image" toml:"snapshot_image" default:"summary-snapshot.jpg"`
	SummaryData        string `yaml:"summary_data" toml:"summary_data" default:"summary.json"`
	SummaryMaxMembers  int    `yaml:"summary_max_members" toml:"summary_max_members" default:"35"`
	NoCache            bool   `yaml:"no_cache" toml:"no_cache"`
}

// LabelConfig holds label stage settings
type LabelConfig struct {
	SummaryData string `yaml:"summary_data" toml:"summary_data" default:"summary.json"`
	Labels      string `yaml:"labels" toml:"labels" default:"labels.csv"`
}

// SummarizeConfig holds summarize stage settings
type SummarizeConfig struct {
	Labels        string `yaml:"labels" toml:"labels" default:"labels.csv"`
	SequenceGraph string `yaml:"sequence_graph" toml:"sequence_graph" default:"sequence.png"`
	CSV           string `yaml:"csv" toml:"csv"`
	SubsampleCSV  string `yaml:"subsample_csv" toml:"subsample_csv"`
	Samples       int    `yaml:"samples" toml:"samples" default:"1000"`
	// Seed for resampling; 0 seeds from the clock.
	Seed int64 `yaml:"seed" toml:"seed"`
}

// New returns a config holding only defaults
func New() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load builds the config for a data directory: defaults, then the config
// file (explicit path, or the first of FileNames in dataDir), then the data
// directory's .env file and DICE_* environment variables. Flags are applied
// by the caller.
func Load(dataDir, explicitPath string) (*Config, error) {
	cfg := New()

	path := explicitPath
	if path == "" {
		for _, name := range FileNames {
			candidate := filepath.Join(dataDir, name)
			if utils.FileExists(candidate) {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	// .env in the data directory is optional, don't fail if not found
	if dataDir != "" {
		_ = godotenv.Load(filepath.Join(dataDir, ".env"))
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile merges a YAML or TOML file into the config
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		_, err = toml.Decode(string(data), c)
	default:
		return fmt.Errorf("%w: unknown config format %s", ErrInvalid, path)
	}
	if err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides settings from DICE_* variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	ints := map[string]*int{
		"DICE_SCAN_DISTANCE":   &c.Crop.ScanDistance,
		"DICE_DIFF_THRESHOLD":  &c.Crop.DiffThreshold,
		"DICE_CROP_SIZE":       &c.Crop.CropSize,
		"DICE_DOWNSCALE":       &c.Crop.Downscale,
		"DICE_MAX_ABORTS":      &c.Crop.MaxAborts,
		"DICE_MATCH_THRESHOLD": &c.Group.MatchThreshold,
		"DICE_WORKERS":         &c.Workers,
	}
	for key, dst := range ints {
		if s, ok := lookup(key); ok && s != "" {
			v, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, s)
			}
			*dst = v
		}
	}

	floats := map[string]*Float{
		"DICE_SCALE_THRESHOLD":   &c.Group.ScaleThreshold,
		"DICE_FEATURE_THRESHOLD": &c.Group.FeatureThreshold,
	}
	for key, dst := range floats {
		if s, ok := lookup(key); ok && s != "" {
			if err := dst.UnmarshalText([]byte(s)); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
			}
		}
	}

	strs := map[string]*string{
		"DICE_DATABASE":  &c.Database,
		"DICE_LOG_FILE":  &c.LogFile,
		"DICE_DETECTOR":  &c.Group.Detector,
		"DICE_REFERENCE": &c.Crop.Reference,
		"DICE_MASK":      &c.Crop.Mask,
	}
	for key, dst := range strs {
		if s, ok := lookup(key); ok && s != "" {
			*dst = s
		}
	}

	if s, ok := lookup("DICE_DEBUG"); ok && s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("%w: DICE_DEBUG=%q", ErrInvalid, s)
		}
		c.Debug = v
	}
	return nil
}

// Validate checks the settings every stage relies on
func (c *Config) Validate() error {
	var errs []error
	if c.Crop.Downscale < 1 {
		errs = append(errs, fmt.Errorf("downscale %d must be at least 1", c.Crop.Downscale))
	}
	if err := c.Crop.LocatorOptions().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scan distance %d at downscale %d: %v", c.Crop.ScanDistance, c.Crop.Downscale, err))
	}
	if c.Crop.CropSize <= 0 {
		errs = append(errs, fmt.Errorf("crop size %d must be positive", c.Crop.CropSize))
	}
	if c.Crop.DiffThreshold < 0 {
		errs = append(errs, fmt.Errorf("diff threshold %d must not be negative", c.Crop.DiffThreshold))
	}
	if c.Crop.MinPixelMultiple <= 0 {
		errs = append(errs, fmt.Errorf("min pixel multiple %g must be positive", c.Crop.MinPixelMultiple))
	}
	if c.Group.MatchThreshold <= 0 {
		errs = append(errs, fmt.Errorf("match threshold %d must be positive", c.Group.MatchThreshold))
	}
	if float64(c.Group.ScaleThreshold) < 1 || math.IsNaN(float64(c.Group.ScaleThreshold)) {
		errs = append(errs, fmt.Errorf("scale threshold %s must be at least 1", c.Group.ScaleThreshold))
	}
	if float64(c.Group.FeatureThreshold) < 1 || math.IsNaN(float64(c.Group.FeatureThreshold)) {
		errs = append(errs, fmt.Errorf("feature threshold %s must be at least 1", c.Group.FeatureThreshold))
	}
	if !c.Group.CountPips && !slices.Contains(Detectors, strings.ToLower(c.Group.Detector)) {
		errs = append(errs, fmt.Errorf("unknown detector %q (want one of %v)", c.Group.Detector, Detectors))
	}
	if c.Summarize.Samples < 0 {
		errs = append(errs, fmt.Errorf("bootstrap samples %d must not be negative", c.Summarize.Samples))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers %d must not be negative", c.Workers))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
