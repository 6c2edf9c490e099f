// Package config loads eonorm settings from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/go-eonorm/eo"
	"github.com/example/go-eonorm/eo/cache"
	"github.com/example/go-eonorm/eo/radiometry"
	"github.com/example/go-eonorm/eo/raster"
	"github.com/example/go-eonorm/eo/terrain"
	"github.com/example/go-eonorm/internal/logging"
)

// Config is the complete eonorm configuration.
type Config struct {
	Output     OutputConfig     `yaml:"output"`
	Cache      CacheConfig      `yaml:"cache"`
	Geocoding  GeocodingConfig  `yaml:"geocoding"`
	Terrain    TerrainConfig    `yaml:"terrain"`
	Processing ProcessingConfig `yaml:"processing"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Log        LogConfig        `yaml:"log"`
	// Profiles lists extra profile definition files. A file whose profile
	// name matches a built-in replaces it.
	Profiles []string `yaml:"profiles,omitempty"`
}

// OutputConfig holds the band request defaults.
type OutputConfig struct {
	// Dir receives derived artifacts.
	Dir         string  `yaml:"dir"`
	Cleaning    string  `yaml:"cleaning"`
	Reflectance bool    `yaml:"reflectance"`
	PixelSize   float64 `yaml:"pixel_size"`
	Resampling  string  `yaml:"resampling"`
}

// CacheConfig configures the optional remote artifact mirror.
type CacheConfig struct {
	S3 S3Config `yaml:"s3"`
}

// S3Config locates an S3 bucket. An empty bucket disables the mirror.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// GeocodingConfig tunes RPC and swath geocoding.
type GeocodingConfig struct {
	// DEM is a raster of ground heights; Height is used where it has no data
	// or when it is unset.
	DEM         string  `yaml:"dem"`
	Height      float64 `yaml:"height"`
	SwathRadius float64 `yaml:"swath_radius"`
}

// TerrainConfig names the external SAR terrain-correction tool.
type TerrainConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// ProcessingConfig sizes the band pipeline.
type ProcessingConfig struct {
	Workers        int `yaml:"workers"`
	CloudAdjacency int `yaml:"cloud_adjacency"`
}

// FetchConfig configures delivery staging.
type FetchConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Retries     int           `yaml:"retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	UserAgent   string        `yaml:"user_agent"`
	Verify      bool          `yaml:"verify"`
	S3          S3Config      `yaml:"s3"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with defaults for every section.
func DefaultConfig() *Config {
	return &Config{
		Output: OutputConfig{
			Dir:        "eonorm-output",
			Cleaning:   string(radiometry.CleanNoData),
			Resampling: string(raster.Bilinear),
		},
		Terrain: TerrainConfig{
			Timeout: terrain.DefaultTimeout,
		},
		Processing: ProcessingConfig{
			Workers:        4,
			CloudAdjacency: eo.DefaultCloudAdjacency,
		},
		Fetch: FetchConfig{
			Concurrency: 2,
			Retries:     1,
			RetryDelay:  500 * time.Millisecond,
			UserAgent:   "eonorm",
			Verify:      true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	if c.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir is required"))
	}
	if _, err := radiometry.ParseCleaningMethod(c.Output.Cleaning); err != nil {
		errs = append(errs, fmt.Errorf("output.cleaning: %w", err))
	}
	if c.Output.PixelSize < 0 {
		errs = append(errs, fmt.Errorf("output.pixel_size must not be negative, got %g", c.Output.PixelSize))
	}
	switch raster.Resampling(c.Output.Resampling) {
	case raster.Nearest, raster.Bilinear:
	default:
		errs = append(errs, fmt.Errorf("output.resampling must be nearest or bilinear, got %q", c.Output.Resampling))
	}
	if c.Geocoding.SwathRadius < 0 {
		errs = append(errs, errors.New("geocoding.swath_radius must not be negative"))
	}
	if c.Terrain.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("terrain.timeout must be positive, got %s", c.Terrain.Timeout))
	}
	if c.Processing.Workers < 1 {
		errs = append(errs, errors.New("processing.workers must be at least 1"))
	}
	if c.Processing.CloudAdjacency < 0 {
		errs = append(errs, errors.New("processing.cloud_adjacency must not be negative"))
	}
	if c.Fetch.Concurrency < 1 {
		errs = append(errs, errors.New("fetch.concurrency must be at least 1"))
	}
	if c.Fetch.Retries < 1 {
		errs = append(errs, errors.New("fetch.retries must be at least 1"))
	}
	if c.Fetch.RetryDelay < 0 {
		errs = append(errs, errors.New("fetch.retry_delay must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is unknown", c.Log.Level))
	}
	return errors.Join(errs...)
}

// LoadFromFile reads path over DefaultConfig and validates the result.
// Keys the Config does not know are rejected.
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// SaveToFile writes c as YAML, creating parent directories.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Cleaning returns the parsed default cleaning method.
func (c *Config) Cleaning() radiometry.CleaningMethod {
	m, err := radiometry.ParseCleaningMethod(c.Output.Cleaning)
	if err != nil {
		return radiometry.CleanNoData
	}
	return m
}

// TerrainRunner returns the configured terrain tool, if any.
func (c *Config) TerrainRunner() (terrain.Runner, bool) {
	if c.Terrain.Command == "" {
		return terrain.Runner{}, false
	}
	return terrain.Runner{Command: c.Terrain.Command, Args: c.Terrain.Args, Timeout: c.Terrain.Timeout}, true
}

// Logging returns the logger settings.
func (c *Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}

// Options converts the section to S3 client options.
func (s S3Config) Options() cache.S3Options {
	return cache.S3Options{Region: s.Region, Endpoint: s.Endpoint, PathStyle: s.PathStyle}
}
