package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/go-eonorm/eo"
	"github.com/example/go-eonorm/eo/radiometry"
	"github.com/example/go-eonorm/eo/terrain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, radiometry.CleanNoData, cfg.Cleaning())
	assert.Equal(t, terrain.DefaultTimeout, cfg.Terrain.Timeout)
	assert.Equal(t, 1, cfg.Fetch.Retries)
	assert.Equal(t, eo.DefaultCloudAdjacency, cfg.Processing.CloudAdjacency)

	_, ok := cfg.TerrainRunner()
	assert.False(t, ok)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "unknown cleaning method", modify: func(c *Config) { c.Output.Cleaning = "scrub" }, wantErr: "output.cleaning"},
		{name: "negative pixel size", modify: func(c *Config) { c.Output.PixelSize = -10 }, wantErr: "output.pixel_size"},
		{name: "unknown resampling", modify: func(c *Config) { c.Output.Resampling = "cubic" }, wantErr: "output.resampling"},
		{name: "zero terrain timeout", modify: func(c *Config) { c.Terrain.Timeout = 0 }, wantErr: "terrain.timeout"},
		{name: "negative terrain timeout", modify: func(c *Config) { c.Terrain.Timeout = -time.Second }, wantErr: "terrain.timeout"},
		{name: "no workers", modify: func(c *Config) { c.Processing.Workers = 0 }, wantErr: "processing.workers"},
		{name: "no fetch attempts", modify: func(c *Config) { c.Fetch.Retries = 0 }, wantErr: "fetch.retries"},
		{name: "bad log format", modify: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log.format"},
		{name: "missing output dir", modify: func(c *Config) { c.Output.Dir = "" }, wantErr: "output.dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output.Cleaning = "scrub"
	cfg.Processing.Workers = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output.cleaning")
	assert.Contains(t, err.Error(), "processing.workers")
}

func TestLoadFromFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eonorm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
output:
  dir: /data/out
  cleaning: clean
  reflectance: true
cache:
  s3:
    bucket: artifacts
    prefix: eonorm
    endpoint: http://localhost:9000
    path_style: true
terrain:
  command: gpt
  args: ["Terrain-Correction", "-Ssource={in}", "-t", "{out}"]
  timeout: 45m
processing:
  workers: 8
profiles:
  - /etc/eonorm/spot.yaml
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/out", cfg.Output.Dir)
	assert.Equal(t, radiometry.CleanAll, cfg.Cleaning())
	assert.True(t, cfg.Output.Reflectance)
	assert.Equal(t, "bilinear", cfg.Output.Resampling)
	assert.Equal(t, 8, cfg.Processing.Workers)
	assert.Equal(t, []string{"/etc/eonorm/spot.yaml"}, cfg.Profiles)

	runner, ok := cfg.TerrainRunner()
	require.True(t, ok)
	assert.Equal(t, "gpt", runner.Command)
	assert.Equal(t, 45*time.Minute, runner.Timeout)

	opts := cfg.Cache.S3.Options()
	assert.Equal(t, "http://localhost:9000", opts.Endpoint)
	assert.True(t, opts.PathStyle)
}

func TestLoadFromFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eonorm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  colour: blue\n"), 0o644))
	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestLoadFromFileEmptyIsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eonorm.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveAndReload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Geocoding.Height = 120
	cfg.Terrain.Command = "gpt"
	path := filepath.Join(t.TempDir(), "nested", "eonorm.yaml")
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
