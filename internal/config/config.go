// Package config handles configuration loading for the trackviz server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Images ImagesConfig `yaml:"images"`
	Render RenderConfig `yaml:"render"`
	Store  StoreConfig  `yaml:"store"`
	Jobs   JobsConfig   `yaml:"jobs"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Title       string   `yaml:"title"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatasetConfig locates one dataset's tracks, specification and images.
type DatasetConfig struct {
	CSVPath    string   `yaml:"csv_path"`
	SpecPath   string   `yaml:"spec_path"`
	ImagesURL  string   `yaml:"images_url"`
	ImagesDir  string   `yaml:"images_dir"`
	DriveID    string   `yaml:"drive_id"`
	IDKey      string   `yaml:"id_key"`
	TimeKeys   []string `yaml:"time_keys"`
	MassKey    string   `yaml:"mass_key"`
	SourceKey  string   `yaml:"source_key"`
	PostfixKey string   `yaml:"postfix_key"`

	// DefaultFilters hides tracks shorter than half the longest on load.
	DefaultFilters bool `yaml:"default_filters"`
}

// DataConfig holds the configured datasets. The data section is either a
// single dataset (legacy form, registered as "default") or a mapping from
// dataset id to dataset settings.
type DataConfig struct {
	Datasets       map[string]DatasetConfig
	DefaultDataset string

	order []string
}

// DatasetIDs returns dataset ids in configuration order.
func (d DataConfig) DatasetIDs() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

var legacyKeys = map[string]bool{
	"csv_path": true, "spec_path": true, "images_url": true, "images_dir": true, "drive_id": true,
	"id_key": true, "time_keys": true, "mass_key": true, "source_key": true, "postfix_key": true,
	"default_filters": true,
}

// UnmarshalYAML accepts both the legacy and the multi-dataset form.
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data: expected a mapping, got %v", node.Tag)
	}
	d.Datasets = make(map[string]DatasetConfig)
	d.order = nil

	legacy := false
	for i := 0; i < len(node.Content); i += 2 {
		if legacyKeys[node.Content[i].Value] {
			legacy = true
			break
		}
	}
	if legacy {
		var ds DatasetConfig
		if err := node.Decode(&ds); err != nil {
			return fmt.Errorf("data: %w", err)
		}
		d.add("default", ds)
		return nil
	}

	for i := 0; i < len(node.Content); i += 2 {
		id := node.Content[i].Value
		var ds DatasetConfig
		if err := node.Content[i+1].Decode(&ds); err != nil {
			return fmt.Errorf("data.%s: %w", id, err)
		}
		d.add(id, ds)
	}
	return nil
}

func (d *DataConfig) add(id string, ds DatasetConfig) {
	if _, ok := d.Datasets[id]; !ok {
		d.order = append(d.order, id)
	}
	d.Datasets[id] = ds
	if d.DefaultDataset == "" {
		d.DefaultDataset = id
	}
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	FrameSizeMB     int `yaml:"frame_size_mb"`
	FrameTTLMinutes int `yaml:"frame_ttl_minutes"`
	QueryCacheSize  int `yaml:"query_cache_size"`
}

// ImagesConfig bounds the bundle caches and sets the fetch retry policy.
type ImagesConfig struct {
	MaxBlobCount        int `yaml:"max_blob_count"`
	MaxLabelCount       int `yaml:"max_label_count"`
	FetchAttempts       int `yaml:"fetch_attempts"`
	BackoffMillis       int `yaml:"backoff_ms"`
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds"`
}

// Backoff returns the initial retry delay.
func (c ImagesConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMillis) * time.Millisecond
}

// FetchTimeout returns the per-attempt fetch timeout.
func (c ImagesConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	TileSize        int    `yaml:"tile_size"`
	DefaultColormap string `yaml:"default_colormap"`
}

// StoreConfig locates the SQLite database for snapshots and depth jobs.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// JobsConfig sizes the depth job worker pool.
type JobsConfig struct {
	Workers        int `yaml:"workers"`
	QueueSize      int `yaml:"queue_size"`
	RetentionHours int `yaml:"retention_hours"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Cache: CacheConfig{
			FrameSizeMB:     512,
			FrameTTLMinutes: 10,
			QueryCacheSize:  1000,
		},
		Images: ImagesConfig{
			MaxBlobCount:        10,
			MaxLabelCount:       10,
			FetchAttempts:       3,
			BackoffMillis:       100,
			FetchTimeoutSeconds: 30,
		},
		Render: RenderConfig{
			TileSize:        256,
			DefaultColormap: "categorical",
		},
		Store: StoreConfig{
			Path: "./data/trackviz.db",
		},
		Jobs: JobsConfig{
			Workers:        2,
			QueueSize:      100,
			RetentionHours: 24,
		},
	}
	cfg.Data.Datasets = make(map[string]DatasetConfig)
	cfg.Data.add("default", defaultDataset())
	return cfg
}

func defaultDataset() DatasetConfig {
	return DatasetConfig{
		CSVPath:   "./data/default/massOverTime.csv",
		SpecPath:  "./data/default/spec.json",
		ImagesDir: "./data/default",
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if len(cfg.Data.Datasets) == 0 {
		cfg.Data = defaults.Data
	}
	if cfg.Cache.FrameSizeMB == 0 {
		cfg.Cache.FrameSizeMB = defaults.Cache.FrameSizeMB
	}
	if cfg.Cache.FrameTTLMinutes == 0 {
		cfg.Cache.FrameTTLMinutes = defaults.Cache.FrameTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Images.MaxBlobCount == 0 {
		cfg.Images.MaxBlobCount = defaults.Images.MaxBlobCount
	}
	if cfg.Images.MaxLabelCount == 0 {
		cfg.Images.MaxLabelCount = defaults.Images.MaxLabelCount
	}
	if cfg.Images.FetchAttempts == 0 {
		cfg.Images.FetchAttempts = defaults.Images.FetchAttempts
	}
	if cfg.Images.BackoffMillis == 0 {
		cfg.Images.BackoffMillis = defaults.Images.BackoffMillis
	}
	if cfg.Images.FetchTimeoutSeconds == 0 {
		cfg.Images.FetchTimeoutSeconds = defaults.Images.FetchTimeoutSeconds
	}
	if cfg.Render.TileSize == 0 {
		cfg.Render.TileSize = defaults.Render.TileSize
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaults.Store.Path
	}
	if cfg.Jobs.Workers == 0 {
		cfg.Jobs.Workers = defaults.Jobs.Workers
	}
	if cfg.Jobs.QueueSize == 0 {
		cfg.Jobs.QueueSize = defaults.Jobs.QueueSize
	}
	if cfg.Jobs.RetentionHours == 0 {
		cfg.Jobs.RetentionHours = defaults.Jobs.RetentionHours
	}
}
