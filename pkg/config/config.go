// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tracelane/tracelane/internal/model"
	"github.com/tracelane/tracelane/pkg/export"
	"github.com/tracelane/tracelane/pkg/parser"
	"github.com/tracelane/tracelane/pkg/render"
	"github.com/tracelane/tracelane/pkg/storage/s3"
	"github.com/tracelane/tracelane/pkg/telemetry"
	"github.com/tracelane/tracelane/pkg/timeline"
)

// Config holds all tracelane configuration.
type Config struct {
	Version int `yaml:"version"`

	Analysis  AnalysisConfig  `yaml:"analysis"`
	Chart     ChartConfig     `yaml:"chart"`
	Output    OutputConfig    `yaml:"output"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
}

// AnalysisConfig controls loading and the timeline algorithms.
type AnalysisConfig struct {
	Engine     string `yaml:"engine"`      // json | duckdb
	StartEvent string `yaml:"start_event"` // activity sweep start
	EndEvent   string `yaml:"end_event"`   // activity sweep end
	Workers    int    `yaml:"workers"`     // 0 = auto
	Placement  string `yaml:"placement"`   // firstfit | heap
}

// ChartConfig controls the SVG chart.
type ChartConfig struct {
	Width      int     `yaml:"width"`
	RowHeight  int     `yaml:"row_height"`
	FullNames  bool    `yaml:"full_names"`
	ShowActive bool    `yaml:"show_active"`
	Saturation float64 `yaml:"saturation"`
	Value      float64 `yaml:"value"`
}

// OutputConfig controls where results go.
type OutputConfig struct {
	Dir         string   `yaml:"dir"`
	Formats     []string `yaml:"formats"`     // extra export formats written by render
	Compression string   `yaml:"compression"` // parquet codec
	UploadURL   string   `yaml:"upload_url"`  // s3://bucket/prefix for charts
}

// StorageConfig for S3 trace sources and uploads.
type StorageConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// TelemetryConfig for OTLP tracing.
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// ServerConfig for the HTTP server.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// Default returns the default configuration.
func Default() *Config {
	chart := render.DefaultOptions()
	return &Config{
		Version: 1,
		Analysis: AnalysisConfig{
			Engine:     "json",
			StartEvent: model.EventJobStart,
			EndEvent:   model.EventJobEnd,
			Workers:    0, // auto
			Placement:  "firstfit",
		},
		Chart: ChartConfig{
			Width:      chart.Width,
			RowHeight:  chart.RowHeight,
			Saturation: chart.Saturation,
			Value:      chart.Value,
		},
		Output: OutputConfig{
			Dir:         ".",
			Compression: "snappy",
		},
		Storage: StorageConfig{
			Region: "us-east-1",
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
	}
}

// Validate checks values that the algorithms and adapters would reject.
func (c *Config) Validate() error {
	if _, err := timeline.ParsePlacement(c.Analysis.Placement); err != nil {
		return err
	}
	if _, err := parser.ParseEngine(c.Analysis.Engine); err != nil {
		return err
	}
	if c.Analysis.Workers < 0 {
		return fmt.Errorf("analysis.workers must be >= 0, got %d", c.Analysis.Workers)
	}
	if c.Analysis.StartEvent == "" || c.Analysis.EndEvent == "" {
		return fmt.Errorf("analysis start_event and end_event must be set")
	}
	for _, f := range c.Output.Formats {
		if _, err := export.ParseFormat(f); err != nil {
			return err
		}
	}
	if c.Chart.Saturation < 0 || c.Chart.Saturation > 1 || c.Chart.Value < 0 || c.Chart.Value > 1 {
		return fmt.Errorf("chart saturation and value must be within [0, 1]")
	}
	return nil
}

// AnalysisOptions converts the analysis section to timeline options.
func (c *Config) AnalysisOptions() (timeline.Options, error) {
	placement, err := timeline.ParsePlacement(c.Analysis.Placement)
	if err != nil {
		return timeline.Options{}, err
	}
	return timeline.Options{
		StartEvent: c.Analysis.StartEvent,
		EndEvent:   c.Analysis.EndEvent,
		Workers:    c.Analysis.Workers,
		Placement:  placement,
	}, nil
}

// ChartOptions converts the chart section to render options.
func (c *Config) ChartOptions() render.Options {
	return render.Options{
		Width:      c.Chart.Width,
		RowHeight:  c.Chart.RowHeight,
		FullNames:  c.Chart.FullNames,
		ShowActive: c.Chart.ShowActive,
		Saturation: c.Chart.Saturation,
		Value:      c.Chart.Value,
	}
}

// S3Config converts the storage section to an S3 client config.
func (c *Config) S3Config() s3.Config {
	cfg := s3.DefaultConfig(c.Storage.Region)
	cfg.Endpoint = c.Storage.Endpoint
	cfg.UsePathStyle = c.Storage.PathStyle
	cfg.AccessKeyID = c.Storage.AccessKeyID
	cfg.SecretAccessKey = c.Storage.SecretAccessKey
	return cfg
}

// OTLPConfig converts the telemetry section to an exporter config.
func (c *Config) OTLPConfig() telemetry.OTLPConfig {
	cfg := telemetry.DefaultOTLPConfig("tracelane")
	cfg.Endpoint = c.Telemetry.Endpoint
	cfg.InsecureTLS = c.Telemetry.Insecure
	cfg.SamplingRatio = c.Telemetry.SamplingRatio
	return cfg
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded

	// searchPaths overrides the default config locations when set.
	searchPaths []string
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order. An explicit
// file, when given, is applied after the search paths and before the
// environment.
func (m *Manager) Load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	paths := m.getConfigPaths()
	if explicit != "" {
		paths = append(paths, explicit)
	}
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			// Only an explicit file must exist
			if !os.IsNotExist(err) || path == explicit {
				return fmt.Errorf("config %s: %w", path, err)
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	if err := m.loadEnv(); err != nil {
		return err
	}
	return m.config.Validate()
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	if m.searchPaths != nil {
		return append([]string(nil), m.searchPaths...)
	}

	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/tracelane/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".tracelane", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".tracelane.yaml"))
	}

	return paths
}

// loadFile decodes a config file over the current values; keys absent from
// the file keep their earlier value.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, m.config)
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() error {
	strs := map[string]*string{
		"TRACELANE_ENGINE":        &m.config.Analysis.Engine,
		"TRACELANE_START_EVENT":   &m.config.Analysis.StartEvent,
		"TRACELANE_END_EVENT":     &m.config.Analysis.EndEvent,
		"TRACELANE_PLACEMENT":     &m.config.Analysis.Placement,
		"TRACELANE_OUTPUT_DIR":    &m.config.Output.Dir,
		"TRACELANE_UPLOAD_URL":    &m.config.Output.UploadURL,
		"TRACELANE_S3_REGION":     &m.config.Storage.Region,
		"TRACELANE_S3_ENDPOINT":   &m.config.Storage.Endpoint,
		"TRACELANE_OTLP_ENDPOINT": &m.config.Telemetry.Endpoint,
		"TRACELANE_HOST":          &m.config.Server.Host,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TRACELANE_WORKERS": &m.config.Analysis.Workers,
		"TRACELANE_PORT":    &m.config.Server.Port,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"TRACELANE_TELEMETRY":     &m.config.Telemetry.Enabled,
		"TRACELANE_S3_PATH_STYLE": &m.config.Storage.PathStyle,
	}
	for key, dst := range bools {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".tracelane")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}
