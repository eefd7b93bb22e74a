package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides DefaultConfigDir.
const (
	EnvConfigPath    = "LAPLOGGER_CONFIG_PATH"
	DefaultConfigDir = "data/config"
)

// Source modes.
const (
	ModeLive   = "live"
	ModeReplay = "replay"
)

// Config represents the complete lap logger configuration
type Config struct {
	Logger   LoggerConfig   `yaml:"logger"`
	Source   SourceConfig   `yaml:"source"`
	Live     LiveConfig     `yaml:"live"`
	Replay   ReplayConfig   `yaml:"replay"`
	Detector DetectorConfig `yaml:"detector"`
	Recorder RecorderConfig `yaml:"recorder"`
	Capture  CaptureConfig  `yaml:"capture"`
	Logging  LoggingConfig  `yaml:"logging"`
	Stats    StatsConfig    `yaml:"stats"`

	// LoadedFrom is the directory the configuration was read from.
	LoadedFrom string `yaml:"-"`
}

// LoggerConfig names the program and sets how often telemetry is sampled.
type LoggerConfig struct {
	Name       string `yaml:"name"`
	SampleRate int    `yaml:"sample_rate"`
}

// SourceConfig selects live or replay.
type SourceConfig struct {
	Mode string `yaml:"mode"`
}

// LiveConfig contains the MQTT telemetry feed settings
type LiveConfig struct {
	Broker                string `yaml:"broker"`
	Port                  int    `yaml:"port"`
	Topic                 string `yaml:"topic"`
	ClientID              string `yaml:"client_id"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
	StaleAfterSeconds     int    `yaml:"stale_after_seconds"`
	RetryIntervalSeconds  int    `yaml:"retry_interval_seconds"`
}

// ReplayConfig points at a recording (CSV file or capture directory).
type ReplayConfig struct {
	Path     string `yaml:"path"`
	RealTime bool   `yaml:"real_time"`
}

type DetectorConfig struct {
	MaxCollectWaitSeconds float64 `yaml:"max_collect_wait_seconds"`
	SettleSeconds         float64 `yaml:"settle_seconds"`
}

// RecorderConfig controls the SQLite lap history.
type RecorderConfig struct {
	Enabled            bool   `yaml:"enabled"`
	DBPath             string `yaml:"db_path"`
	PreflightTimeoutMS int    `yaml:"preflight_timeout_ms"`
}

// CaptureConfig controls recording live sessions for later replay.
type CaptureConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// LoggingConfig contains file logging settings
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

type StatsConfig struct {
	DisplayIntervalSeconds int `yaml:"display_interval_seconds"`
}

// Purpose: Load configuration from a directory of YAML files.
// Key aspects: Every *.yaml/*.yml file is read in name order and deep-merged
// (later files win per key); a single-file path is rejected. Defaults are
// applied only for keys absent from every file. Source requirements are
// left to Validate so command line overrides can be applied first.
// Upstream: main.loadConfig.
// Downstream: mergeMaps, applyDefaults, validateRanges.
func Load(dir string) (*Config, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config path %s must be a directory of YAML files", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list config dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	merged := map[string]any{}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		mergeMaps(merged, doc)
	}

	raw, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.LoadedFrom = dir
	cfg.applyDefaults(merged)
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeMaps deep-merges src into dst; nested maps merge, everything else
// replaces.
func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			if dstMap, ok := dst[k].(map[string]any); ok {
				mergeMaps(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
}

func hasKey(raw map[string]any, section, key string) bool {
	m, ok := raw[section].(map[string]any)
	if !ok {
		return false
	}
	_, ok = m[key]
	return ok
}

func (c *Config) applyDefaults(raw map[string]any) {
	if strings.TrimSpace(c.Logger.Name) == "" {
		c.Logger.Name = "Lap Logger"
	}
	if c.Logger.SampleRate == 0 {
		c.Logger.SampleRate = 1
	}
	if c.Source.Mode == "" {
		c.Source.Mode = ModeLive
	}
	if c.Live.Port == 0 {
		c.Live.Port = 1883
	}
	if c.Live.Topic == "" {
		c.Live.Topic = "sim/telemetry/#"
	}
	if c.Live.ConnectTimeoutSeconds == 0 {
		c.Live.ConnectTimeoutSeconds = 10
	}
	if !hasKey(raw, "live", "stale_after_seconds") {
		c.Live.StaleAfterSeconds = 5
	}
	if c.Live.RetryIntervalSeconds == 0 {
		c.Live.RetryIntervalSeconds = 5
	}
	if c.Detector.MaxCollectWaitSeconds == 0 {
		c.Detector.MaxCollectWaitSeconds = 8
	}
	if !hasKey(raw, "detector", "settle_seconds") {
		c.Detector.SettleSeconds = 2
	}
	if !hasKey(raw, "recorder", "enabled") {
		c.Recorder.Enabled = true
	}
	if c.Recorder.DBPath == "" {
		c.Recorder.DBPath = "data/laps.db"
	}
	if c.Recorder.PreflightTimeoutMS == 0 {
		c.Recorder.PreflightTimeoutMS = 2000
	}
	if c.Capture.Dir == "" {
		c.Capture.Dir = "data/captures"
	}
	if !hasKey(raw, "logging", "enabled") {
		c.Logging.Enabled = true
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "data/logs"
	}
	if !hasKey(raw, "logging", "retention_days") {
		c.Logging.RetentionDays = 7
	}
	if !hasKey(raw, "stats", "display_interval_seconds") {
		c.Stats.DisplayIntervalSeconds = 60
	}
}

// Validate rejects settings the runtime cannot honor, including a source
// mode without its required location.
func (c *Config) Validate() error {
	var errs []error
	switch c.Source.Mode {
	case ModeLive:
		if strings.TrimSpace(c.Live.Broker) == "" {
			errs = append(errs, errors.New("live.broker is required when source.mode is live"))
		}
	case ModeReplay:
		if strings.TrimSpace(c.Replay.Path) == "" {
			errs = append(errs, errors.New("replay.path is required when source.mode is replay"))
		}
	}
	if err := c.validateRanges(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) validateRanges() error {
	var errs []error
	if c.Logger.SampleRate < 1 || c.Logger.SampleRate > 60 {
		errs = append(errs, fmt.Errorf("logger.sample_rate must be between 1 and 60, got %d", c.Logger.SampleRate))
	}
	switch c.Source.Mode {
	case ModeLive, ModeReplay:
	default:
		errs = append(errs, fmt.Errorf("source.mode must be %q or %q, got %q", ModeLive, ModeReplay, c.Source.Mode))
	}
	if c.Live.Port < 1 || c.Live.Port > 65535 {
		errs = append(errs, fmt.Errorf("live.port out of range: %d", c.Live.Port))
	}
	if c.Live.ConnectTimeoutSeconds < 0 || c.Live.StaleAfterSeconds < 0 || c.Live.RetryIntervalSeconds < 0 {
		errs = append(errs, errors.New("live timeouts must not be negative"))
	}
	if c.Detector.MaxCollectWaitSeconds < 0 {
		errs = append(errs, fmt.Errorf("detector.max_collect_wait_seconds must not be negative, got %v", c.Detector.MaxCollectWaitSeconds))
	}
	if c.Detector.SettleSeconds < 0 {
		errs = append(errs, fmt.Errorf("detector.settle_seconds must not be negative, got %v", c.Detector.SettleSeconds))
	}
	if c.Recorder.PreflightTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("recorder.preflight_timeout_ms must not be negative, got %d", c.Recorder.PreflightTimeoutMS))
	}
	if c.Logging.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("logging.retention_days must not be negative, got %d", c.Logging.RetentionDays))
	}
	if c.Stats.DisplayIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("stats.display_interval_seconds must not be negative, got %d", c.Stats.DisplayIntervalSeconds))
	}
	return errors.Join(errs...)
}

// Seconds helpers used by main wiring.
func (c *Config) MaxCollectWait() time.Duration { return seconds(c.Detector.MaxCollectWaitSeconds) }
func (c *Config) Settle() time.Duration         { return seconds(c.Detector.SettleSeconds) }
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Live.RetryIntervalSeconds) * time.Second
}
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Live.ConnectTimeoutSeconds) * time.Second
}
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Live.StaleAfterSeconds) * time.Second
}
func (c *Config) PreflightTimeout() time.Duration {
	return time.Duration(c.Recorder.PreflightTimeoutMS) * time.Millisecond
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Print displays the configuration
func (c *Config) Print() {
	fmt.Printf("Logger: %s (%d samples/s)\n", c.Logger.Name, c.Logger.SampleRate)
	switch c.Source.Mode {
	case ModeReplay:
		pacing := "as fast as possible"
		if c.Replay.RealTime {
			pacing = "real time"
		}
		fmt.Printf("Source: replay %s (%s)\n", c.Replay.Path, pacing)
	default:
		fmt.Printf("Source: live %s:%d (topic: %s)\n", c.Live.Broker, c.Live.Port, c.Live.Topic)
	}
	fmt.Printf("Detector: max collect wait %gs, settle %gs\n", c.Detector.MaxCollectWaitSeconds, c.Detector.SettleSeconds)
	if c.Recorder.Enabled {
		fmt.Printf("Recorder: %s\n", c.Recorder.DBPath)
	}
	if c.Capture.Enabled {
		fmt.Printf("Capture: %s\n", c.Capture.Dir)
	}
}
