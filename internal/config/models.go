package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanchriswhite/screenmask/internal/logger"
	"gopkg.in/yaml.v3"
)

// Mosaic styles understood by the overlay renderer
const (
	MosaicStylePixelate = "pixelate"
	MosaicStyleBlur     = "blur"
	MosaicStyleSolid    = "solid"
)

// Config represents the application configuration
type Config struct {
	Monitoring MonitoringConfig `json:"monitoring" yaml:"monitoring"`
	Detection  DetectionConfig  `json:"detection" yaml:"detection"`
	Detector   DetectorConfig   `json:"detector" yaml:"detector"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	Debug      bool             `json:"debug" yaml:"debug"`
}

// MonitoringConfig controls the capture/detect loop
type MonitoringConfig struct {
	IntervalMs   int     `json:"interval_ms" yaml:"interval_ms"`
	MosaicScale  float64 `json:"mosaic_scale" yaml:"mosaic_scale"`
	MosaicStyle  string  `json:"mosaic_style" yaml:"mosaic_style"`
	CaptureScale float64 `json:"capture_scale" yaml:"capture_scale"` // values outside (0,1) disable downscaling

	// ResetCaptureState drops the learned per-display capture preference
	// when monitoring starts.
	ResetCaptureState bool `json:"reset_capture_state" yaml:"reset_capture_state"`
}

// DetectionConfig is forwarded to the detector on every call
type DetectionConfig struct {
	Grayscale           bool    `json:"grayscale" yaml:"grayscale"`
	ImageScale          float64 `json:"image_scale" yaml:"image_scale"`
	MinSizePx           int     `json:"min_size_px" yaml:"min_size_px"`
	MaxSizePx           int     `json:"max_size_px" yaml:"max_size_px"`
	MinSizeRatio        float64 `json:"min_size_ratio,omitempty" yaml:"min_size_ratio,omitempty"`
	MaxSizeRatio        float64 `json:"max_size_ratio,omitempty" yaml:"max_size_ratio,omitempty"`
	ScaleFactor         float64 `json:"scale_factor" yaml:"scale_factor"`
	NeighborCount       int     `json:"neighbor_count" yaml:"neighbor_count"`
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
}

// DetectorConfig locates the external detection service
type DetectorConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	TimeoutMs int    `json:"timeout_ms" yaml:"timeout_ms"`
}

// ServerConfig configures the local event surface
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	PreviewWidth int    `json:"preview_width" yaml:"preview_width"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultConfigPath returns ~/.config/screenmask/config.yaml
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "screenmask", "config.yaml"), nil
}

// NewManager creates a new configuration manager. An empty configFile
// selects the default path; a missing file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Int("interval_ms", m.config.Monitoring.IntervalMs).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		Monitoring: MonitoringConfig{
			IntervalMs:   33,
			MosaicScale:  1.2,
			MosaicStyle:  MosaicStylePixelate,
			CaptureScale: 0.5,
		},
		Detection: DetectionConfig{
			ImageScale:          1.0,
			MinSizePx:           24,
			MaxSizePx:           0,
			ScaleFactor:         1.1,
			NeighborCount:       5,
			ConfidenceThreshold: 0.6,
		},
		Detector: DetectorConfig{
			Endpoint:  "http://127.0.0.1:8765/detect",
			TimeoutMs: 2000,
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			PreviewWidth: 960,
		},
		LogLevel: "info",
	}
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	// Start from defaults so sections absent from the file keep sane values
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()

	return nil
}

// normalize repairs values that would stall or break the pipeline
func (c *Config) normalize() {
	if c.Monitoring.MosaicScale <= 0 {
		c.Monitoring.MosaicScale = 1.0
	}
	switch c.Monitoring.MosaicStyle {
	case MosaicStylePixelate, MosaicStyleBlur, MosaicStyleSolid:
	default:
		c.Monitoring.MosaicStyle = MosaicStylePixelate
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// Update replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	next := *cfg
	next.normalize()
	m.mu.Lock()
	m.config = &next
	m.mu.Unlock()
	return m.Save()
}

// Keys lists the dotted keys accepted by Set and GetValue.
func Keys() []string {
	return []string{
		"monitoring.interval_ms",
		"monitoring.mosaic_scale",
		"monitoring.mosaic_style",
		"monitoring.capture_scale",
		"monitoring.reset_capture_state",
		"detector.endpoint",
		"detector.timeout_ms",
		"server.host",
		"server.port",
		"server.preview_width",
		"log_level",
		"debug",
	}
}

// Set assigns a single value by dotted key and persists the result
func (m *Manager) Set(key, value string) error {
	m.mu.Lock()
	cfg := *m.config
	var err error
	switch key {
	case "monitoring.interval_ms":
		cfg.Monitoring.IntervalMs, err = parseNonNegativeInt(value)
	case "monitoring.mosaic_scale":
		cfg.Monitoring.MosaicScale, err = parsePositiveFloat(value)
	case "monitoring.mosaic_style":
		switch value {
		case MosaicStylePixelate, MosaicStyleBlur, MosaicStyleSolid:
			cfg.Monitoring.MosaicStyle = value
		default:
			err = fmt.Errorf("invalid mosaic style: %s (use: pixelate, blur, solid)", value)
		}
	case "monitoring.capture_scale":
		cfg.Monitoring.CaptureScale, err = strconv.ParseFloat(value, 64)
	case "monitoring.reset_capture_state":
		cfg.Monitoring.ResetCaptureState, err = strconv.ParseBool(value)
	case "detector.endpoint":
		cfg.Detector.Endpoint = value
	case "detector.timeout_ms":
		cfg.Detector.TimeoutMs, err = parseNonNegativeInt(value)
	case "server.host":
		cfg.Server.Host = value
	case "server.port":
		cfg.Server.Port, err = parsePort(value)
	case "server.preview_width":
		cfg.Server.PreviewWidth, err = parseNonNegativeInt(value)
	case "log_level":
		if _, ok := logger.ParseLevel(value); !ok {
			err = fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", value)
		} else {
			cfg.LogLevel = strings.ToLower(value)
		}
	case "debug":
		cfg.Debug, err = strconv.ParseBool(value)
	default:
		err = fmt.Errorf("unknown config key: %s", key)
	}
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.config = &cfg
	m.mu.Unlock()
	return m.Save()
}

// GetValue returns a single value by dotted key
func (m *Manager) GetValue(key string) (interface{}, error) {
	cfg := m.Get()
	switch key {
	case "monitoring.interval_ms":
		return cfg.Monitoring.IntervalMs, nil
	case "monitoring.mosaic_scale":
		return cfg.Monitoring.MosaicScale, nil
	case "monitoring.mosaic_style":
		return cfg.Monitoring.MosaicStyle, nil
	case "monitoring.capture_scale":
		return cfg.Monitoring.CaptureScale, nil
	case "monitoring.reset_capture_state":
		return cfg.Monitoring.ResetCaptureState, nil
	case "detector.endpoint":
		return cfg.Detector.Endpoint, nil
	case "detector.timeout_ms":
		return cfg.Detector.TimeoutMs, nil
	case "server.host":
		return cfg.Server.Host, nil
	case "server.port":
		return cfg.Server.Port, nil
	case "server.preview_width":
		return cfg.Server.PreviewWidth, nil
	case "log_level":
		return cfg.LogLevel, nil
	case "debug":
		return cfg.Debug, nil
	}
	return nil, fmt.Errorf("unknown config key: %s", key)
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	m.mu.Lock()
	m.config.Server.Port = port
	m.mu.Unlock()
	return m.Save()
}

// GetPort gets the server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Server.Port
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.LogLevel
}

// SetDebug toggles raw-frame diagnostics without persisting the change.
func (m *Manager) SetDebug(debug bool) {
	m.mu.Lock()
	m.config.Debug = debug
	m.mu.Unlock()
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

func parseNonNegativeInt(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %s", value)
	}
	if n < 0 {
		return 0, fmt.Errorf("value must not be negative: %d", n)
	}
	return n, nil
}

func parsePositiveFloat(value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", value)
	}
	if f <= 0 {
		return 0, fmt.Errorf("value must be positive: %v", f)
	}
	return f, nil
}

func parsePort(value string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port number: %s", value)
	}
	return port, nil
}
