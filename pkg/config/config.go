package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"saferoute/pkg/model"
)

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Session  SessionConfig  `yaml:"session"`
	Cache    CacheConfig    `yaml:"cache"`
	TTS      TTSConfig      `yaml:"tts"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// BackendConfig holds settings for the safety analysis backend.
type BackendConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
	// BypassHeader is sent with BypassValue when the deployed tunnel/proxy
	// in front of the backend requires it. Empty disables the header.
	BypassHeader     string `yaml:"bypass_header"`
	BypassValue      string `yaml:"bypass_value"`
	RequireNarrative bool   `yaml:"require_narrative"`
}

// AnalysisConfig holds the fixed conditions sent with every route.
type AnalysisConfig struct {
	Speed   float64 `yaml:"speed"`
	Weather string  `yaml:"weather"`
	Traffic string  `yaml:"traffic"`
}

// Conditions converts the configured defaults to model values.
func (a AnalysisConfig) Conditions() model.Conditions {
	return model.Conditions{
		Speed:   a.Speed,
		Weather: model.Weather(a.Weather),
		Traffic: model.Traffic(a.Traffic),
	}
}

// SessionConfig holds per-user session settings.
type SessionConfig struct {
	IdleTTL Duration `yaml:"idle_ttl"`
}

// CacheConfig holds settings for the backend response cache.
type CacheConfig struct {
	Enabled bool     `yaml:"enabled"`
	Path    string   `yaml:"path"`
	TTL     Duration `yaml:"ttl"`
}

// TTSConfig holds Text-To-Speech settings for story segments.
type TTSConfig struct {
	Engine        string `yaml:"engine"`
	Voice         string `yaml:"voice"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// Supported TTS engines.
const (
	EngineNone    = "none"
	EngineEdgeTTS = "edge-tts"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "localhost:1921",
		},
		Backend: BackendConfig{
			Endpoint:         "http://localhost:8080/process_route",
			Timeout:          Duration(30 * time.Second),
			RequireNarrative: true,
		},
		Analysis: AnalysisConfig{
			Speed:   55.0,
			Weather: string(model.WeatherClear),
			Traffic: string(model.TrafficModerate),
		},
		Session: SessionConfig{
			IdleTTL: Duration(2 * time.Hour),
		},
		Cache: CacheConfig{
			Enabled: false,
			Path:    "./data/saferoute.db",
			TTL:     Duration(1 * Day),
		},
		TTS: TTSConfig{
			Engine:        EngineNone,
			Voice:         "en-US-AvaMultilingualNeural",
			MaxConcurrent: 2,
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it is created with default values.
// If it exists, its values are merged over the defaults but the file is not
// rewritten, so user formatting and comments survive.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv fills secrets and deployment-specific values from the environment
// when the file leaves them empty. Nothing is written back to disk.
func applyEnv(cfg *Config) {
	if cfg.Backend.BypassValue == "" {
		cfg.Backend.BypassValue = os.Getenv("SAFEROUTE_BYPASS_VALUE")
	}
	if ep := os.Getenv("SAFEROUTE_BACKEND_ENDPOINT"); ep != "" {
		cfg.Backend.Endpoint = ep
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.endpoint must be an absolute URL, got %q", c.Backend.Endpoint)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if err := c.Analysis.Conditions().Validate(); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("session.idle_ttl must be positive")
	}
	if c.Cache.Enabled && c.Cache.Path == "" {
		return fmt.Errorf("cache.path is required when the cache is enabled")
	}
	switch c.TTS.Engine {
	case EngineNone, "":
	case EngineEdgeTTS:
		if c.TTS.Voice == "" {
			return fmt.Errorf("tts.voice is required for %s", c.TTS.Engine)
		}
	default:
		return fmt.Errorf("unknown tts.engine %q", c.TTS.Engine)
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# SafeRoute Configuration
# -----------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
# Environment:
#   SAFEROUTE_BYPASS_VALUE      used when backend.bypass_value is empty
#   SAFEROUTE_BACKEND_ENDPOINT  overrides backend.endpoint

`)
	data = append(header, data...)

	// Inject option comments above enum fields.
	reEngine := regexp.MustCompile(`(?m)^(\s+)engine:`)
	data = reEngine.ReplaceAll(data, []byte("${1}# Options: none, edge-tts\n${1}engine:"))

	reWeather := regexp.MustCompile(`(?m)^(\s+)weather:`)
	data = reWeather.ReplaceAll(data, []byte("${1}# Options: Clear, Cloudy, Rain, Snow, Fog\n${1}weather:"))

	reTraffic := regexp.MustCompile(`(?m)^(\s+)traffic:`)
	data = reTraffic.ReplaceAll(data, []byte("${1}# Options: Light, Moderate, Heavy, Gridlock\n${1}traffic:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
