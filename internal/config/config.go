// Package config loads the daemon configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

// Backend names accepted in the configuration.
const (
	BackendALSA = "alsa"
	BackendWAV  = "wav"
	BackendMock = "mock"
)

// Config is the complete daemon configuration.
type Config struct {
	Card    CardConfig             `yaml:"card"`
	Backend string                 `yaml:"backend"`
	Routes  map[string]RouteConfig `yaml:"routes"`
	WAV     WAVConfig              `yaml:"wav"`
	VoiceUI VoiceUIConfig          `yaml:"voice_ui"`
	HTTP    HTTPConfig             `yaml:"http"`
	Logging LoggingConfig          `yaml:"logging"`
}

// CardConfig locates the sound card and its state node.
type CardConfig struct {
	Index        uint          `yaml:"index"`
	Name         string        `yaml:"name"` // resolved to Index when set
	StateNode    string        `yaml:"state_node"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// RouteConfig lists the PCM devices used by a stream type.
type RouteConfig struct {
	Playback []int `yaml:"playback"`
	Capture  []int `yaml:"capture"`
}

// WAVConfig configures the file-backed session.
type WAVConfig struct {
	OutputDir   string `yaml:"output_dir"`
	CaptureFile string `yaml:"capture_file"`
}

// VoiceUIConfig configures detection sessions.
type VoiceUIConfig struct {
	ModuleConfigControl string `yaml:"module_config_control"`
	EventTimeout        int    `yaml:"event_timeout_ms"`
}

// HTTPConfig configures the control API.
type HTTPConfig struct {
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
	MDNS    bool   `yaml:"mdns"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Card: CardConfig{
			Index:        0,
			StateNode:    "/proc/asound/card0/state",
			PollInterval: time.Second,
		},
		Backend: BackendALSA,
		Routes: map[string]RouteConfig{
			string(models.StreamTypeNonTunnel):  {Playback: []int{0}, Capture: []int{0}},
			string(models.StreamTypeLowLatency): {Playback: []int{0}, Capture: []int{0}},
			string(models.StreamTypeDeepBuffer): {Playback: []int{0}},
			string(models.StreamTypeVoiceUI):    {Capture: []int{0}},
		},
		WAV: WAVConfig{
			OutputDir: os.TempDir(),
		},
		VoiceUI: VoiceUIConfig{
			ModuleConfigControl: "VOICEUI Module Config",
			EventTimeout:        500,
		},
		HTTP: HTTPConfig{
			Address: ":8090",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses the configuration file at path. Fields missing
// from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendALSA, BackendWAV, BackendMock:
	default:
		return fmt.Errorf("backend: unknown backend %q", c.Backend)
	}

	if err := c.Card.Validate(); err != nil {
		return fmt.Errorf("card config: %w", err)
	}

	for name, route := range c.Routes {
		switch models.StreamType(name) {
		case models.StreamTypeNonTunnel, models.StreamTypeLowLatency,
			models.StreamTypeDeepBuffer, models.StreamTypeVoiceUI:
		default:
			return fmt.Errorf("routes: unknown stream type %q", name)
		}
		for _, id := range append(append([]int{}, route.Playback...), route.Capture...) {
			if id < 0 {
				return fmt.Errorf("routes: %s: negative device id %d", name, id)
			}
		}
	}

	if c.Backend == BackendWAV && c.WAV.OutputDir == "" {
		return fmt.Errorf("wav config: output_dir is required for the wav backend")
	}

	if c.HTTP.Enabled && c.HTTP.Address == "" {
		return fmt.Errorf("http config: address is required when enabled")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate checks the card section.
func (c *CardConfig) Validate() error {
	if c.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative")
	}
	return nil
}

// Validate checks the logging section.
func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "none", "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("unknown level %q", l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown format %q", l.Format)
	}
	return nil
}

// Route returns the devices for a stream type. Unknown types fall back to
// the non-tunnel route.
func (c *Config) Route(t models.StreamType) RouteConfig {
	if r, ok := c.Routes[string(t)]; ok {
		return r
	}
	return c.Routes[string(models.StreamTypeNonTunnel)]
}
