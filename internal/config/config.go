// Package config loads vdportctl settings from TOML or YAML files.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Zereker/vdport"
)

// DefaultDevice is the agent channel exposed by a spice virtio-serial port.
const DefaultDevice = "/dev/virtio-ports/com.redhat.spice.0"

// Config holds the settings shared by all vdportctl commands.
type Config struct {
	Device         string
	LogLevel       string
	MaxQueueDepth  int
	MaxMessageSize int
	PollInterval   time.Duration
	Reconnect      bool
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Device:         DefaultDevice,
		MaxMessageSize: 1024 * 1024,
		PollInterval:   100 * time.Millisecond,
	}
}

// fileConfig mirrors the on-disk keys.
type fileConfig struct {
	Device         string `toml:"device"`
	LogLevel       string `toml:"log_level"`
	MaxQueueDepth  int    `toml:"max_queue_depth"`
	MaxMessageSize int    `toml:"max_message_size"`
	PollInterval   string `toml:"poll_interval"`
	Reconnect      bool   `toml:"reconnect"`
}

// yamlConfig uses pointers so absent keys keep their defaults.
type yamlConfig struct {
	Device         *string `yaml:"device"`
	LogLevel       *string `yaml:"log_level"`
	MaxQueueDepth  *int    `yaml:"max_queue_depth"`
	MaxMessageSize *int    `yaml:"max_message_size"`
	PollInterval   *string `yaml:"poll_interval"`
	Reconnect      *bool   `yaml:"reconnect"`
}

// Load reads path on top of Default. The format follows the extension:
// .toml, or .yaml/.yml.
func Load(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return loadTOML(path)
	case ".yaml", ".yml":
		return loadYAML(path)
	default:
		return Config{}, errors.Errorf("config %s: unsupported format, want .toml, .yaml or .yml", path)
	}
}

func loadTOML(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}

	if meta.IsDefined("device") {
		cfg.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("max_queue_depth") {
		cfg.MaxQueueDepth = raw.MaxQueueDepth
	}
	if meta.IsDefined("max_message_size") {
		cfg.MaxMessageSize = raw.MaxMessageSize
	}
	if meta.IsDefined("poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PollInterval))
		if err != nil {
			return Config{}, errors.Wrap(err, "parse poll_interval")
		}
		cfg.PollInterval = d
	}
	if meta.IsDefined("reconnect") {
		cfg.Reconnect = raw.Reconnect
	}

	return cfg, cfg.Validate()
}

func loadYAML(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}

	if raw.Device != nil {
		cfg.Device = strings.TrimSpace(*raw.Device)
	}
	if raw.LogLevel != nil {
		cfg.LogLevel = strings.TrimSpace(*raw.LogLevel)
	}
	if raw.MaxQueueDepth != nil {
		cfg.MaxQueueDepth = *raw.MaxQueueDepth
	}
	if raw.MaxMessageSize != nil {
		cfg.MaxMessageSize = *raw.MaxMessageSize
	}
	if raw.PollInterval != nil {
		d, err := time.ParseDuration(strings.TrimSpace(*raw.PollInterval))
		if err != nil {
			return Config{}, errors.Wrap(err, "parse poll_interval")
		}
		cfg.PollInterval = d
	}
	if raw.Reconnect != nil {
		cfg.Reconnect = *raw.Reconnect
	}

	return cfg, cfg.Validate()
}

// Validate reports settings no command can run with.
func (c Config) Validate() error {
	if c.Device == "" {
		return errors.New("device must not be empty")
	}
	if c.MaxQueueDepth < 0 {
		return errors.Errorf("max_queue_depth must not be negative, got %d", c.MaxQueueDepth)
	}
	if c.MaxMessageSize <= 0 {
		return errors.Errorf("max_message_size must be positive, got %d", c.MaxMessageSize)
	}
	if c.PollInterval <= 0 {
		return errors.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	return nil
}

// PortOptions translates the settings into port options.
func (c Config) PortOptions() []vdport.Option {
	return []vdport.Option{
		vdport.MaxQueueDepthOption(c.MaxQueueDepth),
		vdport.MessageMaxSize(c.MaxMessageSize),
	}
}

// LoopOptions translates the settings into loop options.
func (c Config) LoopOptions() []vdport.LoopOption {
	return []vdport.LoopOption{
		vdport.LoopPollIntervalOption(c.PollInterval),
	}
}
