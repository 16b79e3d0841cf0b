package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	BLE        BLEConfig        `yaml:"ble"`
	SVS        SVSConfig        `yaml:"svs"`
	Server     ServerConfig     `yaml:"server"`
	Presets    PresetsConfig    `yaml:"presets"`
	NowPlaying NowPlayingConfig `yaml:"nowplaying"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"`
}

// BLEConfig holds discovery settings. The target device and its UUIDs are
// fixed and not configurable.
type BLEConfig struct {
	ScanSeconds       float64 `yaml:"scan_seconds"`
	ValidateOnConnect bool    `yaml:"validate_on_connect"`
}

// SVSConfig holds command pacing.
type SVSConfig struct {
	SettleMS int `yaml:"settle_ms"` // pause after each acknowledged frame; 0 disables
}

// ServerConfig holds the HTTP listener.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// PresetsConfig holds preset storage.
type PresetsConfig struct {
	DBPath string `yaml:"db_path"`
}

// NowPlayingConfig selects the media source.
type NowPlayingConfig struct {
	Source string `yaml:"source"` // "mpris" or "none"
}

// ScanDuration returns the scan window.
func (b BLEConfig) ScanDuration() time.Duration {
	return time.Duration(b.ScanSeconds * float64(time.Second))
}

// Settle returns the pause after each frame.
func (s SVSConfig) Settle() time.Duration {
	return time.Duration(s.SettleMS) * time.Millisecond
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "svs-remote")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dbPath := filepath.Join(home, ".local", "share", "svs-remote", "presets.db")

	return &Config{
		BLE: BLEConfig{
			ScanSeconds: 4,
		},
		SVS: SVSConfig{
			SettleMS: 100,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8741",
		},
		Presets: PresetsConfig{
			DBPath: dbPath,
		},
		NowPlaying: NowPlayingConfig{
			Source: "mpris",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there. It returns the written path, or "" if a file was already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	header := "# svs-remote configuration\n# The target device name and UUIDs are fixed and cannot be set here.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in presets.db_path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Presets.DBPath = expandTilde(cfg.Presets.DBPath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.BLE.ScanSeconds <= 0 {
		return fmt.Errorf("ble.scan_seconds must be > 0")
	}

	if c.SVS.SettleMS < 0 {
		return fmt.Errorf("svs.settle_ms must be >= 0")
	}

	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}

	if c.Presets.DBPath == "" {
		return fmt.Errorf("presets.db_path must not be empty")
	}

	switch c.NowPlaying.Source {
	case "mpris", "none":
	default:
		return fmt.Errorf("nowplaying.source must be \"mpris\" or \"none\", got %q", c.NowPlaying.Source)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
