package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
)

type Config struct {
	LogLevel string  `json:"log_level"`
	Capture  Capture `json:"capture"`
	Daemon   Daemon  `json:"daemon"`
}

// Capture holds the caller-facing capture settings. Values are clamped at
// session start regardless of where they came from.
type Capture struct {
	SampleRate      int     `json:"sample_rate"`
	Channels        int     `json:"channels"`
	BitDepth        int     `json:"bit_depth"` // always forced to 16
	GainBoost       float64 `json:"gain_boost"`
	InputVolume     float64 `json:"input_volume"`
	ChunkDurationMs int     `json:"chunk_duration_ms"`
}

// Daemon configures the streaming daemon.
type Daemon struct {
	ListenAddr string `json:"listen_addr"`
}

// DefaultCapture returns the capture defaults.
func DefaultCapture() Capture {
	return Capture{
		SampleRate:      16000,
		Channels:        1,
		BitDepth:        16,
		GainBoost:       2.5,
		InputVolume:     1.0,
		ChunkDurationMs: 1000,
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	path := configPath()

	cfg := &Config{
		LogLevel: "info",
		Capture:  DefaultCapture(),
		Daemon: Daemon{
			ListenAddr: "127.0.0.1:8571",
		},
	}

	// Load existing config if it exists
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := configPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Clamp forces every capture setting into its supported range. Applied
// identically whether the values came from the config file or a caller.
func (c *Capture) Clamp() {
	if c.SampleRate < 8000 {
		c.SampleRate = 8000
	}
	if c.Channels < 1 {
		c.Channels = 1
	}
	if c.Channels > 2 {
		c.Channels = 2
	}
	c.BitDepth = 16
	if c.GainBoost < 0.1 {
		c.GainBoost = 0.1
	}
	if c.GainBoost > 10.0 {
		c.GainBoost = 10.0
	}
	if c.InputVolume < 0.0 {
		c.InputVolume = 0.0
	}
	if c.InputVolume > 1.0 {
		c.InputVolume = 1.0
	}
	if c.ChunkDurationMs < 10 {
		c.ChunkDurationMs = 10
	}
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "audiotap", "config.json")
}
