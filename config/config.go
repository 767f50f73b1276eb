package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"jdxi-player/sequencer"
)

// DefaultPortMatch finds the synth among output ports
const DefaultPortMatch = "JD-Xi"

// OutputConfig selects the MIDI output
type OutputConfig struct {
	PortName string `json:"portName,omitempty"` // exact name, wins over Match
	Match    string `json:"match,omitempty"`    // case-insensitive substring for hot-plug
}

// RemoteConfig selects the input that sends Start/Continue/Stop
type RemoteConfig struct {
	PortName string `json:"portName,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// PlaybackConfig stores transport defaults
type PlaybackConfig struct {
	PollIntervalMs         int     `json:"pollIntervalMs,omitempty"`
	SuppressControlChanges bool    `json:"suppressControlChanges"`
	SuppressProgramChanges bool    `json:"suppressProgramChanges"`
	ReleaseNotes           bool    `json:"releaseNotes"`
	SeekStepSeconds        float64 `json:"seekStepSeconds,omitempty"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	Palette  string `json:"palette,omitempty"` // GPL file, built-in palette when empty
	LastFile string `json:"lastFile,omitempty"`
}

// Config is the main configuration structure
type Config struct {
	Output   OutputConfig   `json:"output"`
	Remote   RemoteConfig   `json:"remote"`
	Playback PlaybackConfig `json:"playback"`
	UI       UIConfig       `json:"ui,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Output: OutputConfig{Match: DefaultPortMatch},
		Playback: PlaybackConfig{
			PollIntervalMs:  int(sequencer.DefaultPollInterval / time.Millisecond),
			ReleaseNotes:    true,
			SeekStepSeconds: 5,
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "jdxi-player"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path. Fields missing from the file keep their
// defaults.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the config to path, creating its directory
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// PollInterval returns the configured interval within the supported range
func (c *Config) PollInterval() time.Duration {
	return sequencer.ClampPollInterval(time.Duration(c.Playback.PollIntervalMs) * time.Millisecond)
}

// SeekStep returns the seek step, 5s when unset
func (c *Config) SeekStep() float64 {
	if c.Playback.SeekStepSeconds <= 0 {
		return 5
	}
	return c.Playback.SeekStepSeconds
}

// OutputMatch returns what the port watcher looks for
func (c *Config) OutputMatch() string {
	if c.Output.PortName != "" {
		return c.Output.PortName
	}
	if c.Output.Match != "" {
		return c.Output.Match
	}
	return DefaultPortMatch
}
