// Package config handles loading gridloom configuration presets.
//
// A preset file bundles the architecture, the placer sequence and the
// router tuning for a project, so runs are reproducible without long
// option strings:
//
//	architecture: k6_n10.json
//	placers:
//	  - name: analytical
//	  - name: SA
//	    options:
//	      lambda: "0.5"
//	router:
//	  timing_driven: true
//	  max_trials: 100
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PlacerSpec selects one placer stage by name with free-form options.
type PlacerSpec struct {
	Name    string            `yaml:"name"`
	Options map[string]string `yaml:"options,omitempty"`
}

// RouterConfig holds the router tuning knobs a preset may override.
type RouterConfig struct {
	TimingDriven *bool `yaml:"timing_driven,omitempty"`
	MaxTrials    int   `yaml:"max_trials,omitempty"`
	ChannelWidth int   `yaml:"channel_width,omitempty"`
}

// Config is the top-level preset.
type Config struct {
	Architecture string       `yaml:"architecture,omitempty"`
	Placers      []PlacerSpec `yaml:"placers,omitempty"`
	Router       RouterConfig `yaml:"router,omitempty"`
}

// DefaultConfig returns the standard placer sequence. Its Router section is
// empty, so the router keeps its own defaults.
func DefaultConfig() Config {
	return Config{
		Placers: []PlacerSpec{
			{Name: "analytical"},
			{Name: "SA"},
		},
	}
}

// Load reads a preset from a YAML file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes a preset to a YAML file.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
