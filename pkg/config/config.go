// Package config provides configuration loading and management for issdecode.
// It handles loading configuration from YAML files and provides default values.
//
// The blend weights and the merge policy are empirically chosen per dataset;
// registration success can depend on whether the background channel alone or a
// weighted merge of all channels is used as the registration target, so both
// are exposed here rather than fixed in code.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Workers specifies how many cycles may be registered and aligned
		// concurrently once the reference frame is fixed
		Workers int `yaml:"workers"`

		// RegistrationMethod selects the transform estimation algorithm
		RegistrationMethod string `yaml:"registrationMethod"`
	} `yaml:"processing"`

	// Merge parameters control how a cycle's channels are combined into the
	// single image used as the registration target
	Merge struct {
		// Policy is either "background" (use the background channel alone)
		// or "weighted" (blend the summed base channels with the background)
		Policy string `yaml:"policy"`

		// Alpha is the weight of the summed base channels under the
		// "weighted" policy
		Alpha float64 `yaml:"alpha"`

		// Beta is the weight of the background channel under the
		// "weighted" policy
		Beta float64 `yaml:"beta"`
	} `yaml:"merge"`

	// Composite parameters control the output reference/background image
	// built from cycle 0
	Composite struct {
		// ForegroundWeight is the weight of the summed base channels
		ForegroundWeight float64 `yaml:"foregroundWeight"`

		// BackgroundWeight is the weight of the background channel
		BackgroundWeight float64 `yaml:"backgroundWeight"`
	} `yaml:"composite"`

	// Debug parameters control per-cycle diagnostic images
	Debug struct {
		// Enabled turns on writing of per-cycle registration check images
		Enabled bool `yaml:"enabled"`

		// Dir is the directory the diagnostic images are written to
		Dir string `yaml:"dir"`
	} `yaml:"debug"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Workers = runtime.NumCPU()
	cfg.Processing.RegistrationMethod = "ORB"

	cfg.Merge.Policy = "background"
	cfg.Merge.Alpha = 0.5
	cfg.Merge.Beta = 0.6

	cfg.Composite.ForegroundWeight = 0.4
	cfg.Composite.BackgroundWeight = 0.6

	cfg.Debug.Enabled = true
	cfg.Debug.Dir = "debug"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
