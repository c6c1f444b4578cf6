package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds user-adjustable defaults for the flash command. All fields
// are optional; flags always win over the file.
type Config struct {
	ChunkSize string `yaml:"chunk_size,omitempty"`
	Verify    bool   `yaml:"verify,omitempty"`
}

// DefaultPath returns the expected config file location
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "peka", "config.yaml")
	}
	return ""
}

// Load reads the config file at path, or the default location when path is
// empty. A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
