package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads path, expands environment references, parses the YAML and
// validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes config bytes. Unknown keys are rejected. name labels errors.
func Parse(data []byte, name string) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(ExpandEnv(string(data)))))
	dec.KnownFields(true)
	// An empty or comments-only document decodes as io.EOF.
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML in %s: %w", name, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", name, err)
	}
	return &cfg, nil
}

// Discover loads path when set. Otherwise it loads DefaultFile from the
// working directory if present, and returns nil when it is not.
func Discover(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if _, err := os.Stat(DefaultFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot stat %s: %w", DefaultFile, err)
	}
	return Load(DefaultFile)
}
