package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-json"
)

// Load reads a configuration file and parses it into a tree. Files with
// a .toml extension are decoded as TOML; everything else is JSON. A
// JSON syntax error echoes the raw text to stderr so the operator can
// see what the process actually read.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %s: %w", path, err)
	}
	return LoadBytes(data, path)
}

// LoadBytes parses raw config bytes. The path argument selects the
// format and is used in error messages.
func LoadBytes(data []byte, path string) (*Config, error) {
	root := map[string]any{}

	if strings.HasSuffix(strings.ToLower(path), ".toml") {
		if err := toml.Unmarshal(data, &root); err != nil {
			return nil, fmt.Errorf("config parse error in %s: %w", path, err)
		}
		return New(root), nil
	}

	if err := json.Unmarshal(data, &root); err != nil {
		fmt.Fprintf(os.Stderr, "JSON file:\n%s\n", data)
		return nil, fmt.Errorf("config parse error in %s: %w", path, err)
	}
	return New(root), nil
}
