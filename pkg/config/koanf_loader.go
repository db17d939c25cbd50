package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader loads a Config from a YAML file with an environment-variable
// overlay. Unlike the product this package was adapted from, it does not
// watch a remote config store: the engine loads its configuration once at
// process start and the document is immutable for the lifetime of the run.
type Loader struct {
	k    *koanf.Koanf
	path string
}

// NewLoader creates a Loader that reads the YAML document at path.
func NewLoader(path string) *Loader {
	return &Loader{
		k:    koanf.New("."),
		path: path,
	}
}

// Load reads the configuration file, expands ${VAR}/$VAR references against
// the process environment, applies hard-coded defaults for anything left
// unset, and validates the database section.
func (l *Loader) Load() (*Config, error) {
	if l.path != "" {
		if err := l.k.Load(file.Provider(l.path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.path, err)
		}
	}

	expanded := ExpandEnvVarsInData(l.k.Raw())
	if expandedMap, ok := expanded.(map[string]interface{}); ok {
		if err := l.k.Load(confmap.Provider(expandedMap, "."), nil); err != nil {
			return nil, fmt.Errorf("apply env overlay: %w", err)
		}
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Database.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	return &cfg, nil
}

// LoadConfig is a convenience wrapper around NewLoader(path).Load(). An
// empty path reads no file and yields only the hard-coded defaults.
func LoadConfig(path string) (*Config, error) {
	return NewLoader(path).Load()
}
