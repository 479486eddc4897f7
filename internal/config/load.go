package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variable overrides. A variable
// such as SSHLURE_SSH_PORT maps to the key "ssh.port".
const EnvPrefix = "SSHLURE_"

// Load builds the application configuration. Settings are layered with
// later sources taking precedence: built-in defaults, then the YAML file at
// path (skipped when path is empty), then SSHLURE_* environment variables.
// The result is not validated; callers apply any command-line overrides and
// then call Validate.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load configuration file '%s': %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg, nil
}

// envKey converts an environment variable name into a koanf key. Only the
// first underscore after the prefix separates the section from the setting,
// so SSHLURE_SSH_BIND_ADDRESS becomes "ssh.bind_address".
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}
