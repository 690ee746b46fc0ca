// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"vitalsync.yaml",
	"vitalsync.yml",
	"/etc/vitalsync/config.yaml",
	"/etc/vitalsync/config.yml",
}

// EnvPrefix is the prefix for configuration environment variables:
// VITALSYNC_DATABASE_PATH -> database.path.
const EnvPrefix = "VITALSYNC_"

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "VITALSYNC_CONFIG"

// sliceConfigPaths are config keys whose env-var values are parsed as
// comma-separated lists.
var sliceConfigPaths = []string{
	"sync.metrics",
	"server.cors_allowed_origins",
}

// Load builds the configuration in three layers: struct defaults, an
// optional YAML file (explicit path, env override, or the default search
// paths), and VITALSYNC_* environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	// Env vars arrive as strings; known list keys are split on commas.
	for _, p := range sliceConfigPaths {
		if v, ok := k.Get(p).(string); ok {
			items := strings.Split(v, ",")
			for i := range items {
				items[i] = strings.TrimSpace(items[i])
			}
			if err := k.Set(p, items); err != nil {
				return nil, fmt.Errorf("split list %s: %w", p, err)
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps VITALSYNC_SERVER_RATE_LIMIT_REQUESTS to
// server.rate_limit_requests. The first underscore separates the section;
// the rest of the name is the key.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, key, found := strings.Cut(s, "_")
	if !found {
		return section
	}
	return section + "." + key
}
