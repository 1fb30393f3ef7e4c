// Package config loads the demo binary's runtime configuration: where the
// bbolt store lives, how verbose logging is, the executor's global
// concurrency cap, and the optional metrics listen address. A YAML config
// file is read first; every field can then be overridden by an
// FEDIMINT_PSME_* environment variable, checked after the file and before
// any flag overrides applied by the caller.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the demo CLI's full set of knobs.
type Config struct {
	DataDir     string `yaml:"data_dir"`
	LogLevel    string `yaml:"log_level"`
	LogJSON     bool   `yaml:"log_json"`
	Concurrency int    `yaml:"concurrency"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the configuration used when no file or environment
// override is present. MetricsAddr empty means the Prometheus endpoint is
// not served.
func Default() Config {
	return Config{
		DataDir:     "./fedimint-data",
		LogLevel:    "info",
		LogJSON:     false,
		Concurrency: 0,
		MetricsAddr: "",
	}
}

// Load reads path (if non-empty and present) over Default(), then applies
// FEDIMINT_PSME_* environment overrides. A missing path is not an error:
// the demo binary runs fine on defaults alone.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				applyEnv(&cfg)
				return cfg, nil
			}
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FEDIMINT_PSME_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("FEDIMINT_PSME_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FEDIMINT_PSME_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogJSON = b
		}
	}
	if v := os.Getenv("FEDIMINT_PSME_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("FEDIMINT_PSME_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}
