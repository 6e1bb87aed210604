package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NodeConfig describes one cluster node's static capacity. Zoe has no
// cluster-membership protocol of its own in this build (no backend driver
// is implemented against a real orchestrator), so the node inventory the
// in-memory backend serves is declared up front instead of discovered.
type NodeConfig struct {
	Name       string  `yaml:"name"`
	CoresTotal float64 `yaml:"cores_total"`
	MemoryGiB  int64   `yaml:"memory_gib"`
}

// Config is zoed's full set of tunables, loaded from a small YAML file.
// Parsing it is deliberately schema-light: no JSON-schema validation layer,
// just field-by-field defaulting, matching the spec's scoping of
// predefined-template/schema-validated config parsing out.
type Config struct {
	Policy      string       `yaml:"policy"`
	Store       string       `yaml:"store"`
	DataDir     string       `yaml:"data_dir"`
	MetricsAddr string       `yaml:"metrics_addr"`
	LogLevel    string       `yaml:"log_level"`
	LogJSON     bool         `yaml:"log_json"`
	Nodes       []NodeConfig `yaml:"nodes"`
}

func defaultConfig() Config {
	return Config{
		Policy:      "fifo",
		Store:       "memory",
		DataDir:     "./zoe-data",
		MetricsAddr: ":9090",
		LogLevel:    "info",
		Nodes: []NodeConfig{
			{Name: "node-1", CoresTotal: 4, MemoryGiB: 8},
		},
	}
}

// loadConfig reads path if it exists, overlaying it onto defaultConfig. A
// missing file is not an error: zoed runs with a single simulated node out
// of the box.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(cfg.Nodes) == 0 {
		return cfg, fmt.Errorf("config: at least one node is required")
	}
	return cfg, nil
}
