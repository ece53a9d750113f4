// Package config loads the YAML configuration for a pagestore demo
// process: buffer pool sizing, eviction policy choice, and the set of data
// files it should open on startup.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"pagestore/storage/buffer"
)

// DataFile names one file the demo process should add to the pager and
// pre-size on startup.
type DataFile struct {
	Path         string `yaml:"path"`
	InitialPages uint64 `yaml:"initial_pages"`
}

// DemoConfig is the top-level shape of a pagestored config file.
type DemoConfig struct {
	BufferSize   int        `yaml:"buffer_size"`
	Policy       string     `yaml:"policy"`
	MetadataFile string     `yaml:"metadata_file"`
	FlushCron    string     `yaml:"flush_cron"`
	DataFiles    []DataFile `yaml:"data_files"`
}

// Load reads and parses a YAML config file at path, applying defaults for
// any field left empty or zero.
func Load(path string) (*DemoConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	var cfg DemoConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	cfg.applyDefaults()
	if len(cfg.DataFiles) == 0 {
		return nil, fmt.Errorf("config: %q declares no data_files", path)
	}
	return &cfg, nil
}

func (c *DemoConfig) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.Policy == "" {
		c.Policy = "lru"
	}
	if c.MetadataFile == "" {
		c.MetadataFile = "metadata.db"
	}
	if c.FlushCron == "" {
		c.FlushCron = "@every 30s"
	}
	for i := range c.DataFiles {
		if c.DataFiles[i].InitialPages == 0 {
			c.DataFiles[i].InitialPages = 16
		}
	}
}

// PolicyKind resolves the configured policy name to a buffer.PolicyKind,
// failing on anything other than "lru" or "clock".
func (c *DemoConfig) PolicyKind() (buffer.PolicyKind, error) {
	switch c.Policy {
	case "lru":
		return buffer.LRU, nil
	case "clock":
		return buffer.Clock, nil
	default:
		return "", fmt.Errorf("config: unknown policy %q (want \"lru\" or \"clock\")", c.Policy)
	}
}
