// Package config loads the list of publication points rrdp-sync should
// track, plus the cache/tmp roots servers are allocated under. Keeping
// this outside the core is deliberate: spec.md names configuration
// loading as out of the update engine's scope, so only cmd/rrdp-sync
// imports this package.
package config

import (
	"os"

	yaml "gopkg.in/yaml.v2"

	"rrdpcache.io/errors"
)

// PublicationPoint is one RRDP repository to keep mirrored.
type PublicationPoint struct {
	// NotifyURI is the repository's notification.xml location.
	NotifyURI string `yaml:"notify-uri"`
	// Dir optionally pins the server's local directory instead of
	// letting the cache root allocate one. Empty means "allocate".
	Dir string `yaml:"dir,omitempty"`
}

// Config is the top-level document loaded from a YAML file.
type Config struct {
	// CacheRoot is where fresh server directories are allocated.
	CacheRoot string `yaml:"cache-root"`
	// TmpRoot is scratch space for in-flight snapshot/delta fetches.
	TmpRoot string `yaml:"tmp-root"`
	// PublicationPoints lists every repository to track.
	PublicationPoints []PublicationPoint `yaml:"publication-points"`
}

// Load reads and validates a Config from path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.E("config.Load", errors.FsIO, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.E("config.Load", errors.Other, err)
	}
	if err := c.validate(); err != nil {
		return Config{}, errors.E("config.Load", errors.Other, err)
	}
	return c, nil
}

func (c Config) validate() error {
	if c.CacheRoot == "" {
		return errors.Str("config: cache-root is required")
	}
	if c.TmpRoot == "" {
		return errors.Str("config: tmp-root is required")
	}
	if len(c.PublicationPoints) == 0 {
		return errors.Str("config: at least one publication point is required")
	}
	seen := make(map[string]bool, len(c.PublicationPoints))
	for _, p := range c.PublicationPoints {
		if p.NotifyURI == "" {
			return errors.Str("config: publication point missing notify-uri")
		}
		if seen[p.NotifyURI] {
			return errors.Str("config: duplicate publication point " + p.NotifyURI)
		}
		seen[p.NotifyURI] = true
	}
	return nil
}
