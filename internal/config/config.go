// Package config loads and validates the generator's TOML configuration.
package config

import (
	"bytes"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/DrC0ns0le/irr-filter/internal/irr"
	"github.com/DrC0ns0le/irr-filter/internal/render"
)

type Config struct {
	Global  Global   `toml:"global"`
	Routers []Router `toml:"routers"`
}

type Global struct {
	// Server is the IRR whois endpoint, host:port.
	Server    string `toml:"server"`
	OutputDir string `toml:"outputdir"`
	// Sources restricts queries to these registries, in preference order,
	// e.g. RADB, RIPE, APNIC.
	Sources []string `toml:"sources"`
	// Aggregate defaults to true when absent.
	Aggregate  *bool `toml:"aggregate"`
	Timestamps bool  `toml:"timestamps"`
	// MinLength4/MinLength6 stop aggregation from collapsing entries
	// shorter than this length. 0 disables the bound.
	MinLength4 uint8 `toml:"min_length4"`
	MinLength6 uint8 `toml:"min_length6"`
}

type Router struct {
	Hostname string   `toml:"hostname"`
	Style    string   `toml:"style"`
	Filters  []string `toml:"filters"`
}

// Load reads and validates a config file. Unknown keys are rejected so a
// typo cannot silently disable aggregation or drop a router.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Global.Server == "" {
		return errors.New("config: global.server is required")
	}
	if c.Global.OutputDir == "" {
		return errors.New("config: global.outputdir is required")
	}
	if len(c.Global.Sources) == 0 {
		return errors.New("config: global.sources is required")
	}
	if len(c.Routers) == 0 {
		return errors.New("config: at least one router is required")
	}
	for _, r := range c.Routers {
		if r.Hostname == "" {
			return errors.New("config: router hostname is required")
		}
		if _, err := render.ParseStyle(r.Style); err != nil {
			return errors.Wrapf(err, "config: router %s", r.Hostname)
		}
		if len(r.Filters) == 0 {
			return errors.Errorf("config: router %s has no filters", r.Hostname)
		}
		for _, f := range r.Filters {
			if _, err := irr.ClassifyFilter(f); err != nil {
				return errors.Wrapf(err, "config: router %s", r.Hostname)
			}
		}
	}
	return nil
}

// AggregateEnabled resolves the tri-state aggregate flag, defaulting on.
func (c *Config) AggregateEnabled() bool {
	return c.Global.Aggregate == nil || *c.Global.Aggregate
}

// MinLength returns the aggregation length bound for a family.
func (c *Config) MinLength(family irr.Family) uint8 {
	if family == irr.FamilyIPv6 {
		return c.Global.MinLength6
	}
	return c.Global.MinLength4
}
