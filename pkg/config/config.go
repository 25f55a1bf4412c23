// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
	"github.com/Thermoquad/cuxstat/pkg/engine"
	"github.com/Thermoquad/cuxstat/pkg/highlight"
	"github.com/Thermoquad/cuxstat/pkg/logging"
)

// Config represents a cuxstat.yaml file. All values are optional and act
// as defaults; command line flags override them.
type Config struct {
	Link       LinkConfig              `yaml:"link"`
	Samples    map[string]SampleConfig `yaml:"samples"`
	LambdaTrim string                  `yaml:"lambda_trim"`
	Highlight  string                  `yaml:"highlight"`
	Publish    PublishConfig           `yaml:"publish"`
	Log        LogConfig               `yaml:"log"`
}

// LinkConfig selects and tunes the bridge connection
type LinkConfig struct {
	Port        string   `yaml:"port"`
	Baud        int      `yaml:"baud"`
	URL         string   `yaml:"url"`
	Username    string   `yaml:"username"`
	NoSSLVerify bool     `yaml:"no_ssl_verify"`
	ReadTimeout Duration `yaml:"read_timeout"`
	Pace        Duration `yaml:"pace"`
}

// SampleConfig overrides one sample's enable flag and interval. Omitted
// values keep the defaults.
type SampleConfig struct {
	Enabled  *bool     `yaml:"enabled,omitempty"`
	Interval *Duration `yaml:"interval,omitempty"`
}

// PublishConfig configures the Redis telemetry publisher
type PublishConfig struct {
	RedisURL string   `yaml:"redis_url"`
	Channel  string   `yaml:"channel"`
	Timeout  Duration `yaml:"timeout,omitempty"`
	Retries  *int     `yaml:"retries,omitempty"`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "200ms", "1s")
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "800ms" or "1m30s"
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("negative duration %q", s)
	}
	d.Duration = parsed
	return nil
}

// Validate checks every enumerated value
func (c *Config) Validate() error {
	var errs []error
	for _, name := range c.sampleNames() {
		if _, err := ecu.ParseSampleType(name); err != nil {
			errs = append(errs, fmt.Errorf("samples: %w", err))
		}
	}
	if c.LambdaTrim != "" {
		if _, err := ecu.ParseLambdaTrimType(c.LambdaTrim); err != nil {
			errs = append(errs, fmt.Errorf("lambda_trim: %w", err))
		}
	}
	if _, err := highlight.ParseMode(c.Highlight); err != nil {
		errs = append(errs, fmt.Errorf("highlight: %w", err))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Link.Port != "" && c.Link.URL != "" {
		errs = append(errs, errors.New("link: port and url are mutually exclusive"))
	}
	return errors.Join(errs...)
}

func (c *Config) sampleNames() []string {
	names := make([]string, 0, len(c.Samples))
	for name := range c.Samples {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schedule builds the engine schedule: the defaults with the configured
// overrides applied
func (c *Config) Schedule() (*engine.Schedule, error) {
	s := engine.DefaultSchedule()
	if c.LambdaTrim != "" {
		kind, err := ecu.ParseLambdaTrimType(c.LambdaTrim)
		if err != nil {
			return nil, err
		}
		s.LambdaTrim = kind
	}
	for _, name := range c.sampleNames() {
		st, err := ecu.ParseSampleType(name)
		if err != nil {
			return nil, err
		}
		sc := c.Samples[name]
		if sc.Enabled != nil {
			s.Samples[st].Enabled = *sc.Enabled
		}
		if sc.Interval != nil {
			s.Samples[st].Interval = sc.Interval.Duration
		}
	}
	return s, nil
}

// HighlightMode returns the configured fuel map highlight mode
func (c *Config) HighlightMode() highlight.Mode {
	m, _ := highlight.ParseMode(c.Highlight)
	return m
}
