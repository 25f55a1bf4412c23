// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
	"github.com/Thermoquad/cuxstat/pkg/engine"
	"github.com/Thermoquad/cuxstat/pkg/highlight"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cuxstat.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}

// ============================================================
// Load Tests
// ============================================================

func TestLoad_FullConfig(t *testing.T) {
	t.Setenv("CUXSTAT_TEST_REDIS", "redis://localhost:6379/2")

	path := writeTemp(t, `link:
  port: /dev/ttyUSB0
  baud: 9600
  read_timeout: 750ms
  pace: 20ms

lambda_trim: long
highlight: hard

samples:
  coolant_temp:
    interval: 2s
  road_speed:
    enabled: false
  main_voltage:
    enabled: true
    interval: 0s

publish:
  redis_url: ${CUXSTAT_TEST_REDIS}
  channel: ${CUXSTAT_TEST_CHANNEL:-cuxstat:telemetry}
  timeout: 3s
  retries: 2

log:
  level: debug
  file: /tmp/cuxstat.log
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "link.port", cfg.Link.Port, "/dev/ttyUSB0")
	if cfg.Link.Baud != 9600 {
		t.Errorf("link.baud = %d", cfg.Link.Baud)
	}
	if cfg.Link.ReadTimeout.Duration != 750*time.Millisecond {
		t.Errorf("link.read_timeout = %v", cfg.Link.ReadTimeout.Duration)
	}
	assertEqual(t, "publish.redis_url", cfg.Publish.RedisURL, "redis://localhost:6379/2")
	assertEqual(t, "publish.channel", cfg.Publish.Channel, "cuxstat:telemetry")
	if cfg.Publish.Retries == nil || *cfg.Publish.Retries != 2 {
		t.Errorf("publish.retries = %v", cfg.Publish.Retries)
	}
	assertEqual(t, "log.level", cfg.Log.Level, "debug")
	if cfg.HighlightMode() != highlight.Hard {
		t.Errorf("highlight = %v", cfg.HighlightMode())
	}

	s, err := cfg.Schedule()
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if s.LambdaTrim != ecu.TrimLong {
		t.Errorf("lambda trim = %v", s.LambdaTrim)
	}
	if got := s.Samples[ecu.CoolantTemp]; !got.Enabled || got.Interval != 2*time.Second {
		t.Errorf("coolant_temp = %+v", got)
	}
	if s.Samples[ecu.RoadSpeed].Enabled {
		t.Error("road_speed should be disabled")
	}
	if got := s.Samples[ecu.MainVoltage]; !got.Enabled || got.Interval != 0 {
		t.Errorf("main_voltage = %+v", got)
	}
	if got := s.Samples[ecu.FuelTemp]; !got.Enabled || got.Interval != engine.LowInterval {
		t.Errorf("fuel_temp kept defaults? %+v", got)
	}
}

func TestLoad_EmptyConfigGivesDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	s, err := cfg.Schedule()
	if err != nil {
		t.Fatal(err)
	}
	if *s != *engine.DefaultSchedule() {
		t.Error("empty config should yield the default schedule")
	}
	if cfg.HighlightMode() != highlight.Soft {
		t.Error("default highlight should be soft")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad yaml", "link: [", "invalid YAML"},
		{"bad duration", "link:\n  read_timeout: soon\n", "invalid duration"},
		{"unknown sample", "samples:\n  boost_pressure:\n    enabled: true\n", "boost_pressure"},
		{"bad trim", "lambda_trim: medium\n", "lambda_trim"},
		{"bad highlight", "highlight: blink\n", "highlight"},
		{"bad log level", "log:\n  level: loud\n", "log.level"},
		{"port and url", "link:\n  port: /dev/ttyUSB0\n  url: ws://bridge\n", "mutually exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

// ============================================================
// Environment Expansion Tests
// ============================================================

func TestExpandEnv(t *testing.T) {
	t.Setenv("CUXSTAT_SET", "real")
	t.Setenv("CUXSTAT_EMPTY", "")

	tests := []struct {
		in   string
		want string
	}{
		{"port: ${CUXSTAT_SET}", "port: real"},
		{"port: ${CUXSTAT_UNSET_12345}", "port: "},
		{"port: ${CUXSTAT_UNSET_12345:-/dev/ttyUSB0}", "port: /dev/ttyUSB0"},
		{"port: ${CUXSTAT_SET:-fallback}", "port: real"},
		{"port: ${CUXSTAT_EMPTY:-fallback}", "port: fallback"},
		{"port: $CUXSTAT_SET", "port: $CUXSTAT_SET"},
	}
	for _, tt := range tests {
		if got := ExpandEnv(tt.in); got != tt.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
