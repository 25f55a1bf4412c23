// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cuxstat/pkg/config"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Data source and tuning
	simulate    bool
	readTimeout time.Duration
	pace        time.Duration

	// Configuration and logging
	configPath string
	logFile    string
	logLevel   string

	// fileConfig holds the loaded --config file, or an empty config
	fileConfig = &config.Config{}
)

var rootCmd = &cobra.Command{
	Use:   "cuxstat",
	Short: "Live telemetry for 14CUX engine management units",
	Long: `cuxstat - polls a 14CUX engine control unit through a serial or WebSocket
bridge and presents its live readings.

Sampling runs on a background engine that reads each enabled value at its own
interval and interleaves one-shot requests (fuel maps, fault codes, ROM dumps)
between sampling passes.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]
  Simulated: --simulate

For WebSocket authentication, the password is read from the CUXSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Defaults for every flag can be set in a YAML file passed with --config.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Use the simulated ECU instead of a bridge")
	rootCmd.PersistentFlags().DurationVar(&readTimeout, "read-timeout", 0, "Per-request response timeout (default 1s)")
	rootCmd.PersistentFlags().DurationVar(&pace, "pace", 0, "Minimum time between polling passes")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write JSON logs to this file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

// loadConfig reads --config and fills every flag the user did not set
func loadConfig(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fileConfig = cfg

	flags := cmd.Flags()
	link := cfg.Link
	if !flags.Changed("port") && !flags.Changed("url") {
		portName = link.Port
		wsURL = link.URL
	}
	if !flags.Changed("baud") && link.Baud > 0 {
		baudRate = link.Baud
	}
	if !flags.Changed("username") && link.Username != "" {
		wsUsername = link.Username
	}
	if !flags.Changed("no-ssl-verify") && link.NoSSLVerify {
		wsNoSSLVerify = true
	}
	if !flags.Changed("read-timeout") && link.ReadTimeout.Duration > 0 {
		readTimeout = link.ReadTimeout.Duration
	}
	if !flags.Changed("pace") && link.Pace.Duration > 0 {
		pace = link.Pace.Duration
	}
	if !flags.Changed("log-file") && cfg.Log.File != "" {
		logFile = cfg.Log.File
	}
	if !flags.Changed("log-level") && cfg.Log.Level != "" {
		logLevel = cfg.Log.Level
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
