// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cuxstat/pkg/cuxlink"
	"github.com/Thermoquad/cuxstat/pkg/ecu"
)

var (
	pingTimeout time.Duration
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the bridge by sending ping requests",
	Long: `Send ping requests to the serial or WebSocket bridge and wait for the
responses. The bridge answers locally with its uptime; the ECU is not involved.

This is useful for verifying:
  - the serial port or WebSocket opens
  - HTTP Basic authentication works
  - frames flow in both directions

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 5*time.Second, "Timeout for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	if simulate {
		return errors.New("ping needs a bridge; --simulate has none")
	}
	if pingCount < 1 {
		return fmt.Errorf("--count must be at least 1, got %d", pingCount)
	}

	log, closeLog, err := newLogger(os.Stderr, "warn")
	if err != nil {
		return err
	}
	defer closeLog()

	open, device, err := linkOpener()
	if err != nil {
		return err
	}
	adapter := cuxlink.NewAdapter(open, cuxlink.AdapterConfig{Timeout: pingTimeout, Logger: log})

	fmt.Printf("cuxstat - Bridge Ping Test\n")
	fmt.Printf("Device: %s\n", device)
	fmt.Printf("Timeout: %v per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	// Connect pings once to confirm the bridge answers
	if err := adapter.Connect(device); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = adapter.Disconnect() }()

	successCount := 0
	failCount := 0
	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		rtt, uptime, err := adapter.Ping()
		switch {
		case errors.Is(err, ecu.ErrTimeout):
			fmt.Printf("TIMEOUT (no response in %v)\n", pingTimeout)
			failCount++
		case err != nil:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		default:
			fmt.Printf("PONG from bridge, uptime=%v, rtt=%v\n", uptime.Round(time.Second), rtt.Round(time.Millisecond))
			successCount++
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	stats := adapter.Stats()
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)
	fmt.Printf("frames sent=%d received=%d crc_errors=%d decode_errors=%d stale=%d\n",
		stats.FramesSent, stats.FramesReceived, stats.CRCErrors, stats.DecodeErrors, stats.StaleFrames)

	if failCount > 0 {
		_ = adapter.Disconnect()
		os.Exit(1)
	}
	return nil
}
