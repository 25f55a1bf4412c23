// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
	"github.com/Thermoquad/cuxstat/pkg/engine"
)

var (
	romOutput     string
	batteryBacked bool
)

var romCmd = &cobra.Command{
	Use:   "rom",
	Short: "Dump the ECU ROM image to a file",
	Long: `Read the 16 KiB ROM image (or, with --battery-ram, the 64 bytes of
battery-backed memory) and write it to a file.

The read takes several seconds over a serial bridge. Ctrl-C cancels it at the
next chunk boundary and nothing is written.`,
	RunE: runROM,
}

func init() {
	romCmd.Flags().StringVarP(&romOutput, "output", "o", "", "Output file (default rom.bin or bbram.bin)")
	romCmd.Flags().BoolVar(&batteryBacked, "battery-ram", false, "Read battery-backed memory instead of the ROM")
	rootCmd.AddCommand(romCmd)
}

func runROM(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	what, size, out := "ROM image", ecu.ROMSize, "rom.bin"
	req := request{
		kind: engine.ROMImageRead,
		ends: kinds(engine.ROMImageReady, engine.ROMImageReadFailed),
	}
	if batteryBacked {
		what, size, out = "battery-backed memory", ecu.BatteryBackedMemorySize, "bbram.bin"
		req = request{
			kind: engine.BatteryBackedMemRead,
			ends: kinds(engine.BatteryBackedMemReady, engine.BatteryBackedMemReadFailed),
		}
	}
	if romOutput != "" {
		out = romOutput
	}

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Reading %s (%d bytes)...", what, size))
	snap, ev, err := runRequest(ctx, req, func(ev engine.Event) {
		if ev.Kind == engine.RevisionNumberReady {
			spinner.UpdateText(fmt.Sprintf("Reading %s from tune %s...", what, ev.Ident))
		}
	})
	if errors.Is(err, ecu.ErrCancelled) || errors.Is(err, context.Canceled) {
		spinner.Warning("Read cancelled")
		return nil
	}
	if err != nil {
		spinner.Fail("Request failed")
		return err
	}
	if ev.Err != nil {
		spinner.Fail(fmt.Sprintf("Could not read %s", what))
		return ev.Err
	}

	data := snap.ROMImage()
	if batteryBacked {
		data = snap.BatteryBackedMemory()
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		spinner.Fail("Write failed")
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	spinner.Success(fmt.Sprintf("Wrote %d bytes of %s to %s", len(data), what, out))
	return nil
}
