// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
	"github.com/Thermoquad/cuxstat/pkg/engine"
	"github.com/Thermoquad/cuxstat/pkg/highlight"
)

var fuelMapCmd = &cobra.Command{
	Use:   "fuelmap <id>",
	Short: "Fetch a fuel map and print it as a coloured grid",
	Long: fmt.Sprintf(`Read one of the stored fuel maps (%d-%d) and print its 8x16 cells,
coloured from blue (lean) to red (rich).

Maps 2, 3 and 4 run open loop; the others run closed loop.`, ecu.FirstFuelMap, ecu.LastFuelMap),
	Args: cobra.ExactArgs(1),
	RunE: runFuelMap,
}

func init() {
	rootCmd.AddCommand(fuelMapCmd)
}

func runFuelMap(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil || !ecu.ValidFuelMapID(id) {
		return fmt.Errorf("fuel map id must be %d-%d, got %q", ecu.FirstFuelMap, ecu.LastFuelMap, args[0])
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Reading fuel map %d...", id))
	snap, ev, err := runRequest(ctx, request{
		kind: engine.FuelMapRead,
		arg:  id,
		ends: func(ev engine.Event) bool {
			return (ev.Kind == engine.FuelMapReady || ev.Kind == engine.FuelMapReadFailed) && ev.MapID == id
		},
	}, nil)
	if errors.Is(err, ecu.ErrCancelled) || errors.Is(err, context.Canceled) {
		spinner.Warning("Read cancelled")
		return nil
	}
	if err != nil {
		spinner.Fail("Request failed")
		return err
	}
	if ev.Kind == engine.FuelMapReadFailed {
		spinner.Fail(fmt.Sprintf("Could not read fuel map %d", id))
		return ev.Err
	}
	spinner.Success(fmt.Sprintf("Fuel map %d read", id))

	m, _ := snap.FuelMap(id)
	pterm.DefaultHeader.WithFullWidth().Printf("Fuel Map %d (%s)", id, ecu.FeedbackModeForMap(id))
	pterm.Info.Printf("Adjustment factor 0x%04X, row scaler 0x%04X\n", m.AdjustmentFactor, m.RowScaler)
	fmt.Println(renderFuelMap(m, nil))
	return nil
}

// renderFuelMap draws m as a grid of hex cells coloured by value. Cells in
// active are shaded by their factor; solid cells are bracketed.
func renderFuelMap(m *ecu.FuelMap, active map[[2]int]highlight.Cell) string {
	var b strings.Builder

	b.WriteString("    ")
	for col := 0; col < ecu.FuelMapCols; col++ {
		fmt.Fprintf(&b, " %2d ", col)
	}
	b.WriteByte('\n')

	for row := 0; row < ecu.FuelMapRows; row++ {
		fmt.Fprintf(&b, " %2d ", row)
		for col := 0; col < ecu.FuelMapCols; col++ {
			v := m.Cell(row, col)
			text := fmt.Sprintf(" %02X ", v)
			factor := 1.0
			if cell, ok := active[[2]int{row, col}]; ok {
				if cell.Solid {
					text = fmt.Sprintf("[%02X]", v)
				} else {
					factor = cell.Factor
				}
			}
			bg, fg := highlight.Colors(v, factor)
			style := lipgloss.NewStyle().
				Background(lipgloss.Color(bg.Hex())).
				Foreground(lipgloss.Color(fg.Hex()))
			b.WriteString(style.Render(text))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
