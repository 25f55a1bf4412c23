// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
	"github.com/Thermoquad/cuxstat/pkg/engine"
)

var clearFaults bool

var faultsCmd = &cobra.Command{
	Use:   "faults",
	Short: "Read or clear the ECU fault codes",
	Long: `Read the fault code bitfield and print every stored code.

With --clear, the codes are cleared first and the (now empty) table is
printed.`,
	RunE: runFaults,
}

func init() {
	faultsCmd.Flags().BoolVar(&clearFaults, "clear", false, "Clear the stored fault codes")
	rootCmd.AddCommand(faultsCmd)
}

func runFaults(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	req := request{
		kind: engine.FaultCodesRead,
		ends: kinds(engine.FaultCodesReady, engine.FaultCodesReadFailed),
	}
	if clearFaults {
		req = request{
			kind: engine.FaultCodesClear,
			ends: kinds(engine.FaultCodesClearSuccess, engine.FaultCodesClearFailure),
		}
	}

	spinner, _ := pterm.DefaultSpinner.Start("Reading fault codes...")
	snap, ev, err := runRequest(ctx, req, nil)
	if err != nil {
		spinner.Fail("Request failed")
		return err
	}
	switch ev.Kind {
	case engine.FaultCodesReadFailed:
		spinner.Fail("Could not read fault codes")
		return ev.Err
	case engine.FaultCodesClearFailure:
		spinner.Fail("Could not clear fault codes")
		return ev.Err
	case engine.FaultCodesClearSuccess:
		spinner.Success("Fault codes cleared")
	default:
		spinner.Success("Fault codes read")
	}

	printFaultTable(snap.Identification(), snap.FaultCodes())
	return nil
}

// printFaultTable renders every known code with its state
func printFaultTable(ident ecu.Identification, codes ecu.FaultCodes) {
	pterm.DefaultHeader.WithFullWidth().Println("Fault Codes")
	pterm.Info.Printf("Tune %s\n", ident)

	active := make(map[string]bool)
	for _, name := range codes.Active() {
		active[name] = true
	}

	data := pterm.TableData{{"Code", "State"}}
	for _, name := range ecu.FaultNames() {
		state := pterm.FgGray.Sprint("clear")
		if active[name] {
			state = pterm.FgRed.Sprint("SET")
		}
		data = append(data, []string{name, state})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	if n := codes.Count(); n > 0 {
		pterm.Warning.Printf("%d fault code(s) stored (raw % X)\n", n, codes[:])
	} else {
		pterm.Success.Println("No fault codes stored")
	}
	fmt.Println()
}
