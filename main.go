// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// cuxstat - 14CUX live telemetry tool
//
// Polls a 14CUX engine management unit through a serial or WebSocket
// bridge and presents the readings as a dashboard, a text log or a
// Redis stream.

package main

import (
	"os"

	"github.com/Thermoquad/cuxstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
