// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ecu

import (
	"context"
	"errors"
)

// Errors returned by adapters
var (
	ErrNotConnected = errors.New("ecu: not connected")
	ErrTimeout      = errors.New("ecu: read timed out")
	ErrCancelled    = errors.New("ecu: read cancelled")
	ErrUnsupported  = errors.New("ecu: operation not supported")
)

// Adapter is a blocking, single-caller view of one ECU.
//
// Implementations are driven from a single goroutine and need not be safe
// for concurrent use, except for CancelRead which may be called from any
// goroutine to abort an in-flight long read.
type Adapter interface {
	Connect(device string) error
	IsConnected() bool
	Disconnect() error
	CancelRead()

	EngineSpeed() (int, error)
	RoadSpeed() (int, error)
	CoolantTemp() (int, error)
	FuelTemp() (int, error)
	Throttle() (float64, error)
	MAF() (float64, error)
	LambdaTrim(kind LambdaTrimType) (left, right int, err error)
	IdleBypassPosition() (float64, error)
	FuelPumpRelay() (bool, error)
	GearSelection() (Gear, error)
	MainVoltage() (float64, error)
	InjectorPulseWidth() (int, error)
	FuelMapPosition() (FuelMapPosition, error)
	CurrentFuelMap() (int, error)
	MIL() (bool, error)
	COTrimVoltage() (float64, error)
	TargetIdle() (target int, idleMode bool, err error)

	Identify() (Identification, error)
	RPMLimit() (int, error)
	RPMTable() ([RPMTableSize]uint16, error)
	FaultCodes() (FaultCodes, error)
	ClearFaultCodes() error
	RunFuelPump() error
	DriveIdleAirControl(steps int) error

	// Long reads check ctx between chunks and return an error wrapping
	// ErrCancelled when it is done.
	FuelMap(ctx context.Context, id int) (*FuelMap, error)
	ROMImage(ctx context.Context) ([]byte, error)
	BatteryBackedMemory(ctx context.Context) ([]byte, error)
}
