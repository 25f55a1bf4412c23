// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ecu defines the quantities, buffers and device contract shared by
// the polling engine, the link adapter and the simulator.
//
// All values are raw engine units: temperatures in degrees Fahrenheit,
// throttle and MAF as fractions of full scale, voltages in volts and pulse
// widths in microseconds.
package ecu

import (
	"fmt"
	"strings"
)

// SampleType identifies one periodically sampled quantity
type SampleType int

const (
	EngineSpeed SampleType = iota
	RoadSpeed
	CoolantTemp
	FuelTemp
	Throttle
	MAF
	LambdaTrimShort
	LambdaTrimLong
	IdleBypassPosition
	FuelPumpRelay
	GearSelection
	MainVoltage
	InjectorPulseWidth
	FuelMapRowCol
	FuelMapIndex
	FuelMapData
	MIL
	COTrimVoltage
	TargetIdle

	NumSampleTypes = int(TargetIdle) + 1
)

var sampleTypeNames = [NumSampleTypes]string{
	EngineSpeed:        "engine_speed",
	RoadSpeed:          "road_speed",
	CoolantTemp:        "coolant_temp",
	FuelTemp:           "fuel_temp",
	Throttle:           "throttle",
	MAF:                "maf",
	LambdaTrimShort:    "lambda_trim_short",
	LambdaTrimLong:     "lambda_trim_long",
	IdleBypassPosition: "idle_bypass_position",
	FuelPumpRelay:      "fuel_pump_relay",
	GearSelection:      "gear_selection",
	MainVoltage:        "main_voltage",
	InjectorPulseWidth: "injector_pulse_width",
	FuelMapRowCol:      "fuel_map_row_col",
	FuelMapIndex:       "fuel_map_index",
	FuelMapData:        "fuel_map_data",
	MIL:                "mil",
	COTrimVoltage:      "co_trim_voltage",
	TargetIdle:         "target_idle",
}

// String returns the snake_case name used in config files and logs
func (s SampleType) String() string {
	if s < 0 || int(s) >= NumSampleTypes {
		return fmt.Sprintf("sample(%d)", int(s))
	}
	return sampleTypeNames[s]
}

// SampleTypes returns every sample type in declaration order
func SampleTypes() []SampleType {
	out := make([]SampleType, NumSampleTypes)
	for i := range out {
		out[i] = SampleType(i)
	}
	return out
}

// ParseSampleType maps a config name back to its SampleType
func ParseSampleType(name string) (SampleType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range sampleTypeNames {
		if n == name {
			return SampleType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown sample type %q", name)
}

// Gear is the transmission selector position
type Gear int

const (
	GearUnknown Gear = iota
	GearParkNeutral
	GearDrive
	GearManual
)

func (g Gear) String() string {
	switch g {
	case GearParkNeutral:
		return "Park/Neutral"
	case GearDrive:
		return "Drive"
	case GearManual:
		return "Manual"
	default:
		return "Unknown"
	}
}

// LambdaTrimType selects which pair of lambda trim values is polled
type LambdaTrimType int

const (
	TrimShort LambdaTrimType = iota
	TrimLong
)

func (t LambdaTrimType) String() string {
	if t == TrimLong {
		return "long"
	}
	return "short"
}

// ParseLambdaTrimType accepts "short" or "long"
func ParseLambdaTrimType(s string) (LambdaTrimType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "short":
		return TrimShort, nil
	case "long":
		return TrimLong, nil
	}
	return TrimShort, fmt.Errorf("unknown lambda trim type %q", s)
}

// FeedbackMode is the fuelling control strategy implied by the selected map
type FeedbackMode int

const (
	ClosedLoop FeedbackMode = iota
	OpenLoop
)

func (m FeedbackMode) String() string {
	if m == OpenLoop {
		return "open loop"
	}
	return "closed loop"
}

// FeedbackModeForMap derives the feedback mode from a fuel map id.
// Maps 1, 5 and 6 run closed loop; maps 2 to 4 run open loop.
func FeedbackModeForMap(id int) FeedbackMode {
	switch id {
	case 2, 3, 4:
		return OpenLoop
	default:
		return ClosedLoop
	}
}

// FuelMapPosition is the interpolated load site within the fuel map.
// Weights run 0 to 15 and express how far the site sits towards the next
// row or column.
type FuelMapPosition struct {
	Row       int
	RowWeight int
	Col       int
	ColWeight int
}

func (p FuelMapPosition) String() string {
	return fmt.Sprintf("row %d (+%d/15) col %d (+%d/15)", p.Row, p.RowWeight, p.Col, p.ColWeight)
}

// Identification is the tune identity read once on connect
type Identification struct {
	Revision      uint16
	ChecksumFixer uint8
	Ident         uint16
}

func (i Identification) String() string {
	return fmt.Sprintf("R%04d (fixer 0x%02X, ident 0x%04X)", i.Revision, i.ChecksumFixer, i.Ident)
}
