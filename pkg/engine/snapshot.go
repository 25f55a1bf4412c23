// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"time"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
)

// Readings holds the latest value of every sample in raw engine units
type Readings struct {
	EngineSpeed        int     // rpm
	RoadSpeed          int     // mph
	CoolantTemp        int     // °F
	FuelTemp           int     // °F
	Throttle           float64 // fraction 0..1
	MAF                float64 // fraction 0..1
	LambdaShortLeft    int
	LambdaShortRight   int
	LambdaLongLeft     int
	LambdaLongRight    int
	IdleBypassPosition float64 // fraction 0..1
	FuelPumpRelay      bool
	Gear               ecu.Gear
	MainVoltage        float64 // volts
	InjectorPulseWidth int     // µs
	FuelMapPosition    ecu.FuelMapPosition
	FuelMapIndex       int
	FeedbackMode       ecu.FeedbackMode
	MIL                bool
	COTrimVoltage      float64 // volts
	TargetIdle         int     // rpm
	IdleMode           bool
}

// Snapshot is an immutable view of everything the engine has read.
// Buffers returned by accessors are shared and must not be modified.
type Snapshot struct {
	Readings

	State     State
	Counter   uint64
	Time      time.Time
	Stats     Statistics
	LastCycle Outcome

	valid      uint32
	fuelMaps   [ecu.LastFuelMap + 1]*ecu.FuelMap
	mapCurrent [ecu.LastFuelMap + 1]bool
	rom        []byte
	romCurrent bool
	bbram      []byte
	faults     ecu.FaultCodes
	rpmTable   [ecu.RPMTableSize]uint16
	ident      ecu.Identification
	rpmLimit   int
}

// Has reports whether st has been read successfully since the engine started
func (s *Snapshot) Has(st ecu.SampleType) bool {
	if st < 0 || int(st) >= ecu.NumSampleTypes {
		return false
	}
	return s.valid&(1<<uint(st)) != 0
}

func (s *Snapshot) markValid(st ecu.SampleType) {
	s.valid |= 1 << uint(st)
}

// FuelMap returns the cached map for id and whether it was read during the
// current connection
func (s *Snapshot) FuelMap(id int) (*ecu.FuelMap, bool) {
	if !ecu.ValidFuelMapID(id) {
		return nil, false
	}
	return s.fuelMaps[id], s.mapCurrent[id]
}

// ROMImage returns the last ROM dump, or nil
func (s *Snapshot) ROMImage() []byte { return s.rom }

// ROMCurrent reports whether the ROM dump was read during the current connection
func (s *Snapshot) ROMCurrent() bool { return s.romCurrent }

func (s *Snapshot) BatteryBackedMemory() []byte { return s.bbram }

func (s *Snapshot) FaultCodes() ecu.FaultCodes { return s.faults }

func (s *Snapshot) RPMTable() [ecu.RPMTableSize]uint16 { return s.rpmTable }

func (s *Snapshot) Identification() ecu.Identification { return s.ident }

func (s *Snapshot) RPMLimit() int { return s.rpmLimit }

// Connected reports whether the snapshot was taken while polling
func (s *Snapshot) Connected() bool { return s.State == StatePolling }

// invalidate clears the current flags of the cached buffers
func (s *Snapshot) invalidate() {
	for i := range s.mapCurrent {
		s.mapCurrent[i] = false
	}
	s.romCurrent = false
}

// Value returns the reading for st in a form suitable for display or
// serialisation, and false when st has not been read yet. Lambda trims
// are [left, right]; the fuel map position is [row, rowWeight, col,
// colWeight].
func (s *Snapshot) Value(st ecu.SampleType) (any, bool) {
	if !s.Has(st) {
		return nil, false
	}
	switch st {
	case ecu.EngineSpeed:
		return s.EngineSpeed, true
	case ecu.RoadSpeed:
		return s.RoadSpeed, true
	case ecu.CoolantTemp:
		return s.CoolantTemp, true
	case ecu.FuelTemp:
		return s.FuelTemp, true
	case ecu.Throttle:
		return s.Throttle, true
	case ecu.MAF:
		return s.MAF, true
	case ecu.LambdaTrimShort:
		return []int{s.LambdaShortLeft, s.LambdaShortRight}, true
	case ecu.LambdaTrimLong:
		return []int{s.LambdaLongLeft, s.LambdaLongRight}, true
	case ecu.IdleBypassPosition:
		return s.IdleBypassPosition, true
	case ecu.FuelPumpRelay:
		return s.FuelPumpRelay, true
	case ecu.GearSelection:
		return s.Gear.String(), true
	case ecu.MainVoltage:
		return s.MainVoltage, true
	case ecu.InjectorPulseWidth:
		return s.InjectorPulseWidth, true
	case ecu.FuelMapRowCol:
		p := s.FuelMapPosition
		return []int{p.Row, p.RowWeight, p.Col, p.ColWeight}, true
	case ecu.FuelMapIndex:
		return s.FuelMapIndex, true
	case ecu.MIL:
		return s.MIL, true
	case ecu.COTrimVoltage:
		return s.COTrimVoltage, true
	case ecu.TargetIdle:
		return s.TargetIdle, true
	}
	return nil, false
}

// Values returns every valid reading keyed by sample name
func (s *Snapshot) Values() map[string]any {
	out := make(map[string]any)
	for _, st := range ecu.SampleTypes() {
		if v, ok := s.Value(st); ok {
			out[st.String()] = v
		}
	}
	if s.Has(ecu.TargetIdle) {
		out["idle_mode"] = s.IdleMode
	}
	if s.Has(ecu.FuelMapIndex) {
		out["feedback_mode"] = s.FeedbackMode.String()
	}
	return out
}
