// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package simulator provides an ecu.Adapter that fabricates plausible,
// deterministic engine data without any hardware attached.
package simulator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
)

// Field names one oscillating quantity
type Field int

const (
	FieldCoolantTemp Field = iota
	FieldFuelTemp
	FieldThrottle
	FieldMAF
	FieldTrimShortLeft
	FieldTrimShortRight
	FieldTrimLongLeft
	FieldTrimLongRight
	FieldMainVoltage
	FieldCOTrimVoltage
	FieldEngineSpeed
	FieldRoadSpeed
	FieldIdleBypass
	FieldInjectorPulseWidth
	FieldTargetIdle

	numFields
)

type rangeSpec struct{ min, max, step float64 }

var defaultRanges = [numFields]rangeSpec{
	FieldCoolantTemp:        {40, 230, 2.5},
	FieldFuelTemp:           {40, 160, 1.5},
	FieldThrottle:           {0.01, 0.99, 0.01},
	FieldMAF:                {0.01, 0.99, 0.02},
	FieldTrimShortLeft:      {-256, 255, 8},
	FieldTrimShortRight:     {-256, 255, 8},
	FieldTrimLongLeft:       {-256, 255, 4},
	FieldTrimLongRight:      {-256, 255, 4},
	FieldMainVoltage:        {11.0, 14.5, 0.1},
	FieldCOTrimVoltage:      {0.5, 4.5, 0.05},
	FieldEngineSpeed:        {500, 6000, 50},
	FieldRoadSpeed:          {0, 120, 1},
	FieldIdleBypass:         {0, 1, 0.02},
	FieldInjectorPulseWidth: {1000, 12000, 100},
	FieldTargetIdle:         {650, 1100, 10},
}

// Fixed identity and limits reported by the simulated ECU
var (
	Identification = ecu.Identification{Revision: 3360, ChecksumFixer: 0x5A, Ident: 0x0C3A}
	RPMLimit       = 6000
)

// Simulator implements ecu.Adapter with ping-pong oscillators.
// It is driven from one goroutine; only CancelRead may be called
// concurrently.
type Simulator struct {
	// ChunkDelay paces long reads per 128-byte chunk
	ChunkDelay time.Duration

	connected bool
	cancelled atomic.Bool
	osc       [numFields]*Oscillator
	pos       odometer
	mapID     int
	faults    ecu.FaultCodes
}

// New creates a disconnected simulator with the default ranges
func New() *Simulator {
	s := &Simulator{
		mapID:  1,
		faults: ecu.FaultCodes{0x00, 0x02, 0x00, 0x00, 0x01},
	}
	for f, r := range defaultRanges {
		s.osc[f] = NewOscillator(r.min, r.max, r.step)
	}
	return s
}

// SetRange replaces the oscillator for field, restarting it at lo
func (s *Simulator) SetRange(field Field, lo, hi, step float64) {
	if field < 0 || field >= numFields {
		return
	}
	s.osc[field] = NewOscillator(lo, hi, step)
}

// SetFuelMapIndex changes the map the simulated ECU reports as selected
func (s *Simulator) SetFuelMapIndex(id int) {
	s.mapID = id
}

// SetFaultCodes replaces the stored fault bitfield
func (s *Simulator) SetFaultCodes(f ecu.FaultCodes) {
	s.faults = f
}

func (s *Simulator) Connect(string) error {
	s.connected = true
	return nil
}

func (s *Simulator) IsConnected() bool { return s.connected }

func (s *Simulator) Disconnect() error {
	s.connected = false
	return nil
}

func (s *Simulator) CancelRead() { s.cancelled.Store(true) }

func (s *Simulator) next(f Field) (float64, error) {
	if !s.connected {
		return 0, ecu.ErrNotConnected
	}
	return s.osc[f].Next(), nil
}

func (s *Simulator) nextInt(f Field) (int, error) {
	v, err := s.next(f)
	return int(v), err
}

func (s *Simulator) EngineSpeed() (int, error)            { return s.nextInt(FieldEngineSpeed) }
func (s *Simulator) RoadSpeed() (int, error)              { return s.nextInt(FieldRoadSpeed) }
func (s *Simulator) CoolantTemp() (int, error)            { return s.nextInt(FieldCoolantTemp) }
func (s *Simulator) FuelTemp() (int, error)               { return s.nextInt(FieldFuelTemp) }
func (s *Simulator) Throttle() (float64, error)           { return s.next(FieldThrottle) }
func (s *Simulator) MAF() (float64, error)                { return s.next(FieldMAF) }
func (s *Simulator) IdleBypassPosition() (float64, error) { return s.next(FieldIdleBypass) }
func (s *Simulator) MainVoltage() (float64, error)        { return s.next(FieldMainVoltage) }
func (s *Simulator) InjectorPulseWidth() (int, error)     { return s.nextInt(FieldInjectorPulseWidth) }
func (s *Simulator) COTrimVoltage() (float64, error)      { return s.next(FieldCOTrimVoltage) }

func (s *Simulator) LambdaTrim(kind ecu.LambdaTrimType) (int, int, error) {
	lf, rf := FieldTrimShortLeft, FieldTrimShortRight
	if kind == ecu.TrimLong {
		lf, rf = FieldTrimLongLeft, FieldTrimLongRight
	}
	left, err := s.nextInt(lf)
	if err != nil {
		return 0, 0, err
	}
	right, err := s.nextInt(rf)
	return left, right, err
}

func (s *Simulator) FuelPumpRelay() (bool, error) { return true, s.linkErr() }

func (s *Simulator) GearSelection() (ecu.Gear, error) { return ecu.GearDrive, s.linkErr() }

func (s *Simulator) MIL() (bool, error) { return false, s.linkErr() }

func (s *Simulator) CurrentFuelMap() (int, error) { return s.mapID, s.linkErr() }

func (s *Simulator) FuelMapPosition() (ecu.FuelMapPosition, error) {
	if err := s.linkErr(); err != nil {
		return ecu.FuelMapPosition{}, err
	}
	s.pos.step()
	d := s.pos.digits
	return ecu.FuelMapPosition{Row: d[3], RowWeight: d[2], Col: d[1], ColWeight: d[0]}, nil
}

// TargetIdle advances the target idle speed. Idle mode is derived from the
// new target and the most recent throttle value.
func (s *Simulator) TargetIdle() (int, bool, error) {
	target, err := s.next(FieldTargetIdle)
	if err != nil {
		return 0, false, err
	}
	idle := target < 1100 && s.osc[FieldThrottle].Value() < 0.05
	return int(target), idle, nil
}

func (s *Simulator) linkErr() error {
	if !s.connected {
		return ecu.ErrNotConnected
	}
	return nil
}

func (s *Simulator) Identify() (ecu.Identification, error) { return Identification, s.linkErr() }

func (s *Simulator) RPMLimit() (int, error) { return RPMLimit, s.linkErr() }

func (s *Simulator) RPMTable() ([ecu.RPMTableSize]uint16, error) {
	var t [ecu.RPMTableSize]uint16
	for i := range t {
		t[i] = uint16(500 + i*400)
	}
	return t, s.linkErr()
}

func (s *Simulator) FaultCodes() (ecu.FaultCodes, error) { return s.faults, s.linkErr() }

func (s *Simulator) ClearFaultCodes() error {
	if err := s.linkErr(); err != nil {
		return err
	}
	s.faults = ecu.FaultCodes{}
	return nil
}

func (s *Simulator) RunFuelPump() error { return s.linkErr() }

func (s *Simulator) DriveIdleAirControl(steps int) error {
	if err := s.linkErr(); err != nil {
		return err
	}
	osc := s.osc[FieldIdleBypass]
	osc.value = min(osc.Max, max(osc.Min, osc.value+float64(steps)/180))
	return nil
}

// FuelMap returns a synthetic map whose cells rise with load and speed
func (s *Simulator) FuelMap(ctx context.Context, id int) (*ecu.FuelMap, error) {
	if err := s.linkErr(); err != nil {
		return nil, err
	}
	if !ecu.ValidFuelMapID(id) {
		return nil, fmt.Errorf("fuel map %d: %w", id, ecu.ErrUnsupported)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("fuel map %d: %w", id, ecu.ErrCancelled)
	}
	data := make([]byte, ecu.FuelMapSize)
	for r := 0; r < ecu.FuelMapRows; r++ {
		for c := 0; c < ecu.FuelMapCols; c++ {
			data[r*ecu.FuelMapCols+c] = byte(0x20 + r*16 + c*7 + id*3)
		}
	}
	return &ecu.FuelMap{
		ID:               id,
		Data:             data,
		AdjustmentFactor: 0x4000 + uint16(id),
		RowScaler:        0x80,
	}, nil
}

func (s *Simulator) ROMImage(ctx context.Context) ([]byte, error) {
	return s.readImage(ctx, ecu.ROMSize, func(i int) byte { return byte(i*7 + i>>8) })
}

func (s *Simulator) BatteryBackedMemory(ctx context.Context) ([]byte, error) {
	return s.readImage(ctx, ecu.BatteryBackedMemorySize, func(i int) byte { return byte(0xA5 ^ i) })
}

func (s *Simulator) readImage(ctx context.Context, size int, gen func(int) byte) ([]byte, error) {
	if err := s.linkErr(); err != nil {
		return nil, err
	}
	s.cancelled.Store(false)
	out := make([]byte, size)
	for off := 0; off < size; off += 128 {
		if ctx.Err() != nil || s.cancelled.Load() {
			return nil, fmt.Errorf("read at 0x%04X: %w", off, ecu.ErrCancelled)
		}
		if s.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("read at 0x%04X: %w", off, ecu.ErrCancelled)
			case <-time.After(s.ChunkDelay):
			}
		}
		for i := off; i < min(off+128, size); i++ {
			out[i] = gen(i)
		}
	}
	return out, nil
}

// Verify Simulator implements ecu.Adapter
var _ ecu.Adapter = (*Simulator)(nil)
