// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simulator

import (
	"context"
	"errors"
	"testing"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
)

func connected(t *testing.T) *Simulator {
	t.Helper()
	s := New()
	if err := s.Connect("sim"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s
}

// ============================================================
// Oscillator Tests
// ============================================================

func TestOscillatorPingPong(t *testing.T) {
	o := NewOscillator(1000, 1250, 50)
	want := []float64{1050, 1100, 1150, 1200, 1250, 1200, 1150, 1100, 1050, 1000, 1050}
	for i, w := range want {
		if got := o.Next(); got != w {
			t.Fatalf("step %d: got %v, want %v", i, got, w)
		}
	}
}

func TestOscillatorClampsOvershoot(t *testing.T) {
	o := NewOscillator(0, 10, 4)
	seq := []float64{4, 8, 10, 6, 2, 0, 4}
	for i, w := range seq {
		if got := o.Next(); got != w {
			t.Fatalf("step %d: got %v, want %v", i, got, w)
		}
	}
}

func TestDefaultRangesStayInBounds(t *testing.T) {
	s := connected(t)
	for i := 0; i < 2000; i++ {
		rpm, _ := s.EngineSpeed()
		if rpm < 500 || rpm > 6000 {
			t.Fatalf("rpm %d out of range", rpm)
		}
		v, _ := s.MainVoltage()
		if v < 11.0-1e-9 || v > 14.5+1e-9 {
			t.Fatalf("voltage %v out of range", v)
		}
		l, r, _ := s.LambdaTrim(ecu.TrimShort)
		if l < -256 || l > 255 || r < -256 || r > 255 {
			t.Fatalf("trim %d/%d out of range", l, r)
		}
		th, _ := s.Throttle()
		if th < 0.01-1e-9 || th > 0.99+1e-9 {
			t.Fatalf("throttle %v out of range", th)
		}
	}
}

// ============================================================
// Fuel Map Position Odometer Tests
// ============================================================

func TestOdometerCarries(t *testing.T) {
	s := connected(t)

	var pos ecu.FuelMapPosition
	for i := 0; i < 16; i++ {
		pos, _ = s.FuelMapPosition()
	}
	if pos.Col != 1 || pos.ColWeight != 0 {
		t.Errorf("after 16 calls: %+v, want col=1 colWeight=0", pos)
	}

	for i := 16; i < 256; i++ {
		pos, _ = s.FuelMapPosition()
	}
	if pos.Col != 0 || pos.ColWeight != 0 || pos.RowWeight != 1 || pos.Row != 0 {
		t.Errorf("after 256 calls: %+v, want col=0 rowWeight=1", pos)
	}
}

func TestOdometerReversesAtEnds(t *testing.T) {
	s := connected(t)
	last := 8*16*16*16 - 1

	var pos ecu.FuelMapPosition
	for i := 0; i < last; i++ {
		pos, _ = s.FuelMapPosition()
	}
	want := ecu.FuelMapPosition{Row: 7, RowWeight: 15, Col: 15, ColWeight: 15}
	if pos != want {
		t.Fatalf("at max: %+v, want %+v", pos, want)
	}

	pos, _ = s.FuelMapPosition()
	want.ColWeight = 14
	if pos != want {
		t.Errorf("after reversal: %+v, want %+v", pos, want)
	}

	// Walk back to the origin, then one more call turns around again
	for i := 0; i < last-1; i++ {
		pos, _ = s.FuelMapPosition()
	}
	if pos != (ecu.FuelMapPosition{}) {
		t.Fatalf("back at origin: %+v", pos)
	}
	pos, _ = s.FuelMapPosition()
	if pos != (ecu.FuelMapPosition{ColWeight: 1}) {
		t.Errorf("after second reversal: %+v", pos)
	}
}

// ============================================================
// Constant and Derived Field Tests
// ============================================================

func TestConstantFields(t *testing.T) {
	s := connected(t)

	if mil, err := s.MIL(); err != nil || mil {
		t.Errorf("MIL = %v, %v; want off", mil, err)
	}
	if relay, err := s.FuelPumpRelay(); err != nil || !relay {
		t.Errorf("FuelPumpRelay = %v, %v; want on", relay, err)
	}
	if gear, err := s.GearSelection(); err != nil || gear != ecu.GearDrive {
		t.Errorf("GearSelection = %v, %v; want Drive", gear, err)
	}
}

func TestIdleMode(t *testing.T) {
	s := connected(t)

	// Throttle starts at 0.01 and has not been advanced
	target, idle, err := s.TargetIdle()
	if err != nil {
		t.Fatal(err)
	}
	if target != 660 || !idle {
		t.Errorf("TargetIdle = %d, %v; want 660, true", target, idle)
	}

	s.SetRange(FieldThrottle, 0.5, 0.9, 0.1)
	if _, idle, _ = s.TargetIdle(); idle {
		t.Error("idle mode with open throttle")
	}

	s.SetRange(FieldThrottle, 0.01, 0.02, 0.01)
	s.SetRange(FieldTargetIdle, 1090, 1100, 10)
	if target, idle, _ = s.TargetIdle(); target != 1100 || idle {
		t.Errorf("TargetIdle = %d, %v; want 1100, false", target, idle)
	}
}

func TestNotConnected(t *testing.T) {
	s := New()
	if _, err := s.EngineSpeed(); !errors.Is(err, ecu.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := s.RunFuelPump(); !errors.Is(err, ecu.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

// ============================================================
// Long Read Tests
// ============================================================

func TestROMImage(t *testing.T) {
	s := connected(t)
	rom, err := s.ROMImage(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rom) != ecu.ROMSize {
		t.Fatalf("ROM length %d", len(rom))
	}
	again, _ := s.ROMImage(context.Background())
	for i := range rom {
		if rom[i] != again[i] {
			t.Fatalf("ROM not deterministic at %d", i)
		}
	}
}

func TestROMImageCancelled(t *testing.T) {
	s := connected(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.ROMImage(ctx); !errors.Is(err, ecu.ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

func TestFuelMapAndFaults(t *testing.T) {
	s := connected(t)

	m, err := s.FuelMap(context.Background(), 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if _, err := s.FuelMap(context.Background(), 9); !errors.Is(err, ecu.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for map 9, got %v", err)
	}

	codes, _ := s.FaultCodes()
	if codes.Count() == 0 {
		t.Fatal("expected stored faults")
	}
	if err := s.ClearFaultCodes(); err != nil {
		t.Fatal(err)
	}
	codes, _ = s.FaultCodes()
	if codes.Count() != 0 {
		t.Errorf("faults remain after clear: %v", codes)
	}
}
