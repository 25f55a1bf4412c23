// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/cuxstat/pkg/cuxlink"
	"github.com/Thermoquad/cuxstat/pkg/ecu"
	"github.com/Thermoquad/cuxstat/pkg/engine"
	"github.com/Thermoquad/cuxstat/pkg/highlight"
	"github.com/Thermoquad/cuxstat/pkg/logging"
	"github.com/Thermoquad/cuxstat/pkg/simulator"
)

// ============================================================
// Raw Frame Log Tests
// ============================================================

func captureOf(t *testing.T, packets ...*cuxlink.Packet) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, p := range packets {
		frame, err := cuxlink.Encode(p)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		buf.Write(frame)
	}
	return buf.Bytes()
}

func TestLogFrames(t *testing.T) {
	capture := captureOf(t,
		cuxlink.NewPingRequest(1),
		cuxlink.NewPingResponse(1, 1500),
		cuxlink.NewReadFaultCodes(2),
		cuxlink.NewAck(2, cuxlink.MsgReadFaultCodes), // wrong answer
		cuxlink.NewPingResponse(9, 1600),             // no request
	)

	tests := []struct {
		name          string
		validate      bool
		wantAnomalies int
	}{
		{name: "display only", validate: false, wantAnomalies: 0},
		{name: "validated", validate: true, wantAnomalies: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			frames, anomalies, err := logFrames(bytes.NewReader(capture), &out, tt.validate)
			if err != nil {
				t.Fatalf("logFrames: %v", err)
			}
			if frames != 5 {
				t.Errorf("frames = %d, want 5", frames)
			}
			if anomalies != tt.wantAnomalies {
				t.Errorf("anomalies = %d, want %d\n%s", anomalies, tt.wantAnomalies, out.String())
			}
			if tt.validate && !strings.Contains(out.String(), "no matching request") {
				t.Errorf("output missing unmatched response note:\n%s", out.String())
			}
		})
	}
}

func TestLogFramesErrorFrameClearsRequest(t *testing.T) {
	capture := captureOf(t,
		cuxlink.NewReadFuelMap(4, 2),
		cuxlink.NewDeviceError(4, cuxlink.MsgReadFuelMap, 1),
	)

	var out bytes.Buffer
	_, anomalies, err := logFrames(bytes.NewReader(capture), &out, true)
	if err != nil {
		t.Fatalf("logFrames: %v", err)
	}
	if anomalies != 0 {
		t.Errorf("anomalies = %d, want 0\n%s", anomalies, out.String())
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("port gone") }

func TestLogFramesReadError(t *testing.T) {
	_, _, err := logFrames(failingReader{}, &bytes.Buffer{}, false)
	if err == nil || !strings.Contains(err.Error(), "port gone") {
		t.Errorf("err = %v, want read error", err)
	}
}

// ============================================================
// Text Log Tests
// ============================================================

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "int", in: 812, want: "812"},
		{name: "float", in: 0.25, want: "0.250"},
		{name: "pair", in: []int{-3, 4}, want: "-3/4"},
		{name: "bool", in: true, want: "true"},
		{name: "string", in: "closed_loop", want: "closed_loop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatValue(tt.in); got != tt.want {
				t.Errorf("formatValue(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// startSimulated runs an engine against the simulator until the test ends
func startSimulated(t *testing.T, sched *engine.Schedule, n engine.Notifier) *engine.Engine {
	t.Helper()
	eng := engine.New(simulator.New(), engine.Config{
		Device:   "simulator",
		Schedule: sched,
		Notifier: n,
		Logger:   logging.Nop(),
		Pace:     time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	t.Cleanup(func() {
		eng.RequestShutdown()
		cancel()
		<-done
	})
	return eng
}

func TestStreamReadings(t *testing.T) {
	events := make(chan engine.Event, 64)
	eng := startSimulated(t, engine.OnlySchedule(ecu.EngineSpeed, ecu.CoolantTemp),
		engine.NotifierFunc(func(ev engine.Event) {
			select {
			case events <- ev:
			default:
			}
		}))
	eng.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	if err := streamReadings(ctx, &out, eng, events, 2); err != nil {
		t.Fatalf("streamReadings: %v", err)
	}

	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	if len(lines) != 2 {
		t.Fatalf("got %d reading lines, want 2:\n%s", len(lines), out.String())
	}
	for _, line := range lines {
		ci := strings.Index(line, "coolant_temp=")
		ei := strings.Index(line, "engine_speed=")
		if ci < 0 || ei < 0 {
			t.Errorf("line missing readings: %q", line)
		}
		if ci > ei {
			t.Errorf("keys not sorted: %q", line)
		}
	}
}

// ============================================================
// One-shot Request Tests
// ============================================================

func TestRunRequestFaultCodes(t *testing.T) {
	simulate = true
	defer func() { simulate = false }()

	var seen []engine.EventKind
	snap, ev, err := runRequest(context.Background(), request{
		kind: engine.FaultCodesRead,
		ends: kinds(engine.FaultCodesReady, engine.FaultCodesReadFailed),
	}, func(ev engine.Event) { seen = append(seen, ev.Kind) })
	if err != nil {
		t.Fatalf("runRequest: %v", err)
	}
	if ev.Kind != engine.FaultCodesReady {
		t.Errorf("result = %v, want %v", ev.Kind, engine.FaultCodesReady)
	}
	if snap == nil {
		t.Fatal("nil snapshot")
	}
	connectedAt := -1
	for i, k := range seen {
		if k == engine.Connected {
			connectedAt = i
			break
		}
	}
	if connectedAt < 0 || seen[len(seen)-1] != engine.FaultCodesReady {
		t.Errorf("events = %v, want Connected before the result", seen)
	}
}

func TestKinds(t *testing.T) {
	ends := kinds(engine.ROMImageReady, engine.ROMImageReadFailed)

	tests := []struct {
		kind engine.EventKind
		want bool
	}{
		{engine.ROMImageReady, true},
		{engine.ROMImageReadFailed, true},
		{engine.DataReady, false},
		{engine.Connected, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := ends(engine.Event{Kind: tt.kind}); got != tt.want {
				t.Errorf("ends(%v) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

// ============================================================
// Logger Tests
// ============================================================

func TestNewLoggerLevel(t *testing.T) {
	defer func() { logLevel = "" }()

	logLevel = "loud"
	if _, _, err := newLogger(&bytes.Buffer{}, "info"); err == nil {
		t.Error("expected error for unknown level")
	}

	logLevel = ""
	var buf bytes.Buffer
	log, closeLog, err := newLogger(&buf, "warn")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown")
	closeLog()

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warning not logged: %q", buf.String())
	}
}

func TestNewLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cuxstat.log")
	logFile = path
	defer func() { logFile = "" }()

	var fallback bytes.Buffer
	log, closeLog, err := newLogger(&fallback, "info")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Info("to file")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file = %q", data)
	}
	if fallback.Len() != 0 {
		t.Errorf("fallback written: %q", fallback.String())
	}
}

// ============================================================
// Fuel Map Rendering Tests
// ============================================================

func testFuelMap() *ecu.FuelMap {
	data := make([]byte, ecu.FuelMapSize)
	for i := range data {
		data[i] = byte(i)
	}
	return &ecu.FuelMap{ID: 1, Data: data}
}

func TestRenderFuelMap(t *testing.T) {
	out := renderFuelMap(testFuelMap(), map[[2]int]highlight.Cell{
		{2, 3}: {Row: 2, Col: 3, Solid: true},
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != ecu.FuelMapRows+1 {
		t.Fatalf("got %d lines, want %d", len(lines), ecu.FuelMapRows+1)
	}
	// row 2 col 3 holds 2*16+3
	if !strings.Contains(lines[3], "[23]") {
		t.Errorf("solid cell marker missing from row 2: %q", lines[3])
	}
	if strings.Contains(lines[4], "[") {
		t.Errorf("unexpected marker in row 3: %q", lines[4])
	}
}

// ============================================================
// Monitor Model Tests
// ============================================================

func newTestModel(t *testing.T, reconnect bool) monitorModel {
	t.Helper()
	eng := engine.New(simulator.New(), engine.Config{Logger: logging.Nop()})
	return initialMonitorModel(eng, "Simulated ECU", highlight.Soft, reconnect)
}

func press(t *testing.T, m monitorModel, key string) (monitorModel, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch key {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, cmd := m.Update(msg)
	return next.(monitorModel), cmd
}

func TestMonitorHighlightToggle(t *testing.T) {
	m := newTestModel(t, false)

	m, _ = press(t, m, "h")
	if m.mode != highlight.Hard {
		t.Errorf("mode = %v, want hard", m.mode)
	}
	m, _ = press(t, m, "h")
	if m.mode != highlight.Soft {
		t.Errorf("mode = %v, want soft", m.mode)
	}
}

func TestMonitorQuit(t *testing.T) {
	m := newTestModel(t, false)
	m, cmd := press(t, m, "q")
	if !m.quitting {
		t.Error("quitting not set")
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("command is not tea.Quit")
	}
}

func TestMonitorIACInput(t *testing.T) {
	m := newTestModel(t, false)

	m, _ = press(t, m, "i")
	if !m.editingIAC {
		t.Fatal("IAC editing not started")
	}
	// keys go to the input while editing
	m, _ = press(t, m, "q")
	if m.quitting {
		t.Error("q quit while editing")
	}
	m, _ = press(t, m, "esc")
	if m.editingIAC {
		t.Error("esc did not leave editing")
	}

	m, _ = press(t, m, "i")
	m.iacInput.SetValue("abc")
	m, _ = press(t, m, "enter")
	if !m.editingIAC {
		t.Error("invalid input accepted")
	}
	if last := m.eventLog[len(m.eventLog)-1]; !last.isError {
		t.Errorf("last log entry = %+v, want error", last)
	}
}

func TestParseIACSteps(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "20", want: 20},
		{in: "+20", want: 20},
		{in: " -15 ", want: -15},
		{in: "180", want: 180},
		{in: "181", wantErr: true},
		{in: "0", wantErr: true},
		{in: "", wantErr: true},
		{in: "ten", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseIACSteps(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseIACSteps(%q) = %d, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseIACSteps(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("parseIACSteps(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestMonitorReconnectBackoff(t *testing.T) {
	m := newTestModel(t, true)
	lost := engineBatchMsg{events: []engine.Event{{Kind: engine.Disconnected}}}

	want := []time.Duration{2, 4, 8, 16, 30, 30}
	for i, w := range want {
		if cmd := m.applyEvents(lost); cmd == nil {
			t.Fatalf("attempt %d: no reconnect scheduled", i)
		}
		if m.backoff != w*time.Second {
			t.Errorf("attempt %d: backoff = %v, want %v", i, m.backoff, w*time.Second)
		}
	}

	next, _ := m.Update(engineBatchMsg{events: []engine.Event{{Kind: engine.Connected}}})
	m = next.(monitorModel)
	if m.backoff != initialBackoff {
		t.Errorf("backoff after connect = %v, want %v", m.backoff, initialBackoff)
	}
}

func TestMonitorNoReconnectAfterStop(t *testing.T) {
	tests := []struct {
		name      string
		reconnect bool
		stop      bool
	}{
		{name: "reconnect disabled", reconnect: false},
		{name: "user stopped", reconnect: true, stop: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(t, tt.reconnect)
			if tt.stop {
				m, _ = press(t, m, "d")
			}
			cmd := m.applyEvents(engineBatchMsg{events: []engine.Event{{Kind: engine.FailedToConnect, Device: "/dev/ttyUSB0"}}})
			if cmd != nil {
				t.Error("reconnect scheduled")
			}
		})
	}
}

func TestMonitorEventLog(t *testing.T) {
	m := newTestModel(t, false)

	m.applyEvents(engineBatchMsg{events: []engine.Event{
		{Kind: engine.ReadError},
		{Kind: engine.ReadError},
		{Kind: engine.DataReady},
		{Kind: engine.FuelMapIndexHasChanged, MapID: 5},
	}})

	if m.mapID != 5 {
		t.Errorf("mapID = %d, want 5", m.mapID)
	}
	if len(m.eventLog) != 2 {
		t.Fatalf("log has %d entries, want 2: %+v", len(m.eventLog), m.eventLog)
	}
	if m.eventLog[0].repeats != 1 || !m.eventLog[0].isError {
		t.Errorf("first entry = %+v, want repeated error", m.eventLog[0])
	}
}

func TestEngineHostKeepsLifecycleEvents(t *testing.T) {
	h := newEngineHost()

	h.Notify(engine.Event{Kind: engine.Connected})
	for i := 0; i < 5000; i++ {
		h.Notify(engine.Event{Kind: engine.ReadSuccess})
		h.Notify(engine.Event{Kind: engine.DataReady})
	}
	h.Notify(engine.Event{Kind: engine.FaultCodesReady})
	h.Notify(engine.Event{Kind: engine.Disconnected})

	batch := h.take()
	var got []engine.EventKind
	for _, ev := range batch.events {
		got = append(got, ev.Kind)
	}
	want := []engine.EventKind{engine.Connected, engine.FaultCodesReady, engine.Disconnected, engine.DataReady}
	if len(got) != len(want) {
		t.Fatalf("batch = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("batch[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if next := h.take(); len(next.events) != 0 {
		t.Errorf("second take = %v, want empty", next.events)
	}
}

func TestMonitorLogTrimmed(t *testing.T) {
	m := newTestModel(t, false)
	for i := 0; i < maxEventLogLines+20; i++ {
		m.addLogEntry(strings.Repeat("x", i+1), false)
	}
	if len(m.eventLog) != maxEventLogLines {
		t.Errorf("log has %d entries, want %d", len(m.eventLog), maxEventLogLines)
	}
}

func TestMonitorView(t *testing.T) {
	m := newTestModel(t, false)
	view := m.View()
	for _, want := range []string{"CUXSTAT MONITOR", "Simulated ECU", "READINGS", "FUEL MAP", "EVENTS"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
