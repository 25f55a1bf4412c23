// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
	"github.com/Thermoquad/cuxstat/pkg/engine"
	"github.com/Thermoquad/cuxstat/pkg/highlight"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	maxIACSteps      = 180
	initialBackoff   = 1 * time.Second
	maxBackoff       = 30 * time.Second
	eventLogHeight   = 8
	maxEventLogLines = 100
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
	repeats   int
}

// monitorModel is the Bubble Tea model for the monitor dashboard
type monitorModel struct {
	eng      *engine.Engine
	connInfo string
	snap     *engine.Snapshot

	// Fuel map display
	mode  highlight.Mode
	mapID int

	// Event log
	eventLog      []logEntry
	maxLogEntries int

	// IAC drive input
	iacInput   textinput.Model
	editingIAC bool

	// Reconnection
	reconnect   bool
	userStopped bool
	backoff     time.Duration

	// UI state
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type reconnectMsg struct{}

func initialMonitorModel(eng *engine.Engine, connInfo string, mode highlight.Mode, reconnect bool) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "+20"
	ti.CharLimit = 5
	ti.Width = 8
	ti.Prompt = "IAC steps: "

	return monitorModel{
		eng:           eng,
		connInfo:      connInfo,
		snap:          eng.Snapshot(),
		mode:          mode,
		eventLog:      make([]logEntry, 0),
		maxLogEntries: maxEventLogLines,
		iacInput:      ti,
		reconnect:     reconnect,
		backoff:       initialBackoff,
		width:         100,
		height:        40,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		m.snap = m.eng.Snapshot()
		return m, monitorTickCmd()

	case engineBatchMsg:
		cmd := m.applyEvents(msg)
		return m, cmd

	case reconnectMsg:
		if !m.userStopped && !m.eng.IsConnected() {
			m.addLogEntry(fmt.Sprintf("Reconnecting to %s", m.connInfo), false)
			m.eng.Start()
		}
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editingIAC {
		return m.handleIACKey(msg)
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "s":
		m.userStopped = false
		m.backoff = initialBackoff
		m.addLogEntry(fmt.Sprintf("Connecting to %s", m.connInfo), false)
		m.eng.Start()

	case "d":
		m.userStopped = true
		m.eng.Stop()

	case "f":
		m.enqueue(engine.FaultCodesRead, 0)

	case "c":
		m.enqueue(engine.FaultCodesClear, 0)

	case "p":
		m.enqueue(engine.FuelPumpRun, 0)

	case "o":
		m.enqueue(engine.ROMImageRead, 0)

	case "m":
		id := m.currentMapID()
		if !ecu.ValidFuelMapID(id) {
			m.addLogEntry("Fuel map index not known yet", true)
			break
		}
		m.enqueue(engine.FuelMapRead, id)

	case "h":
		if m.mode == highlight.Soft {
			m.mode = highlight.Hard
		} else {
			m.mode = highlight.Soft
		}

	case "x":
		m.eng.CancelRead()
		m.addLogEntry("Cancel requested", false)

	case "i":
		m.editingIAC = true
		m.iacInput.SetValue("")
		return m, m.iacInput.Focus()
	}

	return m, nil
}

func (m monitorModel) handleIACKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.editingIAC = false
		m.iacInput.Blur()
		return m, nil

	case "enter":
		steps, err := parseIACSteps(m.iacInput.Value())
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}
		m.editingIAC = false
		m.iacInput.Blur()
		m.enqueue(engine.IdleAirControlDrive, steps)
		return m, nil
	}

	var cmd tea.Cmd
	m.iacInput, cmd = m.iacInput.Update(msg)
	return m, cmd
}

// parseIACSteps parses a signed step count; positive opens the valve
func parseIACSteps(s string) (int, error) {
	steps, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "+"))
	if err != nil {
		return 0, fmt.Errorf("invalid step count %q", s)
	}
	if steps == 0 || steps < -maxIACSteps || steps > maxIACSteps {
		return 0, fmt.Errorf("step count must be 1-%d in either direction", maxIACSteps)
	}
	return steps, nil
}

func (m *monitorModel) enqueue(kind engine.RequestKind, arg int) {
	if m.eng.Enqueue(kind, arg) {
		m.addLogEntry(fmt.Sprintf("Queued %s", engine.Request{Kind: kind, Arg: arg}), false)
	}
}

// currentMapID is the map the ECU reports, or the last one fetched
func (m monitorModel) currentMapID() int {
	if m.snap != nil && m.snap.Has(ecu.FuelMapIndex) {
		return m.snap.FuelMapIndex
	}
	return m.mapID
}

//////////////////////////////////////////////////////////////
// Event Processing
//////////////////////////////////////////////////////////////

// applyEvents logs a batch of engine events and refreshes the snapshot.
// It returns a reconnect command when the link failed unprompted.
func (m *monitorModel) applyEvents(batch engineBatchMsg) tea.Cmd {
	var cmd tea.Cmd
	for _, ev := range batch.events {
		switch ev.Kind {
		case engine.DataReady:
			continue

		case engine.Connected:
			m.backoff = initialBackoff
			m.addLogEntry("Connected", false)

		case engine.Disconnected, engine.FailedToConnect:
			m.addLogEntry(describeEvent(ev), true)
			if m.reconnect && !m.userStopped {
				cmd = m.scheduleReconnect()
			}

		case engine.FuelMapReady:
			m.mapID = ev.MapID
			m.addLogEntry(describeEvent(ev), false)

		case engine.FuelMapIndexHasChanged:
			m.mapID = ev.MapID
			m.addLogEntry(describeEvent(ev), false)

		default:
			m.addLogEntry(describeEvent(ev), ev.Err != nil || isFailure(ev.Kind))
		}
	}
	m.snap = m.eng.Snapshot()
	return cmd
}

// scheduleReconnect returns a delayed reconnect and doubles the backoff
func (m *monitorModel) scheduleReconnect() tea.Cmd {
	delay := m.backoff
	m.backoff *= 2
	if m.backoff > maxBackoff {
		m.backoff = maxBackoff
	}
	m.addLogEntry(fmt.Sprintf("Reconnecting in %v", delay), false)
	return tea.Tick(delay, func(time.Time) tea.Msg { return reconnectMsg{} })
}

func isFailure(k engine.EventKind) bool {
	switch k {
	case engine.ReadError, engine.NotConnected, engine.FaultCodesReadFailed,
		engine.FaultCodesClearFailure, engine.FuelMapReadFailed, engine.ROMImageReadFailed,
		engine.BatteryBackedMemReadFailed, engine.CommandFailed:
		return true
	}
	return false
}

// describeEvent renders an event for the log
func describeEvent(ev engine.Event) string {
	var s string
	switch ev.Kind {
	case engine.Disconnected:
		s = "Disconnected"
	case engine.FailedToConnect:
		s = fmt.Sprintf("Failed to connect to %s", ev.Device)
	case engine.NotConnected:
		s = fmt.Sprintf("Not connected, %s dropped", ev.Request)
	case engine.ReadError:
		s = "Read error"
	case engine.FaultCodesReady:
		s = "Fault codes read"
	case engine.FaultCodesClearSuccess:
		s = "Fault codes cleared"
	case engine.FuelMapReady:
		s = fmt.Sprintf("Fuel map %d read", ev.MapID)
	case engine.FuelMapIndexHasChanged:
		s = fmt.Sprintf("Fuel map %d selected", ev.MapID)
	case engine.FeedbackModeHasChanged:
		s = fmt.Sprintf("Feedback mode: %s", ev.Mode)
	case engine.RevisionNumberReady:
		s = fmt.Sprintf("Tune %s", ev.Ident)
	case engine.RPMLimitReady:
		s = fmt.Sprintf("RPM limit %d", ev.Value)
	case engine.ROMImageReady:
		s = "ROM image read"
	case engine.CommandSucceeded:
		s = fmt.Sprintf("%s done", ev.Request)
	default:
		s = ev.Kind.String()
	}
	if ev.Err != nil {
		s += ": " + ev.Err.Error()
	}
	return s
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	if n := len(m.eventLog); n > 0 && m.eventLog[n-1].message == message {
		m.eventLog[n-1].repeats++
		m.eventLog[n-1].timestamp = time.Now()
		return
	}
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	state := m.snap.State.String()
	stateText := valueStyle.Render(state)
	if !m.snap.Connected() {
		stateText = warningStyle.Render(state)
	}
	s.WriteString(titleStyle.Render("CUXSTAT MONITOR"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | ", m.connInfo)))
	s.WriteString(stateText)
	s.WriteString(headerStyle.Render(" | q=quit s=start d=disconnect"))
	s.WriteString("\n")

	if ident := m.snap.Identification(); ident.Revision != 0 {
		s.WriteString(fmt.Sprintf(" %s %s  %s %s",
			labelStyle.Render("Tune:"), valueStyle.Render(ident.String()),
			labelStyle.Render("RPM limit:"), valueStyle.Render(strconv.Itoa(m.snap.RPMLimit()))))
	}
	s.WriteString("\n\n")

	readings := boxStyle.Width(36).Render(m.renderReadings())
	fuelMap := boxStyle.Render(m.renderFuelMapPanel())
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, readings, " ", fuelMap))
	s.WriteString("\n")

	s.WriteString(m.renderStatusBar())
	s.WriteString("\n")

	if m.editingIAC {
		s.WriteString(" " + m.iacInput.View() + headerStyle.Render("  enter=send esc=cancel"))
	} else {
		s.WriteString(headerStyle.Render(" f=faults c=clear p=pump i=IAC m=map o=ROM h=highlight x=cancel"))
	}
	s.WriteString("\n")

	s.WriteString(m.renderEventLog())
	return s.String()
}

func (m monitorModel) renderReadings() string {
	snap := m.snap
	var s strings.Builder
	s.WriteString(labelStyle.Render("READINGS"))
	s.WriteString("\n")

	row := func(label string, st ecu.SampleType, format func() string) {
		value := headerStyle.Render("--")
		if snap.Has(st) {
			value = valueStyle.Render(format())
		}
		s.WriteString(fmt.Sprintf("%-15s %s\n", label, value))
	}

	row("Engine speed", ecu.EngineSpeed, func() string { return fmt.Sprintf("%d rpm", snap.EngineSpeed) })
	row("Road speed", ecu.RoadSpeed, func() string { return fmt.Sprintf("%d mph", snap.RoadSpeed) })
	row("Coolant", ecu.CoolantTemp, func() string { return fmt.Sprintf("%d °F", snap.CoolantTemp) })
	row("Fuel temp", ecu.FuelTemp, func() string { return fmt.Sprintf("%d °F", snap.FuelTemp) })
	row("Throttle", ecu.Throttle, func() string { return fmt.Sprintf("%.1f%%", snap.Throttle*100) })
	row("MAF", ecu.MAF, func() string { return fmt.Sprintf("%.1f%%", snap.MAF*100) })
	row("Lambda short", ecu.LambdaTrimShort, func() string {
		return fmt.Sprintf("%+d / %+d", snap.LambdaShortLeft, snap.LambdaShortRight)
	})
	row("Lambda long", ecu.LambdaTrimLong, func() string {
		return fmt.Sprintf("%+d / %+d", snap.LambdaLongLeft, snap.LambdaLongRight)
	})
	row("Idle bypass", ecu.IdleBypassPosition, func() string { return fmt.Sprintf("%.1f%%", snap.IdleBypassPosition*100) })
	row("Target idle", ecu.TargetIdle, func() string {
		if snap.IdleMode {
			return fmt.Sprintf("%d rpm (idle)", snap.TargetIdle)
		}
		return fmt.Sprintf("%d rpm", snap.TargetIdle)
	})
	row("Fuel pump", ecu.FuelPumpRelay, func() string { return onOff(snap.FuelPumpRelay) })
	row("Gear", ecu.GearSelection, func() string { return snap.Gear.String() })
	row("Battery", ecu.MainVoltage, func() string { return fmt.Sprintf("%.2f V", snap.MainVoltage) })
	row("Injector", ecu.InjectorPulseWidth, func() string { return fmt.Sprintf("%d µs", snap.InjectorPulseWidth) })
	row("CO trim", ecu.COTrimVoltage, func() string { return fmt.Sprintf("%.2f V", snap.COTrimVoltage) })
	row("Fuel map", ecu.FuelMapIndex, func() string {
		return fmt.Sprintf("%d (%s)", snap.FuelMapIndex, snap.FeedbackMode)
	})

	mil := headerStyle.Render("--")
	if snap.Has(ecu.MIL) {
		mil = valueStyle.Render("off")
		if snap.MIL {
			mil = errorStyle.Render("ON")
		}
	}
	s.WriteString(fmt.Sprintf("%-15s %s\n", "Check engine", mil))

	s.WriteString("\n")
	s.WriteString(labelStyle.Render("FAULTS"))
	s.WriteString("\n")
	if faults := snap.FaultCodes(); faults.Count() > 0 {
		for _, name := range faults.Active() {
			s.WriteString(errorStyle.Render("x ") + name + "\n")
		}
	} else {
		s.WriteString(headerStyle.Render("none stored (f to read)"))
	}
	return s.String()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (m monitorModel) renderFuelMapPanel() string {
	var s strings.Builder
	id := m.currentMapID()

	title := "FUEL MAP"
	if ecu.ValidFuelMapID(id) {
		title = fmt.Sprintf("FUEL MAP %d (%s)", id, ecu.FeedbackModeForMap(id))
	}
	s.WriteString(labelStyle.Render(title))
	s.WriteString(headerStyle.Render(fmt.Sprintf("  highlight: %s", m.mode)))
	s.WriteString("\n")

	fm, current := m.snap.FuelMap(id)
	if fm == nil {
		s.WriteString(headerStyle.Render("not read yet (m to fetch)"))
		return s.String()
	}

	var active map[[2]int]highlight.Cell
	if m.snap.Has(ecu.FuelMapRowCol) {
		active = highlight.Factors(highlight.ActiveCells(m.snap.FuelMapPosition, m.mode == highlight.Soft))
	}
	s.WriteString(renderFuelMap(fm, active))
	if m.snap.Has(ecu.FuelMapRowCol) {
		s.WriteString(headerStyle.Render(m.snap.FuelMapPosition.String()))
	}
	if !current {
		s.WriteString(warningStyle.Render("  (from an earlier connection)"))
	}
	return s.String()
}

func (m monitorModel) renderStatusBar() string {
	st := m.snap.Stats
	st.CalculateRates(time.Now())

	readErrs := valueStyle.Render("0")
	if st.ReadFailures > 0 {
		readErrs = errorStyle.Render(fmt.Sprintf("%d (%.1f/s)", st.ReadFailures, st.ErrorRate))
	}
	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Passes:"), valueStyle.Render(fmt.Sprintf("%d", st.Iterations)),
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f/s", st.CycleRate)),
		labelStyle.Render("Last:"), valueStyle.Render(m.snap.LastCycle.String()),
		labelStyle.Render("Read errors:"), readErrs,
		labelStyle.Render("Queued:"), valueStyle.Render(strconv.Itoa(m.eng.PendingRequests())),
	)
	if failing := st.FailingFields(); len(failing) > 0 {
		names := make([]string, len(failing))
		for i, f := range failing {
			names[i] = f.String()
		}
		content += "\n" + labelStyle.Render("Failing:") + " " + warningStyle.Render(strings.Join(names, ", "))
	}
	if rom := m.snap.ROMImage(); rom != nil {
		content += "\n" + labelStyle.Render("ROM:") + " " + valueStyle.Render(fmt.Sprintf("%d bytes", len(rom)))
	}

	return boxStyle.Width(max(m.width-4, 40)).Render(content)
}

func (m monitorModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
		return boxStyle.Width(max(m.width-4, 40)).Render(s.String())
	}

	start := max(len(m.eventLog)-eventLogHeight, 0)
	for _, entry := range m.eventLog[start:] {
		icon, style := "i", warningStyle
		if entry.isError {
			icon, style = "x", errorStyle
		}
		msg := entry.message
		if entry.repeats > 0 {
			msg += headerStyle.Render(fmt.Sprintf(" (x%d)", entry.repeats+1))
		}
		s.WriteString(fmt.Sprintf("%s %s %s\n",
			headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
			style.Render(icon),
			msg))
	}

	return boxStyle.Width(max(m.width-4, 40)).Render(strings.TrimRight(s.String(), "\n"))
}
