// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"fmt"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
)

// EventKind identifies an engine notification
type EventKind int

const (
	Connected EventKind = iota
	Disconnected
	FailedToConnect
	NotConnected

	DataReady
	ReadSuccess
	ReadError

	FaultCodesReady
	FaultCodesReadFailed
	FaultCodesClearSuccess
	FaultCodesClearFailure

	FuelMapReady
	FuelMapReadFailed
	FuelMapIndexHasChanged

	ROMImageReady
	ROMImageReadFailed
	RPMLimitReady
	RPMTableReady
	RevisionNumberReady
	FeedbackModeHasChanged

	BatteryBackedMemReady
	BatteryBackedMemReadFailed

	CommandSucceeded
	CommandFailed
)

var eventKindNames = [...]string{
	Connected:                  "connected",
	Disconnected:               "disconnected",
	FailedToConnect:            "failed_to_connect",
	NotConnected:               "not_connected",
	DataReady:                  "data_ready",
	ReadSuccess:                "read_success",
	ReadError:                  "read_error",
	FaultCodesReady:            "fault_codes_ready",
	FaultCodesReadFailed:       "fault_codes_read_failed",
	FaultCodesClearSuccess:     "fault_codes_clear_success",
	FaultCodesClearFailure:     "fault_codes_clear_failure",
	FuelMapReady:               "fuel_map_ready",
	FuelMapReadFailed:          "fuel_map_read_failed",
	FuelMapIndexHasChanged:     "fuel_map_index_has_changed",
	ROMImageReady:              "rom_image_ready",
	ROMImageReadFailed:         "rom_image_read_failed",
	RPMLimitReady:              "rpm_limit_ready",
	RPMTableReady:              "rpm_table_ready",
	RevisionNumberReady:        "revision_number_ready",
	FeedbackModeHasChanged:     "feedback_mode_has_changed",
	BatteryBackedMemReady:      "battery_backed_mem_ready",
	BatteryBackedMemReadFailed: "battery_backed_mem_read_failed",
	CommandSucceeded:           "command_succeeded",
	CommandFailed:              "command_failed",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is a notification from the engine. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind    EventKind
	Device  string             // FailedToConnect
	MapID   int                // FuelMapReady, FuelMapReadFailed, FuelMapIndexHasChanged
	Value   int                // RPMLimitReady
	Mode    ecu.FeedbackMode   // FeedbackModeHasChanged
	Ident   ecu.Identification // RevisionNumberReady
	Request RequestKind        // CommandSucceeded, CommandFailed, NotConnected
	Err     error
}

func (e Event) String() string {
	var s string
	switch e.Kind {
	case FailedToConnect:
		s = fmt.Sprintf("%s(%s)", e.Kind, e.Device)
	case FuelMapReady, FuelMapReadFailed, FuelMapIndexHasChanged:
		s = fmt.Sprintf("%s(%d)", e.Kind, e.MapID)
	case RPMLimitReady:
		s = fmt.Sprintf("%s(%d)", e.Kind, e.Value)
	case FeedbackModeHasChanged:
		s = fmt.Sprintf("%s(%s)", e.Kind, e.Mode)
	case RevisionNumberReady:
		s = fmt.Sprintf("%s(%s)", e.Kind, e.Ident)
	case CommandSucceeded, CommandFailed, NotConnected:
		s = fmt.Sprintf("%s(%s)", e.Kind, e.Request)
	default:
		s = e.Kind.String()
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Notifier receives engine events. Notify is called from the engine
// goroutine and, for NotConnected, from the caller of Enqueue, so
// implementations must be safe for concurrent use and must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

// MultiNotifier fans an event out to several notifiers in order
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ev Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ev)
		}
	}
}
