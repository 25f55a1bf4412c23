// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Thermoquad/cuxstat/pkg/engine"
)

// Frame kinds
const (
	KindReadings = "readings"
	KindEvent    = "event"
)

// Frame is the msgpack record published on the channel
type Frame struct {
	Kind      string         `msgpack:"kind"`
	Seq       uint64         `msgpack:"seq"`
	Ts        string         `msgpack:"ts"`
	Counter   uint64         `msgpack:"counter,omitempty"`
	Readings  map[string]any `msgpack:"readings,omitempty"`
	Event     *EventRecord   `msgpack:"event,omitempty"`
	Connected bool           `msgpack:"connected"`
}

// EventRecord is the wire form of an engine.Event
type EventRecord struct {
	Type    string `msgpack:"type"`
	Device  string `msgpack:"device,omitempty"`
	MapID   int    `msgpack:"map_id,omitempty"`
	Value   int    `msgpack:"value,omitempty"`
	Mode    string `msgpack:"mode,omitempty"`
	Ident   string `msgpack:"ident,omitempty"`
	Request string `msgpack:"request,omitempty"`
	Error   string `msgpack:"error,omitempty"`
}

// SnapshotFrame builds a readings frame from snap
func SnapshotFrame(snap *engine.Snapshot) *Frame {
	return &Frame{
		Kind:      KindReadings,
		Ts:        snap.Time.UTC().Format(time.RFC3339Nano),
		Counter:   snap.Counter,
		Readings:  snap.Values(),
		Connected: snap.Connected(),
	}
}

// EventFrame builds an event frame
func EventFrame(ev engine.Event, at time.Time) *Frame {
	rec := &EventRecord{Type: ev.Kind.String()}
	switch ev.Kind {
	case engine.FailedToConnect:
		rec.Device = ev.Device
	case engine.FuelMapReady, engine.FuelMapReadFailed, engine.FuelMapIndexHasChanged:
		rec.MapID = ev.MapID
	case engine.RPMLimitReady:
		rec.Value = ev.Value
	case engine.FeedbackModeHasChanged:
		rec.Mode = ev.Mode.String()
	case engine.RevisionNumberReady:
		rec.Ident = ev.Ident.String()
	case engine.CommandSucceeded, engine.CommandFailed, engine.NotConnected:
		rec.Request = ev.Request.String()
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	return &Frame{
		Kind:  KindEvent,
		Ts:    at.UTC().Format(time.RFC3339Nano),
		Event: rec,
	}
}

// DecodeFrame parses a published frame
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Kind != KindReadings && f.Kind != KindEvent {
		return nil, fmt.Errorf("decode frame: unknown kind %q", f.Kind)
	}
	return &f, nil
}
