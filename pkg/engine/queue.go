// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"fmt"
	"sync"
)

// RequestKind identifies an on-demand operation
type RequestKind int

const (
	ROMImageRead RequestKind = iota
	FuelMapRead
	RPMTableRead
	FuelPumpRun
	IdleAirControlDrive
	TuneRevisionRead
	FaultCodesRead
	FaultCodesClear
	BatteryBackedMemRead
)

var requestKindNames = map[RequestKind]string{
	ROMImageRead:         "rom_image_read",
	FuelMapRead:          "fuel_map_read",
	RPMTableRead:         "rpm_table_read",
	FuelPumpRun:          "fuel_pump_run",
	IdleAirControlDrive:  "idle_air_control_drive",
	TuneRevisionRead:     "tune_revision_read",
	FaultCodesRead:       "fault_codes_read",
	FaultCodesClear:      "fault_codes_clear",
	BatteryBackedMemRead: "battery_backed_mem_read",
}

func (k RequestKind) String() string {
	if name, ok := requestKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("request(%d)", int(k))
}

// Request is one queued operation. Arg is the fuel map id for FuelMapRead
// and the signed step count for IdleAirControlDrive.
type Request struct {
	Kind RequestKind
	Arg  int
}

func (r Request) String() string {
	switch r.Kind {
	case FuelMapRead, IdleAirControlDrive:
		return fmt.Sprintf("%s(%d)", r.Kind, r.Arg)
	}
	return r.Kind.String()
}

// Queue is a mutex-guarded FIFO of requests
type Queue struct {
	mu    sync.Mutex
	items []Request
}

// Push appends a request
func (q *Queue) Push(r Request) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

// Pop removes the oldest request
func (q *Queue) Pop() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Request{}, false
	}
	r := q.items[0]
	q.items[0] = Request{}
	q.items = q.items[1:]
	return r, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every pending request and returns how many were dropped
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}
