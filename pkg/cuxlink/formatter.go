// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cuxlink

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
)

var messageTypeNames = map[uint8]string{
	MsgReadSample:      "READ_SAMPLE",
	MsgIdentify:        "IDENTIFY",
	MsgReadRPMLimit:    "READ_RPM_LIMIT",
	MsgReadRPMTable:    "READ_RPM_TABLE",
	MsgReadFaultCodes:  "READ_FAULT_CODES",
	MsgClearFaultCodes: "CLEAR_FAULT_CODES",
	MsgRunFuelPump:     "RUN_FUEL_PUMP",
	MsgDriveIAC:        "DRIVE_IAC",
	MsgReadFuelMap:     "READ_FUEL_MAP",
	MsgReadMemory:      "READ_MEMORY",
	MsgPingRequest:     "PING_REQUEST",

	MsgSampleData:     "SAMPLE_DATA",
	MsgIdentification: "IDENTIFICATION",
	MsgRPMLimit:       "RPM_LIMIT",
	MsgRPMTable:       "RPM_TABLE",
	MsgFaultCodes:     "FAULT_CODES",
	MsgAck:            "ACK",
	MsgFuelMapData:    "FUEL_MAP_DATA",
	MsgMemoryData:     "MEMORY_DATA",
	MsgPingResponse:   "PING_RESPONSE",

	MsgErrorDevice: "ERROR_DEVICE",
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType uint8) string {
	if name, ok := messageTypeNames[msgType]; ok {
		return name
	}
	return "UNKNOWN"
}

// FormatPacket renders a packet as a one-line header followed by its fields
func FormatPacket(p *Packet) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s (0x%02X) seq=%d len=%d\n",
		p.Timestamp().Format("15:04:05.000"), FormatMessageType(p.Type()), p.Type(), p.Seq(), p.Length())
	if err := p.ParseError(); err != nil {
		fmt.Fprintf(&sb, "  (undecodable: %v)\n", err)
		return sb.String()
	}
	sb.WriteString(FormatPayload(p.Type(), p.Payload()))
	return sb.String()
}

// FormatPayload formats a payload map according to its message type
func FormatPayload(msgType uint8, m map[int]any) string {
	switch msgType {
	case MsgReadSample:
		id, _ := GetUint(m, KeySample)
		return fmt.Sprintf("  Sample: %s\n", ecu.SampleType(id))

	case MsgSampleData:
		id, _ := GetUint(m, KeySample)
		return fmt.Sprintf("  %s = %s\n", ecu.SampleType(id), formatValues(m))

	case MsgIdentification:
		rev, _ := GetUint(m, 0)
		fixer, _ := GetUint(m, 1)
		ident, _ := GetUint(m, 2)
		return fmt.Sprintf("  Revision: R%04d, Checksum fixer: 0x%02X, Ident: 0x%04X\n", rev, fixer, ident)

	case MsgFaultCodes:
		b, _ := GetBytes(m, 0)
		var codes ecu.FaultCodes
		copy(codes[:], b)
		return fmt.Sprintf("  Faults: %s\n", codes)

	case MsgAck:
		req, _ := GetUint(m, 0)
		return fmt.Sprintf("  Acknowledged: %s\n", FormatMessageType(uint8(req)))

	case MsgReadMemory:
		region, _ := GetUint(m, 0)
		offset, _ := GetUint(m, 1)
		length, _ := GetUint(m, 2)
		return fmt.Sprintf("  Region %d, offset 0x%04X, %d bytes\n", region, offset, length)

	case MsgMemoryData:
		offset, _ := GetUint(m, 1)
		data, _ := GetBytes(m, 2)
		return fmt.Sprintf("  Offset 0x%04X, %d bytes\n", offset, len(data))

	case MsgFuelMapData:
		id, _ := GetUint(m, 0)
		adj, _ := GetUint(m, 2)
		return fmt.Sprintf("  Fuel map %d, adjustment factor 0x%04X\n", id, adj)

	case MsgPingResponse:
		uptime, _ := GetUint(m, 0)
		return fmt.Sprintf("  Uptime: %s\n", time.Duration(uptime)*time.Millisecond)

	case MsgErrorDevice:
		req, _ := GetUint(m, 0)
		code, _ := GetUint(m, 1)
		return fmt.Sprintf("  Request %s failed: %s\n", FormatMessageType(uint8(req)), formatDeviceError(int(code)))
	}

	if len(m) == 0 {
		return "  (no payload)\n"
	}
	return "  " + formatValues(m) + "\n"
}

func formatValues(m map[int]any) string {
	keys := make([]int, 0, len(m))
	for k := range m {
		if k != KeySample {
			keys = append(keys, k)
		}
	}
	sort.Ints(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%v", m[k]))
	}
	return strings.Join(parts, ", ")
}

func formatDeviceError(code int) string {
	switch code {
	case ErrCodeNoResponse:
		return "ECU did not respond"
	case ErrCodeBadRequest:
		return "bad request"
	case ErrCodeUnsupported:
		return "unsupported"
	}
	return fmt.Sprintf("code %d", code)
}
