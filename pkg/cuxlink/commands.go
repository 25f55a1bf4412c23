// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cuxlink

import (
	"encoding/binary"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
)

// Request builders. Each returns a packet ready for Encode; the caller
// assigns the sequence number.

// NewReadSample creates a READ_SAMPLE request (0x10).
// arg selects the lambda trim kind for LambdaTrimShort/Long and is
// ignored otherwise.
func NewReadSample(seq uint16, sample ecu.SampleType, arg int64) *Packet {
	payload := map[int]any{KeySample: uint64(sample)}
	if arg != 0 {
		payload[KeyArg] = arg
	}
	return NewPacket(seq, MsgReadSample, payload)
}

// NewIdentify creates an IDENTIFY request (0x11)
func NewIdentify(seq uint16) *Packet {
	return NewPacket(seq, MsgIdentify, nil)
}

// NewReadRPMLimit creates a READ_RPM_LIMIT request (0x12)
func NewReadRPMLimit(seq uint16) *Packet {
	return NewPacket(seq, MsgReadRPMLimit, nil)
}

// NewReadRPMTable creates a READ_RPM_TABLE request (0x13)
func NewReadRPMTable(seq uint16) *Packet {
	return NewPacket(seq, MsgReadRPMTable, nil)
}

// NewReadFaultCodes creates a READ_FAULT_CODES request (0x14)
func NewReadFaultCodes(seq uint16) *Packet {
	return NewPacket(seq, MsgReadFaultCodes, nil)
}

// NewClearFaultCodes creates a CLEAR_FAULT_CODES request (0x15)
func NewClearFaultCodes(seq uint16) *Packet {
	return NewPacket(seq, MsgClearFaultCodes, nil)
}

// NewRunFuelPump creates a RUN_FUEL_PUMP request (0x16)
func NewRunFuelPump(seq uint16) *Packet {
	return NewPacket(seq, MsgRunFuelPump, nil)
}

// NewDriveIAC creates a DRIVE_IAC request (0x17).
// Positive steps open the idle air valve, negative steps close it.
func NewDriveIAC(seq uint16, steps int) *Packet {
	return NewPacket(seq, MsgDriveIAC, map[int]any{0: int64(steps)})
}

// NewReadFuelMap creates a READ_FUEL_MAP request (0x18) for map id 1-6
func NewReadFuelMap(seq uint16, id int) *Packet {
	return NewPacket(seq, MsgReadFuelMap, map[int]any{0: uint64(id)})
}

// NewReadMemory creates a READ_MEMORY request (0x19) for one chunk
func NewReadMemory(seq uint16, region int, offset, length int) *Packet {
	return NewPacket(seq, MsgReadMemory, map[int]any{
		0: uint64(region),
		1: uint64(offset),
		2: uint64(length),
	})
}

// NewPingRequest creates a PING_REQUEST (0x1F)
func NewPingRequest(seq uint16) *Packet {
	return NewPacket(seq, MsgPingRequest, nil)
}

// Response builders, used by bridges and test doubles.

// NewSampleData creates a SAMPLE_DATA response (0x30) carrying up to four values
func NewSampleData(seq uint16, sample ecu.SampleType, values ...any) *Packet {
	payload := map[int]any{KeySample: uint64(sample)}
	for i, v := range values {
		payload[KeyValue+i] = v
	}
	return NewPacket(seq, MsgSampleData, payload)
}

// NewIdentification creates an IDENTIFICATION response (0x31)
func NewIdentification(seq uint16, id ecu.Identification) *Packet {
	return NewPacket(seq, MsgIdentification, map[int]any{
		0: uint64(id.Revision),
		1: uint64(id.ChecksumFixer),
		2: uint64(id.Ident),
	})
}

// NewRPMLimitResponse creates an RPM_LIMIT response (0x32)
func NewRPMLimitResponse(seq uint16, limit int) *Packet {
	return NewPacket(seq, MsgRPMLimit, map[int]any{0: uint64(limit)})
}

// NewRPMTableResponse creates an RPM_TABLE response (0x33).
// The table travels as big-endian uint16 pairs.
func NewRPMTableResponse(seq uint16, table [ecu.RPMTableSize]uint16) *Packet {
	buf := make([]byte, 0, ecu.RPMTableSize*2)
	for _, v := range table {
		buf = binary.BigEndian.AppendUint16(buf, v)
	}
	return NewPacket(seq, MsgRPMTable, map[int]any{0: buf})
}

// NewFaultCodesResponse creates a FAULT_CODES response (0x34)
func NewFaultCodesResponse(seq uint16, codes ecu.FaultCodes) *Packet {
	return NewPacket(seq, MsgFaultCodes, map[int]any{0: codes[:]})
}

// NewAck creates an ACK response (0x35) for an action request
func NewAck(seq uint16, request uint8) *Packet {
	return NewPacket(seq, MsgAck, map[int]any{0: uint64(request)})
}

// NewFuelMapData creates a FUEL_MAP_DATA response (0x36)
func NewFuelMapData(seq uint16, m *ecu.FuelMap) *Packet {
	return NewPacket(seq, MsgFuelMapData, map[int]any{
		0: uint64(m.ID),
		1: m.Data,
		2: uint64(m.AdjustmentFactor),
		3: uint64(m.RowScaler),
	})
}

// NewMemoryData creates a MEMORY_DATA response (0x37) for one chunk
func NewMemoryData(seq uint16, region, offset int, data []byte) *Packet {
	return NewPacket(seq, MsgMemoryData, map[int]any{
		0: uint64(region),
		1: uint64(offset),
		2: data,
	})
}

// NewPingResponse creates a PING_RESPONSE (0x3F) carrying uptime in ms
func NewPingResponse(seq uint16, uptimeMs uint64) *Packet {
	return NewPacket(seq, MsgPingResponse, map[int]any{0: uptimeMs})
}

// NewDeviceError creates an ERROR_DEVICE frame (0xE0)
func NewDeviceError(seq uint16, request uint8, code int) *Packet {
	return NewPacket(seq, MsgErrorDevice, map[int]any{
		0: uint64(request),
		1: uint64(code),
	})
}
