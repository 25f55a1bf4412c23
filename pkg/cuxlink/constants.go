// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package cuxlink implements the framed request/response link used to reach
// the ECU through a serial or WebSocket bridge.
//
// Every frame carries a sequence number so that a response can be matched to
// the request that produced it. Payloads are CBOR encoded as
// [msg_type, {key: value}] and protected by CRC-16-CCITT.
package cuxlink

// Framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Frame size limits
const (
	MaxPayloadSize = 240
	HeaderSize     = 3 // LEN + SEQ
	MaxFrameSize   = HeaderSize + MaxPayloadSize + 2
	ChunkSize      = 128
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Message types - Requests (Host → Bridge) 0x10-0x1F
const (
	MsgReadSample      = 0x10
	MsgIdentify        = 0x11
	MsgReadRPMLimit    = 0x12
	MsgReadRPMTable    = 0x13
	MsgReadFaultCodes  = 0x14
	MsgClearFaultCodes = 0x15
	MsgRunFuelPump     = 0x16
	MsgDriveIAC        = 0x17
	MsgReadFuelMap     = 0x18
	MsgReadMemory      = 0x19
	MsgPingRequest     = 0x1F
)

// Message types - Responses (Bridge → Host) 0x30-0x3F
const (
	MsgSampleData     = 0x30
	MsgIdentification = 0x31
	MsgRPMLimit       = 0x32
	MsgRPMTable       = 0x33
	MsgFaultCodes     = 0x34
	MsgAck            = 0x35
	MsgFuelMapData    = 0x36
	MsgMemoryData     = 0x37
	MsgPingResponse   = 0x3F
)

// Message types - Errors (Bridge → Host) 0xE0-0xEF
const (
	MsgErrorDevice = 0xE0
)

// Memory regions for MsgReadMemory
const (
	RegionROM                 = 0
	RegionBatteryBackedMemory = 1
)

// Device error codes carried in MsgErrorDevice
const (
	ErrCodeNoResponse  = 1
	ErrCodeBadRequest  = 2
	ErrCodeUnsupported = 3
)

// Payload keys shared by several message types
const (
	KeySample = 0 // MsgReadSample / MsgSampleData: sample id
	KeyArg    = 1 // MsgReadSample: argument (lambda trim kind)
	KeyValue  = 1 // MsgSampleData: primary value
	KeyValue2 = 2 // MsgSampleData: secondary value
	KeyValue3 = 3
	KeyValue4 = 4
)

// IsRequest reports whether msgType is in the request range
func IsRequest(msgType uint8) bool {
	return msgType >= 0x10 && msgType <= 0x1F
}

// IsResponse reports whether msgType is in the response range
func IsResponse(msgType uint8) bool {
	return msgType >= 0x30 && msgType <= 0x3F
}

// IsError reports whether msgType is in the error range
func IsError(msgType uint8) bool {
	return msgType >= 0xE0 && msgType <= 0xEF
}
