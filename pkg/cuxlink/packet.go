// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cuxlink

import "time"

// Packet is one decoded link frame
type Packet struct {
	length    uint8
	seq       uint16
	body      []byte // Raw CBOR bytes: [msg_type, payload_map]
	crc       uint16
	timestamp time.Time

	// Parsed lazily from body
	msgType  uint8
	payload  map[int]any
	parsed   bool
	parseErr error
}

// NewPacket builds a packet from its message type and payload map.
// The CBOR body is produced when the packet is encoded.
func NewPacket(seq uint16, msgType uint8, payload map[int]any) *Packet {
	return &Packet{
		seq:       seq,
		msgType:   msgType,
		payload:   payload,
		parsed:    true,
		timestamp: time.Now(),
	}
}

func (p *Packet) ensureParsed() {
	if p.parsed {
		return
	}
	p.parsed = true
	if len(p.body) == 0 {
		return
	}
	p.msgType, p.payload, p.parseErr = ParseMessage(p.body)
}

// Length returns the CBOR body length as carried in the frame
func (p *Packet) Length() uint8 { return p.length }

// Seq returns the frame sequence number
func (p *Packet) Seq() uint16 { return p.seq }

// Type returns the message type
func (p *Packet) Type() uint8 {
	p.ensureParsed()
	return p.msgType
}

// Body returns the raw CBOR bytes
func (p *Packet) Body() []byte { return p.body }

// Payload returns the decoded payload map (nil for empty payloads)
func (p *Packet) Payload() map[int]any {
	p.ensureParsed()
	return p.payload
}

// ParseError returns any error from decoding the CBOR body
func (p *Packet) ParseError() error {
	p.ensureParsed()
	return p.parseErr
}

// CRC returns the frame checksum
func (p *Packet) CRC() uint16 { return p.crc }

// Timestamp returns when the frame was decoded or built
func (p *Packet) Timestamp() time.Time { return p.timestamp }
