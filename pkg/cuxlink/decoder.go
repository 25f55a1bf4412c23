// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cuxlink

import (
	"errors"
	"fmt"
	"time"
)

// Decoder states
const (
	stateIdle = iota
	stateLength
	stateSeqLo
	stateSeqHi
	stateBody
	stateCRCHi
	stateCRCLo
	stateEnd
)

// Errors reported by the decoder
var (
	ErrCRCMismatch = errors.New("CRC mismatch")
	ErrFraming     = errors.New("framing error")
)

// Decoder is the byte-at-a-time frame decoder state machine
type Decoder struct {
	state      int
	escapeNext bool
	crcData    []byte // LEN, SEQ and body, unstuffed
	packet     *Packet
	raw        []byte // Raw bytes including framing since the last START
}

// NewDecoder creates a decoder waiting for a START byte
func NewDecoder() *Decoder {
	return &Decoder{
		crcData: make([]byte, 0, MaxFrameSize),
		raw:     make([]byte, 0, MaxFrameSize*2),
	}
}

// Reset returns the decoder to idle and drops any partial frame
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.escapeNext = false
	d.crcData = d.crcData[:0]
	d.packet = nil
	d.raw = d.raw[:0]
}

// RawBytes returns the bytes seen since the last START
func (d *Decoder) RawBytes() []byte {
	return d.raw
}

// DecodeByte feeds one wire byte through the state machine.
// It returns a packet when a complete, valid frame ends on this byte.
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	if len(d.raw) >= MaxFrameSize*2 {
		d.raw = d.raw[:0]
	}
	d.raw = append(d.raw, b)

	switch b {
	case StartByte:
		d.Reset()
		d.raw = append(d.raw, b)
		d.state = stateLength
		return nil, nil
	case EndByte:
		return d.finish()
	case EscByte:
		if d.state == stateIdle {
			return nil, nil
		}
		if d.escapeNext {
			d.Reset()
			return nil, fmt.Errorf("%w: double escape", ErrFraming)
		}
		d.escapeNext = true
		return nil, nil
	}

	if d.state == stateIdle {
		return nil, nil
	}
	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	}

	switch d.state {
	case stateLength:
		if b > MaxPayloadSize {
			d.Reset()
			return nil, fmt.Errorf("%w: invalid length %d (max %d)", ErrFraming, b, MaxPayloadSize)
		}
		d.packet = &Packet{length: b, body: make([]byte, 0, b)}
		d.crcData = append(d.crcData, b)
		d.state = stateSeqLo

	case stateSeqLo:
		d.packet.seq = uint16(b)
		d.crcData = append(d.crcData, b)
		d.state = stateSeqHi

	case stateSeqHi:
		d.packet.seq |= uint16(b) << 8
		d.crcData = append(d.crcData, b)
		if d.packet.length == 0 {
			d.state = stateCRCHi
		} else {
			d.state = stateBody
		}

	case stateBody:
		d.packet.body = append(d.packet.body, b)
		d.crcData = append(d.crcData, b)
		if len(d.packet.body) >= int(d.packet.length) {
			d.state = stateCRCHi
		}

	case stateCRCHi:
		d.packet.crc = uint16(b) << 8
		d.state = stateCRCLo

	case stateCRCLo:
		d.packet.crc |= uint16(b)
		d.state = stateEnd

	case stateEnd:
		d.Reset()
		return nil, fmt.Errorf("%w: expected END, got 0x%02X", ErrFraming, b)
	}
	return nil, nil
}

func (d *Decoder) finish() (*Packet, error) {
	switch d.state {
	case stateIdle:
		d.raw = d.raw[:0]
		return nil, nil
	case stateEnd:
	default:
		state := d.state
		d.Reset()
		return nil, fmt.Errorf("%w: unexpected END in state %d", ErrFraming, state)
	}

	p := d.packet
	if want := CalculateCRC(d.crcData); p.crc != want {
		d.Reset()
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, want, p.crc)
	}
	p.timestamp = time.Now()
	d.Reset()
	return p, nil
}

// Decode runs every byte of data through a fresh decoder and returns the
// frames it completed along with the first error seen.
func Decode(data []byte) ([]*Packet, error) {
	d := NewDecoder()
	var (
		out      []*Packet
		firstErr error
	)
	for _, b := range data {
		p, err := d.DecodeByte(b)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if p != nil {
			out = append(out, p)
		}
	}
	return out, firstErr
}
