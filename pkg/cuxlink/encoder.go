// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cuxlink

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrPayloadTooLarge is returned when a CBOR body exceeds MaxPayloadSize
var ErrPayloadTooLarge = errors.New("payload too large")

// Encode produces the wire form of p
func Encode(p *Packet) ([]byte, error) {
	return EncodeFrame(p.Seq(), p.Type(), p.Payload())
}

// EncodeFrame builds a complete stuffed frame ready for transmission
func EncodeFrame(seq uint16, msgType uint8, payload map[int]any) ([]byte, error) {
	body, err := encodeMessage(msgType, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR payload: %w", err)
	}
	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(body), MaxPayloadSize)
	}

	// LEN + SEQ + body is both the CRC input and the stuffed section
	data := make([]byte, HeaderSize, HeaderSize+len(body)+2)
	data[0] = uint8(len(body))
	binary.LittleEndian.PutUint16(data[1:3], seq)
	data = append(data, body...)

	crc := CalculateCRC(data)
	data = binary.BigEndian.AppendUint16(data, crc)

	frame := make([]byte, 0, len(data)*2+2)
	frame = append(frame, StartByte)
	frame = appendStuffed(frame, data)
	frame = append(frame, EndByte)
	return frame, nil
}

// appendStuffed escapes START, END and ESC bytes of data onto dst
func appendStuffed(dst, data []byte) []byte {
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			dst = append(dst, EscByte, b^EscXor)
		} else {
			dst = append(dst, b)
		}
	}
	return dst
}

// UnstuffBytes removes byte stuffing from escaped data
func UnstuffBytes(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	escaped := false
	for _, b := range data {
		switch {
		case escaped:
			out = append(out, b^EscXor)
			escaped = false
		case b == EscByte:
			escaped = true
		default:
			out = append(out, b)
		}
	}
	if escaped {
		return nil, errors.New("incomplete escape sequence at end of data")
	}
	return out, nil
}
