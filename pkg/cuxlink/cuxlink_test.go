// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cuxlink

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
)

// ============================================================
// CRC Tests
// ============================================================

func TestCRCKnownValue(t *testing.T) {
	// CRC-16-CCITT-FALSE check value
	if got := CalculateCRC([]byte("123456789")); got != 0x29B1 {
		t.Errorf("CRC = 0x%04X, want 0x29B1", got)
	}
}

func TestCRCEmpty(t *testing.T) {
	if got := CalculateCRC(nil); got != crcInitial {
		t.Errorf("CRC of empty input = 0x%04X, want 0x%04X", got, crcInitial)
	}
}

// ============================================================
// Frame Round Trip Tests
// ============================================================

func decodeOne(t *testing.T, frame []byte) *Packet {
	t.Helper()
	packets, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("decoded %d packets, want 1", len(packets))
	}
	return packets[0]
}

func TestEncodeDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		packet  *Packet
		checkFn func(t *testing.T, p *Packet)
	}{
		{
			name:   "ping request",
			packet: NewPingRequest(1),
			checkFn: func(t *testing.T, p *Packet) {
				if p.Payload() != nil {
					t.Errorf("expected nil payload, got %v", p.Payload())
				}
			},
		},
		{
			name:   "read sample",
			packet: NewReadSample(42, ecu.CoolantTemp, 0),
			checkFn: func(t *testing.T, p *Packet) {
				if id, _ := GetUint(p.Payload(), KeySample); ecu.SampleType(id) != ecu.CoolantTemp {
					t.Errorf("sample id = %d", id)
				}
			},
		},
		{
			name:   "sample data with negative and float values",
			packet: NewSampleData(7, ecu.LambdaTrimShort, int64(-120), int64(33)),
			checkFn: func(t *testing.T, p *Packet) {
				l, _ := GetInt(p.Payload(), KeyValue)
				r, _ := GetInt(p.Payload(), KeyValue2)
				if l != -120 || r != 33 {
					t.Errorf("trims = %d/%d", l, r)
				}
			},
		},
		{
			name:   "sequence needing escapes",
			packet: NewDriveIAC(0x7D7E, -12),
			checkFn: func(t *testing.T, p *Packet) {
				if p.Seq() != 0x7D7E {
					t.Errorf("seq = 0x%04X", p.Seq())
				}
				if steps, _ := GetInt(p.Payload(), 0); steps != -12 {
					t.Errorf("steps = %d", steps)
				}
			},
		},
		{
			name: "fuel map data",
			packet: NewFuelMapData(9, &ecu.FuelMap{
				ID:               2,
				Data:             bytes.Repeat([]byte{0x7E, 0x7D, 0x7F, 0x01}, ecu.FuelMapSize/4),
				AdjustmentFactor: 0x4002,
				RowScaler:        0x80,
			}),
			checkFn: func(t *testing.T, p *Packet) {
				data, _ := GetBytes(p.Payload(), 1)
				if len(data) != ecu.FuelMapSize || data[0] != 0x7E || data[2] != 0x7F {
					t.Errorf("fuel map bytes mangled: % X", data[:4])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.packet)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if frame[0] != StartByte || frame[len(frame)-1] != EndByte {
				t.Fatalf("frame not delimited: % X", frame)
			}
			for _, b := range frame[1 : len(frame)-1] {
				if b == StartByte || b == EndByte {
					t.Fatalf("unescaped framing byte inside frame: % X", frame)
				}
			}

			p := decodeOne(t, frame)
			if p.Type() != tt.packet.Type() {
				t.Errorf("type = 0x%02X, want 0x%02X", p.Type(), tt.packet.Type())
			}
			if p.Seq() != tt.packet.Seq() {
				t.Errorf("seq = %d, want %d", p.Seq(), tt.packet.Seq())
			}
			if err := p.ParseError(); err != nil {
				t.Fatalf("ParseError: %v", err)
			}
			tt.checkFn(t, p)
		})
	}
}

func TestEncodePayloadTooLarge(t *testing.T) {
	_, err := EncodeFrame(1, MsgMemoryData, map[int]any{2: make([]byte, MaxPayloadSize)})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestUnstuffBytes(t *testing.T) {
	data := []byte{0x01, StartByte, EscByte, EndByte, 0x02}
	stuffed := appendStuffed(nil, data)
	got, err := UnstuffBytes(stuffed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got % X, want % X", got, data)
	}
	if _, err := UnstuffBytes([]byte{0x01, EscByte}); err == nil {
		t.Error("expected error for trailing escape")
	}
}

// ============================================================
// Decoder Error Tests
// ============================================================

func TestDecoderRejectsBadCRC(t *testing.T) {
	frame, _ := Encode(NewPingRequest(5))
	frame[len(frame)-2] ^= 0x01 // flip a CRC bit

	_, err := Decode(frame)
	if !errors.Is(err, ErrCRCMismatch) {
		t.Errorf("expected ErrCRCMismatch, got %v", err)
	}
}

func TestDecoderFramingErrors(t *testing.T) {
	tests := []struct {
		name  string
		bytes []byte
	}{
		{"length too large", []byte{StartByte, MaxPayloadSize + 1}},
		{"early end", []byte{StartByte, 0x05, 0x01, EndByte}},
		{"double escape", []byte{StartByte, 0x02, EscByte, EscByte}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.bytes)
			if !errors.Is(err, ErrFraming) {
				t.Errorf("expected ErrFraming, got %v", err)
			}
		})
	}
}

func TestDecoderResyncsAfterGarbage(t *testing.T) {
	f1, _ := Encode(NewPingRequest(1))
	f2, _ := Encode(NewIdentify(2))

	stream := append([]byte{0x00, 0x13, EndByte, 0x42}, f1...)
	stream = append(stream, 0x99, 0x98)
	stream = append(stream, f2...)

	packets, _ := Decode(stream)
	if len(packets) != 2 {
		t.Fatalf("decoded %d packets, want 2", len(packets))
	}
	if packets[0].Type() != MsgPingRequest || packets[1].Type() != MsgIdentify {
		t.Errorf("unexpected types 0x%02X, 0x%02X", packets[0].Type(), packets[1].Type())
	}
}

func TestDecoderRestartsOnStart(t *testing.T) {
	full, _ := Encode(NewReadRPMLimit(3))
	// A truncated frame followed by a complete one
	stream := append([]byte{}, full[:4]...)
	stream = append(stream, full...)

	packets, err := Decode(stream)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(packets) != 1 || packets[0].Seq() != 3 {
		t.Fatalf("expected the complete frame only, got %d packets", len(packets))
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidateResponse(t *testing.T) {
	tests := []struct {
		name    string
		request uint8
		packet  *Packet
		want    []AnomalyType
	}{
		{"ok sample", MsgReadSample, NewSampleData(1, ecu.EngineSpeed, int64(850)), nil},
		{"wrong type", MsgReadSample, NewAck(1, MsgReadSample), []AnomalyType{AnomalyUnexpectedType}},
		{"rpm too high", MsgReadSample, NewSampleData(1, ecu.EngineSpeed, int64(12000)), []AnomalyType{AnomalyOutOfRange}},
		{"throttle above one", MsgReadSample, NewSampleData(1, ecu.Throttle, 1.5), []AnomalyType{AnomalyOutOfRange}},
		{"missing value", MsgReadSample, NewSampleData(1, ecu.MAF), []AnomalyType{AnomalyMissingField}},
		{"bad map index", MsgReadSample, NewSampleData(1, ecu.FuelMapIndex, int64(9)), []AnomalyType{AnomalyOutOfRange}},
		{"short fault codes", MsgReadFaultCodes, NewPacket(1, MsgFaultCodes, map[int]any{0: []byte{1, 2}}), []AnomalyType{AnomalyLengthMismatch}},
		{"ok fault codes", MsgReadFaultCodes, NewFaultCodesResponse(1, ecu.FaultCodes{1}), nil},
		{"identification missing ident", MsgIdentify, NewPacket(1, MsgIdentification, map[int]any{0: uint64(1), 1: uint64(2)}), []AnomalyType{AnomalyMissingField}},
		{"ack for pump", MsgRunFuelPump, NewAck(1, MsgRunFuelPump), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Round trip through the wire so payload types match decoded values
			frame, err := Encode(tt.packet)
			if err != nil {
				t.Fatal(err)
			}
			errs := ValidateResponse(tt.request, decodeOne(t, frame))
			if len(errs) != len(tt.want) {
				t.Fatalf("got %d errors (%v), want %d", len(errs), errs, len(tt.want))
			}
			for i, e := range errs {
				if e.Type != tt.want[i] {
					t.Errorf("error %d type = %v, want %v", i, e.Type, tt.want[i])
				}
			}
		})
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatMessageType(t *testing.T) {
	tests := map[uint8]string{
		MsgReadSample:   "READ_SAMPLE",
		MsgSampleData:   "SAMPLE_DATA",
		MsgErrorDevice:  "ERROR_DEVICE",
		MsgPingResponse: "PING_RESPONSE",
		0x99:            "UNKNOWN",
	}
	for msgType, want := range tests {
		if got := FormatMessageType(msgType); got != want {
			t.Errorf("FormatMessageType(0x%02X) = %q, want %q", msgType, got, want)
		}
	}
}

func TestFormatPacket(t *testing.T) {
	frame, _ := Encode(NewSampleData(12, ecu.EngineSpeed, int64(900)))
	out := FormatPacket(decodeOne(t, frame))
	for _, want := range []string{"SAMPLE_DATA", "seq=12", "engine_speed = 900"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	frame, _ = Encode(NewDeviceError(3, MsgReadFaultCodes, ErrCodeNoResponse))
	out = FormatPacket(decodeOne(t, frame))
	if !strings.Contains(out, "READ_FAULT_CODES failed: ECU did not respond") {
		t.Errorf("unexpected error formatting:\n%s", out)
	}
}

func TestMessageRanges(t *testing.T) {
	if !IsRequest(MsgReadSample) || !IsRequest(MsgPingRequest) || IsRequest(MsgSampleData) {
		t.Error("request range misclassified")
	}
	if !IsResponse(MsgSampleData) || !IsResponse(MsgPingResponse) || IsResponse(MsgErrorDevice) {
		t.Error("response range misclassified")
	}
	if !IsError(MsgErrorDevice) || IsError(MsgAck) {
		t.Error("error range misclassified")
	}
	for req := range expectedResponse {
		if !IsRequest(req) {
			t.Errorf("0x%02X is not in the request range", req)
		}
	}
}
