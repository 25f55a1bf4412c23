// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cuxlink

import (
	"fmt"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
)

// AnomalyType classifies a malformed response
type AnomalyType int

const (
	AnomalyDecodeError AnomalyType = iota
	AnomalyUnexpectedType
	AnomalyMissingField
	AnomalyLengthMismatch
	AnomalyOutOfRange
)

func (a AnomalyType) String() string {
	switch a {
	case AnomalyDecodeError:
		return "decode error"
	case AnomalyUnexpectedType:
		return "unexpected type"
	case AnomalyMissingField:
		return "missing field"
	case AnomalyLengthMismatch:
		return "length mismatch"
	case AnomalyOutOfRange:
		return "out of range"
	}
	return "unknown"
}

// ValidationError describes why a response frame was rejected
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]any
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// expectedResponse maps each request type to the response type that answers it
var expectedResponse = map[uint8]uint8{
	MsgReadSample:      MsgSampleData,
	MsgIdentify:        MsgIdentification,
	MsgReadRPMLimit:    MsgRPMLimit,
	MsgReadRPMTable:    MsgRPMTable,
	MsgReadFaultCodes:  MsgFaultCodes,
	MsgClearFaultCodes: MsgAck,
	MsgRunFuelPump:     MsgAck,
	MsgDriveIAC:        MsgAck,
	MsgReadFuelMap:     MsgFuelMapData,
	MsgReadMemory:      MsgMemoryData,
	MsgPingRequest:     MsgPingResponse,
}

// ExpectedResponse returns the response type for a request type
func ExpectedResponse(request uint8) (uint8, bool) {
	t, ok := expectedResponse[request]
	return t, ok
}

// ValidateResponse checks that p is a well-formed answer to request.
// Error frames are not validated here; callers handle them first.
func ValidateResponse(request uint8, p *Packet) []ValidationError {
	if err := p.ParseError(); err != nil {
		return []ValidationError{{
			Type:    AnomalyDecodeError,
			Message: fmt.Sprintf("cannot decode response body: %v", err),
		}}
	}

	want, ok := expectedResponse[request]
	if !ok || p.Type() != want {
		return []ValidationError{{
			Type: AnomalyUnexpectedType,
			Message: fmt.Sprintf("%s does not answer %s",
				FormatMessageType(p.Type()), FormatMessageType(request)),
			Details: map[string]any{"request": request, "response": p.Type()},
		}}
	}

	m := p.Payload()
	switch want {
	case MsgSampleData:
		return validateSampleData(m)
	case MsgIdentification:
		return requireKeys(p, 0, 1, 2)
	case MsgRPMLimit, MsgAck, MsgPingResponse:
		return requireKeys(p, 0)
	case MsgRPMTable:
		return requireBytes(p, 0, ecu.RPMTableSize*2)
	case MsgFaultCodes:
		return requireBytes(p, 0, len(ecu.FaultCodes{}))
	case MsgFuelMapData:
		if errs := requireKeys(p, 0, 2, 3); len(errs) > 0 {
			return errs
		}
		return requireBytes(p, 1, ecu.FuelMapSize)
	case MsgMemoryData:
		if errs := requireKeys(p, 0, 1); len(errs) > 0 {
			return errs
		}
		if _, ok := GetBytes(m, 2); !ok {
			return missing(p, 2)
		}
	}
	return nil
}

func validateSampleData(m map[int]any) []ValidationError {
	id, ok := GetUint(m, KeySample)
	if !ok {
		return []ValidationError{{
			Type:    AnomalyMissingField,
			Message: "SAMPLE_DATA missing sample id",
		}}
	}
	if id >= uint64(ecu.NumSampleTypes) {
		return []ValidationError{{
			Type:    AnomalyOutOfRange,
			Message: fmt.Sprintf("SAMPLE_DATA sample id %d out of range", id),
			Details: map[string]any{"sample": id, "max": ecu.NumSampleTypes - 1},
		}}
	}
	if _, ok := m[KeyValue]; !ok {
		return []ValidationError{{
			Type:    AnomalyMissingField,
			Message: fmt.Sprintf("SAMPLE_DATA for %s has no value", ecu.SampleType(id)),
		}}
	}

	var errs []ValidationError
	switch ecu.SampleType(id) {
	case ecu.EngineSpeed:
		if v, _ := GetInt(m, KeyValue); v < 0 || v > 10000 {
			errs = append(errs, ValidationError{
				Type:    AnomalyOutOfRange,
				Message: fmt.Sprintf("engine speed %d outside 0-10000", v),
				Details: map[string]any{"value": v, "min": 0, "max": 10000},
			})
		}
	case ecu.Throttle, ecu.MAF, ecu.IdleBypassPosition:
		if v, _ := GetFloat(m, KeyValue); v < 0 || v > 1 {
			errs = append(errs, ValidationError{
				Type:    AnomalyOutOfRange,
				Message: fmt.Sprintf("%s fraction %.3f outside 0-1", ecu.SampleType(id), v),
				Details: map[string]any{"value": v, "min": 0.0, "max": 1.0},
			})
		}
	case ecu.FuelMapRowCol:
		row, _ := GetInt(m, KeyValue)
		col, _ := GetInt(m, KeyValue3)
		if row < 0 || row >= ecu.FuelMapRows || col < 0 || col >= ecu.FuelMapCols {
			errs = append(errs, ValidationError{
				Type:    AnomalyOutOfRange,
				Message: fmt.Sprintf("fuel map site (%d,%d) outside table", row, col),
				Details: map[string]any{"row": row, "col": col},
			})
		}
	case ecu.FuelMapIndex:
		if v, _ := GetInt(m, KeyValue); !ecu.ValidFuelMapID(int(v)) {
			errs = append(errs, ValidationError{
				Type:    AnomalyOutOfRange,
				Message: fmt.Sprintf("fuel map index %d outside 1-6", v),
				Details: map[string]any{"value": v},
			})
		}
	}
	return errs
}

func requireKeys(p *Packet, keys ...int) []ValidationError {
	m := p.Payload()
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return missing(p, k)
		}
	}
	return nil
}

func requireBytes(p *Packet, key, length int) []ValidationError {
	b, ok := GetBytes(p.Payload(), key)
	if !ok {
		return missing(p, key)
	}
	if len(b) != length {
		return []ValidationError{{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("%s field %d has %d bytes (expected %d)", FormatMessageType(p.Type()), key, len(b), length),
			Details: map[string]any{"length": len(b), "expected": length},
		}}
	}
	return nil
}

func missing(p *Packet, key int) []ValidationError {
	return []ValidationError{{
		Type:    AnomalyMissingField,
		Message: fmt.Sprintf("%s missing field %d", FormatMessageType(p.Type()), key),
		Details: map[string]any{"key": key},
	}}
}
