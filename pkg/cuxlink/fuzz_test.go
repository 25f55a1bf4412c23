// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cuxlink

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// fuzzRounds returns FUZZ_ROUNDS from the environment, default 1000
func fuzzRounds() int {
	if v := os.Getenv("FUZZ_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}

// newFuzzRng seeds from FUZZ_SEED or the clock and logs the seed
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if v := os.Getenv("FUZZ_SEED"); v != "" {
		if s, err := strconv.ParseInt(v, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomPayload builds a payload map with 0-4 entries of mixed types
func randomPayload(rng *rand.Rand) map[int]any {
	n := rng.Intn(5)
	if n == 0 {
		return nil
	}
	m := make(map[int]any, n)
	for i := 0; i < n; i++ {
		key := rng.Intn(8)
		switch rng.Intn(5) {
		case 0:
			m[key] = uint64(rng.Uint32())
		case 1:
			m[key] = -int64(rng.Int31()) - 1
		case 2:
			m[key] = rng.Float64()
		case 3:
			m[key] = rng.Intn(2) == 1
		case 4:
			b := make([]byte, rng.Intn(40))
			rng.Read(b)
			m[key] = b
		}
	}
	return m
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

// TestFuzzDecoder_RandomBytes feeds random bytes and expects no panic
func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rounds := fuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		data := make([]byte, rng.Intn(512)+1)
		rng.Read(data)
		_, _ = Decode(data)
	}
}

// TestFuzzDecoder_RandomFrames encodes random frames and expects every one
// to decode back to the same sequence number and message type
func TestFuzzDecoder_RandomFrames(t *testing.T) {
	rounds := fuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		seq := uint16(rng.Intn(1 << 16))
		msgType := uint8(rng.Intn(256))
		frame, err := EncodeFrame(seq, msgType, randomPayload(rng))
		if err != nil {
			t.Fatalf("Round %d: encode: %v", i, err)
		}

		packets, err := Decode(frame)
		if err != nil {
			t.Errorf("Round %d: unexpected decode error: %v", i, err)
			continue
		}
		if len(packets) != 1 {
			t.Errorf("Round %d: decoded %d packets", i, len(packets))
			continue
		}
		p := packets[0]
		if p.Seq() != seq {
			t.Errorf("Round %d: seq mismatch: expected %d, got %d", i, seq, p.Seq())
		}
		if p.Type() != msgType {
			t.Errorf("Round %d: type mismatch: expected 0x%02X, got 0x%02X", i, msgType, p.Type())
		}
	}
}

// TestFuzzDecoder_CorruptedFrames flips one byte inside a valid frame and
// expects no panic. An altered body that still decodes is a CRC collision.
func TestFuzzDecoder_CorruptedFrames(t *testing.T) {
	rounds := fuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		frame, err := EncodeFrame(uint16(i), MsgSampleData, randomPayload(rng))
		if err != nil {
			t.Fatalf("Round %d: encode: %v", i, err)
		}
		original := decodeOneQuiet(frame)

		idx := rng.Intn(len(frame)-2) + 1
		frame[idx] ^= byte(rng.Intn(255) + 1)

		packets, _ := Decode(frame)
		for _, p := range packets {
			if original != nil && string(p.Body()) != string(original.Body()) && p.Seq() == original.Seq() {
				// Possible only through a CRC collision
				t.Logf("Round %d: corrupted frame passed CRC (collision)", i)
			}
		}
	}
}

// TestFuzzDecoder_RepeatedStart sends runs of START bytes before a valid frame
func TestFuzzDecoder_RepeatedStart(t *testing.T) {
	rounds := fuzzRounds()
	rng := newFuzzRng(t)
	frame, _ := Encode(NewPingRequest(0x0102))

	for i := 0; i < rounds; i++ {
		stream := make([]byte, rng.Intn(100)+1)
		for j := range stream {
			stream[j] = StartByte
		}
		stream = append(stream, frame...)

		packets, err := Decode(stream)
		if err != nil {
			t.Errorf("Round %d: unexpected error after repeated START: %v", i, err)
		}
		if len(packets) != 1 {
			t.Errorf("Round %d: expected one packet, got %d", i, len(packets))
		}
	}
}

// ============================================================
// Validation Fuzz Tests
// ============================================================

// TestFuzzValidation_RandomResponses validates random payloads against every
// request type and expects no panic
func TestFuzzValidation_RandomResponses(t *testing.T) {
	rounds := fuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		for req, resp := range expectedResponse {
			frame, err := EncodeFrame(1, resp, randomPayload(rng))
			if err != nil {
				continue
			}
			if p := decodeOneQuiet(frame); p != nil {
				_ = ValidateResponse(req, p)
			}
		}
	}
}

func decodeOneQuiet(frame []byte) *Packet {
	packets, err := Decode(frame)
	if err != nil || len(packets) != 1 {
		return nil
	}
	return packets[0]
}
