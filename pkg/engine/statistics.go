// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"fmt"
	"time"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
)

// Statistics tracks sampling cycles, per-field reads and request results.
// The engine owns the live copy; snapshots carry a value copy.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Cycles
	Iterations    uint64
	SuccessCycles uint64
	FailureCycles uint64
	IdleCycles    uint64

	// Reads
	Reads         uint64
	ReadFailures  uint64
	FieldReads    [ecu.NumSampleTypes]uint64
	FieldFailures [ecu.NumSampleTypes]uint64

	// Requests
	Requests          uint64
	RequestFailures   uint64
	CancelledRequests uint64

	// Connection
	Connects        uint64
	ConnectFailures uint64
	Disconnects     uint64

	// Rates (calculated)
	CycleRate float64 // iterations/sec
	ErrorRate float64 // failed reads/sec
}

// NewStatistics creates a tracker starting at now
func NewStatistics(now time.Time) *Statistics {
	return &Statistics{StartTime: now, LastUpdateTime: now}
}

// RecordCycle counts one iteration with its folded outcome
func (s *Statistics) RecordCycle(outcome Outcome, now time.Time) {
	s.Iterations++
	switch outcome {
	case Success:
		s.SuccessCycles++
	case Failure:
		s.FailureCycles++
	default:
		s.IdleCycles++
	}
	s.LastUpdateTime = now
}

// RecordRead counts one sample read
func (s *Statistics) RecordRead(st ecu.SampleType, err error) {
	s.Reads++
	if st >= 0 && int(st) < ecu.NumSampleTypes {
		s.FieldReads[st]++
	}
	if err != nil {
		s.ReadFailures++
		if st >= 0 && int(st) < ecu.NumSampleTypes {
			s.FieldFailures[st]++
		}
	}
}

// RecordRequest counts one drained request
func (s *Statistics) RecordRequest(err error, cancelled bool) {
	s.Requests++
	switch {
	case cancelled:
		s.CancelledRequests++
	case err != nil:
		s.RequestFailures++
	}
}

// CalculateRates calculates cycle and error rates as of now
func (s *Statistics) CalculateRates(now time.Time) {
	elapsed := now.Sub(s.StartTime).Seconds()
	if elapsed > 0 {
		s.CycleRate = float64(s.Iterations) / elapsed
		s.ErrorRate = float64(s.ReadFailures) / elapsed
	}
}

// FailingFields lists the samples with at least one failed read
func (s *Statistics) FailingFields() []ecu.SampleType {
	var out []ecu.SampleType
	for _, st := range ecu.SampleTypes() {
		if s.FieldFailures[st] > 0 {
			out = append(out, st)
		}
	}
	return out
}

// Reset clears all counters and restarts the clock at now
func (s *Statistics) Reset(now time.Time) {
	*s = Statistics{StartTime: now, LastUpdateTime: now}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates(s.LastUpdateTime)

	var successPercent, failurePercent float64
	if s.Iterations > 0 {
		successPercent = float64(s.SuccessCycles) * 100.0 / float64(s.Iterations)
		failurePercent = float64(s.FailureCycles) * 100.0 / float64(s.Iterations)
	}

	elapsed := s.LastUpdateTime.Sub(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Iterations:      %8d\n", s.Iterations)
	result += fmt.Sprintf("Success Cycles:  %8d (%.1f%%)\n", s.SuccessCycles, successPercent)
	if s.FailureCycles > 0 {
		result += fmt.Sprintf("Failure Cycles:  %8d (%.1f%%)\n", s.FailureCycles, failurePercent)
	}
	result += fmt.Sprintf("Reads:           %8d\n", s.Reads)
	if s.ReadFailures > 0 {
		result += fmt.Sprintf("Read Failures:   %8d\n", s.ReadFailures)
		for _, st := range s.FailingFields() {
			result += fmt.Sprintf("  %-20s %5d/%d\n", st.String()+":", s.FieldFailures[st], s.FieldReads[st])
		}
	}
	if s.Requests > 0 {
		result += fmt.Sprintf("Requests:        %8d (%d failed, %d cancelled)\n",
			s.Requests, s.RequestFailures, s.CancelledRequests)
	}
	if s.ConnectFailures > 0 || s.Disconnects > 0 {
		result += fmt.Sprintf("Connects:        %8d (%d failed, %d disconnects)\n",
			s.Connects, s.ConnectFailures, s.Disconnects)
	}

	result += fmt.Sprintf("Cycle Rate:      %8.1f cycles/sec\n", s.CycleRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}
