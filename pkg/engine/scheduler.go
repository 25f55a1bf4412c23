// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"sort"
	"time"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
)

// Default tier intervals
const (
	MidInterval = 200 * time.Millisecond
	LowInterval = 800 * time.Millisecond
)

// SampleConfig is the enable flag and minimum re-read interval of one sample
type SampleConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Schedule is the full sampling configuration. A published Schedule must not
// be modified; build a new one and hand it over with Engine.SetSchedule.
type Schedule struct {
	Samples    [ecu.NumSampleTypes]SampleConfig
	LambdaTrim ecu.LambdaTrimType
}

// pollOrder is the order fields are read within a bucket. FuelMapData is not
// polled; its flag gates the fetch that follows a fuel map index change.
var pollOrder = []ecu.SampleType{
	// always
	ecu.EngineSpeed,
	ecu.Throttle,
	ecu.MAF,
	ecu.LambdaTrimShort,
	ecu.FuelMapRowCol,
	ecu.InjectorPulseWidth,
	// mid
	ecu.GearSelection,
	ecu.MainVoltage,
	ecu.FuelPumpRelay,
	ecu.TargetIdle,
	ecu.LambdaTrimLong,
	ecu.RoadSpeed,
	ecu.IdleBypassPosition,
	ecu.COTrimVoltage,
	// low
	ecu.MIL,
	ecu.CoolantTemp,
	ecu.FuelTemp,
	ecu.FuelMapIndex,
}

var defaultIntervals = map[ecu.SampleType]time.Duration{
	ecu.GearSelection:      MidInterval,
	ecu.MainVoltage:        MidInterval,
	ecu.FuelPumpRelay:      MidInterval,
	ecu.TargetIdle:         MidInterval,
	ecu.LambdaTrimLong:     MidInterval,
	ecu.RoadSpeed:          MidInterval,
	ecu.IdleBypassPosition: MidInterval,
	ecu.COTrimVoltage:      MidInterval,
	ecu.MIL:                LowInterval,
	ecu.CoolantTemp:        LowInterval,
	ecu.FuelTemp:           LowInterval,
	ecu.FuelMapIndex:       LowInterval,
}

// DefaultSchedule enables every sample at its default tier with short trims
func DefaultSchedule() *Schedule {
	s := &Schedule{LambdaTrim: ecu.TrimShort}
	for _, st := range ecu.SampleTypes() {
		s.Samples[st] = SampleConfig{Enabled: true, Interval: defaultIntervals[st]}
	}
	return s
}

// DefaultInterval returns the default re-read interval of a sample
func DefaultInterval(st ecu.SampleType) time.Duration {
	return defaultIntervals[st]
}

// OnlySchedule returns a schedule with just the listed samples enabled
func OnlySchedule(samples ...ecu.SampleType) *Schedule {
	s := DefaultSchedule()
	for i := range s.Samples {
		s.Samples[i].Enabled = false
	}
	for _, st := range samples {
		s.Samples[st].Enabled = true
	}
	return s
}

// Clone returns a modifiable copy
func (s *Schedule) Clone() *Schedule {
	c := *s
	return &c
}

// Enabled reports whether a sample is switched on
func (s *Schedule) Enabled(st ecu.SampleType) bool {
	if st < 0 || int(st) >= ecu.NumSampleTypes {
		return false
	}
	return s.Samples[st].Enabled
}

// polled reports whether the scheduler reads st directly
func (s *Schedule) polled(st ecu.SampleType) bool {
	if !s.Enabled(st) {
		return false
	}
	switch st {
	case ecu.FuelMapData:
		return false
	case ecu.LambdaTrimShort:
		return s.LambdaTrim == ecu.TrimShort
	case ecu.LambdaTrimLong:
		return s.LambdaTrim == ecu.TrimLong
	}
	return true
}

// bucket groups the fields that share one re-read interval
type bucket struct {
	interval    time.Duration
	fields      []ecu.SampleType
	lastSuccess time.Time
	succeeded   bool
	// passes counts the iterations on which the bucket was due
	passes uint64
}

// due reports whether the bucket should be read at now
func (b *bucket) due(now time.Time) bool {
	if !b.succeeded || b.interval <= 0 {
		return true
	}
	return now.Sub(b.lastSuccess) > b.interval
}

func (b *bucket) markSuccess(now time.Time) {
	b.lastSuccess = now
	b.succeeded = true
}

// buildBuckets groups the polled fields of s by interval, ascending
func buildBuckets(s *Schedule) []*bucket {
	byInterval := make(map[time.Duration]*bucket)
	var buckets []*bucket
	for _, st := range pollOrder {
		if !s.polled(st) {
			continue
		}
		iv := s.Samples[st].Interval
		if iv < 0 {
			iv = 0
		}
		b, ok := byInterval[iv]
		if !ok {
			b = &bucket{interval: iv}
			byInterval[iv] = b
			buckets = append(buckets, b)
		}
		b.fields = append(b.fields, st)
	}
	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].interval < buckets[j].interval
	})
	return buckets
}

// eligible applies the per-field policies keyed on how many times the
// field's bucket has been due
func eligible(st ecu.SampleType, pass uint64) bool {
	switch st {
	case ecu.CoolantTemp:
		return pass%2 == 0
	case ecu.FuelTemp:
		return pass%2 == 1
	case ecu.FuelMapIndex:
		return pass%7 == 0
	}
	return true
}
