// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simulator

// Oscillator is a ping-pong value that moves by Step on every call to Next,
// clamping at Min and Max and reversing direction there.
type Oscillator struct {
	Min, Max, Step float64

	value float64
	down  bool
}

// NewOscillator returns an oscillator starting at lo and moving up
func NewOscillator(lo, hi, step float64) *Oscillator {
	return &Oscillator{Min: lo, Max: hi, Step: step, value: lo}
}

// Value returns the current value without advancing
func (o *Oscillator) Value() float64 {
	return o.value
}

// Next advances one step and returns the new value
func (o *Oscillator) Next() float64 {
	if o.down {
		o.value -= o.Step
		if o.value <= o.Min {
			o.value = o.Min
			o.down = false
		}
	} else {
		o.value += o.Step
		if o.value >= o.Max {
			o.value = o.Max
			o.down = true
		}
	}
	return o.value
}

// odometer is the fuel map site walker: four mixed-radix digits counted
// up to the last site and back down again, least significant first.
type odometer struct {
	digits [4]int // colWeight, col, rowWeight, row
	down   bool
}

var odometerRadix = [4]int{16, 16, 16, 8}

func (o *odometer) atMax() bool {
	for i, d := range o.digits {
		if d != odometerRadix[i]-1 {
			return false
		}
	}
	return true
}

func (o *odometer) atMin() bool {
	return o.digits == [4]int{}
}

// step reverses at either end, then moves one position
func (o *odometer) step() {
	if !o.down && o.atMax() {
		o.down = true
	} else if o.down && o.atMin() {
		o.down = false
	}

	if o.down {
		for i := range o.digits {
			o.digits[i]--
			if o.digits[i] >= 0 {
				return
			}
			o.digits[i] = odometerRadix[i] - 1
		}
		return
	}
	for i := range o.digits {
		o.digits[i]++
		if o.digits[i] < odometerRadix[i] {
			return
		}
		o.digits[i] = 0
	}
}
