// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ecu

import (
	"fmt"
	"sort"
	"strings"
)

// Fuel map geometry
const (
	FuelMapRows  = 8
	FuelMapCols  = 16
	FuelMapSize  = FuelMapRows * FuelMapCols
	FirstFuelMap = 1
	LastFuelMap  = 6
)

// Memory image sizes
const (
	ROMSize                 = 16 * 1024
	BatteryBackedMemorySize = 64
	RPMTableSize            = 16
)

// ValidFuelMapID reports whether id names one of the six stored maps
func ValidFuelMapID(id int) bool {
	return id >= FirstFuelMap && id <= LastFuelMap
}

// FuelMap is one 8x16 fuelling table with its scaling parameters.
// Data is treated as immutable once the map is handed out.
type FuelMap struct {
	ID               int
	Data             []byte
	AdjustmentFactor uint16
	RowScaler        uint16
}

// Cell returns the raw value at (row, col), or 0 when out of range
func (m *FuelMap) Cell(row, col int) byte {
	if m == nil || row < 0 || row >= FuelMapRows || col < 0 || col >= FuelMapCols {
		return 0
	}
	i := row*FuelMapCols + col
	if i >= len(m.Data) {
		return 0
	}
	return m.Data[i]
}

// Validate checks the buffer geometry and id
func (m *FuelMap) Validate() error {
	if !ValidFuelMapID(m.ID) {
		return fmt.Errorf("fuel map id %d out of range %d-%d", m.ID, FirstFuelMap, LastFuelMap)
	}
	if len(m.Data) != FuelMapSize {
		return fmt.Errorf("fuel map %d has %d bytes, want %d", m.ID, len(m.Data), FuelMapSize)
	}
	return nil
}

// FaultCodes is the ECU's 5-byte fault bitfield
type FaultCodes [5]byte

// faultNames maps (byte, bit) to the code's name
var faultNames = map[[2]int]string{
	{0, 0}: "ECU memory checksum",
	{0, 1}: "Lambda sensor A (left)",
	{0, 2}: "Lambda sensor B (right)",
	{0, 3}: "Misfire A (left)",
	{0, 4}: "Misfire B (right)",
	{0, 5}: "Airflow meter",
	{0, 6}: "Tune resistor out of range",
	{0, 7}: "Injector A (left)",
	{1, 0}: "Injector B (right)",
	{1, 1}: "Coolant temperature sensor",
	{1, 2}: "Throttle pot",
	{1, 3}: "Throttle pot high / MAF low",
	{1, 4}: "Throttle pot low / MAF high",
	{1, 5}: "Purge valve leak",
	{1, 6}: "Mixture too lean",
	{1, 7}: "Intake air leak",
	{2, 0}: "Fuel pressure or injector",
	{2, 1}: "Road speed sensor",
	{2, 2}: "Fuel temperature sensor",
	{2, 3}: "Purge valve",
	{2, 4}: "RAM checksum",
	{2, 5}: "Neutral switch",
	{3, 0}: "Low fuel pressure",
	{3, 1}: "Battery-backed memory lost",
	{4, 0}: "Idle air control",
	{4, 1}: "CO trim pot",
}

// Set reports whether the given (byte, bit) is set
func (f FaultCodes) Set(byteIdx, bit int) bool {
	if byteIdx < 0 || byteIdx >= len(f) || bit < 0 || bit > 7 {
		return false
	}
	return f[byteIdx]&(1<<uint(bit)) != 0
}

// Count returns the number of set bits
func (f FaultCodes) Count() int {
	n := 0
	for _, b := range f {
		for ; b != 0; b &= b - 1 {
			n++
		}
	}
	return n
}

// Active returns the names of every set code, in bit order.
// Bits without a known name are reported by position.
func (f FaultCodes) Active() []string {
	var out []string
	for i := range f {
		for bit := 0; bit < 8; bit++ {
			if !f.Set(i, bit) {
				continue
			}
			if name, ok := faultNames[[2]int{i, bit}]; ok {
				out = append(out, name)
			} else {
				out = append(out, fmt.Sprintf("Unknown fault (byte %d bit %d)", i, bit))
			}
		}
	}
	return out
}

// FaultNames returns every known fault name sorted alphabetically
func FaultNames() []string {
	names := make([]string, 0, len(faultNames))
	for _, n := range faultNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (f FaultCodes) String() string {
	active := f.Active()
	if len(active) == 0 {
		return "no faults"
	}
	return strings.Join(active, ", ")
}
