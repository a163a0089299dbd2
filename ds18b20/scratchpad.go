// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
)

// Scratchpad locations.
const (
	TempLSB       = 0
	TempMSB       = 1
	HighAlarm     = 2 // also user data high byte
	LowAlarm      = 3 // also user data low byte
	Configuration = 4 // reserved on DS18S20
	Internal      = 5
	CountRemain   = 6 // DS18S20 only
	CountPerC     = 7 // DS18S20 only
	ScratchpadCRC = 8
)

// Scratchpad is the register block of a sensor.
type Scratchpad [9]byte

// Valid returns true if the CRC byte matches the first 8 bytes.
func (s *Scratchpad) Valid() bool {
	return owbus.CRC8(s[:ScratchpadCRC]) == s[ScratchpadCRC]
}

// UserData returns the alarm bytes as a 16 bit value.
func (s *Scratchpad) UserData() int16 {
	return int16(uint16(s[HighAlarm])<<8 | uint16(s[LowAlarm]))
}

// SetUserData stores v in the alarm bytes.
func (s *Scratchpad) SetUserData(v int16) {
	s[HighAlarm] = byte(uint16(v) >> 8)
	s[LowAlarm] = byte(v)
}

// Configuration register values, datasheet p.9.
const (
	config9Bit  = 0x1f
	config10Bit = 0x3f
	config11Bit = 0x5f
	config12Bit = 0x7f
)

// EncodeResolution returns the configuration register value for a resolution.
// Values outside 9..12 are clamped.
func EncodeResolution(bits int) byte {
	switch clampResolution(bits) {
	case 12:
		return config12Bit
	case 11:
		return config11Bit
	case 10:
		return config10Bit
	default:
		return config9Bit
	}
}

// DecodeResolution returns the resolution stored in a configuration register
// value, or 0 if the value is not one of the four known patterns.
func DecodeResolution(config byte) int {
	switch config {
	case config12Bit:
		return 12
	case config11Bit:
		return 11
	case config10Bit:
		return 10
	case config9Bit:
		return 9
	default:
		return 0
	}
}

func clampResolution(bits int) int {
	return min(max(bits, 9), 12)
}
