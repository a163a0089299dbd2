// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owbustest

import (
	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
)

// Thermometer simulates a DS18B20 family temperature sensor.
//
// Legacy DS18S20 devices (family 0x10) only accept the two alarm bytes on a
// scratchpad write.
type Thermometer struct {
	Addr owbus.Address
	// Scratchpad holds bytes 0 to 7, the CRC is computed on read.
	Scratchpad [8]byte
	// EEPROM holds TH, TL and the configuration register.
	EEPROM [3]byte
	// Raw is loaded in the temperature register by a conversion.
	Raw [2]byte
	// Parasite makes the device report parasite power.
	Parasite bool
	// BusyPolls is the number of read slots answered with 0 after a
	// conversion is started.
	BusyPolls int
	// CorruptCRC flips the CRC byte returned by a scratchpad read.
	CorruptCRC bool

	// Conversions and Copies count the convert and copy scratchpad commands.
	Conversions int
	Copies      int

	cmd  byte
	out  []byte
	in   int
	busy int
}

// NewThermometer returns a device with the power-on scratchpad, configured
// for the given resolution. Legacy devices ignore resolution.
func NewThermometer(a owbus.Address, resolution int) *Thermometer {
	t := &Thermometer{Addr: a}
	if a.Family() == 0x10 {
		t.Scratchpad = [8]byte{0xaa, 0x00, 0x4b, 0x46, 0xff, 0xff, 0x0c, 0x10}
		t.EEPROM = [3]byte{0x4b, 0x46, 0xff}
	} else {
		cfg := byte((resolution-9)<<5) | 0x1f
		t.Scratchpad = [8]byte{0x50, 0x05, 0x4b, 0x46, cfg, 0xff, 0x0c, 0x10}
		t.EEPROM = [3]byte{0x4b, 0x46, cfg}
	}
	t.Raw = [2]byte{t.Scratchpad[0], t.Scratchpad[1]}
	return t
}

func (t *Thermometer) legacy() bool {
	return t.Addr.Family() == 0x10
}

// Address implements Device.
func (t *Thermometer) Address() owbus.Address {
	return t.Addr
}

// Command implements Device.
func (t *Thermometer) Command(cmd byte) {
	t.cmd = cmd
	t.out = nil
	t.in = 0
	switch cmd {
	case 0xbe:
		var spad [9]byte
		copy(spad[:], t.Scratchpad[:])
		spad[8] = owbus.CRC8(spad[:8])
		if t.CorruptCRC {
			spad[8] ^= 0xff
		}
		t.out = spad[:]
	case 0x48:
		t.Copies++
		t.EEPROM[0] = t.Scratchpad[2]
		t.EEPROM[1] = t.Scratchpad[3]
		if !t.legacy() {
			t.EEPROM[2] = t.Scratchpad[4]
		}
	case 0xb8:
		t.Scratchpad[2] = t.EEPROM[0]
		t.Scratchpad[3] = t.EEPROM[1]
		if !t.legacy() {
			t.Scratchpad[4] = t.EEPROM[2]
		}
	case 0x44:
		t.Conversions++
		t.Scratchpad[0] = t.Raw[0]
		t.Scratchpad[1] = t.Raw[1]
		t.busy = t.BusyPolls
	}
}

// Write implements Device.
func (t *Thermometer) Write(b byte) {
	if t.cmd != 0x4e {
		return
	}
	limit := 3
	if t.legacy() {
		limit = 2
	}
	if t.in < limit {
		t.Scratchpad[2+t.in] = b
		t.in++
	}
}

// Read implements Device.
func (t *Thermometer) Read() byte {
	if len(t.out) == 0 {
		return 0xff
	}
	b := t.out[0]
	t.out = t.out[1:]
	return b
}

// ReadBit implements Device.
func (t *Thermometer) ReadBit() byte {
	switch t.cmd {
	case 0x44:
		if t.busy > 0 {
			t.busy--
			return 0
		}
	case 0xb4:
		if t.Parasite {
			return 0
		}
	}
	return 1
}

// Switch simulates a DS2413 dual channel addressable switch.
type Switch struct {
	Addr owbus.Address
	// Latch is the output latch, bit 0 for PIOA and bit 1 for PIOB. A latch
	// at 1 leaves the open drain output off.
	Latch byte
	// PulledLow forces the pin of a channel low, as an external load would.
	PulledLow [2]bool
	// Writes counts PIO access write commands.
	Writes int

	cmd byte
	out []byte
}

// NewSwitch returns a switch with both outputs off.
func NewSwitch(a owbus.Address) *Switch {
	return &Switch{Addr: a, Latch: 0x03}
}

// Status returns the PIO status byte: pin and latch state of each channel in
// the low nibble, its complement in the high nibble.
func (s *Switch) Status() byte {
	var v byte
	for ch := 0; ch < 2; ch++ {
		latch := (s.Latch >> ch) & 1
		pin := latch
		if s.PulledLow[ch] {
			pin = 0
		}
		v |= pin << (2 * ch)
		v |= latch << (2*ch + 1)
	}
	return v | (^v << 4)
}

// Address implements Device.
func (s *Switch) Address() owbus.Address {
	return s.Addr
}

// Command implements Device.
func (s *Switch) Command(cmd byte) {
	s.cmd = cmd
	s.out = nil
	switch cmd {
	case 0xf5:
		s.out = []byte{s.Status()}
	case 0x5a:
		s.Writes++
	}
}

// Write implements Device.
func (s *Switch) Write(b byte) {
	if s.cmd == 0x5a {
		s.Latch = b & 0x03
	}
}

// Read implements Device.
func (s *Switch) Read() byte {
	if len(s.out) == 0 {
		return 0xff
	}
	b := s.out[0]
	s.out = s.out[1:]
	return b
}

// ReadBit implements Device.
func (s *Switch) ReadBit() byte {
	return 1
}

var _ Device = &Thermometer{}
var _ Device = &Switch{}
var _ owbus.Bus = &Sim{}
