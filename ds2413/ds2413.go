// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds2413 drives Maxim DS2413 dual channel addressable switches on a
// 1-wire bus.
//
// Each device has two open drain outputs, PIOA and PIOB. The PIO status byte
// holds the sensed pin level and the output latch of both channels:
//
//	bit 0: PIOA pin state
//	bit 1: PIOA output latch
//	bit 2: PIOB pin state
//	bit 3: PIOB output latch
//
// the high nibble being the complement of the low nibble.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS2413.pdf
package ds2413

import (
	"periph.io/x/conn/v3"

	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
)

// Family is the family code of the DS2413.
const Family = 0x3a

// Function commands.
const (
	cmdPIORead  = 0xf5
	cmdPIOWrite = 0x5a
)

// Supported returns true if the address is a DS2413.
func Supported(a owbus.Address) bool {
	return a.Family() == Family
}

// New returns a Dev that drives the switches on bus.
//
// The device list is empty until Enumerate is called.
func New(bus owbus.Bus) *Dev {
	return &Dev{bus: bus}
}

// Dev is a handle to the DS2413 switches of a 1-wire bus.
//
// Dev is not safe for concurrent use.
type Dev struct {
	bus     owbus.Bus
	devices []owbus.Address
}

func (d *Dev) String() string {
	return "DS2413"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Enumerate searches the bus and records every valid DS2413 address. It
// returns the number of switches found.
func (d *Dev) Enumerate() (int, error) {
	d.bus.ResetSearch()
	d.devices = nil
	for {
		a, ok, err := d.bus.SearchNext()
		if err != nil {
			return len(d.devices), err
		}
		if !ok {
			return len(d.devices), nil
		}
		if a.Valid() && Supported(a) {
			d.devices = append(d.devices, a)
		}
	}
}

// Count returns the number of switches found by the last Enumerate.
func (d *Dev) Count() int {
	return len(d.devices)
}

// Addresses returns the switches found by the last Enumerate, in search order.
func (d *Dev) Addresses() []owbus.Address {
	return append([]owbus.Address(nil), d.devices...)
}

// Address returns the address found at position index by a new search of the
// bus. Like ds18b20.Dev.Address, index counts every device on the bus.
func (d *Dev) Address(index int) (owbus.Address, error) {
	a, ok, err := owbus.AddressAt(d.bus, index)
	if err != nil {
		return owbus.Address{}, err
	}
	if !ok {
		return owbus.Address{}, ErrNotFound
	}
	return a, nil
}

// PIOState reads the PIO status byte of a switch.
//
// It returns owbus.ErrNoPresence if the bus is empty.
func (d *Dev) PIOState(a owbus.Address) (State, error) {
	t := owbus.NewTxn(d.bus)
	if !t.Reset() {
		return 0, presenceErr(t)
	}
	t.Select(a)
	t.Write(cmdPIORead)
	var b [1]byte
	t.Read(b[:])
	t.Reset()
	return State(b[0]), t.Err()
}

// SetPIOState writes the output latches of a switch: bit 0 for PIOA and bit 1
// for PIOB. A latch at 1 turns the output transistor off.
//
// A single byte follows the write command; the complement and the
// confirmation byte of the datasheet protocol are not exchanged.
func (d *Dev) SetPIOState(a owbus.Address, b byte) error {
	t := owbus.NewTxn(d.bus)
	if !t.Reset() {
		return presenceErr(t)
	}
	t.Select(a)
	t.Write(cmdPIOWrite, b)
	t.Reset()
	return t.Err()
}

// PIOStateByIndex is PIOState for the device at index, as returned by
// Address.
func (d *Dev) PIOStateByIndex(index int) (State, error) {
	a, err := d.Address(index)
	if err != nil {
		return 0, err
	}
	return d.PIOState(a)
}

// SetPIOStateByIndex is SetPIOState for the device at index, as returned by
// Address.
func (d *Dev) SetPIOStateByIndex(index int, b byte) error {
	a, err := d.Address(index)
	if err != nil {
		return err
	}
	return d.SetPIOState(a, b)
}

// State is the PIO status byte of a switch.
type State byte

// PIOA returns the sensed level of the PIOA pin.
func (s State) PIOA() bool { return s&0x01 != 0 }

// LatchA returns the PIOA output latch.
func (s State) LatchA() bool { return s&0x02 != 0 }

// PIOB returns the sensed level of the PIOB pin.
func (s State) PIOB() bool { return s&0x04 != 0 }

// LatchB returns the PIOB output latch.
func (s State) LatchB() bool { return s&0x08 != 0 }

// Valid returns true if the high nibble is the complement of the low nibble.
// An empty bus reads 0xff, which is not valid.
func (s State) Valid() bool {
	return byte(s)>>4 == ^byte(s)&0x0f
}

// Latches returns the latch bits in the layout expected by SetPIOState.
func (s State) Latches() byte {
	var b byte
	if s.LatchA() {
		b |= 1
	}
	if s.LatchB() {
		b |= 2
	}
	return b
}

func presenceErr(t *owbus.Txn) error {
	if err := t.Err(); err != nil {
		return err
	}
	return owbus.ErrNoPresence
}

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

// ErrNotFound is returned when no valid device exists at an index.
var ErrNotFound error = busError("ds2413: device not found")

var _ conn.Resource = &Dev{}
