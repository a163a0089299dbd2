// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owbus defines the byte level access to a 1-wire bus used by the
// ds18b20 and ds2413 drivers.
//
// A Bus is implemented by a bridge controller such as the ds248x (I²C) or the
// ds9097 (serial port). Unlike periph.io/x/conn/v3/onewire.Bus, which only
// knows about complete transactions, a Bus exposes every step of a command
// sequence: reset, ROM selection, byte and bit transfers. The drivers need
// this to poll the conversion-complete bit and to read the power supply bit.
//
// A Bus is not safe for concurrent use. Exactly one command sequence may be in
// flight between its opening and closing reset.
package owbus

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/onewire"
)

// ROM commands.
const (
	CmdSearchROM = 0xf0
	CmdMatchROM  = 0x55
	CmdSkipROM   = 0xcc
)

// Bus is a 1-wire bus driven one primitive at a time.
type Bus interface {
	// Reset issues a reset pulse and reports whether any device answered with
	// a presence pulse.
	Reset() (bool, error)
	// ResetSearch restarts the enumeration done by SearchNext.
	ResetSearch()
	// SearchNext returns the next address found on the bus. It returns false
	// once all the devices have been returned.
	SearchNext() (Address, bool, error)
	// Select addresses a single device (MATCH ROM).
	Select(a Address) error
	// Skip addresses all the devices at once (SKIP ROM).
	Skip() error
	WriteByte(b byte) error
	ReadByte() (byte, error)
	// ReadBit generates a single read time slot and returns 0 or 1.
	ReadBit() (byte, error)
}

// CRC8 returns the Dallas/Maxim 1-wire CRC of b.
func CRC8(b []byte) byte {
	return onewire.CalcCRC(b)
}

// Address is the 64 bit ROM code of a device.
//
// Byte 0 is the family code, bytes 1 to 6 the serial number and byte 7 the
// CRC of the first seven bytes.
type Address [8]byte

// Family returns the family code, which identifies the device model.
func (a Address) Family() byte {
	return a[0]
}

// Valid returns true if the CRC byte matches the rest of the address.
func (a Address) Valid() bool {
	return CRC8(a[:7]) == a[7]
}

// String returns the address as dash separated hexadecimal bytes, family
// first, e.g. "28-68-4d-c4-0b-00-00-8f".
func (a Address) String() string {
	var sb strings.Builder
	for i, b := range a {
		if i != 0 {
			sb.WriteByte('-')
		}
		if b < 0x10 {
			sb.WriteByte('0')
		}
		sb.WriteString(strconv.FormatUint(uint64(b), 16))
	}
	return sb.String()
}

// Onewire returns the address in the periph onewire representation.
func (a Address) Onewire() onewire.Address {
	var v onewire.Address
	for i := len(a) - 1; i >= 0; i-- {
		v = v<<8 | onewire.Address(a[i])
	}
	return v
}

// FromOnewire converts a periph onewire address, which stores the family code
// in its least significant byte.
func FromOnewire(v onewire.Address) Address {
	var a Address
	for i := range a {
		a[i] = byte(v)
		v >>= 8
	}
	return a
}

// ParseAddress parses the format returned by Address.String. The CRC is
// verified.
func ParseAddress(s string) (Address, error) {
	var a Address
	parts := strings.Split(s, "-")
	if len(parts) != len(a) {
		return a, fmt.Errorf("owbus: invalid address %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return Address{}, fmt.Errorf("owbus: invalid address %q: %w", s, err)
		}
		a[i] = byte(v)
	}
	if !a.Valid() {
		return Address{}, ErrInvalidAddress
	}
	return a, nil
}

// ErrInvalidAddress is returned when the CRC of an address does not match.
var ErrInvalidAddress = errors.New("owbus: address crc check failed")

// AddressAt walks a fresh search of the bus and returns the address found at
// position index. Every device counts, whatever its family. It returns false
// if the bus has fewer devices or if the address at index fails its CRC check.
func AddressAt(b Bus, index int) (Address, bool, error) {
	if index < 0 {
		return Address{}, false, nil
	}
	b.ResetSearch()
	for depth := 0; depth <= index; depth++ {
		a, ok, err := b.SearchNext()
		if err != nil || !ok {
			return Address{}, false, err
		}
		if depth == index && a.Valid() {
			return a, true, nil
		}
	}
	return Address{}, false, nil
}
