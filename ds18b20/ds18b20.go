// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds18b20 drives Dallas Semi / Maxim DS18B20 family temperature
// sensors on a 1-wire bus: DS18B20, DS18S20 (and DS1820), DS1822, DS1825 and
// DS28EA00.
//
// A single Dev handles every sensor of a bus. It keeps the list of sensors
// found by Enumerate, whether any of them is parasite powered and the
// resolution used to time conversions started on all devices at once.
//
// Dev is not safe for concurrent use; the bus is shared with other drivers and
// the caller must serialize all accesses.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS18B20.pdf
package ds18b20

import (
	"time"

	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
)

// Family code of the specific device type
type Family byte

func (f Family) String() string {
	switch f {
	case DS18S20:
		return "DS18S20"
	case DS18B20:
		return "DS18B20"
	case DS1822:
		return "DS1822"
	case DS1825:
		return "DS1825"
	case DS28EA00:
		return "DS28EA00"
	default:
		return "unknown"
	}
}

const (
	// DS18S20 is the legacy 9 bit device, also used by the DS1820. It has no
	// configuration register.
	DS18S20  Family = 0x10
	DS18B20  Family = 0x28
	DS1822   Family = 0x22
	DS1825   Family = 0x3b
	DS28EA00 Family = 0x42
)

// Supported returns true if the address belongs to one of the supported
// families.
func Supported(a owbus.Address) bool {
	switch Family(a.Family()) {
	case DS18S20, DS18B20, DS1822, DS1825, DS28EA00:
		return true
	default:
		return false
	}
}

// Function commands.
const (
	cmdConvert         = 0x44
	cmdCopyScratchpad  = 0x48
	cmdReadScratchpad  = 0xbe
	cmdWriteScratchpad = 0x4e
	cmdRecall          = 0xb8
	cmdReadPower       = 0xb4
)

// Opts contains options to pass to the constructor.
type Opts struct {
	// WaitForConversion makes the RequestTemperatures functions block until
	// the conversion is done. When false they return as soon as the command is
	// sent and the caller must wait ConversionTime or poll
	// IsConversionComplete.
	WaitForConversion bool
	// CheckForConversion polls the bus for the end of the conversion instead
	// of sleeping the worst case conversion time. It has no effect when a
	// parasite powered device is on the bus.
	CheckForConversion bool
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	WaitForConversion:  true,
	CheckForConversion: true,
}

// DefaultResolution is the resolution of a device fresh from the factory.
const DefaultResolution = 12

// New returns a Dev that drives the sensors on bus.
//
// The device list is empty until Enumerate is called.
func New(bus owbus.Bus, opts *Opts) *Dev {
	if opts == nil {
		opts = &DefaultOpts
	}
	return &Dev{
		bus:        bus,
		resolution: DefaultResolution,
		wait:       opts.WaitForConversion,
		check:      opts.CheckForConversion,
	}
}

// Dev is a handle to the DS18B20 family sensors of a 1-wire bus.
type Dev struct {
	bus        owbus.Bus
	devices    []owbus.Address // sensors found by the last Enumerate
	parasite   bool            // any sensor is parasite powered
	resolution int             // resolution in bits (9..12) used for bus wide conversions
	wait       bool
	check      bool
}

func (d *Dev) String() string {
	return "DS18B20"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Enumerate searches the bus and records every valid address of a supported
// family. It returns the number of sensors found; none is not an error.
//
// Each sensor found is asked for its power mode and its resolution is folded
// into the bus resolution, which never decreases here.
func (d *Dev) Enumerate() (int, error) {
	d.bus.ResetSearch()
	d.devices = nil
	for {
		a, ok, err := d.bus.SearchNext()
		if err != nil {
			return len(d.devices), err
		}
		if !ok {
			break
		}
		if !a.Valid() || !Supported(a) {
			continue
		}
		if !d.parasite {
			p, err := d.ReadPowerSupply(a)
			if err != nil {
				return len(d.devices), err
			}
			d.parasite = p
		}
		d.resolution = max(d.resolution, d.DeviceResolution(a))
		d.devices = append(d.devices, a)
	}
	return len(d.devices), nil
}

// Count returns the number of sensors found by the last Enumerate.
func (d *Dev) Count() int {
	return len(d.devices)
}

// Addresses returns the sensors found by the last Enumerate, in search order.
func (d *Dev) Addresses() []owbus.Address {
	return append([]owbus.Address(nil), d.devices...)
}

// Address returns the address found at position index by a new search of the
// bus.
//
// The search is not filtered by family, so index counts every device on the
// bus and does not match the order of Addresses. An address failing its CRC
// check is not returned.
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

// IsParasitePowerMode returns true if Enumerate found a parasite powered
// sensor.
func (d *Dev) IsParasitePowerMode() bool {
	return d.parasite
}

// SetWaitForConversion sets whether the RequestTemperatures functions block.
func (d *Dev) SetWaitForConversion(wait bool) {
	d.wait = wait
}

// WaitForConversion returns whether the RequestTemperatures functions block.
func (d *Dev) WaitForConversion() bool {
	return d.wait
}

// SetCheckForConversion sets whether the end of a conversion is polled.
func (d *Dev) SetCheckForConversion(check bool) {
	d.check = check
}

// CheckForConversion returns whether the end of a conversion is polled.
func (d *Dev) CheckForConversion() bool {
	return d.check
}

// IsConnected reads the scratchpad of the device and returns true if the read
// succeeded and its CRC is correct. The scratchpad is returned in any case.
func (d *Dev) IsConnected(a owbus.Address) (Scratchpad, bool) {
	s, err := d.ReadScratchpad(a)
	return s, err == nil && s.Valid()
}

// ReadScratchpad reads the 9 bytes of scratchpad.
//
// It returns owbus.ErrNoPresence if either the opening or the closing reset
// is not answered. The CRC is not verified; use Scratchpad.Valid.
func (d *Dev) ReadScratchpad(a owbus.Address) (Scratchpad, error) {
	var s Scratchpad
	t := owbus.NewTxn(d.bus)
	if !t.Reset() {
		return s, presenceErr(t)
	}
	t.Select(a)
	t.Write(cmdReadScratchpad)
	t.Read(s[:])
	if !t.Reset() {
		return s, presenceErr(t)
	}
	return s, nil
}

// WriteScratchpad writes the alarm bytes and, except for DS18S20 devices which
// do not have one, the configuration register, then copies them to EEPROM.
//
// The write is not verified; read the scratchpad back to confirm it. Only bus
// transport errors are returned.
func (d *Dev) WriteScratchpad(a owbus.Address, s Scratchpad) error {
	t := owbus.NewTxn(d.bus)
	t.Reset()
	t.Select(a)
	t.Write(cmdWriteScratchpad, s[HighAlarm], s[LowAlarm])
	if Family(a.Family()) != DS18S20 {
		t.Write(s[Configuration])
	}
	t.Reset()
	t.Select(a)
	t.Write(cmdCopyScratchpad)
	if t.Err() != nil {
		return t.Err()
	}
	// Worst case EEPROM write time is 10ms, datasheet p.22.
	sleep(20 * time.Millisecond)
	if d.parasite {
		sleep(10 * time.Millisecond)
	}
	t.Reset()
	return t.Err()
}

// RecallEEPROM reloads the alarm bytes and configuration register from
// EEPROM into the scratchpad.
func (d *Dev) RecallEEPROM(a owbus.Address) error {
	t := owbus.NewTxn(d.bus)
	if !t.Reset() {
		return presenceErr(t)
	}
	t.Select(a)
	t.Write(cmdRecall)
	t.Reset()
	return t.Err()
}

// ReadPowerSupply returns true if the device is parasite powered.
//
// A parasite powered device pulls the bus low during the read slot.
func (d *Dev) ReadPowerSupply(a owbus.Address) (bool, error) {
	t := owbus.NewTxn(d.bus)
	t.Reset()
	t.Select(a)
	t.Write(cmdReadPower)
	b := t.Bit()
	t.Reset()
	if err := t.Err(); err != nil {
		return false, err
	}
	return b == 0, nil
}

// UserData returns the 16 bit value stored in the alarm bytes, or 0 if the
// device cannot be read.
//
// The alarm bytes are free for user data when the alarm search is not used.
func (d *Dev) UserData(a owbus.Address) int16 {
	s, ok := d.IsConnected(a)
	if !ok {
		return 0
	}
	return s.UserData()
}

// SetUserData stores v in the alarm bytes of the device and copies it to
// EEPROM. Nothing is written if v is already stored.
func (d *Dev) SetUserData(a owbus.Address, v int16) error {
	if d.UserData(a) == v {
		return nil
	}
	s, ok := d.IsConnected(a)
	if !ok {
		return ErrDisconnected
	}
	s.SetUserData(v)
	return d.WriteScratchpad(a, s)
}

// UserDataByIndex is UserData for the device at index, as returned by
// Address.
func (d *Dev) UserDataByIndex(index int) int16 {
	a, err := d.Address(index)
	if err != nil {
		return 0
	}
	return d.UserData(a)
}

// SetUserDataByIndex is SetUserData for the device at index, as returned by
// Address.
func (d *Dev) SetUserDataByIndex(index int, v int16) error {
	a, err := d.Address(index)
	if err != nil {
		return err
	}
	return d.SetUserData(a, v)
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

var (
	// ErrNotFound is returned when no valid device exists at an index.
	ErrNotFound error = busError("ds18b20: device not found")
	// ErrDisconnected is returned when the scratchpad of a device cannot be
	// read or fails its CRC check.
	ErrDisconnected error = busError("ds18b20: device disconnected")
)

var sleep = time.Sleep
var now = time.Now
