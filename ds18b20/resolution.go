// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"errors"

	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
)

// Resolution returns the resolution used to time conversions started on all
// the sensors at once. It is the highest resolution known on the bus.
func (d *Dev) Resolution() int {
	return d.resolution
}

// SetResolution sets every sensor found by Enumerate to the resolution, which
// is clamped to 9..12 bits.
//
// All the sensors are attempted; the errors are joined.
func (d *Dev) SetResolution(bits int) error {
	bits = clampResolution(bits)
	d.resolution = bits
	var errs []error
	for _, a := range d.devices {
		if err := d.SetDeviceResolution(a, bits, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeviceResolution returns the resolution of a sensor, or 0 if the sensor
// cannot be read or reports an unknown configuration.
//
// A DS18S20 always reports 12 without any bus access.
func (d *Dev) DeviceResolution(a owbus.Address) int {
	if Family(a.Family()) == DS18S20 {
		return 12
	}
	s, ok := d.IsConnected(a)
	if !ok {
		return 0
	}
	return DecodeResolution(s[Configuration])
}

// SetDeviceResolution sets the resolution of a sensor, clamped to 9..12 bits,
// and stores it in EEPROM. Nothing is written if the sensor is already at that
// resolution. A DS18S20 has a fixed resolution and is left unchanged.
//
// The bus resolution is raised if needed. When the new resolution is lower,
// the bus resolution is recomputed by reading every sensor found by
// Enumerate, unless skipRecalc is set. Callers changing all the sensors in a
// loop should skip it and use SetResolution, or recompute once at the end.
func (d *Dev) SetDeviceResolution(a owbus.Address, bits int, skipRecalc bool) error {
	bits = clampResolution(bits)
	if d.DeviceResolution(a) == bits {
		return nil
	}
	s, ok := d.IsConnected(a)
	if !ok {
		return ErrDisconnected
	}
	if Family(a.Family()) == DS18S20 {
		return nil
	}
	s[Configuration] = EncodeResolution(bits)
	if err := d.WriteScratchpad(a, s); err != nil {
		return err
	}
	d.resolution = max(d.resolution, bits)
	if !skipRecalc && d.resolution > bits {
		d.recalcResolution(bits)
	}
	return nil
}

// recalcResolution sets the bus resolution to the highest of floor and the
// resolution of every enumerated sensor.
func (d *Dev) recalcResolution(floor int) {
	d.resolution = floor
	for _, a := range d.devices {
		d.resolution = max(d.resolution, d.DeviceResolution(a))
	}
}
