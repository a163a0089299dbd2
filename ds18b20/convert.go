// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"time"

	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
)

// ConversionTime returns the worst case time a conversion takes at the given
// resolution, datasheet p.3: 9bits:94ms, 10bits:188ms, 11bits:375ms,
// 12bits:750ms. Other values use the 12 bits time.
func ConversionTime(bits int) time.Duration {
	switch bits {
	case 9:
		return 94 * time.Millisecond
	case 10:
		return 188 * time.Millisecond
	case 11:
		return 375 * time.Millisecond
	default:
		return 750 * time.Millisecond
	}
}

// RequestTemperatures starts a conversion on all the sensors of the bus at
// once.
//
// Unless WaitForConversion is disabled it returns when the conversion is done,
// timed with the bus resolution.
func (d *Dev) RequestTemperatures() error {
	t := owbus.NewTxn(d.bus)
	t.Reset()
	t.Skip()
	t.Write(cmdConvert)
	if err := t.Err(); err != nil {
		return err
	}
	if !d.wait {
		return nil
	}
	return d.blockTillConversionComplete(d.resolution)
}

// RequestTemperaturesByAddress starts a conversion on a single sensor.
//
// It returns ErrDisconnected if the sensor resolution cannot be read and
// owbus.ErrNoPresence if the bus is empty. Unless WaitForConversion is
// disabled it returns when the conversion is done, timed with the sensor's own
// resolution.
func (d *Dev) RequestTemperaturesByAddress(a owbus.Address) error {
	bits := d.DeviceResolution(a)
	if bits == 0 {
		return ErrDisconnected
	}
	t := owbus.NewTxn(d.bus)
	if !t.Reset() {
		return presenceErr(t)
	}
	t.Select(a)
	t.Write(cmdConvert)
	if err := t.Err(); err != nil {
		return err
	}
	if !d.wait {
		return nil
	}
	return d.blockTillConversionComplete(bits)
}

// RequestTemperaturesByIndex is RequestTemperaturesByAddress for the device
// at index, as returned by Address.
func (d *Dev) RequestTemperaturesByIndex(index int) error {
	a, err := d.Address(index)
	if err != nil {
		return err
	}
	return d.RequestTemperaturesByAddress(a)
}

// IsConversionComplete reads a time slot on the bus. Sensors busy converting
// hold the bus low.
//
// It is only meaningful right after a conversion was started.
func (d *Dev) IsConversionComplete() (bool, error) {
	b, err := d.bus.ReadBit()
	return b == 1, err
}

// blockTillConversionComplete waits for the end of a conversion.
//
// Sensors signal the end of the conversion by releasing the bus, which is
// polled for at most the worst case conversion time. Parasite powered sensors
// cannot drive the bus while converting so the full time is slept instead.
func (d *Dev) blockTillConversionComplete(bits int) error {
	delay := ConversionTime(bits)
	if !d.check || d.parasite {
		sleep(delay)
		return nil
	}
	start := now()
	for {
		done, err := d.IsConversionComplete()
		if err != nil {
			return err
		}
		if done || now().Sub(start) >= delay {
			return nil
		}
	}
}
