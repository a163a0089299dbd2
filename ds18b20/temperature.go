// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"periph.io/x/conn/v3/physic"

	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
)

// Values returned for a sensor that cannot be read. They are far outside of
// the -55°C..125°C range of the devices.
const (
	DisconnectedRaw int16   = -7040
	DisconnectedC   float64 = -127
	DisconnectedF   float64 = -196.6
)

// Temp returns the temperature of the last conversion of a sensor in 1/128°C,
// or DisconnectedRaw if the scratchpad cannot be read.
func (d *Dev) Temp(a owbus.Address) int16 {
	s, ok := d.IsConnected(a)
	if !ok {
		return DisconnectedRaw
	}
	return Raw(a, &s)
}

// Raw decodes the temperature register of a scratchpad read from the device
// at a, in 1/128°C. The scratchpad CRC is not checked.
func Raw(a owbus.Address, s *Scratchpad) int16 {
	return decodeRaw(Family(a.Family()), s)
}

// TempC returns the temperature of the last conversion in °C, or
// DisconnectedC.
func (d *Dev) TempC(a owbus.Address) float64 {
	return RawToCelsius(d.Temp(a))
}

// TempF returns the temperature of the last conversion in °F, or
// DisconnectedF.
func (d *Dev) TempF(a owbus.Address) float64 {
	return RawToFahrenheit(d.Temp(a))
}

// TempCByIndex is TempC for the device at index, as returned by Address.
func (d *Dev) TempCByIndex(index int) float64 {
	a, err := d.Address(index)
	if err != nil {
		return DisconnectedC
	}
	return d.TempC(a)
}

// TempFByIndex is TempF for the device at index, as returned by Address.
func (d *Dev) TempFByIndex(index int) float64 {
	a, err := d.Address(index)
	if err != nil {
		return DisconnectedF
	}
	return d.TempF(a)
}

// decodeRaw returns the temperature register as a fixed point value scaled by
// 2^-7.
//
// The DS18S20 register only has 0.5°C steps. The count remain and count per
// degree registers give back the lost precision, see
// http://myarduinotoy.blogspot.com/2013/02/12bit-result-from-ds18s20.html
//
//	TEMPERATURE = TEMP_READ - 0.25 + (COUNT_PER_C - COUNT_REMAIN) / COUNT_PER_C
func decodeRaw(f Family, s *Scratchpad) int16 {
	fp := int16(s[TempMSB])<<11 | int16(s[TempLSB])<<3
	if f == DS18S20 && s[CountPerC] != 0 {
		cpc := int32(s[CountPerC])
		cr := int32(s[CountRemain])
		fp = int16(((int32(fp)&0xfff0)<<3 - 16) + ((cpc-cr)<<7)/cpc)
	}
	return fp
}

// RawToCelsius converts a value scaled by 2^-7 to °C.
func RawToCelsius(raw int16) float64 {
	if raw <= DisconnectedRaw {
		return DisconnectedC
	}
	return float64(raw) * 0.0078125
}

// RawToFahrenheit converts a value scaled by 2^-7 to °F.
func RawToFahrenheit(raw int16) float64 {
	if raw <= DisconnectedRaw {
		return DisconnectedF
	}
	return float64(raw)*0.0140625 + 32
}

// ToFahrenheit converts °C to °F.
func ToFahrenheit(c float64) float64 {
	return c*1.8 + 32
}

// ToCelsius converts °F to °C.
func ToCelsius(f float64) float64 {
	return (f - 32) / 1.8
}

// RawToTemperature converts a value scaled by 2^-7 to a physic.Temperature.
func RawToTemperature(raw int16) physic.Temperature {
	return physic.Temperature(raw)*physic.Kelvin/128 + physic.ZeroCelsius
}
