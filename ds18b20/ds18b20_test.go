// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/physic"

	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
	"github.com/briandorey/Nest-to-1-wire-bridge/owbus/owbustest"
)

var (
	addrB20  = owbus.Address{0x28, 0xac, 0x41, 0x0e, 0x07, 0x00, 0x00, 0x74}
	addrB20b = owbustest.MakeAddress(0x28, 0x68, 0x4d, 0xc4, 0x0b)
	addrS20  = owbustest.MakeAddress(0x10, 0x01, 0x02, 0x03)
	addrPIO  = owbus.Address{0x3a, 0xe1, 0x54, 0x63, 0x00, 0x00, 0x00, 0x13}
	addrBad  = owbus.Address{0x28, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x00}
)

func init() {
	sleep = func(time.Duration) {}
}

// useClock replaces the time sources of the package for the duration of the
// test.
func useClock(t *testing.T, step time.Duration) *owbustest.Clock {
	c := &owbustest.Clock{T: time.Unix(1000, 0), Step: step}
	sleep = c.Sleep
	now = c.Now
	t.Cleanup(func() {
		sleep = func(time.Duration) {}
		now = time.Now
	})
	return c
}

func TestEnumerate(t *testing.T) {
	useClock(t, 0)
	bus := &owbustest.Sim{Devices: []owbustest.Device{
		&owbustest.Ghost{Addr: addrPIO},
		owbustest.NewThermometer(addrB20, 10),
		&owbustest.Ghost{Addr: addrBad},
		owbustest.NewThermometer(addrS20, 12),
	}}
	d := New(bus, nil)
	n, err := d.Enumerate()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || d.Count() != 2 {
		t.Fatalf("expected 2 sensors, got %d/%d", n, d.Count())
	}
	if diff := cmp.Diff([]owbus.Address{addrB20, addrS20}, d.Addresses()); diff != "" {
		t.Fatalf("Addresses() mismatch (-want +got):\n%s", diff)
	}
	if d.IsParasitePowerMode() {
		t.Fatal("no parasite device")
	}
	// The bus resolution starts at 12 and only grows.
	if d.Resolution() != 12 {
		t.Fatalf("resolution %d", d.Resolution())
	}
	if bus.Count(cmdReadPower) != 2 {
		t.Fatalf("expected a power supply read per sensor, got %v", bus.Commands)
	}

	// A new enumeration rebuilds the list.
	bus.Devices = bus.Devices[:2]
	if n, err := d.Enumerate(); n != 1 || err != nil {
		t.Fatalf("%d, %v", n, err)
	}
}

func TestEnumerate_parasite(t *testing.T) {
	useClock(t, 0)
	th := owbustest.NewThermometer(addrB20, 12)
	th.Parasite = true
	bus := &owbustest.Sim{Devices: []owbustest.Device{th, owbustest.NewThermometer(addrB20b, 12)}}
	d := New(bus, nil)
	if _, err := d.Enumerate(); err != nil {
		t.Fatal(err)
	}
	if !d.IsParasitePowerMode() {
		t.Fatal("expected parasite mode")
	}
	// The flag is sticky: the second sensor is not asked.
	if bus.Count(cmdReadPower) != 1 {
		t.Fatalf("got %v", bus.Commands)
	}
}

func TestEnumerate_empty(t *testing.T) {
	d := New(&owbustest.Sim{}, nil)
	n, err := d.Enumerate()
	if n != 0 || err != nil {
		t.Fatalf("%d, %v", n, err)
	}
	if len(d.Addresses()) != 0 {
		t.Fatal("expected empty registry")
	}
}

func TestAddress(t *testing.T) {
	bus := &owbustest.Sim{Devices: []owbustest.Device{
		&owbustest.Ghost{Addr: addrPIO},
		owbustest.NewThermometer(addrB20, 12),
		&owbustest.Ghost{Addr: addrBad},
	}}
	d := New(bus, nil)
	data := []struct {
		index int
		addr  owbus.Address
		err   error
	}{
		// Index counts every device, whatever its family.
		{0, addrPIO, nil},
		{1, addrB20, nil},
		{2, owbus.Address{}, ErrNotFound},
		{3, owbus.Address{}, ErrNotFound},
		{100, owbus.Address{}, ErrNotFound},
		{-1, owbus.Address{}, ErrNotFound},
	}
	for _, line := range data {
		a, err := d.Address(line.index)
		if !errors.Is(err, line.err) || a != line.addr {
			t.Errorf("Address(%d) = %s, %v; want %s, %v", line.index, a, err, line.addr, line.err)
		}
	}
}

func TestIsConnected(t *testing.T) {
	data := []struct {
		name     string
		presence func(n int) bool
		corrupt  bool
		want     bool
	}{
		{"ok", nil, false, true},
		{"crc", nil, true, false},
		{"no presence", func(int) bool { return false }, false, false},
		{"closing reset", func(n int) bool { return n == 1 }, false, false},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			th := owbustest.NewThermometer(addrB20, 12)
			th.CorruptCRC = line.corrupt
			bus := &owbustest.Sim{Devices: []owbustest.Device{th}, Presence: line.presence}
			d := New(bus, nil)
			s, ok := d.IsConnected(addrB20)
			if ok != line.want {
				t.Fatalf("IsConnected() = %t", ok)
			}
			if ok && s[Configuration] != config12Bit {
				t.Fatalf("unexpected scratchpad %#v", s)
			}
		})
	}
}

func TestReadScratchpad_noPresence(t *testing.T) {
	bus := &owbustest.Sim{Devices: []owbustest.Device{owbustest.NewThermometer(addrB20, 12)}}
	bus.Presence = func(int) bool { return false }
	d := New(bus, nil)
	if _, err := d.ReadScratchpad(addrB20); !errors.Is(err, owbus.ErrNoPresence) {
		t.Fatal(err)
	}
	if bus.Selects != 0 || len(bus.Commands) != 0 || bus.Resets != 1 {
		t.Fatalf("expected no I/O after the failed reset: %d %v", bus.Selects, bus.Commands)
	}
}

func TestReadScratchpad_crc(t *testing.T) {
	th := owbustest.NewThermometer(addrB20, 12)
	th.CorruptCRC = true
	d := New(&owbustest.Sim{Devices: []owbustest.Device{th}}, nil)
	// The read succeeds, the content is not trustworthy.
	s, err := d.ReadScratchpad(addrB20)
	if err != nil {
		t.Fatal(err)
	}
	if s.Valid() {
		t.Fatal("expected CRC failure")
	}
}

func TestWriteScratchpad(t *testing.T) {
	data := []struct {
		addr     owbus.Address
		parasite bool
		sleeps   []time.Duration
	}{
		{addrB20, false, []time.Duration{20 * time.Millisecond}},
		{addrB20, true, []time.Duration{20 * time.Millisecond, 10 * time.Millisecond}},
		{addrS20, false, []time.Duration{20 * time.Millisecond}},
	}
	for _, line := range data {
		t.Run(fmt.Sprintf("%s/%t", Family(line.addr.Family()), line.parasite), func(t *testing.T) {
			clk := useClock(t, 0)
			th := owbustest.NewThermometer(line.addr, 12)
			th.Parasite = line.parasite
			bus := &owbustest.Sim{Devices: []owbustest.Device{th}}
			d := New(bus, nil)
			if _, err := d.Enumerate(); err != nil {
				t.Fatal(err)
			}
			s, ok := d.IsConnected(line.addr)
			if !ok {
				t.Fatal("not connected")
			}
			s[HighAlarm] = 0x12
			s[LowAlarm] = 0x34
			s[Configuration] = config9Bit
			if err := d.WriteScratchpad(line.addr, s); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(line.sleeps, clk.Slept); diff != "" {
				t.Fatalf("sleeps mismatch (-want +got):\n%s", diff)
			}
			if th.Copies != 1 || th.EEPROM[0] != 0x12 || th.EEPROM[1] != 0x34 {
				t.Fatalf("EEPROM not written: %#v", th.EEPROM)
			}
			// Legacy devices have no configuration register.
			wantCfg := byte(config9Bit)
			if line.addr.Family() == byte(DS18S20) {
				wantCfg = 0xff
			}
			if th.Scratchpad[Configuration] != wantCfg {
				t.Fatalf("configuration %#x, want %#x", th.Scratchpad[Configuration], wantCfg)
			}
		})
	}
}

func TestReadPowerSupply(t *testing.T) {
	th := owbustest.NewThermometer(addrB20, 12)
	d := New(&owbustest.Sim{Devices: []owbustest.Device{th}}, nil)
	if p, err := d.ReadPowerSupply(addrB20); p || err != nil {
		t.Fatalf("%t %v", p, err)
	}
	th.Parasite = true
	if p, err := d.ReadPowerSupply(addrB20); !p || err != nil {
		t.Fatalf("%t %v", p, err)
	}
}

func TestResolutionEncoding(t *testing.T) {
	for bits := 9; bits <= 12; bits++ {
		if got := DecodeResolution(EncodeResolution(bits)); got != bits {
			t.Errorf("round trip of %d gave %d", bits, got)
		}
	}
	if EncodeResolution(3) != config9Bit || EncodeResolution(16) != config12Bit {
		t.Error("resolution must be clamped")
	}
	for _, c := range []byte{0x00, 0x1e, 0x60, 0xff} {
		if got := DecodeResolution(c); got != 0 {
			t.Errorf("DecodeResolution(%#x) = %d", c, got)
		}
	}
}

func TestSetDeviceResolution_idempotent(t *testing.T) {
	useClock(t, 0)
	th := owbustest.NewThermometer(addrB20, 12)
	bus := &owbustest.Sim{Devices: []owbustest.Device{th}}
	d := New(bus, nil)
	for i := 0; i < 2; i++ {
		if err := d.SetDeviceResolution(addrB20, 10, false); err != nil {
			t.Fatal(err)
		}
	}
	if n := bus.Count(cmdWriteScratchpad); n != 1 {
		t.Fatalf("expected a single scratchpad write, got %d", n)
	}
	if r := d.DeviceResolution(addrB20); r != 10 {
		t.Fatalf("resolution %d", r)
	}
}

func TestSetDeviceResolution_clamp(t *testing.T) {
	useClock(t, 0)
	bus := &owbustest.Sim{Devices: []owbustest.Device{owbustest.NewThermometer(addrB20, 12)}}
	d := New(bus, nil)
	if err := d.SetDeviceResolution(addrB20, 2, false); err != nil {
		t.Fatal(err)
	}
	if r := d.DeviceResolution(addrB20); r != 9 {
		t.Fatalf("resolution %d", r)
	}
	if err := d.SetDeviceResolution(addrB20, 20, false); err != nil {
		t.Fatal(err)
	}
	if r := d.DeviceResolution(addrB20); r != 12 {
		t.Fatalf("resolution %d", r)
	}
}

func TestSetDeviceResolution_recalc(t *testing.T) {
	useClock(t, 0)
	bus := &owbustest.Sim{Devices: []owbustest.Device{
		owbustest.NewThermometer(addrB20, 12),
		owbustest.NewThermometer(addrB20b, 12),
	}}
	d := New(bus, nil)
	if _, err := d.Enumerate(); err != nil {
		t.Fatal(err)
	}
	// The other sensor still runs at 12 bits.
	if err := d.SetDeviceResolution(addrB20, 9, false); err != nil {
		t.Fatal(err)
	}
	if d.Resolution() != 12 {
		t.Fatalf("resolution %d", d.Resolution())
	}
	// Skipping the recalculation keeps the optimistic maximum.
	if err := d.SetDeviceResolution(addrB20b, 10, true); err != nil {
		t.Fatal(err)
	}
	if d.Resolution() != 12 {
		t.Fatalf("resolution %d", d.Resolution())
	}
	if err := d.SetDeviceResolution(addrB20b, 11, false); err != nil {
		t.Fatal(err)
	}
	if d.Resolution() != 11 {
		t.Fatalf("resolution %d", d.Resolution())
	}
}

func TestSetDeviceResolution_legacy(t *testing.T) {
	useClock(t, 0)
	bus := &owbustest.Sim{Devices: []owbustest.Device{owbustest.NewThermometer(addrS20, 12)}}
	d := New(bus, nil)
	if err := d.SetDeviceResolution(addrS20, 9, false); err != nil {
		t.Fatal(err)
	}
	if bus.Count(cmdWriteScratchpad) != 0 {
		t.Fatal("legacy devices have no configuration register")
	}
	if d.DeviceResolution(addrS20) != 12 {
		t.Fatal("legacy devices report 12 bits")
	}
}

func TestSetDeviceResolution_disconnected(t *testing.T) {
	d := New(&owbustest.Sim{}, nil)
	if err := d.SetDeviceResolution(addrB20, 9, false); !errors.Is(err, ErrDisconnected) {
		t.Fatal(err)
	}
	if d.DeviceResolution(addrB20) != 0 {
		t.Fatal("expected unknown resolution")
	}
}

func TestSetResolution(t *testing.T) {
	useClock(t, 0)
	ths := []*owbustest.Thermometer{
		owbustest.NewThermometer(addrB20, 12),
		owbustest.NewThermometer(addrB20b, 11),
		owbustest.NewThermometer(addrS20, 12),
	}
	bus := &owbustest.Sim{}
	for _, th := range ths {
		bus.Devices = append(bus.Devices, th)
	}
	d := New(bus, nil)
	if _, err := d.Enumerate(); err != nil {
		t.Fatal(err)
	}
	if err := d.SetResolution(10); err != nil {
		t.Fatal(err)
	}
	if d.Resolution() != 10 {
		t.Fatalf("resolution %d", d.Resolution())
	}
	if n := bus.Count(cmdWriteScratchpad); n != 2 {
		t.Fatalf("expected 2 writes, got %d", n)
	}
	for _, th := range ths[:2] {
		if th.EEPROM[2] != config10Bit {
			t.Fatalf("%s: configuration %#x", th.Addr, th.EEPROM[2])
		}
	}
	if err := d.SetResolution(1); err != nil {
		t.Fatal(err)
	}
	if d.Resolution() != 9 {
		t.Fatalf("resolution %d", d.Resolution())
	}
}

func TestConversionTime(t *testing.T) {
	data := map[int]time.Duration{
		9:  94 * time.Millisecond,
		10: 188 * time.Millisecond,
		11: 375 * time.Millisecond,
		12: 750 * time.Millisecond,
		0:  750 * time.Millisecond,
	}
	for bits, want := range data {
		if got := ConversionTime(bits); got != want {
			t.Errorf("ConversionTime(%d) = %s, want %s", bits, got, want)
		}
	}
}

func TestRequestTemperatures_sleep(t *testing.T) {
	for _, bits := range []int{9, 10, 11, 12} {
		t.Run(fmt.Sprint(bits), func(t *testing.T) {
			clk := useClock(t, time.Millisecond)
			bus := &owbustest.Sim{Devices: []owbustest.Device{owbustest.NewThermometer(addrB20, bits)}}
			d := New(bus, &Opts{WaitForConversion: true})
			if err := d.SetResolution(bits); err != nil {
				t.Fatal(err)
			}
			if err := d.RequestTemperatures(); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]time.Duration{ConversionTime(bits)}, clk.Slept); diff != "" {
				t.Fatalf("sleeps mismatch (-want +got):\n%s", diff)
			}
			if clk.Elapsed() > ConversionTime(bits) {
				t.Fatalf("waited %s", clk.Elapsed())
			}
			if bus.Count(cmdConvert) != 1 {
				t.Fatalf("commands %v", bus.Commands)
			}
		})
	}
}

func TestRequestTemperatures_legacyTiming(t *testing.T) {
	// DS18S20 report 12 bits and are timed as such.
	clk := useClock(t, time.Millisecond)
	bus := &owbustest.Sim{Devices: []owbustest.Device{owbustest.NewThermometer(addrS20, 12)}}
	d := New(bus, &Opts{WaitForConversion: true})
	if err := d.RequestTemperaturesByAddress(addrS20); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]time.Duration{750 * time.Millisecond}, clk.Slept); diff != "" {
		t.Fatalf("sleeps mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestTemperatures_poll(t *testing.T) {
	clk := useClock(t, time.Millisecond)
	th := owbustest.NewThermometer(addrB20, 12)
	th.BusyPolls = 5
	d := New(&owbustest.Sim{Devices: []owbustest.Device{th}}, nil)
	if err := d.RequestTemperatures(); err != nil {
		t.Fatal(err)
	}
	if len(clk.Slept) != 0 {
		t.Fatalf("expected polling, slept %v", clk.Slept)
	}
	if th.Conversions != 1 {
		t.Fatal("no conversion")
	}
	if e := clk.Elapsed(); e >= ConversionTime(12) {
		t.Fatalf("polling should return early, waited %s", e)
	}
}

func TestRequestTemperatures_pollTimeout(t *testing.T) {
	clk := useClock(t, time.Millisecond)
	th := owbustest.NewThermometer(addrB20, 9)
	th.BusyPolls = 1 << 30
	bus := &owbustest.Sim{Devices: []owbustest.Device{th}}
	d := New(bus, nil)
	if err := d.RequestTemperaturesByAddress(addrB20); err != nil {
		t.Fatal(err)
	}
	e := clk.Elapsed()
	if e < ConversionTime(9) || e > ConversionTime(9)+2*time.Millisecond {
		t.Fatalf("polling must stop after the conversion time, waited %s", e)
	}
}

func TestRequestTemperatures_parasite(t *testing.T) {
	clk := useClock(t, time.Millisecond)
	th := owbustest.NewThermometer(addrB20, 11)
	th.Parasite = true
	d := New(&owbustest.Sim{Devices: []owbustest.Device{th}}, nil)
	if _, err := d.Enumerate(); err != nil {
		t.Fatal(err)
	}
	if err := d.RequestTemperaturesByAddress(addrB20); err != nil {
		t.Fatal(err)
	}
	// Parasite powered devices cannot signal the end of the conversion.
	if diff := cmp.Diff([]time.Duration{ConversionTime(11)}, clk.Slept); diff != "" {
		t.Fatalf("sleeps mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestTemperatures_async(t *testing.T) {
	clk := useClock(t, 0)
	th := owbustest.NewThermometer(addrB20, 12)
	th.BusyPolls = 2
	d := New(&owbustest.Sim{Devices: []owbustest.Device{th}}, &Opts{})
	if err := d.RequestTemperatures(); err != nil {
		t.Fatal(err)
	}
	if len(clk.Slept) != 0 {
		t.Fatal("fire and forget must not wait")
	}
	for i := 0; i < 2; i++ {
		if done, err := d.IsConversionComplete(); done || err != nil {
			t.Fatalf("%t %v", done, err)
		}
	}
	if done, err := d.IsConversionComplete(); !done || err != nil {
		t.Fatalf("%t %v", done, err)
	}
}

func TestRequestTemperaturesByAddress_fail(t *testing.T) {
	useClock(t, 0)
	d := New(&owbustest.Sim{}, nil)
	if err := d.RequestTemperaturesByAddress(addrB20); !errors.Is(err, ErrDisconnected) {
		t.Fatal(err)
	}
	if err := d.RequestTemperaturesByIndex(0); !errors.Is(err, ErrNotFound) {
		t.Fatal(err)
	}
}

func TestTemp(t *testing.T) {
	useClock(t, time.Millisecond)
	th := owbustest.NewThermometer(addrB20, 12)
	th.Raw = [2]byte{0x91, 0x01}
	bus := &owbustest.Sim{Devices: []owbustest.Device{&owbustest.Ghost{Addr: addrPIO}, th}}
	d := New(bus, nil)
	if err := d.RequestTemperaturesByIndex(1); err != nil {
		t.Fatal(err)
	}
	if c := d.TempC(addrB20); c != 25.0625 {
		t.Fatalf("TempC() = %f", c)
	}
	if c := d.TempCByIndex(1); c != 25.0625 {
		t.Fatalf("TempCByIndex() = %f", c)
	}
	if f := d.TempFByIndex(1); f != RawToFahrenheit(3208) {
		t.Fatalf("TempFByIndex() = %f", f)
	}
	if c := d.TempCByIndex(2); c != DisconnectedC {
		t.Fatalf("TempCByIndex() = %f", c)
	}
	if f := d.TempFByIndex(2); f != DisconnectedF {
		t.Fatalf("TempFByIndex() = %f", f)
	}
	th.CorruptCRC = true
	if r := d.Temp(addrB20); r != DisconnectedRaw {
		t.Fatalf("Temp() = %d", r)
	}
	if f := d.TempF(addrB20); f != DisconnectedF {
		t.Fatalf("TempF() = %f", f)
	}
}

// TestParseTemperature tests a temperature parsing from scratchpad for DS18S20
// and DS18B20
func TestParseTemperature(t *testing.T) {
	var testData = []struct {
		family     Family
		scratchpad Scratchpad
		raw        int16
	}{
		{DS18B20, Scratchpad{0xD0, 0x07, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x10}, 125 * 128},
		{DS18B20, Scratchpad{0x50, 0x05, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x10}, 85 * 128},
		{DS18B20, Scratchpad{0x91, 0x01, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x10}, 3208},
		{DS18B20, Scratchpad{0xA2, 0x00, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x10}, 1296},
		{DS18B20, Scratchpad{0x08, 0x00, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x10}, 64},
		{DS18B20, Scratchpad{0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x10}, 0},
		{DS18B20, Scratchpad{0xF8, 0xFF, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x10}, -64},
		{DS18B20, Scratchpad{0x5E, 0xFF, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x10}, -1296},
		{DS18B20, Scratchpad{0x6F, 0xFE, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x10}, -3208},
		{DS18B20, Scratchpad{0x90, 0xFC, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x10}, -55 * 128},
		{DS1822, Scratchpad{0x91, 0x01, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x10}, 3208},

		// ((fp & 0xfff0) << 3) - 16 + ((cpc - cr) << 7) / cpc
		{DS18S20, Scratchpad{0x32, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0x00, 0x10}, 3312},
		{DS18S20, Scratchpad{0x32, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0x0C, 0x10}, 3216},
		{DS18S20, Scratchpad{0xAA, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0x0C, 0x10}, 10896},
		{DS18S20, Scratchpad{0x01, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0x04, 0x10}, 80},
		{DS18S20, Scratchpad{0xFF, 0xFF, 0x00, 0x00, 0xFF, 0xFF, 0x04, 0x10}, -48},
		{DS18S20, Scratchpad{0xCE, 0xFF, 0x00, 0x00, 0xFF, 0xFF, 0x0D, 0x10}, -3192},
		// No count per degree, no correction.
		{DS18S20, Scratchpad{0x32, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00}, 400},
	}

	for _, entry := range testData {
		t.Run(fmt.Sprintf("%s>%d", entry.family, entry.raw), func(st *testing.T) {
			if raw := decodeRaw(entry.family, &entry.scratchpad); raw != entry.raw {
				st.Errorf("expected %d, got %d", entry.raw, raw)
			}
		})
	}
}

func TestLegacyFormula(t *testing.T) {
	// Coarse 0x0190 with count per degree 16 and count remain 0.
	s := Scratchpad{0x32, 0x00, 0, 0, 0xff, 0xff, 0, 16}
	fp := int32(0x0190)
	want := int16(((fp & 0xfff0) << 3) - 16 + ((16-0)<<7)/16)
	if got := decodeRaw(DS18S20, &s); got != want || got != 3312 {
		t.Fatalf("got %d, want %d", got, want)
	}
	if got := Raw(addrS20, &s); got != 3312 {
		t.Fatalf("Raw() = %d", got)
	}
	// The same bytes on a DS18B20 are read as 12 bit.
	if got := Raw(addrB20, &s); got != 0x32<<3 {
		t.Fatalf("Raw() = %d", got)
	}
}

func TestRawConversions(t *testing.T) {
	if RawToCelsius(DisconnectedRaw) != DisconnectedC {
		t.Fatal("disconnected °C")
	}
	if RawToFahrenheit(DisconnectedRaw) != DisconnectedF {
		t.Fatal("disconnected °F")
	}
	if RawToCelsius(DisconnectedRaw-1) != DisconnectedC || RawToFahrenheit(-32768) != DisconnectedF {
		t.Fatal("values below the sentinel are disconnected")
	}
	if c := RawToCelsius(3208); c != 25.0625 {
		t.Fatal(c)
	}
	if f := RawToFahrenheit(0); f != 32 {
		t.Fatal(f)
	}
	if f := RawToFahrenheit(100 * 128); f < 211.999 || f > 212.001 {
		t.Fatal(f)
	}
	prevC, prevF := RawToCelsius(DisconnectedRaw+1), RawToFahrenheit(DisconnectedRaw+1)
	for raw := int32(DisconnectedRaw) + 2; raw <= 32767; raw += 7 {
		c, f := RawToCelsius(int16(raw)), RawToFahrenheit(int16(raw))
		if c <= prevC || f <= prevF {
			t.Fatalf("not monotonic at %d", raw)
		}
		prevC, prevF = c, f
	}
	if c := ToCelsius(ToFahrenheit(21.5)); c < 21.4999 || c > 21.5001 {
		t.Fatal(c)
	}
	if RawToTemperature(3208) != physic.ZeroCelsius+25062500*physic.MicroKelvin {
		t.Fatal(RawToTemperature(3208))
	}
}

func TestUserData(t *testing.T) {
	useClock(t, 0)
	th := owbustest.NewThermometer(addrB20, 12)
	bus := &owbustest.Sim{Devices: []owbustest.Device{th}}
	d := New(bus, nil)
	for _, v := range []int16{0x1234, -2, 0x7fff, -32768} {
		if err := d.SetUserData(addrB20, v); err != nil {
			t.Fatal(err)
		}
		if got := d.UserData(addrB20); got != v {
			t.Fatalf("UserData() = %d, want %d", got, v)
		}
	}
	// Writing the same value again does not touch the EEPROM.
	n := bus.Count(cmdWriteScratchpad)
	if err := d.SetUserData(addrB20, -32768); err != nil {
		t.Fatal(err)
	}
	if bus.Count(cmdWriteScratchpad) != n {
		t.Fatal("unexpected write")
	}
	if got := d.UserDataByIndex(0); got != -32768 {
		t.Fatal(got)
	}
	if err := d.SetUserDataByIndex(0, 42); err != nil {
		t.Fatal(err)
	}
	if got := d.UserData(addrB20); got != 42 {
		t.Fatal(got)
	}
	if err := d.SetUserDataByIndex(5, 1); !errors.Is(err, ErrNotFound) {
		t.Fatal(err)
	}

	// Disconnected devices read 0.
	th.CorruptCRC = true
	if got := d.UserData(addrB20); got != 0 {
		t.Fatal(got)
	}
	if err := d.SetUserData(addrB20, 7); !errors.Is(err, ErrDisconnected) {
		t.Fatal(err)
	}
	if got := d.UserDataByIndex(3); got != 0 {
		t.Fatal(got)
	}
}

func TestRecallEEPROM(t *testing.T) {
	th := owbustest.NewThermometer(addrB20, 12)
	d := New(&owbustest.Sim{Devices: []owbustest.Device{th}}, nil)
	th.Scratchpad[HighAlarm] = 0
	if err := d.RecallEEPROM(addrB20); err != nil {
		t.Fatal(err)
	}
	if th.Scratchpad[HighAlarm] != th.EEPROM[0] {
		t.Fatal("not recalled")
	}
	if err := New(&owbustest.Sim{}, nil).RecallEEPROM(addrB20); !errors.Is(err, owbus.ErrNoPresence) {
		t.Fatal(err)
	}
}

func TestOpts(t *testing.T) {
	d := New(&owbustest.Sim{}, nil)
	if !d.WaitForConversion() || !d.CheckForConversion() {
		t.Fatal("defaults")
	}
	d.SetWaitForConversion(false)
	d.SetCheckForConversion(false)
	if d.WaitForConversion() || d.CheckForConversion() {
		t.Fatal("setters")
	}
	if d.String() != "DS18B20" || d.Halt() != nil {
		t.Fatal("conn.Resource")
	}
}

func TestFamily(t *testing.T) {
	for f, s := range map[Family]string{DS18S20: "DS18S20", DS18B20: "DS18B20", DS1822: "DS1822", DS1825: "DS1825", DS28EA00: "DS28EA00", 0x3a: "unknown"} {
		if f.String() != s {
			t.Errorf("%#x: %s", byte(f), f)
		}
	}
	if Supported(addrPIO) || !Supported(addrS20) {
		t.Fatal("Supported")
	}
}

func TestSensor(t *testing.T) {
	useClock(t, time.Millisecond)
	th := owbustest.NewThermometer(addrB20, 12)
	d := New(&owbustest.Sim{Devices: []owbustest.Device{th}}, &Opts{CheckForConversion: true})
	s := d.Sensor(addrB20)
	if got := s.String(); got != "DS18B20{28-ac-41-0e-07-00-00-74}" {
		t.Fatal(got)
	}
	// Power-on value.
	if _, err := s.LastTemp(); err == nil {
		t.Fatal("expected an error on 85°C")
	}
	th.Raw = [2]byte{0x6f, 0xfe}
	e := physic.Env{}
	if err := s.Sense(&e); err != nil {
		t.Fatal(err)
	}
	if e.Temperature != physic.ZeroCelsius-25062500*physic.MicroKelvin {
		t.Fatalf("got %s", e.Temperature)
	}
	if d.WaitForConversion() {
		t.Fatal("Sense must restore the wait policy")
	}
	s.Precision(&e)
	if e.Temperature != physic.Kelvin/16 {
		t.Fatalf("got %s", e.Temperature)
	}
	if _, err := s.SenseContinuous(time.Millisecond); err == nil {
		t.Fatal("interval shorter than the conversion")
	}
	if err := s.Halt(); err != nil {
		t.Fatal(err)
	}

	th.CorruptCRC = true
	if _, err := s.LastTemp(); !errors.Is(err, ErrDisconnected) {
		t.Fatal(err)
	}
}
