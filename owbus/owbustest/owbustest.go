// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owbustest is meant to be used to test drivers over a simulated
// 1-wire bus.
//
// Sim implements owbus.Bus on top of a list of simulated devices and keeps
// track of every reset and function command so tests can assert how much
// traffic an operation generated.
package owbustest

import (
	"sync"
	"time"

	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
)

// Device is a simulated 1-wire slave.
type Device interface {
	Address() owbus.Address
	// Command is called with the function command sent after the device got
	// selected, either by MATCH ROM or SKIP ROM.
	Command(cmd byte)
	// Write receives the data bytes following the function command.
	Write(b byte)
	// Read returns the next byte driven by the device.
	Read() byte
	// ReadBit returns the next bit driven by the device.
	ReadBit() byte
}

// Sim is a simulated 1-wire bus.
//
// Devices are returned by the search in slice order. Reads with more than one
// device selected are wired-AND, like on a real bus.
type Sim struct {
	Devices []Device
	// Presence, if set, decides the presence pulse of the n-th reset
	// (starting at 1). The default is true when at least one device is on the
	// bus.
	Presence func(n int) bool

	// Resets is the number of resets issued.
	Resets int
	// Selects is the number of MATCH ROM operations.
	Selects int
	// Commands records every function command in order.
	Commands []byte

	mu        sync.Mutex
	search    int
	selected  []Device
	addressed bool
	inData    bool
}

// Count returns how many times the function command cmd was issued.
func (s *Sim) Count(cmd byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.Commands {
		if c == cmd {
			n++
		}
	}
	return n
}

// Reset implements owbus.Bus.
func (s *Sim) Reset() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Resets++
	s.selected = nil
	s.addressed = false
	s.inData = false
	if s.Presence != nil {
		return s.Presence(s.Resets), nil
	}
	return len(s.Devices) != 0, nil
}

// ResetSearch implements owbus.Bus.
func (s *Sim) ResetSearch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search = 0
}

// SearchNext implements owbus.Bus.
func (s *Sim) SearchNext() (owbus.Address, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.search >= len(s.Devices) {
		return owbus.Address{}, false, nil
	}
	a := s.Devices[s.search].Address()
	s.search++
	return a, true, nil
}

// Select implements owbus.Bus.
func (s *Sim) Select(a owbus.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Selects++
	s.selected = nil
	for _, d := range s.Devices {
		if d.Address() == a {
			s.selected = append(s.selected, d)
		}
	}
	s.addressed = true
	s.inData = false
	return nil
}

// Skip implements owbus.Bus.
func (s *Sim) Skip() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = append([]Device(nil), s.Devices...)
	s.addressed = true
	s.inData = false
	return nil
}

// WriteByte implements owbus.Bus.
func (s *Sim) WriteByte(b byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.addressed {
		return nil
	}
	if !s.inData {
		s.Commands = append(s.Commands, b)
		s.inData = true
		for _, d := range s.selected {
			d.Command(b)
		}
		return nil
	}
	for _, d := range s.selected {
		d.Write(b)
	}
	return nil
}

// ReadByte implements owbus.Bus.
func (s *Sim) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := byte(0xff)
	for _, d := range s.selected {
		v &= d.Read()
	}
	return v, nil
}

// ReadBit implements owbus.Bus.
func (s *Sim) ReadBit() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := byte(1)
	for _, d := range s.selected {
		v &= d.ReadBit() & 1
	}
	return v, nil
}

// MakeAddress returns a valid address for the family and serial number.
func MakeAddress(family byte, serial ...byte) owbus.Address {
	var a owbus.Address
	a[0] = family
	copy(a[1:7], serial)
	a[7] = owbus.CRC8(a[:7])
	return a
}

// Ghost is a device that answers the search but nothing else, like a device
// of an unsupported family or a corrupted search result.
type Ghost struct {
	Addr owbus.Address
}

func (g *Ghost) Address() owbus.Address { return g.Addr }
func (g *Ghost) Command(byte)           {}
func (g *Ghost) Write(byte)             {}
func (g *Ghost) Read() byte             { return 0xff }
func (g *Ghost) ReadBit() byte          { return 1 }

// Clock is a fake time source. Now advances by Step on each call so that
// polling loops bounded by time terminate.
type Clock struct {
	mu    sync.Mutex
	T     time.Time
	Step  time.Duration
	Slept []time.Duration
	start time.Time
	init  bool
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setup()
	t := c.T
	c.T = c.T.Add(c.Step)
	return t
}

// Sleep advances the simulated time by d and records it.
func (c *Clock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setup()
	c.Slept = append(c.Slept, d)
	c.T = c.T.Add(d)
}

// Elapsed returns the simulated time spent since the first use.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setup()
	return c.T.Sub(c.start)
}

func (c *Clock) setup() {
	if !c.init {
		c.start = c.T
		c.init = true
	}
}

var _ Device = &Ghost{}
