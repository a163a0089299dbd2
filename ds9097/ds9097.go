// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds9097 drives a 1-wire bus from a serial port, the way passive
// DS9097 style adapters and a bare UART with a diode do.
//
// The UART produces the 1-wire timing. A reset pulse is a 0xf0 character sent
// at 9600 bauds; a device answering with a presence pulse corrupts the
// character read back. At 115200 bauds each character is a single time slot:
// 0xff is a write 1 or a read slot, 0x00 a write 0. A read slot reads back
// 0xff unless a device pulled the bus low.
//
// # Reference
//
// Using an UART to Implement a 1-Wire Bus Master,
// https://www.analog.com/en/technical-articles/using-a-uart-to-implement-a-1wire-bus-master.html
package ds9097

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"

	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
)

// Port is the subset of *serial.Port used by Dev.
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// Opener opens the serial port at the given baud rate.
type Opener func(baud int) (Port, error)

// Opts contains options to pass to the constructor.
type Opts struct {
	// ReadTimeout bounds the wait for the echo of every time slot.
	ReadTimeout time.Duration
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	ReadTimeout: time.Second,
}

const (
	resetBaud = 9600
	dataBaud  = 115200
)

// New opens the serial port name and returns a Dev driving the 1-wire bus
// attached to it.
func New(name string, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	open := func(baud int) (Port, error) {
		p, err := serial.OpenPort(&serial.Config{
			Name:        name,
			Baud:        baud,
			ReadTimeout: opts.ReadTimeout,
			Size:        serial.DefaultSize,
			Parity:      serial.ParityNone,
			StopBits:    serial.Stop1,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	d, err := NewWithOpener(open)
	if err != nil {
		return nil, err
	}
	d.name = name
	return d, nil
}

// NewWithOpener returns a Dev using open to (re)open its serial port.
func NewWithOpener(open Opener) (*Dev, error) {
	p, err := open(dataBaud)
	if err != nil {
		return nil, fmt.Errorf("ds9097: %w", err)
	}
	return &Dev{open: open, port: p}, nil
}

// Dev is a 1-wire bus master on a serial port. It implements owbus.Bus.
//
// The port is reopened at each bus reset to switch the baud rate.
type Dev struct {
	mu     sync.Mutex
	name   string
	open   Opener
	port   Port
	search owbus.Search
}

func (d *Dev) String() string {
	return "DS9097{" + d.name + "}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Close closes the serial port.
func (d *Dev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

// Reset implements owbus.Bus.
func (d *Dev) Reset() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reset()
}

// ResetSearch implements owbus.Bus.
func (d *Dev) ResetSearch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.search.Reset()
}

// SearchNext implements owbus.Bus.
func (d *Dev) SearchNext() (owbus.Address, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.search.Done() {
		return owbus.Address{}, false, nil
	}
	present, err := d.reset()
	if err != nil {
		return owbus.Address{}, false, err
	}
	if !present {
		d.search.Reset()
		return owbus.Address{}, false, nil
	}
	if err := d.writeByte(owbus.CmdSearchROM); err != nil {
		return owbus.Address{}, false, err
	}
	a, err := d.search.Next(d.triplet)
	if err != nil {
		return owbus.Address{}, false, err
	}
	return a, true, nil
}

// Select implements owbus.Bus.
func (d *Dev) Select(a owbus.Address) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeByte(owbus.CmdMatchROM); err != nil {
		return err
	}
	for _, b := range a {
		if err := d.writeByte(b); err != nil {
			return err
		}
	}
	return nil
}

// Skip implements owbus.Bus.
func (d *Dev) Skip() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeByte(owbus.CmdSkipROM)
}

// WriteByte implements owbus.Bus.
func (d *Dev) WriteByte(b byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeByte(b)
}

// ReadByte implements owbus.Bus.
func (d *Dev) ReadByte() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	slots, err := d.slots([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	if err != nil {
		return 0, err
	}
	var b byte
	for i, s := range slots {
		if s == 0xff {
			b |= 1 << i
		}
	}
	return b, nil
}

// ReadBit implements owbus.Bus.
func (d *Dev) ReadBit() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readBit()
}

func (d *Dev) reset() (bool, error) {
	if d.port != nil {
		if err := d.port.Close(); err != nil {
			return false, fmt.Errorf("ds9097: %w", err)
		}
		d.port = nil
	}
	p, err := d.open(resetBaud)
	if err != nil {
		return false, fmt.Errorf("ds9097: %w", err)
	}
	r, err := d.echo(p, []byte{0xf0})
	if err2 := p.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return false, fmt.Errorf("ds9097: reset: %w", err)
	}
	if d.port, err = d.open(dataBaud); err != nil {
		return false, fmt.Errorf("ds9097: %w", err)
	}
	switch r[0] {
	case 0xf0:
		return false, nil
	case 0x00:
		return false, shortedBusError("ds9097: bus has a short")
	default:
		return true, nil
	}
}

// slots sends one time slot per byte of w and returns what was read back.
func (d *Dev) slots(w []byte) ([]byte, error) {
	if d.port == nil {
		return nil, errClosed
	}
	return d.echo(d.port, w)
}

func (d *Dev) echo(p Port, w []byte) ([]byte, error) {
	// Drop anything left over from a previous timeout.
	if err := p.Flush(); err != nil {
		return nil, err
	}
	if _, err := p.Write(w); err != nil {
		return nil, err
	}
	r := make([]byte, len(w))
	if _, err := io.ReadFull(p, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (d *Dev) writeByte(b byte) error {
	var w [8]byte
	for i := range w {
		if (b>>i)&1 != 0 {
			w[i] = 0xff
		}
	}
	r, err := d.slots(w[:])
	if err != nil {
		return err
	}
	for i := range w {
		if r[i] != w[i] {
			return busError("ds9097: collision on write")
		}
	}
	return nil
}

func (d *Dev) readBit() (byte, error) {
	r, err := d.slots([]byte{0xff})
	if err != nil {
		return 0, err
	}
	if r[0] == 0xff {
		return 1, nil
	}
	return 0, nil
}

func (d *Dev) writeBit(b byte) error {
	w := byte(0)
	if b != 0 {
		w = 0xff
	}
	r, err := d.slots([]byte{w})
	if err != nil {
		return err
	}
	if r[0] != w {
		return busError("ds9097: collision on write")
	}
	return nil
}

// triplet reads a bit and its complement, then writes the direction taken.
func (d *Dev) triplet(dir byte) (onewire.TripletResult, error) {
	var tr onewire.TripletResult
	id, err := d.readBit()
	if err != nil {
		return tr, err
	}
	cmp, err := d.readBit()
	if err != nil {
		return tr, err
	}
	tr.GotZero = id == 0
	tr.GotOne = cmp == 0
	switch {
	case tr.GotZero && !tr.GotOne:
		dir = 0
	case tr.GotOne && !tr.GotZero:
		dir = 1
	case !tr.GotZero && !tr.GotOne:
		return tr, nil
	}
	tr.Taken = dir
	return tr, d.writeBit(dir)
}

// shortedBusError implements error and onewire.ShortedBusError.
type shortedBusError string

func (e shortedBusError) Error() string   { return string(e) }
func (e shortedBusError) IsShorted() bool { return true }
func (e shortedBusError) BusError() bool  { return true }

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

var errClosed = errors.New("ds9097: port closed")

var _ conn.Resource = &Dev{}
var _ owbus.Bus = &Dev{}
