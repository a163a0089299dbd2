// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds2413

import (
	"errors"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
)

// ErrNotImplemented is returned by the features the DS2413 does not have.
var ErrNotImplemented = errors.New("ds2413: not implemented")

// Pins returns PIOA and PIOB of the switch at address a as GPIO pins.
//
// Setting a pin to Low activates the open drain to ground. To use a pin as an
// input, call In, which sets its latch to High, then Read.
func (d *Dev) Pins(a owbus.Address) [2]gpio.PinIO {
	return [2]gpio.PinIO{
		&pioPin{dev: d, addr: a, number: 0, name: a.String() + "_PIOA"},
		&pioPin{dev: d, addr: a, number: 1, name: a.String() + "_PIOB"},
	}
}

type pioPin struct {
	dev    *Dev
	addr   owbus.Address
	number int
	name   string
}

func (pin *pioPin) DefaultPull() gpio.Pull {
	return gpio.Float
}

func (pin *pioPin) Function() string {
	return "Out/OpenDrain"
}

func (pin *pioPin) Halt() error {
	return nil
}

func (pin *pioPin) In(pull gpio.Pull, edge gpio.Edge) error {
	if edge != gpio.NoEdge {
		return ErrNotImplemented
	}
	return pin.Out(gpio.High)
}

func (pin *pioPin) Name() string {
	return pin.name
}

func (pin *pioPin) Number() int {
	return pin.number
}

// Out rewrites both latches, keeping the other channel as read back from the
// device.
func (pin *pioPin) Out(l gpio.Level) error {
	s, err := pin.dev.PIOState(pin.addr)
	if err != nil {
		return err
	}
	if !s.Valid() {
		return errors.New("ds2413: invalid PIO status")
	}
	mask := byte(1 << pin.number)
	b := s.Latches() &^ mask
	if l {
		b |= mask
	}
	return pin.dev.SetPIOState(pin.addr, b)
}

func (pin *pioPin) Pull() gpio.Pull {
	return gpio.Float
}

// Read returns the sensed level of the pin. It returns Low when the device
// cannot be read.
func (pin *pioPin) Read() gpio.Level {
	s, err := pin.dev.PIOState(pin.addr)
	if err != nil || !s.Valid() {
		return gpio.Low
	}
	if pin.number == 0 {
		return gpio.Level(s.PIOA())
	}
	return gpio.Level(s.PIOB())
}

func (pin *pioPin) PWM(duty gpio.Duty, f physic.Frequency) error {
	return ErrNotImplemented
}

func (pin *pioPin) String() string {
	return pin.name
}

// The DS2413 has no edge detection.
func (pin *pioPin) WaitForEdge(timeout time.Duration) bool {
	return false
}

var _ gpio.PinIO = &pioPin{}
