// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owbus

import (
	"periph.io/x/conn/v3/onewire"
)

// Search is the state of an incremental ROM search, as described in Maxim's
// AppNote 187. Its zero value is ready to find the first device.
//
// Bus implementations keep one Search and call Next after they issued a reset
// and the SEARCH ROM command.
type Search struct {
	lastROM         uint64
	lastDiscrepancy int // 1 based bit position of the last 0 taken on a conflict
	done            bool
}

// Reset restarts the search from the first device.
func (s *Search) Reset() {
	*s = Search{}
}

// Done returns true once the last device was found.
func (s *Search) Done() bool {
	return s.done
}

// Next walks the 64 bits of the next address using triplet, which reads the
// bit and its complement then writes the direction to take.
//
// The address CRC is not verified.
func (s *Search) Next(triplet func(direction byte) (onewire.TripletResult, error)) (Address, error) {
	lastZero := 0
	var rom uint64
	for bit := 1; bit <= 64; bit++ {
		var dir byte
		if bit < s.lastDiscrepancy {
			dir = byte(s.lastROM>>(bit-1)) & 1
		} else if bit == s.lastDiscrepancy {
			dir = 1
		}
		tr, err := triplet(dir)
		if err != nil {
			return Address{}, err
		}
		if !tr.GotZero && !tr.GotOne {
			s.Reset()
			return Address{}, errDisappeared
		}
		if tr.GotZero && tr.GotOne && tr.Taken == 0 {
			lastZero = bit
		}
		rom |= uint64(tr.Taken&1) << (bit - 1)
	}
	s.lastROM = rom
	s.lastDiscrepancy = lastZero
	s.done = lastZero == 0
	return FromOnewire(onewire.Address(rom)), nil
}

var errDisappeared error = busError("owbus: devices disappeared during search")
