// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owbus

// Txn runs a command sequence on a Bus with a persistent error model: once a
// primitive fails all the following ones are skipped and Err returns the
// first error.
//
// Only transport errors are recorded. A missing presence pulse is reported by
// Reset and left to the caller to interpret.
type Txn struct {
	bus Bus
	err error
}

// NewTxn returns a Txn on b.
func NewTxn(b Bus) *Txn {
	return &Txn{bus: b}
}

// Err returns the first error encountered.
func (t *Txn) Err() error {
	return t.err
}

// Reset issues a bus reset and returns the presence pulse. It returns false if
// the Txn is already in error.
func (t *Txn) Reset() bool {
	if t.err != nil {
		return false
	}
	present, err := t.bus.Reset()
	t.err = err
	return present && err == nil
}

// Select addresses the device a.
func (t *Txn) Select(a Address) {
	if t.err == nil {
		t.err = t.bus.Select(a)
	}
}

// Skip addresses all devices.
func (t *Txn) Skip() {
	if t.err == nil {
		t.err = t.bus.Skip()
	}
}

// Write writes the bytes in order.
func (t *Txn) Write(w ...byte) {
	for _, b := range w {
		if t.err != nil {
			return
		}
		t.err = t.bus.WriteByte(b)
	}
}

// Read fills r with bytes read from the bus.
func (t *Txn) Read(r []byte) {
	for i := range r {
		if t.err != nil {
			return
		}
		r[i], t.err = t.bus.ReadByte()
	}
}

// Bit reads a single bit. It returns 0 if the Txn is in error.
func (t *Txn) Bit() byte {
	if t.err != nil {
		return 0
	}
	var b byte
	b, t.err = t.bus.ReadBit()
	return b
}

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

// ErrNoPresence is returned when a reset is not answered by any device.
var ErrNoPresence error = busError("owbus: no device present")
