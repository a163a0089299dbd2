// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"errors"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"

	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
)

// Sensor returns a handle to a single sensor of the bus, usable wherever a
// physic.SenseEnv is expected.
func (d *Dev) Sensor(a owbus.Address) *Sensor {
	return &Sensor{dev: d, addr: a}
}

// Sensor is a single temperature sensor of a Dev.
type Sensor struct {
	dev  *Dev
	addr owbus.Address

	mu   sync.Mutex
	stop chan struct{}
}

// Family returns the device model.
func (s *Sensor) Family() Family {
	return Family(s.addr.Family())
}

// Address returns the address of the sensor.
func (s *Sensor) Address() owbus.Address {
	return s.addr
}

func (s *Sensor) String() string {
	return s.Family().String() + "{" + s.addr.String() + "}"
}

// Halt implements conn.Resource. It stops SenseContinuous.
func (s *Sensor) Halt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	return nil
}

// Sense implements physic.SenseEnv.
//
// It starts a conversion on this sensor only, waits for it regardless of the
// Dev wait policy and reads the result.
func (s *Sensor) Sense(e *physic.Env) error {
	wait := s.dev.wait
	s.dev.wait = true
	err := s.dev.RequestTemperaturesByAddress(s.addr)
	s.dev.wait = wait
	if err != nil {
		return err
	}
	t, err := s.LastTemp()
	if err != nil {
		return err
	}
	e.Temperature = t
	return nil
}

// SenseContinuous implements physic.SenseEnv.
//
// The bus is used from a separate goroutine; the caller must not use the bus
// until Halt is called. Readings failing with a bus error are skipped.
func (s *Sensor) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if interval < ConversionTime(s.dev.DeviceResolution(s.addr)) {
		return nil, errors.New("ds18b20: interval shorter than the conversion time")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil, errors.New("ds18b20: already sensing continuously")
	}
	stop := make(chan struct{})
	s.stop = stop
	c := make(chan physic.Env)
	go func() {
		defer close(c)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
			}
			var e physic.Env
			if err := s.Sense(&e); err != nil {
				continue
			}
			select {
			case c <- e:
			case <-stop:
				return
			}
		}
	}()
	return c, nil
}

// Precision implements physic.SenseEnv.
func (s *Sensor) Precision(e *physic.Env) {
	bits := s.dev.DeviceResolution(s.addr)
	if bits == 0 {
		bits = DefaultResolution
	}
	e.Temperature = physic.Kelvin / physic.Temperature(int64(1)<<(bits-8))
}

// LastTemp reads the temperature resulting from the last conversion from the
// device.
//
// It is useful in combination with RequestTemperatures.
func (s *Sensor) LastTemp() (physic.Temperature, error) {
	raw := s.dev.Temp(s.addr)
	if raw == DisconnectedRaw {
		return 0, ErrDisconnected
	}
	c := RawToTemperature(raw)
	// The device powers up with a value of 85°C, so if we read that odds are
	// very high that either no conversion was performed or that the conversion
	// failed due to lack of power. This prevents reading a temp of exactly 85°C,
	// but that seems like the right tradeoff.
	if c == 85*physic.Kelvin+physic.ZeroCelsius {
		return 0, busError("ds18b20: has not performed a temperature conversion (insufficient pull-up?)")
	}
	return c, nil
}

var _ conn.Resource = &Sensor{}
var _ physic.SenseEnv = &Sensor{}
var _ conn.Resource = &Dev{}
