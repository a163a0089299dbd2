// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sampler

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/briandorey/Nest-to-1-wire-bridge/ds18b20"
	"github.com/briandorey/Nest-to-1-wire-bridge/ds2413"
	"github.com/briandorey/Nest-to-1-wire-bridge/internal/mqtt"
	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
)

// Report is one sample of the bus.
//
// Values are strings, temperatures in °C with two decimals and switch pins as
// "0" or "1".
type Report struct {
	Temperatures []TemperatureReport `json:"temperatures"`
	Switches     []SwitchReport      `json:"switches"`
}

// TemperatureReport is the reading of one sensor.
type TemperatureReport struct {
	Address string `json:"address"`
	Value   string `json:"value"`

	addr    owbus.Address
	celsius float64
}

// SwitchReport is the pin state of the two channels of a switch.
type SwitchReport struct {
	Address string `json:"address"`
	PIOA    string `json:"pioa"`
	PIOB    string `json:"piob"`

	addr  owbus.Address
	state ds2413.State
}

func newTemperatureReport(a owbus.Address, c float64) TemperatureReport {
	return TemperatureReport{Address: a.String(), Value: fmt.Sprintf("%.2f", c), addr: a, celsius: c}
}

func newSwitchReport(a owbus.Address, s ds2413.State) SwitchReport {
	return SwitchReport{Address: a.String(), PIOA: bit(s.PIOA()), PIOB: bit(s.PIOB()), addr: a, state: s}
}

// Connected is false when the sensor could not be read.
func (t *TemperatureReport) Connected() bool {
	return t.celsius != ds18b20.DisconnectedC
}

func bit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// forward publishes and records r, logging failures.
func (s *Sampler) forward(r Report) {
	if s.pub != nil {
		if err := s.publish(r); err != nil {
			s.log.Warn("publish failed", "error", err)
		}
	}
	if s.rec != nil {
		s.record(r)
	}
}

// publish sends the full report for a sample with temperatures, then every
// mapped reading on its own topic. Temperatures outside of the valid range are
// left out.
func (s *Sampler) publish(r Report) error {
	var errs []error
	if r.Temperatures != nil {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := s.pub.Publish(mqtt.Topics{Prefix: s.opts.Prefix}.Report(), b, s.opts.QoS, false); err != nil {
			errs = append(errs, err)
		}
	}
	for _, t := range r.Temperatures {
		topic, ok := s.opts.Topics[t.addr]
		if !ok || !t.Connected() || t.celsius <= s.opts.MinValid || t.celsius >= s.opts.MaxValid {
			continue
		}
		if err := s.pub.Publish(topic, []byte(t.Value), s.opts.QoS, s.opts.Retain); err != nil {
			errs = append(errs, err)
		}
	}
	for _, sw := range r.Switches {
		topic, ok := s.opts.Topics[sw.addr]
		if !ok {
			continue
		}
		if err := s.pub.Publish(mqtt.Channel(topic, s.opts.PIOA), []byte(sw.PIOA), s.opts.QoS, s.opts.Retain); err != nil {
			errs = append(errs, err)
		}
		if err := s.pub.Publish(mqtt.Channel(topic, s.opts.PIOB), []byte(sw.PIOB), s.opts.QoS, s.opts.Retain); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// record stores every connected reading, whatever its range.
func (s *Sampler) record(r Report) {
	ts := now()
	for _, t := range r.Temperatures {
		if t.Connected() {
			s.rec.WriteTemperature(t.Address, t.celsius, ts)
		}
	}
	for _, sw := range r.Switches {
		s.rec.WriteSwitch(sw.Address, sw.state.PIOA(), sw.state.PIOB(), ts)
	}
}
