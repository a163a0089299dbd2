// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sampler periodically reads every DS18B20 family sensor and DS2413
// switch of a 1-wire bus and forwards the readings.
//
// The bus is only used from the goroutine running Run. Commands received from
// MQTT are queued and executed there between two samples.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/briandorey/Nest-to-1-wire-bridge/ds18b20"
	"github.com/briandorey/Nest-to-1-wire-bridge/ds2413"
	"github.com/briandorey/Nest-to-1-wire-bridge/internal/config"
	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
)

// Publisher is satisfied by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Recorder is satisfied by *influxdb.Client.
type Recorder interface {
	WriteTemperature(address string, celsius float64, ts time.Time)
	WriteSwitch(address string, pioa, piob bool, ts time.Time)
}

// Logger is satisfied by *slog.Logger and *logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Sampler.
type Options struct {
	Interval   time.Duration
	Resolution int
	// WaitForConversion converts one sensor at a time, as addressed. When
	// false a single conversion is started on the whole bus and the sampler
	// sleeps the conversion time itself.
	WaitForConversion  bool
	CheckForConversion bool
	// Temperatures are forwarded only inside (MinValid, MaxValid).
	MinValid, MaxValid float64
	// Rescan is the number of samples between two enumerations. 0 enumerates
	// at startup and while the bus looks empty.
	Rescan int

	// Prefix roots the report topic.
	Prefix string
	// Topics maps devices to their topic. Unmapped devices are only part of
	// the report.
	Topics map[owbus.Address]string
	// PIOA and PIOB name the switch channels in topics.
	PIOA, PIOB string
	QoS        byte
	Retain     bool
}

// OptionsFromConfig converts a validated configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	topics := make(map[owbus.Address]string, len(cfg.MQTT.Topics))
	for addr, topic := range cfg.MQTT.Topics {
		if a, err := owbus.ParseAddress(addr); err == nil {
			topics[a] = topic
		}
	}
	return Options{
		Interval:           cfg.GetInterval(),
		Resolution:         cfg.Sampling.Resolution,
		WaitForConversion:  cfg.Sampling.WaitForConversion,
		CheckForConversion: cfg.Sampling.CheckForConversion,
		MinValid:           cfg.Sampling.MinValid,
		MaxValid:           cfg.Sampling.MaxValid,
		Rescan:             cfg.Sampling.Rescan,
		Prefix:             cfg.MQTT.TopicPrefix,
		Topics:             topics,
		PIOA:               cfg.MQTT.Channels.PIOA,
		PIOB:               cfg.MQTT.Channels.PIOB,
		QoS:                byte(cfg.MQTT.QoS),
		Retain:             cfg.MQTT.Retain,
	}
}

// Sampler owns a 1-wire bus and the drivers using it.
type Sampler struct {
	opts     Options
	temps    *ds18b20.Dev
	switches *ds2413.Dev
	log      Logger
	pub      Publisher
	rec      Recorder
	commands chan Command
	samples  int
}

// New returns a Sampler for bus. Devices are found by Enumerate or Run.
func New(bus owbus.Bus, opts Options, logger Logger) *Sampler {
	return &Sampler{
		opts: opts,
		temps: ds18b20.New(bus, &ds18b20.Opts{
			WaitForConversion:  opts.WaitForConversion,
			CheckForConversion: opts.CheckForConversion,
		}),
		switches: ds2413.New(bus),
		log:      logger,
		commands: make(chan Command, commandQueue),
	}
}

// SetPublisher sets where readings are published. nil disables publishing.
func (s *Sampler) SetPublisher(p Publisher) {
	s.pub = p
}

// SetRecorder sets where readings are recorded. nil disables recording.
func (s *Sampler) SetRecorder(r Recorder) {
	s.rec = r
}

// Enumerate searches the bus for sensors and switches and sets the sensors to
// the configured resolution.
func (s *Sampler) Enumerate() error {
	nt, err := s.temps.Enumerate()
	if err != nil {
		return fmt.Errorf("enumerating sensors: %w", err)
	}
	ns, err := s.switches.Enumerate()
	if err != nil {
		return fmt.Errorf("enumerating switches: %w", err)
	}
	if nt > 0 {
		if err := s.temps.SetResolution(s.opts.Resolution); err != nil {
			s.log.Warn("setting resolution", "bits", s.opts.Resolution, "error", err)
		}
	}
	s.log.Info("bus enumerated",
		"temperatures", nt,
		"switches", ns,
		"parasite", s.temps.IsParasitePowerMode(),
		"resolution", s.temps.Resolution(),
	)
	return nil
}

// Run enumerates the bus, then samples and publishes every interval until ctx
// is done. Queued commands are executed as they arrive.
func (s *Sampler) Run(ctx context.Context) error {
	if err := s.Enumerate(); err != nil {
		s.log.Error("enumeration failed", "error", err)
	}
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		s.cycle(ctx)
		for done := false; !done; {
			select {
			case <-ctx.Done():
				return nil
			case cmd := <-s.commands:
				if err := s.Execute(cmd); err != nil {
					s.log.Warn("command failed", "address", cmd.Address.String(), "channel", cmd.Channel, "error", err)
					continue
				}
				s.forward(Report{Switches: s.readSwitches()})
			case <-ticker.C:
				done = true
			}
		}
	}
}

func (s *Sampler) cycle(ctx context.Context) {
	s.samples++
	// Run enumerates right before the first sample.
	empty := s.temps.Count()+s.switches.Count() == 0
	if s.samples > 1 && (empty || (s.opts.Rescan > 0 && s.samples%s.opts.Rescan == 0)) {
		if err := s.Enumerate(); err != nil {
			s.log.Error("enumeration failed", "error", err)
		}
	}
	r, err := s.Sample(ctx)
	if err != nil {
		s.log.Warn("sample incomplete", "error", err)
	}
	if ctx.Err() != nil {
		return
	}
	s.log.Debug("sampled", "temperatures", len(r.Temperatures), "switches", len(r.Switches))
	s.forward(r)
}

// Sample reads every known device once. Devices failing are reported as
// disconnected; their errors are joined in the returned error.
func (s *Sampler) Sample(ctx context.Context) (Report, error) {
	var errs []error
	bulk := !s.opts.WaitForConversion && s.temps.Count() > 0
	if bulk {
		if err := s.temps.RequestTemperatures(); err != nil {
			errs = append(errs, fmt.Errorf("starting conversion: %w", err))
			bulk = false
		} else if err := sleepCtx(ctx, ds18b20.ConversionTime(s.temps.Resolution())); err != nil {
			return Report{}, err
		}
	}
	r := Report{Temperatures: []TemperatureReport{}, Switches: []SwitchReport{}}
	for _, a := range s.temps.Addresses() {
		c := ds18b20.DisconnectedC
		if !bulk {
			if err := s.temps.RequestTemperaturesByAddress(a); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", a, err))
			} else {
				c = s.temps.TempC(a)
			}
		} else {
			c = s.temps.TempC(a)
		}
		r.Temperatures = append(r.Temperatures, newTemperatureReport(a, c))
	}
	sw, err := s.switchReports()
	if err != nil {
		errs = append(errs, err)
	}
	r.Switches = sw
	return r, errors.Join(errs...)
}

func (s *Sampler) readSwitches() []SwitchReport {
	r, err := s.switchReports()
	if err != nil {
		s.log.Warn("reading switches", "error", err)
	}
	return r
}

// switchReports skips the switches whose status fails its check.
func (s *Sampler) switchReports() ([]SwitchReport, error) {
	var errs []error
	r := []SwitchReport{}
	for _, a := range s.switches.Addresses() {
		st, err := s.switches.PIOState(a)
		if err == nil && !st.Valid() {
			err = errInvalidStatus
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a, err))
			continue
		}
		r = append(r, newSwitchReport(a, st))
	}
	return r, errors.Join(errs...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var errInvalidStatus = errors.New("sampler: invalid PIO status")

var now = time.Now
