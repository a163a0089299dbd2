// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bridge opens the 1-wire bus master named in the configuration.
package bridge

import (
	"fmt"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/briandorey/Nest-to-1-wire-bridge/ds248x"
	"github.com/briandorey/Nest-to-1-wire-bridge/ds9097"
	"github.com/briandorey/Nest-to-1-wire-bridge/internal/config"
	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
)

// Master is an opened bus master. Close releases it.
type Master struct {
	owbus.Bus
	name  string
	close func() error
}

func (m *Master) String() string {
	return m.name
}

// Close releases the underlying I²C bus or serial port.
func (m *Master) Close() error {
	return m.close()
}

// Open opens the bus master described by cfg.
func Open(cfg config.BridgeConfig) (*Master, error) {
	switch cfg.Type {
	case config.BridgeDS248x:
		return openDS248x(cfg)
	case config.BridgeDS9097:
		d, err := ds9097.New(cfg.SerialPort, nil)
		if err != nil {
			return nil, err
		}
		return &Master{Bus: d, name: d.String(), close: d.Close}, nil
	default:
		return nil, fmt.Errorf("bridge: unknown type %q", cfg.Type)
	}
}

func openDS248x(cfg config.BridgeConfig) (*Master, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("bridge: failed to open I²C: %w", err)
	}
	opts := ds248x.DefaultOpts
	opts.PassivePullup = cfg.PassivePullup
	d, err := ds248x.New(bus, cfg.I2CAddr, &opts)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	return &Master{
		Bus:  d,
		name: d.String(),
		close: func() error {
			_ = d.Halt()
			return bus.Close()
		},
	}, nil
}
