// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// owscan lists the devices of a 1-wire bus with their current reading, then
// draws the temperatures as a colored strip.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"periph.io/x/conn/v3/physic"

	"github.com/briandorey/Nest-to-1-wire-bridge/ds18b20"
	"github.com/briandorey/Nest-to-1-wire-bridge/ds2413"
	"github.com/briandorey/Nest-to-1-wire-bridge/internal/bridge"
	"github.com/briandorey/Nest-to-1-wire-bridge/internal/config"
	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
	"github.com/briandorey/Nest-to-1-wire-bridge/tempstrip"
)

func mainImpl() error {
	cfg := config.Default().Bridge
	flag.StringVar(&cfg.Type, "type", cfg.Type, "bus master: ds248x or ds9097")
	flag.StringVar(&cfg.I2CBus, "i2c", cfg.I2CBus, "I²C bus to use")
	addr := flag.Uint("addr", uint(cfg.I2CAddr), "I²C address of the DS248x")
	flag.BoolVar(&cfg.PassivePullup, "passive", false, "disable the DS248x active pull-up")
	flag.StringVar(&cfg.SerialPort, "port", cfg.SerialPort, "serial port of the DS9097")
	strip := flag.Bool("strip", true, "draw the temperatures as colors")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}
	cfg.I2CAddr = uint16(*addr)

	m, err := bridge.Open(cfg)
	if err != nil {
		return err
	}
	defer m.Close()
	fmt.Printf("%s\n", m)

	var d *tempstrip.Dev
	if *strip {
		d = tempstrip.New(nil)
		defer d.Halt()
	}
	return scan(m, os.Stdout, d)
}

// scan prints one line per device found and shows the sensors on d, if not
// nil.
func scan(bus owbus.Bus, w io.Writer, d *tempstrip.Dev) error {
	temps := ds18b20.New(bus, nil)
	switches := ds2413.New(bus)
	var values []physic.Temperature
	var ok []bool

	bus.ResetSearch()
	n := 0
	for {
		a, found, err := bus.SearchNext()
		if err != nil {
			return err
		}
		if !found {
			break
		}
		n++
		if !a.Valid() {
			fmt.Fprintf(w, "%s  invalid CRC\n", a)
			continue
		}
		switch {
		case ds18b20.Supported(a):
			var e physic.Env
			err := temps.Sensor(a).Sense(&e)
			values = append(values, e.Temperature)
			ok = append(ok, err == nil)
			if err != nil {
				fmt.Fprintf(w, "%s  %-8s  %v\n", a, ds18b20.Family(a.Family()), err)
				continue
			}
			fmt.Fprintf(w, "%s  %-8s  %s  %d bits\n", a, ds18b20.Family(a.Family()), e.Temperature, temps.DeviceResolution(a))
		case ds2413.Supported(a):
			s, err := switches.PIOState(a)
			if err == nil && !s.Valid() {
				err = errors.New("invalid PIO status")
			}
			if err != nil {
				fmt.Fprintf(w, "%s  %-8s  %v\n", a, "DS2413", err)
				continue
			}
			fmt.Fprintf(w, "%s  %-8s  PIOA=%s PIOB=%s\n", a, "DS2413", level(s.PIOA()), level(s.PIOB()))
		default:
			fmt.Fprintf(w, "%s  family 0x%02x\n", a, a.Family())
		}
	}
	fmt.Fprintf(w, "%d device(s)\n", n)
	if d == nil || len(values) == 0 {
		return nil
	}
	return d.Show(values, ok)
}

func level(b bool) string {
	if b {
		return "High"
	}
	return "Low"
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "owscan: %s.\n", err)
		os.Exit(1)
	}
}
