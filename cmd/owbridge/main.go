// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// owbridge samples the temperature sensors and switches of a 1-wire bus and
// forwards the readings to MQTT and InfluxDB.
//
// Outputs of DS2413 switches can be driven by publishing 0 or 1 on
// <device topic>/<channel>/set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/briandorey/Nest-to-1-wire-bridge/internal/bridge"
	"github.com/briandorey/Nest-to-1-wire-bridge/internal/config"
	"github.com/briandorey/Nest-to-1-wire-bridge/internal/influxdb"
	"github.com/briandorey/Nest-to-1-wire-bridge/internal/logging"
	"github.com/briandorey/Nest-to-1-wire-bridge/internal/mqtt"
	"github.com/briandorey/Nest-to-1-wire-bridge/internal/sampler"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "owbridge: %s.\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	path := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}

	cfg, err := config.Load(*path)
	if err != nil {
		logging.Default().Error("loading configuration", "path", *path, "error", err)
		return err
	}
	log := logging.New(cfg.Logging, version)

	m, err := bridge.Open(cfg.Bridge)
	if err != nil {
		return err
	}
	defer m.Close()
	log.Info("bus opened", "master", m.String())

	s := sampler.New(m, sampler.OptionsFromConfig(cfg), log.With("component", "sampler"))

	if cfg.MQTT.Enabled {
		c, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return err
		}
		defer c.Close()
		c.SetLogger(log.With("component", "mqtt"))
		for _, topic := range s.SetTopics() {
			if err := c.Subscribe(topic, byte(cfg.MQTT.QoS), s.HandleSet); err != nil {
				return err
			}
		}
		s.SetPublisher(c)
		log.Info("mqtt connected", "broker", cfg.MQTT.Broker.Host, "commands", c.SubscriptionCount())
	}

	if cfg.InfluxDB.Enabled {
		c, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return err
		}
		defer c.Close()
		l := log.With("component", "influxdb")
		c.SetOnError(func(err error) {
			l.Warn("write failed", "error", err)
		})
		s.SetRecorder(c)
	}

	err = s.Run(ctx)
	log.Info("stopped", "error", err)
	return err
}
