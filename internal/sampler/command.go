// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sampler

import (
	"errors"
	"fmt"
	"strings"

	"periph.io/x/conn/v3/gpio"

	"github.com/briandorey/Nest-to-1-wire-bridge/ds2413"
	"github.com/briandorey/Nest-to-1-wire-bridge/internal/mqtt"
	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
)

const commandQueue = 16

// Command drives one output of a switch.
type Command struct {
	Address owbus.Address
	// Channel is 0 for PIOA, 1 for PIOB.
	Channel int
	// Level is the latch written; High leaves the output off so the pin reads
	// back 1.
	Level gpio.Level
}

// Errors returned by HandleSet.
var (
	ErrUnknownTopic = errors.New("sampler: unknown command topic")
	ErrBadPayload   = errors.New("sampler: payload must be 0 or 1")
	ErrQueueFull    = errors.New("sampler: command queue full")
)

// SetTopics returns the command topics of every mapped switch.
func (s *Sampler) SetTopics() []string {
	var topics []string
	for a, topic := range s.opts.Topics {
		if ds2413.Supported(a) {
			topics = append(topics, mqtt.Set(topic, s.opts.PIOA), mqtt.Set(topic, s.opts.PIOB))
		}
	}
	return topics
}

// HandleSet queues the command received on a topic returned by SetTopics. It
// has the signature of mqtt.MessageHandler and does not touch the bus.
func (s *Sampler) HandleSet(topic string, payload []byte) error {
	cmd, err := s.parseSet(topic, payload)
	if err != nil {
		return err
	}
	select {
	case s.commands <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Sampler) parseSet(topic string, payload []byte) (Command, error) {
	device, channel, ok := mqtt.ParseSet(topic)
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	var cmd Command
	switch channel {
	case s.opts.PIOA:
		cmd.Channel = 0
	case s.opts.PIOB:
		cmd.Channel = 1
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	found := false
	for a, t := range s.opts.Topics {
		if t == device && ds2413.Supported(a) {
			cmd.Address, found = a, true
			break
		}
	}
	if !found {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	switch strings.TrimSpace(string(payload)) {
	case "0":
		cmd.Level = gpio.Low
	case "1":
		cmd.Level = gpio.High
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrBadPayload, payload)
	}
	return cmd, nil
}

// Execute applies a command on the bus. The other channel of the switch keeps
// its latch.
func (s *Sampler) Execute(cmd Command) error {
	if cmd.Channel < 0 || cmd.Channel > 1 {
		return fmt.Errorf("sampler: invalid channel %d", cmd.Channel)
	}
	return s.switches.Pins(cmd.Address)[cmd.Channel].Out(cmd.Level)
}
