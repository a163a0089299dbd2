// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mqtt connects owbridge to an MQTT broker.
//
// It wraps github.com/eclipse/paho.mqtt.golang with validated publishing,
// subscriptions restored on reconnect, and a retained status topic driven by
// a Last Will so subscribers can tell when the bridge is gone.
//
// Topic layout, with the configured prefix and per-device topics:
//
//	<prefix>/status                 online/offline, retained
//	<prefix>/report                 full JSON report of each sample
//	<device topic>                  temperature in °C, two decimals
//	<device topic>/<channel>        DS2413 output state, 0 or 1
//	<device topic>/<channel>/set    command to drive a DS2413 output
package mqtt
