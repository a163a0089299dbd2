// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the owbridge configuration.
//
// Values come from the built-in defaults, then the YAML file, then the
// OWBRIDGE_* environment variables, in that order. The result is validated
// before it is returned.
//
// A minimal file:
//
//	bridge:
//	  type: ds248x
//	  i2c_bus: "1"
//	mqtt:
//	  broker:
//	    host: 192.168.1.20
//	  topics:
//	    28-68-4d-c4-0b-00-00-8f: /home/bathroom/temperature
//	    3a-e1-54-63-00-00-00-13: /home/heating
package config
