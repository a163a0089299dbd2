// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bridge is a container for the 1-wire drivers of the Nest to 1-wire
// bridge and the programs using them.
//
// Drivers:
//
//	owbus      bus access interface, addresses and CRC-8
//	ds248x     DS2482-100, DS2482-800 and DS2483 I²C to 1-wire bridges
//	ds9097     passive serial 1-wire adapters
//	ds18b20    DS18B20, DS18S20, DS1822, DS1825 and DS28EA00 thermometers
//	ds2413     DS2413 dual channel addressable switches
//	tempstrip  console rendering of temperatures
//
// Programs:
//
//	cmd/owbridge  samples the bus and forwards readings to MQTT and InfluxDB
//	cmd/owscan    lists the devices of a bus
package bridge
