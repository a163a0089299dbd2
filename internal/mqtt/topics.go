// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mqtt

import "strings"

const setSuffix = "/set"

// Topics builds the bridge's own topics.
type Topics struct {
	Prefix string
}

// Status is the retained online/offline topic.
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// Report receives the JSON report of every sample.
func (t Topics) Report() string {
	return t.Prefix + "/report"
}

// Channel is the state topic of one DS2413 output under a device topic.
func Channel(device, channel string) string {
	return device + "/" + channel
}

// Set is the command topic of one DS2413 output under a device topic.
func Set(device, channel string) string {
	return Channel(device, channel) + setSuffix
}

// ParseSet splits a command topic built by Set.
func ParseSet(topic string) (device, channel string, ok bool) {
	rest, found := strings.CutSuffix(topic, setSuffix)
	if !found {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, '/')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
