// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
bridge:
  type: ds248x
  i2c_bus: "1"
  i2c_addr: 0x19
sampling:
  interval: 5
  resolution: 10
mqtt:
  broker:
    host: "192.168.1.20"
  auth:
    username: user
  topics:
    28-68-4d-c4-0b-00-00-8f: /home/bathroom/temperature
    3a-e1-54-63-00-00-00-13: /home/heating
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bridge.I2CBus != "1" || cfg.Bridge.I2CAddr != 0x19 {
		t.Errorf("Bridge = %+v", cfg.Bridge)
	}
	if cfg.GetInterval() != 5*time.Second {
		t.Errorf("GetInterval() = %v", cfg.GetInterval())
	}
	if cfg.Sampling.Resolution != 10 {
		t.Errorf("Sampling.Resolution = %d", cfg.Sampling.Resolution)
	}
	// Defaults survive a partial file.
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Channels.PIOA != "hotwater" || cfg.MQTT.Channels.PIOB != "centralheating" {
		t.Errorf("MQTT.Channels = %+v", cfg.MQTT.Channels)
	}
	if cfg.Sampling.MinValid != -10 || cfg.Sampling.MaxValid != 85 {
		t.Errorf("valid range = (%g, %g)", cfg.Sampling.MinValid, cfg.Sampling.MaxValid)
	}
	if topic := cfg.MQTT.Topics["3a-e1-54-63-00-00-00-13"]; topic != "/home/heating" {
		t.Errorf("MQTT.Topics = %v", cfg.MQTT.Topics)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bridge.Type != BridgeDS248x {
		t.Errorf("Bridge.Type = %q", cfg.Bridge.Type)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "bridge: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OWBRIDGE_BRIDGE_TYPE", "ds9097")
	t.Setenv("OWBRIDGE_SERIAL_PORT", "/dev/ttyS1")
	t.Setenv("OWBRIDGE_MQTT_HOST", "broker.lan")
	t.Setenv("OWBRIDGE_MQTT_USERNAME", "env-user")
	t.Setenv("OWBRIDGE_MQTT_PASSWORD", "env-pass")
	t.Setenv("OWBRIDGE_INFLUXDB_TOKEN", "env-token")
	t.Setenv("OWBRIDGE_LOG_LEVEL", "debug")

	path := writeConfig(t, `
mqtt:
  broker:
    host: file.lan
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bridge.Type != BridgeDS9097 || cfg.Bridge.SerialPort != "/dev/ttyS1" {
		t.Errorf("Bridge = %+v", cfg.Bridge)
	}
	if cfg.MQTT.Broker.Host != "broker.lan" {
		t.Errorf("MQTT.Broker.Host = %q, want env value", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Auth.Username != "env-user" || cfg.MQTT.Auth.Password != "env-pass" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.InfluxDB.Token != "env-token" {
		t.Errorf("InfluxDB.Token = %q", cfg.InfluxDB.Token)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			modify: func(*Config) {},
		},
		{
			name:    "unknown bridge",
			modify:  func(c *Config) { c.Bridge.Type = "ds1wm" },
			wantErr: "bridge.type",
		},
		{
			name:    "i2c address",
			modify:  func(c *Config) { c.Bridge.I2CAddr = 0x80 },
			wantErr: "bridge.i2c_addr",
		},
		{
			name: "serial port",
			modify: func(c *Config) {
				c.Bridge.Type = BridgeDS9097
				c.Bridge.SerialPort = ""
			},
			wantErr: "bridge.serial_port",
		},
		{
			name:    "interval",
			modify:  func(c *Config) { c.Sampling.Interval = 0 },
			wantErr: "sampling.interval",
		},
		{
			name:    "resolution",
			modify:  func(c *Config) { c.Sampling.Resolution = 13 },
			wantErr: "sampling.resolution",
		},
		{
			name:    "range",
			modify:  func(c *Config) { c.Sampling.MinValid = 90 },
			wantErr: "sampling.min_valid",
		},
		{
			name:    "qos",
			modify:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "port",
			modify:  func(c *Config) { c.MQTT.Broker.Port = 0 },
			wantErr: "mqtt.broker.port",
		},
		{
			name:    "channels",
			modify:  func(c *Config) { c.MQTT.Channels.PIOB = "hotwater" },
			wantErr: "distinct",
		},
		{
			name: "bad address",
			modify: func(c *Config) {
				c.MQTT.Topics["28-68-4d-c4-0b-00-00-00"] = "/home/x"
			},
			wantErr: "mqtt.topics",
		},
		{
			name: "wildcard topic",
			modify: func(c *Config) {
				c.MQTT.Topics["28-68-4d-c4-0b-00-00-8f"] = "/home/#"
			},
			wantErr: "invalid topic",
		},
		{
			name: "mqtt disabled skips its checks",
			modify: func(c *Config) {
				c.MQTT.Enabled = false
				c.MQTT.QoS = 7
			},
		},
		{
			name: "influxdb bucket",
			modify: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.Bucket = ""
			},
			wantErr: "influxdb.bucket",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Sampling.Interval = 0
	cfg.MQTT.QoS = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"sampling.interval", "mqtt.qos"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %v, missing %q", err, want)
		}
	}
}
