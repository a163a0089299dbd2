// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/briandorey/Nest-to-1-wire-bridge/owbus"
)

// Bridge types.
const (
	BridgeDS248x = "ds248x"
	BridgeDS9097 = "ds9097"
)

// Config is the complete owbridge configuration.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	Sampling SamplingConfig `yaml:"sampling"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BridgeConfig selects the 1-wire bus master.
type BridgeConfig struct {
	// Type is ds248x (I²C bridge) or ds9097 (passive serial adapter).
	Type string `yaml:"type"`
	// I2CBus is the name passed to i2creg.Open; empty means the first bus.
	I2CBus        string `yaml:"i2c_bus"`
	I2CAddr       uint16 `yaml:"i2c_addr"`
	PassivePullup bool   `yaml:"passive_pullup"`
	SerialPort    string `yaml:"serial_port"`
}

// SamplingConfig controls the sampling loop.
type SamplingConfig struct {
	// Interval between two samples, in seconds.
	Interval           int  `yaml:"interval"`
	Resolution         int  `yaml:"resolution"`
	WaitForConversion  bool `yaml:"wait_for_conversion"`
	CheckForConversion bool `yaml:"check_for_conversion"`
	// Temperatures outside (MinValid, MaxValid) are not forwarded.
	MinValid float64 `yaml:"min_valid"`
	MaxValid float64 `yaml:"max_valid"`
	// Rescan is the number of samples between two bus enumerations; 0
	// enumerates only at startup or while no device is known.
	Rescan int `yaml:"rescan"`
}

// MQTTConfig configures the broker connection and the topic layout.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Retain    bool                `yaml:"retain"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	// TopicPrefix roots the status and report topics.
	TopicPrefix string `yaml:"topic_prefix"`
	// Topics maps a device address, as 28-68-4d-c4-0b-00-00-8f, to its topic.
	Topics   map[string]string `yaml:"topics"`
	Channels ChannelConfig     `yaml:"channels"`
}

// MQTTBrokerConfig locates the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	TLS      bool   `yaml:"tls"`
}

// MQTTAuthConfig holds the broker credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig holds the reconnection delays, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// ChannelConfig names the two outputs of a DS2413 in topics.
type ChannelConfig struct {
	PIOA string `yaml:"pioa"`
	PIOB string `yaml:"piob"`
}

// InfluxDBConfig configures the reading history sink.
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
	// BatchSize is the number of points per write.
	BatchSize int `yaml:"batch_size"`
	// FlushInterval is in seconds.
	FlushInterval int `yaml:"flush_interval"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the configuration at path on top of the defaults, applies the
// environment overrides and validates the result.
//
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Type:       BridgeDS248x,
			I2CAddr:    0x18,
			SerialPort: "/dev/ttyUSB0",
		},
		Sampling: SamplingConfig{
			Interval:           20,
			Resolution:         12,
			WaitForConversion:  true,
			CheckForConversion: true,
			MinValid:           -10,
			MaxValid:           85,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "owbridge",
			},
			QoS:    1,
			Retain: true,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "owbridge",
			Topics:      map[string]string{},
			Channels: ChannelConfig{
				PIOA: "hotwater",
				PIOB: "centralheating",
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "home",
			Bucket:        "owbridge",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OWBRIDGE_BRIDGE_TYPE"); v != "" {
		cfg.Bridge.Type = v
	}
	if v := os.Getenv("OWBRIDGE_I2C_BUS"); v != "" {
		cfg.Bridge.I2CBus = v
	}
	if v := os.Getenv("OWBRIDGE_SERIAL_PORT"); v != "" {
		cfg.Bridge.SerialPort = v
	}

	if v := os.Getenv("OWBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("OWBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("OWBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("OWBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("OWBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	switch c.Bridge.Type {
	case BridgeDS248x:
		if c.Bridge.I2CAddr < 0x08 || c.Bridge.I2CAddr > 0x77 {
			errs = append(errs, "bridge.i2c_addr must be a 7 bit address")
		}
	case BridgeDS9097:
		if c.Bridge.SerialPort == "" {
			errs = append(errs, "bridge.serial_port is required for ds9097")
		}
	default:
		errs = append(errs, fmt.Sprintf("bridge.type must be %s or %s", BridgeDS248x, BridgeDS9097))
	}

	if c.Sampling.Interval < 1 {
		errs = append(errs, "sampling.interval must be at least 1 second")
	}
	if c.Sampling.Resolution < 9 || c.Sampling.Resolution > 12 {
		errs = append(errs, "sampling.resolution must be between 9 and 12")
	}
	if c.Sampling.MinValid >= c.Sampling.MaxValid {
		errs = append(errs, "sampling.min_valid must be below sampling.max_valid")
	}
	if c.Sampling.Rescan < 0 {
		errs = append(errs, "sampling.rescan cannot be negative")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Channels.PIOA == "" || c.MQTT.Channels.PIOB == "" {
			errs = append(errs, "mqtt.channels.pioa and mqtt.channels.piob are required")
		} else if c.MQTT.Channels.PIOA == c.MQTT.Channels.PIOB {
			errs = append(errs, "mqtt.channels must be distinct")
		}
		for addr, topic := range c.MQTT.Topics {
			if _, err := owbus.ParseAddress(addr); err != nil {
				errs = append(errs, fmt.Sprintf("mqtt.topics: %q: %v", addr, err))
			}
			if topic == "" || strings.ContainsAny(topic, "+#") {
				errs = append(errs, fmt.Sprintf("mqtt.topics: %q: invalid topic %q", addr, topic))
			}
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetInterval returns the sampling interval as a time.Duration.
func (c *Config) GetInterval() time.Duration {
	return time.Duration(c.Sampling.Interval) * time.Second
}
