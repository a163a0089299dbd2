// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package influxdb records 1-wire readings in InfluxDB 2.
//
// Writes are non-blocking and batched by the underlying client; failures are
// reported asynchronously through SetOnError.
package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/briandorey/Nest-to-1-wire-bridge/internal/config"
)

const (
	defaultConnectTimeout = 10 * time.Second

	measurementTemperature = "temperature"
	measurementSwitch      = "switch"
)

// Client wraps the InfluxDB v2 client.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu      sync.RWMutex
	closed  bool
	onError func(err error)
}

// Connect creates the client and verifies the server answers a ping.
//
// It returns ErrDisabled when cfg.Enabled is false.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{client: client, writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket)}
	go c.handleWriteErrors(c.writeAPI.Errors())
	return c, nil
}

func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// WriteTemperature records a temperature in °C for the sensor at address.
func (c *Client) WriteTemperature(address string, celsius float64, ts time.Time) {
	c.write(write.NewPoint(
		measurementTemperature,
		map[string]string{"address": address},
		map[string]interface{}{"celsius": celsius},
		ts,
	))
}

// WriteSwitch records the PIO pin states of the switch at address, as 0 or 1.
func (c *Client) WriteSwitch(address string, pioa, piob bool, ts time.Time) {
	c.write(write.NewPoint(
		measurementSwitch,
		map[string]string{"address": address},
		map[string]interface{}{"pioa": b2i(pioa), "piob": b2i(piob)},
		ts,
	))
}

func (c *Client) write(p *write.Point) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.writeAPI.WritePoint(p)
}

// Flush blocks until the buffered points are sent.
func (c *Client) Flush() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.closed {
		c.writeAPI.Flush()
	}
}

// Close flushes pending writes and closes the client. Writes after Close are
// dropped.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
