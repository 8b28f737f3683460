// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package events publishes upload lifecycle notifications.
//
// Events are queued through the taskqueue by the Emitter so a slow or
// unavailable broker never blocks an upload. The Handler delivers queued
// events to the configured publishers (Kafka, Redis pub/sub) and retries via
// the queue when a publisher fails.
package events

import (
	"time"
)

// Config holds event notification configuration.
type Config struct {
	// Enabled controls whether event emission is active.
	// When false, Emitter.Emit() is a no-op.
	Enabled bool `mapstructure:"enabled"`

	// EventTypes restricts delivery to matching event names, e.g. "upload.*".
	// Empty delivers everything.
	EventTypes []string `mapstructure:"event_types"`

	// MaxRetries bounds delivery attempts per event (default: 5).
	MaxRetries int `mapstructure:"max_retries"`

	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// RedisConfig holds Redis publisher settings.
type RedisConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Addr is the Redis server address (e.g., "localhost:6379").
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Channel is the channel prefix. Events are published to
	// "{channel}:{clientId}" (default: "uploads:events").
	Channel string `mapstructure:"channel"`

	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	Enabled bool `mapstructure:"enabled"`

	Brokers []string `mapstructure:"brokers"`

	// Topic is the Kafka topic for events (default: "upload-events").
	Topic string `mapstructure:"topic"`

	// RequiredAcks: 0=none, 1=leader, -1=all (default: 1).
	RequiredAcks int `mapstructure:"required_acks"`

	// Compression: "none", "gzip", "snappy", "lz4", "zstd" (default: "snappy").
	Compression string `mapstructure:"compression"`

	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	TLS           bool `mapstructure:"tls"`
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`

	// SASLMechanism is one of PLAIN, SCRAM-SHA-256, SCRAM-SHA-512. Empty
	// disables SASL.
	SASLMechanism string `mapstructure:"sasl_mechanism"`
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 5,
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			Channel:      "uploads:events",
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:        "upload-events",
			RequiredAcks: 1,
			Compression:  "snappy",
			BatchSize:    100,
			BatchTimeout: time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Validate applies defaults for missing or invalid values.
func (c *Config) Validate() {
	d := DefaultConfig()

	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = d.Redis.Addr
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = d.Redis.Channel
	}
	if c.Redis.PoolSize <= 0 {
		c.Redis.PoolSize = d.Redis.PoolSize
	}
	if c.Redis.DialTimeout <= 0 {
		c.Redis.DialTimeout = d.Redis.DialTimeout
	}
	if c.Redis.WriteTimeout <= 0 {
		c.Redis.WriteTimeout = d.Redis.WriteTimeout
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = d.Kafka.Topic
	}
	// 0 is a valid acks setting, so only out-of-range values are replaced.
	if c.Kafka.RequiredAcks < -1 || c.Kafka.RequiredAcks > 1 {
		c.Kafka.RequiredAcks = d.Kafka.RequiredAcks
	}
	if c.Kafka.Compression == "" {
		c.Kafka.Compression = d.Kafka.Compression
	}
	if c.Kafka.BatchSize <= 0 {
		c.Kafka.BatchSize = d.Kafka.BatchSize
	}
	if c.Kafka.BatchTimeout <= 0 {
		c.Kafka.BatchTimeout = d.Kafka.BatchTimeout
	}
	if c.Kafka.WriteTimeout <= 0 {
		c.Kafka.WriteTimeout = d.Kafka.WriteTimeout
	}
}

// HasPublishers returns true if at least one publisher is enabled.
func (c *Config) HasPublishers() bool {
	return c.Redis.Enabled || c.Kafka.Enabled
}
