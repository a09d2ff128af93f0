// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config loads and validates the YAML configuration file shared
// between the sender core and the binaries that wire it up.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for a fragsender process.
type Config struct {
	Sender      SenderInfo      `yaml:"sender"`
	Network     NetworkInfo     `yaml:"network"`
	Logging     LoggingInfo     `yaml:"logging"`
	Capture     CaptureInfo     `yaml:"capture"`
	Archive     ArchiveInfo     `yaml:"archive"`
	Diagnostics DiagnosticsInfo `yaml:"diagnostics"`
}

// SenderInfo holds the constants the sender core and the remote receiver
// must agree on, plus the tuning knobs local to this process.
type SenderInfo struct {
	FragmentSize      int           `yaml:"fragment_size"`
	MaxFrameSize      int           `yaml:"max_frame_size"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	MinRetryMs        int           `yaml:"min_retry_ms"`
	MaxRetryMs        int           `yaml:"max_retry_ms"`
	DefaultLatencyMs  int           `yaml:"default_latency_ms"`
	RetryBandwidthBps int64         `yaml:"retry_bandwidth_bps"`
	EnableRetries     bool          `yaml:"enable_retries"`
	EnableAckWait     bool          `yaml:"enable_ack_wait"`

	minRetry       time.Duration
	maxRetry       time.Duration
	defaultLatency time.Duration
}

// MinRetry, MaxRetry and DefaultLatency expose the millisecond fields as
// time.Duration once validate has run.
func (s SenderInfo) MinRetry() time.Duration       { return s.minRetry }
func (s SenderInfo) MaxRetry() time.Duration       { return s.maxRetry }
func (s SenderInfo) DefaultLatency() time.Duration { return s.defaultLatency }

// NetworkInfo configures the UDP socket the core transmits over.
type NetworkInfo struct {
	LocalAddr  string `yaml:"local_addr"`
	RemoteAddr string `yaml:"remote_addr"`
	DSCP       string `yaml:"dscp"`
}

// LoggingInfo configures the structured logger.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// CaptureInfo configures the optional compressed fragment trace writer.
type CaptureInfo struct {
	Enabled  bool   `yaml:"enabled"`
	Parallel bool   `yaml:"parallel"`
	Path     string `yaml:"path"`
}

// ArchiveInfo configures upload of finished capture bundles to S3.
type ArchiveInfo struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
}

// DiagnosticsInfo configures the periodic diagnostics snapshot.
type DiagnosticsInfo struct {
	Schedule string `yaml:"schedule"`
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Sender.FragmentSize <= 0 {
		return fmt.Errorf("sender.fragment_size must be positive")
	}
	if c.Sender.MaxFrameSize <= 0 {
		return fmt.Errorf("sender.max_frame_size must be positive")
	}
	maxFragments := (c.Sender.MaxFrameSize + c.Sender.FragmentSize - 1) / c.Sender.FragmentSize
	if maxFragments > 128 {
		return fmt.Errorf("sender.max_frame_size/fragment_size implies %d fragments, exceeds the 128-bit ack bitmap capacity", maxFragments)
	}
	if c.Sender.QueueCapacity <= 0 {
		return fmt.Errorf("sender.queue_capacity must be positive")
	}

	if c.Sender.MinRetryMs <= 0 {
		c.Sender.MinRetryMs = 15
	}
	if c.Sender.MaxRetryMs <= 0 {
		c.Sender.MaxRetryMs = 50
	}
	if c.Sender.MaxRetryMs < c.Sender.MinRetryMs {
		return fmt.Errorf("sender.max_retry_ms (%d) must be >= min_retry_ms (%d)", c.Sender.MaxRetryMs, c.Sender.MinRetryMs)
	}
	if c.Sender.DefaultLatencyMs <= 0 {
		c.Sender.DefaultLatencyMs = 100
	}
	c.Sender.minRetry = time.Duration(c.Sender.MinRetryMs) * time.Millisecond
	c.Sender.maxRetry = time.Duration(c.Sender.MaxRetryMs) * time.Millisecond
	c.Sender.defaultLatency = time.Duration(c.Sender.DefaultLatencyMs) * time.Millisecond

	if c.Network.RemoteAddr == "" {
		return fmt.Errorf("network.remote_addr is required")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Capture.Enabled && c.Capture.Path == "" {
		return fmt.Errorf("capture.path is required when capture.enabled is true")
	}

	if c.Archive.Enabled {
		if !c.Capture.Enabled {
			return fmt.Errorf("archive.enabled requires capture.enabled")
		}
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archive.enabled is true")
		}
	}

	if c.Diagnostics.Schedule == "" {
		c.Diagnostics.Schedule = "@every 5m"
	}

	return nil
}
