// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
sender:
  fragment_size: 1400
  max_frame_size: 180000
  queue_capacity: 8
  min_retry_ms: 15
  max_retry_ms: 50
  default_latency_ms: 100
  retry_bandwidth_bps: 2000000
  enable_retries: true
  enable_ack_wait: true
network:
  local_addr: ":9100"
  remote_addr: "receiver.internal:9100"
  dscp: "EF"
logging:
  level: debug
  format: json
capture:
  enabled: true
  parallel: true
  path: /var/lib/fragsender/capture
archive:
  enabled: true
  bucket: fragsender-captures
  prefix: prod/
diagnostics:
  schedule: "@every 30s"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fragsender.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoad_FullExample(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Sender.FragmentSize != 1400 {
		t.Errorf("expected fragment_size 1400, got %d", cfg.Sender.FragmentSize)
	}
	if cfg.Sender.MinRetry() != 15e6 {
		t.Errorf("expected MinRetry 15ms, got %v", cfg.Sender.MinRetry())
	}
	if cfg.Network.RemoteAddr != "receiver.internal:9100" {
		t.Errorf("expected remote_addr, got %q", cfg.Network.RemoteAddr)
	}
	if !cfg.Archive.Enabled || cfg.Archive.Bucket != "fragsender-captures" {
		t.Errorf("expected archive enabled with bucket set, got %+v", cfg.Archive)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
sender:
  fragment_size: 1000
  max_frame_size: 3000
  queue_capacity: 4
network:
  remote_addr: "127.0.0.1:9000"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sender.MinRetryMs != 15 || cfg.Sender.MaxRetryMs != 50 || cfg.Sender.DefaultLatencyMs != 100 {
		t.Errorf("expected retry defaults, got %+v", cfg.Sender)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("expected logging defaults, got %+v", cfg.Logging)
	}
	if cfg.Diagnostics.Schedule != "@every 5m" {
		t.Errorf("expected default diagnostics schedule, got %q", cfg.Diagnostics.Schedule)
	}
}

func TestLoad_RejectsFrameLargerThanBitmapCapacity(t *testing.T) {
	_, err := Load(writeConfig(t, `
sender:
  fragment_size: 10
  max_frame_size: 2000
  queue_capacity: 4
network:
  remote_addr: "127.0.0.1:9000"
`))
	if err == nil {
		t.Fatal("expected an error for a fragment count exceeding 128")
	}
}

func TestLoad_RejectsArchiveWithoutCapture(t *testing.T) {
	_, err := Load(writeConfig(t, `
sender:
  fragment_size: 1000
  max_frame_size: 3000
  queue_capacity: 4
network:
  remote_addr: "127.0.0.1:9000"
archive:
  enabled: true
  bucket: x
`))
	if err == nil {
		t.Fatal("expected an error when archive is enabled without capture")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
