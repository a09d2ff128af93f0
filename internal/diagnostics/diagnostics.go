// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package diagnostics periodically samples host resource usage and
// sender-core health, logging both as one structured snapshot on a
// cron schedule.
package diagnostics

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SenderStats is the subset of sender.Sender a diagnostics snapshot
// reports on; kept narrow so this package never imports the sender core.
type SenderStats interface {
	GetEstimatedEfficiency() float64
	QueueLen() int
}

// Snapshot is one point-in-time reading of host and sender health.
type Snapshot struct {
	Timestamp        time.Time `json:"timestamp"`
	CPUPercent       float64   `json:"cpu_percent"`
	MemoryPercent    float64   `json:"memory_percent"`
	LoadAverage1m    float64   `json:"load_average_1m"`
	SenderEfficiency float64   `json:"sender_efficiency"`
	QueueLength      int       `json:"queue_length"`
}

// Monitor runs periodic diagnostics snapshots on a cron schedule,
// logging each one through the provided logger.
type Monitor struct {
	cron   *cron.Cron
	logger *slog.Logger
	sender SenderStats
	sink   func(Snapshot)
}

// New creates a Monitor that snapshots sender every time schedule fires.
// sink, if non-nil, additionally receives each snapshot (used to feed
// capture traces); schedule is a robfig/cron expression such as
// "@every 5m".
func New(schedule string, sender SenderStats, logger *slog.Logger, sink func(Snapshot)) (*Monitor, error) {
	m := &Monitor{
		logger: logger.With("component", "diagnostics"),
		sender: sender,
		sink:   sink,
		cron:   cron.New(),
	}

	if _, err := m.cron.AddFunc(schedule, m.collect); err != nil {
		return nil, err
	}
	return m, nil
}

// Start begins periodic collection.
func (m *Monitor) Start() {
	m.logger.Info("diagnostics monitor started")
	m.cron.Start()
}

// Stop stops the scheduler and waits for any in-flight collection,
// bounded by ctx.
func (m *Monitor) Stop(ctx context.Context) {
	stopCtx := m.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		m.logger.Warn("diagnostics monitor stop timed out")
	}
}

// SampleHost takes one host resource reading: CPU percent, memory used
// percent and 1-minute load average. ctx is accepted for symmetry with
// other sampling entry points; gopsutil's one-shot calls used here don't
// themselves respect cancellation. SenderEfficiency and QueueLength are left zero;
// callers that have a SenderStats at hand fill those in afterward.
func SampleHost(ctx context.Context, logger *slog.Logger) Snapshot {
	snap := Snapshot{Timestamp: time.Now()}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		snap.CPUPercent = percentages[0]
	} else {
		logger.Debug("collecting cpu stats failed", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = v.UsedPercent
	} else {
		logger.Debug("collecting memory stats failed", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		snap.LoadAverage1m = l.Load1
	} else {
		logger.Debug("collecting load average failed", "error", err)
	}

	return snap
}

func (m *Monitor) collect() {
	snap := SampleHost(context.Background(), m.logger)

	if m.sender != nil {
		snap.SenderEfficiency = m.sender.GetEstimatedEfficiency()
		snap.QueueLength = m.sender.QueueLen()
	}

	m.logger.Info("diagnostics snapshot",
		"cpu_percent", snap.CPUPercent,
		"memory_percent", snap.MemoryPercent,
		"load_average_1m", snap.LoadAverage1m,
		"sender_efficiency", snap.SenderEfficiency,
		"queue_length", snap.QueueLength,
	)

	if m.sink != nil {
		m.sink(snap)
	}
}
