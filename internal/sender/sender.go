// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package sender implements the fragmented frame sender core: a bounded
// priority-aware frame queue feeding a data loop that fragments and
// transmits frames over a NetworkManager, paired with an ack loop that
// merges incoming acknowledgements and retires completed frames.
package sender

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fragstream/fragsender/internal/capture"
	"github.com/fragstream/fragsender/internal/diagnostics"
	"github.com/fragstream/fragsender/internal/frame"
	"github.com/fragstream/fragsender/internal/ratelimit"
	"github.com/fragstream/fragsender/internal/transport"
)

// Config bundles the constants that must match the remote receiver, plus
// the collaborators the core needs: a NetworkManager and a producer
// callback. Manager, Callback, FragmentSize, MaxFrameSize and
// QueueCapacity are required; Logger defaults to slog.Default().
type Config struct {
	Manager  transport.NetworkManager
	Callback frame.Callback

	FragmentSize  int
	MaxFrameSize  int
	QueueCapacity int

	MinRetry       time.Duration
	MaxRetry       time.Duration
	DefaultLatency time.Duration

	EnableRetries bool
	EnableAckWait bool

	// RetryBandwidthBps caps retransmission traffic; zero disables
	// pacing. First-time sends of a newly installed frame are never
	// paced, only fragments resent on a later round.
	RetryBandwidthBps int64

	Logger *slog.Logger
}

// Sender is one instance of the fragmented frame sender core. It owns a
// FrameQueue, the shared SenderState, and the NetworkManager handed to it
// at construction; it never constructs its own transport.
type Sender struct {
	netmgr   transport.NetworkManager
	callback frame.Callback
	queue    *frame.Queue
	st       *state
	logger   *slog.Logger
	retry    *ratelimit.Limiter

	fragmentSize  int
	maxFrameSize  int
	enableRetries bool
	enableAckWait bool

	capture atomic.Pointer[captureSink]
}

// New allocates a Sender and its internal queue and state. It validates
// Config and rolls back nothing beyond returning an error, since no
// allocation here can partially fail: every field is either a plain
// struct or a channel, neither of which leaves orphaned resources behind
// on the error paths below.
func New(cfg Config) (*Sender, error) {
	if cfg.Manager == nil || cfg.Callback == nil {
		return nil, ErrBadParameters
	}
	if cfg.FragmentSize <= 0 || cfg.MaxFrameSize <= 0 || cfg.QueueCapacity <= 0 {
		return nil, ErrBadParameters
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sender{
		netmgr:        cfg.Manager,
		callback:      cfg.Callback,
		logger:        logger,
		retry:         ratelimit.New(cfg.RetryBandwidthBps),
		fragmentSize:  cfg.FragmentSize,
		maxFrameSize:  cfg.MaxFrameSize,
		enableRetries: cfg.EnableRetries,
		enableAckWait: cfg.EnableAckWait,
		st:            &state{},
	}
	// No frame is in flight yet, so the ack gate starts open and the first
	// queued frame is poppable regardless of priority.
	s.st.currentCbWasCalled.Store(true)

	s.queue = frame.New(frame.Config{
		Capacity:        cfg.QueueCapacity,
		MinRetry:        cfg.MinRetry,
		MaxRetry:        cfg.MaxRetry,
		DefaultLatency:  cfg.DefaultLatency,
		Callback:        cfg.Callback,
		LatencyProvider: cfg.Manager,
		DisableAckWait:  !cfg.EnableAckWait,
	})

	return s, nil
}

// Stop asks both loops to terminate. Wakeups happen via each loop's own
// timeout, so Stop never blocks.
func (s *Sender) Stop() {
	s.st.stopping.Store(true)
}

// Delete reports ErrBusy unless both loops have already observed the
// stop flag and returned from RunDataLoop/RunAckLoop.
func (s *Sender) Delete() error {
	if !s.st.dataDone.Load() || !s.st.ackDone.Load() {
		return ErrBusy
	}
	return nil
}

// SendNewFrame validates and delegates to the frame queue. priorBacklog
// counts frames (including the in-flight one, if not yet acknowledged)
// that were still outstanding at the moment of this call.
func (s *Sender) SendNewFrame(buf []byte, size int, flush bool) (priorBacklog int, err error) {
	if buf == nil || size <= 0 || size > len(buf) {
		return 0, ErrBadParameters
	}
	if size > s.maxFrameSize {
		return 0, ErrFrameTooLarge
	}
	backlog, err := s.queue.Enqueue(buf, size, flush, s.st)
	if err == frame.ErrQueueFull {
		return backlog, ErrQueueFull
	}
	return backlog, err
}

// GetEstimatedEfficiency returns the fraction of transmitted fragments
// that were actually necessary, averaged over the trailing window. The
// result is always in (0, 1]; a computed ratio above 1 is clamped and
// logged as an invariant anomaly rather than returned as-is.
func (s *Sender) GetEstimatedEfficiency() float64 {
	ratio, anomalous := s.st.estimatedEfficiency()
	if anomalous {
		s.logger.Warn("estimated efficiency exceeded 1.0, clamping",
			"ratio", ratio)
	}
	return ratio
}

// QueueLen reports the number of frames currently queued (excluding any
// in-flight frame), useful for diagnostics snapshots.
func (s *Sender) QueueLen() int {
	return s.queue.Len()
}

// Capture attaches a live capture sink writing onto w. From this point on,
// DataLoop and AckLoop emit capture.Events on a
// best-effort basis: recording never blocks the hot path, and a sink that
// falls behind drops events rather than backing up a transmit round.
// Closing the returned io.Closer stops the drain goroutine and flushes
// whatever was already buffered; it does not close w. Only one sink may
// be attached at a time — a second call replaces the first without
// closing it, so callers must Close the previous sink themselves first.
func (s *Sender) Capture(w io.Writer) io.Closer {
	sink := newCaptureSink(w, s.logger)
	s.capture.Store(sink)
	return sink
}

// Diagnostics takes one synchronous snapshot combining a host resource
// reading with the sender's own efficiency and queue backlog. Unlike the
// scheduled internal/diagnostics.Monitor, this is a point-in-time call the
// caller drives directly; it is never invoked from DataLoop or AckLoop.
func (s *Sender) Diagnostics(ctx context.Context) diagnostics.Snapshot {
	snap := diagnostics.SampleHost(ctx, s.logger)
	snap.SenderEfficiency = s.GetEstimatedEfficiency()
	snap.QueueLength = s.queue.Len()
	return snap
}

// RecordDiagnostics enqueues a diagnostics snapshot onto the attached
// capture sink, if any, through the same non-blocking channel fragment
// and frame events use, so a diagnostics write can never interleave with
// them on the underlying stream.
func (s *Sender) RecordDiagnostics(snap diagnostics.Snapshot) {
	s.emitCapture(capture.DiagnosticsEvent(snap.CPUPercent, snap.MemoryPercent, snap.SenderEfficiency, snap.QueueLength))
}

// emitCapture forwards e to the attached capture sink, if any, without
// blocking. A no-op when no sink is attached.
func (s *Sender) emitCapture(e capture.Event) {
	if sink := s.capture.Load(); sink != nil {
		sink.record(e)
	}
}
