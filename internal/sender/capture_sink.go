// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sender

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fragstream/fragsender/internal/capture"
)

// captureChannelCapacity bounds the buffered events a captureSink will
// hold before it starts dropping; sized generously above one transmit
// round's worth of fragments (at most 128 per frame) so a momentary
// encoder stall doesn't drop a whole round's events.
const captureChannelCapacity = 512

// captureSink drains Events onto an attached io.Writer on its own
// goroutine, off the hot path. record never blocks: a full channel drops
// the event and counts it, rather than letting a slow encoder or a slow
// disk stall DataLoop or AckLoop.
type captureSink struct {
	ch      chan capture.Event
	stop    chan struct{}
	wg      sync.WaitGroup
	enc     *capture.Encoder
	dropped atomic.Int64
	logger  *slog.Logger
}

func newCaptureSink(w io.Writer, logger *slog.Logger) *captureSink {
	s := &captureSink{
		ch:     make(chan capture.Event, captureChannelCapacity),
		stop:   make(chan struct{}),
		enc:    capture.NewEncoder(w),
		logger: logger.With("component", "capture"),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *captureSink) run() {
	defer s.wg.Done()
	for {
		select {
		case e := <-s.ch:
			s.encode(e)
		case <-s.stop:
			s.drain()
			return
		}
	}
}

func (s *captureSink) drain() {
	for {
		select {
		case e := <-s.ch:
			s.encode(e)
		default:
			return
		}
	}
}

func (s *captureSink) encode(e capture.Event) {
	if err := s.enc.Encode(e); err != nil {
		s.logger.Warn("failed to encode capture event", "kind", e.Kind, "error", err)
	}
}

// record enqueues e without blocking. A full buffer drops the event; the
// drop count is logged once the sink is closed.
func (s *captureSink) record(e capture.Event) {
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

// Close stops the drain goroutine after flushing whatever is already
// buffered, and reports any dropped-event count it accumulated.
func (s *captureSink) Close() error {
	close(s.stop)
	s.wg.Wait()
	if n := s.dropped.Load(); n > 0 {
		s.logger.Warn("capture sink dropped events due to a full buffer", "dropped", n)
	}
	return nil
}
