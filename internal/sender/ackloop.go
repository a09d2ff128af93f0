// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sender

import (
	"bytes"
	"net"
	"time"

	"github.com/fragstream/fragsender/internal/bitmap"
	"github.com/fragstream/fragsender/internal/capture"
	"github.com/fragstream/fragsender/internal/frame"
)

// ackReadTimeout bounds each blocking read so the ack loop reliably
// observes the stop flag even when no acks ever arrive.
const ackReadTimeout = 1 * time.Second

// RunAckLoop receives ack datagrams, merges them into the current
// frame's ack bitmap, and delivers FRAME_SENT once every fragment has
// been confirmed. Intended to run on its own goroutine.
func (s *Sender) RunAckLoop() {
	defer s.st.ackDone.Store(true)

	buf := make([]byte, bitmap.WireSize)
	for !s.st.stopping.Load() {
		n, err := s.netmgr.ReadWithTimeout(buf, ackReadTimeout)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.logger.Warn("ack read failed", "error", err)
			continue
		}
		if n == 0 {
			continue
		}
		if n != bitmap.WireSize {
			s.logger.Warn("ack packet size mismatch, discarding",
				"expected", bitmap.WireSize, "got", n)
			continue
		}

		received, err := bitmap.Decode(bytes.NewReader(buf[:n]))
		if err != nil {
			s.logger.Warn("decoding ack packet failed", "error", err)
			continue
		}

		s.emitCapture(capture.FragmentAckEvent(received.FrameNumber))
		s.applyAck(received)
	}
}

// applyAck merges received into the current frame's ack bitmap and, if
// this completes the frame, delivers FRAME_SENT and wakes the queue.
// ackMu is released before signalling the queue so ackMu is never held
// while anything acquires the queue's own mutex.
func (s *Sender) applyAck(received bitmap.Bitmap) {
	s.st.ackMu.Lock()
	merged, countSet := s.st.mergeAckLocked(received)

	var completed frame.Frame
	var deliver bool
	if merged && !s.st.currentCbWasCalled.Load() && s.st.ackBitmap.AllSet(s.st.currentNbPackets) {
		s.st.currentCbWasCalled.Store(true)
		completed = s.st.currentFrame
		deliver = true
	}
	frameNumber := s.st.currentFrame.Number
	nbPackets := s.st.currentNbPackets
	s.st.ackMu.Unlock()

	if merged && countSet > nbPackets {
		s.logger.Warn("ack bitmap count_set exceeded current_nb_fragments",
			"frame_number", frameNumber, "count_set", countSet, "current_nb_fragments", nbPackets)
	}

	if deliver {
		s.callback(frame.Sent, completed)
		s.emitCapture(capture.FrameSentEvent(completed.Number))
		s.queue.Signal()
	}
}
