// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sender

import (
	"bytes"
	"context"

	"github.com/fragstream/fragsender/internal/capture"
	"github.com/fragstream/fragsender/internal/frame"
	"github.com/fragstream/fragsender/internal/transport"
)

// RunDataLoop owns transmit cadence for the lifetime of the sender. It
// pops the next eligible frame from the queue, installs it as current,
// and repeatedly recomputes and resends whatever fragments remain
// unacknowledged until the queue yields the next eligible frame or the
// sender is stopped. Intended to run on its own goroutine.
func (s *Sender) RunDataLoop() {
	defer s.st.dataDone.Store(true)

	for !s.st.stopping.Load() {
		next, popped := s.queue.Pop(s.st)
		if popped {
			s.advanceFrame(next)
			s.transmitRound(false)
			continue
		}
		if s.enableRetries {
			s.transmitRound(true)
		}
	}
}

// advanceFrame retires the outgoing frame's efficiency counters,
// cancels it if its callback never fired, and installs next as current.
func (s *Sender) advanceFrame(next frame.Frame) {
	prevFrame, _, prevCbCalled := s.st.snapshotCurrent()

	if prevFrame.Buffer != nil && !prevCbCalled {
		s.logger.Debug("frame preempted before acknowledgement",
			"frame_number", prevFrame.Number)
		s.callback(frame.Cancel, prevFrame)
		s.emitCapture(capture.FrameCancelEvent(prevFrame.Number))
	}

	nbPackets := ceilDiv(next.Size, s.fragmentSize)
	s.st.installFrame(next, nbPackets)
}

// transmitRound recomputes the set of fragments still owed to the peer
// and transmits each one. Both ackMu and toSendMu are held across the
// recompute step so the round observes a single consistent snapshot of
// the ack bitmap; toSendMu alone is released around each SendData call,
// since the completion callback only ever needs toSendMu. isRetransmit
// paces each send against the configured retry bandwidth budget; the
// first transmission of a newly installed frame never waits.
func (s *Sender) transmitRound(isRetransmit bool) {
	s.st.ackMu.Lock()
	defer s.st.ackMu.Unlock()

	f := s.st.currentFrame
	nbPackets := s.st.currentNbPackets
	if nbPackets == 0 {
		return
	}
	lastFragSize := f.Size - (nbPackets-1)*s.fragmentSize

	s.st.toSendMu.Lock()
	for i := 0; i < nbPackets; i++ {
		if !s.st.ackBitmap.Test(i) {
			s.st.toSendBitmap.Set(i)
		}
	}
	s.st.toSendMu.Unlock()

	flags := byte(0)
	if f.IsHighPriority {
		flags = transport.FlushFrame
	}

	for i := 0; i < nbPackets; i++ {
		s.st.toSendMu.Lock()
		pending := s.st.toSendBitmap.Test(i)
		s.st.toSendMu.Unlock()
		if !pending {
			continue
		}

		fragSize := s.fragmentSize
		if i == nbPackets-1 {
			fragSize = lastFragSize
		}
		start := i * s.fragmentSize

		hdr := transport.FragmentHeader{
			FrameNumber:       f.Number,
			Flags:             flags,
			FragmentNumber:    uint8(i),
			FragmentsPerFrame: uint8(nbPackets),
		}

		var wire bytes.Buffer
		wire.Grow(transport.HeaderSize + fragSize)
		if err := hdr.Encode(&wire); err != nil {
			s.logger.Error("encoding fragment header failed", "error", err)
			continue
		}
		wire.Write(f.Buffer[start : start+fragSize])

		if isRetransmit {
			if err := s.retry.WaitN(context.Background(), wire.Len()); err != nil {
				s.logger.Warn("retry rate limiter wait failed", "error", err)
			}
		}

		s.st.transmissionsIssued++
		if err := s.netmgr.SendData(wire.Bytes(), s.completionFor(f.Number, i)); err != nil {
			s.logger.Warn("send_data failed",
				"frame_number", f.Number, "fragment", i, "error", err)
			continue
		}
		s.emitCapture(capture.FragmentSentEvent(f.Number, i, isRetransmit))
	}
}

// ceilDiv computes the number of fixed-size fragments needed to cover
// size bytes.
func ceilDiv(size, fragmentSize int) int {
	return (size + fragmentSize - 1) / fragmentSize
}
