// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sender

import (
	"sync"
	"sync/atomic"

	"github.com/fragstream/fragsender/internal/bitmap"
	"github.com/fragstream/fragsender/internal/frame"
)

// effWindow is the number of recently completed frames the efficiency
// estimate is averaged over.
const effWindow = 15

// state holds every field the data loop and ack loop share. Lock
// ordering is fixed for the lifetime of the sender: ackMu is always
// acquired before toSendMu when both are needed in the same call. Methods
// named with a "Locked" suffix assume the caller already holds whatever
// mutex they touch; all others take care of their own locking.
type state struct {
	// ackMu guards everything describing the in-flight frame: its
	// identity, its fragment count, the ack bitmap tracking which
	// fragments the peer has confirmed, and the efficiency window.
	ackMu             sync.Mutex
	currentFrame      frame.Frame
	currentNbPackets  int
	ackBitmap         bitmap.Bitmap
	effNbPackets      [effWindow]int
	effNbSent         [effWindow]int
	effIndex          int

	// currentCbWasCalled tracks whether the in-flight frame's completion
	// callback has already fired. It is an atomic rather than a field
	// under ackMu because frame.Queue.Pop reads it as an AckGate while
	// holding the queue's own mutex — taking ackMu there would invert the
	// lock order relative to the rest of the data loop. Every writer of
	// this flag (installFrame, the ack loop's merge step) already holds
	// ackMu when it writes, so the atomic adds safety for the one reader
	// that must stay lock-free without weakening anything for the
	// writers that don't need to.
	currentCbWasCalled atomic.Bool

	// toSendMu guards the scratch bitmap built each data loop pass: which
	// fragments of the current frame still need to go out.
	toSendMu     sync.Mutex
	toSendBitmap bitmap.Bitmap

	// transmissionsIssued counts sends attempted for the current frame.
	// Only the data loop goroutine touches it, so it needs no lock of
	// its own.
	transmissionsIssued int

	stopping atomic.Bool
	dataDone atomic.Bool
	ackDone  atomic.Bool
}

// installFrame retires the outgoing frame's efficiency counters, resets
// the gate for the incoming frame, and reinitializes both bitmaps
// against the new frame number.
func (s *state) installFrame(f frame.Frame, nbPackets int) {
	s.ackMu.Lock()
	s.installFrameLocked(f, nbPackets)
	s.ackMu.Unlock()
}

// installFrameLocked is installFrame's body. Caller must hold ackMu.
func (s *state) installFrameLocked(f frame.Frame, nbPackets int) {
	s.effNbPackets[s.effIndex] = s.currentNbPackets
	s.effNbSent[s.effIndex] = s.transmissionsIssued
	s.effIndex = (s.effIndex + 1) % effWindow
	s.effNbPackets[s.effIndex] = 0
	s.effNbSent[s.effIndex] = 0

	s.currentFrame = f
	s.currentNbPackets = nbPackets
	s.transmissionsIssued = 0
	s.currentCbWasCalled.Store(false)
	s.ackBitmap.Reset(f.Number)

	s.toSendMu.Lock()
	s.toSendBitmap.Reset(f.Number)
	s.toSendMu.Unlock()
}

// snapshotCurrent returns the in-flight frame's identity and whether its
// callback has already been delivered, without requiring the caller to
// understand the locking discipline for a simple read.
func (s *state) snapshotCurrent() (f frame.Frame, nbPackets int, cbCalled bool) {
	s.ackMu.Lock()
	f = s.currentFrame
	nbPackets = s.currentNbPackets
	s.ackMu.Unlock()
	return f, nbPackets, s.currentCbWasCalled.Load()
}

// CurrentCbWasCalled implements frame.AckGate.
func (s *state) CurrentCbWasCalled() bool {
	return s.currentCbWasCalled.Load()
}

// mergeAckLocked ORs a received bitmap into the ack bitmap when it
// matches the in-flight frame. The wire frame number is 16 bits while
// the core's is a 32-bit monotonic counter, so the comparison truncates
// the current frame's number rather than widening the wire value.
// Caller must hold ackMu. Returns whether the merge applied and, when it
// did, count_set(ack_bitmap) afterward, for the caller to check against
// the count_set(ack_bitmap) <= current_nb_fragments invariant.
func (s *state) mergeAckLocked(b bitmap.Bitmap) (merged bool, countSet int) {
	if b.FrameNumber != uint32(uint16(s.currentFrame.Number)) {
		return false, 0
	}
	s.ackBitmap.SetAllFrom(&b)
	return true, s.ackBitmap.CountSet(s.currentNbPackets)
}

// estimatedEfficiency returns the fraction of sent fragments that were
// actually necessary over the trailing window, clamped to [0, 1]. A
// ratio above 1 (more fragments acked than sent, impossible under
// correct bookkeeping) is returned as exactly 1 with anomalous set, so
// the caller can log the anomaly.
func (s *state) estimatedEfficiency() (ratio float64, anomalous bool) {
	s.ackMu.Lock()
	defer s.ackMu.Unlock()

	var totalPackets, totalSent int
	for i := 0; i < effWindow; i++ {
		totalPackets += s.effNbPackets[i]
		totalSent += s.effNbSent[i]
	}
	if totalSent == 0 {
		return 1, false
	}
	ratio = float64(totalPackets) / float64(totalSent)
	if ratio > 1 {
		return 1, true
	}
	return ratio, false
}
