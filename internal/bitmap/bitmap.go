// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package bitmap implements the 128-bit fragment acknowledgement bitmap
// shared by the sender's ack loop and data loop.
package bitmap

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFragments is the widest fragment index the bitmap can address.
const MaxFragments = 128

// Bitmap is a fixed 128-bit map over fragment indices, tagged with the
// frame number it currently applies to. The zero value is an empty bitmap
// for frame 0. There is no internal locking: callers serialize access
// under ack_mutex or to_send_mutex as the concurrency model requires.
type Bitmap struct {
	FrameNumber uint32
	lo          uint64 // bits 0..63
	hi          uint64 // bits 64..127
}

// Reset clears every bit and retags the bitmap with frameNumber.
func (b *Bitmap) Reset(frameNumber uint32) {
	b.FrameNumber = frameNumber
	b.lo = 0
	b.hi = 0
}

// Set marks fragment i as present.
func (b *Bitmap) Set(i int) {
	if i < 64 {
		b.lo |= 1 << uint(i)
		return
	}
	b.hi |= 1 << uint(i-64)
}

// Clear unmarks fragment i and reports whether the bitmap is now entirely
// empty, so callers can log "all fragments confirmed sent" without a
// separate CountSet call.
func (b *Bitmap) Clear(i int) bool {
	if i < 64 {
		b.lo &^= 1 << uint(i)
	} else {
		b.hi &^= 1 << uint(i-64)
	}
	return b.lo == 0 && b.hi == 0
}

// Test reports whether fragment i is set.
func (b *Bitmap) Test(i int) bool {
	if i < 64 {
		return b.lo&(1<<uint(i)) != 0
	}
	return b.hi&(1<<uint(i-64)) != 0
}

// SetAllFrom bitwise-ORs other into b, independent of frame number — callers
// are responsible for checking frame numbers match before merging.
func (b *Bitmap) SetAllFrom(other *Bitmap) {
	b.lo |= other.lo
	b.hi |= other.hi
}

// AllSet reports whether bit positions 0..n-1 are all set.
func (b *Bitmap) AllSet(n int) bool {
	if n <= 0 {
		return true
	}
	if n > MaxFragments {
		n = MaxFragments
	}
	loWant, hiWant := maskFor(n)
	return b.lo&loWant == loWant && b.hi&hiWant == hiWant
}

// CountSet returns the number of set bits among positions 0..n-1.
func (b *Bitmap) CountSet(n int) int {
	if n <= 0 {
		return 0
	}
	if n > MaxFragments {
		n = MaxFragments
	}
	loMask, hiMask := maskFor(n)
	return popcount64(b.lo&loMask) + popcount64(b.hi&hiMask)
}

// maskFor computes the low/high masks covering bit positions 0..n-1.
func maskFor(n int) (lo, hi uint64) {
	if n >= 64 {
		lo = ^uint64(0)
	} else if n > 0 {
		lo = (uint64(1) << uint(n)) - 1
	}
	rem := n - 64
	if rem >= 64 {
		hi = ^uint64(0)
	} else if rem > 0 {
		hi = (uint64(1) << uint(rem)) - 1
	}
	return lo, hi
}

func popcount64(v uint64) int {
	count := 0
	for v != 0 {
		v &= v - 1
		count++
	}
	return count
}

// WireSize is the encoded size of a Bitmap on the ack wire: a 16-bit
// frame number plus the two 64-bit halves, all network byte order.
const WireSize = 2 + 8 + 8

// Encode writes the wire form: frame_number:u16, high_packets_ack:u64,
// low_packets_ack:u64, per spec — the high half precedes the low half on
// the wire even though bit 0 lives in the low half.
func (b *Bitmap) Encode(w io.Writer) error {
	var buf [WireSize]byte
	binary.BigEndian.PutUint16(buf[0:2], uint16(b.FrameNumber))
	binary.BigEndian.PutUint64(buf[2:10], b.hi)
	binary.BigEndian.PutUint64(buf[10:18], b.lo)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("encoding ack bitmap: %w", err)
	}
	return nil
}

// Decode reads the wire form produced by Encode.
func Decode(r io.Reader) (Bitmap, error) {
	var buf [WireSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Bitmap{}, fmt.Errorf("decoding ack bitmap: %w", err)
	}
	return Bitmap{
		FrameNumber: uint32(binary.BigEndian.Uint16(buf[0:2])),
		hi:          binary.BigEndian.Uint64(buf[2:10]),
		lo:          binary.BigEndian.Uint64(buf[10:18]),
	}, nil
}
