// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package ratelimit paces retransmission bandwidth so a burst of
// unacknowledged fragments cannot saturate the outbound link and starve
// first-time sends of other frames sharing the same transport.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// maxBurstBytes caps how many bytes a single Wait call can reserve at
// once, so one oversized frame can't claim the limiter's entire budget
// in one reservation.
const maxBurstBytes = 256 * 1024

// Limiter is a token-bucket byte budget for retransmitted fragments.
type Limiter struct {
	limiter *rate.Limiter
	burst   int
}

// New creates a Limiter allowing up to bytesPerSec bytes/second of
// retransmission traffic. A non-positive bytesPerSec disables limiting
// and every WaitN call returns immediately.
func New(bytesPerSec int64) *Limiter {
	if bytesPerSec <= 0 {
		return &Limiter{}
	}
	burst := int(bytesPerSec)
	if burst > maxBurstBytes {
		burst = maxBurstBytes
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		burst:   burst,
	}
}

// WaitN blocks until n bytes of budget are available, splitting n across
// multiple reservations if it exceeds the configured burst. A disabled
// Limiter (zero bytesPerSec) returns immediately.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if l.limiter == nil {
		return nil
	}
	for n > 0 {
		chunk := n
		if chunk > l.burst {
			chunk = l.burst
		}
		if err := l.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
