// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sender

import "errors"

// Error taxonomy. Construction failures roll back every partial
// allocation; runtime anomalies are logged and the affected loop
// continues rather than panicking — only a genuine logic invariant
// violation (never a transport error) would be grounds for a panic, and
// this package never takes that path.
var (
	// ErrBadParameters covers nil buffers, zero sizes, and other
	// unusable inputs to the public API.
	ErrBadParameters = errors.New("sender: bad parameters")

	// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("sender: frame exceeds max frame size")

	// ErrQueueFull is soft backpressure — the producer keeps ownership
	// of the buffer and may retry.
	ErrQueueFull = errors.New("sender: queue full")

	// ErrBusy is returned by Delete when the data loop and ack loop have
	// not both observed the stop flag and terminated yet.
	ErrBusy = errors.New("sender: busy, loops still running")
)
