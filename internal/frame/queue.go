// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package frame

import (
	"sync"
	"time"
)

// Queue is a ring buffer of pending frames with capacity Q. Pop applies
// the preemption/ack-gate eligibility rule: a high-priority (flushed)
// frame may always advance; a same-or-lower priority frame may advance
// only once the in-flight frame's completion callback has fired.
//
// All operations serialize on mu; queueCond is the single condition
// variable signalled on Enqueue and on the ack loop's FRAME_SENT delivery,
// so a data loop parked in Pop re-evaluates eligibility promptly.
type Queue struct {
	mu        sync.Mutex
	queueCond *sync.Cond

	entries []Frame
	getIdx  int
	addIdx  int
	count   int

	nextFrameNumber uint32

	callback Callback
	latency  LatencyEstimator

	minRetry     time.Duration
	maxRetry     time.Duration
	defaultRetry time.Duration

	disableAckWait bool
}

// Config bundles the constants Queue needs at construction, matching the
// constants the remote receiver must also be configured with.
type Config struct {
	Capacity        int
	MinRetry        time.Duration
	MaxRetry        time.Duration
	DefaultLatency  time.Duration
	Callback        Callback
	LatencyProvider LatencyEstimator

	// DisableAckWait, when true, disables the ack-gate eligibility rule
	// entirely: every queued frame is poppable as soon as it reaches the
	// head, in-flight or not. The zero value (false) keeps the gate.
	DisableAckWait bool
}

// New creates a Queue with the given capacity and retry-wait bounds.
func New(cfg Config) *Queue {
	q := &Queue{
		entries:        make([]Frame, cfg.Capacity),
		callback:       cfg.Callback,
		latency:        cfg.LatencyProvider,
		minRetry:       cfg.MinRetry,
		maxRetry:       cfg.MaxRetry,
		defaultRetry:   cfg.DefaultLatency,
		disableAckWait: cfg.DisableAckWait,
	}
	q.queueCond = sync.NewCond(&q.mu)
	return q
}

// Enqueue accepts a new frame unless the queue is full. ackGate reports
// whether the currently transmitting frame (if any) has already been
// completed — it counts toward the returned backlog when it has not.
//
// If flush is set, every currently queued frame is cancelled first (the
// in-flight frame is untouched; the data loop cancels it when it next
// pops). The new frame is appended after the flush, so it is the only
// entry a waiting data loop will find.
func (q *Queue) Enqueue(buf []byte, size int, flush bool, ackGate AckGate) (priorBacklog int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	backlog := q.count
	if !ackGate.CurrentCbWasCalled() {
		backlog++
	}

	if flush {
		q.flushWaitingLocked()
	}

	if q.count == len(q.entries) {
		return backlog, ErrQueueFull
	}

	q.nextFrameNumber++
	q.entries[q.addIdx] = Frame{
		Number:         q.nextFrameNumber,
		Buffer:         buf,
		Size:           size,
		IsHighPriority: flush,
	}
	q.addIdx = (q.addIdx + 1) % len(q.entries)
	q.count++
	q.queueCond.Signal()

	return backlog, nil
}

// flushWaitingLocked cancels every queued frame, in order, and empties
// the queue. Caller must hold mu.
func (q *Queue) flushWaitingLocked() {
	for q.count > 0 {
		f := q.entries[q.getIdx]
		q.getIdx = (q.getIdx + 1) % len(q.entries)
		q.count--
		if q.callback != nil {
			q.callback(Cancel, f)
		}
	}
}

// Pop removes and returns the head frame once it is eligible, blocking
// with a retry-shaped timeout otherwise. It returns false on timeout, so
// the data loop can use the wait to pace retransmission of the current
// frame's unacknowledged fragments.
func (q *Queue) Pop(ackGate AckGate) (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	bound := q.waitBoundLocked()
	var elapsed time.Duration

	for {
		if q.count > 0 {
			head := q.entries[q.getIdx]
			if head.IsHighPriority || q.disableAckWait || ackGate.CurrentCbWasCalled() {
				q.getIdx = (q.getIdx + 1) % len(q.entries)
				q.count--
				return head, true
			}
		}

		remaining := bound - elapsed
		if remaining <= 0 {
			return Frame{}, false
		}

		start := time.Now()
		q.timedWaitLocked(remaining)
		elapsed += time.Since(start)
	}
}

// Signal wakes any goroutine parked in Pop, used after a FRAME_SENT
// delivery so a gated successor can re-check eligibility immediately.
func (q *Queue) Signal() {
	q.mu.Lock()
	q.queueCond.Signal()
	q.mu.Unlock()
}

// waitBoundLocked computes clamp(estimated_latency_ms + 5, minRetry,
// maxRetry), falling back to defaultRetry when the estimator reports a
// negative (unknown) latency. Caller must hold mu.
func (q *Queue) waitBoundLocked() time.Duration {
	latencyMs := -1
	if q.latency != nil {
		latencyMs = q.latency.EstimatedLatencyMs()
	}

	var bound time.Duration
	if latencyMs < 0 {
		bound = q.defaultRetry + 5*time.Millisecond
	} else {
		bound = time.Duration(latencyMs)*time.Millisecond + 5*time.Millisecond
	}

	if bound < q.minRetry {
		bound = q.minRetry
	}
	if bound > q.maxRetry {
		bound = q.maxRetry
	}
	return bound
}

// timedWaitLocked waits on queueCond for up to d, waking early on any
// Signal/Broadcast. sync.Cond has no native deadline, so a timer broadcasts
// once d elapses; a real signal arriving first just makes the timer's
// later broadcast a harmless spurious wakeup for whoever is waiting next.
// Caller must hold mu; it is released for the duration of the wait.
func (q *Queue) timedWaitLocked(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		q.queueCond.Broadcast()
		q.mu.Unlock()
	})
	q.queueCond.Wait()
	timer.Stop()
}

// Len returns the number of currently queued (not in-flight) frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
