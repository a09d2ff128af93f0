// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package frame

import (
	"sync"
	"testing"
	"time"
)

type fakeAckGate struct {
	mu     sync.Mutex
	called bool
}

func (g *fakeAckGate) CurrentCbWasCalled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.called
}

func (g *fakeAckGate) set(v bool) {
	g.mu.Lock()
	g.called = v
	g.mu.Unlock()
}

func newTestQueue(capacity int, cb Callback) *Queue {
	return New(Config{
		Capacity:       capacity,
		MinRetry:       15 * time.Millisecond,
		MaxRetry:       50 * time.Millisecond,
		DefaultLatency: 100 * time.Millisecond,
		Callback:       cb,
	})
}

func TestEnqueuePopFIFO(t *testing.T) {
	q := newTestQueue(4, nil)
	gate := &fakeAckGate{called: true}

	if _, err := q.Enqueue([]byte("a"), 1, false, gate); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if _, err := q.Enqueue([]byte("b"), 1, false, gate); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}

	f1, ok := q.Pop(gate)
	if !ok || f1.Number != 1 {
		t.Fatalf("expected frame 1 first, got %+v ok=%v", f1, ok)
	}
	f2, ok := q.Pop(gate)
	if !ok || f2.Number != 2 {
		t.Fatalf("expected frame 2 second, got %+v ok=%v", f2, ok)
	}
}

func TestQueueFullNoCallback(t *testing.T) {
	called := 0
	q := newTestQueue(2, func(status Status, f Frame) { called++ })
	gate := &fakeAckGate{called: true}

	if _, err := q.Enqueue([]byte("a"), 1, false, gate); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if _, err := q.Enqueue([]byte("b"), 1, false, gate); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}
	_, err := q.Enqueue([]byte("c"), 1, false, gate)
	if err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if called != 0 {
		t.Fatalf("expected no callback for the rejected frame, got %d calls", called)
	}
}

func TestFlushCancelsQueuedOnly(t *testing.T) {
	var cancelled []uint32
	q := newTestQueue(4, func(status Status, f Frame) {
		if status == Cancel {
			cancelled = append(cancelled, f.Number)
		}
	})
	gate := &fakeAckGate{called: false} // simulate an earlier frame still in flight

	if _, err := q.Enqueue([]byte("a"), 1, false, gate); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if _, err := q.Enqueue([]byte("b"), 1, false, gate); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}
	// Flush enqueue of C: cancels queued A,B (not yet popped), keeps C.
	if _, err := q.Enqueue([]byte("c"), 1, true, gate); err != nil {
		t.Fatalf("enqueue c (flush): %v", err)
	}

	if len(cancelled) != 2 || cancelled[0] != 1 || cancelled[1] != 2 {
		t.Fatalf("expected frames 1,2 cancelled, got %v", cancelled)
	}

	gate.set(true) // flush doesn't touch the in-flight frame's gate
	f, ok := q.Pop(gate)
	if !ok || f.Number != 3 {
		t.Fatalf("expected frame 3 (C) to remain poppable, got %+v ok=%v", f, ok)
	}
}

func TestPopGatedByAckUnlessHighPriority(t *testing.T) {
	q := newTestQueue(4, nil)
	gate := &fakeAckGate{called: false}

	if _, err := q.Enqueue([]byte("low"), 1, false, gate); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// While the gate is closed the low-priority head is withheld: Pop
	// waits out its retry bound and reports a timeout.
	if _, ok := q.Pop(gate); ok {
		t.Fatal("expected Pop to withhold the low-priority frame while gate is closed")
	}

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(gate)
		done <- ok
	}()

	gate.set(true)
	q.Signal()

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected Pop to succeed once gate opened")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected Pop to return after gate opened")
	}
}

func TestPopHighPriorityPreemptsGate(t *testing.T) {
	q := newTestQueue(4, nil)
	gate := &fakeAckGate{called: false}

	if _, err := q.Enqueue([]byte("flush"), 1, true, gate); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	f, ok := q.Pop(gate)
	if !ok || !f.IsHighPriority {
		t.Fatalf("expected high priority frame to pop immediately, got %+v ok=%v", f, ok)
	}
}

func TestPopTimesOutWithoutEligibleFrame(t *testing.T) {
	q := newTestQueue(4, nil)
	gate := &fakeAckGate{called: false}

	start := time.Now()
	_, ok := q.Pop(gate)
	elapsed := time.Since(start)

	if ok {
		t.Fatal("expected Pop to time out on an empty queue")
	}
	if elapsed < 15*time.Millisecond {
		t.Fatalf("expected Pop to honor the min retry bound, elapsed %v", elapsed)
	}
}

func TestEnqueuePriorBacklog(t *testing.T) {
	q := newTestQueue(4, nil)
	gateBusy := &fakeAckGate{called: false}
	gateFree := &fakeAckGate{called: true}

	backlog, err := q.Enqueue([]byte("a"), 1, false, gateBusy)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if backlog != 1 {
		t.Fatalf("expected backlog 1 (in-flight frame not yet acked), got %d", backlog)
	}

	backlog, err = q.Enqueue([]byte("b"), 1, false, gateFree)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if backlog != 1 {
		t.Fatalf("expected backlog 1 (one queued, in-flight already acked), got %d", backlog)
	}
}

// TestEnqueuePriorBacklogReportsPreFlushDepth verifies that a flush
// enqueue reports the backlog that was actually outstanding at call time,
// not what remains after flush_waiting has already cancelled it.
func TestEnqueuePriorBacklogReportsPreFlushDepth(t *testing.T) {
	q := newTestQueue(4, nil)
	gateBusy := &fakeAckGate{called: false}

	if _, err := q.Enqueue([]byte("a"), 1, false, gateBusy); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if _, err := q.Enqueue([]byte("b"), 1, false, gateBusy); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}

	backlog, err := q.Enqueue([]byte("c"), 1, true, gateBusy)
	if err != nil {
		t.Fatalf("enqueue c: %v", err)
	}
	if backlog != 3 {
		t.Fatalf("expected backlog 3 (two queued plus the in-flight frame, before flush cancels the queued two), got %d", backlog)
	}

	if q.Len() != 1 {
		t.Fatalf("expected only the flush-priority frame left queued, got %d", q.Len())
	}
}
