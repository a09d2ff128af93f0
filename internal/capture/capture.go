// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package capture records fragment and frame lifecycle events to
// newline-delimited JSON, for offline debugging and archival. Writer
// owns a compressed trace file end-to-end; Encoder records onto any
// caller-supplied io.Writer, which is what the sender core's live
// capture attachment point uses.
package capture

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/klauspost/pgzip"
)

// Event is one traced occurrence. Exactly one group of payload fields is
// populated, selected by Kind.
type Event struct {
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp_unix_nano"`

	FrameNumber    uint32 `json:"frame_number,omitempty"`
	FragmentNumber int    `json:"fragment_number,omitempty"`
	IsRetransmit   bool   `json:"is_retransmit,omitempty"`

	CPUPercent       float64 `json:"cpu_percent,omitempty"`
	MemoryPercent    float64 `json:"memory_percent,omitempty"`
	SenderEfficiency float64 `json:"sender_efficiency,omitempty"`
	QueueLength      int     `json:"queue_length,omitempty"`
}

const (
	KindFragmentSent = "fragment_sent"
	KindFragmentAck  = "fragment_ack"
	KindFrameSent    = "frame_sent"
	KindFrameCancel  = "frame_cancel"
	KindDiagnostics  = "diagnostics"
)

// FragmentSentEvent describes one transmitted fragment, first send or
// retransmit.
func FragmentSentEvent(frameNumber uint32, fragmentNumber int, isRetransmit bool) Event {
	return Event{
		Kind:           KindFragmentSent,
		Timestamp:      time.Now().UnixNano(),
		FrameNumber:    frameNumber,
		FragmentNumber: fragmentNumber,
		IsRetransmit:   isRetransmit,
	}
}

// FragmentAckEvent describes one incoming ack bitmap, keyed by the frame
// number it acknowledges.
func FragmentAckEvent(frameNumber uint32) Event {
	return Event{Kind: KindFragmentAck, Timestamp: time.Now().UnixNano(), FrameNumber: frameNumber}
}

// FrameSentEvent describes a frame whose every fragment was acknowledged.
func FrameSentEvent(frameNumber uint32) Event {
	return Event{Kind: KindFrameSent, Timestamp: time.Now().UnixNano(), FrameNumber: frameNumber}
}

// FrameCancelEvent describes a frame dropped before completion, by
// preemption or by the data loop abandoning it to advance.
func FrameCancelEvent(frameNumber uint32) Event {
	return Event{Kind: KindFrameCancel, Timestamp: time.Now().UnixNano(), FrameNumber: frameNumber}
}

// DiagnosticsEvent describes one periodic host/sender health snapshot.
func DiagnosticsEvent(cpuPercent, memPercent, efficiency float64, queueLen int) Event {
	return Event{
		Kind:             KindDiagnostics,
		Timestamp:        time.Now().UnixNano(),
		CPUPercent:       cpuPercent,
		MemoryPercent:    memPercent,
		SenderEfficiency: efficiency,
		QueueLength:      queueLen,
	}
}

// Encoder writes Events as newline-delimited JSON onto any io.Writer.
// Safe for concurrent use.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEncoder wraps w for event recording. w is never closed by Encoder;
// the caller owns its lifetime.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode appends one event.
func (e *Encoder) Encode(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(ev)
}

// Writer appends Events to a gzip-compressed NDJSON trace file it owns
// end-to-end. When parallel is set the gzip stream is compressed on
// multiple cores via pgzip instead of being limited to one block.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	gz   *pgzip.Writer
	enc  *Encoder

	logger *slog.Logger
}

// Open creates (or truncates) the trace file at path and returns a Writer
// ready to accept events.
func Open(path string, parallel bool, logger *slog.Logger) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("capture: opening trace file: %w", err)
	}

	gz := pgzip.NewWriter(f)
	if parallel {
		if err := gz.SetConcurrency(1<<20, 4); err != nil {
			logger.Warn("capture: falling back to single-block compression", "error", err)
		}
	}

	return &Writer{
		file:   f,
		gz:     gz,
		enc:    NewEncoder(gz),
		logger: logger.With("component", "capture"),
	}, nil
}

// Raw exposes the underlying compressed stream so a caller can attach an
// external event source (such as a sender.Sender's live capture sink)
// directly to the same file Writer owns, instead of going through
// WriteEvent. The caller is responsible for not writing through both
// Raw and WriteEvent concurrently, since neither synchronizes with the
// other.
func (w *Writer) Raw() io.Writer {
	return w.gz
}

// WriteEvent appends one event to the trace.
func (w *Writer) WriteEvent(e Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(e); err != nil {
		w.logger.Warn("capture: failed to encode event", "kind", e.Kind, "error", err)
	}
}

// FragmentSent records one transmitted fragment.
func (w *Writer) FragmentSent(frameNumber uint32, fragmentNumber int, isRetransmit bool) {
	w.WriteEvent(FragmentSentEvent(frameNumber, fragmentNumber, isRetransmit))
}

// Diagnostics records one periodic host/sender snapshot.
func (w *Writer) Diagnostics(cpuPercent, memPercent, efficiency float64, queueLen int) {
	w.WriteEvent(DiagnosticsEvent(cpuPercent, memPercent, efficiency, queueLen))
}

// Close flushes the gzip stream and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.gz.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("capture: closing gzip stream: %w", err)
	}
	return w.file.Close()
}
