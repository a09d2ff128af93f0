// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package capture

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/pgzip"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening trace file: %v", err)
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		t.Fatalf("creating gzip reader: %v", err)
	}
	defer gz.Close()

	var events []Event
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshaling event: %v", err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanning trace: %v", err)
	}
	return events
}

func TestWriterRecordsFragmentAndDiagnosticsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.ndjson.gz")

	w, err := Open(path, false, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	w.FragmentSent(7, 2, false)
	w.FragmentSent(7, 3, true)
	w.Diagnostics(12.5, 40.0, 0.9, 5)

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := readEvents(t, path)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	if events[0].Kind != KindFragmentSent || events[0].FrameNumber != 7 || events[0].FragmentNumber != 2 {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if !events[1].IsRetransmit {
		t.Errorf("expected second event to be marked as a retransmit: %+v", events[1])
	}
	if events[2].Kind != KindDiagnostics || events[2].QueueLength != 5 {
		t.Errorf("unexpected diagnostics event: %+v", events[2])
	}
}

func TestWriterWithParallelCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parallel.ndjson.gz")

	w, err := Open(path, true, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w.FragmentSent(1, 0, false)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := readEvents(t, path)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
}
