// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package transport

import (
	"bytes"
	"testing"
)

func TestFragmentHeaderRoundTrip(t *testing.T) {
	h := FragmentHeader{
		FrameNumber:       123456,
		Flags:             FlushFrame,
		FragmentNumber:    7,
		FragmentsPerFrame: 12,
	}

	var buf bytes.Buffer
	if err := h.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if buf.Len() != HeaderSize {
		t.Fatalf("expected %d bytes, got %d", HeaderSize, buf.Len())
	}

	got, err := DecodeFragmentHeader(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != h {
		t.Fatalf("expected %+v, got %+v", h, got)
	}
}

func TestDecodeFragmentHeaderTruncated(t *testing.T) {
	buf := bytes.NewReader([]byte{0, 1, 2})
	if _, err := DecodeFragmentHeader(buf); err == nil {
		t.Fatal("expected error decoding truncated header")
	}
}
