// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package bitmap

import (
	"bytes"
	"testing"
)

func TestSetClearTest(t *testing.T) {
	var b Bitmap
	b.Reset(1)

	if b.Test(3) {
		t.Fatal("expected bit 3 unset initially")
	}
	b.Set(3)
	if !b.Test(3) {
		t.Fatal("expected bit 3 set")
	}
	empty := b.Clear(3)
	if !empty {
		t.Fatal("expected bitmap empty after clearing only set bit")
	}
	if b.Test(3) {
		t.Fatal("expected bit 3 unset after clear")
	}
}

func TestSetHighHalf(t *testing.T) {
	var b Bitmap
	b.Set(127)
	if !b.Test(127) {
		t.Fatal("expected bit 127 set")
	}
	if b.Test(126) {
		t.Fatal("expected bit 126 unset")
	}
	empty := b.Clear(127)
	if !empty {
		t.Fatal("expected bitmap empty")
	}
}

func TestAllSet(t *testing.T) {
	var b Bitmap
	for i := 0; i < 3; i++ {
		b.Set(i)
	}
	if !b.AllSet(3) {
		t.Fatal("expected bits 0..2 all set")
	}
	if b.AllSet(4) {
		t.Fatal("expected bit 3 missing")
	}
}

func TestAllSetAcrossHalves(t *testing.T) {
	var b Bitmap
	for i := 0; i < 70; i++ {
		b.Set(i)
	}
	if !b.AllSet(70) {
		t.Fatal("expected bits 0..69 all set across both halves")
	}
	if b.AllSet(71) {
		t.Fatal("expected bit 70 missing")
	}
}

func TestCountSet(t *testing.T) {
	var b Bitmap
	b.Set(0)
	b.Set(5)
	b.Set(64)
	b.Set(127)
	if got := b.CountSet(128); got != 4 {
		t.Fatalf("expected 4 set bits, got %d", got)
	}
	if got := b.CountSet(64); got != 2 {
		t.Fatalf("expected 2 set bits below 64, got %d", got)
	}
}

func TestSetAllFrom(t *testing.T) {
	var a, b Bitmap
	a.Set(1)
	b.Set(2)
	a.SetAllFrom(&b)
	if !a.Test(1) || !a.Test(2) {
		t.Fatal("expected merged bitmap to have both bits set")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var b Bitmap
	b.Reset(42)
	b.Set(0)
	b.Set(63)
	b.Set(64)
	b.Set(127)

	var buf bytes.Buffer
	if err := b.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if buf.Len() != WireSize {
		t.Fatalf("expected %d encoded bytes, got %d", WireSize, buf.Len())
	}

	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.FrameNumber != 42 {
		t.Fatalf("expected frame number 42, got %d", got.FrameNumber)
	}
	for _, i := range []int{0, 63, 64, 127} {
		if !got.Test(i) {
			t.Fatalf("expected bit %d set after round trip", i)
		}
	}
	if got.Test(1) || got.Test(65) {
		t.Fatal("expected untouched bits to stay clear after round trip")
	}
}

func TestDecodeTruncated(t *testing.T) {
	buf := bytes.NewReader([]byte{0, 1, 2})
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected error decoding truncated bitmap")
	}
}
