// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memman

import (
	"bytes"
	"errors"
	"testing"
)

func TestNewHeapRejectsNegativeEmergency(t *testing.T) {
	mem := NewSliceRegion(make([]byte, 1024))
	if _, err := NewHeap(mem, -1); err == nil {
		t.Fatal("expected error for negative minEmergency")
	}
}

func TestHeapAllocFreeOnBuddySide(t *testing.T) {
	mem := NewSliceRegion(make([]byte, 8192))
	h, err := NewHeap(mem, 256)
	if err != nil {
		t.Fatal(err)
	}

	p, err := h.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	want := bytes.Repeat([]byte{0x42}, 64)
	if _, err := h.WriteAt(p, want); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 64)
	if _, err := h.ReadAt(p, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
	if err := h.Free(p); err != nil {
		t.Fatal(err)
	}
	mustVerify(t, h)
}

func TestHeapFallsBackToEmergencyWhenBuddyExhausted(t *testing.T) {
	mem := NewSliceRegion(make([]byte, 4096))
	// Reserve a large emergency tail relative to the total so the buddy
	// side (whatever power-of-two prefix remains) is easy to exhaust.
	h, err := NewHeap(mem, 3072)
	if err != nil {
		t.Fatal(err)
	}

	var ptrs []Ptr
	for i := 0; i < 64; i++ {
		p, err := h.Alloc(32)
		if err != nil {
			var oom *OutOfMemoryError
			if errors.As(err, &oom) {
				break
			}
			t.Fatalf("Alloc: %v", err)
		}
		ptrs = append(ptrs, p)
	}
	if len(ptrs) == 0 {
		t.Fatal("no allocation succeeded at all")
	}

	foundEmergency := false
	for _, p := range ptrs {
		if int64(p) >= h.managed {
			foundEmergency = true
		}
	}
	if !foundEmergency {
		t.Skip("buddy side had enough size-class capacity to absorb every allocation in this run")
	}

	for _, p := range ptrs {
		if err := h.Free(p); err != nil {
			t.Fatalf("Free(%d): %v", p, err)
		}
	}
	mustVerify(t, h)

	total, used, free := h.Stats()
	if used != 0 || free != total {
		t.Fatalf("after freeing everything: used=%d free=%d total=%d", used, free, total)
	}
}

func TestHeapWithoutEmergencyReportsOutOfMemory(t *testing.T) {
	mem := NewSliceRegion(make([]byte, 4096))
	h, err := NewHeap(mem, 0)
	if err != nil {
		t.Fatal(err)
	}
	if h.emergency != nil {
		t.Skip("this region's rounding leftover happened to be large enough for an emergency heap")
	}

	for i := 0; i < 1000; i++ {
		if _, err := h.Alloc(16); err != nil {
			var oom *OutOfMemoryError
			if errors.As(err, &oom) {
				return
			}
			t.Fatalf("Alloc: %v", err)
		}
	}
	t.Fatal("expected eventual *OutOfMemoryError without an emergency heap")
}

func TestHeapExtendNilActsAsAlloc(t *testing.T) {
	mem := NewSliceRegion(make([]byte, 8192))
	h, err := NewHeap(mem, 256)
	if err != nil {
		t.Fatal(err)
	}

	p, err := h.Extend(NilPtr, 100)
	if err != nil {
		t.Fatal(err)
	}
	if p == NilPtr {
		t.Fatal("Extend(NilPtr, n) returned NilPtr")
	}

	want := bytes.Repeat([]byte{0x5A}, 100)
	if _, err := h.WriteAt(p, want); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 100)
	if _, err := h.ReadAt(p, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
	mustVerify(t, h)
}

func TestHeapExtendZeroActsAsFree(t *testing.T) {
	mem := NewSliceRegion(make([]byte, 8192))
	h, err := NewHeap(mem, 256)
	if err != nil {
		t.Fatal(err)
	}

	p, err := h.Alloc(100)
	if err != nil {
		t.Fatal(err)
	}

	p2, err := h.Extend(p, 0)
	if err != nil {
		t.Fatal(err)
	}
	if p2 != NilPtr {
		t.Fatalf("Extend(p, 0) returned %d, want NilPtr", p2)
	}
	mustVerify(t, h)

	var nf *NotFoundError
	if err := h.Free(p); !errors.As(err, &nf) {
		t.Fatalf("Free after Extend(p, 0): got %v, want *NotFoundError", err)
	}
}

func TestHeapExtendPreservesContent(t *testing.T) {
	mem := NewSliceRegion(make([]byte, 8192))
	h, err := NewHeap(mem, 512)
	if err != nil {
		t.Fatal(err)
	}

	p, err := h.Alloc(32)
	if err != nil {
		t.Fatal(err)
	}
	payload := bytes.Repeat([]byte{0x99}, 32)
	if _, err := h.WriteAt(p, payload); err != nil {
		t.Fatal(err)
	}

	p2, err := h.Extend(p, 200)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 32)
	if _, err := h.ReadAt(p2, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Extend lost content: got %x, want %x", got, payload)
	}
	mustVerify(t, h)
}
