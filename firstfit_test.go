// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memman

import (
	"bytes"
	"errors"
	"flag"
	"math/rand"
	"testing"
)

var ffRndN = flag.Int("ffN", 500, "FirstFit random test operation count")

func newTestFirstFit(t *testing.T, size int64) *FirstFit {
	t.Helper()
	f, err := NewFirstFit(NewSliceRegion(make([]byte, size)))
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestFirstFitAllocFreeRoundTrip(t *testing.T) {
	f := newTestFirstFit(t, 4096)

	p, err := f.Alloc(100)
	if err != nil {
		t.Fatal(err)
	}

	want := bytes.Repeat([]byte{0xCD}, 100)
	if _, err := f.WriteAt(p, want); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 100)
	if _, err := f.ReadAt(p, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}

	if err := f.Free(p); err != nil {
		t.Fatal(err)
	}
	mustVerify(t, f)

	total, used, free := f.Stats()
	if used != 0 || free != total {
		t.Fatalf("after Free: used=%d free=%d total=%d", used, free, total)
	}
}

func TestFirstFitCoalescesBothNeighbours(t *testing.T) {
	f := newTestFirstFit(t, 2048)

	p1, err := f.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := f.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	p3, err := f.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}

	// free the two outer blocks first, then the middle one: the middle
	// free must coalesce with both physical neighbours at once.
	if err := f.Free(p1); err != nil {
		t.Fatal(err)
	}
	if err := f.Free(p3); err != nil {
		t.Fatal(err)
	}
	if err := f.Free(p2); err != nil {
		t.Fatal(err)
	}

	total, used, free := f.Stats()
	if used != 0 || free != total {
		t.Fatalf("after freeing all three: used=%d free=%d total=%d, want fully coalesced heap", used, free, total)
	}
	mustVerify(t, f)
}

func TestFirstFitOutOfMemory(t *testing.T) {
	f := newTestFirstFit(t, 256)

	if _, err := f.Alloc(200); err != nil {
		t.Fatal(err)
	}

	_, err := f.Alloc(100)
	var oom *OutOfMemoryError
	if !errors.As(err, &oom) {
		t.Fatalf("Alloc while exhausted: got %v, want *OutOfMemoryError", err)
	}
}

func TestFirstFitDoubleFree(t *testing.T) {
	f := newTestFirstFit(t, 1024)

	p, err := f.Alloc(32)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Free(p); err != nil {
		t.Fatal(err)
	}

	err = f.Free(p)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("double Free: got %v, want *NotFoundError", err)
	}
}

func TestFirstFitExtendPreservesContent(t *testing.T) {
	f := newTestFirstFit(t, 4096)

	p, err := f.Alloc(50)
	if err != nil {
		t.Fatal(err)
	}
	payload := bytes.Repeat([]byte{0x11}, 50)
	if _, err := f.WriteAt(p, payload); err != nil {
		t.Fatal(err)
	}

	p2, err := f.Extend(p, 500)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 50)
	if _, err := f.ReadAt(p2, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("grown block lost its content: got %x, want %x", got, payload)
	}
	mustVerify(t, f)
}

func TestFirstFitExtendNilActsAsAlloc(t *testing.T) {
	f := newTestFirstFit(t, 4096)

	p, err := f.Extend(NilPtr, 100)
	if err != nil {
		t.Fatal(err)
	}
	if p == NilPtr {
		t.Fatal("Extend(NilPtr, n) returned NilPtr")
	}

	want := bytes.Repeat([]byte{0x5A}, 100)
	if _, err := f.WriteAt(p, want); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 100)
	if _, err := f.ReadAt(p, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
	mustVerify(t, f)
}

func TestFirstFitExtendZeroActsAsFree(t *testing.T) {
	f := newTestFirstFit(t, 4096)

	p, err := f.Alloc(100)
	if err != nil {
		t.Fatal(err)
	}

	p2, err := f.Extend(p, 0)
	if err != nil {
		t.Fatal(err)
	}
	if p2 != NilPtr {
		t.Fatalf("Extend(p, 0) returned %d, want NilPtr", p2)
	}
	mustVerify(t, f)

	total, used, free := f.Stats()
	if used != 0 || free != total {
		t.Fatalf("after Extend(p, 0): used=%d free=%d total=%d, want used=0 free=total", used, free, total)
	}

	var nf *NotFoundError
	if err := f.Free(p); !errors.As(err, &nf) {
		t.Fatalf("Free after Extend(p, 0): got %v, want *NotFoundError", err)
	}
}

// TestFirstFitRnd mirrors TestBuddyRnd for the first-fit allocator.
func TestFirstFitRnd(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	f := newTestFirstFit(t, 1<<20)

	type live struct {
		p       Ptr
		content []byte
	}
	var blocks []live

	for i := 0; i < *ffRndN; i++ {
		switch {
		case len(blocks) == 0 || rng.Intn(3) != 0:
			n := 1 + rng.Intn(2000)
			p, err := f.Alloc(n)
			if err != nil {
				var oom *OutOfMemoryError
				if errors.As(err, &oom) {
					continue
				}
				t.Fatalf("Alloc(%d): %v", n, err)
			}
			content := make([]byte, n)
			rng.Read(content)
			if _, err := f.WriteAt(p, content); err != nil {
				t.Fatalf("WriteAt: %v", err)
			}
			blocks = append(blocks, live{p, content})

		default:
			i := rng.Intn(len(blocks))
			b := blocks[i]
			if err := f.Free(b.p); err != nil {
				t.Fatalf("Free(%d): %v", b.p, err)
			}
			blocks[i] = blocks[len(blocks)-1]
			blocks = blocks[:len(blocks)-1]
		}

		if i%50 == 0 {
			mustVerify(t, f)
		}
	}

	for _, b := range blocks {
		got := make([]byte, len(b.content))
		if _, err := f.ReadAt(b.p, got); err != nil {
			t.Fatalf("final ReadAt(%d): %v", b.p, err)
		}
		if !bytes.Equal(got, b.content) {
			t.Fatalf("final content mismatch at %d", b.p)
		}
	}
	mustVerify(t, f)
}
