// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memman

import (
	"errors"
	"fmt"
	"io"

	"github.com/cznic/mathutil"
)

// Heap composes a BuddyHeap over the largest power-of-two prefix of a
// Region with a FirstFit instance carved out of whatever is left over
// in the tail. Allocation tries the buddy side first; only when the
// buddy heap cannot satisfy a request does Heap fall back to the
// first-fit emergency heap, the same two-tier arrangement described for
// the composition layer this package implements.
type Heap struct {
	buddy     *BuddyHeap
	emergency *FirstFit // nil if the region left no usable tail
	managed   int64     // buddy.ManagedSize(), cached for Ptr routing
}

// NewHeap builds a Heap over mem. minEmergency is the minimum number of
// tail bytes to reserve for the first-fit emergency heap; the buddy
// heap is built over a power-of-two prefix of whatever remains, so the
// actual emergency heap usually ends up larger than minEmergency by
// however much the buddy side could not use (a region is rarely an
// exact power of two). Pass 0 to let the buddy heap claim as much of
// mem as fits and carve an emergency heap from its rounding leftover
// alone, or a negative bound is rejected outright.
func NewHeap(mem Region, minEmergency int64) (*Heap, error) {
	if minEmergency < 0 {
		return nil, &InvalidError{"NewHeap: minEmergency", minEmergency}
	}

	total := mem.Size()
	primaryCeil := total - minEmergency
	if primaryCeil < minBuddyBlock {
		return nil, &InvalidError{"NewHeap: minEmergency leaves no room for a primary heap", minEmergency}
	}

	buddy, err := NewBuddyHeap(newSubRegion(mem, 0, primaryCeil))
	if err != nil {
		return nil, err
	}

	managed := buddy.ManagedSize()
	h := &Heap{buddy: buddy, managed: managed}

	emergencySize := mathutil.MaxInt64(0, total-managed)
	if emergencySize > ffMinSize {
		ff, err := NewFirstFit(newSubRegion(mem, managed, emergencySize))
		if err != nil {
			return nil, err
		}
		h.emergency = ff
	}

	return h, nil
}

// Alloc tries the buddy heap first; if it cannot satisfy the request
// (out of memory or the request is simply too large for the buddy
// side's size-class range) and an emergency heap exists, Alloc retries
// there.
func (h *Heap) Alloc(n int) (Ptr, error) {
	p, err := h.buddy.Alloc(n)
	if err == nil {
		return p, nil
	}
	if h.emergency == nil {
		return NilPtr, err
	}

	var oom *OutOfMemoryError
	var invalid *InvalidError
	if !errors.As(err, &oom) && !errors.As(err, &invalid) {
		return NilPtr, err
	}

	p2, err2 := h.emergency.Alloc(n)
	if err2 != nil {
		return NilPtr, err2
	}
	return Ptr(h.managed + int64(p2)), nil
}

// Free releases p, routing to whichever sub-allocator owns it.
func (h *Heap) Free(p Ptr) error {
	if h.buddy.Contains(p) {
		return h.buddy.Free(p)
	}
	if h.emergency == nil {
		return &NotFoundError{"Heap.Free: pointer outside managed region", p}
	}
	return h.emergency.Free(Ptr(int64(p) - h.managed))
}

// Extend resizes block p to hold at least n bytes. A buddy-owned block
// that cannot grow in place and has exhausted the buddy heap migrates
// to the emergency heap instead of failing outright, provided one
// exists. A nil p behaves as Alloc(n); n == 0 behaves as Free(p), per
// spec.md's extend(p, n, rc) contract: neither case can be routed by
// Contains(p) alone (Contains(NilPtr) is false), so both are checked
// before any sub-allocator dispatch.
func (h *Heap) Extend(p Ptr, n int) (Ptr, error) {
	if p == NilPtr {
		return h.Alloc(n)
	}
	if n == 0 {
		return NilPtr, h.Free(p)
	}

	if h.buddy.Contains(p) {
		newP, err := h.buddy.Extend(p, n)
		if err == nil {
			return newP, nil
		}

		var oom *OutOfMemoryError
		if !errors.As(err, &oom) || h.emergency == nil {
			return NilPtr, err
		}

		capacity, cerr := h.buddy.Capacity(p)
		if cerr != nil {
			return NilPtr, cerr
		}
		buf := make([]byte, capacity)
		if _, rerr := h.buddy.ReadAt(p, buf); rerr != nil {
			return NilPtr, rerr
		}
		newP2, aerr := h.emergency.Alloc(n)
		if aerr != nil {
			return NilPtr, aerr
		}
		if _, werr := h.emergency.WriteAt(newP2, buf); werr != nil {
			return NilPtr, werr
		}
		if ferr := h.buddy.Free(p); ferr != nil {
			return NilPtr, ferr
		}
		return Ptr(h.managed + int64(newP2)), nil
	}

	if h.emergency == nil {
		return NilPtr, &NotFoundError{"Heap.Extend: pointer outside managed region", p}
	}
	newP, err := h.emergency.Extend(Ptr(int64(p)-h.managed), n)
	if err != nil {
		return NilPtr, err
	}
	return Ptr(h.managed + int64(newP)), nil
}

// ReadAt copies len(dst) bytes from block p's payload into dst,
// routing to whichever sub-allocator owns p.
func (h *Heap) ReadAt(p Ptr, dst []byte) (int, error) {
	if h.buddy.Contains(p) {
		return h.buddy.ReadAt(p, dst)
	}
	if h.emergency == nil {
		return 0, &NotFoundError{"Heap.ReadAt: pointer outside managed region", p}
	}
	return h.emergency.ReadAt(Ptr(int64(p)-h.managed), dst)
}

// WriteAt copies src into block p's payload, routing to whichever
// sub-allocator owns p.
func (h *Heap) WriteAt(p Ptr, src []byte) (int, error) {
	if h.buddy.Contains(p) {
		return h.buddy.WriteAt(p, src)
	}
	if h.emergency == nil {
		return 0, &NotFoundError{"Heap.WriteAt: pointer outside managed region", p}
	}
	return h.emergency.WriteAt(Ptr(int64(p)-h.managed), src)
}

// Stats reports the combined totals of the buddy heap and, if present,
// the emergency heap.
func (h *Heap) Stats() (total, used, free int64) {
	total, used, free = h.buddy.Stats()
	if h.emergency == nil {
		return total, used, free
	}
	et, eu, ef := h.emergency.Stats()
	return total + et, used + eu, free + ef
}

// PrintHeap writes a human-readable map of both sub-heaps to w.
func (h *Heap) PrintHeap(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "-- buddy heap --"); err != nil {
		return err
	}
	if err := h.buddy.PrintHeap(w); err != nil {
		return err
	}
	if h.emergency == nil {
		return nil
	}
	if _, err := fmt.Fprintln(w, "-- emergency heap --"); err != nil {
		return err
	}
	return h.emergency.PrintHeap(w)
}

// Verify checks both sub-heaps' structural consistency, reporting every
// inconsistency found to log.
func (h *Heap) Verify(log func(error) bool) error {
	if err := h.buddy.Verify(log); err != nil {
		return err
	}
	if h.emergency == nil {
		return nil
	}
	return h.emergency.Verify(log)
}
