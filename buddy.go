// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memman

import (
	"fmt"
	"io"
	"sort"

	"github.com/cznic/sortutil"
)

// Ptr is a handle to a block owned by a BuddyHeap, FirstFit, or Heap: an
// offset into the allocator's own Region. It plays the role a C pointer
// into the arena would play in the original allocator, generalized so
// it works the same whether the Region is process memory or a file —
// grounded on cznic/lldb/falloc.go's int64 handle, returned from Alloc
// and consumed by Free/Extend/ReadAt/WriteAt rather than a raw []byte
// the caller could alias directly.
type Ptr int64

// NilPtr is the zero-value-free sentinel "no block" handle, returned
// alongside every error result.
const NilPtr Ptr = -1

const buddyAmin = 3 // log2(minBuddyBlock): smallest size class a buddy heap ever hands out

// BuddyHeap is a buddy-system allocator (Knuth, TAOCP Vol. 1, Sec. 2.5)
// over a Region. It manages the largest power-of-two prefix of the
// Region; any remaining tail bytes are unused by this heap (Heap uses
// exactly that tail for its FirstFit emergency heap).
//
// Every in-use block's size class is recorded in sizes, a packed
// 6-bit-per-slot table; a slot reads 0 for every block that is either
// free or not the start of a block (spec property 6). A free block's
// size class is therefore never stored in sizes — it is recovered, when
// needed, by probing which free list currently contains it (see
// buddyFreeLists.contains), grounded on buddy.c's printBlocks/bisin.
// Free blocks additionally carry their {next, prev} pseudo-pointers in
// their own first 8 bytes. None of this control state — sizes, the
// free-list heads — lives in the Region; only block payload bytes and
// free-block links do, mirroring where cznic-exp/lldb's
// falloc.Allocator keeps its own bookkeeping in-process while block
// content lives in the backing Filer.
type BuddyHeap struct {
	mem   Region
	msize int64 // power of two; the managed prefix of mem
	amax  uint  // log2(msize): largest size class

	sizes *sizeTable
	free  *buddyFreeLists

	used int64
}

// buddyReleaseHintThreshold is the minimum freed block size, in bytes,
// that triggers a ReleaseHint call: small blocks churn too often for a
// hole-punch or similar hint to be worth the syscall.
const buddyReleaseHintThreshold = 1 << 12

// NewBuddyHeap returns a BuddyHeap managing the largest power-of-two
// prefix of mem. mem.Size() must be at least minBuddyBlock bytes.
func NewBuddyHeap(mem Region) (*BuddyHeap, error) {
	size := mem.Size()
	if size < minBuddyBlock {
		return nil, &InvalidError{"NewBuddyHeap: region too small", size}
	}

	msize := int64(1) << log2Floor(uint64(size))
	amax := log2Floor(uint64(msize))

	slots := int(msize / minBuddyBlock)
	h := &BuddyHeap{
		mem:   mem,
		msize: msize,
		amax:  amax,
		sizes: newSizeTable(slots),
		free:  newBuddyFreeLists(mem, 0, amax),
	}

	// The size table starts all zero (every slot free); the single
	// initial block is recorded only on the amax free list, never in
	// sizes, per spec property 6.
	if err := h.free.push(amax, 0); err != nil {
		return nil, err
	}

	return h, nil
}

// ManagedSize reports the power-of-two prefix of the Region this heap
// actually manages; it may be smaller than the Region's own Size.
func (h *BuddyHeap) ManagedSize() int64 { return h.msize }

func (h *BuddyHeap) slotOf(off uint32) int { return int(off / minBuddyBlock) }

// scrubBlock zeroes a block's first minBuddyBlock bytes, erasing
// whatever free-list pseudo-pointers it last carried. Grounded on
// spec.md's alloc(n): "remove the head of ah[s], zero/clear its first 8
// bytes ... write s into the size table".
func (h *BuddyHeap) scrubBlock(off uint32) error {
	var zero [minBuddyBlock]byte
	_, err := h.mem.WriteAt(zero[:], int64(off))
	return err
}

// releaseHint forwards a ReleaseHint to mem for a freed block at or
// above buddyReleaseHintThreshold, if mem implements ReleaseHinter. The
// hint is advisory; a failure here does not fail the Free/Extend call
// that triggered it.
func (h *BuddyHeap) releaseHint(off uint32, s uint) {
	size := int64(1) << s
	if size < buddyReleaseHintThreshold {
		return
	}
	if rh, ok := h.mem.(ReleaseHinter); ok {
		_ = rh.ReleaseHint(int64(off), size)
	}
}

// sizeClassFor returns the size class a request for n bytes needs: the
// smallest s with buddyAmin <= s <= amax and 1<<s >= n.
func (h *BuddyHeap) sizeClassFor(n int) (uint, error) {
	if n <= 0 {
		return 0, &InvalidError{"BuddyHeap: n", n}
	}
	s := log2Ceil(uint64(n))
	if s < buddyAmin {
		s = buddyAmin
	}
	if s > h.amax {
		return 0, &InvalidError{"BuddyHeap: n exceeds heap capacity", n}
	}
	return s, nil
}

// Contains reports whether p addresses a byte inside this heap's
// managed region, used by Heap to route a Free/Extend to the right
// sub-allocator.
func (h *BuddyHeap) Contains(p Ptr) bool {
	return p >= 0 && int64(p) < h.msize
}

// Alloc reserves a block of at least n bytes and returns a handle to
// it. It returns an *OutOfMemoryError if the heap has no free block
// large enough right now, even though n itself is within capacity.
func (h *BuddyHeap) Alloc(n int) (Ptr, error) {
	s, err := h.sizeClassFor(n)
	if err != nil {
		return NilPtr, err
	}

	k := s
	for k <= h.amax && h.free.isEmpty(k) {
		k++
	}
	if k > h.amax {
		return NilPtr, &OutOfMemoryError{"BuddyHeap.Alloc", n}
	}

	off, ok, err := h.free.pop(k)
	if err != nil {
		return NilPtr, &InternalError{"BuddyHeap.Alloc: pop", err}
	}
	if !ok {
		return NilPtr, &InternalError{"BuddyHeap.Alloc: free list head inconsistent", nil}
	}

	// bsplit: repeatedly halve the block down to size class s,
	// pushing the unused half back onto its own free list each time.
	// The split-off halves stay free, so they get no size-table entry.
	for k > s {
		k--
		buddyOff := off + uint32(1)<<k
		if err := h.free.push(k, buddyOff); err != nil {
			return NilPtr, &InternalError{"BuddyHeap.Alloc: bsplit push", err}
		}
	}

	if err := h.scrubBlock(off); err != nil {
		return NilPtr, &InternalError{"BuddyHeap.Alloc: scrub", err}
	}
	h.sizes.Set(h.slotOf(off), byte(s))
	h.used += int64(1) << s

	return Ptr(off), nil
}

func (h *BuddyHeap) checkAllocated(p Ptr) (slot int, s uint, err error) {
	if p < 0 || int64(p) >= h.msize || uint32(p)%minBuddyBlock != 0 {
		return 0, 0, &NotFoundError{"BuddyHeap: pointer out of range", p}
	}
	slot = h.slotOf(uint32(p))
	s = uint(h.sizes.Get(slot))
	if s == 0 {
		return 0, 0, &NotFoundError{"BuddyHeap: not an allocated block", p}
	}
	if s < buddyAmin || s > h.amax {
		return 0, 0, &InternalError{"BuddyHeap: corrupt size table", nil}
	}
	return slot, s, nil
}

// Free releases the block p, coalescing it with its buddy as many
// times as the buddy is itself free. It returns a *NotFoundError if p
// is not a block this heap currently considers allocated.
func (h *BuddyHeap) Free(p Ptr) error {
	slot, s, err := h.checkAllocated(p)
	if err != nil {
		return err
	}

	h.sizes.Erase(slot)
	h.used -= int64(1) << s

	joinedOff, joinedS, err := h.bjoin(uint32(p), s)
	if err != nil {
		return err
	}
	h.releaseHint(joinedOff, joinedS)
	return nil
}

// bjoin merges the free block at off (size class s) with its buddy
// while the buddy is itself free of the same size class, then inserts
// the final merged block into its free list, reporting the final
// block's offset and size class. Grounded on buddy.c's bjoin: free
// blocks carry no size-table entry, so buddy membership is tested by
// free-list probe (contains) rather than by reading a recorded size.
func (h *BuddyHeap) bjoin(off uint32, s uint) (uint32, uint, error) {
	for s < h.amax {
		buddyOff := off ^ uint32(1)<<s
		in, err := h.free.contains(s, buddyOff)
		if err != nil {
			return 0, 0, &InternalError{"BuddyHeap.Free: bjoin contains", err}
		}
		if !in {
			break
		}
		if err := h.free.remove(s, buddyOff); err != nil {
			return 0, 0, &InternalError{"BuddyHeap.Free: bjoin remove", err}
		}
		if buddyOff < off {
			off = buddyOff
		}
		s++
	}

	if err := h.free.push(s, off); err != nil {
		return 0, 0, &InternalError{"BuddyHeap.Free: bjoin push", err}
	}
	return off, s, nil
}

// Extend resizes the block p to hold at least n bytes, returning its
// (possibly new) handle. A nil p behaves as Alloc(n); n == 0 behaves as
// Free(p), per spec.md's extend(p, n, rc) contract: "p == null → behave
// as alloc(n)" and "n == 0 → rc := free(p), return null". Growing tries
// first to absorb the block's successive buddies in place (bextend); if
// that is not possible it allocates a new block, copies the old
// content, and frees the old block, the same fallback a C realloc
// takes. Shrinking always happens in place (bshrink): the vacated tail
// is fully partitioned into free power-of-two blocks and the handle is
// unchanged.
func (h *BuddyHeap) Extend(p Ptr, n int) (Ptr, error) {
	if p == NilPtr {
		return h.Alloc(n)
	}
	if n == 0 {
		return NilPtr, h.Free(p)
	}

	_, curS, err := h.checkAllocated(p)
	if err != nil {
		return NilPtr, err
	}

	newS, err := h.sizeClassFor(n)
	if err != nil {
		return NilPtr, err
	}

	switch {
	case newS == curS:
		return p, nil

	case newS < curS:
		if err := h.bshrink(uint32(p), curS, newS); err != nil {
			return NilPtr, err
		}
		return p, nil

	default:
		ok, err := h.bextend(uint32(p), curS, newS)
		if err != nil {
			return NilPtr, err
		}
		if ok {
			return p, nil
		}

		newPtr, err := h.Alloc(n)
		if err != nil {
			return NilPtr, err
		}
		buf := make([]byte, int64(1)<<curS)
		if _, err := h.ReadAt(p, buf); err != nil {
			return NilPtr, &InternalError{"BuddyHeap.Extend: copy read", err}
		}
		if _, err := h.WriteAt(newPtr, buf); err != nil {
			return NilPtr, &InternalError{"BuddyHeap.Extend: copy write", err}
		}
		if err := h.Free(p); err != nil {
			return NilPtr, &InternalError{"BuddyHeap.Extend: free old block", err}
		}
		return newPtr, nil
	}
}

// bshrink partitions the vacated [off+1<<newS, off+1<<curS) tail into
// free power-of-two blocks, one per halving, each at least MINSIZE.
// This is the corrected behaviour for the analogous step in buddy.c's
// bshrink: the C source complicates the split with an extra `k >>= 2`
// adjustment that does not always fully partition the tail (see
// DESIGN.md); successive halving always does.
func (h *BuddyHeap) bshrink(off uint32, curS, newS uint) error {
	h.sizes.Erase(h.slotOf(off))
	h.sizes.Put(h.slotOf(off), byte(newS))

	s := curS
	for s > newS {
		s--
		tailOff := off + uint32(1)<<s
		if err := h.free.push(s, tailOff); err != nil {
			return &InternalError{"BuddyHeap.Extend: bshrink push", err}
		}
	}
	h.used -= int64(1)<<curS - int64(1)<<newS
	return nil
}

// bextend tries to grow the block at off from curS to newS in place by
// repeatedly absorbing its current buddy, without ever moving off.
// Grounded on buddy.c's bextend: a dry run first checks, for every
// class from curS up to newS-1, that the buddy at that class lies
// physically after off (absorbing a buddy that comes before off would
// move the block's start address, silently invalidating the caller's
// handle) and is currently free at exactly that class; only if the dry
// run clears every class does the real run remove the buddies and
// commit the size change, so a failed attempt never partially mutates
// the free lists.
func (h *BuddyHeap) bextend(off uint32, curS, newS uint) (bool, error) {
	for cs := curS; cs < newS; cs++ {
		buddyOff := off ^ uint32(1)<<cs
		if buddyOff < off {
			return false, nil
		}
		in, err := h.free.contains(cs, buddyOff)
		if err != nil {
			return false, &InternalError{"BuddyHeap.Extend: bextend dry run", err}
		}
		if !in {
			return false, nil
		}
	}

	for cs := curS; cs < newS; cs++ {
		buddyOff := off ^ uint32(1)<<cs
		if err := h.free.remove(cs, buddyOff); err != nil {
			return false, &InternalError{"BuddyHeap.Extend: bextend remove", err}
		}
	}

	h.sizes.Erase(h.slotOf(off))
	h.sizes.Put(h.slotOf(off), byte(newS))
	h.used += int64(1)<<newS - int64(1)<<curS
	return true, nil
}

// Capacity returns the usable size of the block p, which may exceed
// what was originally requested by Alloc/Extend.
func (h *BuddyHeap) Capacity(p Ptr) (int, error) {
	_, s, err := h.checkAllocated(p)
	if err != nil {
		return 0, err
	}
	return int(int64(1) << s), nil
}

// ReadAt copies len(dst) bytes from block p into dst.
func (h *BuddyHeap) ReadAt(p Ptr, dst []byte) (int, error) {
	_, s, err := h.checkAllocated(p)
	if err != nil {
		return 0, err
	}
	if int64(len(dst)) > int64(1)<<s {
		return 0, &InvalidError{"BuddyHeap.ReadAt: dst exceeds block capacity", len(dst)}
	}
	return h.mem.ReadAt(dst, int64(p))
}

// WriteAt copies src into block p, starting at its first byte.
func (h *BuddyHeap) WriteAt(p Ptr, src []byte) (int, error) {
	_, s, err := h.checkAllocated(p)
	if err != nil {
		return 0, err
	}
	if int64(len(src)) > int64(1)<<s {
		return 0, &InvalidError{"BuddyHeap.WriteAt: src exceeds block capacity", len(src)}
	}
	return h.mem.WriteAt(src, int64(p))
}

// Stats reports the heap's total managed size, bytes currently
// allocated, and bytes currently free.
func (h *BuddyHeap) Stats() (total, used, free int64) {
	return h.msize, h.used, h.msize - h.used
}

// walk invokes f for every current block, in ascending address order,
// with the block's offset, size class, and used flag. A nonzero
// size-table entry at a block's own offset means it is in use, at that
// recorded size; a zero entry means the block is free, and its size
// class is instead recovered by probing each free list in turn for
// membership, exactly as buddy.c's printBlocks/bisin do, since a free
// block's size is never recorded in the table (spec property 6).
func (h *BuddyHeap) walk(f func(off uint32, s uint, used bool) error) error {
	off := uint32(0)
	for int64(off) < h.msize {
		slot := h.slotOf(off)
		entry := uint(h.sizes.Get(slot))
		used := entry != 0
		s := entry

		if !used {
			found := false
			for cand := uint(buddyAmin); cand <= h.amax; cand++ {
				in, err := h.free.contains(cand, off)
				if err != nil {
					return err
				}
				if in {
					s = cand
					found = true
					break
				}
			}
			if !found {
				return &InternalError{fmt.Sprintf("BuddyHeap: lost block during walk at offset %d", off), nil}
			}
		}

		if s < buddyAmin || s > h.amax {
			return &InternalError{"BuddyHeap: corrupt size table", nil}
		}
		if err := f(off, s, used); err != nil {
			return err
		}
		off += uint32(1) << s
	}
	return nil
}

// PrintHeap writes a human-readable, ANSI-colored map of every current
// block to w, in the teacher's block-dump style (cznic-exp/lldb's
// Allocator.Verify walks and reports blocks in a similar fashion).
func (h *BuddyHeap) PrintHeap(w io.Writer) error {
	return h.walk(func(off uint32, s uint, used bool) error {
		tag, color := "FREE", "\x1b[32m"
		if used {
			tag, color = "USED", "\x1b[31m"
		}
		_, err := fmt.Fprintf(w, "%s[%8d,%8d) %-4s size=%d\x1b[0m\n",
			color, off, int64(off)+int64(1)<<s, tag, int64(1)<<s)
		return err
	})
}

// Verify walks the heap's actual blocks and cross-checks them against
// the free lists and the used-byte counter, reporting every
// inconsistency found to log. It stops early if log returns false.
// Grounded on cznic-exp/lldb/falloc.go's Verify(bitmap, log, stats),
// which performs the analogous structural cross-check for its
// allocator; sortutil.Int64Slice + sort.Sort gives both sides of the
// comparison (the walk's free offsets and the free lists' own offsets)
// a deterministic order, the same tool falloc_test.go reaches for when
// comparing handle sets.
func (h *BuddyHeap) Verify(log func(error) bool) error {
	walkedFree := map[uint][]int64{}
	var walkedUsed int64

	err := h.walk(func(off uint32, s uint, used bool) error {
		if used {
			walkedUsed += int64(1) << s
		} else {
			walkedFree[s] = append(walkedFree[s], int64(off))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if walkedUsed != h.used {
		if !log(&InternalError{fmt.Sprintf("BuddyHeap.Verify: used bytes: walked %d, counter %d", walkedUsed, h.used), nil}) {
			return nil
		}
	}

	for s := uint(0); s <= h.amax; s++ {
		var listed []int64
		for off := h.free.heads[s]; off != noblock; {
			listed = append(listed, int64(off))
			nxt, _, err := linkBuddy(h.mem, 0, off)
			if err != nil {
				return err
			}
			off = nxt
		}

		walked := append([]int64(nil), walkedFree[s]...)
		sort.Sort(sortutil.Int64Slice(listed))
		sort.Sort(sortutil.Int64Slice(walked))

		if !int64SliceEqual(listed, walked) {
			if !log(&InternalError{fmt.Sprintf("BuddyHeap.Verify: size class %d: free list %v, walked %v", s, listed, walked), nil}) {
				return nil
			}
		}
	}

	return nil
}

func int64SliceEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
