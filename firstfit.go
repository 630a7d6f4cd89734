// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memman

import (
	"fmt"
	"io"
)

// First-fit block layout, grounded on original_source/ffit.c:
//
//	+----+----+----+-------------+-+
//	|    |    |    | ...         | |
//	+----+----+----+-------------+-+
//	^    ^    ^    ^             ^
//	|    |    |    |             |_ trailer tag byte
//	|    |    |    |_ payload
//	|    |    |_ previous pointer (4 bytes, free blocks only)
//	|    |_ next pointer (4 bytes, free blocks only); user memory starts here
//	|_ size<<1|tag (4 bytes)
//
// A block's header packs its size and a used/free tag into one 31-bit
// size plus a 1-bit tag; the last byte of the block duplicates the tag
// so a neighbour can be inspected without first knowing where it
// starts. A Ptr into a FirstFit heap is the block's payload address
// (block offset + 4), so it can be handed straight to ReadAt/WriteAt.
const (
	ffHeaderSize = 4
	ffOverhead   = 5  // header + trailer tag byte
	ffMinSize    = 32 // MINSIZE
)

// FirstFit is a first-fit dynamic allocator (Knuth, TAOCP Vol. 1, Sec.
// 2.5) over a Region: a single doubly linked list of free blocks kept
// in non-decreasing size order, so the first block found big enough is
// also the smallest sufficient one. Free blocks carry {next, prev} in
// their own first 8 bytes; used blocks reuse that space for payload.
type FirstFit struct {
	mem  Region
	size int64

	first uint32 // head of the free list, or noblock
	last  uint32 // tail of the free list, or noblock

	used int64
}

// NewFirstFit returns a FirstFit managing all of mem as a single free
// block. mem.Size() must exceed MINSIZE.
func NewFirstFit(mem Region) (*FirstFit, error) {
	size := mem.Size()
	if size <= ffMinSize {
		return nil, &InvalidError{"NewFirstFit: region too small", size}
	}
	if size > int64(noblock) {
		return nil, &InvalidError{"NewFirstFit: region too large for a 32-bit pseudo-pointer", size}
	}

	f := &FirstFit{mem: mem, size: size, first: noblock, last: noblock}

	if err := f.writeSze(0, setSize(uint32(size))); err != nil {
		return nil, err
	}
	if err := f.writeLink(0, noblock, noblock); err != nil {
		return nil, err
	}
	if err := f.untag(0); err != nil {
		return nil, err
	}
	f.first, f.last = 0, 0

	return f, nil
}

func setSize(s uint32) uint32     { return s << 1 }
func getSize(v uint32) uint32     { return v >> 1 }
func getTag(v uint32) bool        { return v&1 == 1 }
func tagged(b byte) bool          { return b&1 == 1 } // bitwise AND; ffit.c's tagged() used `&&` by mistake
func withTag(v uint32) uint32     { return v | 1 }
func withoutTag(v uint32) uint32  { return v &^ 1 }

func (f *FirstFit) readSze(off uint32) (uint32, error) {
	var b [4]byte
	if _, err := f.mem.ReadAt(b[:], int64(off)); err != nil {
		return 0, err
	}
	return getU32(b[:]), nil
}

func (f *FirstFit) writeSze(off uint32, v uint32) error {
	var b [4]byte
	putU32(b[:], v)
	_, err := f.mem.WriteAt(b[:], int64(off))
	return err
}

func (f *FirstFit) readLink(off uint32) (nxt, prv uint32, err error) {
	var b [8]byte
	if _, err = f.mem.ReadAt(b[:], int64(off)+4); err != nil {
		return 0, 0, err
	}
	return getU32(b[0:4]), getU32(b[4:8]), nil
}

func (f *FirstFit) writeLink(off uint32, nxt, prv uint32) error {
	var b [8]byte
	putU32(b[0:4], nxt)
	putU32(b[4:8], prv)
	_, err := f.mem.WriteAt(b[:], int64(off)+4)
	return err
}

func (f *FirstFit) readTagByte(off uint32) (byte, error) {
	var b [1]byte
	if _, err := f.mem.ReadAt(b[:], int64(off)); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (f *FirstFit) writeTagByte(off uint32, v byte) error {
	b := [1]byte{v}
	_, err := f.mem.WriteAt(b[:], int64(off))
	return err
}

// tag marks the block at off used, in both its header and trailer.
func (f *FirstFit) tag(off uint32) error {
	header, err := f.readSze(off)
	if err != nil {
		return err
	}
	s := getSize(header)
	if err := f.writeSze(off, withTag(header)); err != nil {
		return err
	}
	return f.writeTagByte(off+s-1, 1)
}

// untag marks the block at off free, in both its header and trailer.
func (f *FirstFit) untag(off uint32) error {
	header, err := f.readSze(off)
	if err != nil {
		return err
	}
	s := getSize(header)
	if err := f.writeSze(off, withoutTag(header)); err != nil {
		return err
	}
	return f.writeTagByte(off+s-1, 0)
}

func (f *FirstFit) setNxt(off, nxt uint32) error {
	_, prv, err := f.readLink(off)
	if err != nil {
		return err
	}
	return f.writeLink(off, nxt, prv)
}

func (f *FirstFit) setPrv(off, prv uint32) error {
	nxt, _, err := f.readLink(off)
	if err != nil {
		return err
	}
	return f.writeLink(off, nxt, prv)
}

// bremove unlinks off from the free list. Grounded on ffit.c's bremove.
func (f *FirstFit) bremove(off uint32) error {
	nxt, prv, err := f.readLink(off)
	if err != nil {
		return err
	}

	if prv != noblock {
		if err := f.setNxt(prv, nxt); err != nil {
			return err
		}
	} else {
		f.first = nxt
	}

	if nxt != noblock {
		if err := f.setPrv(nxt, prv); err != nil {
			return err
		}
	} else {
		f.last = prv
	}

	return nil
}

// binsert inserts q immediately before p in the free list. Grounded on
// ffit.c's binsert.
func (f *FirstFit) binsert(p, q uint32) error {
	_, pPrv, err := f.readLink(p)
	if err != nil {
		return err
	}

	if pPrv != noblock {
		if err := f.setNxt(pPrv, q); err != nil {
			return err
		}
	} else {
		f.first = q
	}

	if err := f.writeLink(q, p, pPrv); err != nil {
		return err
	}
	return f.setPrv(p, q)
}

// bfind linearly scans the free list for the block that physically ends
// exactly where end begins, i.e. the block immediately preceding end in
// memory. Grounded on ffit.c's bfind: with only a 1-byte trailer tag to
// go on, the preceding block's start address cannot be recovered
// without a scan.
func (f *FirstFit) bfind(end uint32) (uint32, bool, error) {
	a := f.first
	for a != noblock {
		header, err := f.readSze(a)
		if err != nil {
			return 0, false, err
		}
		if a+getSize(header) == end {
			return a, true, nil
		}
		nxt, _, err := f.readLink(a)
		if err != nil {
			return 0, false, err
		}
		a = nxt
	}
	return 0, false, nil
}

// binssort inserts off into the free list keeping non-decreasing size
// order. Grounded on ffit.c's binssort.
func (f *FirstFit) binssort(off uint32) error {
	if f.first == noblock {
		f.first, f.last = off, off
		return f.writeLink(off, noblock, noblock)
	}

	header, err := f.readSze(off)
	if err != nil {
		return err
	}
	s := getSize(header)

	p := f.first
	for {
		pHeader, err := f.readSze(p)
		if err != nil {
			return err
		}
		if getSize(pHeader) >= s {
			return f.binsert(p, off)
		}

		nxt, _, err := f.readLink(p)
		if err != nil {
			return err
		}
		if nxt == noblock {
			if err := f.setNxt(p, off); err != nil {
				return err
			}
			if err := f.writeLink(off, noblock, p); err != nil {
				return err
			}
			f.last = off
			return nil
		}
		p = nxt
	}
}

// getblock finds the first (by ascending-size scan order, so also the
// smallest) free block of at least sz bytes, splitting off the
// remainder only when it is larger than MINSIZE bytes; a remainder of
// MINSIZE or less stays part of the allocated block. Grounded on
// ffit.c's getblock.
func (f *FirstFit) getblock(sz uint32) (uint32, bool, error) {
	p := f.first
	for p != noblock {
		header, err := f.readSze(p)
		if err != nil {
			return 0, false, err
		}
		s := getSize(header)
		if s < sz {
			nxt, _, err := f.readLink(p)
			if err != nil {
				return 0, false, err
			}
			p = nxt
			continue
		}

		if s > sz+ffMinSize {
			q := p + sz
			if err := f.writeSze(q, setSize(s-sz)); err != nil {
				return 0, false, err
			}
			if err := f.writeSze(p, setSize(sz)); err != nil {
				return 0, false, err
			}
			if err := f.bremove(p); err != nil {
				return 0, false, err
			}
			if err := f.binssort(q); err != nil {
				return 0, false, err
			}
		} else {
			if err := f.bremove(p); err != nil {
				return 0, false, err
			}
		}

		if err := f.tag(p); err != nil {
			return 0, false, err
		}
		return p, true, nil
	}
	return 0, false, nil
}

// freeblock returns block add to the free list, merging with its
// physical neighbours where they are free. It reports the size of the
// block that was actually freed (before any merge, for used-byte
// accounting) along with the final merged block's offset and total
// size (for a caller-side ReleaseHint, which should cover the whole
// extent coalescing produced, not just the originally freed block).
// Grounded on ffit.c's freeblock.
func (f *FirstFit) freeblock(add uint32) (freed uint32, finalOff uint32, finalSize uint32, err error) {
	header, err := f.readSze(add)
	if err != nil {
		return 0, 0, 0, err
	}
	if !getTag(header) {
		return 0, 0, 0, &NotFoundError{"FirstFit.Free: not an allocated block", add}
	}
	s := getSize(header)
	b := add
	total := s

	if add > 0 {
		prevByte, err := f.readTagByte(add - 1)
		if err != nil {
			return 0, 0, 0, err
		}
		if !tagged(prevByte) {
			pOff, found, err := f.bfind(add)
			if err != nil {
				return 0, 0, 0, err
			}
			if !found {
				return 0, 0, 0, &InternalError{"FirstFit.Free: no free block ends where this one begins", nil}
			}
			pHeader, err := f.readSze(pOff)
			if err != nil {
				return 0, 0, 0, err
			}
			total = getSize(pHeader) + s
			if err := f.writeSze(pOff, setSize(total)); err != nil {
				return 0, 0, 0, err
			}
			if err := f.bremove(pOff); err != nil {
				return 0, 0, 0, err
			}
			b = pOff
		}
	}

	if int64(add)+int64(s) < f.size {
		q := add + s
		qHeader, err := f.readSze(q)
		if err != nil {
			return 0, 0, 0, err
		}
		if !getTag(qHeader) {
			ns := getSize(qHeader)
			bHeader, err := f.readSze(b)
			if err != nil {
				return 0, 0, 0, err
			}
			total = getSize(bHeader) + ns
			if err := f.writeSze(b, setSize(total)); err != nil {
				return 0, 0, 0, err
			}
			if err := f.bremove(q); err != nil {
				return 0, 0, 0, err
			}
		}
	}

	if err := f.untag(b); err != nil {
		return 0, 0, 0, err
	}
	if err := f.binssort(b); err != nil {
		return 0, 0, 0, err
	}
	return s, b, total, nil
}

func (f *FirstFit) requestSize(n int) (uint32, error) {
	if n <= 0 {
		return 0, &InvalidError{"FirstFit: n", n}
	}
	s := uint32(n) + ffOverhead
	if s < ffMinSize {
		s = ffMinSize
	}
	if int64(s) >= f.size {
		return 0, &InvalidError{"FirstFit: n exceeds heap capacity", n}
	}
	return s, nil
}

// Alloc reserves a block of at least n bytes and returns a handle to
// its payload.
func (f *FirstFit) Alloc(n int) (Ptr, error) {
	s, err := f.requestSize(n)
	if err != nil {
		return NilPtr, err
	}

	off, ok, err := f.getblock(s)
	if err != nil {
		return NilPtr, err
	}
	if !ok {
		return NilPtr, &OutOfMemoryError{"FirstFit.Alloc", n}
	}

	header, err := f.readSze(off)
	if err != nil {
		return NilPtr, err
	}
	f.used += int64(getSize(header))

	return Ptr(off + ffHeaderSize), nil
}

func (f *FirstFit) checkAllocated(p Ptr) (off uint32, capacity uint32, err error) {
	if p < ffHeaderSize || int64(p) > f.size {
		return 0, 0, &NotFoundError{"FirstFit: pointer out of range", p}
	}
	off = uint32(p) - ffHeaderSize
	header, err := f.readSze(off)
	if err != nil {
		return 0, 0, err
	}
	if !getTag(header) {
		return 0, 0, &NotFoundError{"FirstFit: not an allocated block", p}
	}
	return off, getSize(header) - ffOverhead, nil
}

// ffReleaseHintThreshold is the minimum freed block size, in bytes,
// that triggers a ReleaseHint call, mirroring BuddyHeap's
// buddyReleaseHintThreshold.
const ffReleaseHintThreshold = 1 << 12

// releaseHint forwards a ReleaseHint to mem for a freed block at or
// above ffReleaseHintThreshold, if mem implements ReleaseHinter. The
// hint is advisory; a failure here does not fail the Free/Extend call
// that triggered it.
func (f *FirstFit) releaseHint(off, size uint32) {
	if int64(size) < ffReleaseHintThreshold {
		return
	}
	if rh, ok := f.mem.(ReleaseHinter); ok {
		_ = rh.ReleaseHint(int64(off), int64(size))
	}
}

// Free releases the block p, merging it with any free physical
// neighbours.
func (f *FirstFit) Free(p Ptr) error {
	off, _, err := f.checkAllocated(p)
	if err != nil {
		return err
	}
	freed, finalOff, finalSize, err := f.freeblock(off)
	if err != nil {
		return err
	}
	f.used -= int64(freed)
	f.releaseHint(finalOff, finalSize)
	return nil
}

// Extend resizes the block p to hold at least n bytes. Unlike
// BuddyHeap, FirstFit never resizes a block in place: it always
// allocates a new block, copies min(old payload, new payload) bytes,
// and frees the old block, matching ffit_extend_block. A nil p behaves
// as Alloc(n); n == 0 behaves as Free(p), per spec.md's extend(p, n,
// rc) contract (the same dispatch BuddyHeap.Extend implements), and
// mirrored here per spec.md's "Mirrors buddy's extend contract" note
// for FirstFit.
func (f *FirstFit) Extend(p Ptr, n int) (Ptr, error) {
	if p == NilPtr {
		return f.Alloc(n)
	}
	if n == 0 {
		return NilPtr, f.Free(p)
	}

	off, _, err := f.checkAllocated(p)
	if err != nil {
		return NilPtr, err
	}
	s, err := f.requestSize(n)
	if err != nil {
		return NilPtr, err
	}

	header, err := f.readSze(off)
	if err != nil {
		return NilPtr, err
	}
	os := getSize(header)
	if os == s {
		return p, nil
	}

	newPtr, err := f.Alloc(n)
	if err != nil {
		return NilPtr, err
	}

	k := os - ffOverhead
	if os > s {
		k = uint32(n)
	}
	buf := make([]byte, k)
	if _, err := f.ReadAt(p, buf); err != nil {
		return NilPtr, &InternalError{"FirstFit.Extend: copy read", err}
	}
	if _, err := f.WriteAt(newPtr, buf); err != nil {
		return NilPtr, &InternalError{"FirstFit.Extend: copy write", err}
	}
	if err := f.Free(p); err != nil {
		return NilPtr, &InternalError{"FirstFit.Extend: free old block", err}
	}
	return newPtr, nil
}

// Capacity returns the usable payload size of block p.
func (f *FirstFit) Capacity(p Ptr) (int, error) {
	_, cap, err := f.checkAllocated(p)
	if err != nil {
		return 0, err
	}
	return int(cap), nil
}

// Contains reports whether p addresses a payload inside this heap's
// managed region.
func (f *FirstFit) Contains(p Ptr) bool {
	return p >= ffHeaderSize && int64(p) < f.size
}

// ReadAt copies len(dst) bytes from block p's payload into dst.
func (f *FirstFit) ReadAt(p Ptr, dst []byte) (int, error) {
	_, cap, err := f.checkAllocated(p)
	if err != nil {
		return 0, err
	}
	if uint32(len(dst)) > cap {
		return 0, &InvalidError{"FirstFit.ReadAt: dst exceeds block capacity", len(dst)}
	}
	return f.mem.ReadAt(dst, int64(p))
}

// WriteAt copies src into block p's payload, starting at its first byte.
func (f *FirstFit) WriteAt(p Ptr, src []byte) (int, error) {
	_, cap, err := f.checkAllocated(p)
	if err != nil {
		return 0, err
	}
	if uint32(len(src)) > cap {
		return 0, &InvalidError{"FirstFit.WriteAt: src exceeds block capacity", len(src)}
	}
	return f.mem.WriteAt(src, int64(p))
}

// Stats reports the heap's total managed size, bytes currently
// allocated, and bytes currently free.
func (f *FirstFit) Stats() (total, used, free int64) {
	return f.size, f.used, f.size - f.used
}

func (f *FirstFit) walk(fn func(off, s uint32, used bool) error) error {
	off := uint32(0)
	for int64(off) < f.size {
		header, err := f.readSze(off)
		if err != nil {
			return err
		}
		s := getSize(header)
		if s == 0 {
			return &InternalError{"FirstFit: corrupt block header (zero size)", nil}
		}
		if err := fn(off, s, getTag(header)); err != nil {
			return err
		}
		off += s
	}
	return nil
}

// PrintHeap writes a human-readable, ANSI-colored map of every current
// block to w, in the style of ffit.c's printheap.
func (f *FirstFit) PrintHeap(w io.Writer) error {
	return f.walk(func(off, s uint32, used bool) error {
		tag, color := "FREE", "\x1b[32m"
		if used {
			tag, color = "USED", "\x1b[31m"
		}
		_, err := fmt.Fprintf(w, "%s[%8d,%8d) %-4s size=%d\x1b[0m\n", color, off, off+s, tag, s)
		return err
	})
}

// Verify walks the heap's actual blocks and cross-checks their total
// against the used-byte counter and the free list's own membership,
// reporting every inconsistency to log. It stops early if log returns
// false.
func (f *FirstFit) Verify(log func(error) bool) error {
	var walkedUsed int64
	walkedFree := map[uint32]bool{}

	err := f.walk(func(off, s uint32, used bool) error {
		if used {
			walkedUsed += int64(s)
		} else {
			walkedFree[off] = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	if walkedUsed != f.used {
		if !log(&InternalError{fmt.Sprintf("FirstFit.Verify: used bytes: walked %d, counter %d", walkedUsed, f.used), nil}) {
			return nil
		}
	}

	listed := map[uint32]bool{}
	for off := f.first; off != noblock; {
		listed[off] = true
		nxt, _, err := f.readLink(off)
		if err != nil {
			return err
		}
		off = nxt
	}

	for off := range walkedFree {
		if !listed[off] {
			if !log(&InternalError{fmt.Sprintf("FirstFit.Verify: block at %d is physically free but absent from the free list", off), nil}) {
				return nil
			}
		}
	}
	for off := range listed {
		if !walkedFree[off] {
			if !log(&InternalError{fmt.Sprintf("FirstFit.Verify: free list contains %d, which is not a physically free block", off), nil}) {
				return nil
			}
		}
	}

	return nil
}
