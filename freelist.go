// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memman

// Buddy free blocks carry their {next, prev} pseudo-pointers in the
// first 8 bytes of the block itself (minBuddyBlock below), exactly like
// buddy.c's getnext/getprev/putnext/putprev operate on the first two
// uint32 words of a free block. Both fields are offsets relative to the
// start of the buddy heap's region, with noblock marking a list end.

const minBuddyBlock = 8 // MINSIZE: 2 uint32 pseudo-pointers

// linkBuddy reads a free block's {next, prev} pair at off (an offset
// relative to base within mem).
func linkBuddy(mem Region, base int64, off uint32) (nxt, prv uint32, err error) {
	var hdr [8]byte
	if _, err = mem.ReadAt(hdr[:], base+int64(off)); err != nil {
		return 0, 0, err
	}
	return getU32(hdr[0:4]), getU32(hdr[4:8]), nil
}

// putLinkBuddy writes a free block's {next, prev} pair at off.
func putLinkBuddy(mem Region, base int64, off uint32, nxt, prv uint32) error {
	var hdr [8]byte
	putU32(hdr[0:4], nxt)
	putU32(hdr[4:8], prv)
	_, err := mem.WriteAt(hdr[:], base+int64(off))
	return err
}

// buddyFreeLists holds one doubly linked free-list head per size class
// 0..max, entirely in process memory: grounded on buddy.c's FREE[AMAX+1]
// array of block-list heads, which likewise lives in the buddy_t
// control structure rather than inside the managed region.
type buddyFreeLists struct {
	heads []uint32 // heads[s] = pseudo-pointer to first free block of size class s, or noblock
	mem   Region
	base  int64
}

func newBuddyFreeLists(mem Region, base int64, max uint) *buddyFreeLists {
	heads := make([]uint32, max+1)
	for i := range heads {
		heads[i] = noblock
	}
	return &buddyFreeLists{heads: heads, mem: mem, base: base}
}

// push inserts the block at off, of size class s, at the front of its
// list. Grounded on buddy.c's binsert.
func (fl *buddyFreeLists) push(s uint, off uint32) error {
	head := fl.heads[s]
	if err := putLinkBuddy(fl.mem, fl.base, off, head, noblock); err != nil {
		return err
	}
	if head != noblock {
		headNxt, _, err := linkBuddy(fl.mem, fl.base, head)
		if err != nil {
			return err
		}
		if err := putLinkBuddy(fl.mem, fl.base, head, headNxt, off); err != nil {
			return err
		}
	}
	fl.heads[s] = off
	return nil
}

// remove unlinks the block at off from size class s's list, then scrubs
// its own {next, prev} bytes back to {NOBLOCK, NOBLOCK}. Grounded on
// buddy.c's bremove/block_remove: a removed node must not keep stale
// pseudo-pointers lying around, both so it reads as "clean" for the
// user data it is about to become and so that a stray read of a
// not-currently-linked block can never be mistaken for a live list
// node.
func (fl *buddyFreeLists) remove(s uint, off uint32) error {
	nxt, prv, err := linkBuddy(fl.mem, fl.base, off)
	if err != nil {
		return err
	}

	if prv == noblock {
		fl.heads[s] = nxt
	} else {
		_, prvPrv, err := linkBuddy(fl.mem, fl.base, prv)
		if err != nil {
			return err
		}
		if err := putLinkBuddy(fl.mem, fl.base, prv, nxt, prvPrv); err != nil {
			return err
		}
	}

	if nxt != noblock {
		nxtNxt, _, err := linkBuddy(fl.mem, fl.base, nxt)
		if err != nil {
			return err
		}
		if err := putLinkBuddy(fl.mem, fl.base, nxt, nxtNxt, prv); err != nil {
			return err
		}
	}

	return putLinkBuddy(fl.mem, fl.base, off, noblock, noblock)
}

// contains reports whether off is currently a member of size class s's
// list. Grounded on buddy.c's bisin/block_is_in: with size-table
// entries reserved for in-use blocks only (see sizetable.go), a free
// block's size class can only be recovered by checking which list it
// currently lives on.
func (fl *buddyFreeLists) contains(s uint, off uint32) (bool, error) {
	for cur := fl.heads[s]; cur != noblock; {
		if cur == off {
			return true, nil
		}
		nxt, _, err := linkBuddy(fl.mem, fl.base, cur)
		if err != nil {
			return false, err
		}
		cur = nxt
	}
	return false, nil
}

// pop removes and returns the first block of size class s, or ok=false
// if the list is empty.
func (fl *buddyFreeLists) pop(s uint) (off uint32, ok bool, err error) {
	head := fl.heads[s]
	if head == noblock {
		return 0, false, nil
	}
	if err := fl.remove(s, head); err != nil {
		return 0, false, err
	}
	return head, true, nil
}

// isEmpty reports whether size class s's list has no blocks.
func (fl *buddyFreeLists) isEmpty(s uint) bool { return fl.heads[s] == noblock }
