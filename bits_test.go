// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memman

import "testing"

func TestNextpow2(t *testing.T) {
	cases := []struct {
		n, want int64
	}{
		{1, 1}, {2, 2}, {3, 4}, {4, 4}, {5, 8}, {1023, 1024}, {1024, 1024}, {1025, 2048},
	}
	for _, c := range cases {
		if got := nextpow2(c.n); got != c.want {
			t.Errorf("nextpow2(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestLog2CeilFloor(t *testing.T) {
	cases := []struct {
		n           uint64
		ceil, floor uint
	}{
		{1, 0, 0}, {2, 1, 1}, {3, 2, 1}, {4, 2, 2}, {5, 3, 2}, {1024, 10, 10}, {1025, 11, 10},
	}
	for _, c := range cases {
		if got := log2Ceil(c.n); got != c.ceil {
			t.Errorf("log2Ceil(%d) = %d, want %d", c.n, got, c.ceil)
		}
		if got := log2Floor(c.n); got != c.floor {
			t.Errorf("log2Floor(%d) = %d, want %d", c.n, got, c.floor)
		}
	}
}

func TestU32RoundTrip(t *testing.T) {
	var b [4]byte
	putU32(b[:], 0xdeadbeef)
	if got := getU32(b[:]); got != 0xdeadbeef {
		t.Fatalf("getU32 = %#x, want 0xdeadbeef", got)
	}
}
