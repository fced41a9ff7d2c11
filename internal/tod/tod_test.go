// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tod

import (
	"bytes"
	"testing"

	"github.com/ffutop/rdm-controller/rdm"
)

var (
	uidA = rdm.NewUID(0x7FF0, 0x0A)
	uidB = rdm.NewUID(0x7FF0, 0x0B)
	uidC = rdm.NewUID(0x7FF0, 0x0C)
)

func TestAddUid(t *testing.T) {
	tod := New(2)

	if !tod.AddUid(uidA) {
		t.Fatal("AddUid(A) = false")
	}
	if tod.AddUid(uidA) {
		t.Error("duplicate AddUid(A) = true")
	}
	if !tod.AddUid(uidB) {
		t.Fatal("AddUid(B) = false")
	}
	if tod.AddUid(uidC) {
		t.Error("AddUid beyond capacity = true")
	}
	if tod.GetUidCount() != 2 || tod.Exist(uidC) {
		t.Errorf("count = %d, Exist(C) = %v", tod.GetUidCount(), tod.Exist(uidC))
	}
}

func TestDeleteCompacts(t *testing.T) {
	tod := New(8)
	tod.AddUid(uidA)
	tod.AddUid(uidB)
	tod.AddUid(uidC)

	if !tod.Delete(uidB) {
		t.Fatal("Delete(B) = false")
	}
	if tod.Delete(uidB) {
		t.Error("second Delete(B) = true")
	}

	got := tod.UIDs()
	if len(got) != 2 || got[0] != uidA || got[1] != uidC {
		t.Errorf("UIDs() = %v, want [A C]", got)
	}

	buf := make([]byte, 2*rdm.UIDSize)
	if n := tod.Copy(buf); n != 12 {
		t.Errorf("Copy() = %d, want 12", n)
	}
	if want := append(uidA[:], uidC[:]...); !bytes.Equal(buf, want) {
		t.Errorf("Copy() = % x, want % x", buf, want)
	}
	if !bytes.Equal(tod.Bytes(), buf) {
		t.Errorf("Bytes() = % x", tod.Bytes())
	}
}

func TestReset(t *testing.T) {
	tod := New(4)
	tod.AddUid(uidA)
	tod.Reset()

	if tod.GetUidCount() != 0 || tod.Exist(uidA) {
		t.Errorf("after Reset count = %d", tod.GetUidCount())
	}
	if _, ok := tod.CopyUidEntry(0); ok {
		t.Error("CopyUidEntry(0) on empty table = ok")
	}
	if !tod.AddUid(uidA) {
		t.Error("AddUid after Reset = false")
	}
}

func TestNextWraps(t *testing.T) {
	tod := New(4)
	if _, ok := tod.Next(); ok {
		t.Fatal("Next() on empty table = ok")
	}
	tod.AddUid(uidA)
	tod.AddUid(uidB)

	want := []rdm.UID{uidA, uidB, uidA}
	for i, w := range want {
		if got, _ := tod.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i, got, w)
		}
	}

	// cursor now points at B; deleting A keeps it on B
	tod.Delete(uidA)
	if got, _ := tod.Next(); got != uidB {
		t.Errorf("Next() after delete = %v, want %v", got, uidB)
	}
}

func TestUniqueness(t *testing.T) {
	tod := New(16)
	for i := 0; i < 64; i++ {
		tod.AddUid(rdm.NewUID(0x7FF0, uint32(i%10)))
	}
	if tod.GetUidCount() != 10 {
		t.Fatalf("count = %d, want 10", tod.GetUidCount())
	}
	seen := make(map[rdm.UID]bool)
	for _, u := range tod.UIDs() {
		if seen[u] {
			t.Errorf("duplicate %v", u)
		}
		seen[u] = true
	}
}
