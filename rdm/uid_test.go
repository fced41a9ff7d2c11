// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rdm

import (
	"math/rand"
	"testing"
)

func TestUIDPack(t *testing.T) {
	tests := []struct {
		name string
		uid  UID
		want uint64
	}{
		{"Zero", UID{}, 0},
		{"Device", UID{0x7F, 0xF0, 0x00, 0x00, 0x01, 0x02}, 0x7FF000000102},
		{"Broadcast", BroadcastUID, 0xFFFFFFFFFFFF},
		{"SearchMax", UID{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFE}, MaxSearchUID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.uid.Pack(); got != tt.want {
				t.Errorf("Pack() = 0x%012x, want 0x%012x", got, tt.want)
			}
			if got := Unpack(tt.want); got != tt.uid {
				t.Errorf("Unpack(0x%012x) = %v, want %v", tt.want, got, tt.uid)
			}
		})
	}
}

func TestUIDPackRandom(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		v := r.Uint64() & 0xFFFFFFFFFFFF
		u := Unpack(v)
		if got := u.Pack(); got != v {
			t.Fatalf("Unpack(0x%012x).Pack() = 0x%012x", v, got)
		}

		var w UID
		r.Read(w[:])
		if got := Unpack(w.Pack()); got != w {
			t.Fatalf("Unpack(%v.Pack()) = %v", w, got)
		}
	}
}

func TestUnpackDropsHighBits(t *testing.T) {
	got := Unpack(0xABCD7FF000000102)
	want := UID{0x7F, 0xF0, 0x00, 0x00, 0x01, 0x02}
	if got != want {
		t.Errorf("Unpack() = %v, want %v", got, want)
	}
}

func TestUIDString(t *testing.T) {
	u := NewUID(0x7FF0, 0x00000102)
	if got := u.String(); got != "7ff0:00000102" {
		t.Errorf("String() = %q", got)
	}
	if u.Manufacturer() != 0x7FF0 || u.Device() != 0x102 {
		t.Errorf("Manufacturer/Device = %04x/%08x", u.Manufacturer(), u.Device())
	}
}

func TestParseUID(t *testing.T) {
	tests := []struct {
		in      string
		want    UID
		wantErr bool
	}{
		{"7ff0:00000102", UID{0x7F, 0xF0, 0x00, 0x00, 0x01, 0x02}, false},
		{"7FF000000102", UID{0x7F, 0xF0, 0x00, 0x00, 0x01, 0x02}, false},
		{" ffff:ffffffff ", BroadcastUID, false},
		{"7ff0:0102", UID{}, true},
		{"zzzz:00000102", UID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseUID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseUID() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsBroadcast(t *testing.T) {
	if !BroadcastUID.IsBroadcast() {
		t.Error("all-ones uid should be broadcast")
	}
	if !NewUID(0x7FF0, 0xFFFFFFFF).IsBroadcast() {
		t.Error("manufacturer broadcast should be broadcast")
	}
	if NewUID(0x7FF0, 0x102).IsBroadcast() {
		t.Error("device uid reported as broadcast")
	}
}
