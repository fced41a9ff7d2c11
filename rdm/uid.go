// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rdm

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// UID is a 48-bit RDM unique identifier in wire (big-endian) order:
// 16-bit ESTA manufacturer ID followed by a 32-bit device ID.
type UID [UIDSize]byte

const (
	uidMask = 1<<48 - 1

	// MaxSearchUID is the upper bound of a full discovery search. The
	// all-ones broadcast UID is never a device.
	MaxSearchUID uint64 = 0xFFFFFFFFFFFE
)

// BroadcastUID addresses all responders.
var BroadcastUID = UID{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// NewUID assembles a UID from its manufacturer and device parts.
func NewUID(manufacturer uint16, device uint32) UID {
	var u UID
	binary.BigEndian.PutUint16(u[0:2], manufacturer)
	binary.BigEndian.PutUint32(u[2:6], device)
	return u
}

// Unpack converts the low 48 bits of v into a UID; the top 16 bits are dropped.
func Unpack(v uint64) UID {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v&uidMask)
	var u UID
	copy(u[:], buf[2:])
	return u
}

// Pack returns the UID as an unsigned integer suitable for range arithmetic.
func (u UID) Pack() uint64 {
	var buf [8]byte
	copy(buf[2:], u[:])
	return binary.BigEndian.Uint64(buf[:])
}

// Manufacturer returns the ESTA manufacturer ID.
func (u UID) Manufacturer() uint16 {
	return binary.BigEndian.Uint16(u[0:2])
}

// Device returns the device ID.
func (u UID) Device() uint32 {
	return binary.BigEndian.Uint32(u[2:6])
}

// IsBroadcast reports whether u is the all-devices UID or a
// manufacturer broadcast (device part all ones).
func (u UID) IsBroadcast() bool {
	return u.Device() == 0xFFFFFFFF
}

func (u UID) String() string {
	return fmt.Sprintf("%04x:%08x", u.Manufacturer(), u.Device())
}

// ParseUID parses "mmmm:dddddddd" or 12 plain hex digits.
func ParseUID(s string) (UID, error) {
	h := strings.ReplaceAll(strings.TrimSpace(s), ":", "")
	if len(h) != 2*UIDSize {
		return UID{}, fmt.Errorf("rdm: invalid uid %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 64)
	if err != nil {
		return UID{}, fmt.Errorf("rdm: invalid uid %q: %w", s, err)
	}
	return Unpack(v), nil
}

// UIDFromBytes copies the first six bytes of b.
func UIDFromBytes(b []byte) (UID, error) {
	var u UID
	if len(b) < UIDSize {
		return u, fmt.Errorf("rdm: uid needs %d bytes, got %d", UIDSize, len(b))
	}
	copy(u[:], b)
	return u, nil
}
