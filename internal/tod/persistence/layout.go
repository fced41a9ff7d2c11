// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ffutop/rdm-controller/internal/tod"
	"github.com/ffutop/rdm-controller/rdm"
)

// On-disk layout:
//
//	Magic    : 4 bytes ("RTOD")
//	Version  : 1 byte
//	Reserved : 1 byte
//	Count    : 2 bytes, big endian
//	Capacity : 2 bytes, big endian
//	Reserved : 2 bytes
//	Entries  : capacity * 6 bytes
const (
	layoutVersion = 1
	headerSize    = 12

	offsetMagic    = 0
	offsetVersion  = 4
	offsetCount    = 6
	offsetCapacity = 8
	offsetEntries  = headerSize
)

var magic = [4]byte{'R', 'T', 'O', 'D'}

var ErrCorrupt = errors.New("persistence: corrupt table of devices")

func layoutSize(capacity int) int {
	return headerSize + capacity*rdm.UIDSize
}

// isBlank reports whether data is a freshly created, zero filled store.
func isBlank(data []byte) bool {
	if len(data) < headerSize {
		return true
	}
	for _, b := range data[:headerSize] {
		if b != 0 {
			return false
		}
	}
	return true
}

// decodeInto loads the entries stored in data into t.
func decodeInto(data []byte, t *tod.TOD) error {
	if len(data) < headerSize || [4]byte(data[offsetMagic:offsetMagic+4]) != magic {
		return ErrCorrupt
	}
	if v := data[offsetVersion]; v != layoutVersion {
		return fmt.Errorf("persistence: unsupported layout version %d", v)
	}
	count := int(binary.BigEndian.Uint16(data[offsetCount:]))
	capacity := int(binary.BigEndian.Uint16(data[offsetCapacity:]))
	if count > capacity || len(data) < layoutSize(capacity) {
		return ErrCorrupt
	}

	t.Reset()
	for i := 0; i < count; i++ {
		off := offsetEntries + i*rdm.UIDSize
		uid, _ := rdm.UIDFromBytes(data[off : off+rdm.UIDSize])
		if !t.AddUid(uid) {
			slog.Warn("persistence: dropping stored uid", "uid", uid, "capacity", t.Capacity())
		}
	}
	return nil
}

// encode writes t into data, which must be layoutSize(t.Capacity()) long.
func encode(data []byte, t *tod.TOD) {
	uids := t.UIDs()
	copy(data[offsetMagic:], magic[:])
	data[offsetVersion] = layoutVersion
	data[offsetVersion+1] = 0
	binary.BigEndian.PutUint16(data[offsetCount:], uint16(len(uids)))
	binary.BigEndian.PutUint16(data[offsetCapacity:], uint16(t.Capacity()))
	data[offsetCapacity+2], data[offsetCapacity+3] = 0, 0

	entries := data[offsetEntries:]
	for i := range entries {
		entries[i] = 0
	}
	for i, u := range uids {
		copy(entries[i*rdm.UIDSize:], u[:])
	}
}
