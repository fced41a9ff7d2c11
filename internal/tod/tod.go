// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tod holds the Table Of Devices: the set of responder UIDs
// discovered on one port.
package tod

import (
	"log/slog"
	"sync"

	"github.com/ffutop/rdm-controller/rdm"
)

// TOD is a fixed-capacity ordered set of UIDs. Entries are contiguous from
// index 0 and never duplicated.
type TOD struct {
	mu       sync.RWMutex
	entries  []rdm.UID
	capacity int
	cursor   int
}

// New creates an empty table holding at most capacity UIDs.
func New(capacity int) *TOD {
	if capacity < 0 {
		capacity = 0
	}
	return &TOD{
		entries:  make([]rdm.UID, 0, capacity),
		capacity: capacity,
	}
}

func (t *TOD) Capacity() int {
	return t.capacity
}

// GetUidCount returns the number of entries.
func (t *TOD) GetUidCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.entries)
}

// Exist reports whether uid is in the table.
func (t *TOD) Exist(uid rdm.UID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.index(uid) >= 0
}

func (t *TOD) index(uid rdm.UID) int {
	for i, e := range t.entries {
		if e == uid {
			return i
		}
	}
	return -1
}

// AddUid appends uid. It fails without mutation when the table is full or
// the uid is already present.
func (t *TOD) AddUid(uid rdm.UID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) >= t.capacity || t.index(uid) >= 0 {
		return false
	}
	t.entries = append(t.entries, uid)
	return true
}

// Delete removes uid, shifting later entries down by one.
func (t *TOD) Delete(uid rdm.UID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.index(uid)
	if i < 0 {
		return false
	}
	copy(t.entries[i:], t.entries[i+1:])
	t.entries = t.entries[:len(t.entries)-1]
	if t.cursor > i {
		t.cursor--
	}
	return true
}

// Reset empties the table.
func (t *TOD) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = t.entries[:0]
	t.cursor = 0
}

// Copy writes the entries densely packed, six bytes each, and returns the
// number of bytes written. dst must hold GetUidCount()*6 bytes.
func (t *TOD) Copy(dst []byte) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, e := range t.entries {
		n += copy(dst[n:], e[:])
	}
	return n
}

// Bytes returns the packed entries in a new slice.
func (t *TOD) Bytes() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]byte, 0, len(t.entries)*rdm.UIDSize)
	for _, e := range t.entries {
		out = append(out, e[:]...)
	}
	return out
}

// UIDs returns a snapshot of the entries in table order.
func (t *TOD) UIDs() []rdm.UID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]rdm.UID, len(t.entries))
	copy(out, t.entries)
	return out
}

// CopyUidEntry returns the entry at index i.
func (t *TOD) CopyUidEntry(i int) (rdm.UID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if i < 0 || i >= len(t.entries) {
		return rdm.UID{}, false
	}
	return t.entries[i], true
}

// Next returns entries round-robin, wrapping at the end of the table.
func (t *TOD) Next() (rdm.UID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) == 0 {
		return rdm.UID{}, false
	}
	if t.cursor >= len(t.entries) {
		t.cursor = 0
	}
	uid := t.entries[t.cursor]
	t.cursor++
	return uid, true
}

// Dump logs every entry.
func (t *TOD) Dump(port string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	slog.Info("table of devices", "port", port, "count", len(t.entries), "capacity", t.capacity)
	for i, e := range t.entries {
		slog.Info("device", "port", port, "index", i, "uid", e.String())
	}
}
