// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/ffutop/rdm-controller/internal/tod"
)

// MmapStorage implements persistence using a memory-mapped file sized for
// the table capacity. Saves write into the mapping and flush it.
type MmapStorage struct {
	path string

	mu   sync.Mutex
	file *os.File
	data mmap.MMap
}

// NewMmapStorage creates a new MmapStorage.
func NewMmapStorage(path string) *MmapStorage {
	return &MmapStorage{
		path: path,
	}
}

// mapFile maps the file at exactly size bytes. Caller must hold the mutex.
func (ms *MmapStorage) mapFile(size int) error {
	if ms.data != nil && len(ms.data) == size {
		return nil
	}
	if err := ms.unmap(); err != nil {
		return err
	}

	if ms.file == nil {
		// Open file, creating if necessary
		f, err := os.OpenFile(ms.path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("failed to open mmap file: %w", err)
		}
		ms.file = f
	}

	// Ensure file size
	fi, err := ms.file.Stat()
	if err != nil {
		return err
	}
	if fi.Size() != int64(size) {
		if err := ms.file.Truncate(int64(size)); err != nil {
			return fmt.Errorf("failed to resize mmap file: %w", err)
		}
	}

	data, err := mmap.Map(ms.file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("mmap failed: %w", err)
	}
	ms.data = data
	return nil
}

func (ms *MmapStorage) unmap() error {
	if ms.data == nil {
		return nil
	}
	err := ms.data.Unmap()
	ms.data = nil
	return err
}

// Load maps the file and reads the stored table into t. A file written
// with another capacity is loaded and remapped at the capacity of t.
func (ms *MmapStorage) Load(t *tod.TOD) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	fi, err := os.Stat(ms.path)
	if err == nil && fi.Size() >= headerSize {
		if err := ms.mapFile(int(fi.Size())); err != nil {
			return err
		}
		if !isBlank(ms.data) {
			if err := decodeInto(ms.data, t); err != nil {
				return err
			}
		}
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}

	if err := ms.mapFile(layoutSize(t.Capacity())); err != nil {
		return err
	}
	encode(ms.data, t)
	return ms.data.Flush()
}

// Save writes t into the mapping and flushes it to disk.
func (ms *MmapStorage) Save(t *tod.TOD) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := ms.mapFile(layoutSize(t.Capacity())); err != nil {
		return err
	}
	encode(ms.data, t)
	return ms.data.Flush()
}

// Close unmaps and closes the file.
func (ms *MmapStorage) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	err := ms.unmap()
	if ms.file != nil {
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}
