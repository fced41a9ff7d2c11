// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"sync"

	"github.com/ffutop/rdm-controller/internal/tod"
)

// MemoryStorage keeps the last saved table for the life of the process.
type MemoryStorage struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (ms *MemoryStorage) Load(t *tod.TOD) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.data == nil {
		return nil
	}
	return decodeInto(ms.data, t)
}

func (ms *MemoryStorage) Save(t *tod.TOD) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	data := make([]byte, layoutSize(t.Capacity()))
	encode(data, t)
	ms.data = data
	return nil
}

func (ms *MemoryStorage) Close() error {
	return nil
}
