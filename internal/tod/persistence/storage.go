// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"

	"github.com/ffutop/rdm-controller/internal/config"
	"github.com/ffutop/rdm-controller/internal/tod"
)

// Storage defines the interface for persisting a table of devices.
type Storage interface {
	// Load fills t from storage. An empty or new store leaves t empty.
	Load(t *tod.TOD) error

	// Save writes the current entries of t to storage.
	Save(t *tod.TOD) error

	Close() error
}

// New creates the storage selected by cfg.
func New(cfg config.PersistenceConfig) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(cfg.Path), nil
	case "mmap":
		return NewMmapStorage(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unknown persistence type %q", cfg.Type)
	}
}
