// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ffutop/rdm-controller/internal/tod"
)

// FileStorage implements persistence using plain file operations.
// Every Save rewrites the whole table and syncs it to disk.
type FileStorage struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{
		path: path,
	}
}

func (fs *FileStorage) open() error {
	if fs.file != nil {
		return nil
	}
	// Open file, creating if necessary
	f, err := os.OpenFile(fs.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	fs.file = f
	return nil
}

// Load reads the stored table into t. A new file leaves t empty.
func (fs *FileStorage) Load(t *tod.TOD) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.open(); err != nil {
		return err
	}
	if _, err := fs.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(fs.file)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if isBlank(data) {
		return nil
	}
	return decodeInto(data, t)
}

// Save writes t and syncs the file to disk.
func (fs *FileStorage) Save(t *tod.TOD) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.open(); err != nil {
		return err
	}
	data := make([]byte, layoutSize(t.Capacity()))
	encode(data, t)

	if err := fs.file.Truncate(int64(len(data))); err != nil {
		return fmt.Errorf("failed to resize file: %w", err)
	}
	if _, err := fs.file.WriteAt(data, 0); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	return nil
}

// Close the file.
func (fs *FileStorage) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}
