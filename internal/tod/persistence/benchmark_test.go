// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"path/filepath"
	"testing"

	"github.com/ffutop/rdm-controller/internal/tod"
	"github.com/ffutop/rdm-controller/rdm"
)

func fullTOD(capacity int) *tod.TOD {
	t := tod.New(capacity)
	for i := 0; i < capacity; i++ {
		t.AddUid(rdm.NewUID(0x7FF0, uint32(i)))
	}
	return t
}

// BenchmarkMemoryStorage_Save benchmarks persisting a full table in memory.
func BenchmarkMemoryStorage_Save(b *testing.B) {
	ms := NewMemoryStorage()
	t := fullTOD(200)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ms.Save(t)
	}
}

// BenchmarkFileStorage_Save benchmarks the write + fsync path.
func BenchmarkFileStorage_Save(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_file.bin")
	fs := NewFileStorage(path)
	defer fs.Close()
	t := fullTOD(200)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := fs.Save(t); err != nil {
			b.Fatalf("Save failed: %v", err)
		}
	}
}

// BenchmarkMmapStorage_Save benchmarks the copy + msync path.
func BenchmarkMmapStorage_Save(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_mmap.bin")
	ms := NewMmapStorage(path)
	defer ms.Close()
	t := fullTOD(200)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := ms.Save(t); err != nil {
			b.Fatalf("Save failed: %v", err)
		}
	}
}

// BenchmarkMmapStorage_Load benchmarks open, map and decode.
func BenchmarkMmapStorage_Load(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_mmap_load.bin")
	ms := NewMmapStorage(path)
	if err := ms.Save(fullTOD(200)); err != nil {
		b.Fatalf("Save failed: %v", err)
	}
	ms.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ms := NewMmapStorage(path)
		if err := ms.Load(tod.New(200)); err != nil {
			b.Fatalf("Load failed: %v", err)
		}
		ms.Close()
	}
}
