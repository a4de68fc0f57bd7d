// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package memory

import "testing"

func twoPoolManager(t *testing.T) *Manager {
	t.Helper()
	configs := []PoolConfig{{ChunkSize: 128, ChunkCount: 10}, {ChunkSize: 1024, ChunkCount: 5}}
	region := make([]byte, RequiredFullMemorySize(configs))
	m, err := NewManager(region, configs)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestGetChunkPicksSmallestFittingPool(t *testing.T) {
	m := twoPoolManager(t)

	addr, err := m.GetChunk(200)
	if err != nil {
		t.Fatalf("GetChunk(200): %v", err)
	}
	if addr == 0 {
		t.Fatal("GetChunk returned zero address")
	}
	// 200 doesn't fit the 128-byte pool, so it must come from the 1024 pool.
	if m.pools[1].UsedChunks() != 1 {
		t.Fatalf("expected the 1024-byte pool to have served the request, used=%d", m.pools[1].UsedChunks())
	}
	if m.pools[0].UsedChunks() != 0 {
		t.Fatalf("expected the 128-byte pool untouched, used=%d", m.pools[0].UsedChunks())
	}
}

func TestGetChunkNoFittingPool(t *testing.T) {
	configs := []PoolConfig{{ChunkSize: 128, ChunkCount: 10}}
	region := make([]byte, RequiredFullMemorySize(configs))
	m, err := NewManager(region, configs)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.GetChunk(200); err != ErrNoFittingPool {
		t.Fatalf("GetChunk(200) = %v, want ErrNoFittingPool", err)
	}
}

func TestGetChunkExhaustedDoesNotUpgrade(t *testing.T) {
	configs := []PoolConfig{{ChunkSize: 128, ChunkCount: 1}, {ChunkSize: 1024, ChunkCount: 5}}
	region := make([]byte, RequiredFullMemorySize(configs))
	m, err := NewManager(region, configs)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, err := m.GetChunk(100); err != nil {
		t.Fatalf("first GetChunk(100): %v", err)
	}
	if _, err := m.GetChunk(100); err != ErrPoolExhausted {
		t.Fatalf("second GetChunk(100) = %v, want ErrPoolExhausted (no upgrade to 1024 pool)", err)
	}
}

func TestNewManagerRejectsZeroChunkCount(t *testing.T) {
	configs := []PoolConfig{{ChunkSize: 128, ChunkCount: 0}}
	if _, err := NewManager(make([]byte, 4096), configs); err == nil {
		t.Fatal("expected configuration error for zero chunk count")
	}
}

func TestNewManagerRejectsEmptyConfig(t *testing.T) {
	if _, err := NewManager(make([]byte, 4096), nil); err == nil {
		t.Fatal("expected error for empty pool configuration")
	}
}
