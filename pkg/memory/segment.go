// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package memory

import (
	"fmt"

	"github.com/antimetal/agent/pkg/relptr"
)

// SegmentConfig describes one user-data segment to be provisioned by a
// SegmentManager: its access-control tags and its pool layout.
type SegmentConfig struct {
	ReaderGroup string
	WriterGroup string
	Pools       []PoolConfig
}

// SegmentEntry is the (reader-group, writer-group, Memory Manager, SegmentID)
// tuple the spec associates with every user-data segment.
type SegmentEntry struct {
	ReaderGroup string
	WriterGroup string
	Manager     *Manager
	SegmentID   relptr.SegmentID
}

// SegmentManager owns the bounded collection of user-data segments.
type SegmentManager struct {
	entries []SegmentEntry
}

// NewSegmentManager builds one SegmentEntry (and its Manager) per config,
// sub-allocating each segment's pools from the per-segment region supplied in
// regions (regions[i] backs configs[i]).
func NewSegmentManager(configs []SegmentConfig, regions [][]byte, ids []relptr.SegmentID) (*SegmentManager, error) {
	if len(configs) != len(regions) || len(configs) != len(ids) {
		return nil, fmt.Errorf("memory: configs/regions/ids length mismatch")
	}

	sm := &SegmentManager{entries: make([]SegmentEntry, 0, len(configs))}
	for i, c := range configs {
		if c.ReaderGroup == "" || c.WriterGroup == "" {
			return nil, fmt.Errorf("memory: segment %d missing reader/writer group", i)
		}
		mgr, err := NewManager(regions[i], c.Pools)
		if err != nil {
			return nil, fmt.Errorf("memory: segment %d: %w", i, err)
		}
		sm.entries = append(sm.entries, SegmentEntry{
			ReaderGroup: c.ReaderGroup,
			WriterGroup: c.WriterGroup,
			Manager:     mgr,
			SegmentID:   ids[i],
		})
	}
	return sm, nil
}

// GetSegment returns the entry for id.
func (sm *SegmentManager) GetSegment(id relptr.SegmentID) (*SegmentEntry, error) {
	for i := range sm.entries {
		if sm.entries[i].SegmentID == id {
			return &sm.entries[i], nil
		}
	}
	return nil, fmt.Errorf("memory: unknown segment id %d", id)
}

// SegmentsForGroup returns the ids of every segment whose reader-group or
// writer-group matches group, the access-control helper used to decide which
// segments a given posix group may map.
func (sm *SegmentManager) SegmentsForGroup(group string) []relptr.SegmentID {
	var ids []relptr.SegmentID
	for _, e := range sm.entries {
		if e.ReaderGroup == group || e.WriterGroup == group {
			ids = append(ids, e.SegmentID)
		}
	}
	return ids
}

// Entries returns every segment entry, in configuration order.
func (sm *SegmentManager) Entries() []SegmentEntry {
	return sm.entries
}
