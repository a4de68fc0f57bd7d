// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package registry implements the Process Registry: a bounded, name-keyed
// table of registered client processes and their liveness.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antimetal/agent/pkg/errors"
	"github.com/antimetal/agent/pkg/relptr"
)

var (
	ErrNameTaken           = errors.New("registry: process name already registered")
	ErrIncompatibleVersion = errors.New("registry: incompatible client version")
	ErrUnknownProcess      = errors.New("registry: unknown process")
)

// ProcessEntry records one registered client process.
type ProcessEntry struct {
	Name          string
	PID           int
	UID           int
	SessionID     uint64
	Monitored     bool
	SegmentID     relptr.SegmentID
	Version       VersionInfo
	LastHeartbeat time.Time
}

// ProcessRegistry is the bounded, name-keyed table of registered processes.
// Its shape — RWMutex plus a closed flag — generalizes the teacher's resource
// store. Callers (Daemon.Deregister, the Discovery
// Loop's runCycle) drive teardown directly off Register/Deregister/ReapStale's
// return values rather than through a side-channel event feed, so no command
// holding r.mu ever blocks on a consumer keeping up.
type ProcessRegistry struct {
	mu     sync.RWMutex
	closed bool

	level     CompatibilityLevel
	version   VersionInfo
	processes map[string]*ProcessEntry

	nextSession atomic.Uint64
}

// New creates a ProcessRegistry that checks incoming VersionInfo against
// daemonVersion at the given CompatibilityLevel.
func New(level CompatibilityLevel, daemonVersion VersionInfo) *ProcessRegistry {
	return &ProcessRegistry{
		level:     level,
		version:   daemonVersion,
		processes: make(map[string]*ProcessEntry),
	}
}

// Register adds a new process entry. It returns ErrNameTaken if the name is
// already registered, or ErrIncompatibleVersion if client fails the
// registry's configured CompatibilityLevel check against the Daemon's own
// version.
func (r *ProcessRegistry) Register(name string, pid, uid int, monitored bool, client VersionInfo, segmentID relptr.SegmentID) (sessionID uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, fmt.Errorf("registry: closed")
	}

	if _, ok := r.processes[name]; ok {
		return 0, ErrNameTaken
	}
	if !Compatible(r.level, r.version, client) {
		return 0, ErrIncompatibleVersion
	}

	sessionID = r.nextSession.Add(1)
	r.processes[name] = &ProcessEntry{
		Name:          name,
		PID:           pid,
		UID:           uid,
		SessionID:     sessionID,
		Monitored:     monitored,
		SegmentID:     segmentID,
		Version:       client,
		LastHeartbeat: time.Now(),
	}
	return sessionID, nil
}

// Deregister removes a process entry. Callers are responsible for releasing
// the process's owned ports directly (e.g. via pkg/port.Pool.ReleaseOwnedBy),
// as internal/daemon.Daemon.Deregister does immediately after this call.
func (r *ProcessRegistry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("registry: closed")
	}
	if _, ok := r.processes[name]; !ok {
		return ErrUnknownProcess
	}
	delete(r.processes, name)
	return nil
}

// Heartbeat stamps name's LastHeartbeat with ts.
func (r *ProcessRegistry) Heartbeat(name string, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.processes[name]
	if !ok {
		return ErrUnknownProcess
	}
	entry.LastHeartbeat = ts
	return nil
}

// ReapStale returns the names of monitored processes whose last heartbeat
// precedes now-threshold, removing them from the table. Callers drive port
// teardown directly off the returned names (see internal/discovery.Loop).
func (r *ProcessRegistry) ReapStale(now time.Time, threshold time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []string
	cutoff := now.Add(-threshold)
	for name, entry := range r.processes {
		if entry.Monitored && entry.LastHeartbeat.Before(cutoff) {
			stale = append(stale, name)
		}
	}
	for _, name := range stale {
		delete(r.processes, name)
	}
	return stale
}

// Get returns a copy of the entry registered under name.
func (r *ProcessRegistry) Get(name string) (ProcessEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.processes[name]
	if !ok {
		return ProcessEntry{}, false
	}
	return *entry, true
}

// Snapshot returns a copy of every registered process entry, in no
// particular order. Used at Daemon shutdown to collect the PIDs that must be
// sent SIGTERM/SIGKILL.
func (r *ProcessRegistry) Snapshot() []ProcessEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProcessEntry, 0, len(r.processes))
	for _, entry := range r.processes {
		out = append(out, *entry)
	}
	return out
}

// Len returns the number of registered processes.
func (r *ProcessRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.processes)
}

// Close idempotently marks the registry closed; subsequent Register/
// Deregister calls fail with a "registry: closed" error.
func (r *ProcessRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
