// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package roudi

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/go-logr/logr"

	"github.com/antimetal/agent/pkg/errors"
	"github.com/antimetal/agent/pkg/memory"
	"github.com/antimetal/agent/pkg/memory/provider"
	"github.com/antimetal/agent/pkg/port"
	"github.com/antimetal/agent/pkg/relptr"
)

const (
	defaultResourcePrefix     = "roudi"
	defaultRepositoryCapacity = 256
	mgmtSegmentName           = "iceoryx_mgmt"
	lockFileName              = "unique-roudi"
)

// Config describes the regions a MemoryManager builds: the management
// region's port-pool capacities and one SegmentConfig per user-data segment,
// scoped to a domain id.
type Config struct {
	DomainID       uint16
	ResourcePrefix string
	Segments       []memory.SegmentConfig
	PortCapacities [port.KindCount]int

	// RepositoryCapacity bounds the Pointer Repository shared by every
	// Provider this MemoryManager builds (one entry per region: the
	// management region plus one per segment).
	RepositoryCapacity int

	// LockDir roots the domain's lock file, independent of the shm root
	// ShmBackend uses. Defaults to /tmp/<ResourcePrefix>-lock.
	LockDir string
}

func (c *Config) applyDefaults() {
	if c.ResourcePrefix == "" {
		c.ResourcePrefix = defaultResourcePrefix
	}
	if c.RepositoryCapacity == 0 {
		c.RepositoryCapacity = defaultRepositoryCapacity
	}
	if c.LockDir == "" {
		c.LockDir = filepath.Join("/tmp", c.ResourcePrefix+"-lock")
	}
}

// locker is the capability MemoryManager needs from its domain lock; FileLock
// satisfies it on Linux, and tests/in-process wiring can supply a no-op.
type locker interface {
	Release() error
}

type nullLock struct{}

func (nullLock) Release() error { return nil }

// BackendFactory builds the Backend a Provider should use for the named
// region ("iceoryx_mgmt" or a segment's writer-group).
type BackendFactory func(name string) provider.Backend

// Option configures a MemoryManager at construction time.
type Option func(*MemoryManager)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger logr.Logger) Option {
	return func(m *MemoryManager) { m.logger = logger }
}

// WithBackendFactory overrides how each region's Backend is built. The
// default builds one ShmBackend per region rooted at /dev/shm.
func WithBackendFactory(f BackendFactory) Option {
	return func(m *MemoryManager) { m.newBackend = f }
}

// WithRepository overrides the Pointer Repository every Provider registers
// its region with. Defaults to a fresh Repository sized by
// Config.RepositoryCapacity.
func WithRepository(repo *relptr.Repository) Option {
	return func(m *MemoryManager) { m.repo = repo }
}

// WithLock overrides the domain file lock. Defaults to a real FileLock at
// <LockDir>/<ResourcePrefix>/<domain-id>/unique-roudi. roudi.NewInProcess and tests use this
// to avoid taking a real flock.
func WithLock(l interface{ Release() error }) Option {
	return func(m *MemoryManager) { m.lock = l }
}

// MemoryManager aggregates the management Provider (PortPoolBlock,
// GenericBlock[Introspection], GenericBlock[DiscoveryMempool],
// GenericBlock[HeartbeatPool], SegmentManagerBlock) and one Provider per
// user-data segment (MemPoolCollectionBlock), behind a single domain-scoped
// file lock.
type MemoryManager struct {
	cfg    Config
	logger logr.Logger
	repo   *relptr.Repository
	lock   locker

	newBackend BackendFactory

	mgmt     *provider.Provider
	segments []*provider.Provider

	portPool      *provider.PortPoolBlock
	introspection *provider.GenericBlock[Introspection]
	discovery     *provider.GenericBlock[DiscoveryMempool]
	heartbeats    *provider.GenericBlock[HeartbeatPool]
	segmentMgr    *provider.SegmentManagerBlock
}

// NewRoudiMemoryManager builds a MemoryManager for cfg, acquiring the
// domain's file lock and constructing (but not yet creating or announcing)
// the management Provider and one Provider per configured segment.
func NewRoudiMemoryManager(cfg Config, opts ...Option) (*MemoryManager, error) {
	const op = "roudi.NewRoudiMemoryManager"

	cfg.applyDefaults()

	m := &MemoryManager{
		cfg:        cfg,
		logger:     logr.Discard(),
		repo:       relptr.NewRepository(cfg.RepositoryCapacity),
		newBackend: defaultBackendFactory(cfg.ResourcePrefix, cfg.DomainID),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.lock == nil {
		lockPath := filepath.Join(cfg.LockDir, cfg.ResourcePrefix, strconv.Itoa(int(cfg.DomainID)), lockFileName)
		lock, err := AcquireFileLock(lockPath)
		if err != nil {
			return nil, errors.Newf(errors.KindEnvironment, op, err)
		}
		m.lock = lock
	}

	segmentIDs := make([]relptr.SegmentID, len(cfg.Segments))
	for i := range segmentIDs {
		segmentIDs[i] = relptr.SegmentID(i)
	}

	m.portPool = provider.NewPortPoolBlock(cfg.PortCapacities)
	m.introspection = provider.NewGenericBlock[Introspection](nil)
	m.discovery = provider.NewGenericBlock[DiscoveryMempool](nil)
	m.heartbeats = provider.NewGenericBlock[HeartbeatPool](nil)
	m.segmentMgr = provider.NewSegmentManagerBlock(cfg.Segments, segmentIDs)

	m.mgmt = provider.New(m.repo, m.newBackend(mgmtSegmentName))
	for _, b := range []provider.Block{m.portPool, m.introspection, m.discovery, m.heartbeats, m.segmentMgr} {
		if err := m.mgmt.AddBlock(b); err != nil {
			_ = m.lock.Release()
			return nil, errors.Newf(errors.KindMemory, op, err)
		}
	}

	m.segments = make([]*provider.Provider, len(cfg.Segments))
	for i, seg := range cfg.Segments {
		p := provider.New(m.repo, m.newBackend(seg.WriterGroup))
		block := provider.NewMemPoolCollectionBlock(seg.Pools)
		if err := p.AddBlock(block); err != nil {
			_ = m.lock.Release()
			return nil, errors.Newf(errors.KindMemory, op, err)
		}
		m.segments[i] = p
	}

	return m, nil
}

func defaultBackendFactory(resourcePrefix string, domainID uint16) BackendFactory {
	return func(name string) provider.Backend {
		return provider.NewShmBackend(filepath.Join(resourcePrefix, strconv.Itoa(int(domainID)), name), 0o660)
	}
}

// CreateAndAnnounce creates and announces the management Provider, then
// every segment Provider, in declared order. On failure it rolls back every
// Provider already created.
func (m *MemoryManager) CreateAndAnnounce(ctx context.Context) error {
	const op = "roudi.MemoryManager.CreateAndAnnounce"

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := m.mgmt.Create(); err != nil {
		return errors.Newf(errors.KindMemory, op, err)
	}
	if err := m.mgmt.Announce(); err != nil {
		_ = m.mgmt.Destroy()
		return errors.Newf(errors.KindMemory, op, err)
	}

	for i, seg := range m.segments {
		if err := seg.Create(); err != nil {
			m.rollbackSegments(i)
			_ = m.mgmt.Destroy()
			return errors.Newf(errors.KindMemory, op, err)
		}
		if err := seg.Announce(); err != nil {
			m.rollbackSegments(i + 1)
			_ = m.mgmt.Destroy()
			return errors.Newf(errors.KindMemory, op, err)
		}
	}

	m.logger.V(1).Info("management and segment regions created and announced",
		"domainID", m.cfg.DomainID, "segments", len(m.segments))
	return nil
}

func (m *MemoryManager) rollbackSegments(createdCount int) {
	for i := createdCount - 1; i >= 0; i-- {
		_ = m.segments[i].Destroy()
	}
}

// Destroy tears down every segment Provider (reverse declared order), then
// the management Provider, then releases the domain file lock. It collects
// and returns the first error encountered but always attempts every step.
func (m *MemoryManager) Destroy() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for i := len(m.segments) - 1; i >= 0; i-- {
		record(m.segments[i].Destroy())
	}
	record(m.mgmt.Destroy())
	if m.lock != nil {
		record(m.lock.Release())
	}
	if firstErr != nil {
		return fmt.Errorf("roudi: destroy: %w", firstErr)
	}
	return nil
}

// PortPool returns the management region's Port Pool.
func (m *MemoryManager) PortPool() *port.Pool { return m.portPool.Pool() }

// SegmentManager returns the management region's Segment Manager.
func (m *MemoryManager) SegmentManager() *memory.SegmentManager { return m.segmentMgr.SegmentManager() }

// Introspection returns the management region's introspection snapshot.
func (m *MemoryManager) Introspection() *Introspection { return m.introspection.Value() }

// DiscoveryMempool returns the management region's discovery publish buffer.
func (m *MemoryManager) DiscoveryMempool() *DiscoveryMempool { return m.discovery.Value() }

// HeartbeatPool returns the management region's heartbeat timestamp array.
func (m *MemoryManager) HeartbeatPool() *HeartbeatPool { return m.heartbeats.Value() }

// Repository returns the Pointer Repository shared by every Provider this
// MemoryManager built.
func (m *MemoryManager) Repository() *relptr.Repository { return m.repo }
