// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package daemon wires the CORE's components (Roudi Memory Manager, Process
// Registry, Port Pool, Discovery Loop, IPC Command Channel) into the
// RouDiApp-style shell described in the original's roudi_app lifecycle: parse
// configuration, build components, run, tear down on signal.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/antimetal/agent/internal/config"
	"github.com/antimetal/agent/internal/discovery"
	"github.com/antimetal/agent/internal/ipc"
	"github.com/antimetal/agent/internal/registry"
	"github.com/antimetal/agent/pkg/errors"
	"github.com/antimetal/agent/pkg/memory"
	"github.com/antimetal/agent/pkg/port"
	"github.com/antimetal/agent/pkg/relptr"
	"github.com/antimetal/agent/pkg/roudi"
)

const (
	socketFileName           = "iceoryx_roudi"
	defaultDiscoveryPeriod   = 100 * time.Millisecond
	defaultReapThreshold     = 5 * time.Second
	defaultWatchdogInterval  = time.Second
	defaultPortKindCapacity  = 256
	defaultResourcePrefixVal = "roudi"
)

// Config holds everything New needs to assemble a Daemon: the parsed CLI/
// config-file settings plus a few test-only escape hatches (RoudiOptions).
type Config struct {
	Domain config.DaemonConfig
	File   config.File

	PortCapacities [port.KindCount]int
	ResourcePrefix string
	SocketDir      string
	Version        registry.VersionInfo

	DiscoveryPeriod  time.Duration
	ReapThreshold    time.Duration
	WatchdogInterval time.Duration

	Logger logr.Logger

	// RoudiOptions is forwarded to roudi.NewRoudiMemoryManager, letting
	// tests substitute a heap Backend and a no-op lock.
	RoudiOptions []roudi.Option
}

func (c *Config) applyDefaults() {
	c.Domain.ApplyDefaults()
	if c.ResourcePrefix == "" {
		c.ResourcePrefix = defaultResourcePrefixVal
	}
	if c.SocketDir == "" {
		c.SocketDir = "/tmp"
	}
	if c.DiscoveryPeriod == 0 {
		c.DiscoveryPeriod = defaultDiscoveryPeriod
	}
	if c.ReapThreshold == 0 {
		c.ReapThreshold = defaultReapThreshold
	}
	if c.WatchdogInterval == 0 {
		c.WatchdogInterval = defaultWatchdogInterval
	}
	if c.Logger.GetSink() == nil {
		c.Logger = logr.Discard()
	}
	var empty [port.KindCount]int
	if c.PortCapacities == empty {
		for i := range c.PortCapacities {
			c.PortCapacities[i] = defaultPortKindCapacity
		}
	}
}

// Daemon orchestrates one running instance of the Broker CORE: it satisfies
// internal/ipc.Handler and drives the Discovery Loop and Watchdog for as long
// as Start has not returned via Shutdown.
type Daemon struct {
	cfg    Config
	logger logr.Logger

	mem      *roudi.MemoryManager
	registry *registry.ProcessRegistry
	ports    *port.Pool
	ids      *port.IDAllocator

	loop     *discovery.Loop
	watchdog *discovery.Watchdog
	server   *ipc.Server
	listener net.Listener

	wg           sync.WaitGroup
	cancelLoop   context.CancelFunc
	cancelWD     context.CancelFunc
	shutdownOnce sync.Once

	// shutdownRequested is closed the first time something (today, only an
	// authorised TERMINATION command) asks the whole Daemon to stop. main
	// selects on Done() alongside the OS signal context and then calls
	// Shutdown, so the request can be honoured without the IPC connection
	// handler itself blocking on the teardown it triggers.
	shutdownRequested chan struct{}
	terminateOnce     sync.Once
}

// New builds a Daemon's components (Pointer Repository, Roudi Memory
// Manager, Process Registry, Unique Port ID allocator) but does not yet
// create/announce memory or start accepting connections; call Start for
// that.
func New(cfg Config) (*Daemon, error) {
	const op = "daemon.New"

	cfg.applyDefaults()

	segments := make([]memory.SegmentConfig, len(cfg.File.Segments))
	for i, s := range cfg.File.Segments {
		pools := make([]memory.PoolConfig, len(s.Pools))
		for j, p := range s.Pools {
			pools[j] = memory.PoolConfig{ChunkSize: p.Size, ChunkCount: p.Count}
		}
		segments[i] = memory.SegmentConfig{ReaderGroup: s.Reader, WriterGroup: s.Writer, Pools: pools}
	}

	roudiCfg := roudi.Config{
		DomainID:       cfg.Domain.DomainID,
		ResourcePrefix: cfg.ResourcePrefix,
		Segments:       segments,
		PortCapacities: cfg.PortCapacities,
	}
	opts := append([]roudi.Option{roudi.WithLogger(cfg.Logger.WithName("roudi"))}, cfg.RoudiOptions...)
	mem, err := roudi.NewRoudiMemoryManager(roudiCfg, opts...)
	if err != nil {
		return nil, errors.Newf(errors.KindEnvironment, op, err)
	}

	ids := port.NewIDAllocator()
	if cfg.Domain.UniqueRoudiID != 0 {
		if err := ids.SetDaemonID(cfg.Domain.UniqueRoudiID); err != nil {
			return nil, errors.Newf(errors.KindConfiguration, op, err)
		}
	}

	d := &Daemon{
		cfg:               cfg,
		logger:            cfg.Logger,
		mem:               mem,
		registry:          registry.New(cfg.Domain.Compatibility, cfg.Version),
		ids:               ids,
		shutdownRequested: make(chan struct{}),
	}
	return d, nil
}

// Done returns a channel that is closed when something (currently, only an
// authorised TERMINATION command) requests a full daemon shutdown. Callers
// running the Daemon's lifecycle (cmd/roudi/main.go) should select on this
// alongside any external shutdown signal and then call Shutdown.
func (d *Daemon) Done() <-chan struct{} {
	return d.shutdownRequested
}

func (d *Daemon) socketPath() string {
	return filepath.Join(d.cfg.SocketDir, d.cfg.ResourcePrefix, fmt.Sprint(d.cfg.Domain.DomainID), socketFileName)
}

// Start creates and announces every memory region, binds the command socket,
// and launches the Discovery Loop, Watchdog, and IPC Server goroutines. It
// returns once the command socket is ready to accept connections.
func (d *Daemon) Start(ctx context.Context) error {
	const op = "daemon.Start"

	if err := d.mem.CreateAndAnnounce(ctx); err != nil {
		return errors.Newf(errors.KindMemory, op, err)
	}
	d.ports = d.mem.PortPool()

	d.loop = discovery.NewLoop(d.cfg.DiscoveryPeriod, d.cfg.ReapThreshold, d.registry, d.ports,
		nil, d.publishIntrospection, d.logger)
	d.watchdog = discovery.NewWatchdog(d.cfg.WatchdogInterval)

	path := d.socketPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
		return errors.Newf(errors.KindEnvironment, op, err)
	}
	os.Remove(path) // stale socket from an unclean prior shutdown
	ln, err := net.Listen("unix", path)
	if err != nil {
		return errors.Newf(errors.KindEnvironment, op, err)
	}
	d.listener = ln
	d.server = ipc.NewServer(ln, d, d.logger.WithName("ipc"))

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	d.cancelLoop = cancelLoop
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = d.loop.Run(loopCtx)
	}()

	if d.cfg.Domain.MonitoringMode {
		wdCtx, cancelWD := context.WithCancel(context.Background())
		d.cancelWD = cancelWD
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.watchdog.Run(wdCtx)
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Serve(); err != nil {
			d.logger.Error(err, "ipc command channel stopped unexpectedly")
		}
	}()

	d.logger.Info("daemon started", "domainID", d.cfg.Domain.DomainID, "socket", path)
	return nil
}

// Shutdown stops accepting new connections, escalates registered client
// processes from SIGTERM to SIGKILL per the configured termination/kill
// delays, waits for every goroutine Start launched to return, and tears down
// every memory region. Idempotent.
func (d *Daemon) Shutdown(ctx context.Context) error {
	var shutdownErr error
	d.shutdownOnce.Do(func() {
		shutdownErr = d.doShutdown(ctx)
	})
	return shutdownErr
}

func (d *Daemon) doShutdown(ctx context.Context) error {
	if d.server != nil {
		_ = d.server.Shutdown()
	}
	if d.cancelLoop != nil {
		d.cancelLoop()
	}
	if d.cancelWD != nil {
		d.cancelWD()
	}

	d.escalateClients(ctx)

	d.wg.Wait()
	_ = d.registry.Close()

	if err := d.mem.Destroy(); err != nil {
		return fmt.Errorf("daemon: shutdown: %w", err)
	}
	os.Remove(d.socketPath())
	d.logger.Info("daemon stopped")
	return nil
}

func (d *Daemon) escalateClients(ctx context.Context) {
	snapshot := d.registry.Snapshot()
	if len(snapshot) == 0 {
		return
	}

	waitOrDone := func(delay time.Duration) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}

	waitOrDone(d.cfg.Domain.TerminationDelay)
	for _, entry := range snapshot {
		signalTerminate(entry.PID)
	}

	waitOrDone(d.cfg.Domain.KillDelay)
	for _, entry := range snapshot {
		signalKill(entry.PID)
	}
}

func (d *Daemon) publishIntrospection(cycle uint64) {
	snap := d.mem.Introspection()
	if snap == nil {
		return
	}
	snap.Cycle = cycle
	snap.ProcessCount = uint32(d.registry.Len())
	for k := 0; k < port.KindCount; k++ {
		snap.PortCounts[k] = uint32(len(d.ports.All(port.Kind(k))))
	}
}

// pickSegment selects the user-data segment a newly registering process
// should map, per §4.9's "returns the user-data segment id to which it
// should map". This implementation is deliberately simple: the first
// configured segment, since the spec leaves segment-selection policy
// unspecified beyond the reader/writer-group access-control tags checked
// when a client later tries to map a segment it was not handed.
func (d *Daemon) pickSegment() (relptr.SegmentID, error) {
	entries := d.mem.SegmentManager().Entries()
	if len(entries) == 0 {
		return relptr.NullID, fmt.Errorf("daemon: no user-data segments configured")
	}
	return entries[0].SegmentID, nil
}

var _ ipc.Handler = (*Daemon)(nil)

// Register implements internal/ipc.Handler.
func (d *Daemon) Register(req ipc.RegisterRequest) (ipc.RegisterReply, error) {
	segID, err := d.pickSegment()
	if err != nil {
		return ipc.RegisterReply{}, err
	}

	client := registry.ParseVersionInfo(req.VersionInfo)
	sessionID, err := d.registry.Register(req.Name, req.PID, req.UID, req.Monitored, client, segID)
	if err != nil {
		return ipc.RegisterReply{}, err
	}
	return ipc.RegisterReply{SessionID: sessionID, SegmentID: segID}, nil
}

// Deregister implements internal/ipc.Handler.
func (d *Daemon) Deregister(name string) error {
	if err := d.registry.Deregister(name); err != nil {
		return err
	}
	d.ports.ReleaseOwnedBy(name)
	return nil
}

// Keepalive implements internal/ipc.Handler.
func (d *Daemon) Keepalive(name string) error {
	return d.registry.Heartbeat(name, time.Now())
}

// CreatePort implements internal/ipc.Handler. The returned RelPtr's ID field
// is always relptr.NullID: the Port Pool is ordinary Go heap state (see
// pkg/memory/provider.PortPoolBlock), so there is no shared-memory byte
// offset to hand back. Offset instead carries the port's Unique Port ID,
// preserving the wire protocol's "ID:Offset" shape for clients that parse it
// as an opaque handle.
func (d *Daemon) CreatePort(owningProcess string, req ipc.CreatePortRequest) (relptr.RelPtr, error) {
	id := d.ids.Allocate()
	hdr := port.Header{
		ID:            id,
		Service:       req.Service,
		OwningProcess: owningProcess,
		State:         port.StateNotSubscribed,
	}

	var descriptor port.Descriptor
	switch req.Kind {
	case port.KindPublisher:
		descriptor = &port.PublisherPort{Hdr: hdr, HistoryCapacity: req.HistoryCapacity, Node: req.Node}
	case port.KindSubscriber:
		descriptor = &port.SubscriberPort{Hdr: hdr, Node: req.Node}
	case port.KindServer:
		descriptor = &port.ServerPort{Hdr: hdr, Node: req.Node}
	case port.KindClient:
		descriptor = &port.ClientPort{Hdr: hdr, Node: req.Node}
	case port.KindInterface:
		descriptor = &port.InterfacePort{Hdr: hdr}
	case port.KindApplication:
		descriptor = &port.ApplicationPort{Hdr: hdr}
	case port.KindConditionVariable:
		descriptor = &port.ConditionVariable{Hdr: hdr}
	default:
		return relptr.RelPtr{}, fmt.Errorf("daemon: unknown port kind %v", req.Kind)
	}

	if err := d.ports.Add(descriptor); err != nil {
		return relptr.RelPtr{}, err
	}
	return relptr.RelPtr{ID: relptr.NullID, Offset: uint64(id)}, nil
}

// FindService implements internal/ipc.Handler, matching against every
// Publisher port's service triple.
func (d *Daemon) FindService(service, instance string) ([]port.ServiceTriple, error) {
	var matches []port.ServiceTriple
	for _, desc := range d.ports.All(port.KindPublisher) {
		triple := desc.Header().Service
		if triple.Service == service && triple.Instance == instance {
			matches = append(matches, triple)
		}
	}
	return matches, nil
}

// Terminate implements internal/ipc.Handler: TERMINATION requests that the
// whole Daemon shut down, per §4.11's "daemon-shutdown if authorised"
// (authorization — the caller's peer credentials matching the Daemon's own
// effective uid — is enforced by internal/ipc.Server before this is ever
// called). It only signals the request and returns immediately, so the
// connection that issued TERMINATION can still receive its ACK before
// Shutdown closes the command socket out from under it.
func (d *Daemon) Terminate(owningProcess string) error {
	d.terminateOnce.Do(func() { close(d.shutdownRequested) })
	return nil
}
