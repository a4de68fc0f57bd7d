// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package discovery implements the Discovery/Monitor Loop: a periodic task
// that reaps stale processes, advances port state machines, and publishes
// introspection snapshots.
package discovery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/antimetal/agent/internal/registry"
	"github.com/antimetal/agent/pkg/performance/ringbuffer"
	"github.com/antimetal/agent/pkg/port"
)

// historyCapacity bounds the in-memory reap history kept for introspection;
// it is not part of the management shm and is lost across Daemon restarts,
// same as everything else the Discovery Loop tracks.
const historyCapacity = 256

// ReapEvent records one process having been reaped by a discovery cycle, kept
// for introspection/debugging (e.g. a future CLI or TUI answering "why was
// this process removed").
type ReapEvent struct {
	Name string
	At   time.Time
}

// Loop runs the five-step discovery cycle on a fixed period, generalized
// from the teacher's ContinuousPointCollector ticker-driven select loop.
type Loop struct {
	period          time.Duration
	reapThreshold   time.Duration
	reg             *registry.ProcessRegistry
	ports           *port.Pool
	onProcessReaped func(name string)
	publish         func(cycle uint64)
	logger          logr.Logger

	cycle   atomic.Uint64
	trigger chan chan struct{}

	historyMu sync.Mutex
	history   *ringbuffer.RingBuffer[ReapEvent]
}

// NewLoop creates a Loop. onProcessReaped (may be nil) is called for every
// process name ReapStale returns, before that process's ports are released;
// publish (may be nil) is called once per cycle with the cycle number, after
// port states have advanced, to drive introspection-mempool writes.
func NewLoop(period, reapThreshold time.Duration, reg *registry.ProcessRegistry, ports *port.Pool, onProcessReaped func(string), publish func(uint64), logger logr.Logger) *Loop {
	history, _ := ringbuffer.New[ReapEvent](historyCapacity) // historyCapacity > 0, never fails
	return &Loop{
		period:          period,
		reapThreshold:   reapThreshold,
		reg:             reg,
		ports:           ports,
		onProcessReaped: onProcessReaped,
		publish:         publish,
		logger:          logger.WithName("discovery"),
		trigger:         make(chan chan struct{}),
		history:         history,
	}
}

// History returns the most recent reap events, oldest first, up to
// historyCapacity entries.
func (l *Loop) History() []ReapEvent {
	l.historyMu.Lock()
	defer l.historyMu.Unlock()
	return l.history.GetAll()
}

// Run executes the discovery cycle every period until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.runCycle()
		case respCh := <-l.trigger:
			l.runCycle()
			close(respCh)
		}
	}
}

// TriggerAndWaitFinish posts an out-of-band wakeup and blocks until the cycle
// it causes has run to completion, or ctx is done first. Because the cycle
// this call triggers runs synchronously inside Run's select branch before the
// response channel is closed, a successful return guarantees a full cycle
// began strictly after the trigger was issued and ran to completion.
func (l *Loop) TriggerAndWaitFinish(ctx context.Context) error {
	respCh := make(chan struct{})
	select {
	case l.trigger <- respCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-respCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cycle returns the number of discovery cycles completed so far.
func (l *Loop) Cycle() uint64 {
	return l.cycle.Load()
}

func (l *Loop) runCycle() {
	now := time.Now()

	stale := l.reg.ReapStale(now, l.reapThreshold)
	for _, name := range stale {
		if l.onProcessReaped != nil {
			l.onProcessReaped(name)
		}
		l.ports.ReleaseOwnedBy(name)
		l.logger.V(1).Info("reaped stale process", "process", name)

		l.historyMu.Lock()
		l.history.Push(ReapEvent{Name: name, At: now})
		l.historyMu.Unlock()
	}

	l.ports.AdvanceStates()

	if l.publish != nil {
		l.publish(l.cycle.Load())
	}

	l.cycle.Add(1)
}
