// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package discovery

import (
	"context"
	"sync/atomic"
	"time"
)

// Watchdog is the optional liveness-signal thread from spec.md §5: a
// ticker-driven goroutine, kept separate from the Discovery Loop's own
// period, that flips a counter an external probe can read.
type Watchdog struct {
	interval time.Duration
	beats    atomic.Int64
}

// NewWatchdog creates a Watchdog that increments its counter every interval.
func NewWatchdog(interval time.Duration) *Watchdog {
	return &Watchdog{interval: interval}
}

// Run increments the heartbeat counter every interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.beats.Add(1)
		}
	}
}

// Heartbeats returns the number of watchdog ticks observed so far.
func (w *Watchdog) Heartbeats() int64 {
	return w.beats.Load()
}
