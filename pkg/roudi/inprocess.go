// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package roudi

import "github.com/antimetal/agent/pkg/memory/provider"

// NewInProcess builds a MemoryManager for single-process use: every region
// lives on the Go heap and there is no domain file lock to contend over,
// mirroring the original's single-process example where RouDi and its one
// client link into the same binary and talk to the same in-memory objects
// directly, with no real shared memory or IPC socket involved. Intended for
// this package's own integration tests and for embedding the Broker inside a
// larger process.
//
// Caller-supplied opts are applied after the in-process defaults, so a test
// can still override the backend or lock if it has a specific need to.
func NewInProcess(cfg Config, opts ...Option) (*MemoryManager, error) {
	inProcessOpts := append([]Option{
		WithBackendFactory(func(string) provider.Backend { return provider.NewHeapBackend() }),
		WithLock(nullLock{}),
	}, opts...)
	return NewRoudiMemoryManager(cfg, inProcessOpts...)
}
