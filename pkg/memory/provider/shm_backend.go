// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package provider

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// shmRoot is where POSIX shared-memory objects live on Linux; shm_open is
// conventionally implemented as open() rooted here.
const shmRoot = "/dev/shm"

// ShmBackend satisfies Backend with a POSIX shared-memory object, the real
// production backing for management and user-data segments. Name is the
// resource path, e.g. "roudi/0/iceoryx_mgmt" (no leading slash).
type ShmBackend struct {
	Name string
	Perm os.FileMode

	path   string
	file   *os.File
	size   uintptr
	region []byte
}

// NewShmBackend creates a ShmBackend that will (on CreateMemory) open,
// truncate and mmap the shm object at name with the given permissions.
func NewShmBackend(name string, perm os.FileMode) *ShmBackend {
	return &ShmBackend{Name: name, Perm: perm}
}

func (s *ShmBackend) CreateMemory(size, alignment uintptr) (uintptr, error) {
	if alignment > uintptr(os.Getpagesize()) {
		return 0, fmt.Errorf("provider: requested alignment %d exceeds page size", alignment)
	}

	path := filepath.Join(shmRoot, s.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
		return 0, fmt.Errorf("provider: mkdir for %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, s.Perm)
	if err != nil {
		return 0, fmt.Errorf("provider: create shm object %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return 0, fmt.Errorf("provider: truncate %s: %w", path, err)
	}

	region, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return 0, fmt.Errorf("provider: mmap %s: %w", path, err)
	}

	s.path = path
	s.file = f
	s.size = size
	s.region = region
	return uintptr(unsafe.Pointer(&region[0])), nil
}

func (s *ShmBackend) DestroyMemory() error {
	if s.file == nil {
		return nil
	}
	var err error
	if s.region != nil {
		err = unix.Munmap(s.region)
		s.region = nil
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	os.Remove(s.path)
	s.file = nil
	return err
}
