// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package roudi

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/antimetal/agent/pkg/errors"
)

// FileLock is the flock-based lock ensuring at most one Daemon instance runs
// in a given domain-id. The lock file lives at
// <resource-prefix>/<domain-id>/unique-roudi with owner-only permissions.
type FileLock struct {
	file *os.File
}

// AcquireFileLock opens (creating if necessary) the lock file at path and
// takes an exclusive, non-blocking flock on it. Failure to acquire indicates
// another Daemon instance already owns the domain and is a fatal
// environment error.
func AcquireFileLock(path string) (*FileLock, error) {
	const op = "roudi.AcquireFileLock"

	if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
		return nil, errors.Newf(errors.KindEnvironment, op, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Newf(errors.KindEnvironment, op, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, errors.Newf(errors.KindEnvironment, op, err)
	}
	return &FileLock{file: f}, nil
}

// Release unlocks and closes the lock file. Safe to call more than once.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
