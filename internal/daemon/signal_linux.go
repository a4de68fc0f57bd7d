// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package daemon

import "golang.org/x/sys/unix"

// signalTerminate sends SIGTERM to pid, per the termination-delay escalation
// step of a graceful shutdown. A dead or unreachable pid is not an error:
// Shutdown always proceeds to the kill-delay wait regardless.
func signalTerminate(pid int) {
	_ = unix.Kill(pid, unix.SIGTERM)
}

// signalKill sends SIGKILL to pid, the kill-delay escalation step for any
// client that did not exit on its own after SIGTERM.
func signalKill(pid int) {
	_ = unix.Kill(pid, unix.SIGKILL)
}
