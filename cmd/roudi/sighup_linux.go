// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
)

// ignoreSIGHUP logs and discards SIGHUP, per the daemon's signal-handling
// design: a config reload on SIGHUP is not supported, but the process should
// not die from a terminal hangup either.
func ignoreSIGHUP(logger logr.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		for range ch {
			logger.Info("SIGHUP received, ignoring")
		}
	}()
}
