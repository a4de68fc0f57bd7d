// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"time"

	"github.com/antimetal/agent/internal/registry"
)

// DaemonConfig holds the CLI-surface settings from spec.md §6's flag table.
// Fields left at their zero value before ApplyDefaults take on the Daemon's
// stock defaults, mirroring the teacher's CollectionConfig/ApplyDefaults
// idiom.
type DaemonConfig struct {
	DomainID         uint16
	UniqueRoudiID    uint16
	MonitoringMode   bool
	LogLevel         string
	Compatibility    registry.CompatibilityLevel
	TerminationDelay time.Duration
	KillDelay        time.Duration
	ConfigFilePath   string
}

// DefaultDaemonConfig returns the Daemon's stock configuration.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		DomainID:         0,
		UniqueRoudiID:    0,
		MonitoringMode:   true,
		LogLevel:         "info",
		Compatibility:    registry.CompatibilityOff,
		TerminationDelay: 5 * time.Second,
		KillDelay:        5 * time.Second,
	}
}

// ApplyDefaults fills zero-valued fields with the Daemon's stock defaults.
// DomainID, UniqueRoudiID, ConfigFilePath, MonitoringMode and Compatibility
// are left as-is: their zero values are valid, meaningful settings (domain 0,
// auto daemon id, no config file, monitoring off, compatibility check off),
// unlike the teacher's CollectionConfig where 0 always means "unset".
func (c *DaemonConfig) ApplyDefaults() {
	defaults := DefaultDaemonConfig()
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	if c.TerminationDelay == 0 {
		c.TerminationDelay = defaults.TerminationDelay
	}
	if c.KillDelay == 0 {
		c.KillDelay = defaults.KillDelay
	}
}
