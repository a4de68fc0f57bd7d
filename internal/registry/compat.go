// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// CompatibilityLevel selects how strictly a registering client's VersionInfo
// must match the Daemon's own, per the -x/--compatibility CLI flag.
type CompatibilityLevel int

const (
	CompatibilityOff CompatibilityLevel = iota
	CompatibilityMajor
	CompatibilityMinor
	CompatibilityPatch
	CompatibilityCommitID
	CompatibilityBuildDate
)

// ParseCompatibilityLevel parses the -x flag's string values.
func ParseCompatibilityLevel(s string) (CompatibilityLevel, error) {
	switch s {
	case "off":
		return CompatibilityOff, nil
	case "major":
		return CompatibilityMajor, nil
	case "minor":
		return CompatibilityMinor, nil
	case "patch":
		return CompatibilityPatch, nil
	case "commitId":
		return CompatibilityCommitID, nil
	case "buildDate":
		return CompatibilityBuildDate, nil
	default:
		return 0, fmt.Errorf("registry: unknown compatibility level %q", s)
	}
}

// VersionInfo identifies the Broker build a process was linked against.
type VersionInfo struct {
	Major     uint32
	Minor     uint32
	Patch     uint32
	CommitID  string
	BuildDate string
}

// FormatVersionInfo renders v onto the wire as a single REG field:
// "major.minor.patch:commitId:buildDate".
func FormatVersionInfo(v VersionInfo) string {
	return fmt.Sprintf("%d.%d.%d:%s:%s", v.Major, v.Minor, v.Patch, v.CommitID, v.BuildDate)
}

// ParseVersionInfo parses the REG command's version_info field, produced by
// FormatVersionInfo. It is deliberately lenient: an unparseable or partial
// string yields the zero value for whichever component it could not parse
// rather than an error, since a CompatibilityOff daemon (the default) never
// inspects these fields at all.
func ParseVersionInfo(s string) VersionInfo {
	var v VersionInfo
	parts := strings.SplitN(s, ":", 3)

	nums := strings.SplitN(parts[0], ".", 3)
	if len(nums) > 0 {
		v.Major = parseUint32(nums[0])
	}
	if len(nums) > 1 {
		v.Minor = parseUint32(nums[1])
	}
	if len(nums) > 2 {
		v.Patch = parseUint32(nums[2])
	}
	if len(parts) > 1 {
		v.CommitID = parts[1]
	}
	if len(parts) > 2 {
		v.BuildDate = parts[2]
	}
	return v
}

func parseUint32(s string) uint32 {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// Compatible reports whether client satisfies level against daemon, the
// Daemon's own VersionInfo. Each level subsumes the checks of every level
// before it.
func Compatible(level CompatibilityLevel, daemon, client VersionInfo) bool {
	if level >= CompatibilityMajor && daemon.Major != client.Major {
		return false
	}
	if level >= CompatibilityMinor && daemon.Minor != client.Minor {
		return false
	}
	if level >= CompatibilityPatch && daemon.Patch != client.Patch {
		return false
	}
	if level >= CompatibilityCommitID && daemon.CommitID != client.CommitID {
		return false
	}
	if level >= CompatibilityBuildDate && daemon.BuildDate != client.BuildDate {
		return false
	}
	return true
}
