// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package registry

import (
	"testing"
	"time"

	"github.com/antimetal/agent/pkg/relptr"
)

func daemonVersion() VersionInfo {
	return VersionInfo{Major: 1, Minor: 2, Patch: 3, CommitID: "abc", BuildDate: "2026-01-01"}
}

func TestRegisterAssignsDistinctSessionIDs(t *testing.T) {
	r := New(CompatibilityOff, daemonVersion())
	s1, err := r.Register("a", 1, 0, true, VersionInfo{}, relptr.SegmentID(1))
	if err != nil {
		t.Fatalf("Register a: %v", err)
	}
	s2, err := r.Register("b", 2, 0, true, VersionInfo{}, relptr.SegmentID(2))
	if err != nil {
		t.Fatalf("Register b: %v", err)
	}
	if s1 == s2 {
		t.Fatalf("session ids not distinct: %d == %d", s1, s2)
	}
}

func TestRegisterNameTaken(t *testing.T) {
	r := New(CompatibilityOff, daemonVersion())
	if _, err := r.Register("a", 1, 0, true, VersionInfo{}, relptr.SegmentID(1)); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := r.Register("a", 2, 0, true, VersionInfo{}, relptr.SegmentID(2)); err != ErrNameTaken {
		t.Fatalf("Register duplicate = %v, want ErrNameTaken", err)
	}
}

func TestRegisterIncompatibleVersion(t *testing.T) {
	r := New(CompatibilityMajor, daemonVersion())
	client := VersionInfo{Major: 2}
	if _, err := r.Register("a", 1, 0, true, client, relptr.SegmentID(1)); err != ErrIncompatibleVersion {
		t.Fatalf("Register = %v, want ErrIncompatibleVersion", err)
	}
}

func TestDeregisterUnknown(t *testing.T) {
	r := New(CompatibilityOff, daemonVersion())
	if err := r.Deregister("ghost"); err != ErrUnknownProcess {
		t.Fatalf("Deregister = %v, want ErrUnknownProcess", err)
	}
}

func TestHeartbeatUnknown(t *testing.T) {
	r := New(CompatibilityOff, daemonVersion())
	if err := r.Heartbeat("ghost", time.Now()); err != ErrUnknownProcess {
		t.Fatalf("Heartbeat = %v, want ErrUnknownProcess", err)
	}
}

func TestReapStaleOnlyMonitoredPastThreshold(t *testing.T) {
	r := New(CompatibilityOff, daemonVersion())
	if _, err := r.Register("stale", 1, 0, true, VersionInfo{}, relptr.SegmentID(1)); err != nil {
		t.Fatalf("Register stale: %v", err)
	}
	if _, err := r.Register("fresh", 2, 0, true, VersionInfo{}, relptr.SegmentID(2)); err != nil {
		t.Fatalf("Register fresh: %v", err)
	}
	if _, err := r.Register("unmonitored", 3, 0, false, VersionInfo{}, relptr.SegmentID(3)); err != nil {
		t.Fatalf("Register unmonitored: %v", err)
	}

	past := time.Now().Add(-time.Hour)
	if err := r.Heartbeat("stale", past); err != nil {
		t.Fatalf("Heartbeat stale: %v", err)
	}
	if err := r.Heartbeat("unmonitored", past); err != nil {
		t.Fatalf("Heartbeat unmonitored: %v", err)
	}

	names := r.ReapStale(time.Now(), time.Minute)
	if len(names) != 1 || names[0] != "stale" {
		t.Fatalf("ReapStale = %v, want [stale]", names)
	}
	if _, ok := r.Get("stale"); ok {
		t.Fatal("expected stale process removed from table")
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Fatal("fresh process should remain registered")
	}
	if _, ok := r.Get("unmonitored"); !ok {
		t.Fatal("unmonitored process should never be reaped regardless of heartbeat age")
	}
}

func TestRegisterDeregisterReapRoundTrip(t *testing.T) {
	r := New(CompatibilityOff, daemonVersion())

	if _, err := r.Register("a", 1, 0, false, VersionInfo{}, relptr.SegmentID(1)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, ok := r.Get("a"); !ok {
		t.Fatal("expected a registered")
	}

	if err := r.Deregister("a"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if _, ok := r.Get("a"); ok {
		t.Fatal("expected a removed after Deregister")
	}

	if _, err := r.Register("b", 2, 0, true, VersionInfo{}, relptr.SegmentID(2)); err != nil {
		t.Fatalf("Register b: %v", err)
	}
	if err := r.Heartbeat("b", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	reaped := r.ReapStale(time.Now(), time.Minute)
	if len(reaped) != 1 || reaped[0] != "b" {
		t.Fatalf("ReapStale = %v, want [b]", reaped)
	}
	if _, ok := r.Get("b"); ok {
		t.Fatal("expected b removed after ReapStale")
	}
}

func TestSnapshotReturnsEveryEntry(t *testing.T) {
	r := New(CompatibilityOff, daemonVersion())
	if _, err := r.Register("a", 111, 0, true, VersionInfo{}, relptr.SegmentID(1)); err != nil {
		t.Fatalf("Register a: %v", err)
	}
	if _, err := r.Register("b", 222, 0, false, VersionInfo{}, relptr.SegmentID(2)); err != nil {
		t.Fatalf("Register b: %v", err)
	}

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(Snapshot()) = %d, want 2", len(snap))
	}
	pids := map[int]bool{}
	for _, e := range snap {
		pids[e.PID] = true
	}
	if !pids[111] || !pids[222] {
		t.Fatalf("Snapshot() = %+v, want entries for pids 111 and 222", snap)
	}
}

func TestVersionInfoRoundTrip(t *testing.T) {
	want := VersionInfo{Major: 4, Minor: 5, Patch: 6, CommitID: "deadbeef", BuildDate: "2026-07-29"}
	got := ParseVersionInfo(FormatVersionInfo(want))
	if got != want {
		t.Fatalf("ParseVersionInfo(FormatVersionInfo(v)) = %+v, want %+v", got, want)
	}
}

func TestParseVersionInfoTolerantOfMalformedInput(t *testing.T) {
	got := ParseVersionInfo("v")
	want := VersionInfo{}
	if got != want {
		t.Fatalf("ParseVersionInfo(%q) = %+v, want zero value", "v", got)
	}
}

func TestCloseIsIdempotentAndRejectsFurtherRegistration(t *testing.T) {
	r := New(CompatibilityOff, daemonVersion())
	if err := r.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := r.Register("a", 1, 0, true, VersionInfo{}, relptr.SegmentID(1)); err == nil {
		t.Fatal("expected Register to fail on a closed registry")
	}
}
