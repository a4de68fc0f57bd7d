// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"strings"
	"testing"

	"github.com/antimetal/agent/pkg/errors"
)

const validConfig = `
[general]
version = 1

[segment]
reader = readers
writer = writers
[mempool]
size = 128
count = 1000
[mempool]
size = 1024
count = 100

[segment]
reader = other-readers
writer = other-writers
[mempool]
size = 256
count = 500
`

func TestParseValidConfig(t *testing.T) {
	f, err := Parse(strings.NewReader(validConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Version != 1 {
		t.Fatalf("Version = %d, want 1", f.Version)
	}
	if len(f.Segments) != 2 {
		t.Fatalf("len(Segments) = %d, want 2", len(f.Segments))
	}
	first := f.Segments[0]
	if first.Reader != "readers" || first.Writer != "writers" {
		t.Fatalf("Segments[0] = %+v", first)
	}
	if len(first.Pools) != 2 {
		t.Fatalf("len(Segments[0].Pools) = %d, want 2", len(first.Pools))
	}
	if first.Pools[0].Size != 128 || first.Pools[0].Count != 1000 {
		t.Fatalf("Segments[0].Pools[0] = %+v", first.Pools[0])
	}
	if first.Pools[1].Size != 1024 || first.Pools[1].Count != 100 {
		t.Fatalf("Segments[0].Pools[1] = %+v", first.Pools[1])
	}

	second := f.Segments[1]
	if len(second.Pools) != 1 || second.Pools[0].Size != 256 {
		t.Fatalf("Segments[1] = %+v", second)
	}
}

func TestParseRejectsWrongVersion(t *testing.T) {
	const cfg = `
[general]
version = 2
[segment]
reader = r
writer = w
[mempool]
size = 1
count = 1
`
	if _, err := Parse(strings.NewReader(cfg)); err == nil {
		t.Fatal("expected error for unsupported version")
	} else if k, ok := errors.KindOf(err); !ok || k != errors.KindConfiguration {
		t.Fatalf("KindOf(err) = (%v, %v), want (configuration, true)", k, ok)
	}
}

func TestParseRejectsNoSegments(t *testing.T) {
	const cfg = `
[general]
version = 1
`
	if _, err := Parse(strings.NewReader(cfg)); err == nil {
		t.Fatal("expected error for no segments")
	}
}

func TestParseRejectsSegmentWithNoMempool(t *testing.T) {
	const cfg = `
[general]
version = 1
[segment]
reader = r
writer = w
`
	if _, err := Parse(strings.NewReader(cfg)); err == nil {
		t.Fatal("expected error for segment with no mempool")
	}
}

func TestParseRejectsZeroSizeOrCount(t *testing.T) {
	cases := []string{
		"[general]\nversion = 1\n[segment]\nreader = r\nwriter = w\n[mempool]\nsize = 0\ncount = 1\n",
		"[general]\nversion = 1\n[segment]\nreader = r\nwriter = w\n[mempool]\nsize = 1\ncount = 0\n",
	}
	for _, cfg := range cases {
		if _, err := Parse(strings.NewReader(cfg)); err == nil {
			t.Fatalf("expected error for %q", cfg)
		}
	}
}

func TestParseRejectsMempoolOutsideSegment(t *testing.T) {
	const cfg = `
[general]
version = 1
[mempool]
size = 1
count = 1
`
	if _, err := Parse(strings.NewReader(cfg)); err == nil {
		t.Fatal("expected error for mempool outside segment")
	}
}

func TestParseRejectsTooManySegments(t *testing.T) {
	var b strings.Builder
	b.WriteString("[general]\nversion = 1\n")
	for i := 0; i < MaxSegments+1; i++ {
		b.WriteString("[segment]\nreader = r\nwriter = w\n[mempool]\nsize = 1\ncount = 1\n")
	}
	if _, err := Parse(strings.NewReader(b.String())); err == nil {
		t.Fatal("expected error exceeding max segments")
	}
}

func TestParseRejectsTooManyPoolsPerSegment(t *testing.T) {
	var b strings.Builder
	b.WriteString("[general]\nversion = 1\n[segment]\nreader = r\nwriter = w\n")
	for i := 0; i < MaxPoolsPerSegment+1; i++ {
		b.WriteString("[mempool]\nsize = 1\ncount = 1\n")
	}
	if _, err := Parse(strings.NewReader(b.String())); err == nil {
		t.Fatal("expected error exceeding max pools per segment")
	}
}

func TestDaemonConfigApplyDefaults(t *testing.T) {
	var c DaemonConfig
	c.ApplyDefaults()
	if c.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info", c.LogLevel)
	}
	if c.TerminationDelay == 0 || c.KillDelay == 0 {
		t.Fatal("expected non-zero delays after ApplyDefaults")
	}

	c2 := DaemonConfig{LogLevel: "debug"}
	c2.ApplyDefaults()
	if c2.LogLevel != "debug" {
		t.Fatalf("ApplyDefaults overwrote explicit LogLevel: %q", c2.LogLevel)
	}
}
