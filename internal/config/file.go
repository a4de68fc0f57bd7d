// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package config parses the Daemon's bespoke key-value config file and holds
// the CLI-derived DaemonConfig.
package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/antimetal/agent/pkg/errors"
)

// MaxSegments and MaxPoolsPerSegment are the implementation-defined caps
// enforced at parse time.
const (
	MaxSegments        = 100
	MaxPoolsPerSegment = 32
)

// MempoolSpec is one `[mempool]` entry nested under a segment.
type MempoolSpec struct {
	Size  uint32
	Count uint32
}

// SegmentSpec is one `[segment]` entry.
type SegmentSpec struct {
	Reader string
	Writer string
	Pools  []MempoolSpec
}

// File is the parsed contents of a config file: one "general" section and a
// repeated "segment" section, each holding one or more nested "mempool"
// entries.
type File struct {
	Version  int
	Segments []SegmentSpec
}

type section int

const (
	sectionNone section = iota
	sectionGeneral
	sectionSegment
	sectionMempool
)

// Parse reads the bespoke key-value config-file grammar: `[section]` headers
// introducing "general" (one, holding `version`), repeated "segment" (each
// holding `reader`, `writer`, and one or more nested "mempool" holding `size`
// and `count`). It enforces MaxSegments and MaxPoolsPerSegment and rejects
// segments with no mempool entries.
func Parse(r io.Reader) (*File, error) {
	f := &File{}
	cur := sectionNone
	var seg *SegmentSpec
	var pool *MempoolSpec

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			header := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			switch header {
			case "general":
				cur = sectionGeneral
			case "segment":
				if seg != nil {
					if pool != nil {
						seg.Pools = append(seg.Pools, *pool)
						pool = nil
					}
					if err := finishSegment(f, seg); err != nil {
						return nil, err
					}
				}
				if len(f.Segments) >= MaxSegments {
					return nil, errors.Newf(errors.KindConfiguration, "config.Parse",
						fmt.Errorf("line %d: exceeds max segments (%d)", lineNo, MaxSegments))
				}
				seg = &SegmentSpec{}
				pool = nil
				cur = sectionSegment
			case "mempool":
				if seg == nil {
					return nil, errors.Newf(errors.KindConfiguration, "config.Parse",
						fmt.Errorf("line %d: mempool outside of a segment", lineNo))
				}
				if pool != nil {
					seg.Pools = append(seg.Pools, *pool)
				}
				if len(seg.Pools) >= MaxPoolsPerSegment {
					return nil, errors.Newf(errors.KindConfiguration, "config.Parse",
						fmt.Errorf("line %d: exceeds max pools per segment (%d)", lineNo, MaxPoolsPerSegment))
				}
				pool = &MempoolSpec{}
				cur = sectionMempool
			default:
				return nil, errors.Newf(errors.KindConfiguration, "config.Parse",
					fmt.Errorf("line %d: unknown section %q", lineNo, header))
			}
			continue
		}

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, errors.Newf(errors.KindConfiguration, "config.Parse",
				fmt.Errorf("line %d: expected key = value", lineNo))
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)

		switch cur {
		case sectionGeneral:
			if key != "version" {
				return nil, errors.Newf(errors.KindConfiguration, "config.Parse",
					fmt.Errorf("line %d: unknown general key %q", lineNo, key))
			}
			v, err := strconv.Atoi(val)
			if err != nil {
				return nil, errors.Newf(errors.KindConfiguration, "config.Parse", err)
			}
			f.Version = v
		case sectionSegment:
			switch key {
			case "reader":
				seg.Reader = val
			case "writer":
				seg.Writer = val
			default:
				return nil, errors.Newf(errors.KindConfiguration, "config.Parse",
					fmt.Errorf("line %d: unknown segment key %q", lineNo, key))
			}
		case sectionMempool:
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return nil, errors.Newf(errors.KindConfiguration, "config.Parse", err)
			}
			switch key {
			case "size":
				pool.Size = uint32(n)
			case "count":
				pool.Count = uint32(n)
			default:
				return nil, errors.Newf(errors.KindConfiguration, "config.Parse",
					fmt.Errorf("line %d: unknown mempool key %q", lineNo, key))
			}
		default:
			return nil, errors.Newf(errors.KindConfiguration, "config.Parse",
				fmt.Errorf("line %d: key = value outside of any section", lineNo))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Newf(errors.KindConfiguration, "config.Parse", err)
	}
	if pool != nil {
		seg.Pools = append(seg.Pools, *pool)
	}
	if seg != nil {
		if err := finishSegment(f, seg); err != nil {
			return nil, err
		}
	}

	if f.Version != 1 {
		return nil, errors.Newf(errors.KindConfiguration, "config.Parse",
			fmt.Errorf("unsupported config version %d, want 1", f.Version))
	}
	if len(f.Segments) == 0 {
		return nil, errors.Newf(errors.KindConfiguration, "config.Parse",
			fmt.Errorf("no segments defined"))
	}
	return f, nil
}

func finishSegment(f *File, seg *SegmentSpec) error {
	if len(seg.Pools) == 0 {
		return errors.Newf(errors.KindConfiguration, "config.Parse",
			fmt.Errorf("segment %q/%q has no mempool entries", seg.Reader, seg.Writer))
	}
	for _, p := range seg.Pools {
		if p.Size == 0 {
			return errors.Newf(errors.KindConfiguration, "config.Parse",
				fmt.Errorf("segment %q/%q: mempool size must be > 0", seg.Reader, seg.Writer))
		}
		if p.Count == 0 {
			return errors.Newf(errors.KindConfiguration, "config.Parse",
				fmt.Errorf("segment %q/%q: mempool count must be > 0", seg.Reader, seg.Writer))
		}
	}
	f.Segments = append(f.Segments, *seg)
	return nil
}
