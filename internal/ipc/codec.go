// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package ipc implements the Command Channel: a unix-domain-socket server
// speaking a line-oriented, unit-separator-delimited text protocol.
package ipc

import (
	"bytes"
	"fmt"
)

// UnitSeparator is the ASCII field delimiter (0x1F) used within one record.
const UnitSeparator = 0x1F

// MaxRecordLength bounds a single command or reply record, including its
// terminating LF.
const MaxRecordLength = 4096

// Encode joins fields with UnitSeparator and appends a single trailing LF,
// producing one wire record.
func Encode(fields ...string) []byte {
	var buf bytes.Buffer
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(UnitSeparator)
		}
		buf.WriteString(f)
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// Decode splits a single record (without its trailing LF) into fields.
// It rejects records exceeding MaxRecordLength or containing an embedded LF.
func Decode(line []byte) ([]string, error) {
	if len(line) > MaxRecordLength-1 {
		return nil, fmt.Errorf("ipc: record exceeds max length %d", MaxRecordLength)
	}
	if bytes.IndexByte(line, '\n') != -1 {
		return nil, fmt.Errorf("ipc: record contains embedded newline")
	}
	if len(line) == 0 {
		return nil, fmt.Errorf("ipc: empty record")
	}
	parts := bytes.Split(line, []byte{UnitSeparator})
	fields := make([]string, len(parts))
	for i, p := range parts {
		fields[i] = string(p)
	}
	return fields, nil
}
