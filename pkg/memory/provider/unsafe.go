// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package provider

import "unsafe"

func sizeOf[T any](v T) uintptr {
	return unsafe.Sizeof(v)
}

func alignOf[T any](v T) uintptr {
	return unsafe.Alignof(v)
}

func addrAsPointer[T any](addr uintptr) *T {
	return (*T)(unsafe.Pointer(addr)) //nolint:govet // addr is a valid placement address handed out by Provider.Create
}
