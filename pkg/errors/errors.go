// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package errors

import (
	stdliberrors "errors"
	"fmt"
)

var (
	ErrUnsupported = stdliberrors.ErrUnsupported

	As     = stdliberrors.As
	Is     = stdliberrors.Is
	Join   = stdliberrors.Join
	New    = stdliberrors.New
	Unwrap = stdliberrors.Unwrap
)

// Kind classifies a BrokerError for the purposes of client-reply mapping and
// error-tier propagation (internal-recoverable, internal-fatal,
// client-inflicted). The enumeration is the union of the two Memory Provider
// error-kind lists found in the source material: it includes InvalidState and
// PageSizeCheckError, which only appear in the longer of the two.
type Kind string

const (
	KindProtocol           Kind = "protocol"
	KindResourceExhausted  Kind = "resource-exhausted"
	KindMemory             Kind = "memory"
	KindConfiguration      Kind = "configuration"
	KindState              Kind = "state"
	KindCompatibility      Kind = "compatibility"
	KindEnvironment        Kind = "environment"
	KindInvalidState       Kind = "invalid-state"
	KindPageSizeCheckError Kind = "page-size-check-error"
)

// BrokerError is the typed error returned by every CORE operation that can
// fail. No error code is shared across distinct Kinds.
type BrokerError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *BrokerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err if it is (or wraps) a *BrokerError, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var berr *BrokerError
	if As(err, &berr) {
		return berr.Kind, true
	}
	return "", false
}

// Newf constructs a BrokerError for op, classified as kind, wrapping cause.
func Newf(kind Kind, op string, cause error) *BrokerError {
	return &BrokerError{Kind: kind, Op: op, Err: cause}
}

func NewRetryable(text string) RetryableError {
	return &retryableError{text}
}

func Retryable(err error) bool {
	var rerr RetryableError
	return As(err, &rerr)
}

type RetryableError interface {
	error
	Retryable()
}

type retryableError struct {
	text string
}

func (r *retryableError) Error() string {
	return r.text
}

func (r *retryableError) Retryable() {}
