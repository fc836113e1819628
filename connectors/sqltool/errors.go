// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sqltool

import (
	"errors"
	"fmt"
	"strings"

	"sqlbridge/connectors/base"
	"sqlbridge/connectors/dberrors"
	"sqlbridge/connectors/descriptor"
	"sqlbridge/connectors/pool"
	"sqlbridge/connectors/registry"
	"sqlbridge/connectors/resilient"
)

// Error categories carried by *Error
const (
	CodeInvalidRequest  = "invalid_request"
	CodeNotFound        = "not_found"
	CodeConnectFailed   = "connect_failed"
	CodeOperationFailed = "operation_failed"
	CodeNonRecoverable  = "non_recoverable"
	CodePoolExhausted   = "pool_exhausted"
	CodeCanceled        = "canceled"
	CodeInternal        = "internal"
)

// Error is the only error type Service returns. Message never contains the
// target's descriptor or password.
type Error struct {
	Target     string    `json:"target"`
	Kind       base.Kind `json:"kind,omitempty"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	VendorCode string    `json:"vendor_code,omitempty"`

	err error
}

func (e *Error) Error() string {
	if e.VendorCode != "" {
		return fmt.Sprintf("%s [%s] %s: %s", e.Target, e.Code, e.VendorCode, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Target, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// newError converts a failure into a boundary error for target. d is the
// resolved descriptor, empty when resolution failed.
func newError(target string, kind base.Kind, d descriptor.Normalized, err error) *Error {
	return &Error{
		Target:     target,
		Kind:       kind,
		Code:       codeOf(err),
		Message:    scrub(err.Error(), d),
		VendorCode: dberrors.VendorCode(err),
		err:        err,
	}
}

func codeOf(err error) string {
	var (
		notFound      *registry.NotFoundError
		canceled      *resilient.CanceledError
		connectFailed *resilient.ConnectFailedError
		opFailed      *resilient.OperationFailedError
		nonRecover    *resilient.NonRecoverableError
	)
	switch {
	case errors.As(err, &notFound):
		return CodeNotFound
	case errors.As(err, &canceled):
		return CodeCanceled
	case errors.Is(err, pool.ErrPoolExhausted):
		return CodePoolExhausted
	case errors.As(err, &connectFailed):
		return CodeConnectFailed
	case errors.As(err, &opFailed):
		return CodeOperationFailed
	case errors.As(err, &nonRecover):
		return CodeNonRecoverable
	default:
		return CodeInternal
	}
}

// scrub removes every rendering of d that a driver might echo back
func scrub(msg string, d descriptor.Normalized) string {
	raw := d.Raw()
	if raw == "" {
		return msg
	}
	msg = strings.ReplaceAll(msg, raw, "<descriptor>")
	msg = strings.ReplaceAll(msg, descriptor.Redact(raw), "<descriptor>")
	if _, dsn, err := descriptor.DriverDSN(d); err == nil && dsn != "" {
		msg = strings.ReplaceAll(msg, dsn, "<dsn>")
	}
	if pw, ok := descriptor.Get(raw, descriptor.KeyPassword); ok && pw != "" {
		msg = strings.ReplaceAll(msg, pw, "***")
	}
	return msg
}
