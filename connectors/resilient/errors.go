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

package resilient

import (
	"errors"
	"fmt"
	"time"

	"sqlbridge/connectors/dberrors"
)

// Stages at which an attempt can fail or be canceled
const (
	StageAcquire  = "acquire"
	StageOpen     = "open"
	StageValidate = "validate"
	StageBackoff  = "backoff"
	StageExecute  = "execute"
)

var (
	errConnectTimeout  = errors.New("connect timeout")
	errValidateTimeout = errors.New("validate timeout")
	errCommandTimeout  = errors.New("command timeout")
)

// ConnectFailedError is returned when every connect attempt failed with a
// retryable error. Err is the last underlying error.
type ConnectFailedError struct {
	Target   string
	Attempts int
	Err      error
}

func (e *ConnectFailedError) Error() string {
	return fmt.Sprintf("connect to %s failed after %d attempts: %v", e.Target, e.Attempts, e.Err)
}

func (e *ConnectFailedError) Unwrap() error {
	return e.Err
}

// OperationFailedError is returned when every execute attempt failed with a
// retryable error. Err is the last underlying error.
type OperationFailedError struct {
	Target   string
	Attempts int
	Err      error
}

func (e *OperationFailedError) Error() string {
	return fmt.Sprintf("operation on %s failed after %d attempts: %v", e.Target, e.Attempts, e.Err)
}

func (e *OperationFailedError) Unwrap() error {
	return e.Err
}

// NonRecoverableError carries an error that is never retried
type NonRecoverableError struct {
	Target string
	Stage  string
	Err    error
}

func (e *NonRecoverableError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Stage, e.Target, e.Err)
}

func (e *NonRecoverableError) Unwrap() error {
	return e.Err
}

// CanceledError reports that the caller's context ended the operation.
// Cause is the caller context's cause, never an internal timeout.
type CanceledError struct {
	Target string
	Stage  string
	Cause  error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("%s on %s canceled by caller: %v", e.Stage, e.Target, e.Cause)
}

func (e *CanceledError) Unwrap() error {
	return e.Cause
}

// TimeoutError reports that an internal timeout, not the caller, ended a stage
type TimeoutError struct {
	Stage string
	Limit time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s: %v", e.Stage, e.Limit, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Class returns the retry class of the timeout. A connect timeout is a
// connectivity failure; validate and command timeouts are transient.
func (e *TimeoutError) Class() dberrors.Class {
	if e.Stage == StageOpen {
		return dberrors.PoolLevel
	}
	return dberrors.GenericTransient
}

// IsTerminal reports whether err is one of the terminal retry outcomes
func IsTerminal(err error) bool {
	var cf *ConnectFailedError
	var of *OperationFailedError
	var nr *NonRecoverableError
	return errors.As(err, &cf) || errors.As(err, &of) || errors.As(err, &nr)
}

// IsCanceled reports whether err is a caller cancellation
func IsCanceled(err error) bool {
	var ce *CanceledError
	return errors.As(err, &ce)
}

// classify maps an attempt failure to its retry class
func classify(err error) dberrors.Class {
	var te *TimeoutError
	if errors.As(err, &te) {
		return te.Class()
	}
	return dberrors.ClassOf(err)
}
