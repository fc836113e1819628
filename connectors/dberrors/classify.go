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

package dberrors

// Class is the retry classification of a failed attempt
type Class int

const (
	// NonRecoverable errors are never retried
	NonRecoverable Class = iota
	// Stale means the session transport died; clear the pool and retry at once
	Stale
	// PoolLevel is a connectivity failure; clear the pool and retry with backoff
	PoolLevel
	// GenericTransient is retried with backoff without touching the pool
	GenericTransient
)

func (c Class) String() string {
	switch c {
	case NonRecoverable:
		return "non_recoverable"
	case Stale:
		return "stale"
	case PoolLevel:
		return "pool_level"
	case GenericTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt may be made
func (c Class) Retryable() bool {
	return c != NonRecoverable
}

// ClearsPool reports whether the target's pool must be purged
func (c Class) ClearsPool() bool {
	return c == Stale || c == PoolLevel
}

// Immediate reports whether the retry skips the backoff wait
func (c Class) Immediate() bool {
	return c == Stale
}

// Reference error numbers (ORA-NNNNN)
const (
	CodeSessionKilled        = 28
	CodeNotLoggedOn          = 1012
	CodeEndOfFileOnChannel   = 3113
	CodeNotConnected         = 3114
	CodeConnectionLost       = 3135
	CodeConnectTimeout       = 12170
	CodeConnectionClosed     = 12537
	CodeNoListener           = 12541
	CodeHostUnreachable      = 12543
	CodeProtocolAdapterError = 12560
	CodePacketReaderFailure  = 12570
	CodePacketWriterFailure  = 12571
	CodeNoMoreDataFromSocket = 17410

	// InternalThreshold marks the start of driver-internal codes, all treated as stale
	InternalThreshold = 50000
)

var classTable = map[int]Class{
	CodeConnectTimeout:       PoolLevel,
	CodeNoListener:           PoolLevel,
	CodeHostUnreachable:      PoolLevel,
	CodeProtocolAdapterError: PoolLevel,

	CodeSessionKilled:        Stale,
	CodeNotLoggedOn:          Stale,
	CodeEndOfFileOnChannel:   Stale,
	CodeNotConnected:         Stale,
	CodeConnectionLost:       Stale,
	CodeConnectionClosed:     Stale,
	CodePacketReaderFailure:  Stale,
	CodePacketWriterFailure:  Stale,
	CodeNoMoreDataFromSocket: Stale,
}

// Classify maps a reference error number to its retry class. It is total:
// unknown codes below InternalThreshold are NonRecoverable.
func Classify(code int) Class {
	if code >= InternalThreshold {
		return Stale
	}
	if c, ok := classTable[code]; ok {
		return c
	}
	return NonRecoverable
}

// KnownCodes returns every code with an explicit entry in the table
func KnownCodes() map[int]Class {
	out := make(map[int]Class, len(classTable))
	for k, v := range classTable {
		out[k] = v
	}
	return out
}
