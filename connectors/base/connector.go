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

package base

import (
	"time"

	"sqlbridge/connectors/descriptor"
)

// Target is a named database endpoint resolved from the registry.
// It is immutable once resolved.
type Target struct {
	Name       string                `json:"name"`
	Descriptor descriptor.Normalized `json:"-"` // Never serialized, carries credentials
}

// Provider returns the driver family of the target
func (t Target) Provider() string {
	return descriptor.Provider(t.Descriptor)
}

// Kind selects how a statement is run against a target
type Kind string

const (
	KindQuery    Kind = "query"     // Returns rows
	KindNonQuery Kind = "non_query" // Returns rows affected
	KindProbe    Kind = "probe"     // Runs the provider probe statement
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	switch k {
	case KindQuery, KindNonQuery, KindProbe:
		return true
	}
	return false
}

// Result is the outcome of one statement, either rows or a count
type Result struct {
	Target       string                   `json:"target"`
	Kind         Kind                     `json:"kind"`
	Columns      []string                 `json:"columns,omitempty"`
	Rows         []map[string]interface{} `json:"rows,omitempty"`
	RowCount     int                      `json:"row_count"`
	RowsAffected int64                    `json:"rows_affected"`
	Duration     time.Duration            `json:"duration"`
	Attempts     int                      `json:"attempts"`
}
