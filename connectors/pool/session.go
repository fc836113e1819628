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

package pool

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Conn is the native driver handle owned by a Session. *sql.Conn satisfies it.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Close() error
}

// State is the lifecycle state of a Session
type State int

const (
	StateIdle State = iota
	StateInUse
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in_use"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one live connection to a target. It is owned either by its
// pool (Idle) or by exactly one in-flight operation (InUse), never both.
type Session struct {
	ID              string
	Target          string
	CreatedAt       time.Time
	LastValidatedAt time.Time

	epoch uint64
	state State
	conn  Conn
}

// Conn returns the driver handle, nil until the session is opened
func (s *Session) Conn() Conn {
	return s.conn
}

// Opened reports whether the underlying connection has been established
func (s *Session) Opened() bool {
	return s.conn != nil
}

// State returns the lifecycle state
func (s *Session) State() State {
	return s.state
}

// Epoch returns the pool generation the session was created in
func (s *Session) Epoch() uint64 {
	return s.epoch
}

// Validate runs probe on the session and records the validation time
func (s *Session) Validate(ctx context.Context, probe string) error {
	if s.conn == nil {
		return fmt.Errorf("session %s is not open", s.ID)
	}
	rows, err := s.conn.QueryContext(ctx, probe)
	if err != nil {
		return err
	}
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}
	s.LastValidatedAt = time.Now()
	return nil
}

func (s *Session) close() error {
	s.state = StateClosed
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
