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

// Package sqltool is the boundary the tool-dispatch layer calls: it resolves
// a schema name, runs one statement through the resilient executor and turns
// every failure into an *Error that is safe to show to a caller.
package sqltool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sqlbridge/connectors/base"
	"sqlbridge/connectors/descriptor"
	"sqlbridge/connectors/pool"
	"sqlbridge/connectors/resilient"
	"sqlbridge/shared/logger"
)

// Resolver maps schema names to targets
type Resolver interface {
	Resolve(ctx context.Context, name string) (base.Target, error)
	Names(ctx context.Context) ([]string, error)
}

// Runner runs an operation with retries. *resilient.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, target base.Target, op resilient.Operation) (*base.Result, error)
}

// Observer receives one event per completed Execute call
type Observer interface {
	OperationCompleted(target string, kind base.Kind, d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) OperationCompleted(string, base.Kind, time.Duration, error) {}

// Service executes SQL text against named targets
type Service struct {
	resolver Resolver
	runner   Runner
	observer Observer
	logger   *logger.Logger

	// MaxRows caps the rows a query returns; 0 means no cap
	MaxRows int
}

// NewService creates a service. observer may be nil.
func NewService(resolver Resolver, runner Runner, observer Observer) *Service {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Service{
		resolver: resolver,
		runner:   runner,
		observer: observer,
		logger:   logger.New("sqltool"),
	}
}

// Execute runs sqlText on schema. Probe ignores sqlText and runs the
// provider's trivial statement.
func (s *Service) Execute(ctx context.Context, schema, sqlText string, kind base.Kind) (*base.Result, error) {
	requestID := uuid.New().String()
	started := time.Now()

	result, err := s.execute(ctx, requestID, schema, sqlText, kind)
	if err != nil {
		s.observer.OperationCompleted(schema, kind, time.Since(started), err)
		s.logger.ErrorWithCode(schema, requestID, "Statement failed", err.VendorCode, err, map[string]interface{}{
			"kind": string(kind),
			"code": err.Code,
		})
		return nil, err
	}

	s.observer.OperationCompleted(schema, kind, time.Since(started), nil)
	s.logger.InfoWithDuration(schema, requestID, "Statement executed", float64(time.Since(started).Milliseconds()), map[string]interface{}{
		"kind":          string(kind),
		"row_count":     result.RowCount,
		"rows_affected": result.RowsAffected,
		"attempts":      result.Attempts,
	})
	return result, nil
}

func (s *Service) execute(ctx context.Context, requestID, schema, sqlText string, kind base.Kind) (*base.Result, *Error) {
	if !kind.Valid() {
		return nil, &Error{Target: schema, Kind: kind, Code: CodeInvalidRequest, Message: fmt.Sprintf("unsupported operation kind %q", kind)}
	}
	if kind != base.KindProbe && strings.TrimSpace(sqlText) == "" {
		return nil, &Error{Target: schema, Kind: kind, Code: CodeInvalidRequest, Message: "sql text is empty"}
	}

	target, err := s.resolver.Resolve(ctx, schema)
	if err != nil {
		return nil, newError(schema, kind, "", err)
	}

	var op resilient.Operation
	switch kind {
	case base.KindQuery:
		op = s.query(sqlText)
	case base.KindNonQuery:
		op = nonQuery(sqlText)
	case base.KindProbe:
		op = probe(descriptor.ProbeStatement(target.Provider()))
	}

	s.logger.Debug(target.Name, requestID, "Executing statement", map[string]interface{}{
		"kind":     string(kind),
		"provider": target.Provider(),
	})

	result, err := s.runner.Execute(ctx, target, op)
	if err != nil {
		return nil, newError(target.Name, kind, target.Descriptor, err)
	}
	result.Kind = kind
	return result, nil
}

// Schemas lists the names Execute accepts
func (s *Service) Schemas(ctx context.Context) ([]string, error) {
	names, err := s.resolver.Names(ctx)
	if err != nil {
		return nil, newError("", "", "", err)
	}
	return names, nil
}

func (s *Service) query(sqlText string) resilient.Operation {
	limit := s.MaxRows
	return func(ctx context.Context, sess *pool.Session) (*base.Result, error) {
		rows, err := sess.Conn().QueryContext(ctx, sqlText)
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()

		columns, err := rows.Columns()
		if err != nil {
			return nil, err
		}

		results := make([]map[string]interface{}, 0)
		for rows.Next() {
			if limit > 0 && len(results) >= limit {
				break
			}

			values := make([]interface{}, len(columns))
			valuePtrs := make([]interface{}, len(columns))
			for i := range values {
				valuePtrs[i] = &values[i]
			}
			if err := rows.Scan(valuePtrs...); err != nil {
				return nil, err
			}

			row := make(map[string]interface{}, len(columns))
			for i, col := range columns {
				// text columns arrive as []byte from most drivers
				if b, ok := values[i].([]byte); ok {
					row[col] = string(b)
				} else {
					row[col] = values[i]
				}
			}
			results = append(results, row)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		return &base.Result{
			Columns:  columns,
			Rows:     results,
			RowCount: len(results),
		}, nil
	}
}

func nonQuery(sqlText string) resilient.Operation {
	return func(ctx context.Context, sess *pool.Session) (*base.Result, error) {
		res, err := sess.Conn().ExecContext(ctx, sqlText)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			affected = 0
		}
		return &base.Result{RowsAffected: affected}, nil
	}
}

func probe(statement string) resilient.Operation {
	return func(ctx context.Context, sess *pool.Session) (*base.Result, error) {
		if err := sess.Validate(ctx, statement); err != nil {
			return nil, err
		}
		return &base.Result{RowCount: 1}, nil
	}
}
