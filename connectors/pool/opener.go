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
	"errors"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"  // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver registered as "pgx"
	_ "github.com/lib/pq"               // PostgreSQL driver
	_ "github.com/sijms/go-ora/v2"      // Oracle driver

	"sqlbridge/connectors/descriptor"
)

// Opener establishes one native connection for a descriptor
type Opener interface {
	Open(ctx context.Context, d descriptor.Normalized) (Conn, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context, d descriptor.Normalized) (Conn, error)

// Open calls f
func (f OpenerFunc) Open(ctx context.Context, d descriptor.Normalized) (Conn, error) {
	return f(ctx, d)
}

// SQLOpener opens sessions through database/sql. It keeps one *sql.DB per
// descriptor with idle retention disabled, so each *sql.Conn it hands out is
// a dedicated driver connection that is closed when the session closes.
type SQLOpener struct {
	mu  sync.Mutex
	dbs map[string]*sql.DB

	// open is replaced in tests
	open func(driverName, dsn string) (*sql.DB, error)
}

// NewSQLOpener creates an opener backed by the registered database/sql drivers
func NewSQLOpener() *SQLOpener {
	return &SQLOpener{
		dbs:  make(map[string]*sql.DB),
		open: sql.Open,
	}
}

// Open establishes a new dedicated connection for d
func (o *SQLOpener) Open(ctx context.Context, d descriptor.Normalized) (Conn, error) {
	db, err := o.handle(d)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Forget closes the driver handle kept for d
func (o *SQLOpener) Forget(d descriptor.Normalized) error {
	o.mu.Lock()
	db, ok := o.dbs[d.Raw()]
	delete(o.dbs, d.Raw())
	o.mu.Unlock()
	if !ok {
		return nil
	}
	return db.Close()
}

// Close closes every driver handle
func (o *SQLOpener) Close() error {
	o.mu.Lock()
	dbs := o.dbs
	o.dbs = make(map[string]*sql.DB)
	o.mu.Unlock()

	var errs []error
	for _, db := range dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *SQLOpener) handle(d descriptor.Normalized) (*sql.DB, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if db, ok := o.dbs[d.Raw()]; ok {
		return db, nil
	}

	driverName, dsn, err := descriptor.DriverDSN(d)
	if err != nil {
		return nil, err
	}
	db, err := o.open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s driver: %w", driverName, err)
	}

	// The session pool owns reuse; database/sql must not keep idle connections.
	db.SetMaxIdleConns(0)

	o.dbs[d.Raw()] = db
	return db, nil
}
