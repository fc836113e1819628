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

package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"sqlbridge/shared/logger"
)

// PostgreSQLStorage keeps target definitions in a PostgreSQL table
type PostgreSQLStorage struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewPostgreSQLStorage connects to dbURL and creates the targets table.
// The connection is retried with a linear backoff while the database comes up.
func NewPostgreSQLStorage(ctx context.Context, dbURL string) (*PostgreSQLStorage, error) {
	const maxRetries = 5
	log := logger.New("target-storage")

	var db *sqlx.DB
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = sqlx.ConnectContext(ctx, "postgres", dbURL)
		if err == nil {
			break
		}
		if attempt == maxRetries {
			break
		}

		backoff := time.Duration(attempt*2) * time.Second
		log.Warn("", "", "Storage connection failed, retrying", map[string]interface{}{
			"attempt":    attempt,
			"backoff_ms": backoff.Milliseconds(),
			"error":      err.Error(),
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to target storage after %d attempts: %w", maxRetries, err)
	}

	s := &PostgreSQLStorage{db: db, logger: log}
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info("", "", "PostgreSQL target storage initialized", nil)
	return s, nil
}

// NewPostgreSQLStorageFromDB wraps an open database handle
func NewPostgreSQLStorageFromDB(db *sql.DB) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		db:     sqlx.NewDb(db, "postgres"),
		logger: logger.New("target-storage"),
	}
}

// InitSchema creates the targets table if it doesn't exist
func (s *PostgreSQLStorage) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS sqlbridge_targets (
		name VARCHAR(255) PRIMARY KEY,
		descriptor TEXT NOT NULL,
		credentials_secret VARCHAR(2048) NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveTarget inserts or replaces a target definition
func (s *PostgreSQLStorage) SaveTarget(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO sqlbridge_targets (name, descriptor, credentials_secret, enabled)
		VALUES (:name, :descriptor, :credentials_secret, :enabled)
		ON CONFLICT (name) DO UPDATE SET
			descriptor = EXCLUDED.descriptor,
			credentials_secret = EXCLUDED.credentials_secret,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
	`
	if _, err := s.db.NamedExecContext(ctx, query, e); err != nil {
		return fmt.Errorf("failed to save target: %w", err)
	}
	s.logger.Info(e.Name, "", "Saved target", nil)
	return nil
}

// DeleteTarget removes a target definition
func (s *PostgreSQLStorage) DeleteTarget(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sqlbridge_targets WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete target: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Name: name}
	}
	return nil
}

// Lookup returns the stored entry for name
func (s *PostgreSQLStorage) Lookup(ctx context.Context, name string) (Entry, bool, error) {
	var e Entry
	err := s.db.GetContext(ctx, &e, `
		SELECT name, descriptor, credentials_secret, enabled
		FROM sqlbridge_targets
		WHERE name = $1
	`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to get target: %w", err)
	}
	return e, true, nil
}

// Names lists enabled stored targets
func (s *PostgreSQLStorage) Names(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, `SELECT name FROM sqlbridge_targets WHERE enabled ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	return names, nil
}

// Close closes the storage connection
func (s *PostgreSQLStorage) Close() error {
	return s.db.Close()
}
