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
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStorage(t *testing.T) (*PostgreSQLStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgreSQLStorageFromDB(db), mock
}

func TestPostgreSQLStorageInitSchema(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sqlbridge_targets").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorageInitSchemaError(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	err := s.InitSchema(context.Background())
	assert.ErrorContains(t, err, "failed to create schema")
}

func TestPostgreSQLStorageLookup(t *testing.T) {
	s, mock := newMockStorage(t)
	cols := []string{"name", "descriptor", "credentials_secret", "enabled"}

	mock.ExpectQuery("SELECT name, descriptor, credentials_secret, enabled FROM sqlbridge_targets").
		WithArgs("sales").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("sales", "Data Source=db/SALES", "arn:secret", true))
	mock.ExpectQuery("SELECT name, descriptor, credentials_secret, enabled FROM sqlbridge_targets").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(cols))

	e, ok, err := s.Lookup(context.Background(), "sales")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Entry{Name: "sales", Descriptor: "Data Source=db/SALES", CredentialsSecret: "arn:secret", Enabled: true}, e)

	_, ok, err = s.Lookup(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorageLookupError(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset by peer"))

	_, _, err := s.Lookup(context.Background(), "sales")
	assert.ErrorContains(t, err, "failed to get target")
}

func TestPostgreSQLStorageSaveTarget(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec("INSERT INTO sqlbridge_targets").
		WithArgs("sales", "Data Source=db/SALES", "", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SaveTarget(context.Background(), Entry{Name: "sales", Descriptor: "Data Source=db/SALES", Enabled: true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorageDeleteTarget(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec("DELETE FROM sqlbridge_targets").WithArgs("sales").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM sqlbridge_targets").WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.DeleteTarget(context.Background(), "sales"))

	err := s.DeleteTarget(context.Background(), "missing")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorageNames(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery("SELECT name FROM sqlbridge_targets WHERE enabled").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("hr").AddRow("sales"))

	names, err := s.Names(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"hr", "sales"}, names)
}

func TestRegistryOverPostgreSQLStorage(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery("SELECT name, descriptor").
		WithArgs("sales").
		WillReturnRows(sqlmock.NewRows([]string{"name", "descriptor", "credentials_secret", "enabled"}).
			AddRow("sales", "Provider=postgres;Data Source=db:5432/sales", "", true))

	r := New(nil, time.Minute, s)
	target, err := r.Resolve(context.Background(), "sales")
	require.NoError(t, err)
	assert.Equal(t, "postgres", target.Provider())
	assert.NoError(t, mock.ExpectationsWereMet())
}
