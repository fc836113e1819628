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

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/sijms/go-ora/v2/network"
)

// DriverError is a driver failure expressed in the reference numbering.
// Code is 0 when the native error has no reference equivalent; Vendor keeps
// the native code (ORA-03113, SQLSTATE 57P01, MySQL 1927).
type DriverError struct {
	Code    int
	Vendor  string
	Message string
	Err     error
}

func (e *DriverError) Error() string {
	if e.Vendor != "" {
		return e.Vendor + ": " + e.Message
	}
	return e.Message
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// Class returns the classification of the reference code
func (e *DriverError) Class() Class {
	return Classify(e.Code)
}

var oraCodeRegex = regexp.MustCompile(`ORA-(\d{5})`)

// postgres SQLSTATE -> reference code
var sqlStateCodes = map[pq.ErrorCode]int{
	"08000": CodeConnectionLost,
	"08003": CodeNotConnected,
	"08006": CodeConnectionClosed,
	"08001": CodeNoListener,
	"08004": CodeNoListener,
	"08007": CodeConnectionLost,
	"08P01": CodeProtocolAdapterError,
	"57P01": CodeSessionKilled,
	"57P02": CodeEndOfFileOnChannel,
	"57P03": CodeNoListener,
	"53300": CodeNoListener, // too_many_connections: refused by server
}

// MySQL server error number -> reference code
var mysqlCodes = map[uint16]int{
	1040: CodeNoListener, // ER_CON_COUNT_ERROR: refused by server
	1053: CodeConnectionLost,
	1158: CodePacketReaderFailure,
	1159: CodePacketReaderFailure,
	1160: CodePacketWriterFailure,
	1161: CodePacketWriterFailure,
	1927: CodeSessionKilled,
}

// Extract returns the coded driver error wrapped in err, if any
func Extract(err error) (*DriverError, bool) {
	if err == nil {
		return nil, false
	}

	var de *DriverError
	if errors.As(err, &de) {
		return de, true
	}

	var oraErr *network.OracleError
	if errors.As(err, &oraErr) {
		return &DriverError{
			Code:    oraErr.ErrCode,
			Vendor:  fmt.Sprintf("ORA-%05d", oraErr.ErrCode),
			Message: oracleMessage(oraErr.Error()),
			Err:     err,
		}, true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &DriverError{
			Code:    sqlStateCodes[pqErr.Code],
			Vendor:  string(pqErr.Code),
			Message: pqErr.Message,
			Err:     err,
		}, true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &DriverError{
			Code:    sqlStateCodes[pq.ErrorCode(pgErr.Code)],
			Vendor:  pgErr.Code,
			Message: pgErr.Message,
			Err:     err,
		}, true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return &DriverError{
			Code:    mysqlCodes[myErr.Number],
			Vendor:  strconv.Itoa(int(myErr.Number)),
			Message: myErr.Message,
			Err:     err,
		}, true
	}

	// Errors that lost their type on the way up still carry the ORA- text.
	msg := err.Error()
	if m := oraCodeRegex.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		return &DriverError{
			Code:    code,
			Vendor:  fmt.Sprintf("ORA-%05d", code),
			Message: oracleMessage(msg),
			Err:     err,
		}, true
	}

	return nil, false
}

// oracleMessage strips everything up to and including the first ORA- code
func oracleMessage(msg string) string {
	loc := oraCodeRegex.FindStringIndex(msg)
	if loc == nil {
		return strings.TrimSpace(msg)
	}
	return strings.TrimSpace(strings.TrimPrefix(msg[loc[1]:], ":"))
}

// ClassOf classifies any error returned by a driver. Coded errors go through
// Classify; uncoded transport failures are mapped by kind.
func ClassOf(err error) Class {
	if err == nil {
		return NonRecoverable
	}
	if de, ok := Extract(err); ok {
		return de.Class()
	}

	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return Stale
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return PoolLevel
	case errors.Is(err, context.DeadlineExceeded):
		return GenericTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return PoolLevel
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return Stale
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no route to host"):
		return PoolLevel
	}
	return NonRecoverable
}

// VendorCode returns the native vendor code carried by err, or ""
func VendorCode(err error) string {
	if de, ok := Extract(err); ok {
		return de.Vendor
	}
	return ""
}
