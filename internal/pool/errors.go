package pool

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrAcquireTimeout = errors.New("timed out waiting for a pooled connection")
	ErrClosed         = errors.New("connection pool is closed")
)

// Transient error codes. Only these are retried.
const (
	CodeConnReset      = "ECONNRESET"
	CodeConnectionLost = "PROTOCOL_CONNECTION_LOST"
	CodeConnRefused    = "ECONNREFUSED"
	CodeTimeout        = "ETIMEDOUT"
)

// TransientCode classifies err against the fixed set of transient
// infrastructure failures.
func TransientCode(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	switch {
	case errors.Is(err, ErrAcquireTimeout):
		return CodeTimeout, true
	case errors.Is(err, syscall.ECONNRESET):
		return CodeConnReset, true
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeConnRefused, true
	case errors.Is(err, syscall.ETIMEDOUT):
		return CodeTimeout, true
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, io.ErrUnexpectedEOF):
		return CodeConnectionLost, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() && !errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout, true
	}
	return "", false
}

// IsTransient reports whether err is in the retryable set.
func IsTransient(err error) bool {
	_, ok := TransientCode(err)
	return ok
}

// IsProtocolFailure reports errors after which the connection stream can no
// longer be trusted. They force the pool to be recreated.
func IsProtocolFailure(err error) bool {
	return errors.Is(err, mysql.ErrMalformPkt) ||
		errors.Is(err, mysql.ErrPktSync) ||
		errors.Is(err, mysql.ErrPktSyncMul) ||
		errors.Is(err, mysql.ErrBusyBuffer)
}

// StoreError returns the server error number and SQLSTATE carried by err.
func StoreError(err error) (number uint16, sqlState string, ok bool) {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return 0, "", false
	}
	if myErr.SQLState == [5]byte{} {
		return myErr.Number, "", true
	}
	return myErr.Number, string(myErr.SQLState[:]), true
}
