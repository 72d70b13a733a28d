package db

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/n0rdy/tableq/configs"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Classifier reports whether a driver error is worth one more attempt.
type Classifier func(err error) bool

func ClassifierFor(dialect configs.Dialect) Classifier {
	switch dialect {
	case configs.SQLiteDialect:
		return IsTransientSQLite
	case configs.PostgresDialect:
		return IsTransientPostgres
	default:
		return IsTransientGeneric
	}
}

// IsTransientSQLite treats a busy or locked database as transient, including the
// extended codes such as SQLITE_BUSY_SNAPSHOT.
func IsTransientSQLite(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		default:
			return false
		}
	}
	return IsTransientGeneric(err)
}

func IsTransientPostgres(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"57P01", // admin_shutdown
			"57P02", // crash_shutdown
			"57P03": // cannot_connect_now
			return true
		}
		// class 08: connection exception
		return strings.HasPrefix(pgErr.Code, "08")
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	return IsTransientGeneric(err)
}

// IsTransientGeneric recognizes lost connections whatever the driver.
func IsTransientGeneric(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
