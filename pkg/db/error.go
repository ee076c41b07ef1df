package db

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation     = "23505"
	pgNotNullViolation    = "23502"
	pgCheckViolation      = "23514"
	pgDataExceptionPrefix = "22"

	mysqlDuplicateEntry  = 1062
	mysqlBadNull         = 1048
	mysqlDataTooLong     = 1406
	mysqlIncorrectValue  = 1366
	mysqlCheckViolated   = 3819
	mysqlDuplicateKeyTag = "for key '"

	sqliteUniquePrefix = "UNIQUE constraint failed: "
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}

	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "Error 1062") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// DuplicateKeyTarget returns the lowercased constraint, index or column named
// by a unique violation. The second result is false when err is not a unique
// violation; the name may be empty when the driver does not report one.
func DuplicateKeyTarget(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return "", false
		}
		return strings.ToLower(pgErr.ConstraintName), true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if myErr.Number != mysqlDuplicateEntry {
			return "", false
		}
		return strings.ToLower(mysqlKeyName(myErr.Message)), true
	}

	msg := err.Error()
	if idx := strings.Index(msg, sqliteUniquePrefix); idx >= 0 {
		rest := msg[idx+len(sqliteUniquePrefix):]
		if end := strings.IndexAny(rest, " ("); end >= 0 {
			rest = rest[:end]
		}
		return strings.ToLower(strings.TrimRight(rest, ",")), true
	}

	if IsDuplicateKeyErr(err) {
		return "", true
	}
	return "", false
}

// IsInvalidDataErr reports whether the database rejected a row because of its
// shape: NOT NULL, CHECK, or value/length violations.
func IsInvalidDataErr(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, gorm.ErrInvalidData),
		errors.Is(err, gorm.ErrInvalidField):
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgNotNullViolation ||
			pgErr.Code == pgCheckViolation ||
			strings.HasPrefix(pgErr.Code, pgDataExceptionPrefix)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlBadNull, mysqlDataTooLong, mysqlIncorrectValue, mysqlCheckViolated:
			return true
		}
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "NOT NULL constraint failed") ||
		strings.Contains(msg, "CHECK constraint failed")
}

func mysqlKeyName(message string) string {
	idx := strings.LastIndex(message, mysqlDuplicateKeyTag)
	if idx < 0 {
		return ""
	}
	rest := message[idx+len(mysqlDuplicateKeyTag):]
	if end := strings.Index(rest, "'"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}
