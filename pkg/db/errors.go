package db

import (
	"strings"

	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint failure,
// optionally on the named constraint. Postgres errors are matched on
// SQLSTATE; sqlite ones, used in tests, on their message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if diag, ok := pkgerrors.PostgresDiagnostics(err); ok {
		return diag.Code == uniqueViolation && (constraintName == "" || diag.Constraint == constraintName)
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return constraintName == "" || strings.Contains(msg, constraintName)
}
