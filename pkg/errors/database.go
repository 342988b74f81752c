package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// SQLSTATE values the inventory tables can raise on writes.
const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
	sqlStateCheckViolation      = "23514"
	sqlStateSerialization       = "40001"
	sqlStateDeadlock            = "40P01"
	sqlStateLockNotAvailable    = "55P03"
)

// PGDiagnostics holds the server-side fields of a postgres error.
type PGDiagnostics struct {
	Code       string
	Constraint string
	Table      string
	Column     string
	Detail     string
	Message    string
}

// PostgresDiagnostics extracts the postgres error from err, whichever driver
// produced it.
func PostgresDiagnostics(err error) (PGDiagnostics, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return PGDiagnostics{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return PGDiagnostics{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}, true
	}
	return PGDiagnostics{}, false
}

// FromDB wraps a failed write. Constraint violations keep a caller-facing
// code: a unique violation is a conflict, a CHECK violation means an
// allocation or stock floor would have been broken, and lock or
// serialization failures are state conflicts the caller can retry. Anything
// else is a dependency failure.
func FromDB(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	diag, ok := PostgresDiagnostics(err)
	if !ok {
		return Wrap(CodeDependency, err, msg)
	}
	var wrapped *Error
	switch diag.Code {
	case sqlStateUniqueViolation:
		wrapped = Wrap(CodeConflict, err, msg+": already exists")
	case sqlStateCheckViolation:
		wrapped = Wrap(CodeAllocationInvariant, err, msg+": constraint violated")
	case sqlStateForeignKeyViolation:
		wrapped = Wrap(CodeNotFound, err, msg+": referenced record missing")
	case sqlStateSerialization, sqlStateDeadlock, sqlStateLockNotAvailable:
		wrapped = Wrap(CodeStateConflict, err, msg+": concurrent update, retry")
	default:
		return Wrap(CodeDependency, err, msg)
	}
	if diag.Constraint != "" {
		wrapped.WithDetails(map[string]any{"constraint": diag.Constraint})
	}
	return wrapped
}

// LogFields describes err for a structured log line: the typed code, the
// unwrap chain and, for postgres failures, the server diagnostics.
func LogFields(err error) map[string]any {
	if err == nil {
		return nil
	}
	fields := map[string]any{"error": err.Error()}
	if typed := As(err); typed != nil {
		fields["error_code"] = string(typed.Code())
	}
	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T", e))
	}
	fields["error_chain"] = chain

	if diag, ok := PostgresDiagnostics(err); ok {
		for k, v := range map[string]string{
			"pg_code":       diag.Code,
			"pg_constraint": diag.Constraint,
			"pg_table":      diag.Table,
			"pg_column":     diag.Column,
			"pg_detail":     diag.Detail,
			"pg_message":    diag.Message,
		} {
			if v != "" {
				fields[k] = v
			}
		}
	}
	return fields
}
