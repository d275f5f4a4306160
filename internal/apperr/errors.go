package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies failures surfaced to callers.
type Kind string

const (
	KindValidation   Kind = "VALIDATION"
	KindNotFound     Kind = "NOT_FOUND"
	KindInvalidState Kind = "INVALID_STATE"
	KindParse        Kind = "PARSE"
	KindDB           Kind = "DB_ERROR"
)

// Error is the typed error returned by the reconciliation core.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(strings.ToLower(string(e.Kind)))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so sentinel comparisons work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels usable with errors.Is.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrParse        = &Error{Kind: KindParse}
	ErrDB           = &Error{Kind: KindDB}
)

func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func InvalidState(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Parse(op string, err error) error {
	return &Error{Kind: KindParse, Op: op, Msg: "parsing failed", Err: err}
}

// DB wraps an infrastructure failure. Known Postgres conditions are reclassified.
func DB(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if kind, ok := pgKind(err); ok {
		return &Error{Kind: kind, Op: op, Err: err}
	}
	return &Error{Kind: KindDB, Op: op, Err: err}
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsRetryable reports whether a caller may safely retry the failed operation.
// Typed errors decide by kind; anything else falls back to message inspection.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if kind := KindOf(err); kind != "" {
		return kind == KindDB
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "not found") ||
		strings.Contains(msg, "Invalid") ||
		strings.Contains(msg, "parsing failed") {
		return false
	}
	return true
}

const (
	sqlstateUniqueViolation      = "23505"
	sqlstateForeignKeyViolation  = "23503"
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateInvalidTextRepr      = "22P02"
)

func pgKind(err error) (Kind, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	switch pgErr.Code {
	case sqlstateSerializationFailure, sqlstateDeadlockDetected:
		return KindDB, true
	case sqlstateForeignKeyViolation:
		return KindNotFound, true
	case sqlstateInvalidTextRepr:
		return KindValidation, true
	}
	return "", false
}

// IsUniqueViolation reports a Postgres unique_violation, optionally restricted to a constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != sqlstateUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
