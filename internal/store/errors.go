package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// Kind classifies a persistence failure so callers never have to inspect
// error strings.
type Kind int

const (
	// KindTransient covers connectivity loss, timeouts and anything unknown.
	KindTransient Kind = iota
	// KindConflict is a unique constraint violation.
	KindConflict
	// KindPermanent is a failure that will not go away on retry (bad
	// references, invalid data, schema errors).
	KindPermanent
	// KindNotFound means the addressed row does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindPermanent:
		return "permanent"
	case KindNotFound:
		return "not_found"
	default:
		return "transient"
	}
}

// Error carries an explicit classification along with the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Conflict, NotFound and Permanent are shorthands used by stores that detect
// the condition themselves.
func Conflict(op string) error { return &Error{Kind: KindConflict, Op: op} }
func NotFound(op string) error { return &Error{Kind: KindNotFound, Op: op} }
func Permanent(op string, err error) error {
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}

// Classify maps an error returned by a store, a driver or the network into a
// Kind. Unknown errors are treated as transient so they are retried. Callers
// check for nil first.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, sql.ErrNoRows) {
		return KindNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return KindTransient
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindTransient
}

// classifySQLState follows the Postgres SQLSTATE classes.
func classifySQLState(code string) Kind {
	if code == "23505" {
		return KindConflict
	}
	switch {
	case strings.HasPrefix(code, "23"), // integrity constraint (fk, not null, check)
		strings.HasPrefix(code, "22"), // data exception, e.g. malformed uuid
		strings.HasPrefix(code, "42"), // syntax / undefined object
		strings.HasPrefix(code, "44"):
		return KindPermanent
	default:
		// 08 connection, 40 rollback, 53 resources, 57 operator intervention.
		return KindTransient
	}
}

// IsConflict reports whether err is a unique constraint violation.
func IsConflict(err error) bool { return err != nil && Classify(err) == KindConflict }

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool { return err != nil && Classify(err) == KindNotFound }

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool { return err != nil && Classify(err) == KindTransient }
