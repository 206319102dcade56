package recordstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

// Code classifies a store failure. The executor only retries the codes in retryableCodes.
type Code string

const (
	CodeThroughputExceeded Code = "ThroughputExceeded"
	CodeThrottling         Code = "Throttling"
	CodeTransient          Code = "Transient"
	CodeValidation         Code = "Validation"
	CodeNotFound           Code = "NotFound"
	CodeAccessDenied       Code = "AccessDenied"
	CodeConditionFailed    Code = "ConditionFailed"
	CodeAlreadyExists      Code = "AlreadyExists"
	CodeUnknown            Code = "Unknown"
)

var retryableCodes = map[Code]bool{
	CodeThroughputExceeded: true,
	CodeThrottling:         true,
	CodeTransient:          true,
}

// ErrConcurrencyExhausted is wrapped when an optimistic update lost every version race it was allowed.
var ErrConcurrencyExhausted = errors.New("recordstore: concurrent modification retries exhausted")

type Error struct {
	Code Code
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("recordstore: %s %q: %s", e.Op, e.Key, e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, op, key string, err error) *Error {
	return &Error{Code: code, Op: op, Key: key, Err: err}
}

// wrap tags a backend error with its classification, keeping an existing *Error as is.
func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return newError(CodeOf(err), op, key, err)
}

// CodeOf maps any error, including native pgx and go-redis errors, onto a Code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeUnknown
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, redis.Nil) {
		return CodeNotFound
	}
	if errors.Is(err, redis.TxFailedErr) {
		return CodeConditionFailed
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgCode(pgErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return CodeTransient
	}
	if strings.HasPrefix(err.Error(), "LOADING") || strings.HasPrefix(err.Error(), "BUSY") {
		return CodeThrottling
	}
	return CodeUnknown
}

func pgCode(sqlState string) Code {
	switch sqlState {
	case "40001", "40P01", "55P03":
		return CodeThrottling
	case "53300", "53400", "53200":
		return CodeThroughputExceeded
	case "23505":
		return CodeAlreadyExists
	case "42501", "28000", "28P01":
		return CodeAccessDenied
	}
	switch {
	case strings.HasPrefix(sqlState, "08"), strings.HasPrefix(sqlState, "57P"):
		return CodeTransient
	case strings.HasPrefix(sqlState, "22"), strings.HasPrefix(sqlState, "23"):
		return CodeValidation
	}
	return CodeUnknown
}

func IsRetryable(err error) bool {
	return retryableCodes[CodeOf(err)]
}

func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

func IsConditionFailed(err error) bool {
	return CodeOf(err) == CodeConditionFailed
}
