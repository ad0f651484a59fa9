// Package errors defines the error taxonomy surfaced by query execution.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies where in the query lifecycle an error originated.
type Kind int

const (
	KindUnknown Kind = iota
	KindParse
	KindPlanning
	KindOptimization
	KindExecution
	KindStorage
	KindTransaction
	KindResource
	KindCancelled
)

var kindStrings = map[Kind]string{
	KindUnknown:      "unknown",
	KindParse:        "parse",
	KindPlanning:     "planning",
	KindOptimization: "optimization",
	KindExecution:    "execution",
	KindStorage:      "storage",
	KindTransaction:  "transaction",
	KindResource:     "resource",
	KindCancelled:    "cancelled",
}

func (k Kind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", k)
}

var (
	ErrNotImplemented = errors.New("not implemented")
	ErrTableNotFound  = errors.New("table not found")
	ErrTableExists    = errors.New("table already exists")
	ErrColumnNotFound = errors.New("column not found")
	ErrAmbiguous      = errors.New("ambiguous column reference")
	ErrMemoryLimit    = errors.New("query exceeded memory limit")
	ErrTimeLimit      = errors.New("query exceeded time limit")
)

// QueryError is an error tagged with the lifecycle stage that produced it.
type QueryError struct {
	Kind Kind
	Err  error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// New wraps err with kind. A nil err returns nil. An err that is already a
// [QueryError] keeps its original kind.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return err
	}
	return &QueryError{Kind: kind, Err: err}
}

// Newf formats a message and wraps it with kind.
func Newf(kind Kind, format string, args ...any) error {
	return &QueryError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err. Context cancellation and deadline errors
// that were never classified map to [KindCancelled] and [KindResource].
func KindOf(err error) Kind {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindResource
	}
	return KindUnknown
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }
