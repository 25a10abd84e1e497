package persistence

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrExists   = errors.New("document already exists")
	ErrConflict = errors.New("revision conflict")
)

// Kind classifies storage failures.
type Kind string

const (
	KindUnavailable      Kind = "unavailable"
	KindNotFound         Kind = "not_found"
	KindExists           Kind = "exists"
	KindConflict         Kind = "conflict"
	KindSave             Kind = "save"
	KindDelete           Kind = "delete"
	KindInvalidParameter Kind = "invalid_parameter"
	KindConfig           Kind = "config"
	KindCodec            Kind = "codec"
)

// Error is returned by Store and the backend factory.
type Error struct {
	Kind Kind
	Op   string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("persistence: %s %s: %s: %v", e.Op, e.ID, e.Kind, e.Err)
	}
	return fmt.Sprintf("persistence: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel of the error's kind even when the
// cause is a driver error.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrExists:
		return e.Kind == KindExists
	case ErrConflict:
		return e.Kind == KindConflict
	}
	return false
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// classify wraps a backend error into an *Error. fallback is used when the
// cause is not one of the sentinels.
func classify(op, id string, fallback Kind, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	kind := fallback
	switch {
	case errors.Is(err, ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, ErrExists):
		kind = KindExists
	case errors.Is(err, ErrConflict):
		kind = KindConflict
	}
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}
