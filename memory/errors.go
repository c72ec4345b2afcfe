package memory

import (
	"context"
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotFound           = errors.New("not found")
	ErrCollectionNotFound = fmt.Errorf("collection %w", ErrNotFound)
	ErrMemoryNotFound     = fmt.Errorf("memory %w", ErrNotFound)
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrDuplicate          = errors.New("duplicate memory")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
)

// Kind classifies a failure by the stage that produced it.
type Kind int

const (
	KindInternal Kind = iota
	KindConfig
	KindStorage
	KindEmbedding
	KindMemory
	KindSerialization
	KindNotFound
	KindInvalidArgument
	KindTimeout
	KindAuthentication
)

var kindNames = map[Kind]string{
	KindInternal:        "internal",
	KindConfig:          "configuration",
	KindStorage:         "storage",
	KindEmbedding:       "embedding",
	KindMemory:          "memory",
	KindSerialization:   "serialization",
	KindNotFound:        "not found",
	KindInvalidArgument: "invalid argument",
	KindTimeout:         "timeout",
	KindAuthentication:  "authentication",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error wraps errors with operation context.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("memory.%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// DuplicateError reports that content matched an existing memory.
type DuplicateError struct {
	ExistingID string
	Score      float32
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate of memory %s", e.ExistingID)
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

// KindOf returns the Kind of err. Errors not produced by this package are
// classified as timeouts when they stem from a context deadline and as
// internal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsKind reports whether err has the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// wrapError attaches op and kind to err. A kind already carried by err wins,
// deadline errors become timeouts and not-found conditions keep their kind
// regardless of the stage.
func wrapError(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var inner *Error
	switch {
	case errors.As(err, &inner):
		kind = inner.Kind
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, ErrNotFound):
		kind = KindNotFound
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

func invalidArgument(op string, format string, args ...interface{}) error {
	return &Error{
		Op:   op,
		Kind: KindInvalidArgument,
		Err:  fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...)),
	}
}
