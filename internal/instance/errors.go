package instance

import (
	"errors"
	"fmt"
)

// ErrMalformedInstance is wrapped by every parse failure.
var ErrMalformedInstance = errors.New("malformed instance")

// ErrNoBounds means the instance carries no usable search range.
var ErrNoBounds = errors.New("instance has no search bounds")

// MalformedError carries the location of a parse failure.
type MalformedError struct {
	Name   string // instance name
	Line   int    // 1-based line number, 0 when not tied to a line
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: line %d: %s", e.Name, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformedInstance
}

func malformed(name string, line int, format string, args ...interface{}) error {
	return &MalformedError{Name: name, Line: line, Reason: fmt.Sprintf(format, args...)}
}
