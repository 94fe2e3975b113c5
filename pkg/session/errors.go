package session

import (
	"errors"
	"fmt"

	"github.com/go-delve/memview/pkg/backend"
)

// ErrNotAttached is returned by operations that need an attached process
// when none is.
var ErrNotAttached = errors.New("not attached to any process")

// AttachError is returned when the backend can not resolve a pid.
type AttachError struct {
	Pid int
	Err error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("could not attach to pid %d: %v", e.Pid, e.Err)
}

func (e *AttachError) Unwrap() error {
	return e.Err
}

// ReadErrorKind classifies the failure of a read.
type ReadErrorKind uint8

const (
	// ReadFailed is a failure with no more specific cause.
	ReadFailed ReadErrorKind = iota
	// ReadUnmapped means that no byte could be read because the address
	// is not mapped.
	ReadUnmapped
	// ReadPartial means that only the first N bytes could be read.
	ReadPartial
	// ReadDenied means that the backend is not allowed to read the address.
	ReadDenied
)

func (k ReadErrorKind) String() string {
	switch k {
	case ReadUnmapped:
		return "unmapped"
	case ReadPartial:
		return "partial read"
	case ReadDenied:
		return "access denied"
	default:
		return "read failed"
	}
}

// ReadError is returned by Session.Read. The first N bytes of the buffer
// hold target memory, the rest of it is zeroed.
type ReadError struct {
	Addr backend.Address
	Len  int
	N    int
	Kind ReadErrorKind
	Err  error
}

func (e *ReadError) Error() string {
	if e.Kind == ReadPartial {
		return fmt.Sprintf("%s at %s: %d of %d bytes read: %v", e.Kind, e.Addr, e.N, e.Len, e.Err)
	}
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Addr, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

func newReadError(addr backend.Address, length, n int, err error) *ReadError {
	re := &ReadError{Addr: addr, Len: length, N: n, Err: err}
	switch {
	case errors.Is(err, backend.ErrPermission) && n == 0:
		re.Kind = ReadDenied
	case n > 0:
		re.Kind = ReadPartial
	case errors.Is(err, backend.ErrUnmapped):
		re.Kind = ReadUnmapped
	default:
		re.Kind = ReadFailed
	}
	return re
}
