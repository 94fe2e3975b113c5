package bridge

import (
	"errors"

	"github.com/go-delve/memview/pkg/session"
)

// Status is the result code of a call through the bridge.
type Status uint32

const (
	StatusOK Status = iota
	StatusNotAttached
	StatusAttachFailed
	StatusUnmapped
	StatusPartialRead
	StatusAccessDenied
	StatusReadFailed
	StatusInvalidArgument
)

var statusNames = [...]string{
	StatusOK:              "ok",
	StatusNotAttached:     "not attached",
	StatusAttachFailed:    "attach failed",
	StatusUnmapped:        "unmapped",
	StatusPartialRead:     "partial read",
	StatusAccessDenied:    "access denied",
	StatusReadFailed:      "read failed",
	StatusInvalidArgument: "invalid argument",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown status"
}

// StatusOf converts an error returned by a session into a status code.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	if errors.Is(err, session.ErrNotAttached) {
		return StatusNotAttached
	}
	var aerr *session.AttachError
	if errors.As(err, &aerr) {
		return StatusAttachFailed
	}
	var rerr *session.ReadError
	if errors.As(err, &rerr) {
		switch rerr.Kind {
		case session.ReadUnmapped:
			return StatusUnmapped
		case session.ReadPartial:
			return StatusPartialRead
		case session.ReadDenied:
			return StatusAccessDenied
		}
	}
	return StatusReadFailed
}
