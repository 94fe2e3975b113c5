package service

import (
	"github.com/go-delve/memview/service/api"
)

// Client represents a client of a memview server.
// All functions are synchronous.
type Client interface {
	// ProcessPid returns the pid of the attached process, or 0.
	ProcessPid() int

	// GetState returns the state of the session.
	GetState() (*api.State, error)
	// GetVersion returns the versions of the server and of the API.
	GetVersion() (*api.GetVersionOut, error)

	// Attach attaches the session to pid.
	Attach(pid int) error
	// Detach detaches the session.
	Detach() error

	// CanRead reports whether addr is inside a module of the attached
	// process.
	CanRead(addr uint64) (bool, error)
	// ReadMemory reads length bytes at addr. A failed read is reported
	// through the Status field of the result, not as an error.
	ReadMemory(addr uint64, length int) (*api.ReadResult, error)

	// ListModules returns the modules loaded in the attached process.
	ListModules() ([]api.Module, error)
	// RefreshCache rebuilds the address cache of the session.
	RefreshCache() error

	// Disconnect closes the connection to the server. If detach is true
	// the session is detached first.
	Disconnect(detach bool) error
}
