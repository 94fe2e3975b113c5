// Package backend defines the interface between memview and the
// providers able to read the virtual memory of another process.
//
// A provider is made of an OS, which resolves processes by pid, and
// optionally a Connector, the lower level memory source the OS reads
// through (for example a core file). Both are created by name from an
// Inventory.
package backend

import (
	"errors"
	"fmt"
	"math"
)

// Address is a virtual address in the target process.
type Address uint64

func (a Address) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// Add returns a+off, saturating at the maximum address.
func (a Address) Add(off uint64) Address {
	if off > math.MaxUint64-uint64(a) {
		return Address(math.MaxUint64)
	}
	return a + Address(off)
}

// ModuleInfo describes a module loaded in the target process.
type ModuleInfo struct {
	Name string
	Base Address
	Size uint64
}

// End returns the address base+size, which is the last address
// considered part of the module by validity checks.
func (m ModuleInfo) End() Address {
	return m.Base.Add(m.Size)
}

func (m ModuleInfo) String() string {
	return fmt.Sprintf("%#016x-%#016x %s", uint64(m.Base), uint64(m.End()), m.Name)
}

// Connector is a low level memory source used by an OS backend.
type Connector interface {
	Name() string
	Close() error
}

// OS is a live memory-space provider. It is created once and used to
// resolve processes.
type OS interface {
	Name() string
	// ProcessByPid returns a handle to process pid. The error wraps
	// ErrProcessNotFound if the process does not exist.
	ProcessByPid(pid int) (Process, error)
	Close() error
}

// Process is a handle to a process of an OS backend.
type Process interface {
	Pid() int
	// ModuleList returns the modules loaded in the process.
	ModuleList() ([]ModuleInfo, error)
	// ReadMemory is like io.ReaderAt.ReadAt, n is the number of bytes
	// read into buf before an error occurred. Errors wrap ErrUnmapped or
	// ErrPermission when the failure has one of those causes.
	ReadMemory(buf []byte, addr Address) (n int, err error)
	Close() error
}

var (
	// ErrProcessNotFound is returned when a pid can not be resolved.
	ErrProcessNotFound = errors.New("process not found")

	// ErrUnmapped is returned when reading an address that is not mapped
	// in the target process.
	ErrUnmapped = errors.New("address not mapped")

	// ErrPermission is returned when the backend is not allowed to read
	// the target memory.
	ErrPermission = errors.New("permission denied")

	// ErrNotSupported is returned by backends unavailable on the current
	// platform.
	ErrNotSupported = errors.New("not supported on this platform")

	// ErrClosed is returned when using a handle that was closed.
	ErrClosed = errors.New("handle closed")
)
