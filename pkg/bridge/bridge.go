// Package bridge exposes a session through the call-by-call surface used by
// host tools: attach, read, can_read and detach, each returning a status
// instead of an error.
package bridge

import (
	"sync"

	"github.com/go-delve/memview/pkg/backend"
	"github.com/go-delve/memview/pkg/logflags"
	"github.com/go-delve/memview/pkg/session"
)

// Bridge is the call surface over one session.
type Bridge struct {
	s   *session.Session
	log logflags.Logger

	mu   sync.Mutex
	last Status
}

// New returns a bridge over a new session of o.
func New(o backend.OS) *Bridge {
	return &Bridge{s: session.New(o), log: logflags.BridgeLogger()}
}

// Session returns the session of the bridge.
func (b *Bridge) Session() *session.Session {
	return b.s
}

func (b *Bridge) record(st Status) Status {
	b.mu.Lock()
	b.last = st
	b.mu.Unlock()
	return st
}

// LastStatus returns the status of the most recent call. It is how callers
// tell a CanRead precondition failure from an unmapped address.
//
// There is a single status per Bridge, not one per thread: a call made by
// another thread between CanRead and LastStatus replaces it. Hosts calling
// from several threads must serialize the pair themselves.
func (b *Bridge) LastStatus() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint32(b.last)
}

// Attach attaches to pid. It returns 1 if the process was attached, 0
// otherwise.
func (b *Bridge) Attach(pid uint32) uint32 {
	if err := b.s.Attach(int(pid)); err != nil {
		b.log.Errorf("attach %d: %v", pid, err)
		b.record(StatusOf(err))
		return 0
	}
	b.log.Debugf("attach %d", pid)
	b.record(StatusOK)
	return 1
}

// Read copies len(buf) bytes at addr into buf and returns a status code.
// On failure the bytes past the ones read are zero.
func (b *Bridge) Read(addr uintptr, buf []byte) uint32 {
	err := b.s.Read(backend.Address(addr), buf)
	st := b.record(StatusOf(err))
	if err != nil {
		b.log.Debugf("read %#x+%d: %v", addr, len(buf), err)
	}
	return uint32(st)
}

// CanRead reports whether addr is inside a module of the attached process.
// It returns false if no process is attached, LastStatus then returns
// StatusNotAttached.
func (b *Bridge) CanRead(addr uintptr) bool {
	ok, err := b.s.CanRead(backend.Address(addr))
	b.record(StatusOf(err))
	if err != nil {
		b.log.Debugf("can_read %#x: %v", addr, err)
		return false
	}
	return ok
}

// Detach detaches from the attached process, if any.
func (b *Bridge) Detach() {
	b.s.Detach()
	b.record(StatusOK)
	b.log.Debugf("detach")
}

// Refresh reloads the address cache and returns a status code.
func (b *Bridge) Refresh() uint32 {
	err := b.s.RefreshCache()
	if err != nil {
		b.log.Debugf("refresh: %v", err)
	}
	return uint32(b.record(StatusOf(err)))
}

// InvalidArgument records and returns StatusInvalidArgument, for callers
// that reject arguments before reaching the bridge.
func (b *Bridge) InvalidArgument() uint32 {
	return uint32(b.record(StatusInvalidArgument))
}
