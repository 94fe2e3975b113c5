// Package session implements a read-only memory session on one process of
// a backend: the attached process handle, the lazily built cache of valid
// address ranges and raw reads.
//
// A Session is safe for concurrent use. Handle replacement, cache
// population and reads are serialized, so a handle is never replaced while
// a read through it is in progress.
package session

import (
	"fmt"
	"sync"

	"github.com/go-delve/memview/pkg/backend"
	"github.com/go-delve/memview/pkg/logflags"
)

// Session holds at most one attached process of an OS backend.
type Session struct {
	os  backend.OS
	log logflags.Logger

	mu   sync.Mutex
	proc backend.Process
	// ranges is nil until the first CanRead after a detach.
	ranges rangeSet
}

// New returns a detached session reading through o.
func New(o backend.OS) *Session {
	return &Session{os: o, log: logflags.SessionLogger()}
}

// OS returns the backend of the session.
func (s *Session) OS() backend.OS {
	return s.os
}

// Attach resolves pid and makes it the attached process. The previously
// attached process, if any, is released first. The address cache is left
// untouched. If pid can not be resolved an *AttachError is returned and
// the session is unchanged.
func (s *Session) Attach(pid int) error {
	p, err := s.os.ProcessByPid(pid)
	if err != nil {
		s.log.WithField("pid", pid).Debugf("attach failed: %v", err)
		return &AttachError{Pid: pid, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		s.log.Debugf("releasing pid %d", s.proc.Pid())
		if err := s.proc.Close(); err != nil {
			s.log.Warnf("closing pid %d: %v", s.proc.Pid(), err)
		}
	}
	s.proc = p
	s.log.WithField("pid", pid).Debugf("attached")
	return nil
}

// Detach releases the attached process and clears the address cache. It
// does nothing if no process is attached.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		if err := s.proc.Close(); err != nil {
			s.log.Warnf("closing pid %d: %v", s.proc.Pid(), err)
		}
		s.log.WithField("pid", s.proc.Pid()).Debugf("detached")
	}
	s.proc = nil
	s.ranges = nil
}

// Attached reports whether a process is attached.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// Pid returns the pid of the attached process.
func (s *Session) Pid() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0, false
	}
	return s.proc.Pid(), true
}

// CacheLoaded reports whether the address cache is populated.
func (s *Session) CacheLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ranges != nil
}

// CanRead reports whether addr is inside one of the modules of the attached
// process, bounds included. The module list is queried on the first call
// and reused until Detach or RefreshCache, even if the process loads or
// unloads modules in the meantime.
func (s *Session) CanRead(addr backend.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return false, ErrNotAttached
	}
	if s.ranges == nil {
		if err := s.loadRangesLocked(); err != nil {
			return false, err
		}
	}
	return s.ranges.contains(addr), nil
}

// RefreshCache queries the module list of the attached process again and
// replaces the address cache.
func (s *Session) RefreshCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return ErrNotAttached
	}
	return s.loadRangesLocked()
}

func (s *Session) loadRangesLocked() error {
	mods, err := s.proc.ModuleList()
	if err != nil {
		return fmt.Errorf("could not list modules of pid %d: %w", s.proc.Pid(), err)
	}
	s.ranges = newRangeSet(mods)
	s.log.WithField("pid", s.proc.Pid()).Debugf("address cache loaded: %d modules, %d ranges", len(mods), len(s.ranges))
	return nil
}

// Modules returns the current module list of the attached process. The
// address cache is not affected.
func (s *Session) Modules() ([]backend.ModuleInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil, ErrNotAttached
	}
	return s.proc.ModuleList()
}

// Read fills buf with the memory of the attached process at addr. The
// address cache is not consulted. On failure a *ReadError is returned,
// the bytes of buf past the ones read are set to zero.
func (s *Session) Read(addr backend.Address, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return ErrNotAttached
	}
	if len(buf) == 0 {
		return nil
	}
	n, err := s.proc.ReadMemory(buf, addr)
	if n < 0 || n > len(buf) {
		n = 0
		if err == nil {
			err = fmt.Errorf("backend returned invalid count")
		}
	}
	if n == len(buf) {
		// every byte is valid, as with io.ReaderAt returning io.EOF
		if err != nil {
			s.log.WithField("pid", s.proc.Pid()).Debugf("read of %d bytes at %s completed with error: %v", len(buf), addr, err)
		}
		return nil
	}
	if err == nil {
		err = fmt.Errorf("short read")
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	s.log.WithField("pid", s.proc.Pid()).Debugf("read of %d bytes at %s failed after %d bytes: %v", len(buf), addr, n, err)
	return newReadError(addr, len(buf), n, err)
}
