package rpc2

import (
	"errors"
	"fmt"

	"github.com/go-delve/memview/pkg/backend"
	"github.com/go-delve/memview/pkg/bridge"
	"github.com/go-delve/memview/pkg/session"
	"github.com/go-delve/memview/service"
	"github.com/go-delve/memview/service/api"
)

// maxReadLength is the largest read a single ReadMemory call can request.
const maxReadLength = 1 << 20

// RPCServer exposes a session through JSON-RPC.
type RPCServer struct {
	// config is all the information necessary to start the session and server.
	config *service.Config
	// s is the memory session shared by every connection.
	s *session.Session
}

// NewServer returns an RPCServer serving s.
func NewServer(config *service.Config, s *session.Session) *RPCServer {
	return &RPCServer{config, s}
}

type ProcessPidIn struct {
}

type ProcessPidOut struct {
	Pid int
}

// ProcessPid returns the pid of the attached process, 0 if the session is
// detached.
func (s *RPCServer) ProcessPid(arg ProcessPidIn, out *ProcessPidOut) error {
	out.Pid, _ = s.s.Pid()
	return nil
}

type StateIn struct {
}

type StateOut struct {
	State *api.State
}

// State returns the current state of the session.
func (s *RPCServer) State(arg StateIn, out *StateOut) error {
	pid, attached := s.s.Pid()
	out.State = &api.State{
		Attached:    attached,
		Pid:         pid,
		CacheLoaded: s.s.CacheLoaded(),
		Backend:     s.s.OS().Name(),
	}
	return nil
}

type AttachIn struct {
	Pid int
}

type AttachOut struct {
	Status uint32
}

// Attach attaches the session to Pid. The address cache is kept.
func (s *RPCServer) Attach(arg AttachIn, out *AttachOut) error {
	if arg.Pid <= 0 {
		out.Status = uint32(bridge.StatusInvalidArgument)
		return fmt.Errorf("invalid pid %d", arg.Pid)
	}
	err := s.s.Attach(arg.Pid)
	out.Status = uint32(bridge.StatusOf(err))
	return err
}

type DetachIn struct {
}

type DetachOut struct {
}

// Detach detaches the session and clears the address cache.
func (s *RPCServer) Detach(arg DetachIn, out *DetachOut) error {
	s.s.Detach()
	return nil
}

type CanReadIn struct {
	Addr uint64
}

type CanReadOut struct {
	Readable bool
	Status   uint32
}

// CanRead reports whether Addr is inside a module of the attached process.
// The module list is fetched on the first call after a detach.
func (s *RPCServer) CanRead(arg CanReadIn, out *CanReadOut) error {
	ok, err := s.s.CanRead(backend.Address(arg.Addr))
	out.Readable = ok
	out.Status = uint32(bridge.StatusOf(err))
	return err
}

type ReadMemoryIn struct {
	Addr   uint64
	Length int
}

type ReadMemoryOut struct {
	Result api.ReadResult
}

// ReadMemory reads Length bytes at Addr. Read failures are reported in the
// result, the call only fails if the arguments are invalid or no process is
// attached.
func (s *RPCServer) ReadMemory(arg ReadMemoryIn, out *ReadMemoryOut) error {
	if arg.Length < 0 || arg.Length > maxReadLength {
		return fmt.Errorf("invalid read length %d (maximum %d)", arg.Length, maxReadLength)
	}
	buf := make([]byte, arg.Length)
	err := s.s.Read(backend.Address(arg.Addr), buf)
	if errors.Is(err, session.ErrNotAttached) {
		return err
	}
	out.Result = api.ReadResult{Mem: buf, N: len(buf), Status: uint32(bridge.StatusOf(err))}
	if err != nil {
		out.Result.Error = err.Error()
		var rerr *session.ReadError
		if errors.As(err, &rerr) {
			out.Result.N = rerr.N
		} else {
			out.Result.N = 0
		}
	}
	return nil
}

type ListModulesIn struct {
}

type ListModulesOut struct {
	Modules []api.Module
}

// ListModules returns the current module list of the attached process.
func (s *RPCServer) ListModules(arg ListModulesIn, out *ListModulesOut) error {
	mods, err := s.s.Modules()
	if err != nil {
		return err
	}
	out.Modules = make([]api.Module, len(mods))
	for i, m := range mods {
		out.Modules[i] = api.Module{Name: m.Name, Base: uint64(m.Base), Size: m.Size}
	}
	return nil
}

type RefreshCacheIn struct {
}

type RefreshCacheOut struct {
}

// RefreshCache rebuilds the address cache from the current module list.
func (s *RPCServer) RefreshCache(arg RefreshCacheIn, out *RefreshCacheOut) error {
	return s.s.RefreshCache()
}
