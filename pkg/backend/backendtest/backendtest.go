// Package backendtest implements an in-memory backend for tests. It counts
// calls so that tests can check how often the backend is queried.
package backendtest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-delve/memview/pkg/backend"
	"github.com/go-delve/memview/pkg/config"
)

// Name is the name the stub OS is registered under by Register.
const Name = "stub"

// OS is a stub backend.OS serving a fixed set of processes.
type OS struct {
	mu      sync.Mutex
	procs   map[int]*Process
	lookups int
	closed  bool
}

var _ backend.OS = &OS{}

// NewOS returns a stub OS with no processes.
func NewOS() *OS {
	return &OS{procs: make(map[int]*Process)}
}

// Register adds o to inv as the OS named Name.
func Register(inv *backend.Inventory, o *OS) {
	inv.AddOS(Name, func(backend.Connector, config.Args) (backend.OS, error) {
		return o, nil
	})
}

// AddProcess adds a process with the given modules.
func (o *OS) AddProcess(pid int, modules ...backend.ModuleInfo) *Process {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := &Process{pid: pid}
	p.SetModules(modules...)
	o.procs[pid] = p
	return p
}

// Process returns the process added with pid, or nil.
func (o *OS) Process(pid int) *Process {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.procs[pid]
}

// Lookups returns the number of calls to ProcessByPid.
func (o *OS) Lookups() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lookups
}

// Closed reports whether Close was called.
func (o *OS) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *OS) Name() string { return Name }

func (o *OS) ProcessByPid(pid int) (backend.Process, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lookups++
	p, ok := o.procs[pid]
	if !ok {
		return nil, fmt.Errorf("%w: pid %d", backend.ErrProcessNotFound, pid)
	}
	p.mu.Lock()
	p.opened++
	p.mu.Unlock()
	return &handle{p: p}, nil
}

func (o *OS) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

type region struct {
	addr   backend.Address
	data   []byte
	denied bool
}

func (r *region) end() backend.Address {
	return r.addr + backend.Address(len(r.data))
}

// Process is the state of a stub process, shared by all the handles
// returned for its pid.
type Process struct {
	mu              sync.Mutex
	pid             int
	modules         []backend.ModuleInfo
	moduleListErr   error
	readErr         error
	regions         []*region
	moduleListCalls int
	readCalls       int
	opened, closed  int
}

// SetModules replaces the module list.
func (p *Process) SetModules(modules ...backend.ModuleInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modules = append([]backend.ModuleInfo(nil), modules...)
}

// FailModuleList makes ModuleList return err, until called with nil.
func (p *Process) FailModuleList(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moduleListErr = err
}

// FailReads makes every ReadMemory call return err without reading,
// until called with nil.
func (p *Process) FailReads(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

// Map makes data readable at addr. Regions must not overlap.
func (p *Process) Map(addr backend.Address, data []byte) {
	p.addRegion(&region{addr: addr, data: data})
}

// Deny makes the size bytes at addr mapped but unreadable.
func (p *Process) Deny(addr backend.Address, size int) {
	p.addRegion(&region{addr: addr, data: make([]byte, size), denied: true})
}

func (p *Process) addRegion(r *region) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regions = append(p.regions, r)
	sort.Slice(p.regions, func(i, j int) bool { return p.regions[i].addr < p.regions[j].addr })
}

// ModuleListCalls returns the number of calls to ModuleList, through any handle.
func (p *Process) ModuleListCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.moduleListCalls
}

// ReadCalls returns the number of calls to ReadMemory, through any handle.
func (p *Process) ReadCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readCalls
}

// OpenHandles returns the number of handles returned by ProcessByPid and
// not yet closed.
func (p *Process) OpenHandles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened - p.closed
}

func (p *Process) find(addr backend.Address) *region {
	for _, r := range p.regions {
		if addr >= r.addr && addr < r.end() {
			return r
		}
	}
	return nil
}

func (p *Process) readMemory(buf []byte, addr backend.Address) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readCalls++
	if p.readErr != nil {
		return 0, p.readErr
	}
	n := 0
	for n < len(buf) {
		cur := addr + backend.Address(n)
		r := p.find(cur)
		if r == nil {
			return n, fmt.Errorf("%w: %s", backend.ErrUnmapped, cur)
		}
		if r.denied {
			return n, fmt.Errorf("%w: %s", backend.ErrPermission, cur)
		}
		n += copy(buf[n:], r.data[cur-r.addr:])
	}
	return n, nil
}

type handle struct {
	p      *Process
	closed bool
}

func (h *handle) Pid() int { return h.p.pid }

func (h *handle) ModuleList() ([]backend.ModuleInfo, error) {
	if h.closed {
		return nil, backend.ErrClosed
	}
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	h.p.moduleListCalls++
	if h.p.moduleListErr != nil {
		return nil, h.p.moduleListErr
	}
	return append([]backend.ModuleInfo(nil), h.p.modules...), nil
}

func (h *handle) ReadMemory(buf []byte, addr backend.Address) (int, error) {
	if h.closed {
		return 0, backend.ErrClosed
	}
	return h.p.readMemory(buf, addr)
}

func (h *handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.p.mu.Lock()
	h.p.closed++
	h.p.mu.Unlock()
	return nil
}
