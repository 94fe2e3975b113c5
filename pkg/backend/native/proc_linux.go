package native

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/go-delve/memview/pkg/backend"
	"github.com/go-delve/memview/pkg/logflags"
)

type nativeOS struct{}

func newOS() (backend.OS, error) {
	return &nativeOS{}, nil
}

func (*nativeOS) Name() string { return Name }

func (*nativeOS) Close() error { return nil }

func (*nativeOS) ProcessByPid(pid int) (backend.Process, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("%w: invalid pid %d", backend.ErrProcessNotFound, pid)
	}
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: pid %d", backend.ErrProcessNotFound, pid)
		}
		return nil, err
	}
	logflags.BackendLogger().Debugf("opened process %d", pid)
	return &nativeProcess{pid: pid}, nil
}

// nativeProcess reads memory with process_vm_readv, falling back to
// /proc/<pid>/mem if the system call is not available.
type nativeProcess struct {
	pid int

	mu      sync.Mutex
	closed  bool
	memFile *os.File
	noVMRW  bool
}

func (p *nativeProcess) Pid() int { return p.pid }

func (p *nativeProcess) ModuleList() ([]backend.ModuleInfo, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, backend.ErrClosed
	}
	fh, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: pid %d", backend.ErrProcessNotFound, p.pid)
		}
		return nil, err
	}
	defer fh.Close()
	maps, err := parseMaps(fh)
	if err != nil {
		return nil, err
	}
	mods := modulesFromMaps(maps)
	logflags.BackendLogger().Debugf("process %d: %d mappings, %d modules", p.pid, len(maps), len(mods))
	return mods, nil
}

func (p *nativeProcess) ReadMemory(buf []byte, addr backend.Address) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, backend.ErrClosed
	}
	n := 0
	for n < len(buf) {
		cur := addr.Add(uint64(n))
		k, err := p.readOnce(buf[n:], cur)
		if err != nil {
			return n, classifyErrno(err, cur)
		}
		if k == 0 {
			return n, fmt.Errorf("%w: %s", backend.ErrUnmapped, cur)
		}
		n += k
	}
	return n, nil
}

func (p *nativeProcess) readOnce(buf []byte, addr backend.Address) (int, error) {
	if !p.noVMRW {
		n, err := readMemory(p.pid, buf, uintptr(addr))
		if err != unix.ENOSYS {
			return n, err
		}
		logflags.BackendLogger().Debugf("process_vm_readv not available, using /proc/%d/mem", p.pid)
		p.noVMRW = true
	}
	if p.memFile == nil {
		fh, err := os.Open(fmt.Sprintf("/proc/%d/mem", p.pid))
		if err != nil {
			return 0, err
		}
		p.memFile = fh
	}
	return unix.Pread(int(p.memFile.Fd()), buf, int64(addr))
}

func readMemory(pid int, data []byte, ptr uintptr) (int, error) {
	localIov := []unix.Iovec{{Base: &data[0]}}
	localIov[0].SetLen(len(data))

	remoteIov := []unix.RemoteIovec{
		{
			Base: ptr,
			Len:  len(data),
		},
	}

	return unix.ProcessVMReadv(pid, localIov, remoteIov, 0)
}

func classifyErrno(err error, addr backend.Address) error {
	var errno unix.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.EFAULT, unix.EIO, unix.EINVAL:
			return fmt.Errorf("%w: %s", backend.ErrUnmapped, addr)
		case unix.EPERM, unix.EACCES:
			return fmt.Errorf("%w: %s: %v", backend.ErrPermission, addr, err)
		case unix.ESRCH:
			return fmt.Errorf("%w: %v", backend.ErrProcessNotFound, err)
		}
	}
	if os.IsPermission(err) {
		return fmt.Errorf("%w: %s: %v", backend.ErrPermission, addr, err)
	}
	return fmt.Errorf("reading %s: %w", addr, err)
}

func (p *nativeProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.memFile != nil {
		return p.memFile.Close()
	}
	return nil
}
