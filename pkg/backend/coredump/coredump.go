// Package coredump implements the "coredump" connector and OS backends,
// which read the memory of a process from an ELF core file, and a writer
// for such files.
//
// For details on the Linux ELF core format, see:
// http://www.gabriel.urdhr.fr/2015/05/29/core-file/,
// elf_core_dump in https://elixir.bootlin.com/linux/latest/source/fs/binfmt_elf.c.
package coredump

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-delve/memview/pkg/backend"
	"github.com/go-delve/memview/pkg/config"
	"github.com/go-delve/memview/pkg/logflags"
)

// Name is the name of both the connector and the OS backend.
const Name = "coredump"

const (
	defaultCachePages = 256
	defaultPageSize   = 4096
	elfErrorBadMagic  = "bad magic number"
)

// ErrUnrecognizedFormat is returned when the file is not an ELF core file.
var ErrUnrecognizedFormat = errors.New("unrecognized core format")

func init() {
	backend.RegisterConnector(Name, NewConnector)
	backend.RegisterOS(Name, NewOS)
}

// Connector is an open core file.
type Connector struct {
	path     string
	file     *os.File
	core     *elf.File
	mem      *splicedMemory
	pid      int
	fname    string
	producer string
	pageSize uint64
	files    []*linuxNTFileEntry
}

var _ backend.Connector = &Connector{}

// NewConnector opens the core file named by the "path" argument, or by the
// default argument. The "cache-pages" argument sets the number of pages of
// the core file kept in memory.
func NewConnector(args config.Args) (backend.Connector, error) {
	path, ok := args.Get("path")
	if !ok {
		path, ok = args.Get("default")
	}
	if !ok || path == "" {
		return nil, fmt.Errorf("%w: missing core file path", config.ErrConfig)
	}
	npages := defaultCachePages
	if s, ok := args.Get("cache-pages"); ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: bad cache-pages value %q", config.ErrConfig, s)
		}
		npages = n
	}
	return Open(path, npages)
}

// Open opens the core file at path, keeping npages pages of it in memory.
func Open(path string, npages int) (*Connector, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	c, err := open(fh, npages)
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.path = path
	logflags.BackendLogger().Debugf("opened core file %s: pid %d, %d mapped files", path, c.pid, len(c.files))
	return c, nil
}

func open(fh *os.File, npages int) (*Connector, error) {
	fi, err := fh.Stat()
	if err != nil {
		return nil, err
	}
	cache, err := newPageCache(fh, fi.Size(), defaultPageSize, npages)
	if err != nil {
		return nil, err
	}
	core, err := elf.NewFile(cache)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil, ErrUnrecognizedFormat
	}
	if err != nil {
		if _, isfmterr := err.(*elf.FormatError); isfmterr && (strings.Contains(err.Error(), elfErrorBadMagic) || strings.Contains(err.Error(), " at offset 0x0: too short")) {
			return nil, ErrUnrecognizedFormat
		}
		return nil, err
	}
	if core.Type != elf.ET_CORE {
		return nil, fmt.Errorf("%w: not a core file (type %v)", ErrUnrecognizedFormat, core.Type)
	}
	if core.Class != elf.ELFCLASS64 || core.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("%w: only 64bit little endian core files are supported", ErrUnrecognizedFormat)
	}

	notes, err := readNotes(core)
	if err != nil {
		return nil, err
	}

	c := &Connector{file: fh, core: core, pageSize: defaultPageSize, pid: -1}
	for _, note := range notes {
		switch desc := note.Desc.(type) {
		case *linuxPrPsInfo:
			c.pid = int(desc.Pid)
			c.fname = desc.fname()
		case *linuxNTFile:
			c.pageSize = desc.PageSize
			c.files = append(c.files, desc.entries...)
		case *memviewHeader:
			c.producer = desc.version
			if c.pid < 0 {
				c.pid = desc.pid
			}
		}
	}
	if c.pid < 0 {
		return nil, fmt.Errorf("core file does not record a pid")
	}
	c.mem = buildMemory(core)
	return c, nil
}

// buildMemory splices the PT_LOAD segments of core into one address space.
// Later segments override earlier ones.
func buildMemory(core *elf.File) *splicedMemory {
	memory := &splicedMemory{}
	for _, prog := range core.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Filesz > 0 {
			memory.Add(&offsetReaderAt{reader: prog.ReaderAt, vaddr: backend.Address(prog.Vaddr)}, backend.Address(prog.Vaddr), prog.Filesz)
		}
		if prog.Memsz > prog.Filesz {
			memory.Add(zeroReader{}, backend.Address(prog.Vaddr+prog.Filesz), prog.Memsz-prog.Filesz)
		}
	}
	return memory
}

func (c *Connector) Name() string { return Name }

// Path returns the path of the core file.
func (c *Connector) Path() string { return c.path }

// Pid returns the pid of the process recorded in the core file.
func (c *Connector) Pid() int { return c.pid }

// Producer returns the version of memview that wrote the core file, or the
// empty string if it was written by something else.
func (c *Connector) Producer() string { return c.producer }

func (c *Connector) Close() error {
	return c.file.Close()
}

// Modules returns the files mapped in the process recorded in the core,
// each spanning from its lowest to its highest mapped address.
func (c *Connector) Modules() []backend.ModuleInfo {
	type span struct{ start, end uint64 }
	spans := make(map[string]*span)
	for _, f := range c.files {
		name := f.name
		if name == "" {
			continue
		}
		s := spans[name]
		if s == nil {
			spans[name] = &span{f.Start, f.End}
			continue
		}
		if f.Start < s.start {
			s.start = f.Start
		}
		if f.End > s.end {
			s.end = f.End
		}
	}
	r := make([]backend.ModuleInfo, 0, len(spans))
	for name, s := range spans {
		r = append(r, backend.ModuleInfo{Name: name, Base: backend.Address(s.start), Size: s.end - s.start})
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Base < r[j].Base })
	return r
}

// ReadMemory reads from the memory image stored in the core file.
func (c *Connector) ReadMemory(buf []byte, addr backend.Address) (int, error) {
	return c.mem.ReadMemory(buf, addr)
}

// coreOS exposes the single process recorded by a core file.
type coreOS struct {
	conn *Connector
}

// NewOS returns an OS backend for the process in the core file opened by
// conn, which must be a coredump connector.
func NewOS(conn backend.Connector, args config.Args) (backend.OS, error) {
	c, ok := conn.(*Connector)
	if !ok || c == nil {
		return nil, fmt.Errorf("%w: the %s os requires the %s connector", config.ErrConfig, Name, Name)
	}
	return &coreOS{conn: c}, nil
}

func (o *coreOS) Name() string { return Name }

func (o *coreOS) ProcessByPid(pid int) (backend.Process, error) {
	if pid != o.conn.pid {
		return nil, fmt.Errorf("%w: pid %d (core file %s contains pid %d)", backend.ErrProcessNotFound, pid, filepath.Base(o.conn.path), o.conn.pid)
	}
	return &coreProcess{conn: o.conn}, nil
}

func (o *coreOS) Close() error {
	return o.conn.Close()
}

type coreProcess struct {
	conn   *Connector
	closed bool
}

func (p *coreProcess) Pid() int { return p.conn.pid }

func (p *coreProcess) ModuleList() ([]backend.ModuleInfo, error) {
	if p.closed {
		return nil, backend.ErrClosed
	}
	return p.conn.Modules(), nil
}

func (p *coreProcess) ReadMemory(buf []byte, addr backend.Address) (int, error) {
	if p.closed {
		return 0, backend.ErrClosed
	}
	return p.conn.ReadMemory(buf, addr)
}

func (p *coreProcess) Close() error {
	p.closed = true
	return nil
}
