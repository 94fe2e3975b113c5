package coredump

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/go-delve/memview/pkg/backend"
	"github.com/go-delve/memview/pkg/elfwriter"
	"github.com/go-delve/memview/pkg/logflags"
	"github.com/go-delve/memview/pkg/version"
)

// DumpState represents the current state of a core dump in progress.
type DumpState struct {
	Mutex sync.Mutex

	Canceled bool

	ModulesDone, ModulesTotal int
	MemDone, MemTotal         uint64
	// MemMissing counts the bytes that could not be read and were
	// written as zeroes.
	MemMissing uint64

	Err error
}

func (state *DumpState) setErr(err error) {
	if err == nil {
		return
	}
	state.Mutex.Lock()
	if state.Err == nil {
		state.Err = err
	}
	state.Mutex.Unlock()
}

func (state *DumpState) setTotals(modules int, mem uint64) {
	state.Mutex.Lock()
	state.ModulesTotal = modules
	state.MemTotal = mem
	state.Mutex.Unlock()
}

func (state *DumpState) moduleDone() {
	state.Mutex.Lock()
	state.ModulesDone++
	state.Mutex.Unlock()
}

func (state *DumpState) memDone(delta, missing uint64) {
	state.Mutex.Lock()
	state.MemDone += delta
	state.MemMissing += missing
	state.Mutex.Unlock()
}

func (state *DumpState) isCanceled() bool {
	state.Mutex.Lock()
	defer state.Mutex.Unlock()
	return state.Canceled
}

// Cancel stops a dump in progress. The output file is left incomplete.
func (state *DumpState) Cancel() {
	state.Mutex.Lock()
	state.Canceled = true
	state.Mutex.Unlock()
}

// Progress returns the number of bytes written and the total to write.
func (state *DumpState) Progress() (done, total uint64) {
	state.Mutex.Lock()
	defer state.Mutex.Unlock()
	return state.MemDone, state.MemTotal
}

const dumpChunkSize = 1024 * 1024

// Write writes a core file of process p to out, one PT_LOAD segment per
// module. Memory that can not be read is written as zeroes. State is
// updated as the file is written, out is closed when Write returns.
func Write(out elfwriter.WriteCloserSeeker, p backend.Process, state *DumpState) (err error) {
	defer func() {
		cerr := out.Close()
		if err == nil && cerr != nil {
			err = fmt.Errorf("error writing output file: %v", cerr)
		}
		state.setErr(err)
	}()

	mods, err := p.ModuleList()
	if err != nil {
		return err
	}

	var fhdr elf.FileHeader
	fhdr.Class = elf.ELFCLASS64
	fhdr.Data = elf.ELFDATA2LSB
	fhdr.Version = elf.EV_CURRENT
	fhdr.OSABI = elf.ELFOSABI_LINUX
	fhdr.Type = elf.ET_CORE
	fhdr.Machine = hostMachine()

	w, err := elfwriter.New(out, &fhdr)
	if err != nil {
		return err
	}

	var total uint64
	for _, m := range mods {
		total += m.Size
	}
	state.setTotals(len(mods), total)

	notes := []elfwriter.Note{
		{Type: elfwriter.MemviewHeaderNoteType, Name: elfwriter.MemviewNoteName, Data: headerNote(p.Pid())},
		{Type: elf.NT_PRPSINFO, Name: elfwriter.CoreNoteName, Data: prpsinfoNote(p.Pid(), mods)},
		{Type: elfwriter.NTFile, Name: elfwriter.CoreNoteName, Data: ntFileNote(mods)},
	}
	w.Progs = append(w.Progs, w.WriteNotes(notes))

	for i := range mods {
		if state.isCanceled() {
			return fmt.Errorf("dump canceled")
		}
		dumpModule(state, w, p, &mods[i])
		if w.Err != nil {
			return fmt.Errorf("error writing to output file: %v", w.Err)
		}
		state.moduleDone()
	}

	w.WriteProgramHeaders()
	if w.Err != nil {
		return fmt.Errorf("error writing to output file: %v", w.Err)
	}
	return nil
}

func dumpModule(state *DumpState, w *elfwriter.Writer, p backend.Process, m *backend.ModuleInfo) {
	w.Progs = append(w.Progs, &elf.ProgHeader{
		Type:   elf.PT_LOAD,
		Flags:  elf.PF_R,
		Off:    uint64(w.Here()),
		Vaddr:  uint64(m.Base),
		Paddr:  0,
		Filesz: m.Size,
		Memsz:  m.Size,
		Align:  0,
	})

	buf := make([]byte, dumpChunkSize)
	addr := m.Base
	sz := m.Size
	log := logflags.BackendLogger()

	for sz > 0 {
		if w.Err != nil || state.isCanceled() {
			return
		}
		chunk := buf
		if uint64(len(chunk)) > sz {
			chunk = chunk[:sz]
		}
		n, err := p.ReadMemory(chunk, addr)
		for i := n; i < len(chunk); i++ {
			chunk[i] = 0
		}
		// Errors and short reads are ignored, modules often contain
		// unmapped gaps between their segments.
		if err != nil {
			log.Debugf("dump: %s: %d bytes unreadable at %s: %v", m.Name, len(chunk)-n, addr.Add(uint64(n)), err)
		}
		w.Write(chunk)
		addr = addr.Add(uint64(len(chunk)))
		sz -= uint64(len(chunk))
		state.memDone(uint64(len(chunk)), uint64(len(chunk)-n))
	}
}

func headerNote(pid int) []byte {
	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "%s%d\n", elfwriter.MemviewHeaderTargetPidPrefix, pid)
	fmt.Fprintf(buf, "%s%s.%s.%s\n", elfwriter.MemviewHeaderVersionPrefix, version.MemviewVersion.Major, version.MemviewVersion.Minor, version.MemviewVersion.Patch)
	return buf.Bytes()
}

func prpsinfoNote(pid int, mods []backend.ModuleInfo) []byte {
	var info linuxPrPsInfo
	info.Pid = int32(pid)
	if len(mods) > 0 {
		copy(info.Fname[:len(info.Fname)-1], filepath.Base(mods[0].Name))
	}
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, &info)
	return buf.Bytes()
}

func ntFileNote(mods []backend.ModuleInfo) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, &linuxNTFileHdr{Count: uint64(len(mods)), PageSize: defaultPageSize})
	for _, m := range mods {
		binary.Write(buf, binary.LittleEndian, &linuxNTFileEntryRaw{Start: uint64(m.Base), End: uint64(m.End()), FileOfs: 0})
	}
	for _, m := range mods {
		buf.WriteString(m.Name)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func hostMachine() elf.Machine {
	switch runtime.GOARCH {
	case "arm64":
		return elf.EM_AARCH64
	case "386":
		return elf.EM_386
	case "arm":
		return elf.EM_ARM
	case "ppc64le":
		return elf.EM_PPC64
	case "riscv64":
		return elf.EM_RISCV
	default:
		return elf.EM_X86_64
	}
}
