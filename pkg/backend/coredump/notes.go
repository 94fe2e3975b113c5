package coredump

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-delve/memview/pkg/elfwriter"
)

// note is a note from the PT_NOTE prog.
// Relevant types:
// - NT_FILE: File mapping information, e.g. program text mappings. Desc is a *linuxNTFile.
// - NT_PRPSINFO: Information about a process, including PID. Desc is a *linuxPrPsInfo.
// - MemviewHeaderNoteType: pid and version of the memview that wrote the file. Desc is a *memviewHeader.
// Other notes are kept with a nil Desc.
type note struct {
	Type elf.NType
	Name string
	Desc interface{}
}

// linuxPrPsInfo is a copy of the elf_prpsinfo kernel struct, 64bit layout.
// See include/uapi/linux/elfcore.h
type linuxPrPsInfo struct {
	State                uint8
	Sname                int8
	Zomb                 uint8
	Nice                 int8
	_                    [4]uint8
	Flag                 uint64
	Uid, Gid             uint32
	Pid, Ppid, Pgrp, Sid int32
	Fname                [16]uint8
	Args                 [80]uint8
}

func (p *linuxPrPsInfo) fname() string {
	return cstring(p.Fname[:])
}

// linuxNTFile contains information on mapped files.
type linuxNTFile struct {
	linuxNTFileHdr
	entries []*linuxNTFileEntry
}

// linuxNTFileHdr is the header of a NT_FILE note.
type linuxNTFileHdr struct {
	Count    uint64
	PageSize uint64
}

// linuxNTFileEntry is an entry of a NT_FILE note. FileOfs is in pages.
type linuxNTFileEntry struct {
	Start   uint64
	End     uint64
	FileOfs uint64
	name    string
}

type linuxNTFileEntryRaw struct {
	Start   uint64
	End     uint64
	FileOfs uint64
}

type memviewHeader struct {
	pid     int
	version string
}

// elfNotesHdr is the ELF Notes header.
// Same size on 64 and 32-bit machines.
type elfNotesHdr struct {
	Namesz uint32
	Descsz uint32
	Type   uint32
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// readNotes reads all the notes from the notes prog in core.
func readNotes(core *elf.File) ([]*note, error) {
	var notesProg *elf.Prog
	for _, prog := range core.Progs {
		if prog.Type == elf.PT_NOTE {
			notesProg = prog
			break
		}
	}
	if notesProg == nil {
		return nil, fmt.Errorf("no PT_NOTE segment")
	}

	r := notesProg.Open()
	notes := []*note{}
	for {
		note, err := readNote(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}

	return notes, nil
}

// readNote reads a single note from r, decoding the descriptor if possible.
func readNote(r io.ReadSeeker) (*note, error) {
	// Notes are laid out as described in the SysV ABI:
	// http://www.sco.com/developers/gabi/latest/ch5.pheader.html#note_section
	note := &note{}
	hdr := &elfNotesHdr{}

	err := binary.Read(r, binary.LittleEndian, hdr)
	if err != nil {
		return nil, err // don't wrap so readNotes sees EOF.
	}
	note.Type = elf.NType(hdr.Type)

	name := make([]byte, hdr.Namesz)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, fmt.Errorf("reading name: %v", err)
	}
	note.Name = cstring(name)
	if err := skipPadding(r, 4); err != nil {
		return nil, fmt.Errorf("aligning after name: %v", err)
	}
	desc := make([]byte, hdr.Descsz)
	if _, err := io.ReadFull(r, desc); err != nil {
		return nil, fmt.Errorf("reading desc: %v", err)
	}
	descReader := bytes.NewReader(desc)
	switch note.Type {
	case elf.NT_PRPSINFO:
		note.Desc = &linuxPrPsInfo{}
		if err := binary.Read(descReader, binary.LittleEndian, note.Desc); err != nil {
			return nil, fmt.Errorf("reading NT_PRPSINFO: %v", err)
		}
	case elfwriter.NTFile:
		// The structure is a header, including entry count, followed by
		// that many entries, and then the file name of each entry,
		// null-delimited.
		data := &linuxNTFile{}
		if err := binary.Read(descReader, binary.LittleEndian, &data.linuxNTFileHdr); err != nil {
			return nil, fmt.Errorf("reading NT_FILE header: %v", err)
		}
		if data.Count > uint64(len(desc)) {
			return nil, fmt.Errorf("reading NT_FILE header: bad entry count %d", data.Count)
		}
		for i := 0; i < int(data.Count); i++ {
			var raw linuxNTFileEntryRaw
			if err := binary.Read(descReader, binary.LittleEndian, &raw); err != nil {
				return nil, fmt.Errorf("reading NT_FILE entry %v: %v", i, err)
			}
			data.entries = append(data.entries, &linuxNTFileEntry{Start: raw.Start, End: raw.End, FileOfs: raw.FileOfs})
		}
		names := desc[len(desc)-descReader.Len():]
		for _, entry := range data.entries {
			i := bytes.IndexByte(names, 0)
			if i < 0 {
				entry.name = string(names)
				names = nil
				continue
			}
			entry.name = string(names[:i])
			names = names[i+1:]
		}
		note.Desc = data
	case elfwriter.MemviewHeaderNoteType:
		h := &memviewHeader{}
		for _, line := range strings.Split(string(desc), "\n") {
			switch {
			case strings.HasPrefix(line, elfwriter.MemviewHeaderTargetPidPrefix):
				pid, err := strconv.Atoi(line[len(elfwriter.MemviewHeaderTargetPidPrefix):])
				if err != nil {
					return nil, fmt.Errorf("reading memview header: %v", err)
				}
				h.pid = pid
			case strings.HasPrefix(line, elfwriter.MemviewHeaderVersionPrefix):
				h.version = line[len(elfwriter.MemviewHeaderVersionPrefix):]
			}
		}
		note.Desc = h
	}
	if err := skipPadding(r, 4); err != nil {
		return nil, fmt.Errorf("aligning after desc: %v", err)
	}
	return note, nil
}

// skipPadding moves r to the next multiple of pad.
func skipPadding(r io.ReadSeeker, pad int64) error {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if pos%pad == 0 {
		return nil
	}
	if _, err := r.Seek(pad-(pos%pad), io.SeekCurrent); err != nil {
		return err
	}
	return nil
}
