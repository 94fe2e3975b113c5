package elfwriter

import "debug/elf"

const (
	// CoreNoteName is the owner name of the notes written by the Linux
	// kernel in core files.
	CoreNoteName = "CORE\x00"

	// MemviewNoteName is the owner name of the notes specific to memview.
	MemviewNoteName = "MEMVIEW\x00"

	// NTFile is the type of the note listing file mappings.
	NTFile elf.NType = 0x46494c45 // FILE

	// MemviewHeaderNoteType is the type of the note describing the tool
	// that wrote a core file.
	MemviewHeaderNoteType elf.NType = 0x4d564857 // MVHW

	MemviewHeaderTargetPidPrefix = "Target Pid: "
	MemviewHeaderVersionPrefix   = "Version: "
)
