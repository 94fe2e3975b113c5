package terminal

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"golang.org/x/arch/x86/x86asm"

	"github.com/go-delve/memview/service/api"
)

type asmInstruction struct {
	PC    uint64
	Bytes []byte
	Text  string
}

// disassemble decodes mem, read at pc, as amd64 instructions. Bytes that
// do not start a valid instruction are printed as "?" one at a time. The
// last instruction is dropped if mem ends in the middle of it.
func disassemble(mem []byte, pc uint64, syntax string, symLookup x86asm.SymLookup) ([]asmInstruction, error) {
	var text func(inst x86asm.Inst, pc uint64) string
	switch syntax {
	case "gnu", "":
		text = func(inst x86asm.Inst, pc uint64) string { return x86asm.GNUSyntax(inst, pc, symLookup) }
	case "intel":
		text = func(inst x86asm.Inst, pc uint64) string { return x86asm.IntelSyntax(inst, pc, symLookup) }
	case "go":
		text = func(inst x86asm.Inst, pc uint64) string { return x86asm.GoSyntax(inst, pc, symLookup) }
	default:
		return nil, fmt.Errorf("unknown assembly syntax %q", syntax)
	}

	var r []asmInstruction
	for len(mem) > 0 {
		inst, err := x86asm.Decode(mem, 64)
		if err == x86asm.ErrTruncated && len(r) > 0 {
			break
		}
		if err != nil {
			r = append(r, asmInstruction{PC: pc, Bytes: mem[:1], Text: "?"})
			mem = mem[1:]
			pc++
			continue
		}
		r = append(r, asmInstruction{PC: pc, Bytes: mem[:inst.Len], Text: text(inst, pc)})
		mem = mem[inst.Len:]
		pc += uint64(inst.Len)
	}
	return r, nil
}

// moduleSymLookup resolves addresses to the module containing them.
func moduleSymLookup(mods []api.Module) x86asm.SymLookup {
	return func(addr uint64) (string, uint64) {
		for _, m := range mods {
			if addr >= m.Base && addr-m.Base <= m.Size {
				return filepath.Base(m.Name), m.Base
			}
		}
		return "", 0
	}
}

func disasmPrint(dv []asmInstruction, out io.Writer) {
	bw := bufio.NewWriter(out)
	defer bw.Flush()
	tw := tabwriter.NewWriter(bw, 1, 8, 1, '\t', 0)
	defer tw.Flush()
	for _, inst := range dv {
		fmt.Fprintf(tw, "%#x\t%x\t%s\n", inst.PC, inst.Bytes, inst.Text)
	}
}
