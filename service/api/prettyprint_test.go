package api

import (
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestPrettyExamineMemory(t *testing.T) {
	// Test whether always use the last addr's len to format when the lens of two adjacent address are different
	addr := uint64(0xffff)
	memArea := []byte("abcdefghijklmnopqrstuvwxyz")
	format := byte('o')

	display := []string{
		"0x0ffff:   0141   0142   0143   0144   0145   0146   0147   0150",
		"0x10007:   0151   0152   0153   0154   0155   0156   0157   0160",
		"0x1000f:   0161   0162   0163   0164   0165   0166   0167   0170",
		"0x10017:   0171   0172"}
	res := strings.Split(strings.TrimSpace(PrettyExamineMemory(addr, memArea, true, format, 1)), "\n")

	if len(display) != len(res) {
		t.Fatalf("wrong lines return, expected %d but got %d", len(display), len(res))
	}

	for i := 0; i < len(display); i++ {
		if display[i] != strings.TrimRight(res[i], " ") {
			errInfo := fmt.Sprintf("wrong display return at line %d\n", i+1)
			errInfo += fmt.Sprintf("expected:\n   %q\n", display[i])
			errInfo += fmt.Sprintf("but got:\n   %q\n", res[i])
			t.Fatal(errInfo)
		}
	}
}

func TestPrettyExamineMemoryHex(t *testing.T) {
	mem := []byte{0x01, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff, 0xaa}
	res := strings.TrimRight(PrettyExamineMemory(0x1000, mem, true, 'x', 4), "\n ")
	const tgt = "0x1000:   0x00000001   0xffffffff"
	if res != tgt {
		t.Fatalf("expected %q got %q", tgt, res)
	}
	if s := PrettyExamineMemory(0, mem, true, 'z', 1); !strings.HasPrefix(s, "not supported format") {
		t.Fatalf("unexpected output for bad format: %q", s)
	}
}

func TestPrettyExamineMemoryGutter(t *testing.T) {
	res := strings.Split(strings.TrimRight(PrettyExamineMemory(0x2000, []byte("hello, world\x00"), true, 'x', 1), "\n"), "\n")
	if len(res) != 2 {
		t.Fatalf("expected 2 rows got %q", res)
	}
	if !strings.HasPrefix(res[0], "0x2000:   0x68   0x65") || !strings.HasSuffix(res[0], "|hello, w|") {
		t.Errorf("bad first row %q", res[0])
	}
	if !strings.HasPrefix(res[1], "0x2008:   0x6f   0x72   0x6c   0x64   0x00   ") || !strings.HasSuffix(res[1], "|orld.|") {
		t.Errorf("bad second row %q", res[1])
	}
	if i, j := strings.Index(res[0], "|"), strings.Index(res[1], "|"); i != j {
		t.Errorf("gutters not aligned: %d %d", i, j)
	}
}

func Test_byteArrayToUInt64(t *testing.T) {
	tests := []struct {
		name string
		args []byte
		le   bool
		want uint64
	}{
		{"case-nil", nil, true, 0},
		{"case-1", []byte{0x1}, true, 1},
		{"case-2", []byte{0x12}, true, 18},
		{"case-3", []byte{0x1, 0x2}, true, 513},
		{"case-3-be", []byte{0x1, 0x2}, false, 258},
		{"case-4", []byte{0x1, 0x1, 0x1, 0x1, 0x1, 0x1, 0x1, 0x2}, true, 144397766876004609},
		{"case-5", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, true, math.MaxUint64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := byteArrayToUInt64(tt.args, tt.le); got != tt.want {
				t.Errorf("byteArrayToUInt64() got = %v, want %v", got, tt.want)
			}
		})
	}
}
