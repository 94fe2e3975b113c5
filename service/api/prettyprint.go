package api

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
)

// examineLayout returns the number of values per row and the fmt verb
// used to print a value of size bytes in the given format.
func examineLayout(format byte, size int) (cols int, colFormat string, ok bool) {
	switch format {
	case 'b':
		return 4, fmt.Sprintf("%%0%db", size*8), true
	case 'o':
		// always keep one leading zero for octal
		return 8, fmt.Sprintf("0%%0%do", size*3), true
	case 'd':
		return 8, fmt.Sprintf("%%0%dd", size*3), true
	case 'x':
		return 8, fmt.Sprintf("0x%%0%dx", size*2), true
	}
	return 0, "", false
}

// PrettyExamineMemory formats memArea, read at address, as rows of values.
//
// `format` specifies the data format: 'b' binary, 'o' octal, 'd' decimal,
// 'x' hexadecimal. `size` specifies the size in bytes of each value.
// Trailing bytes that do not make up a full value are not printed. Rows of
// single byte hexadecimal values end with the printable characters they
// contain.
func PrettyExamineMemory(address uint64, memArea []byte, isLittleEndian bool, format byte, size int) string {
	cols, colFormat, ok := examineLayout(format, size)
	if !ok {
		return fmt.Sprintf("not supported format %q\n", string(format))
	}
	colFormat += "\t"
	rowBytes := cols * size
	gutter := format == 'x' && size == 1

	// All rows use the width of the last address.
	addrLen := 0
	if len(memArea) != 0 {
		addrLen = len(fmt.Sprintf("%x", address+uint64(len(memArea))))
	}
	addrFmt := "0x%0" + strconv.Itoa(addrLen) + "x:\t"

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 3, ' ', 0)

	for off := 0; off < len(memArea); off += rowBytes {
		end := off + rowBytes
		if end > len(memArea) {
			end = len(memArea)
		}
		row := memArea[off:end]
		fmt.Fprintf(w, addrFmt, address+uint64(off))
		for j := 0; j < cols; j++ {
			switch {
			case (j+1)*size <= len(row):
				fmt.Fprintf(w, colFormat, byteArrayToUInt64(row[j*size:(j+1)*size], isLittleEndian))
			case gutter:
				fmt.Fprint(w, "\t")
			}
		}
		if gutter {
			fmt.Fprintf(w, "|%s|", printable(row))
		}
		fmt.Fprintln(w, "")
	}
	w.Flush()
	return b.String()
}

func printable(buf []byte) string {
	r := make([]byte, len(buf))
	for i, c := range buf {
		if c < 0x20 || c > 0x7e {
			c = '.'
		}
		r[i] = c
	}
	return string(r)
}

func byteArrayToUInt64(buf []byte, isLittleEndian bool) uint64 {
	var n uint64
	if isLittleEndian {
		for i := len(buf) - 1; i >= 0; i-- {
			n = n<<8 + uint64(buf[i])
		}
	} else {
		for i := 0; i < len(buf); i++ {
			n = n<<8 + uint64(buf[i])
		}
	}
	return n
}
