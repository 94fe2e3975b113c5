package native

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/go-delve/memview/pkg/backend"
)

// mapping is a line of /proc/<pid>/maps.
type mapping struct {
	start, end uint64
	perm       string
	offset     uint64
	dev        string
	filename   string
}

func (m *mapping) fileBacked() bool {
	return strings.HasPrefix(m.filename, "/")
}

// parseMaps parses the contents of /proc/<pid>/maps.
func parseMaps(r io.Reader) ([]mapping, error) {
	var maps []mapping
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), 1<<20)
	lineno := 0
	for s.Scan() {
		lineno++
		line := s.Text()
		if line == "" {
			continue
		}
		m, err := parseMapsLine(lineno, line)
		if err != nil {
			return nil, err
		}
		maps = append(maps, m)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return maps, nil
}

func parseMapsLine(lineno int, in string) (m mapping, err error) {
	fields := strings.SplitN(in, " ", 6)
	if len(fields) < 5 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (wrong number of fields)", lineno, in)
		return
	}

	v := strings.Split(fields[0], "-")
	if len(v) != 2 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (bad first field)", lineno, in)
		return
	}
	m.start, err = strconv.ParseUint(v[0], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}
	m.end, err = strconv.ParseUint(v[1], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}
	if m.end < m.start {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (end before start)", lineno, in)
		return
	}

	m.perm = fields[1]
	if len(m.perm) < 4 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (permissions column too short)", lineno, in)
		return
	}

	m.offset, err = strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}

	m.dev = fields[3]

	// fields[4] -> inode

	if len(fields) == 6 {
		m.filename = strings.TrimLeft(fields[5], " ")
	}
	return
}

// modulesFromMaps groups the file backed mappings by file name. Each module
// starts at the lowest address mapped from its file and ends at the highest
// one, modules are returned in address order.
func modulesFromMaps(maps []mapping) []backend.ModuleInfo {
	type span struct{ start, end uint64 }
	spans := make(map[string]*span)
	for i := range maps {
		m := &maps[i]
		if !m.fileBacked() {
			continue
		}
		s := spans[m.filename]
		if s == nil {
			spans[m.filename] = &span{m.start, m.end}
			continue
		}
		if m.start < s.start {
			s.start = m.start
		}
		if m.end > s.end {
			s.end = m.end
		}
	}
	r := make([]backend.ModuleInfo, 0, len(spans))
	for name, s := range spans {
		r = append(r, backend.ModuleInfo{Name: name, Base: backend.Address(s.start), Size: s.end - s.start})
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Base < r[j].Base })
	return r
}
