package native

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/memview/pkg/backend"
)

const testMaps = `55d0c2a00000-55d0c2a02000 r--p 00000000 08:01 1049 /usr/bin/cat
55d0c2a02000-55d0c2a07000 r-xp 00002000 08:01 1049 /usr/bin/cat
55d0c2a09000-55d0c2a0a000 rw-p 00008000 08:01 1049 /usr/bin/cat
55d0c3b51000-55d0c3b72000 rw-p 00000000 00:00 0                          [heap]
7f1e5a800000-7f1e5a828000 r--p 00000000 00:23 52 /lib/x86_64-linux-gnu/libc.so.6
7f1e5a828000-7f1e5a9bd000 r-xp 00028000 00:23 52 /lib/x86_64-linux-gnu/libc.so.6
7f1e5aa1c000-7f1e5aa1d000 rw-p 00000000 00:00 0
7ffd1c3e5000-7ffd1c406000 rw-p 00000000 00:00 0                          [stack]
ffffffffff600000-ffffffffff601000 --xp 00000000 00:00 0                  [vsyscall]
`

func TestParseMaps(t *testing.T) {
	maps, err := parseMaps(strings.NewReader(testMaps))
	require.NoError(t, err)
	require.Len(t, maps, 9)

	require.Equal(t, uint64(0x55d0c2a02000), maps[1].start)
	require.Equal(t, uint64(0x55d0c2a07000), maps[1].end)
	require.Equal(t, "r-xp", maps[1].perm)
	require.Equal(t, uint64(0x2000), maps[1].offset)
	require.Equal(t, "/usr/bin/cat", maps[1].filename)

	require.Equal(t, "[heap]", maps[3].filename)
	require.Equal(t, "", maps[6].filename)
	require.False(t, maps[6].fileBacked())
}

func TestParseMapsMalformed(t *testing.T) {
	for _, in := range []string{
		"zzzz-1000 r--p 00000000 08:01 1 /a",
		"1000 r--p 00000000 08:01 1 /a",
		"2000-1000 r--p 00000000 08:01 1 /a",
		"1000-2000 r- 00000000 08:01 1 /a",
		"1000-2000 r--p",
	} {
		_, err := parseMaps(strings.NewReader(in + "\n"))
		require.Error(t, err, "input %q", in)
		require.Contains(t, err.Error(), "line 1")
	}
}

func TestModulesFromMaps(t *testing.T) {
	maps, err := parseMaps(strings.NewReader(testMaps))
	require.NoError(t, err)
	mods := modulesFromMaps(maps)
	require.Equal(t, []backend.ModuleInfo{
		{Name: "/usr/bin/cat", Base: 0x55d0c2a00000, Size: 0xa000},
		{Name: "/lib/x86_64-linux-gnu/libc.so.6", Base: 0x7f1e5a800000, Size: 0x1bd000},
	}, mods)
}
