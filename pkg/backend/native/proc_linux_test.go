package native

import (
	"errors"
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/memview/pkg/backend"
	"github.com/go-delve/memview/pkg/config"
)

func openSelf(t *testing.T) backend.Process {
	t.Helper()
	o, err := New(nil, config.Args{})
	require.NoError(t, err)
	p, err := o.ProcessByPid(os.Getpid())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

var selfData = []byte("memview native backend test data")

func TestReadSelf(t *testing.T) {
	p := openSelf(t)
	want := selfData
	buf := make([]byte, len(want))
	n, err := p.ReadMemory(buf, backend.Address(uintptr(unsafe.Pointer(&want[0]))))
	if errors.Is(err, backend.ErrPermission) {
		t.Skip("reading own memory not permitted:", err)
	}
	require.NoError(t, err)
	require.Equal(t, len(want), n)
	require.Equal(t, want, buf)
}

func TestReadUnmapped(t *testing.T) {
	p := openSelf(t)
	buf := make([]byte, 16)
	n, err := p.ReadMemory(buf, 0)
	if errors.Is(err, backend.ErrPermission) {
		t.Skip("reading own memory not permitted:", err)
	}
	require.Equal(t, 0, n)
	require.True(t, errors.Is(err, backend.ErrUnmapped), "unexpected error %v", err)
}

func TestModuleListSelf(t *testing.T) {
	p := openSelf(t)
	mods, err := p.ModuleList()
	require.NoError(t, err)
	require.NotEmpty(t, mods)

	exe, err := os.Executable()
	require.NoError(t, err)
	found := false
	for _, m := range mods {
		if m.Name == exe {
			found = true
		}
	}
	require.True(t, found, "executable %s not in module list %v", exe, mods)
}

func TestProcessNotFound(t *testing.T) {
	o, err := New(nil, config.Args{})
	require.NoError(t, err)
	_, err = o.ProcessByPid(-1)
	require.True(t, errors.Is(err, backend.ErrProcessNotFound))
	_, err = o.ProcessByPid(1 << 30)
	require.True(t, errors.Is(err, backend.ErrProcessNotFound))
}

func TestClosedProcess(t *testing.T) {
	p := openSelf(t)
	require.NoError(t, p.Close())
	_, err := p.ModuleList()
	require.Equal(t, backend.ErrClosed, err)
	_, err = p.ReadMemory(make([]byte, 1), 0)
	require.Equal(t, backend.ErrClosed, err)
}
