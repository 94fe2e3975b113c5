package bridge

import (
	"errors"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/memview/pkg/backend"
	"github.com/go-delve/memview/pkg/backend/backendtest"
	"github.com/go-delve/memview/pkg/config"
)

func newTestBridge() (*Bridge, *backendtest.Process) {
	o := backendtest.NewOS()
	p := o.AddProcess(42, backend.ModuleInfo{Name: "main", Base: 0x2000, Size: 0x100})
	p.Map(0x2000, []byte("hello, world"))
	p.Deny(0x4000, 0x10)
	return New(o), p
}

func TestEndToEnd(t *testing.T) {
	b, _ := newTestBridge()

	require.Equal(t, uint32(1), b.Attach(42))
	require.Equal(t, uint32(StatusOK), b.LastStatus())
	require.True(t, b.CanRead(0x2050))
	require.False(t, b.CanRead(0x3000))
	require.Equal(t, uint32(StatusOK), b.LastStatus())

	b.Detach()
	require.False(t, b.CanRead(0x2050))
	require.Equal(t, uint32(StatusNotAttached), b.LastStatus())
}

func TestAttachFailure(t *testing.T) {
	b, _ := newTestBridge()
	require.Equal(t, uint32(0), b.Attach(7))
	require.Equal(t, uint32(StatusAttachFailed), b.LastStatus())
}

func TestLastStatusIsShared(t *testing.T) {
	b, _ := newTestBridge()
	require.False(t, b.CanRead(0x2050))
	require.Equal(t, uint32(StatusNotAttached), b.LastStatus())

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Attach(42)
	}()
	<-done
	// the status of the call made by the other goroutine replaced ours
	require.Equal(t, uint32(StatusOK), b.LastStatus())
}

func TestReadStatus(t *testing.T) {
	b, _ := newTestBridge()

	buf := make([]byte, 5)
	require.Equal(t, uint32(StatusNotAttached), b.Read(0x2000, buf))

	require.Equal(t, uint32(1), b.Attach(42))
	require.Equal(t, uint32(StatusOK), b.Read(0x2000, buf))
	require.Equal(t, "hello", string(buf))

	require.Equal(t, uint32(StatusUnmapped), b.Read(0x9000, buf))
	require.Equal(t, make([]byte, 5), buf)

	require.Equal(t, uint32(StatusPartialRead), b.Read(0x200a, buf))
	require.Equal(t, []byte("ld\x00\x00\x00"), buf)

	require.Equal(t, uint32(StatusAccessDenied), b.Read(0x4000, buf))
	require.Equal(t, uint32(StatusAccessDenied), b.LastStatus())

	require.Equal(t, uint32(StatusOK), b.Read(0x9000, nil))
}

func TestRefresh(t *testing.T) {
	b, p := newTestBridge()
	require.Equal(t, uint32(StatusNotAttached), b.Refresh())
	require.Equal(t, uint32(1), b.Attach(42))
	require.False(t, b.CanRead(0x8000))
	p.SetModules(backend.ModuleInfo{Base: 0x8000, Size: 0x10})
	require.False(t, b.CanRead(0x8000))
	require.Equal(t, uint32(StatusOK), b.Refresh())
	require.True(t, b.CanRead(0x8000))
}

func TestStatusOf(t *testing.T) {
	require.Equal(t, StatusOK, StatusOf(nil))
	require.Equal(t, StatusReadFailed, StatusOf(errors.New("x")))
	require.Equal(t, "partial read", StatusPartialRead.String())
	require.Equal(t, "unknown status", Status(99).String())
}

func TestBootstrap(t *testing.T) {
	inv := backend.NewInventory()
	stub := backendtest.NewOS()
	backendtest.Register(inv, stub)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, ioutil.WriteFile(path, []byte("os: "+backendtest.Name+"\nscan-path: "+dir+"\n"), 0600))

	o, err := Bootstrap(inv, path)
	require.NoError(t, err)
	require.Equal(t, stub, o)
	require.Equal(t, dir, inv.ScanPath())

	_, err = Bootstrap(inv, filepath.Join(dir, "missing.yml"))
	require.True(t, errors.Is(err, config.ErrConfig))

	require.NoError(t, ioutil.WriteFile(path, []byte("os: nope\n"), 0600))
	_, err = Bootstrap(inv, path)
	require.Error(t, err)
}
