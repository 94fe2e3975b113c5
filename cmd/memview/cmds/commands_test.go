package cmds

import (
	"bytes"
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/memview/pkg/backend"
	"github.com/go-delve/memview/pkg/backend/backendtest"
	"github.com/go-delve/memview/pkg/bridge"
	"github.com/go-delve/memview/pkg/version"
)

func runMemview(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := New(false)
	cmd.SetOut(&out)
	cmd.SetErr(ioutil.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0600))
	return path
}

func stubBackend(t *testing.T) (string, *backendtest.Process) {
	o := backendtest.NewOS()
	p := o.AddProcess(42,
		backend.ModuleInfo{Name: "/usr/bin/prog", Base: 0x2000, Size: 0x1000},
		backend.ModuleInfo{Name: "/usr/lib/libc.so.6", Base: 0x8000, Size: 0x100})
	p.Map(0x2000, []byte("hello, world"))
	backendtest.Register(inventory, o)
	return writeConfig(t, "os: stub\n"), p
}

func TestVersion(t *testing.T) {
	out, err := runMemview(t, "version")
	require.NoError(t, err)
	require.Equal(t, "memview\n"+version.MemviewVersion.String()+"\n", out)
}

func TestHelpTopics(t *testing.T) {
	out, err := runMemview(t, "backend")
	require.NoError(t, err)
	require.Contains(t, out, "Registered backends:")
	require.Contains(t, out, "coredump")

	out, err = runMemview(t, "help", "status")
	require.NoError(t, err)
	require.Contains(t, out, "4\tpartial read")

	out, err = runMemview(t, "help", "connect")
	require.NoError(t, err)
	require.Contains(t, out, "Connect to a running headless memview server")
}

func TestModulesAndCanRead(t *testing.T) {
	cfg, _ := stubBackend(t)

	out, err := runMemview(t, "--config", cfg, "modules", "42")
	require.NoError(t, err)
	require.Contains(t, out, "/usr/bin/prog")
	require.Contains(t, out, "/usr/lib/libc.so.6")

	out, err = runMemview(t, "--config", cfg, "canread", "42", "0x2000", "0x3000")
	require.NoError(t, err)
	require.Equal(t, "0x2000\ttrue\n0x3000\ttrue\n", out)

	out, err = runMemview(t, "--config", cfg, "canread", "42", "0x2000", "0x3001")
	require.Error(t, err)
	require.Equal(t, 1, ExitStatus(err))
	require.Contains(t, out, "0x3001\tfalse")

	_, err = runMemview(t, "--config", cfg, "canread", "7", "0x2000")
	require.Error(t, err)
	require.Equal(t, 1, ExitStatus(err))

	_, err = runMemview(t, "--config", cfg, "modules", "notapid")
	require.Error(t, err)
}

func TestRead(t *testing.T) {
	cfg, _ := stubBackend(t)

	out, err := runMemview(t, "--config", cfg, "read", "42", "0x2000", "5", "--format", "raw")
	require.NoError(t, err)
	require.Equal(t, "hello", out)

	out, err = runMemview(t, "--config", cfg, "read", "42", "0x2000", "2")
	require.NoError(t, err)
	require.Contains(t, out, "0x68   0x65")

	out, err = runMemview(t, "--config", cfg, "read", "42", "0x200a", "5", "--format", "raw")
	require.Error(t, err)
	require.Equal(t, int(bridge.StatusPartialRead), ExitStatus(err))
	require.Equal(t, "ld", out)

	out, err = runMemview(t, "--config", cfg, "read", "42", "0x6000", "5", "--format", "raw")
	require.Equal(t, int(bridge.StatusUnmapped), ExitStatus(err))
	require.Empty(t, out)

	_, err = runMemview(t, "--config", cfg, "read", "42", "0x2000", "0")
	require.Error(t, err)
	_, err = runMemview(t, "--config", cfg, "read", "42", "0x2000", "9223372036854775807")
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds the maximum")
	_, err = runMemview(t, "--config", cfg, "read", "42", "0x2000", strconv.Itoa(maxReadLength+1))
	require.Error(t, err)
	_, err = runMemview(t, "--config", cfg, "read", "42", "0x2000", "5", "--format", "oct")
	require.Error(t, err)
}

func TestDumpAndReadCore(t *testing.T) {
	cfg, _ := stubBackend(t)
	core := filepath.Join(t.TempDir(), "core.42")

	_, err := runMemview(t, "--config", cfg, "dump", "42", core)
	require.NoError(t, err)

	coreCfg := writeConfig(t, "os: coredump\nconn: coredump\nconn-args: \"path="+core+"\"\n")

	out, err := runMemview(t, "--config", coreCfg, "read", "42", "0x2000", "12", "--format", "raw")
	require.NoError(t, err)
	require.Equal(t, "hello, world", out)

	out, err = runMemview(t, "--config", coreCfg, "canread", "42", "0x8100")
	require.NoError(t, err)
	require.Equal(t, "0x8100\ttrue\n", out)

	out, err = runMemview(t, "--config", coreCfg, "modules", "42")
	require.NoError(t, err)
	require.Contains(t, out, "/usr/bin/prog")
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memview", "config.yml")

	_, err := runMemview(t, "--config", path, "config")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")

	out, err := runMemview(t, "--config", path, "config", "--create")
	require.NoError(t, err)
	require.Contains(t, out, path)

	out, err = runMemview(t, "--config", path, "config")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "# "+path+"\n"))
	require.Contains(t, out, "os\tnative\n")

	_, err = runMemview(t, "--config", path, "config", "--create")
	require.Error(t, err)
	custom := filepath.Join(t.TempDir(), "custom.yml")
	_, err = runMemview(t, "--config", custom, "config", "--create", "--conn-args", "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing required field")

	_, err = runMemview(t, "--config", custom, "config", "--create", "--os", "coredump", "--conn", "coredump", "--conn-args", "path=/tmp/core.1")
	require.NoError(t, err)
	out, err = runMemview(t, "--config", custom, "config")
	require.NoError(t, err)
	require.Contains(t, out, "os\tcoredump\n")
	require.Contains(t, out, "conn-args\tpath=/tmp/core.1\n")

	_, err = runMemview(t, "--config", custom, "config", "--create", "--os", "native")
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")
}

func TestExitStatus(t *testing.T) {
	require.Equal(t, 0, ExitStatus(nil))
	require.Equal(t, 3, ExitStatus(exitError{status: 3}))
	require.Equal(t, 1, ExitStatus(errors.New("boom")))
	require.Equal(t, 4, ExitStatus(fmt.Errorf("wrapped: %w", exitError{status: 4})))
}
