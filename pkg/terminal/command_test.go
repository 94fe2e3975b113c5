package terminal

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/memview/pkg/backend"
	"github.com/go-delve/memview/pkg/backend/backendtest"
	"github.com/go-delve/memview/service"
	"github.com/go-delve/memview/service/rpc2"
	"github.com/go-delve/memview/service/rpccommon"
)

type FakeTerminal struct {
	*Term
	t   testing.TB
	out *bytes.Buffer
}

func (ft *FakeTerminal) Exec(cmdstr string) (string, error) {
	ft.out.Reset()
	err := ft.cmds.Call(cmdstr, ft.Term)
	return ft.out.String(), err
}

func (ft *FakeTerminal) MustExec(cmdstr string) string {
	outstr, err := ft.Exec(cmdstr)
	if err != nil {
		ft.t.Errorf("output of %q: %q", cmdstr, outstr)
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return outstr
}

func (ft *FakeTerminal) AssertExecError(cmdstr, tgterr string) {
	_, err := ft.Exec(cmdstr)
	if err == nil {
		ft.t.Fatalf("Expected error executing %q", cmdstr)
	}
	if !strings.Contains(err.Error(), tgterr) {
		ft.t.Fatalf("Expected error %q executing %q, got error %q", tgterr, cmdstr, err.Error())
	}
}

// withTestTerminal runs fn against a terminal connected to a server
// reading the memory of a stub process with pid 42.
func withTestTerminal(t *testing.T, fn func(*FakeTerminal, *backendtest.Process)) {
	o := backendtest.NewOS()
	p := o.AddProcess(42,
		backend.ModuleInfo{Name: "/usr/bin/prog", Base: 0x2000, Size: 0x1000},
		backend.ModuleInfo{Name: "/usr/lib/libc.so.6", Base: 0x8000, Size: 0x100})
	p.Map(0x2000, []byte("hello, world"))
	p.Map(0x3000, []byte{0x55, 0x48, 0x89, 0xe5, 0xc3})
	p.Deny(0x9000, 0x10)

	listener, clientConn := service.ListenerPipe()
	server := rpccommon.NewServer(&service.Config{Listener: listener, OS: o})
	require.NoError(t, server.Run())
	defer server.Stop()

	client := rpc2.NewClientFromConn(clientConn)
	defer client.Disconnect(false)

	out := new(bytes.Buffer)
	cmds := MemoryCommands(client)
	term := &Term{client: client, cmds: cmds, complete: cmds.completionTrie(), stdout: out}
	fn(&FakeTerminal{Term: term, t: t, out: out}, p)
}

func TestCommandDefault(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal, _ *backendtest.Process) {
		_, err := term.Exec("nonexistent-command")
		require.Equal(t, errNoCmd, err)

		out, err := term.Exec("")
		require.NoError(t, err)
		require.Empty(t, out)
	})
}

func TestRegister(t *testing.T) {
	cmds := MemoryCommands(nil)
	called := false
	cmds.Register("foo", func(t *Term, args string) error {
		called = args == "bar"
		return nil
	}, "Foo command.")
	require.NoError(t, cmds.Call("foo bar", &Term{stdout: ioutil.Discard}))
	require.True(t, called)
}

func TestHelp(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal, _ *backendtest.Process) {
		out := term.MustExec("help")
		require.Contains(t, out, "examinemem (alias: x)")
		require.Contains(t, out, "Attaching and detaching:")
		out = term.MustExec("help x")
		require.Contains(t, out, "Examine raw memory at the given address.")
		term.AssertExecError("help nonexistent", "command not available")
	})
}

func TestAttachDetach(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal, p *backendtest.Process) {
		require.Contains(t, term.MustExec("state"), "Not attached (backend stub)")
		term.AssertExecError("canread 0x2000", "not attached")
		term.AssertExecError("attach notapid", "expected a pid")
		term.AssertExecError("attach 7", "7")

		require.Equal(t, "Attached to process 42\n", term.MustExec("attach 42"))
		out := term.MustExec("state")
		require.Contains(t, out, "Attached to process 42")
		require.Contains(t, out, "Address cache empty")

		term.MustExec("canread 0x2000")
		require.Contains(t, term.MustExec("state"), "Address cache loaded")

		term.MustExec("detach")
		require.Contains(t, term.MustExec("state"), "Address cache empty")
		require.Equal(t, 0, p.OpenHandles())
	})
}

func TestCanReadCmd(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal, p *backendtest.Process) {
		term.MustExec("attach 42")
		out := term.MustExec("canread 0x2000 0x3000 0x8100 0x8101")
		require.Equal(t, "0x2000\treadable\n0x3000\treadable\n0x8100\treadable\n0x8101\tnot readable\n", out)
		require.Equal(t, 1, p.ModuleListCalls())

		p.SetModules(backend.ModuleInfo{Name: "/new", Base: 0x10000, Size: 0x10})
		require.Contains(t, term.MustExec("cr 0x10000"), "not readable")
		term.MustExec("refresh")
		require.Contains(t, term.MustExec("cr 0x10000"), "\treadable")

		term.AssertExecError("canread", "no address specified")
		term.AssertExecError("canread zzz", "could not parse address")
	})
}

func TestExamineMemoryCmd(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal, _ *backendtest.Process) {
		term.MustExec("attach 42")

		res := term.MustExec("examinemem -fmt hex -count 5 0x2000")
		t.Logf("the result of examining memory \n%s", res)
		require.Contains(t, res, "0x2000:")
		require.Contains(t, res, "0x68   0x65   0x6c   0x6c   0x6f")

		res = term.MustExec("x -fmt dec -size 4 -count 1 0x2000")
		// "hell" little endian
		require.Contains(t, res, "1819043176")

		res = term.MustExec("x -len 8 0x200a")
		require.Contains(t, res, "warning: only 2 of 8 bytes readable")
		require.Contains(t, res, "0x6c   0x64")

		term.AssertExecError("x -len 4 0x9000", "access denied")
		term.AssertExecError("x -len 4 0x6000", "unmapped")
		term.AssertExecError("x -fmt foo 0x2000", "is not a valid format")
		term.AssertExecError("x -count 1001 0x2000", "less than or equal to 1000 bytes")
		term.AssertExecError("x -size 9 0x2000", "size must be a positive integer")
		term.AssertExecError("x -count 2", "no address specified")
		term.AssertExecError("x zzz", "could not parse address")
		term.AssertExecError("x -bogus 1 0x2000", "unknown option")
	})
}

func TestModulesCmd(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal, _ *backendtest.Process) {
		term.MustExec("attach 42")
		out := term.MustExec("modules")
		require.Contains(t, out, "0x2000  0x3000  /usr/bin/prog")
		require.Contains(t, out, "/usr/lib/libc.so.6")

		out = term.MustExec("libraries libc")
		require.NotContains(t, out, "prog")
		require.Contains(t, out, "libc.so.6")

		term.AssertExecError("modules [", "invalid filter argument")
	})
}

func TestDisassembleCmd(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal, _ *backendtest.Process) {
		term.MustExec("attach 42")
		out := term.MustExec("disassemble 0x3000")
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 3, "unexpected output %q", out)
		require.Contains(t, lines[0], "0x3000")
		require.Contains(t, lines[0], "push %rbp")
		require.Contains(t, lines[1], "mov %rsp,%rbp")

		out = term.MustExec("disass -syntax intel -l 1 0x3000")
		require.Contains(t, out, "push rbp")

		term.AssertExecError("disass -syntax att 0x3000", "unknown assembly syntax")
		term.AssertExecError("disass -l 0 0x3000", "length must be a positive integer")
		term.AssertExecError("disass 0x6000", "unmapped")
	})
}

func TestExitCmd(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal, _ *backendtest.Process) {
		_, err := term.Exec("exit")
		require.IsType(t, ExitRequestError{}, err)
		require.False(t, term.keepAttached)

		_, err = term.Exec("quit -c")
		require.IsType(t, ExitRequestError{}, err)
		require.True(t, term.keepAttached)

		term.AssertExecError("exit -x", "unknown option")
	})
}

func TestExecuteFile(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal, p *backendtest.Process) {
		path := filepath.Join(t.TempDir(), "init")
		require.NoError(t, ioutil.WriteFile(path, []byte("# comment\nattach 42\n\nnonexistent\ncanread 0x2000\nexit\nattach 43\n"), 0600))

		err := term.cmds.executeFile(term.Term, path)
		require.IsType(t, ExitRequestError{}, err)
		require.Contains(t, term.out.String(), "Attached to process 42")
		require.Contains(t, term.out.String(), "0x2000\treadable")
		require.Equal(t, 1, p.OpenHandles())
	})
}

func TestCompletion(t *testing.T) {
	term := &Term{cmds: MemoryCommands(nil)}
	term.complete = term.cmds.completionTrie()

	c := term.completeLine("ex")
	require.ElementsMatch(t, []string{"examinemem", "exit"}, c)
	require.Empty(t, term.completeLine("x 0x"))
	require.Contains(t, term.completeLine("DET"), "detach")
}

func TestSplitArgs(t *testing.T) {
	v, err := splitArgs(`-fmt hex  "0x10"`)
	require.NoError(t, err)
	require.Equal(t, []string{"-fmt", "hex", "0x10"}, v)

	v, err = splitArgs("   ")
	require.NoError(t, err)
	require.Empty(t, v)

	_, err = splitArgs("a | b")
	require.Error(t, err)
}

func TestHighlight(t *testing.T) {
	term := &Term{}
	require.Equal(t, "ok", term.highlight(ansiGreen, "ok"))
	term.color = true
	require.Equal(t, "\033[32mok\033[0m", term.highlight(ansiGreen, "ok"))
}
