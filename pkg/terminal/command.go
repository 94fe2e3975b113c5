// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/go-delve/memview/pkg/bridge"
	"github.com/go-delve/memview/service"
	"github.com/go-delve/memview/service/api"
)

// maxExamineLength is the largest range examinemem prints at once.
const maxExamineLength = 1000

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases []string
	group   commandGroup
	helpMsg string
	cmdFn   cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the memview terminal.
type Commands struct {
	cmds   []command
	client service.Client
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// MemoryCommands returns a Commands struct with default commands defined.
func MemoryCommands(client service.Client) *Commands {
	c := &Commands{client: client}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"attach"}, group: sessionCmds, cmdFn: attach, helpMsg: `Attaches to a process.

	attach <pid>

The previously attached process, if any, is released. The address cache is kept: use "refresh" to rebuild it for the new process.`},
		{aliases: []string{"detach"}, group: sessionCmds, cmdFn: detach, helpMsg: `Detaches from the attached process and clears the address cache.`},
		{aliases: []string{"state"}, group: sessionCmds, cmdFn: state, helpMsg: `Prints the state of the session.`},
		{aliases: []string{"refresh"}, group: sessionCmds, cmdFn: refresh, helpMsg: `Rebuilds the address cache from the current module list.`},
		{aliases: []string{"canread", "cr"}, group: dataCmds, cmdFn: canRead, helpMsg: `Checks whether addresses are inside a module of the attached process.

	canread <address> [<address>...]

The module list is loaded on the first check after a detach and reused afterwards.`},
		{aliases: []string{"examinemem", "x"}, group: dataCmds, cmdFn: examineMemoryCmd, helpMsg: `Examine raw memory at the given address.

Examine memory:

	examinemem [-fmt <format>] [-count|-len <count>] [-size <size>] <address>

Format represents the data format and the value is one of this list (default hex): bin(binary), oct(octal), dec(decimal), hex(hexadecimal).
Length is the number of bytes (default 1) and must be less than or equal to 1000.
Address is the memory location of the target to examine.

For example:

    x -fmt hex -count 20 -size 1 0xc00008af38`},
		{aliases: []string{"disassemble", "disass"}, group: dataCmds, cmdFn: disassCommand, helpMsg: `Disassembler.

	disassemble [-l <length>] [-syntax <gnu|intel|go>] <address>

Decodes length bytes (default 64) at address as amd64 instructions.`},
		{aliases: []string{"modules", "libraries"}, group: dataCmds, cmdFn: modules, helpMsg: `List loaded modules.

	modules [<regex>]

If regex is specified only the modules matching it will be returned.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of memview commands.

	source <path>`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit memview.

	exit [-c]

When -c is specified the session is left attached.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it will return nullCommand.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

func (c *Commands) completionTrie() *trie.Trie {
	tr := trie.New()
	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			tr.Add(alias, nil)
		}
	}
	return tr
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits the argument string of a command into words, honoring
// shell quoting.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

func parseAddress(s string) (uint64, error) {
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse address %q: %v", s, err)
	}
	return addr, nil
}

func attach(t *Term, args string) error {
	pid, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || pid <= 0 {
		return fmt.Errorf("expected a pid, got %q", args)
	}
	if err := t.client.Attach(pid); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Attached to process %d\n", pid)
	return nil
}

func detach(t *Term, args string) error {
	if args != "" {
		return errors.New("too many arguments")
	}
	return t.client.Detach()
}

func state(t *Term, args string) error {
	s, err := t.client.GetState()
	if err != nil {
		return err
	}
	if s.Attached {
		fmt.Fprintf(t.stdout, "Attached to process %d (backend %s)\n", s.Pid, s.Backend)
	} else {
		fmt.Fprintf(t.stdout, "Not attached (backend %s)\n", s.Backend)
	}
	if s.CacheLoaded {
		fmt.Fprintln(t.stdout, "Address cache loaded")
	} else {
		fmt.Fprintln(t.stdout, "Address cache empty")
	}
	return nil
}

func refresh(t *Term, args string) error {
	return t.client.RefreshCache()
}

func canRead(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) == 0 {
		return errors.New("no address specified")
	}
	for _, s := range v {
		addr, err := parseAddress(s)
		if err != nil {
			return err
		}
		ok, err := t.client.CanRead(addr)
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintf(t.stdout, "%#x\t%s\n", addr, t.highlight(ansiGreen, "readable"))
		} else {
			fmt.Fprintf(t.stdout, "%#x\t%s\n", addr, t.highlight(ansiRed, "not readable"))
		}
	}
	return nil
}

func examineMemoryCmd(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}

	var (
		address uint64
		ok      bool
	)

	// Default value
	priFmt := byte('x')
	count := 1
	size := 1

	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-fmt":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -fmt")
			}
			fmtMapToPriFmt := map[string]byte{
				"oct":         'o',
				"octal":       'o',
				"hex":         'x',
				"hexadecimal": 'x',
				"dec":         'd',
				"decimal":     'd',
				"bin":         'b',
				"binary":      'b',
			}
			priFmt, ok = fmtMapToPriFmt[v[i]]
			if !ok {
				return fmt.Errorf("%q is not a valid format", v[i])
			}
		case "-count", "-len":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -count/-len")
			}
			var err error
			count, err = strconv.Atoi(v[i])
			if err != nil || count <= 0 {
				return fmt.Errorf("count/len must be a positive integer")
			}
		case "-size":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -size")
			}
			var err error
			size, err = strconv.Atoi(v[i])
			if err != nil || size <= 0 || size > 8 {
				return fmt.Errorf("size must be a positive integer (<=8)")
			}
		default:
			if i != len(v)-1 {
				return fmt.Errorf("unknown option %q", v[i])
			}
			address, err = parseAddress(v[i])
			if err != nil {
				return err
			}
		}
	}

	if count*size > maxExamineLength {
		return fmt.Errorf("read memory range (count*size) must be less than or equal to %d bytes", maxExamineLength)
	}

	if address == 0 {
		return fmt.Errorf("no address specified")
	}

	res, err := t.client.ReadMemory(address, count*size)
	if err != nil {
		return err
	}
	mem := res.Mem
	if res.Status != uint32(bridge.StatusOK) {
		if res.N == 0 {
			return fmt.Errorf("%s: %s", bridge.Status(res.Status), res.Error)
		}
		mem = mem[:res.N]
		fmt.Fprintln(t.stdout, t.highlight(ansiYellow, fmt.Sprintf("warning: only %d of %d bytes readable", res.N, count*size)))
	}
	fmt.Fprint(t.stdout, api.PrettyExamineMemory(address, mem, true, priFmt, size))
	return nil
}

func modules(t *Term, args string) error {
	var re *regexp.Regexp
	if args != "" {
		var err error
		if re, err = regexp.Compile(args); err != nil {
			return fmt.Errorf("invalid filter argument: %s", err.Error())
		}
	}
	mods, err := t.client.ListModules()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(t.stdout, 0, 0, 2, ' ', 0)
	for _, m := range mods {
		if re != nil && !re.MatchString(m.Name) {
			continue
		}
		fmt.Fprintf(w, "%#x\t%#x\t%s\n", m.Base, m.Base+m.Size, m.Name)
	}
	return w.Flush()
}

func disassCommand(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}

	length := 64
	syntax := "gnu"
	var address uint64

	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-l":
			i++
			if i >= len(v) {
				return errors.New("expected argument after -l")
			}
			length, err = strconv.Atoi(v[i])
			if err != nil || length <= 0 || length > maxExamineLength {
				return fmt.Errorf("length must be a positive integer (<=%d)", maxExamineLength)
			}
		case "-syntax":
			i++
			if i >= len(v) {
				return errors.New("expected argument after -syntax")
			}
			syntax = v[i]
		default:
			if i != len(v)-1 {
				return fmt.Errorf("unknown option %q", v[i])
			}
			address, err = parseAddress(v[i])
			if err != nil {
				return err
			}
		}
	}
	if address == 0 {
		return errors.New("no address specified")
	}

	res, err := t.client.ReadMemory(address, length)
	if err != nil {
		return err
	}
	mem := res.Mem[:res.N]
	if len(mem) == 0 {
		return fmt.Errorf("%s: %s", bridge.Status(res.Status), res.Error)
	}

	mods, _ := t.client.ListModules()
	insts, err := disassemble(mem, address, syntax, moduleSymLookup(mods))
	if err != nil {
		return err
	}
	disasmPrint(insts, t.stdout)
	return nil
}

// ExitRequestError is returned when the user
// exits memview.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	switch args {
	case "":
	case "-c":
		t.keepAttached = true
	default:
		return fmt.Errorf("unknown option %q", args)
	}
	return ExitRequestError{}
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}
	return c.executeFile(t, args)
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Printf("%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
