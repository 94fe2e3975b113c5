package cmds

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-delve/memview/cmd/memview/cmds/helphelpers"
	"github.com/go-delve/memview/pkg/backend"
	"github.com/go-delve/memview/pkg/backend/coredump"
	"github.com/go-delve/memview/pkg/bridge"
	"github.com/go-delve/memview/pkg/config"
	"github.com/go-delve/memview/pkg/logflags"
	"github.com/go-delve/memview/pkg/session"
	"github.com/go-delve/memview/pkg/terminal"
	"github.com/go-delve/memview/pkg/version"
	"github.com/go-delve/memview/service"
	"github.com/go-delve/memview/service/api"
	"github.com/go-delve/memview/service/rpc2"
	"github.com/go-delve/memview/service/rpccommon"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// configPath is the path of the configuration file, empty for the default.
	configPath string
	// headless is whether to run without terminal.
	headless bool
	// acceptMulti allows multiple clients to connect to the same server
	acceptMulti bool
	// addr is the server listen address.
	addr string
	// initFile is the path to initialization file.
	initFile string
	// checkLocalConnUser is true if the server should check that local
	// connections come from the same user that started the headless server
	checkLocalConnUser bool

	// readFormat is the output format of the read subcommand.
	readFormat string
	// initConfig is true if 'config' should create the configuration file.
	initConfig bool
	// createConf holds the fields given to 'config --create'.
	createConf config.Config

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	// inventory is the backend inventory used to build backends.
	inventory = backend.DefaultInventory
)

const memviewCommandLongDesc = `memview is a read-only process memory inspector.

memview attaches to a process through a configurable backend, reports
which addresses fall inside the modules loaded by the process and reads
raw memory. The backend is selected by the configuration file, see
'memview config' and 'memview help backend'.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Main memview root command.
	rootCommand = &cobra.Command{
		Use:   "memview",
		Short: "memview is a read-only process memory inspector.",
		Long:  memviewCommandLongDesc,
	}

	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default $MEMVIEW_CONFIG or the user configuration directory).")
	rootCommand.PersistentFlags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "Server listen address.")

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'memview help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'memview help log').")

	rootCommand.PersistentFlags().BoolVarP(&headless, "headless", "", false, "Run server only, in headless mode.")
	rootCommand.PersistentFlags().BoolVarP(&acceptMulti, "accept-multiclient", "", false, "Allows a headless server to accept multiple client connections.")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.PersistentFlags().BoolVarP(&checkLocalConnUser, "only-same-user", "", true, "Only connections from the same user that started this instance of memview are allowed to connect.")

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid",
		Short: "Attach to a process and start an inspection session.",
		Long: `Attach to a process and start an inspection session.

The process is resolved through the backend described by the configuration
file. When exiting the session the process is released, it is never
modified.
`,
		Args: cobra.ExactArgs(1),
		Run:  attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	// 'open' subcommand.
	openCommand := &cobra.Command{
		Use:   "open",
		Short: "Start a detached inspection session.",
		Long: `Start an inspection session without attaching to any process.

Use the 'attach' terminal command to pick a process.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(0))
		},
	}
	rootCommand.AddCommand(openCommand)

	// 'connect' subcommand.
	connectCommand := &cobra.Command{
		Use:   "connect addr",
		Short: "Connect to a headless memview server.",
		Long:  "Connect to a running headless memview server with a terminal client.",
		Args:  cobra.ExactArgs(1),
		Run:   connectCmd,
	}
	rootCommand.AddCommand(connectCommand)

	// 'modules' subcommand.
	modulesCommand := &cobra.Command{
		Use:   "modules pid",
		Short: "List the modules loaded by a process.",
		Args:  cobra.ExactArgs(1),
		RunE:  modulesCmd,
	}
	rootCommand.AddCommand(modulesCommand)

	// 'canread' subcommand.
	canReadCommand := &cobra.Command{
		Use:   "canread pid address...",
		Short: "Check whether addresses are inside a module of a process.",
		Long: `Check whether addresses are inside a module of a process.

Prints one line per address. The exit status is 0 if every address is
readable, 1 otherwise.`,
		Args: cobra.MinimumNArgs(2),
		RunE: canReadCmd,
	}
	rootCommand.AddCommand(canReadCommand)

	// 'read' subcommand.
	readCommand := &cobra.Command{
		Use:   "read pid address length",
		Short: "Read the memory of a process.",
		Long: `Read length bytes at address in the memory of a process.

With --format raw the bytes are copied to standard output, otherwise they
are printed as rows of hexadecimal values. If the read fails the exit
status is the status code of the failure (see 'memview help status').`,
		Args: cobra.ExactArgs(3),
		RunE: readCmd,
	}
	readCommand.Flags().StringVar(&readFormat, "format", "hex", "Output format: hex or raw.")
	rootCommand.AddCommand(readCommand)

	// 'dump' subcommand.
	dumpCommand := &cobra.Command{
		Use:   "dump pid output",
		Short: "Write the modules of a process to an ELF core file.",
		Long: `Write the modules of a process to an ELF core file.

The core file can be inspected later by configuring the coredump backend
with the path of the file. Memory that can not be read is written as zeroes.`,
		Args: cobra.ExactArgs(2),
		RunE: dumpCmd,
	}
	rootCommand.AddCommand(dumpCommand)

	// 'config' subcommand.
	configCommand := &cobra.Command{
		Use:   "config",
		Short: "Print or create the configuration file.",
		Args:  cobra.NoArgs,
		RunE:  configCmd,
	}
	configCommand.Flags().BoolVar(&initConfig, "create", false, "Create the configuration file. Without backend flags a commented default file is written.")
	configCommand.Flags().StringVar(&createConf.OS, "os", "", "OS backend written by --create.")
	configCommand.Flags().StringVar(&createConf.OSArgs, "os-args", "", "OS backend arguments written by --create.")
	configCommand.Flags().StringVar(&createConf.Conn, "conn", "", "Connector written by --create.")
	configCommand.Flags().StringVar(&createConf.ConnArgs, "conn-args", "", "Connector arguments written by --create.")
	configCommand.Flags().StringVar(&createConf.ScanPath, "scan-path", "", "Plugin scan directory written by --create.")
	rootCommand.AddCommand(configCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "memview\n%s\n", version.MemviewVersion)
			if log {
				fmt.Fprintln(cmd.OutOrStdout(), version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "backend",
		Short: "Help about backends.",
		Long: `The backend is selected by the "os" field of the configuration file. If
the backend needs a connector, it is selected by the "conn" field.

	native		Reads live processes (Linux only). Takes no connector.
	coredump	Reads the process saved in an ELF core file. Needs the
			coredump connector, configured with the path of the file:
				conn: coredump
				conn-args: "path=/tmp/core.1234,cache-pages=256"

Arguments are comma separated key=value pairs, optionally preceded by a
default value. Values containing commas must be single quoted.
`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), cmd.Long)
			fmt.Fprintf(cmd.OutOrStdout(), "Registered backends:\t%v\nRegistered connectors:\t%v\n", inventory.OSes(), inventory.Connectors())
		},
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Help about status codes.",
		Long:  statusHelp(),
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	session		Log attach, detach and address cache loads
	backend		Log backend creation and backend errors
	bootstrap	Log the configuration used to create the backend
	rpc		Log all RPC messages
	bridge		Log calls through the exported call surface

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the "server listening at" message in headless
mode.

The exported call surface reads the same settings from the MEMVIEW_LOG and
MEMVIEW_LOG_DEST environment variables.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func statusHelp() string {
	s := "Status codes returned by read and by the exported call surface:\n\n"
	for st := bridge.StatusOK; st <= bridge.StatusInvalidArgument; st++ {
		s += fmt.Sprintf("\t%d\t%s\n", st, st)
	}
	return s
}

func setupLog() error {
	return logflags.Setup(log, logOutput, logDest)
}

// openBackend creates the backend described by the configuration file.
func openBackend() (backend.OS, error) {
	return bridge.Bootstrap(inventory, configPath)
}

func parsePid(s string) (int, error) {
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid: %s", s)
	}
	return pid, nil
}

func parseAddress(s string) (backend.Address, error) {
	a, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %v", s, err)
	}
	return backend.Address(a), nil
}

// withSession runs fn on a session of the configured backend attached to
// the process named by pidstr.
func withSession(pidstr string, fn func(s *session.Session) error) error {
	if err := setupLog(); err != nil {
		return err
	}
	defer logflags.Close()
	pid, err := parsePid(pidstr)
	if err != nil {
		return err
	}
	o, err := openBackend()
	if err != nil {
		return err
	}
	defer o.Close()
	s := session.New(o)
	if err := s.Attach(pid); err != nil {
		return err
	}
	defer s.Detach()
	return fn(s)
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, err := parsePid(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(execute(pid))
}

func connectCmd(cmd *cobra.Command, args []string) {
	addr := args[0]
	if addr == "" {
		fmt.Fprint(os.Stderr, "An empty address was provided. You must provide an address as the first argument.\n")
		os.Exit(1)
	}
	os.Exit(connect(addr, nil))
}

func modulesCmd(cmd *cobra.Command, args []string) error {
	return withSession(args[0], func(s *session.Session) error {
		mods, err := s.Modules()
		if err != nil {
			return err
		}
		for _, m := range mods {
			fmt.Fprintln(cmd.OutOrStdout(), m)
		}
		return nil
	})
}

func canReadCmd(cmd *cobra.Command, args []string) error {
	allReadable := true
	err := withSession(args[0], func(s *session.Session) error {
		for _, arg := range args[1:] {
			addr, err := parseAddress(arg)
			if err != nil {
				return err
			}
			ok, err := s.CanRead(addr)
			if err != nil {
				return err
			}
			allReadable = allReadable && ok
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%v\n", addr, ok)
		}
		return nil
	})
	if err == nil && !allReadable {
		cmd.SilenceErrors, cmd.SilenceUsage = true, true
		return exitError{status: 1}
	}
	return err
}

// maxReadLength is the largest read accepted by the read subcommand.
const maxReadLength = 1 << 20

func readCmd(cmd *cobra.Command, args []string) error {
	if readFormat != "hex" && readFormat != "raw" {
		return fmt.Errorf("unknown format %q", readFormat)
	}
	addr, err := parseAddress(args[1])
	if err != nil {
		return err
	}
	length, err := strconv.Atoi(args[2])
	if err != nil || length <= 0 {
		return fmt.Errorf("invalid length: %s", args[2])
	}
	if length > maxReadLength {
		return fmt.Errorf("length %d exceeds the maximum of %d bytes", length, maxReadLength)
	}
	var st bridge.Status
	err = withSession(args[0], func(s *session.Session) error {
		buf := make([]byte, length)
		rerr := s.Read(addr, buf)
		st = bridge.StatusOf(rerr)
		if rerr != nil {
			fmt.Fprintln(os.Stderr, rerr)
			var re *session.ReadError
			if !errors.As(rerr, &re) || re.N == 0 {
				return nil
			}
			buf = buf[:re.N]
		}
		return printMemory(cmd.OutOrStdout(), addr, buf)
	})
	if err == nil && st != bridge.StatusOK {
		cmd.SilenceErrors, cmd.SilenceUsage = true, true
		return exitError{status: int(st)}
	}
	return err
}

func printMemory(w io.Writer, addr backend.Address, buf []byte) error {
	if readFormat == "raw" {
		_, err := w.Write(buf)
		return err
	}
	_, err := io.WriteString(w, api.PrettyExamineMemory(uint64(addr), buf, true, 'x', 1))
	return err
}

func dumpCmd(cmd *cobra.Command, args []string) error {
	if err := setupLog(); err != nil {
		return err
	}
	defer logflags.Close()
	pid, err := parsePid(args[0])
	if err != nil {
		return err
	}
	o, err := openBackend()
	if err != nil {
		return err
	}
	defer o.Close()
	p, err := o.ProcessByPid(pid)
	if err != nil {
		return err
	}
	defer p.Close()

	fh, err := os.Create(args[1])
	if err != nil {
		return err
	}

	var state coredump.DumpState
	done := make(chan error, 1)
	go func() {
		done <- coredump.Write(fh, p, &state)
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	out := cmd.ErrOrStderr()
	for {
		select {
		case err := <-done:
			state.Mutex.Lock()
			missing := state.MemMissing
			state.Mutex.Unlock()
			memDone, _ := state.Progress()
			fmt.Fprintf(out, "\rdumped %d bytes to %s", memDone, args[1])
			if missing > 0 {
				fmt.Fprintf(out, " (%d bytes unreadable)", missing)
			}
			fmt.Fprintln(out)
			return err
		case <-ch:
			fmt.Fprintln(out, "\ncanceling dump")
			state.Cancel()
		case <-ticker.C:
			memDone, memTotal := state.Progress()
			if memTotal > 0 {
				fmt.Fprintf(out, "\rdumping %d/%d bytes", memDone, memTotal)
			}
		}
	}
}

func configCmd(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.ConfigPath()
	}
	if initConfig {
		if err := createConfig(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return nil
	}
	conf, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", path, conf)
	return nil
}

func createConfig(path string) error {
	if createConf == (config.Config{}) {
		return config.WriteDefaultConfig(path)
	}
	if err := createConf.Validate(); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("unable to create config file: %s already exists", path)
	}
	return config.SaveConfig(&createConf, path)
}

// exitError carries the exit status of a subcommand that already reported
// its failure.
type exitError struct {
	status int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.status)
}

// ExitStatus returns the exit status memview should terminate with after
// rootCommand returned err.
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}
	var ee exitError
	if errors.As(err, &ee) {
		return ee.status
	}
	return 1
}

func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	select {
	case <-ch:
	case <-disconnectChan:
	}
}

func connect(addr string, clientConn net.Conn) int {
	// Create and start a terminal - attach to running instance
	var client *rpc2.RPCClient
	if clientConn != nil {
		client = rpc2.NewClientFromConn(clientConn)
	} else {
		var err error
		client, err = rpc2.NewClient(addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not connect to %s: %v\n", addr, err)
			return 1
		}
	}
	if v, err := client.GetVersion(); err == nil && v.APIVersion != version.APIVersion {
		fmt.Fprintf(os.Stderr, "Warning: server API version %d, client API version %d\n", v.APIVersion, version.APIVersion)
	}
	term := terminal.New(client)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}

func execute(attachPid int) int {
	if err := setupLog(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	if headless && (initFile != "") {
		fmt.Fprint(os.Stderr, "Warning: init file ignored with --headless\n")
	}
	if !headless && acceptMulti {
		fmt.Fprint(os.Stderr, "Warning accept-multi: ignored\n")
		// The server is stopped as soon as the terminal client exits.
		acceptMulti = false
	}

	o, err := openBackend()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer o.Close()

	var listener net.Listener
	var clientConn net.Conn

	// Make a TCP listener
	if headless {
		listener, err = net.Listen("tcp", addr)
	} else {
		listener, clientConn = service.ListenerPipe()
	}
	if err != nil {
		fmt.Printf("couldn't start listener: %s\n", err)
		return 1
	}
	defer listener.Close()

	disconnectChan := make(chan struct{})

	server := rpccommon.NewServer(&service.Config{
		Listener:           listener,
		OS:                 o,
		AttachPid:          attachPid,
		AcceptMulti:        acceptMulti,
		CheckLocalConnUser: checkLocalConnUser,
		DisconnectChan:     disconnectChan,
	})

	if err := server.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if headless {
		logflags.WriteAPIListeningMessage(listener.Addr().String())
		waitForDisconnectSignal(disconnectChan)
		if err := server.Stop(); err != nil {
			fmt.Println(err)
		}
		return 0
	}

	status := connect(listener.Addr().String(), clientConn)
	server.Stop()
	return status
}
