package terminal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/go-delve/memview/pkg/config"
	"github.com/go-delve/memview/service"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
	ansiBlue   = 34
)

// Term represents the terminal running memview.
type Term struct {
	client   service.Client
	prompt   string
	line     *liner.State
	cmds     *Commands
	complete *trie.Trie
	dumb     bool
	color    bool
	stdout   io.Writer
	InitFile string

	// keepAttached is set by exitCommand to leave the session attached
	// when quitting.
	keepAttached bool

	quittingMutex sync.Mutex
	quitting      bool
}

// New returns a new Term.
func New(client service.Client) *Term {
	cmds := MemoryCommands(client)

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	var w io.Writer = os.Stdout
	color := false
	if !dumb {
		w = colorable.NewColorableStdout()
		color = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	}

	return &Term{
		client:   client,
		prompt:   "(memview) ",
		line:     liner.NewLiner(),
		cmds:     cmds,
		complete: cmds.completionTrie(),
		dumb:     dumb,
		color:    color,
		stdout:   w,
	}
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

// Run begins running memview in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	t.line.SetCtrlCAborts(true)
	t.line.SetCompleter(t.completeLine)

	if historyPath, err := config.HistoryFilePath(); err != nil {
		fmt.Printf("Unable to load history file: %v.\n", err)
	} else if f, err := os.Open(historyPath); err == nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Println("Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == liner.ErrPromptAborted {
				fmt.Println("type 'exit' to quit")
				continue
			}
			if err == io.EOF {
				fmt.Println("exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			t.quittingMutex.Lock()
			quitting := t.quitting
			t.quittingMutex.Unlock()
			if quitting {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// completeLine completes the command name at the start of line.
func (t *Term) completeLine(line string) []string {
	if strings.ContainsRune(line, ' ') {
		return nil
	}
	return t.complete.PrefixSearch(strings.ToLower(line))
}

// highlight wraps str in the escape codes for color, if the terminal
// supports them.
func (t *Term) highlight(color int, str string) string {
	if !t.color {
		return str
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, color) + str + terminalResetEscapeCode
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	historyPath, err := config.HistoryFilePath()
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if err := os.MkdirAll(filepath.Dir(historyPath), 0700); err == nil {
			if f, err := os.Create(historyPath); err == nil {
				if _, err := t.line.WriteHistory(f); err != nil {
					fmt.Println("readline history error:", err)
				}
				f.Close()
			}
		}
	}

	t.quittingMutex.Lock()
	quitting := t.quitting
	t.quittingMutex.Unlock()
	if quitting {
		return 0, nil
	}

	if err := t.client.Disconnect(!t.keepAttached); err != nil {
		return 1, err
	}
	return 0, nil
}
