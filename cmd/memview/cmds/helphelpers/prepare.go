// Package helphelpers hides the root command flags that do not apply to a
// subcommand before its help is printed.
package helphelpers

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Prepare prepares cmd flag set for the invocation of its usage function by
// hiding flags that we want cobra to parse but we don't want to show to the
// user.
// Not all flags of the root command are valid for every subcommand, but
// moving them to the subcommands would change how cobra parses the command
// line: for example
//
//	memview --headless attach 1234
//
// must parse successfully.
//
// Prepare is a destructive command, cmd can not be reused after it has been
// called.
func Prepare(cmd *cobra.Command) {
	switch cmd.Name() {
	case "memview", "help", "version", "backend", "log", "status":
		hideAllFlags(cmd)
	case "attach", "open":
		// All flags apply
	case "connect":
		hideFlag(cmd, "accept-multiclient")
		hideFlag(cmd, "headless")
		hideFlag(cmd, "listen")
		hideFlag(cmd, "only-same-user")
		hideFlag(cmd, "config")
	case "modules", "canread", "read", "dump", "config":
		hideFlag(cmd, "accept-multiclient")
		hideFlag(cmd, "headless")
		hideFlag(cmd, "init")
		hideFlag(cmd, "listen")
		hideFlag(cmd, "only-same-user")
	}
}

func hideAllFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
}

func hideFlag(cmd *cobra.Command, name string) {
	if cmd == nil {
		return
	}
	flag := cmd.Flags().Lookup(name)
	if flag != nil {
		flag.Hidden = true
		return
	}
	hideFlag(cmd.Parent(), name)
}
