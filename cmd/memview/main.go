package main

import (
	"os"

	"github.com/go-delve/memview/cmd/memview/cmds"
	"github.com/go-delve/memview/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.MemviewVersion.Build = Build
	}
	os.Exit(cmds.ExitStatus(cmds.New(false).Execute()))
}
