// Package native implements the "native" OS backend, which reads the
// memory of live processes through the facilities of the host kernel.
package native

import (
	"github.com/go-delve/memview/pkg/backend"
	"github.com/go-delve/memview/pkg/config"
	"github.com/go-delve/memview/pkg/logflags"
)

// Name is the name of the native OS backend.
const Name = "native"

func init() {
	backend.RegisterOS(Name, New)
}

// New returns the native OS backend. It does not use a connector and
// accepts no arguments.
func New(conn backend.Connector, args config.Args) (backend.OS, error) {
	if conn != nil {
		logflags.BackendLogger().Warnf("native backend ignores connector %s", conn.Name())
	}
	if args.Default != "" || len(args.Values) != 0 {
		logflags.BackendLogger().Warnf("native backend ignores arguments %q", args.String())
	}
	return newOS()
}
