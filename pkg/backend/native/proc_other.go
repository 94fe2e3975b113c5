//go:build !linux
// +build !linux

package native

import (
	"fmt"
	"runtime"

	"github.com/go-delve/memview/pkg/backend"
)

func newOS() (backend.OS, error) {
	return nil, fmt.Errorf("%w: native backend on %s", backend.ErrNotSupported, runtime.GOOS)
}
