package bridge

import (
	"os"
	"sync"

	"github.com/go-delve/memview/pkg/backend"
	_ "github.com/go-delve/memview/pkg/backend/coredump"
	_ "github.com/go-delve/memview/pkg/backend/native"
	"github.com/go-delve/memview/pkg/config"
	"github.com/go-delve/memview/pkg/logflags"
)

// Bootstrap loads the configuration file at path (or at
// config.ConfigPath() if path is empty) and creates the backend it
// describes from inv.
func Bootstrap(inv *backend.Inventory, path string) (backend.OS, error) {
	if path == "" {
		path = config.ConfigPath()
	}
	log := logflags.BootstrapLogger()
	log.Infof("creating backend from configuration file %s", path)
	conf, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	log.Infof("resolved configuration:\n%s", conf)
	o, err := inv.Open(conf)
	if err != nil {
		return nil, err
	}
	log.Infof("backend %s ready", o.Name())
	return o, nil
}

var (
	defaultOnce   sync.Once
	defaultBridge *Bridge
)

// Default returns the process wide bridge, creating its backend from the
// configuration file on first use. A configuration or backend error is
// fatal: nothing can work without a backend.
func Default() *Bridge {
	defaultOnce.Do(func() {
		if os.Getenv("MEMVIEW_LOG") != "" {
			if err := logflags.Setup(true, os.Getenv("MEMVIEW_LOG"), os.Getenv("MEMVIEW_LOG_DEST")); err != nil {
				logflags.BootstrapLogger().Errorf("%v", err)
			}
		}
		o, err := Bootstrap(backend.DefaultInventory, "")
		if err != nil {
			logflags.BootstrapLogger().Fatalf("could not create backend: %v", err)
		}
		defaultBridge = New(o)
	})
	return defaultBridge
}
