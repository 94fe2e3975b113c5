package backend

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/go-delve/memview/pkg/config"
	"github.com/go-delve/memview/pkg/logflags"
)

// ConnectorFactory creates a connector from its parsed arguments.
type ConnectorFactory func(args config.Args) (Connector, error)

// OSFactory creates an OS backend from an optional connector and its
// parsed arguments.
type OSFactory func(conn Connector, args config.Args) (OS, error)

// Inventory is a registry of connectors and OS backends, addressed by name.
type Inventory struct {
	mu         sync.Mutex
	connectors map[string]ConnectorFactory
	oses       map[string]OSFactory
	scanPath   string
}

// DefaultInventory is the inventory the built-in backends register with.
var DefaultInventory = NewInventory()

// NewInventory returns an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{
		connectors: make(map[string]ConnectorFactory),
		oses:       make(map[string]OSFactory),
	}
}

// RegisterConnector adds a connector to DefaultInventory.
func RegisterConnector(name string, f ConnectorFactory) {
	DefaultInventory.AddConnector(name, f)
}

// RegisterOS adds an OS backend to DefaultInventory.
func RegisterOS(name string, f OSFactory) {
	DefaultInventory.AddOS(name, f)
}

// AddConnector registers a connector factory under name, replacing any
// previous registration.
func (inv *Inventory) AddConnector(name string, f ConnectorFactory) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.connectors[name] = f
}

// AddOS registers an OS factory under name, replacing any previous
// registration.
func (inv *Inventory) AddOS(name string, f OSFactory) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.oses[name] = f
}

// Connectors returns the sorted names of the registered connectors.
func (inv *Inventory) Connectors() []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	r := make([]string, 0, len(inv.connectors))
	for name := range inv.connectors {
		r = append(r, name)
	}
	sort.Strings(r)
	return r
}

// OSes returns the sorted names of the registered OS backends.
func (inv *Inventory) OSes() []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	r := make([]string, 0, len(inv.oses))
	for name := range inv.oses {
		r = append(r, name)
	}
	sort.Strings(r)
	return r
}

// SetScanPath records dir as the plugin scan directory. The directory must
// exist. Plugins are not loaded, only the built-in backends are available.
func (inv *Inventory) SetScanPath(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: scan-path: %v", config.ErrConfig, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: scan-path %s is not a directory", config.ErrConfig, dir)
	}
	inv.mu.Lock()
	inv.scanPath = dir
	inv.mu.Unlock()
	logflags.BackendLogger().Debugf("plugin scan path set to %s", dir)
	return nil
}

// ScanPath returns the directory set by SetScanPath.
func (inv *Inventory) ScanPath() string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.scanPath
}

// CreateConnector creates the connector registered as name with the
// argument string args.
func (inv *Inventory) CreateConnector(name, args string) (Connector, error) {
	inv.mu.Lock()
	f, ok := inv.connectors[name]
	inv.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown connector %q (available: %s)", name, strings.Join(inv.Connectors(), ", "))
	}
	pargs, err := config.ParseArgs(args)
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", name, err)
	}
	logflags.BackendLogger().Debugf("creating connector %s with args %q", name, pargs.String())
	conn, err := f(pargs)
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", name, err)
	}
	return conn, nil
}

// CreateOS creates the OS backend registered as name, on top of conn
// (which may be nil), with the argument string args.
func (inv *Inventory) CreateOS(name string, conn Connector, args string) (OS, error) {
	inv.mu.Lock()
	f, ok := inv.oses[name]
	inv.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown os %q (available: %s)", name, strings.Join(inv.OSes(), ", "))
	}
	pargs, err := config.ParseArgs(args)
	if err != nil {
		return nil, fmt.Errorf("os %s: %w", name, err)
	}
	logflags.BackendLogger().Debugf("creating os %s with args %q", name, pargs.String())
	o, err := f(conn, pargs)
	if err != nil {
		return nil, fmt.Errorf("os %s: %w", name, err)
	}
	return o, nil
}

// Open creates the connector (if conf.Conn is set) and OS described by
// conf. If creating the OS fails the connector is closed.
func (inv *Inventory) Open(conf *config.Config) (OS, error) {
	if conf.ScanPath != "" {
		if err := inv.SetScanPath(conf.ScanPath); err != nil {
			return nil, err
		}
	}
	var conn Connector
	if conf.Conn != "" {
		var err error
		conn, err = inv.CreateConnector(conf.Conn, conf.ConnArgs)
		if err != nil {
			return nil, err
		}
	}
	o, err := inv.CreateOS(conf.OS, conn, conf.OSArgs)
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, err
	}
	return o, nil
}
