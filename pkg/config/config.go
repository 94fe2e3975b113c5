package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	configDir      string = "memview"
	configFile     string = "config.yml"
	fallbackFile   string = "memview_config.yml"
	configEnvName  string = "MEMVIEW_CONFIG"
	historyFile    string = ".memview_history"
	argsQuote      rune   = '\''
	argsSeparator  rune   = ','
	argsAssignment rune   = '='
)

// ErrConfig is wrapped by every error returned while loading or validating
// the configuration file.
var ErrConfig = errors.New("configuration error")

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// ScanPath is the directory scanned for backend plugins. Plugins are
	// not loaded dynamically, the directory is only checked and reported.
	ScanPath string `yaml:"scan-path,omitempty"`

	// Conn is the name of the connector, if the OS backend needs one.
	Conn string `yaml:"conn,omitempty"`
	// ConnArgs is the argument string passed to the connector.
	ConnArgs string `yaml:"conn-args,omitempty"`

	// OS is the name of the OS backend. Required.
	OS string `yaml:"os"`
	// OSArgs is the argument string passed to the OS backend.
	OSArgs string `yaml:"os-args,omitempty"`
}

// Args is a parsed argument string: an optional default value followed by
// key=value pairs, separated by commas. Values may be single-quoted.
type Args struct {
	Default string
	Values  map[string]string
}

// Get returns the value of key, or the default value if key is "default".
func (a Args) Get(key string) (string, bool) {
	if key == "default" && a.Default != "" {
		return a.Default, true
	}
	v, ok := a.Values[key]
	return v, ok
}

// String returns the canonical form of the argument string.
func (a Args) String() string {
	var parts []string
	if a.Default != "" {
		parts = append(parts, quoteArg(a.Default))
	}
	keys := make([]string, 0, len(a.Values))
	for k := range a.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+string(argsAssignment)+quoteArg(a.Values[k]))
	}
	return strings.Join(parts, string(argsSeparator))
}

var argsEscaper = strings.NewReplacer(`\`, `\\`, "'", `\'`)

func quoteArg(s string) string {
	if !strings.ContainsAny(s, `, '=\`) && strings.TrimSpace(s) == s {
		return s
	}
	return "'" + argsEscaper.Replace(s) + "'"
}

// ParseArgs parses an argument string as found in the conn-args and
// os-args configuration fields.
func ParseArgs(in string) (Args, error) {
	args := Args{Values: map[string]string{}}
	fields, err := splitQuotedRaw(in, argsQuote, argsSeparator)
	if err != nil {
		return args, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	for i, field := range fields {
		eq := indexUnquoted(field, argsQuote, argsAssignment)
		if eq < 0 {
			if i != 0 {
				return args, fmt.Errorf("%w: argument %q is not in key=value form", ErrConfig, field)
			}
			args.Default = Unquote(field, argsQuote)
			continue
		}
		key := Unquote(field[:eq], argsQuote)
		if key == "" {
			return args, fmt.Errorf("%w: argument %q has an empty key", ErrConfig, field)
		}
		if _, dup := args.Values[key]; dup {
			return args, fmt.Errorf("%w: argument %q specified twice", ErrConfig, key)
		}
		args.Values[key] = Unquote(field[eq+1:], argsQuote)
	}
	return args, nil
}

// Validate checks that all required fields are set and that the argument
// strings are well formed.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OS) == "" {
		return fmt.Errorf("%w: missing required field \"os\"", ErrConfig)
	}
	if c.ConnArgs != "" && c.Conn == "" {
		return fmt.Errorf("%w: \"conn-args\" specified without \"conn\"", ErrConfig)
	}
	if _, err := ParseArgs(c.ConnArgs); err != nil {
		return fmt.Errorf("conn-args: %w", err)
	}
	if _, err := ParseArgs(c.OSArgs); err != nil {
		return fmt.Errorf("os-args: %w", err)
	}
	return nil
}

// String returns the configuration in the same format as ConfigureList.
func (c *Config) String() string {
	var sb strings.Builder
	ConfigureList(&sb, c, "yaml")
	return sb.String()
}

// LoadConfig reads and validates the configuration file at path. If path
// is empty the path returned by ConfigPath is used.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: config file %s not found, run 'memview config --create' to create one", ErrConfig, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("%w: unable to decode %s: %v", ErrConfig, path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct to path.
func SaveConfig(conf *Config, path string) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return ioutil.WriteFile(path, out, 0600)
}

// WriteDefaultConfig creates a commented configuration file at path. It
// refuses to overwrite an existing file.
func WriteDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create config directory: %v", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("unable to create config file: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(defaultConfig); err != nil {
		return fmt.Errorf("unable to write default configuration: %v", err)
	}
	return nil
}

const defaultConfig = `# Configuration file for memview.

# Name of the OS backend. Required.
# Available backends: "native" (Linux only, reads live processes) and
# "coredump" (reads an ELF core file, needs the "coredump" connector).
os: native

# Arguments for the OS backend, as a comma separated list of key=value
# pairs, optionally preceded by a default value. Quote values containing
# commas with single quotes.
# os-args: ""

# Name of the connector used by the OS backend, if it needs one.
# conn: coredump

# Arguments for the connector.
# conn-args: "path=/tmp/core.1234"

# Directory scanned for backend plugins.
# scan-path: /usr/local/lib/memview
`

// ConfigPath returns the path of the configuration file: the value of
// $MEMVIEW_CONFIG if set, the file config.yml in the memview directory of
// the user configuration directory if that can be determined, the file
// memview_config.yml in the current directory otherwise.
func ConfigPath() string {
	if p := os.Getenv(configEnvName); p != "" {
		return p
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, configDir, configFile)
	}
	return fallbackFile
}

// GetConfigFilePath gets the full path to the given file name in the
// memview configuration directory.
func GetConfigFilePath(file string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configDir, file), nil
}

// HistoryFilePath returns the path of the terminal history file.
func HistoryFilePath() (string, error) {
	return GetConfigFilePath(historyFile)
}
