// Package config holds the debugger settings. They are read from a TOML file
// and can be overridden on the command line.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"

	"gni.dev/xdbg/internal/dbg/xpoint"
)

const (
	BackendLLDB   = "lldb"
	BackendNative = "native"
)

type Log struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type Config struct {
	Backend string `toml:"backend"`
	// LLDBServer is the lldb-server executable, looked up in PATH when it
	// has no directory.
	LLDBServer      string `toml:"lldb_server"`
	Capacity        int    `toml:"capacity"`
	DeferUnresolved bool   `toml:"defer_unresolved"`
	Prompt          string `toml:"prompt"`
	Log             Log    `toml:"log"`
}

func Default() *Config {
	return &Config{
		Backend:         BackendLLDB,
		LLDBServer:      "lldb-server",
		Capacity:        xpoint.DefaultCapacity,
		DeferUnresolved: true,
		Prompt:          "(xdbg) ",
	}
}

// DefaultPath is $XDG_CONFIG_HOME/xdbg/config.toml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "xdbg", "config.toml")
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return c, c.Validate()
}

// RegisterFlags binds the command line overrides to c. Parse the flag set
// after loading the file.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Backend, "backend", c.Backend, "process backend: lldb or native")
	fs.StringVar(&c.LLDBServer, "lldb-server", c.LLDBServer, "lldb-server executable")
	fs.IntVar(&c.Capacity, "capacity", c.Capacity, "breakpoint table size")
	fs.BoolVar(&c.DeferUnresolved, "defer", c.DeferUnresolved, "defer breakpoints that cannot be resolved yet")
	fs.StringVar(&c.Log.Level, "log", c.Log.Level, "log level (empty disables the log)")
	fs.StringVar(&c.Log.File, "log-file", c.Log.File, "log file, stderr when empty")
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendLLDB, BackendNative:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.Backend == BackendLLDB && c.LLDBServer == "" {
		errs = append(errs, errors.New("lldb_server must be set for the lldb backend"))
	}
	if c.Capacity < 2 {
		errs = append(errs, fmt.Errorf("capacity %d is too small", c.Capacity))
	}
	if c.Log.Level != "" {
		if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
