package dap

import (
	"flag"
	"fmt"
	"io"
	"os"

	"gni.dev/xdbg/internal/dbg"
	"gni.dev/xdbg/internal/dbg/config"
	"gni.dev/xdbg/internal/dbg/debugger"
	"gni.dev/xdbg/internal/dbg/logflags"
)

// Run is the "dap" subcommand. It speaks the protocol on stdio, or on a
// TCP port when -port is given.
func Run(args []string) {
	var port int
	var path string
	dbgFlags := flag.NewFlagSet("dap", flag.ExitOnError)
	dbgFlags.IntVar(&port, "port", 0, "port to listen on")
	dbgFlags.StringVar(&path, "config", config.DefaultPath(), "configuration file")
	if err := dbgFlags.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logs, err := logflags.Setup(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logs.Close()

	launch := debugger.BackendLauncher(cfg, debuggeeStdio(port))
	newDebugger := func(out io.Writer) dbg.Debugger {
		return debugger.New(cfg, launch, out)
	}
	if port > 0 {
		s := NewServer(port, newDebugger)
		err = s.Run()
	} else {
		pipe := struct {
			io.Reader
			io.Writer
		}{os.Stdin, os.Stdout}
		s := NewSession(pipe, newDebugger)
		err = s.Serve()
	}
	if err != nil && err != io.EOF {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// debuggeeStdio keeps the debuggee off stdin and stdout when they carry the
// protocol.
func debuggeeStdio(port int) dbg.Stdio {
	if port > 0 {
		return dbg.Stdio{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
	}
	return dbg.Stdio{Out: os.Stderr, Err: os.Stderr}
}
