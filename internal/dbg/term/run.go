package term

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"gni.dev/xdbg/internal/dbg/config"
	"gni.dev/xdbg/internal/dbg/debugger"
	"gni.dev/xdbg/internal/dbg/logflags"
)

// Run is the "debug" subcommand: xdbg debug [flags] [program [args...]].
func Run(args []string) {
	cfg, initCmd, rest := parseFlags(args)

	logs, err := logflags.Setup(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logs.Close()

	st := setRawTerminal()
	defer st.Restore()

	screen := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}

	var program string
	if len(rest) > 0 {
		program, rest = rest[0], rest[1:]
	}
	d := debugger.New(cfg, nil, os.Stdout)
	t := New(screen, cfg.Prompt, DebuggerCommands(d, os.Stdout, program, rest))
	if err := t.Run(initCmd); err != nil {
		st.Restore()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (*config.Config, string, []string) {
	path := configPath(args)
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var argInit, argConfig string
	dbgFlags := flag.NewFlagSet("debug", flag.ExitOnError)
	dbgFlags.StringVar(&argConfig, "config", path, "configuration file")
	dbgFlags.StringVar(&argInit, "init", "", "initial commands to run, separated by ';'")
	dbgFlags.StringVar(&cfg.Prompt, "prompt", cfg.Prompt, "command prompt")
	cfg.RegisterFlags(dbgFlags)
	if err := dbgFlags.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg, argInit, dbgFlags.Args()
}

// configPath finds -config in args. The file has to be loaded before the
// other flags override it.
func configPath(args []string) string {
	for i, a := range args {
		a = strings.TrimPrefix(a, "-")
		switch {
		case a == "-":
			return config.DefaultPath()
		case a == "config" || a == "-config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "config="), strings.HasPrefix(a, "-config="):
			return a[strings.IndexByte(a, '=')+1:]
		}
	}
	return config.DefaultPath()
}

func setRawTerminal() *State {
	if !IsTerminal(int(os.Stdout.Fd())) || !IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "stdin and stdout must be terminals")
		os.Exit(1)
	}

	st, err := TerminalMode(int(os.Stdin.Fd()))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to get terminal mode:", err)
		os.Exit(1)
	}
	return st
}
