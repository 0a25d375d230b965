package main

import (
	"fmt"
	"os"

	"gni.dev/xdbg/internal/dbg/dap"
	"gni.dev/xdbg/internal/dbg/term"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: xdbg <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "  debug [program [args...]]  interactive debugger")
	fmt.Fprintln(os.Stderr, "  dap                        Debug Adapter Protocol server")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "debug":
		term.Run(os.Args[2:])
	case "dap":
		dap.Run(os.Args[2:])
	case "help", "-h", "-help", "--help":
		usage()
	default:
		fmt.Fprintln(os.Stderr, "Unknown command:", os.Args[1])
		os.Exit(1)
	}
}
