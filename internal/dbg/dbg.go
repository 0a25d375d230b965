// Package dbg holds the types shared by the debugger front ends and the
// process backends.
package dbg

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gni.dev/xdbg/internal/dbg/arch"
	"gni.dev/xdbg/internal/dbg/xpoint"
)

var (
	ErrNotRunning = errors.New("the program is not being run")
	ErrRunning    = errors.New("the program is already running")
)

// Event is what a Target reports when the debuggee stops.
type Event struct {
	Exited bool
	// Status is the exit status, or the terminating signal when Signaled.
	Status   int
	Signaled bool

	// Signal is set for stops caused by a signal other than SIGTRAP.
	Signal int
	Trap   xpoint.TrapKind
	PC     uint64
}

// Image is the main executable of a debuggee.
type Image struct {
	Path string
	Bias uint64
	io.ReaderAt
	io.Closer
}

// Stdio is the standard streams handed to a launched debuggee. Nil
// streams are connected to the null device.
type Stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Target is a live debuggee driven by a process backend.
type Target interface {
	xpoint.CPU
	xpoint.Memory

	Arch() arch.Arch
	Pid() int
	Image() (*Image, error)

	PC() (uint64, error)
	SetPC(pc uint64) error
	Register(name string) (uint64, error)

	// Resume runs the debuggee until the next stop. It single steps when
	// SetSingleStep(true) was called.
	Resume() (Event, error)
	Kill() error
	Detach() error
}

// Location is a user supplied code location.
type Location struct {
	Addr    uint64
	HasAddr bool
	Name    string
	Line    int
}

// ParseLocation parses "*0x401000", "0x401000", "file.go:12", "main.main"
// and "" (the current location).
func ParseLocation(s string) (Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Location{}, nil
	}
	if addr, err := strconv.ParseUint(strings.TrimPrefix(s, "*"), 0, 64); err == nil {
		return Location{Addr: addr, HasAddr: true}, nil
	} else if strings.HasPrefix(s, "*") {
		return Location{}, fmt.Errorf("invalid address %q", s[1:])
	}
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		line, err := strconv.Atoi(s[i+1:])
		if err != nil || line <= 0 {
			return Location{}, fmt.Errorf("invalid line in %q", s)
		}
		return Location{Name: s[:i], Line: line}, nil
	}
	return Location{Name: s}, nil
}

func (l Location) Here() bool {
	return !l.HasAddr && l.Name == ""
}

func (l Location) String() string {
	switch {
	case l.HasAddr:
		return fmt.Sprintf("*0x%x", l.Addr)
	case l.Line > 0:
		return fmt.Sprintf("%s:%d", l.Name, l.Line)
	}
	return l.Name
}

type Breakpoint struct {
	ID       int
	RefCount uint
	Deferred bool
	Addr     uint64
	Func     string
	File     string
	Line     int
}

// State describes the debuggee after an execution command.
type State struct {
	Exited bool
	Status int

	Reason xpoint.StopReason
	Signal int
	PC     uint64
	Slot   int
	Old    uint64
	New    uint64

	Func string
	File string
	Line int
}

func (s *State) String() string {
	if s.Exited {
		return fmt.Sprintf("Process exited with status %d", s.Status)
	}
	var msg string
	switch s.Reason {
	case xpoint.NotStopped:
		msg = fmt.Sprintf("Program received signal %d at 0x%x", s.Signal, s.PC)
	default:
		msg = xpoint.Verdict{Reason: s.Reason, PC: s.PC, Slot: s.Slot, Old: s.Old, New: s.New}.String()
	}
	if s.Func != "" {
		msg += " in " + s.Func
	}
	if s.File != "" {
		msg += fmt.Sprintf(" %s:%d", s.File, s.Line)
	}
	return msg
}

// Debugger is the interface front ends drive.
type Debugger interface {
	// Launch starts program with the given arguments, stopped at its entry.
	Launch(program string, args []string) error
	Kill() error
	Detach() error

	AddBreakpoint(loc Location) (*Breakpoint, error)
	AddWatchpoint(addr uint64, width int, kind xpoint.Kind) (*Breakpoint, error)
	Delete(id int) error
	Enable(id int, on bool) error
	SetCondition(id int, expr string) error
	SetIgnoreCount(id int, n uint) error
	Breakpoints() xpoint.Listing

	// Resume runs an execution command until the debuggee stops.
	Resume(mode xpoint.Mode, count int) (*State, error)
}
