// Package xpoint tracks breakpoints and watchpoints of a stopped debuggee,
// decides whether a trap should be reported to the user and computes how
// execution resumes afterwards.
package xpoint

import "fmt"

// Kind distinguishes code breakpoints from data watchpoints.
type Kind int

const (
	Break Kind = iota
	WatchRead
	WatchWrite
)

func (k Kind) String() string {
	switch k {
	case Break:
		return "breakpoint"
	case WatchRead:
		return "read watchpoint"
	case WatchWrite:
		return "write watchpoint"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) IsWatch() bool {
	return k == WatchRead || k == WatchWrite
}

// Token identifies a hardware watch slot in the CPU backend. Zero means the
// backend did not hand out one.
type Token uint32

// Xpoint is one slot of the table.
type Xpoint struct {
	Kind      Kind
	Addr      uint64
	Enabled   bool
	RefCount  uint
	SkipCount uint
	Cond      Expr

	// Watch only.
	Width    int
	Baseline uint64
	Token    Token

	installed bool
	// alias is set when another slot already owns the physical breakpoint
	// at Addr for the current install pass.
	alias bool
}

func (xp *Xpoint) live() bool {
	return xp.RefCount > 0
}

func (xp *Xpoint) width() int {
	if xp.Kind == Break {
		return 0
	}
	return xp.Width
}

// Entry is a table slot as reported by List.
type Entry struct {
	Slot int
	Xpoint
}

func (e Entry) String() string {
	state := "y"
	if !e.Enabled {
		state = "n"
	}
	s := fmt.Sprintf("%d: %s %s 0x%x", e.Slot, state, e.Kind, e.Addr)
	if e.Kind.IsWatch() {
		s += fmt.Sprintf(" (len=%d, value=0x%x)", e.Width, e.Baseline)
	}
	if e.RefCount > 1 {
		s += fmt.Sprintf(" (refcount=%d)", e.RefCount)
	}
	if e.SkipCount > 0 {
		s += fmt.Sprintf(" (skip=%d)", e.SkipCount)
	}
	if e.Cond != nil {
		s += fmt.Sprintf("\n\t\tstop when %s", e.Cond)
	}
	return s
}
