package xpoint

// TrapKind tells how the debuggee stopped.
type TrapKind int

const (
	// TrapBreak is a breakpoint-style exception; the reported PC usually
	// points past the trapping instruction.
	TrapBreak TrapKind = iota
	// TrapStep is a single-step or watch trap.
	TrapStep
)

func (t TrapKind) String() string {
	if t == TrapBreak {
		return "break"
	}
	return "step"
}

type LineStatus int

const (
	NoLineInfo LineStatus = iota
	NotOnLine
	OnLine
)

// Resolver turns a user supplied address into a linear address of the
// debuggee, failing when the address cannot currently be resolved.
type Resolver interface {
	Linear(addr uint64) (uint64, error)
}

type Memory interface {
	ReadMemory(addr uint64, size int) ([]byte, error)
}

// CPU is the architecture and process specific trap machinery.
type CPU interface {
	// Install arms an xpoint. width is 0 for breakpoints. The returned token
	// is remembered for watch signal queries.
	Install(kind Kind, addr uint64, width int) (Token, error)
	Remove(kind Kind, addr uint64, width int, tok Token) error

	WatchSignaled(tok Token) bool
	ClearWatchSignal(tok Token)

	SetSingleStep(on bool) error

	// PCCorrection returns the offset to add to a trap address reported for a
	// breakpoint exception. backward selects the correction towards the
	// trapping instruction, !backward the opposite one.
	PCCorrection(backward bool) int64

	// CallTarget reports whether the instruction at addr is a call. callee is
	// zero when the target cannot be computed statically.
	CallTarget(addr uint64) (callee uint64, ok bool)
	IsReturn(addr uint64) bool
	IsSteppableCall(addr uint64) bool
	NextInstruction(addr uint64) uint64
}

type Symbols interface {
	ResolveName(name string, line int) (uint64, bool)
	LineStatus(addr uint64) LineStatus
}

// Expr is a compiled condition expression.
type Expr interface {
	String() string
}

type ExprEngine interface {
	Compile(src string) (Expr, error)
	Evaluate(e Expr) (bool, error)
}

// Backend bundles the collaborators a Session works with.
type Backend struct {
	CPU      CPU
	Memory   Memory
	Resolver Resolver
	Symbols  Symbols
	Exprs    ExprEngine
}
