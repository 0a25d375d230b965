package xpoint

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Mode is the execution mode the debuggee resumes in.
type Mode int

const (
	ModeContinue Mode = iota
	ModeStepInsn
	ModeStepLine
	ModeNextInsn
	ModeNextLine
	ModeFinish
)

func (m Mode) String() string {
	return [...]string{"continue", "stepi", "step", "nexti", "next", "finish"}[m]
}

func (m Mode) byLine() bool {
	return m == ModeStepLine || m == ModeNextLine
}

func (m Mode) byInsn() bool {
	return m == ModeStepInsn || m == ModeNextInsn
}

// Session is the breakpoint state of one debuggee thread. It is not safe for
// concurrent use and must only be used while the debuggee is stopped.
type Session struct {
	table   *Table
	delayed Queue

	cpu   CPU
	mem   Memory
	res   Resolver
	sym   Symbols
	exprs ExprEngine

	mode      Mode
	steps     int
	installed bool

	deferUnresolved bool
	order           binary.ByteOrder
	out             io.Writer
	log             *logrus.Entry
}

type Option func(*Session)

func WithCapacity(n int) Option {
	return func(s *Session) {
		s.table = NewTable(n)
	}
}

// WithDeferUnresolved queues requests that cannot be resolved instead of
// failing them.
func WithDeferUnresolved(on bool) Option {
	return func(s *Session) {
		s.deferUnresolved = on
	}
}

func WithByteOrder(order binary.ByteOrder) Option {
	return func(s *Session) {
		s.order = order
	}
}

// WithOutput sets where user facing notices are written.
func WithOutput(w io.Writer) Option {
	return func(s *Session) {
		s.out = w
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(s *Session) {
		s.log = l
	}
}

func NewSession(b Backend, opts ...Option) *Session {
	s := &Session{
		table: NewTable(DefaultCapacity),
		cpu:   b.CPU,
		mem:   b.Memory,
		res:   b.Resolver,
		sym:   b.Symbols,
		exprs: b.Exprs,
		order: binary.LittleEndian,
		out:   io.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		l := logrus.New()
		l.Out = io.Discard
		s.log = logrus.NewEntry(l)
	}
	return s
}

func (s *Session) Table() *Table {
	return s.table
}

func (s *Session) Mode() Mode {
	return s.mode
}

func (s *Session) Steps() int {
	return s.steps
}

func (s *Session) Installed() bool {
	return s.installed
}

func (s *Session) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format, args...)
}

// ProcessExited forgets the physical state of every xpoint after the
// debuggee went away.
func (s *Session) ProcessExited() {
	for i := range s.table.slots {
		s.table.slots[i].installed = false
		s.table.slots[i].alias = false
		s.table.slots[i].Token = 0
	}
	s.table.slots[0].Enabled = false
	s.installed = false
	s.mode = ModeContinue
	s.steps = 0
}
