package xpoint

import (
	"bytes"
	"errors"
	"fmt"
)

var errFault = errors.New("fault")

type MockMemory struct {
	data map[uint64]byte
}

func NewMockMemory() *MockMemory {
	return &MockMemory{data: make(map[uint64]byte)}
}

func (m *MockMemory) Map(addr uint64, b ...byte) {
	for i, v := range b {
		m.data[addr+uint64(i)] = v
	}
}

func (m *MockMemory) ReadMemory(addr uint64, size int) ([]byte, error) {
	b := make([]byte, size)
	for i := range b {
		v, ok := m.data[addr+uint64(i)]
		if !ok {
			return nil, fmt.Errorf("read 0x%x: %w", addr+uint64(i), errFault)
		}
		b[i] = v
	}
	return b, nil
}

type installed struct {
	kind  Kind
	addr  uint64
	width int
}

type MockCPU struct {
	active   map[Token]installed
	nextTok  Token
	installs int
	removes  int
	fail     map[uint64]bool
	signaled map[Token]bool
	noSignal bool
	single   bool

	backward int64
	calls    map[uint64]uint64
	rets     map[uint64]bool
	next     map[uint64]uint64
}

func NewMockCPU() *MockCPU {
	return &MockCPU{
		active:   make(map[Token]installed),
		fail:     make(map[uint64]bool),
		signaled: make(map[Token]bool),
		calls:    make(map[uint64]uint64),
		rets:     make(map[uint64]bool),
		next:     make(map[uint64]uint64),
	}
}

func (c *MockCPU) Install(kind Kind, addr uint64, width int) (Token, error) {
	if c.fail[addr] {
		return 0, errFault
	}
	c.nextTok++
	c.installs++
	c.active[c.nextTok] = installed{kind, addr, width}
	return c.nextTok, nil
}

func (c *MockCPU) Remove(kind Kind, addr uint64, width int, tok Token) error {
	in, ok := c.active[tok]
	if !ok || in.addr != addr || in.kind != kind {
		return errFault
	}
	c.removes++
	delete(c.active, tok)
	return nil
}

// at reports whether something is physically armed at addr.
func (c *MockCPU) at(addr uint64) int {
	n := 0
	for _, in := range c.active {
		if in.addr == addr {
			n++
		}
	}
	return n
}

// hit simulates the hardware signaling a watch armed at addr.
func (c *MockCPU) hit(addr uint64) {
	for tok, in := range c.active {
		if in.addr == addr && in.kind.IsWatch() {
			c.signaled[tok] = true
		}
	}
}

func (c *MockCPU) WatchSignaled(tok Token) bool {
	return !c.noSignal && c.signaled[tok]
}

func (c *MockCPU) ClearWatchSignal(tok Token) {
	delete(c.signaled, tok)
}

func (c *MockCPU) SetSingleStep(on bool) error {
	c.single = on
	return nil
}

func (c *MockCPU) PCCorrection(backward bool) int64 {
	if backward {
		return c.backward
	}
	return -c.backward
}

func (c *MockCPU) CallTarget(addr uint64) (uint64, bool) {
	callee, ok := c.calls[addr]
	return callee, ok
}

func (c *MockCPU) IsReturn(addr uint64) bool {
	return c.rets[addr]
}

func (c *MockCPU) IsSteppableCall(addr uint64) bool {
	_, ok := c.calls[addr]
	return ok
}

func (c *MockCPU) NextInstruction(addr uint64) uint64 {
	if n, ok := c.next[addr]; ok {
		return n
	}
	return addr + 5
}

type MockSymbols struct {
	names map[string]uint64
	lines map[uint64]LineStatus
}

func NewMockSymbols() *MockSymbols {
	return &MockSymbols{
		names: make(map[string]uint64),
		lines: make(map[uint64]LineStatus),
	}
}

func (s *MockSymbols) ResolveName(name string, line int) (uint64, bool) {
	if line > 0 {
		name = fmt.Sprintf("%s:%d", name, line)
	}
	addr, ok := s.names[name]
	return addr, ok
}

func (s *MockSymbols) LineStatus(addr uint64) LineStatus {
	if st, ok := s.lines[addr]; ok {
		return st
	}
	return NotOnLine
}

type mockExpr string

func (e mockExpr) String() string {
	return string(e)
}

// MockExprs evaluates expressions by name: "true" and "false" are constants,
// "bad" fails and anything else looks up vars.
type MockExprs struct {
	vars  map[string]bool
	evals int
}

func (m *MockExprs) Compile(src string) (Expr, error) {
	if src == "(" {
		return nil, errors.New("syntax error")
	}
	return mockExpr(src), nil
}

func (m *MockExprs) Evaluate(e Expr) (bool, error) {
	m.evals++
	switch e.String() {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "bad":
		return false, errFault
	}
	return m.vars[e.String()], nil
}

type fixture struct {
	s    *Session
	cpu  *MockCPU
	mem  *MockMemory
	sym  *MockSymbols
	expr *MockExprs
	out  *bytes.Buffer
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		cpu:  NewMockCPU(),
		mem:  NewMockMemory(),
		sym:  NewMockSymbols(),
		expr: &MockExprs{vars: make(map[string]bool)},
		out:  &bytes.Buffer{},
	}
	// Code at 0x1000-0x10ff and data at 0x8000-0x80ff.
	for a := uint64(0x1000); a < 0x1100; a++ {
		f.mem.Map(a, 0x90)
	}
	for a := uint64(0x8000); a < 0x8100; a++ {
		f.mem.Map(a, 0)
	}
	b := Backend{
		CPU:     f.cpu,
		Memory:  f.mem,
		Symbols: f.sym,
		Exprs:   f.expr,
	}
	f.s = NewSession(b, append([]Option{WithOutput(f.out)}, opts...)...)
	return f
}
