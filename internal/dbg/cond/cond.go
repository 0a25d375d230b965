// Package cond compiles and evaluates breakpoint conditions. Conditions are
// Lua expressions that can inspect the stopped debuggee through reg(name)
// and mem(addr[, size]).
package cond

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"gni.dev/xdbg/internal/dbg/xpoint"
)

const DefaultTimeout = time.Second

var (
	ErrNotBoolean = errors.New("condition is not a boolean or number")
	ErrForeign    = errors.New("expression was not compiled by this engine")
)

// Machine is the stopped debuggee as seen by conditions.
type Machine interface {
	ReadMemory(addr uint64, size int) ([]byte, error)
	Register(name string) (uint64, error)
}

type Engine struct {
	L       *lua.LState
	m       Machine
	timeout time.Duration
}

var _ xpoint.ExprEngine = (*Engine)(nil)

type expr struct {
	src   string
	proto *lua.FunctionProto
}

func (x *expr) String() string {
	return x.src
}

func New(m Machine, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenMath(L)
	lua.OpenString(L)

	e := &Engine{L: L, m: m, timeout: timeout}
	L.SetGlobal("reg", L.NewFunction(e.reg))
	L.SetGlobal("mem", L.NewFunction(e.mem))
	return e
}

func (e *Engine) Close() {
	e.L.Close()
}

// Compile checks src and prepares it for evaluation.
func (e *Engine) Compile(src string) (xpoint.Expr, error) {
	chunk, err := parse.Parse(strings.NewReader("return ("+src+")"), src)
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", src, err)
	}
	proto, err := lua.Compile(chunk, src)
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", src, err)
	}
	return &expr{src: src, proto: proto}, nil
}

// Evaluate runs a compiled condition. Numbers are true when non-zero and
// nil is false; any other type is an error.
func (e *Engine) Evaluate(x xpoint.Expr) (bool, error) {
	ex, ok := x.(*expr)
	if !ok {
		return false, ErrForeign
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	e.L.SetContext(ctx)
	defer e.L.RemoveContext()

	e.L.Push(e.L.NewFunctionFromProto(ex.proto))
	if err := e.L.PCall(0, 1, nil); err != nil {
		return false, err
	}
	v := e.L.Get(-1)
	e.L.Pop(1)

	switch v := v.(type) {
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		return v != 0, nil
	case *lua.LNilType:
		return false, nil
	}
	return false, fmt.Errorf("%w: %s", ErrNotBoolean, v.Type())
}

func (e *Engine) reg(L *lua.LState) int {
	name := L.CheckString(1)
	v, err := e.m.Register(name)
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(lua.LNumber(v))
	return 1
}

func (e *Engine) mem(L *lua.LState) int {
	addr := uint64(L.CheckNumber(1))
	size := L.OptInt(2, 8)
	switch size {
	case 1, 2, 4, 8:
	default:
		L.ArgError(2, "size must be 1, 2, 4 or 8")
		return 0
	}
	b, err := e.m.ReadMemory(addr, size)
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	var v uint64
	switch size {
	case 1:
		v = uint64(b[0])
	case 2:
		v = uint64(binary.LittleEndian.Uint16(b))
	case 4:
		v = uint64(binary.LittleEndian.Uint32(b))
	case 8:
		v = binary.LittleEndian.Uint64(b)
	}
	L.Push(lua.LNumber(v))
	return 1
}
