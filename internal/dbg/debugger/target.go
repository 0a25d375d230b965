package debugger

import (
	"fmt"

	"gni.dev/xdbg/internal/dbg"
	"gni.dev/xdbg/internal/dbg/xpoint"
)

// target lets the session outlive individual debuggee runs. Without a live
// process every address is unresolved so that requests get delayed.
type target struct {
	d *Debugger
}

func (t target) live() (dbg.Target, error) {
	if t.d.target == nil {
		return nil, dbg.ErrNotRunning
	}
	return t.d.target, nil
}

func (t target) Linear(addr uint64) (uint64, error) {
	if _, err := t.live(); err != nil {
		return 0, err
	}
	return addr, nil
}

func (t target) ReadMemory(addr uint64, size int) ([]byte, error) {
	tg, err := t.live()
	if err != nil {
		return nil, err
	}
	return tg.ReadMemory(addr, size)
}

func (t target) Install(kind xpoint.Kind, addr uint64, width int) (xpoint.Token, error) {
	tg, err := t.live()
	if err != nil {
		return 0, err
	}
	return tg.Install(kind, addr, width)
}

func (t target) Remove(kind xpoint.Kind, addr uint64, width int, tok xpoint.Token) error {
	tg, err := t.live()
	if err != nil {
		return err
	}
	return tg.Remove(kind, addr, width, tok)
}

func (t target) WatchSignaled(tok xpoint.Token) bool {
	return t.d.target != nil && t.d.target.WatchSignaled(tok)
}

func (t target) ClearWatchSignal(tok xpoint.Token) {
	if t.d.target != nil {
		t.d.target.ClearWatchSignal(tok)
	}
}

func (t target) SetSingleStep(on bool) error {
	tg, err := t.live()
	if err != nil {
		return err
	}
	return tg.SetSingleStep(on)
}

func (t target) PCCorrection(backward bool) int64 {
	if t.d.target == nil {
		return 0
	}
	return t.d.target.PCCorrection(backward)
}

func (t target) CallTarget(addr uint64) (uint64, bool) {
	if t.d.target == nil {
		return 0, false
	}
	return t.d.target.CallTarget(addr)
}

func (t target) IsReturn(addr uint64) bool {
	return t.d.target != nil && t.d.target.IsReturn(addr)
}

func (t target) IsSteppableCall(addr uint64) bool {
	return t.d.target != nil && t.d.target.IsSteppableCall(addr)
}

func (t target) NextInstruction(addr uint64) uint64 {
	if t.d.target == nil {
		return addr + 1
	}
	return t.d.target.NextInstruction(addr)
}

func (t target) ResolveName(name string, line int) (uint64, bool) {
	if t.d.syms == nil {
		return 0, false
	}
	return t.d.syms.ResolveName(name, line)
}

func (t target) LineStatus(addr uint64) xpoint.LineStatus {
	if t.d.syms == nil {
		return xpoint.NoLineInfo
	}
	return t.d.syms.LineStatus(addr)
}

// Register and ReadMemory make the debuggee visible to conditions.
func (t target) Register(name string) (uint64, error) {
	tg, err := t.live()
	if err != nil {
		return 0, err
	}
	v, err := tg.Register(name)
	if err != nil {
		return 0, fmt.Errorf("register %s: %w", name, err)
	}
	return v, nil
}
