package xpoint

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndToEnd(t *testing.T) {
	f := newFixture()

	res, err := f.s.AddBreakpoint(0x1000)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Slot, 1)
	assert.Equal(t, uint(1), res.RefCount)
	assert.Contains(t, f.out.String(), fmt.Sprintf("Breakpoint %d at 0x1000", res.Slot))

	require.NoError(t, f.s.SetInstalled(true))
	assert.Equal(t, 1, f.cpu.at(0x1000))

	require.NoError(t, f.s.SetInstalled(false))
	v := f.s.BreakShouldContinue(0x1000, TrapBreak)
	assert.False(t, v.Continue())
	assert.Equal(t, StopBreakpoint, v.Reason)
	assert.Equal(t, res.Slot, v.Slot)
	assert.Equal(t, uint64(0x1000), v.PC)
}

func TestPCCorrection(t *testing.T) {
	f := newFixture()
	f.cpu.backward = -1
	res, _ := f.s.AddBreakpoint(0x1000)

	v := f.s.BreakShouldContinue(0x1001, TrapBreak)
	assert.Equal(t, StopBreakpoint, v.Reason)
	assert.Equal(t, res.Slot, v.Slot)
	assert.Equal(t, uint64(0x1000), v.PC)

	// An int3 nobody placed keeps the reported address.
	v = f.s.BreakShouldContinue(0x1041, TrapBreak)
	assert.Equal(t, StopUnrecognizedBreak, v.Reason)
	assert.Equal(t, uint64(0x1041), v.PC)
}

func TestSkipCount(t *testing.T) {
	f := newFixture()
	res, _ := f.s.AddBreakpoint(0x1000)
	require.NoError(t, f.s.SetSkipCount(res.Slot, 2))

	want := []bool{true, true, false, false, false}
	for i, cont := range want {
		v := f.s.BreakShouldContinue(0x1000, TrapBreak)
		assert.Equal(t, cont, v.Continue(), "test #%d", i)
	}
}

func TestShouldStopInvalidSlot(t *testing.T) {
	f := newFixture()
	res, _ := f.s.AddBreakpoint(0x1000)
	require.NoError(t, f.s.Delete(res.Slot))

	for i, slot := range []int{-1, res.Slot, 99, f.s.table.Capacity() + 1} {
		assert.NotPanics(t, func() {
			assert.False(t, f.s.ShouldStop(slot), "test #%d", i)
		}, "test #%d", i)
	}

	res, _ = f.s.AddBreakpoint(0x2000)
	assert.True(t, f.s.ShouldStop(res.Slot))
}

func TestConditionShortCircuit(t *testing.T) {
	f := newFixture()
	res, _ := f.s.AddBreakpoint(0x1000)
	require.NoError(t, f.s.SetSkipCount(res.Slot, 2))
	require.NoError(t, f.s.SetCondition(res.Slot, "hit"))

	for i := 0; i < 10; i++ {
		assert.True(t, f.s.BreakShouldContinue(0x1000, TrapBreak).Continue(), "test #%d", i)
	}
	xp, _ := f.s.Table().Get(res.Slot)
	assert.Equal(t, uint(2), xp.SkipCount)

	f.expr.vars["hit"] = true
	assert.True(t, f.s.BreakShouldContinue(0x1000, TrapBreak).Continue())
	assert.True(t, f.s.BreakShouldContinue(0x1000, TrapBreak).Continue())
	assert.False(t, f.s.BreakShouldContinue(0x1000, TrapBreak).Continue())
}

func TestConditionEvalFailure(t *testing.T) {
	f := newFixture()
	res, _ := f.s.AddBreakpoint(0x1000)
	require.NoError(t, f.s.SetCondition(res.Slot, "bad"))

	v := f.s.BreakShouldContinue(0x1000, TrapBreak)
	assert.Equal(t, StopBreakpoint, v.Reason)
	assert.Contains(t, f.out.String(), "Unable to evaluate expression bad")

	xp, _ := f.s.Table().Get(res.Slot)
	assert.Nil(t, xp.Cond)

	// The condition is gone for good.
	evals := f.expr.evals
	f.s.BreakShouldContinue(0x1000, TrapBreak)
	assert.Equal(t, evals, f.expr.evals)
}

func TestSetCondition(t *testing.T) {
	f := newFixture()
	res, _ := f.s.AddBreakpoint(0x1000)

	assert.Error(t, f.s.SetCondition(res.Slot, "("))
	assert.ErrorIs(t, f.s.SetCondition(0, "true"), ErrInvalidSlot)

	require.NoError(t, f.s.SetCondition(res.Slot, "false"))
	assert.True(t, f.s.BreakShouldContinue(0x1000, TrapBreak).Continue())

	require.NoError(t, f.s.SetCondition(res.Slot, ""))
	assert.False(t, f.s.BreakShouldContinue(0x1000, TrapBreak).Continue())

	s := NewSession(Backend{CPU: f.cpu, Memory: f.mem})
	res, _ = s.AddBreakpoint(0x1000)
	assert.ErrorIs(t, s.SetCondition(res.Slot, "true"), ErrNoCondition)
}

func TestWatchExact(t *testing.T) {
	tests := []struct {
		width int
		bytes []byte
		old   uint64
		new   uint64
		fire  bool
	}{
		{4, []byte{0x78, 0x56, 0x34, 0x12}, 0, 0x12345678, true},
		{2, []byte{0x01, 0x00}, 0, 1, true},
		{1, []byte{0xff}, 0, 0xff, true},
		{4, []byte{0, 0, 0, 0}, 0, 0, false},
	}
	for i, test := range tests {
		f := newFixture()
		f.cpu.noSignal = i%2 == 0
		res, err := f.s.AddWatchpoint(0x8000, test.width, WatchWrite)
		require.NoError(t, err, "test #%d", i)
		require.NoError(t, f.s.SetInstalled(true), "test #%d", i)

		f.mem.Map(0x8000, test.bytes...)
		if test.fire {
			f.cpu.hit(0x8000)
		}
		require.NoError(t, f.s.SetInstalled(false), "test #%d", i)

		v := f.s.BreakShouldContinue(0x1010, TrapStep)
		if !test.fire {
			assert.True(t, v.Continue(), "test #%d", i)
			continue
		}
		assert.Equal(t, StopWatchpoint, v.Reason, "test #%d", i)
		assert.Equal(t, res.Slot, v.Slot, "test #%d", i)
		assert.Equal(t, test.old, v.Old, "test #%d", i)
		assert.Equal(t, test.new, v.New, "test #%d", i)
	}
}

func TestWatchFallbackOrdering(t *testing.T) {
	f := newFixture()
	f.cpu.noSignal = true
	first, _ := f.s.AddWatchpoint(0x8000, 4, WatchWrite)
	second, _ := f.s.AddWatchpoint(0x8010, 4, WatchWrite)

	f.mem.Map(0x8000, 1, 0, 0, 0)
	f.mem.Map(0x8010, 2, 0, 0, 0)

	v := f.s.BreakShouldContinue(0x1010, TrapStep)
	assert.Equal(t, StopWatchpoint, v.Reason)
	assert.Equal(t, second.Slot, v.Slot)
	assert.Equal(t, uint64(2), v.New)

	a, _ := f.s.Table().Get(first.Slot)
	b, _ := f.s.Table().Get(second.Slot)
	assert.Equal(t, uint64(1), a.Baseline)
	assert.Equal(t, uint64(2), b.Baseline)

	// Nothing changed since: no watch fires.
	assert.True(t, f.s.BreakShouldContinue(0x1010, TrapStep).Continue())
}

func TestWatchSignalPreferred(t *testing.T) {
	f := newFixture()
	first, _ := f.s.AddWatchpoint(0x8000, 4, WatchWrite)
	f.s.AddWatchpoint(0x8010, 4, WatchWrite)
	require.NoError(t, f.s.SetInstalled(true))

	f.mem.Map(0x8000, 1, 0, 0, 0)
	f.mem.Map(0x8010, 2, 0, 0, 0)
	f.cpu.hit(0x8000)
	require.NoError(t, f.s.SetInstalled(false))

	v := f.s.BreakShouldContinue(0x1010, TrapStep)
	assert.Equal(t, StopWatchpoint, v.Reason)
	assert.Equal(t, first.Slot, v.Slot)
}

func TestWatchpointAdd(t *testing.T) {
	f := newFixture()
	f.mem.Map(0x8002, 0x34, 0x12)

	res, err := f.s.AddWatchpoint(0x8002, 8, WatchRead)
	require.NoError(t, err)
	assert.Contains(t, f.out.String(), "Unsupported length (8) for watch-points, defaulting to 4")

	xp, _ := f.s.Table().Get(res.Slot)
	assert.Equal(t, 2, xp.Width)
	assert.Equal(t, uint64(0x1234), xp.Baseline)

	_, err = f.s.AddWatchpoint(0x8002, 2, Break)
	assert.ErrorIs(t, err, ErrNotWatchable)

	_, err = f.s.AddWatchpoint(0x9000, 4, WatchWrite)
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestDisableEnablePreservesConfig(t *testing.T) {
	f := newFixture()
	res, _ := f.s.AddBreakpoint(0x1000)
	require.NoError(t, f.s.SetCondition(res.Slot, "hit"))
	require.NoError(t, f.s.SetSkipCount(res.Slot, 1))
	require.NoError(t, f.s.SetInstalled(true))
	require.NoError(t, f.s.SetInstalled(false))

	require.NoError(t, f.s.Disable(res.Slot))
	require.NoError(t, f.s.SetInstalled(true))
	assert.Equal(t, 0, f.cpu.at(0x1000))

	xp, _ := f.s.Table().Get(res.Slot)
	assert.Equal(t, mockExpr("hit"), xp.Cond)
	assert.Equal(t, uint(1), xp.SkipCount)
	require.NoError(t, f.s.SetInstalled(false))

	require.NoError(t, f.s.Enable(res.Slot))
	require.NoError(t, f.s.SetInstalled(true))
	assert.Equal(t, 1, f.cpu.at(0x1000))
	require.NoError(t, f.s.SetInstalled(false))

	f.expr.vars["hit"] = true
	assert.True(t, f.s.BreakShouldContinue(0x1000, TrapBreak).Continue())
	assert.False(t, f.s.BreakShouldContinue(0x1000, TrapBreak).Continue())
}

func TestInstallFailure(t *testing.T) {
	f := newFixture()
	good, _ := f.s.AddBreakpoint(0x1000)
	bad, _ := f.s.AddBreakpoint(0x1010)
	f.cpu.fail[0x1010] = true

	err := f.s.SetInstalled(true)
	var ierr *InstallError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, bad.Slot, ierr.Slot)
	assert.Contains(t, f.out.String(), "disabling it")

	xp, _ := f.s.Table().Get(bad.Slot)
	assert.False(t, xp.Enabled)
	xp, _ = f.s.Table().Get(good.Slot)
	assert.True(t, xp.Enabled)
	assert.Equal(t, 1, f.cpu.at(0x1000))

	require.NoError(t, f.s.SetInstalled(false))
	assert.Empty(t, f.cpu.active)
}

func TestInstallIdempotent(t *testing.T) {
	f := newFixture()
	f.s.AddBreakpoint(0x1000)

	require.NoError(t, f.s.SetInstalled(true))
	require.NoError(t, f.s.SetInstalled(true))
	assert.Equal(t, 1, f.cpu.installs)
	assert.True(t, f.s.Installed())

	require.NoError(t, f.s.SetInstalled(false))
	require.NoError(t, f.s.SetInstalled(false))
	assert.Equal(t, 1, f.cpu.removes)
}

func TestInstallSharedAddress(t *testing.T) {
	f := newFixture()
	res, _ := f.s.AddBreakpoint(0x1000)
	f.cpu.calls[0x0ff0] = 0x2000
	f.cpu.next[0x0ff0] = 0x1000
	f.mem.Map(0x0ff0, 0xe8)

	// Stepping over a call whose return lands on a user breakpoint.
	require.NoError(t, f.s.Resume(ModeNextInsn, 1, 0x0ff0))
	assert.Equal(t, 1, f.cpu.at(0x1000))
	assert.Equal(t, 1, f.cpu.installs)

	require.NoError(t, f.s.SetInstalled(false))
	assert.Empty(t, f.cpu.active)

	v := f.s.BreakShouldContinue(0x1000, TrapBreak)
	assert.Equal(t, StopBreakpoint, v.Reason)
	assert.Equal(t, res.Slot, v.Slot)
}

func TestDelayed(t *testing.T) {
	f := newFixture(WithDeferUnresolved(true))

	res, err := f.s.AddBreakpoint(0x4000)
	require.NoError(t, err)
	assert.True(t, res.Deferred)
	assert.Contains(t, f.out.String(), "will check again when a new module is loaded")

	res, err = f.s.AddBreakpointAt("main.run", 0)
	require.NoError(t, err)
	assert.True(t, res.Deferred)

	res, err = f.s.AddWatchpoint(0x9000, 4, WatchWrite)
	require.NoError(t, err)
	assert.True(t, res.Deferred)

	l := f.s.List()
	assert.Empty(t, l.Entries)
	assert.Len(t, l.Delayed, 3)

	// Nothing changed yet.
	results, err := f.s.RetryDelayed()
	assert.NoError(t, err)
	assert.Empty(t, results)
	assert.Len(t, f.s.List().Delayed, 3)

	// A module providing 0x4000 and main.run got loaded.
	f.mem.Map(0x4000, 0x90)
	f.mem.Map(0x4100, 0x55)
	f.sym.names["main.run"] = 0x4100

	results, err = f.s.RetryDelayed()
	assert.NoError(t, err)
	assert.Len(t, results, 2)

	l = f.s.List()
	assert.Len(t, l.Entries, 2)
	require.Len(t, l.Delayed, 1)
	assert.Equal(t, AddrRequest{Addr: 0x9000, Kind: WatchWrite, Width: 4}, l.Delayed[0])
	assert.Equal(t, uint64(0x4000), l.Entries[0].Addr)
	assert.Equal(t, uint64(0x4100), l.Entries[1].Addr)
}

type MockResolver struct {
	loaded bool
}

func (r *MockResolver) Linear(addr uint64) (uint64, error) {
	if !r.loaded {
		return 0, errors.New("module not loaded")
	}
	return addr, nil
}

func TestDelayedRequestConsumed(t *testing.T) {
	f := newFixture(WithDeferUnresolved(true))
	r := &MockResolver{}
	f.s.res = r

	res, err := f.s.AddBreakpoint(0x1000)
	require.NoError(t, err)
	assert.True(t, res.Deferred)

	// Not deferred when the caller asked for the current location.
	_, err = f.s.AddBreakpointHere(0x1000)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.Len(t, f.s.List().Delayed, 1)

	r.loaded = true
	results, err := f.s.RetryDelayed()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Slot)
	assert.Empty(t, f.s.List().Delayed)
}

func TestNoDefer(t *testing.T) {
	f := newFixture()
	_, err := f.s.AddBreakpoint(0x4000)
	assert.ErrorIs(t, err, ErrUnresolved)

	_, err = f.s.AddBreakpointAt("missing", 0)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.Empty(t, f.s.List().Delayed)
}

func TestAddBreakpointAtLine(t *testing.T) {
	f := newFixture()
	f.sym.names["main.go:12"] = 0x1020

	res, err := f.s.AddBreakpointAt("main.go", 12)
	require.NoError(t, err)
	xp, _ := f.s.Table().Get(res.Slot)
	assert.Equal(t, uint64(0x1020), xp.Addr)

	res, err = f.s.AddBreakpoint(0x1020)
	require.NoError(t, err)
	assert.Equal(t, uint(2), res.RefCount)
	assert.Contains(t, f.out.String(), "(refcount=2)")
}

func TestModuleUnloaded(t *testing.T) {
	f := newFixture()
	f.s.AddBreakpoint(0x1000)
	f.s.AddWatchpoint(0x8000, 4, WatchWrite)

	assert.Equal(t, 1, f.s.ModuleUnloaded(0x1000, 0x100))
	assert.Len(t, f.s.List().Entries, 1)
}

func TestProcessExited(t *testing.T) {
	f := newFixture()
	f.s.AddBreakpoint(0x1000)
	require.NoError(t, f.s.Resume(ModeContinue, 0, 0x1040))
	assert.True(t, f.s.Installed())

	f.s.ProcessExited()
	assert.False(t, f.s.Installed())
	assert.Equal(t, ModeContinue, f.s.Mode())

	// A new process gets everything armed again.
	f.cpu = NewMockCPU()
	f.s.cpu = f.cpu
	require.NoError(t, f.s.SetInstalled(true))
	assert.Equal(t, 1, f.cpu.at(0x1000))
}

func TestListing(t *testing.T) {
	f := newFixture()
	res, _ := f.s.AddBreakpoint(0x1000)
	f.s.AddBreakpoint(0x1000)
	f.s.SetSkipCount(res.Slot, 3)
	f.s.SetCondition(res.Slot, "x")
	w, _ := f.s.AddWatchpoint(0x8000, 2, WatchWrite)
	f.s.Disable(w.Slot)

	l := f.s.List()
	require.Len(t, l.Entries, 2)
	assert.Equal(t, "1: y breakpoint 0x1000 (refcount=2) (skip=3)\n\t\tstop when x", l.Entries[0].String())
	assert.Equal(t, "2: n write watchpoint 0x8000 (len=2, value=0x0)", l.Entries[1].String())
}
