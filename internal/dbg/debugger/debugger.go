// Package debugger drives one debuggee: it owns the breakpoint session, the
// process backend, the symbol table and the condition engine.
package debugger

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"gni.dev/xdbg/internal/dbg"
	"gni.dev/xdbg/internal/dbg/cond"
	"gni.dev/xdbg/internal/dbg/config"
	"gni.dev/xdbg/internal/dbg/lldb"
	"gni.dev/xdbg/internal/dbg/logflags"
	"gni.dev/xdbg/internal/dbg/native"
	"gni.dev/xdbg/internal/dbg/proc"
	"gni.dev/xdbg/internal/dbg/xpoint"
)

// Launcher starts program stopped at its first instruction.
type Launcher func(program string, args []string) (dbg.Target, error)

// BackendLauncher returns the Launcher for the backend named in cfg. The
// debuggee gets stdio as its standard streams.
func BackendLauncher(cfg *config.Config, stdio dbg.Stdio) Launcher {
	if cfg.Backend == config.BackendNative {
		return func(program string, args []string) (dbg.Target, error) {
			p, err := native.Launch(program, args, stdio, logflags.New("native"))
			if err != nil {
				return nil, err
			}
			return p, nil
		}
	}
	return func(program string, args []string) (dbg.Target, error) {
		l, err := lldb.LaunchServer(cfg.LLDBServer, stdio, logflags.New("gdbconn"))
		if err != nil {
			return nil, err
		}
		if err := l.Run(program, args); err != nil {
			l.Close()
			return nil, err
		}
		return l, nil
	}
}

type module struct {
	base, size uint64
}

// Debugger is not safe for concurrent use.
type Debugger struct {
	launch  Launcher
	out     io.Writer
	log     *logrus.Entry
	session *xpoint.Session
	exprs   *cond.Engine

	target dbg.Target
	image  *dbg.Image
	syms   *proc.SymTable
	// last is where the main image was mapped in the previous run.
	last *module
}

var _ dbg.Debugger = (*Debugger)(nil)

// New returns a debugger that writes user notices to out. A nil launch
// starts programs with the configured backend on the process's own stdio.
func New(cfg *config.Config, launch Launcher, out io.Writer) *Debugger {
	if launch == nil {
		launch = BackendLauncher(cfg, dbg.Stdio{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})
	}
	d := &Debugger{
		launch: launch,
		out:    out,
		log:    logflags.New("debugger"),
	}
	t := target{d}
	d.exprs = cond.New(t, cond.DefaultTimeout)
	d.session = xpoint.NewSession(xpoint.Backend{
		CPU:      t,
		Memory:   t,
		Resolver: t,
		Symbols:  t,
		Exprs:    d.exprs,
	},
		xpoint.WithCapacity(cfg.Capacity),
		xpoint.WithDeferUnresolved(cfg.DeferUnresolved),
		xpoint.WithOutput(out),
		xpoint.WithLogger(logflags.New("xpoint")),
	)
	return d
}

func (d *Debugger) Launch(program string, args []string) error {
	if d.target != nil {
		return dbg.ErrRunning
	}
	t, err := d.launch(program, args)
	if err != nil {
		return err
	}
	d.target = t
	d.log.WithFields(logrus.Fields{"program": program, "pid": t.Pid(), "arch": t.Arch()}).Info("launched")

	if err := d.loadImage(); err != nil {
		fmt.Fprintf(d.out, "No symbols loaded for %s: %v\n", program, err)
		d.log.WithError(err).Warn("no symbols")
	}
	if _, err := d.session.RetryDelayed(); err != nil {
		fmt.Fprintln(d.out, err)
	}
	return nil
}

func (d *Debugger) loadImage() error {
	img, err := d.target.Image()
	if err != nil {
		return err
	}
	d.image = img
	ef, err := elf.NewFile(img)
	if err != nil {
		return err
	}
	mod := imageRange(ef, img.Bias)
	if d.last != nil && *d.last != mod {
		d.session.ModuleUnloaded(d.last.base, d.last.size)
	}
	d.last = &mod

	dw, err := ef.DWARF()
	if err != nil {
		return err
	}
	syms := &proc.SymTable{}
	if err := syms.LoadImage(dw); err != nil {
		return err
	}
	syms.SetBias(img.Bias)
	d.syms = syms
	return nil
}

func imageRange(ef *elf.File, bias uint64) module {
	var lo, hi uint64
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if lo == 0 || p.Vaddr < lo {
			lo = p.Vaddr
		}
		if end := p.Vaddr + p.Memsz; end > hi {
			hi = end
		}
	}
	return module{base: lo + bias, size: hi - lo}
}

func (d *Debugger) Kill() error {
	if d.target == nil {
		return dbg.ErrNotRunning
	}
	err := d.target.Kill()
	d.exited()
	return err
}

func (d *Debugger) Detach() error {
	if d.target == nil {
		return nil
	}
	err := errors.Join(d.session.SetInstalled(false), d.target.Detach())
	d.exited()
	return err
}

func (d *Debugger) exited() {
	d.session.ProcessExited()
	if d.image != nil {
		d.image.Close()
	}
	if c, ok := d.target.(io.Closer); ok {
		if err := c.Close(); err != nil {
			d.log.WithError(err).Warn("close target")
		}
	}
	d.target, d.image = nil, nil
}

func (d *Debugger) AddBreakpoint(loc dbg.Location) (*dbg.Breakpoint, error) {
	var res xpoint.AddResult
	var err error
	switch {
	case loc.Here():
		if d.target == nil {
			return nil, dbg.ErrNotRunning
		}
		var pc uint64
		if pc, err = d.target.PC(); err != nil {
			return nil, err
		}
		res, err = d.session.AddBreakpointHere(pc)
	case loc.HasAddr:
		res, err = d.session.AddBreakpoint(loc.Addr)
	default:
		res, err = d.session.AddBreakpointAt(loc.Name, loc.Line)
	}
	if err != nil {
		return nil, err
	}
	return d.breakpoint(res), nil
}

func (d *Debugger) AddWatchpoint(addr uint64, width int, kind xpoint.Kind) (*dbg.Breakpoint, error) {
	res, err := d.session.AddWatchpoint(addr, width, kind)
	if err != nil {
		return nil, err
	}
	return d.breakpoint(res), nil
}

func (d *Debugger) breakpoint(res xpoint.AddResult) *dbg.Breakpoint {
	if res.Deferred {
		return &dbg.Breakpoint{Deferred: true}
	}
	xp, _ := d.session.Table().Get(res.Slot)
	bp := &dbg.Breakpoint{ID: res.Slot, RefCount: res.RefCount, Addr: xp.Addr}
	bp.Func, bp.File, bp.Line = d.describe(xp.Addr)
	return bp
}

func (d *Debugger) describe(pc uint64) (fn, file string, line int) {
	if d.syms == nil {
		return
	}
	if f := d.syms.FuncAt(pc); f != nil {
		fn = f.Name()
	}
	file, line, _ = d.syms.PCToLine(pc)
	return
}

func (d *Debugger) Delete(id int) error {
	return d.session.Delete(id)
}

func (d *Debugger) Enable(id int, on bool) error {
	if on {
		return d.session.Enable(id)
	}
	return d.session.Disable(id)
}

func (d *Debugger) SetCondition(id int, expr string) error {
	return d.session.SetCondition(id, expr)
}

func (d *Debugger) SetIgnoreCount(id int, n uint) error {
	return d.session.SetSkipCount(id, n)
}

func (d *Debugger) Breakpoints() xpoint.Listing {
	return d.session.List()
}

// Resume runs mode until the session decides to stop, a signal arrives or
// the debuggee exits.
func (d *Debugger) Resume(mode xpoint.Mode, count int) (*dbg.State, error) {
	if d.target == nil {
		return nil, dbg.ErrNotRunning
	}
	pc, err := d.target.PC()
	if err != nil {
		return nil, err
	}
	if err := d.session.Resume(mode, count, pc); err != nil && !installOnly(err) {
		return nil, err
	}

	for {
		ev, err := d.target.Resume()
		if err != nil {
			return nil, err
		}
		log := d.log.WithFields(logrus.Fields{"pc": ev.PC, "trap": ev.Trap, "signal": ev.Signal})
		log.Debug("event")

		if ev.Exited {
			d.exited()
			return &dbg.State{Exited: true, Status: ev.Status, Signal: signalOf(ev)}, nil
		}
		if err := d.session.SetInstalled(false); err != nil {
			log.WithError(err).Warn("uninstall")
		}
		if ev.Signal != 0 {
			st := &dbg.State{Signal: ev.Signal, PC: ev.PC}
			st.Func, st.File, st.Line = d.describe(ev.PC)
			return st, nil
		}

		v := d.session.BreakShouldContinue(ev.PC, ev.Trap)
		if v.PC != ev.PC {
			if err := d.target.SetPC(v.PC); err != nil {
				return nil, err
			}
		}
		if !v.Continue() {
			st := &dbg.State{Reason: v.Reason, PC: v.PC, Slot: v.Slot, Old: v.Old, New: v.New}
			st.Func, st.File, st.Line = d.describe(v.PC)
			return st, nil
		}
		if err := d.session.RestartExecution(v.PC, 0); err != nil && !installOnly(err) {
			return nil, err
		}
	}
}

// installOnly reports whether err only carries xpoints that were disabled
// because they could not be armed. The session already told the user.
func installOnly(err error) bool {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			if !installOnly(e) {
				return false
			}
		}
		return true
	}
	var ierr *xpoint.InstallError
	return errors.As(err, &ierr)
}

func signalOf(ev dbg.Event) int {
	if ev.Signaled {
		return ev.Status
	}
	return 0
}
