//go:build linux && amd64

// Package native drives a debuggee directly with ptrace.
package native

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"gni.dev/xdbg/internal/dbg"
	"gni.dev/xdbg/internal/dbg/arch"
	"gni.dev/xdbg/internal/dbg/sys"
	"gni.dev/xdbg/internal/dbg/xpoint"
)

// offsetof(struct user, u_debugreg)
const debugRegOffset = 848

type Process struct {
	*arch.Inspector
	dec *arch.Decoder
	pt  *ptraceThread
	log *logrus.Entry

	pid    int
	path   string
	exited bool

	single     bool
	pendingSig int

	orig     map[uint64]byte
	dregs    debugRegs
	signaled map[xpoint.Token]bool
}

var _ dbg.Target = (*Process)(nil)

// Launch starts program under ptrace, stopped at its first instruction.
func Launch(program string, args []string, stdio dbg.Stdio, log *logrus.Entry) (*Process, error) {
	dec, err := arch.NewDecoder(arch.AMD64)
	if err != nil {
		return nil, err
	}
	p := &Process{
		dec:      dec,
		pt:       newPtraceThread(),
		log:      log,
		orig:     make(map[uint64]byte),
		signaled: make(map[xpoint.Token]bool),
	}
	p.Inspector = arch.NewInspector(dec, p)

	cmd := exec.Command(program, args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdio.In, stdio.Out, stdio.Err
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	err = p.pt.do(func() error {
		if err := cmd.Start(); err != nil {
			return err
		}
		p.pid = cmd.Process.Pid
		var ws unix.WaitStatus
		if _, err := unix.Wait4(p.pid, &ws, unix.WALL, nil); err != nil {
			return err
		}
		if !ws.Stopped() {
			return fmt.Errorf("%s: unexpected wait status %v", program, ws)
		}
		return unix.PtraceSetOptions(p.pid, unix.PTRACE_O_EXITKILL)
	})
	if err != nil {
		if p.pid > 0 {
			unix.Kill(p.pid, unix.SIGKILL)
		}
		p.exit()
		return nil, err
	}
	p.path = program
	if exe, err := os.Readlink(p.procFile("exe")); err == nil {
		p.path = exe
	}
	log.WithFields(logrus.Fields{"pid": p.pid, "path": p.path}).Debug("process launched")
	return p, nil
}

func (p *Process) procFile(name string) string {
	return "/proc/" + strconv.Itoa(p.pid) + "/" + name
}

func (p *Process) Arch() arch.Arch {
	return arch.AMD64
}

func (p *Process) Pid() int {
	return p.pid
}

func (p *Process) Image() (*dbg.Image, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, err
	}
	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	img := &dbg.Image{Path: p.path, ReaderAt: f, Closer: f}
	if ef.Type == elf.ET_DYN {
		auxv, err := os.ReadFile(p.procFile("auxv"))
		if err != nil {
			f.Close()
			return nil, err
		}
		img.Bias = sys.ParseAuxV(auxv).LoadBias(ef.Entry)
	}
	return img, nil
}

func (p *Process) ReadMemory(addr uint64, size int) ([]byte, error) {
	b := make([]byte, size)
	var n int
	err := p.pt.do(func() (err error) {
		n, err = unix.PtracePeekData(p.pid, uintptr(addr), b)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read 0x%x: %w", addr, err)
	}
	if n < size {
		return nil, fmt.Errorf("short read at 0x%x", addr)
	}
	return b, nil
}

func (p *Process) writeMemory(addr uint64, b []byte) error {
	return p.pt.do(func() error {
		_, err := unix.PtracePokeData(p.pid, uintptr(addr), b)
		return err
	})
}

func (p *Process) regs() (*unix.PtraceRegs, error) {
	var regs unix.PtraceRegs
	err := p.pt.do(func() error {
		return unix.PtraceGetRegs(p.pid, &regs)
	})
	return &regs, err
}

func (p *Process) PC() (uint64, error) {
	regs, err := p.regs()
	if err != nil {
		return 0, err
	}
	return regs.PC(), nil
}

func (p *Process) SetPC(pc uint64) error {
	regs, err := p.regs()
	if err != nil {
		return err
	}
	regs.SetPC(pc)
	return p.pt.do(func() error {
		return unix.PtraceSetRegs(p.pid, regs)
	})
}

func (p *Process) Register(name string) (uint64, error) {
	regs, err := p.regs()
	if err != nil {
		return 0, err
	}
	switch name {
	case "rax":
		return regs.Rax, nil
	case "rbx":
		return regs.Rbx, nil
	case "rcx":
		return regs.Rcx, nil
	case "rdx":
		return regs.Rdx, nil
	case "rdi":
		return regs.Rdi, nil
	case "rsi":
		return regs.Rsi, nil
	case "rbp":
		return regs.Rbp, nil
	case "rsp":
		return regs.Rsp, nil
	case "r8":
		return regs.R8, nil
	case "r9":
		return regs.R9, nil
	case "r10":
		return regs.R10, nil
	case "r11":
		return regs.R11, nil
	case "r12":
		return regs.R12, nil
	case "r13":
		return regs.R13, nil
	case "r14":
		return regs.R14, nil
	case "r15":
		return regs.R15, nil
	case "rip":
		return regs.Rip, nil
	case "rflags":
		return regs.Eflags, nil
	}
	return 0, fmt.Errorf("unknown register %s", name)
}

func (p *Process) pokeDebugReg(i int, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return p.pt.do(func() error {
		_, err := unix.PtracePokeUser(p.pid, uintptr(debugRegOffset+i*8), buf[:])
		return err
	})
}

func (p *Process) peekDebugReg(i int) (uint64, error) {
	var buf [8]byte
	err := p.pt.do(func() error {
		_, err := unix.PtracePeekUser(p.pid, uintptr(debugRegOffset+i*8), buf[:])
		return err
	})
	return binary.LittleEndian.Uint64(buf[:]), err
}

func (p *Process) Install(kind xpoint.Kind, addr uint64, width int) (xpoint.Token, error) {
	if kind == xpoint.Break {
		b, err := p.ReadMemory(addr, 1)
		if err != nil {
			return 0, err
		}
		if err := p.writeMemory(addr, arch.AMD64.BreakInsn()); err != nil {
			return 0, err
		}
		p.orig[addr] = b[0]
		return 0, nil
	}

	i, err := p.dregs.set(kind, addr, width)
	if err != nil {
		return 0, err
	}
	if err := p.pokeDebugReg(i, addr); err != nil {
		p.dregs.clear(i)
		return 0, err
	}
	if err := p.pokeDebugReg(7, p.dregs.dr7); err != nil {
		p.dregs.clear(i)
		return 0, err
	}
	return tokenOf(i), nil
}

func (p *Process) Remove(kind xpoint.Kind, addr uint64, width int, tok xpoint.Token) error {
	if kind == xpoint.Break {
		b, ok := p.orig[addr]
		if !ok {
			return fmt.Errorf("no breakpoint at 0x%x", addr)
		}
		delete(p.orig, addr)
		return p.writeMemory(addr, []byte{b})
	}
	i := regOf(tok)
	if i < 0 || i >= numDebugRegs || !p.dregs.used[i] {
		return fmt.Errorf("invalid watch token %d", tok)
	}
	p.dregs.clear(i)
	return p.pokeDebugReg(7, p.dregs.dr7)
}

func (p *Process) WatchSignaled(tok xpoint.Token) bool {
	return p.signaled[tok]
}

func (p *Process) ClearWatchSignal(tok xpoint.Token) {
	delete(p.signaled, tok)
}

func (p *Process) SetSingleStep(on bool) error {
	p.single = on
	return nil
}

// PCCorrection accounts for int3 leaving the PC after the trap instruction.
func (p *Process) PCCorrection(backward bool) int64 {
	if backward {
		return -1
	}
	return 1
}

func (p *Process) Resume() (dbg.Event, error) {
	if p.exited {
		return dbg.Event{}, dbg.ErrNotRunning
	}
	for tok := range p.signaled {
		delete(p.signaled, tok)
	}

	var ws unix.WaitStatus
	req, sig := p.resumeRequest()
	err := p.pt.do(func() error {
		if err := ptraceResume(req, p.pid, sig); err != nil {
			return err
		}
		_, err := unix.Wait4(p.pid, &ws, unix.WALL, nil)
		return err
	})
	if err != nil {
		return dbg.Event{}, err
	}

	switch {
	case ws.Exited():
		p.exit()
		return dbg.Event{Exited: true, Status: ws.ExitStatus()}, nil
	case ws.Signaled():
		p.exit()
		return dbg.Event{Exited: true, Status: int(ws.Signal()), Signaled: true}, nil
	}

	pc, err := p.PC()
	if err != nil {
		return dbg.Event{}, err
	}
	ev := dbg.Event{PC: pc}
	if s := ws.StopSignal(); s != unix.SIGTRAP {
		ev.Signal = int(s)
		p.pendingSig = int(s)
		return ev, nil
	}

	dr6, err := p.peekDebugReg(6)
	if err != nil {
		return dbg.Event{}, err
	}
	ev.Trap = xpoint.TrapBreak
	if p.single || dr6&(dr6StepBit|0xf) != 0 {
		ev.Trap = xpoint.TrapStep
	}
	for i := 0; i < numDebugRegs; i++ {
		if p.dregs.used[i] && hit(dr6, i) {
			p.signaled[tokenOf(i)] = true
		}
	}
	if dr6 != 0 {
		if err := p.pokeDebugReg(6, 0); err != nil {
			return dbg.Event{}, err
		}
	}
	p.log.WithFields(logrus.Fields{"pc": pc, "dr6": dr6, "trap": ev.Trap}).Debug("stopped")
	return ev, nil
}

// resumeRequest picks the ptrace request for the next resume and hands over
// the signal held back from the last stop. Both requests deliver it.
func (p *Process) resumeRequest() (int, int) {
	sig := p.pendingSig
	p.pendingSig = 0
	if p.single {
		return unix.PTRACE_SINGLESTEP, sig
	}
	return unix.PTRACE_CONT, sig
}

func (p *Process) exit() {
	p.exited = true
	p.pt.stop()
	p.dec.Close()
}

func (p *Process) Kill() error {
	if p.exited {
		return nil
	}
	err := p.pt.do(func() error {
		if err := unix.Kill(p.pid, unix.SIGKILL); err != nil {
			return err
		}
		var ws unix.WaitStatus
		_, err := unix.Wait4(p.pid, &ws, unix.WALL, nil)
		return err
	})
	p.exit()
	return err
}

func (p *Process) Detach() error {
	if p.exited {
		return nil
	}
	err := p.pt.do(func() error {
		return unix.PtraceDetach(p.pid)
	})
	p.exit()
	return err
}
