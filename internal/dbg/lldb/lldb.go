// Package lldb drives a debuggee through lldb-server's gdb remote protocol.
package lldb

import (
	"debug/elf"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"gni.dev/xdbg/internal/dbg"
	"gni.dev/xdbg/internal/dbg/arch"
	"gni.dev/xdbg/internal/dbg/sys"
	"gni.dev/xdbg/internal/dbg/xpoint"
)

const (
	maxPacketData = 0x1000
	sigTrap       = 5
)

var errExited = errors.New("process exited")

type LLDB struct {
	server     *os.Process
	tmpDir     string
	c          *conn
	connCloser io.Closer
	log        *logrus.Entry

	*arch.Inspector
	dec  *arch.Decoder
	arch arch.Arch

	pid    int
	tid    int
	path   string
	exited bool

	single     bool
	pendingSig int

	nextTok  xpoint.Token
	watches  map[xpoint.Token]uint64
	signaled map[xpoint.Token]bool
}

var _ dbg.Target = (*LLDB)(nil)

// LaunchServer starts lldb-server in gdbserver mode and connects to it. An
// empty path looks lldb-server up in PATH. Programs run by the server
// inherit stdio.
func LaunchServer(path string, stdio dbg.Stdio, log *logrus.Entry) (*LLDB, error) {
	if path == "" {
		var err error
		path, err = exec.LookPath("lldb-server")
		if err != nil {
			return nil, fmt.Errorf("lldb-server unavailable: %w", err)
		}
	}

	tmp, err := os.MkdirTemp("", "xdbg-*")
	if err != nil {
		return nil, err
	}
	sock := filepath.Join(tmp, "dbg.socket")

	c := exec.Command(path, "gdbserver", "unix://"+sock)
	c.Stdin, c.Stdout, c.Stderr = stdio.In, stdio.Out, stdio.Err
	c.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGTERM,
	}
	if err := c.Start(); err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}
	log.WithField("pid", c.Process.Pid).Debug("lldb-server started")

	nc, err := tryConnect("unix", sock)
	if err != nil {
		c.Process.Kill()
		os.RemoveAll(tmp)
		return nil, err
	}

	l := newLLDB(nc, log)
	if err := l.c.handshake(); err != nil {
		nc.Close()
		c.Process.Kill()
		os.RemoveAll(tmp)
		return nil, err
	}
	l.server = c.Process
	l.tmpDir = tmp
	l.connCloser = nc
	return l, nil
}

func newLLDB(remote io.ReadWriter, log *logrus.Entry) *LLDB {
	return &LLDB{
		c:        newConn(remote, log),
		log:      log,
		watches:  make(map[xpoint.Token]uint64),
		signaled: make(map[xpoint.Token]bool),
	}
}

// Run launches program stopped at its first instruction.
func (l *LLDB) Run(program string, args []string) error {
	cmd := "vRun;" + hex.EncodeToString([]byte(program))
	for _, a := range args {
		cmd += ";" + hex.EncodeToString([]byte(a))
	}
	resp, err := l.c.query(cmd)
	if err != nil {
		return err
	}
	stop, err := parseStopReply(resp)
	if err != nil {
		return err
	}
	if stop.exited() {
		return fmt.Errorf("%s: %w", program, errExited)
	}
	l.tid = stop.tid

	info, err := l.processInfo("qProcessInfo")
	if err != nil {
		return err
	}
	pid, err := strconv.ParseUint(info["pid"], 16, 64)
	if err != nil {
		return fmt.Errorf("invalid pid %q", info["pid"])
	}
	l.pid = int(pid)

	triple, _ := hex.DecodeString(info["triple"])
	a, err := arch.Parse(string(triple))
	if err != nil {
		return err
	}
	if err := l.setArch(a); err != nil {
		return err
	}

	l.path = program
	info, err = l.processInfo(fmt.Sprintf("qProcessInfoPID:%d", l.pid))
	if err == nil {
		if name, err := hex.DecodeString(info["name"]); err == nil && len(name) > 0 {
			l.path = string(name)
		}
	}
	l.exited = false
	l.log.WithFields(logrus.Fields{"pid": l.pid, "arch": a, "path": l.path}).Debug("process launched")
	return nil
}

func (l *LLDB) setArch(a arch.Arch) error {
	dec, err := arch.NewDecoder(a)
	if err != nil {
		return err
	}
	if l.dec != nil {
		l.dec.Close()
	}
	l.arch, l.dec = a, dec
	l.Inspector = arch.NewInspector(dec, l)
	return nil
}

func (l *LLDB) processInfo(cmd string) (map[string]string, error) {
	resp, err := l.c.query(cmd)
	if err != nil {
		return nil, err
	}
	info := make(map[string]string)
	for _, kv := range strings.Split(resp, ";") {
		if k, v, ok := strings.Cut(kv, ":"); ok {
			info[k] = v
		}
	}
	return info, nil
}

func (l *LLDB) Arch() arch.Arch {
	return l.arch
}

func (l *LLDB) Pid() int {
	return l.pid
}

// Image opens the main executable on the remote side and computes its load
// bias from the auxiliary vector.
func (l *LLDB) Image() (*dbg.Image, error) {
	f, err := openFile(l.c, l.path)
	if err != nil {
		return nil, err
	}
	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	img := &dbg.Image{Path: l.path, ReaderAt: f, Closer: f}
	if ef.Type == elf.ET_DYN {
		auxv, err := l.readAuxV()
		if err != nil {
			f.Close()
			return nil, err
		}
		img.Bias = sys.ParseAuxV(auxv).LoadBias(ef.Entry)
	}
	return img, nil
}

func (l *LLDB) readAuxV() ([]byte, error) {
	var auxv []byte
	for {
		resp, err := l.c.query(fmt.Sprintf("qXfer:auxv:read::%x,%x", len(auxv), maxPacketData))
		if err != nil {
			return nil, err
		}
		if resp == "" {
			return nil, errors.New("qXfer:auxv unsupported")
		}
		auxv = append(auxv, resp[1:]...)
		if resp[0] == 'l' {
			return auxv, nil
		}
	}
}

func (l *LLDB) ReadMemory(addr uint64, size int) ([]byte, error) {
	out := make([]byte, 0, size)
	for len(out) < size {
		n := size - len(out)
		if n > maxPacketData/2 {
			n = maxPacketData / 2
		}
		resp, err := l.c.query(fmt.Sprintf("m%x,%x", addr+uint64(len(out)), n))
		if err != nil {
			return nil, err
		}
		b, err := hex.DecodeString(resp)
		if err != nil {
			return nil, fmt.Errorf("invalid memory reply: %w", err)
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("cannot read memory at 0x%x", addr+uint64(len(out)))
		}
		out = append(out, b...)
	}
	return out[:size], nil
}

func (l *LLDB) readRegister(regnum int) (uint64, error) {
	resp, err := l.c.query(fmt.Sprintf("p%x", regnum))
	if err != nil {
		return 0, err
	}
	return decodeReg(resp)
}

func (l *LLDB) PC() (uint64, error) {
	return l.readRegister(l.arch.PCRegNum())
}

func (l *LLDB) SetPC(pc uint64) error {
	return l.c.expectOK(fmt.Sprintf("P%x=%s", l.arch.PCRegNum(), encodeReg(pc)))
}

func (l *LLDB) Register(name string) (uint64, error) {
	n, err := l.arch.RegNum(name)
	if err != nil {
		return 0, err
	}
	return l.readRegister(n)
}

func ztype(kind xpoint.Kind) int {
	switch kind {
	case xpoint.WatchWrite:
		return 2
	case xpoint.WatchRead:
		return 3
	}
	return 0
}

func (l *LLDB) zsize(kind xpoint.Kind, width int) int {
	if kind == xpoint.Break {
		return len(l.arch.BreakInsn())
	}
	return width
}

func (l *LLDB) Install(kind xpoint.Kind, addr uint64, width int) (xpoint.Token, error) {
	err := l.c.expectOK(fmt.Sprintf("Z%d,%x,%x", ztype(kind), addr, l.zsize(kind, width)))
	if err != nil {
		return 0, err
	}
	if kind == xpoint.Break {
		return 0, nil
	}
	l.nextTok++
	l.watches[l.nextTok] = addr
	return l.nextTok, nil
}

func (l *LLDB) Remove(kind xpoint.Kind, addr uint64, width int, tok xpoint.Token) error {
	delete(l.watches, tok)
	return l.c.expectOK(fmt.Sprintf("z%d,%x,%x", ztype(kind), addr, l.zsize(kind, width)))
}

func (l *LLDB) WatchSignaled(tok xpoint.Token) bool {
	return l.signaled[tok]
}

func (l *LLDB) ClearWatchSignal(tok xpoint.Token) {
	delete(l.signaled, tok)
}

func (l *LLDB) SetSingleStep(on bool) error {
	l.single = on
	return nil
}

// PCCorrection is zero: lldb-server reports breakpoint hits at the
// breakpoint address.
func (l *LLDB) PCCorrection(backward bool) int64 {
	return 0
}

func (l *LLDB) Resume() (dbg.Event, error) {
	if l.exited {
		return dbg.Event{}, dbg.ErrNotRunning
	}
	action := "c"
	if l.single {
		action = "s"
	}
	if l.pendingSig != 0 {
		action = fmt.Sprintf("%s%02x", strings.ToUpper(action), l.pendingSig)
		l.pendingSig = 0
	}
	cmd := "vCont;" + action
	if l.tid != 0 {
		cmd += fmt.Sprintf(":%x", l.tid)
	}

	for tok := range l.signaled {
		delete(l.signaled, tok)
	}
	resp, err := l.c.query(cmd)
	if err != nil {
		return dbg.Event{}, err
	}
	stop, err := parseStopReply(resp)
	if err != nil {
		return dbg.Event{}, err
	}
	return l.event(stop)
}

func (l *LLDB) event(stop *stopReply) (dbg.Event, error) {
	log := l.log.WithFields(logrus.Fields{"kind": string(stop.kind), "signal": stop.signal, "reason": stop.reason})
	if stop.exited() {
		l.exited = true
		log.Debug("process exited")
		return dbg.Event{Exited: true, Status: stop.status, Signaled: stop.kind == 'X'}, nil
	}
	if stop.tid != 0 {
		l.tid = stop.tid
	}

	var ev dbg.Event
	pc, ok := stop.regs[l.arch.PCRegNum()]
	if !ok {
		var err error
		if pc, err = l.PC(); err != nil {
			return dbg.Event{}, err
		}
	}
	ev.PC = pc

	switch {
	case stop.hasWatch:
		for tok, addr := range l.watches {
			if addr == stop.watchAddr {
				l.signaled[tok] = true
			}
		}
		ev.Trap = xpoint.TrapStep
	case stop.reason == "breakpoint":
		ev.Trap = xpoint.TrapBreak
	case stop.reason == "trace":
		ev.Trap = xpoint.TrapStep
	case stop.signal == sigTrap:
		if l.single {
			ev.Trap = xpoint.TrapStep
		} else {
			ev.Trap = xpoint.TrapBreak
		}
	default:
		ev.Signal = stop.signal
		l.pendingSig = stop.signal
	}
	log.WithField("pc", pc).Debug("stopped")
	return ev, nil
}

func (l *LLDB) Kill() error {
	var err error
	if !l.exited {
		l.exited = true
		// The stub may or may not answer with an exit reply.
		err = l.c.send("k")
	}
	return errors.Join(err, l.Close())
}

// Detach lets the debuggee go and shuts the server down.
func (l *LLDB) Detach() error {
	var err error
	if !l.exited {
		l.exited = true
		err = l.c.expectOK("D")
	}
	return errors.Join(err, l.Close())
}

// Close shuts lldb-server down. It is safe to call more than once.
func (l *LLDB) Close() error {
	var err error
	if l.connCloser != nil {
		err = l.connCloser.Close()
		l.connCloser = nil
	}
	if l.server != nil {
		l.server.Kill()
		l.server.Wait()
		l.server = nil
	}
	if l.tmpDir != "" {
		os.RemoveAll(l.tmpDir)
		l.tmpDir = ""
	}
	if l.dec != nil {
		l.dec.Close()
		l.dec = nil
	}
	return err
}

func tryConnect(network, address string) (conn net.Conn, err error) {
	for i := time.Duration(100); i < 5000; i += 100 {
		conn, err = net.Dial(network, address)
		if err == nil {
			return
		}
		time.Sleep(i * time.Millisecond)
	}
	return
}
