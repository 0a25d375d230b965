//go:build linux && amd64

package native

import (
	"errors"
	"runtime"

	"golang.org/x/sys/unix"
)

var errThreadStopped = errors.New("ptrace thread stopped")

// ptraceThread runs every ptrace request on one locked OS thread, as the
// kernel only accepts requests from the tracer thread.
type ptraceThread struct {
	fns     chan func()
	stopped bool
}

func newPtraceThread() *ptraceThread {
	t := &ptraceThread{fns: make(chan func())}
	go t.loop()
	return t
}

func (t *ptraceThread) loop() {
	runtime.LockOSThread()
	for fn := range t.fns {
		fn()
	}
}

func (t *ptraceThread) do(fn func() error) error {
	if t.stopped {
		return errThreadStopped
	}
	var err error
	done := make(chan struct{})
	t.fns <- func() {
		err = fn()
		close(done)
	}
	<-done
	return err
}

func (t *ptraceThread) stop() {
	if !t.stopped {
		t.stopped = true
		close(t.fns)
	}
}

// ptraceResume issues PTRACE_CONT or PTRACE_SINGLESTEP with sig as the
// signal to deliver. unix.PtraceSingleStep cannot pass a signal.
func ptraceResume(req, pid, sig int) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(req), uintptr(pid), 0, uintptr(sig), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
