package native

import (
	"errors"
	"fmt"

	"gni.dev/xdbg/internal/dbg/align"
	"gni.dev/xdbg/internal/dbg/xpoint"
)

// x86 debug register layout.
const (
	numDebugRegs = 4

	dr6StepBit = 1 << 14
)

var errNoDebugReg = errors.New("no free debug register")

// debugRegs mirrors DR0-DR3 and DR7 of the traced thread.
type debugRegs struct {
	addr [numDebugRegs]uint64
	used [numDebugRegs]bool
	dr7  uint64
}

func lenBits(width int) (uint64, error) {
	switch width {
	case 1:
		return 0, nil
	case 2:
		return 1, nil
	case 4:
		return 3, nil
	case 8:
		return 2, nil
	}
	return 0, fmt.Errorf("unsupported watch length %d", width)
}

func rwBits(kind xpoint.Kind) uint64 {
	if kind == xpoint.WatchWrite {
		return 1
	}
	// x86 cannot trap on reads only.
	return 3
}

// set claims a free register for a watch and returns its index.
func (d *debugRegs) set(kind xpoint.Kind, addr uint64, width int) (int, error) {
	l, err := lenBits(width)
	if err != nil {
		return 0, err
	}
	// DR7 ignores the low address bits covered by the length.
	if !align.Is(addr, uint64(width)) {
		return 0, fmt.Errorf("watch at 0x%x not aligned to %d bytes", addr, width)
	}
	for i := range d.used {
		if d.used[i] {
			continue
		}
		shift := uint(16 + 4*i)
		d.dr7 &^= 0xf << shift
		d.dr7 |= (rwBits(kind) | l<<2) << shift
		d.dr7 |= 1 << uint(2*i)
		d.addr[i] = addr
		d.used[i] = true
		return i, nil
	}
	return 0, errNoDebugReg
}

func (d *debugRegs) clear(i int) {
	d.dr7 &^= 1<<uint(2*i) | 0xf<<uint(16+4*i)
	d.addr[i] = 0
	d.used[i] = false
}

// hit reports whether DR6 shows register i as the cause of a trap.
func hit(dr6 uint64, i int) bool {
	return dr6&(1<<uint(i)) != 0
}

func tokenOf(i int) xpoint.Token {
	return xpoint.Token(i + 1)
}

func regOf(tok xpoint.Token) int {
	return int(tok) - 1
}
