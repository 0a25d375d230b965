package xpoint

import "gni.dev/xdbg/internal/dbg/align"

// watchWidth picks the width actually used for a watch at addr: unsupported
// widths fall back to 4, then the width shrinks until addr is naturally
// aligned to it.
func watchWidth(addr uint64, width int) (int, bool) {
	fixed := true
	switch width {
	case 1, 2, 4:
	default:
		width, fixed = 4, false
	}
	for width > 1 && !align.Is(addr, uint64(width)) {
		width /= 2
	}
	return width, fixed
}
