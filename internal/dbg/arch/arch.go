// Package arch decodes instructions of the debuggee's architecture.
package arch

import (
	"fmt"
	"strings"
)

type Arch string

const (
	AMD64 Arch = "amd64"
	ARM64 Arch = "arm64"
)

// Parse accepts Go architecture names as well as the first component of a
// target triple.
func Parse(name string) (Arch, error) {
	if i := strings.IndexByte(name, '-'); i >= 0 {
		name = name[:i]
	}
	switch name {
	case "amd64", "x86_64":
		return AMD64, nil
	case "arm64", "aarch64":
		return ARM64, nil
	}
	return "", fmt.Errorf("unsupported architecture %q", name)
}

// BreakInsn returns the software breakpoint instruction.
func (a Arch) BreakInsn() []byte {
	if a == ARM64 {
		return []byte{0x00, 0x00, 0x20, 0xd4} // brk #0
	}
	return []byte{0xcc}
}

func (a Arch) MaxInsnLen() int {
	if a == ARM64 {
		return 4
	}
	return 15
}

// PtrSize is the size of an address in bytes.
func (a Arch) PtrSize() int {
	return 8
}
