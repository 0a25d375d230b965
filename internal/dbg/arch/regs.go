package arch

import "fmt"

// Register numbering follows lldb-server's general purpose register order.
var amd64Regs = []string{
	"rax", "rbx", "rcx", "rdx", "rdi", "rsi", "rbp", "rsp",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	"rip", "rflags",
}

func arm64Regs() []string {
	regs := make([]string, 0, 33)
	for i := 0; i <= 30; i++ {
		regs = append(regs, fmt.Sprintf("x%d", i))
	}
	return append(regs, "sp", "pc")
}

func (a Arch) Registers() []string {
	if a == ARM64 {
		return arm64Regs()
	}
	return amd64Regs
}

// RegNum returns the remote protocol number of a register.
func (a Arch) RegNum(name string) (int, error) {
	if a == ARM64 && name == "lr" {
		name = "x30"
	}
	for i, r := range a.Registers() {
		if r == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown register %s", name)
}

func (a Arch) PCRegNum() int {
	if a == ARM64 {
		return 32
	}
	return 16
}
