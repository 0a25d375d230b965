package arch

import (
	"errors"
	"strconv"
	"strings"

	"github.com/bnagy/gapstone"
)

var ErrNoInsn = errors.New("cannot decode instruction")

// Insn is the subset of a decoded instruction the stepping logic needs.
type Insn struct {
	Addr uint64
	Size int
	Text string

	Call   bool
	Return bool
	// Repeat is set for string instructions with a repeat prefix.
	Repeat bool
	// Target is the statically known call target, if any.
	Target uint64
}

func (i Insn) Next() uint64 {
	return i.Addr + uint64(i.Size)
}

type Decoder struct {
	arch   Arch
	engine gapstone.Engine
}

func NewDecoder(a Arch) (*Decoder, error) {
	csArch, csMode := gapstone.CS_ARCH_X86, gapstone.CS_MODE_64
	if a == ARM64 {
		csArch, csMode = gapstone.CS_ARCH_ARM64, gapstone.CS_MODE_LITTLE_ENDIAN
	}
	engine, err := gapstone.New(csArch, uint(csMode))
	if err != nil {
		return nil, err
	}
	if a == AMD64 {
		err = engine.SetOption(gapstone.CS_OPT_SYNTAX, gapstone.CS_OPT_SYNTAX_INTEL)
		if err != nil {
			engine.Close()
			return nil, err
		}
	}
	return &Decoder{arch: a, engine: engine}, nil
}

func (d *Decoder) Arch() Arch {
	return d.arch
}

func (d *Decoder) Close() error {
	return d.engine.Close()
}

// Decode decodes the first instruction of code, located at addr.
func (d *Decoder) Decode(code []byte, addr uint64) (Insn, error) {
	insns, err := d.engine.Disasm(code, addr, 1)
	if err != nil {
		return Insn{}, err
	}
	if len(insns) == 0 {
		return Insn{}, ErrNoInsn
	}
	in := insns[0]
	insn := Insn{
		Addr: uint64(in.Address),
		Size: int(in.Size),
		Text: strings.TrimSpace(in.Mnemonic + " " + in.OpStr),
	}

	switch d.arch {
	case AMD64:
		switch in.Id {
		case gapstone.X86_INS_CALL, gapstone.X86_INS_LCALL:
			insn.Call = true
			insn.Target = immediate(in.OpStr)
		case gapstone.X86_INS_RET, gapstone.X86_INS_RETF, gapstone.X86_INS_RETFQ:
			insn.Return = true
		}
		insn.Repeat = strings.HasPrefix(in.Mnemonic, "rep")
	case ARM64:
		switch in.Id {
		case gapstone.ARM64_INS_BL:
			insn.Call = true
			insn.Target = immediate(in.OpStr)
		case gapstone.ARM64_INS_BLR:
			insn.Call = true
		case gapstone.ARM64_INS_RET:
			insn.Return = true
		}
	}
	return insn, nil
}

func immediate(op string) uint64 {
	v, err := strconv.ParseUint(strings.TrimPrefix(op, "#"), 0, 64)
	if err != nil {
		return 0
	}
	return v
}
