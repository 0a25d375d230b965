package arch

// Memory reads the debuggee's address space.
type Memory interface {
	ReadMemory(addr uint64, size int) ([]byte, error)
}

// Inspector answers stepping questions about the instruction at an address
// of a live debuggee.
type Inspector struct {
	dec *Decoder
	mem Memory
}

func NewInspector(dec *Decoder, mem Memory) *Inspector {
	return &Inspector{dec: dec, mem: mem}
}

// At decodes the instruction at addr. Reads that cross into unmapped memory
// are retried with fewer bytes.
func (in *Inspector) At(addr uint64) (Insn, error) {
	var err error
	for n := in.dec.arch.MaxInsnLen(); n > 0; n-- {
		var code []byte
		code, err = in.mem.ReadMemory(addr, n)
		if err != nil {
			continue
		}
		return in.dec.Decode(code, addr)
	}
	return Insn{}, err
}

func (in *Inspector) CallTarget(addr uint64) (uint64, bool) {
	insn, err := in.At(addr)
	if err != nil || !insn.Call {
		return 0, false
	}
	return insn.Target, true
}

func (in *Inspector) IsReturn(addr uint64) bool {
	insn, err := in.At(addr)
	return err == nil && insn.Return
}

// IsSteppableCall reports instructions that are run over as a whole by the
// next commands: calls and repeated string instructions.
func (in *Inspector) IsSteppableCall(addr uint64) bool {
	insn, err := in.At(addr)
	return err == nil && (insn.Call || insn.Repeat)
}

func (in *Inspector) NextInstruction(addr uint64) uint64 {
	insn, err := in.At(addr)
	if err != nil {
		return addr + 1
	}
	return insn.Next()
}
