package sys

import "encoding/binary"

const (
	_AT_NULL         = 0
	_AT_PHDR         = 3
	_AT_BASE         = 7
	_AT_ENTRY        = 9
	_AT_SYSINFO_EHDR = 33

	ptrSize = 8
)

type AuxV struct {
	// The following fields are present in all ELF binaries.
	// See /usr/include/linux/auxvec.h
	Entry uint64
	Vdso  uint64
	Phdr  uint64
	// Interp is the load address of the dynamic loader, zero for static
	// binaries.
	Interp uint64
}

func ParseAuxV(auxv []byte) AuxV {
	var a AuxV
	for i := 0; i+ptrSize*2 <= len(auxv); i += ptrSize * 2 {
		tag := binary.LittleEndian.Uint64(auxv[i:])
		val := binary.LittleEndian.Uint64(auxv[i+ptrSize:])
		switch tag {
		case _AT_NULL:
			return a
		case _AT_PHDR:
			a.Phdr = val
		case _AT_BASE:
			a.Interp = val
		case _AT_ENTRY:
			a.Entry = val
		case _AT_SYSINFO_EHDR:
			a.Vdso = val
		}
	}
	return a
}

// LoadBias returns how far the image was moved from its link time address,
// given the link time entry point.
func (a AuxV) LoadBias(linkEntry uint64) uint64 {
	return a.Entry - linkEntry
}
