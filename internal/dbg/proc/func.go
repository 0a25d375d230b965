package proc

import (
	"debug/dwarf"
	"sort"
	"strings"
)

// Func is a subprogram of the image. Its code may be split over several
// address ranges, as compilers do when they move cold blocks out of line.
type Func struct {
	name   string
	entry  uint64
	ranges [][2]uint64
}

type funcRange struct {
	lowpc, highpc uint64
	fn            *Func
}

func newFunc(d *dwarf.Data, e *dwarf.Entry) *Func {
	name, ok := e.Val(dwarf.AttrName).(string)
	if !ok {
		return nil
	}
	ranges, _ := d.Ranges(e)
	if len(ranges) == 0 {
		return nil
	}
	f := &Func{name: name, ranges: ranges}
	switch {
	case e.Val(dwarf.AttrEntrypc) != nil:
		f.entry, _ = e.Val(dwarf.AttrEntrypc).(uint64)
	case e.Val(dwarf.AttrLowpc) != nil:
		f.entry, _ = e.Val(dwarf.AttrLowpc).(uint64)
	default:
		f.entry = ranges[0][0]
	}
	return f
}

func (f *Func) Name() string {
	return f.name
}

func (f *Func) BaseName() string {
	dot := strings.LastIndex(f.name, ".")
	if dot != -1 {
		return f.name[dot+1:]
	}
	return f.name
}

// Contains reports whether the link time address pc lies in any range of f.
func (f *Func) Contains(pc uint64) bool {
	for _, r := range f.ranges {
		if pc >= r[0] && pc < r[1] {
			return true
		}
	}
	return false
}

// indexFuncs flattens the ranges of funcs into a list sorted by address.
func indexFuncs(funcs []*Func) []funcRange {
	var idx []funcRange
	for _, f := range funcs {
		for _, r := range f.ranges {
			idx = append(idx, funcRange{lowpc: r[0], highpc: r[1], fn: f})
		}
	}
	sort.Slice(idx, func(i, j int) bool {
		return idx[i].lowpc < idx[j].lowpc
	})
	return idx
}
