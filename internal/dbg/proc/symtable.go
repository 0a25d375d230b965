package proc

import (
	"debug/dwarf"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gni.dev/xdbg/internal/dbg/xpoint"
)

// SymTable answers symbol and line queries for one loaded image. Addresses
// going in and out are run time addresses: the load bias is applied.
type SymTable struct {
	cus      []*compileUnit
	cuRanges []compileUnitRange
	fileIdx  map[string][]*fileInfo
	funcs    []*Func
	funcIdx  []funcRange
	rows     []lineRow
	bias     uint64
}

type compileUnitRange struct {
	lowpc, highpc uint64
	cu            *compileUnit
}

type ErrAmbiguous struct {
	Location   string
	Candidates []string
}

func (a *ErrAmbiguous) Error() string {
	return fmt.Sprintf("Location %q ambiguous: %s", a.Location, strings.Join(a.Candidates, ", "))
}

// LoadImage loads the debug information from the given DWARF data.
func (s *SymTable) LoadImage(d *dwarf.Data) error {
	r := d.Reader()
	for {
		e, err := r.Next()
		if err != nil {
			return err
		}
		if e == nil {
			break
		}
		switch e.Tag {
		case dwarf.TagCompileUnit:
			cu := newCompileUnit()
			cu.name, _ = e.Val(dwarf.AttrName).(string)
			cu.lang, _ = e.Val(dwarf.AttrLanguage).(int64)

			ranges, _ := d.Ranges(e)
			for _, r := range ranges {
				s.cuRanges = append(s.cuRanges, compileUnitRange{
					lowpc:  r[0],
					highpc: r[1],
					cu:     cu,
				})
			}
			s.cus = append(s.cus, cu)

			if err := cu.loadLines(d, e); err != nil {
				return err
			}

			if e.Children {
				if err := cu.loadDebugInfo(d, r); err != nil {
					return err
				}
			}
		default:
			r.SkipChildren()
		}
	}
	s.fileIdx = make(map[string][]*fileInfo)
	for _, cu := range s.cus {
		cu.buildFileIdx(s.fileIdx)
		s.funcs = append(s.funcs, cu.funcs...)
		s.rows = append(s.rows, cu.rows...)
	}
	s.funcIdx = indexFuncs(s.funcs)
	sort.SliceStable(s.rows, func(i, j int) bool {
		return s.rows[i].addr < s.rows[j].addr
	})
	return nil
}

// SetBias sets the difference between run time and link time addresses.
func (s *SymTable) SetBias(bias uint64) {
	s.bias = bias
}

func (s *SymTable) Bias() uint64 {
	return s.bias
}

// LineToPC returns the PC for the given file and line.
func (s *SymTable) LineToPC(file string, line int) (uint64, string, error) {
	normalized := filepath.Join(string(filepath.Separator), file)
	files, ok := s.fileIdx[normalized]
	if !ok {
		return 0, "", fmt.Errorf("file %s not found", file)
	}

	if len(files) > 1 {
		var candidates []string
		for _, f := range files {
			candidates = append(candidates, f.name)
		}
		return 0, "", &ErrAmbiguous{
			Location:   file,
			Candidates: candidates,
		}
	}

	if pc, ok := files[0].lines[line]; ok {
		return pc + s.bias, files[0].name, nil
	}
	return 0, "", fmt.Errorf("location %s:%d not found", file, line)
}

// PCToLine returns the source position of pc.
func (s *SymTable) PCToLine(pc uint64) (string, int, bool) {
	row, ok := s.row(pc - s.bias)
	if !ok {
		return "", 0, false
	}
	return row.file, row.line, true
}

// LookupFunc finds a function by its full name, or by its base name when
// that is unique.
func (s *SymTable) LookupFunc(name string) (*Func, error) {
	var matches []*Func
	for _, f := range s.funcs {
		if f.name == name {
			return f, nil
		}
		if f.BaseName() == name {
			matches = append(matches, f)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("function %s not found", name)
	case 1:
		return matches[0], nil
	}
	var candidates []string
	for _, f := range matches {
		candidates = append(candidates, f.name)
	}
	return nil, &ErrAmbiguous{
		Location:   name,
		Candidates: candidates,
	}
}

// FuncAt returns the function containing pc.
func (s *SymTable) FuncAt(pc uint64) *Func {
	pc -= s.bias
	i := sort.Search(len(s.funcIdx), func(i int) bool {
		return s.funcIdx[i].lowpc > pc
	})
	if i == 0 {
		return nil
	}
	if r := s.funcIdx[i-1]; pc < r.highpc {
		return r.fn
	}
	return nil
}

// Entry returns the run time entry address of f.
func (s *SymTable) Entry(f *Func) uint64 {
	return f.entry + s.bias
}

// ResolveName resolves a function name, or file:line when line is
// positive, to a run time address.
func (s *SymTable) ResolveName(name string, line int) (uint64, bool) {
	if line > 0 {
		pc, _, err := s.LineToPC(name, line)
		return pc, err == nil
	}
	f, err := s.LookupFunc(name)
	if err != nil {
		return 0, false
	}
	return s.Entry(f), true
}

// LineStatus tells whether pc starts a source line.
func (s *SymTable) LineStatus(pc uint64) xpoint.LineStatus {
	pc -= s.bias
	if !s.covered(pc) {
		return xpoint.NoLineInfo
	}
	i := sort.Search(len(s.rows), func(i int) bool {
		return s.rows[i].addr >= pc
	})
	for ; i < len(s.rows) && s.rows[i].addr == pc; i++ {
		if s.rows[i].stmt {
			return xpoint.OnLine
		}
	}
	return xpoint.NotOnLine
}

func (s *SymTable) covered(pc uint64) bool {
	for _, r := range s.cuRanges {
		if pc >= r.lowpc && pc < r.highpc {
			return len(r.cu.rows) > 0
		}
	}
	return false
}

func (s *SymTable) row(pc uint64) (lineRow, bool) {
	if !s.covered(pc) {
		return lineRow{}, false
	}
	i := sort.Search(len(s.rows), func(i int) bool {
		return s.rows[i].addr > pc
	})
	if i == 0 {
		return lineRow{}, false
	}
	return s.rows[i-1], true
}
