package proc

import (
	"debug/dwarf"
	"io"
	"path/filepath"
	"strings"
)

type compileUnit struct {
	name string
	lang int64

	files []*fileInfo
	funcs []*Func
	rows  []lineRow
}

type fileInfo struct {
	name  string
	lines map[int]uint64
}

type lineRow struct {
	addr uint64
	file string
	line int
	stmt bool
}

func newCompileUnit() *compileUnit {
	return &compileUnit{}
}

func (cu *compileUnit) loadLines(d *dwarf.Data, e *dwarf.Entry) error {
	r, err := d.LineReader(e)
	if err != nil {
		return err
	}
	if r == nil {
		return nil
	}

	files := make(map[string]*fileInfo)

	for {
		var l dwarf.LineEntry
		err := r.Next(&l)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if l.EndSequence || l.File == nil {
			continue
		}

		cu.rows = append(cu.rows, lineRow{
			addr: l.Address,
			file: l.File.Name,
			line: l.Line,
			stmt: l.IsStmt,
		})
		if !l.IsStmt {
			continue
		}

		f, ok := files[l.File.Name]
		if !ok {
			f = &fileInfo{
				name:  l.File.Name,
				lines: make(map[int]uint64),
			}
			files[l.File.Name] = f
		}
		// The lowest statement address of a line is where it starts.
		if pc, ok := f.lines[l.Line]; !ok || l.Address < pc {
			f.lines[l.Line] = l.Address
		}
	}
	for _, f := range files {
		cu.files = append(cu.files, f)
	}
	return nil
}

func (cu *compileUnit) buildFileIdx(m map[string][]*fileInfo) {
	for _, f := range cu.files {
		pos := len(f.name)
		for {
			pos = strings.LastIndex(f.name[:pos], string(filepath.Separator))
			if pos == -1 {
				break
			}
			name := f.name[pos:]
			m[name] = append(m[name], f)
		}
	}
}

func (cu *compileUnit) loadDebugInfo(d *dwarf.Data, r *dwarf.Reader) error {
	depth := 0

	for {
		e, err := r.Next()
		if err != nil {
			return err
		}
		if e == nil {
			break
		}

		switch e.Tag {
		case 0:
			if depth == 0 {
				return nil
			}
			depth--
		case dwarf.TagSubprogram:
			f := newFunc(d, e)
			if f != nil {
				cu.funcs = append(cu.funcs, f)
			}
			if e.Children {
				r.SkipChildren()
			}
		default:
			if e.Children {
				depth++
			}
		}
	}
	return nil
}
