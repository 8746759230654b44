// Package schema parses table layouts declared in cell comments.
//
// A layout looks like
//
//	[[items
//	[B3]id:string
//	[C3]price:number
//	[D3]tags[0]:string
//	]]D1
//
// The first line names the table, each field line binds a cell to a dotted
// name and a type, and the terminator selects the growth direction (D grows
// downwards, R grows to the right) and the distance between records.
package schema

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/models"
)

// Marker opens every layout text. Texts without it are not layouts.
const Marker = "[["

var (
	startPattern = createPattern(`^`, `\[\[`, `([A-Za-z]\w*)`, `$`)
	fieldPattern = createPattern(
		`^`, `\[`, `(?P<cref>[A-Za-z]+[1-9][0-9]*)`, `\]`,
		`(?P<name>`,
		`[_A-Za-z]\w*`, `(\[`, `[0-9]+`, `\])?`,
		`(`,
		`\.`, `[_A-Za-z]\w*`, `(\[`, `[0-9]+`, `\])?`,
		`)*`,
		`)`,
		`:`, `(?P<type>[_A-Za-z]\w*)`,
		`$`,
	)
	endPattern = createPattern(`^`, `\]\]`, `([DdRr][1-9][0-9]*)`, `$`)
)

// createPattern joins tokens allowing blanks between any two of them.
func createPattern(tokens ...string) *regexp.Regexp {
	return regexp.MustCompile(strings.Join(tokens, `[ \t]*`))
}

// Orientation is the direction in which records repeat.
type Orientation int

const (
	// Down places record n at stride*n rows below the first.
	Down Orientation = iota
	// Right places record n at stride*n columns right of the first.
	Right
)

func (o Orientation) String() string {
	if o == Right {
		return "right"
	}
	return "down"
}

// Origin identifies where a layout text was found.
type Origin struct {
	Request   int
	Workbook  string
	Sheet     int
	SheetName string
	Cell      models.CellRef
}

// Error is a structural problem of a layout, tagged with its 1-based line.
type Error struct {
	Line    int
	Message string
}

func (e Error) String() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Schema is a parsed table layout. A schema with errors is still returned
// so that its problems can be reported.
type Schema struct {
	Origin
	Name        string
	Start       models.CellRef
	Orientation Orientation
	Stride      int
	BlockHeight int
	BlockWidth  int

	fields   []*Field
	geometry []*Field
	names    []*Field
	errors   []Error
}

// Parse parses a layout text. It returns nil when text does not begin with
// Marker.
func Parse(origin Origin, text string) *Schema {
	if !strings.HasPrefix(text, Marker) {
		return nil
	}
	lines := splitLines(text)
	s := &Schema{Origin: origin}

	if m := startPattern.FindStringSubmatch(lines[0]); m != nil {
		s.Name = m[1]
	} else {
		s.addError(1, "start pattern is incorrect")
		s.Name = fmt.Sprintf("ERROR_%d_%d_%s", origin.Request, origin.Sheet, origin.Cell.A1())
	}

	endLine := 0
	for n := 1; n < len(lines); n++ {
		line := strings.TrimSpace(lines[n])
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if s.parseField(lines[n], n+1) {
			continue
		}
		if !strings.HasPrefix(line, "]]") {
			continue
		}
		if s.parseEnd(lines[n], n+1) {
			// The terminator is not a field line after all.
			s.errors = s.errors[:len(s.errors)-1]
			endLine = n + 1
			break
		}
	}
	switch {
	case endLine <= 1:
		s.addError(len(lines), "terminator not found")
	case len(s.fields) == 0:
		s.addError(endLine, "table must have at least one field")
	}

	s.initBlock()
	s.verifyStride(endLine)
	s.geometry = slices.Clone(s.fields)
	slices.SortStableFunc(s.geometry, compareGeometry)
	s.names = slices.Clone(s.fields)
	slices.SortStableFunc(s.names, nameComparer(s.fields))
	s.verifyOffsets()
	s.verifyTypes()
	s.verifyNames()
	return s
}

// Valid reports whether the schema has no structural errors.
func (s *Schema) Valid() bool { return len(s.errors) == 0 }

// Errors returns the structural errors in detection order, or nil when
// there are none.
func (s *Schema) Errors() []Error {
	if len(s.errors) == 0 {
		return nil
	}
	return slices.Clone(s.errors)
}

// FieldCount returns the number of declared fields.
func (s *Schema) FieldCount() int { return len(s.fields) }

// Field returns the field declared at index i.
func (s *Schema) Field(i int) *Field { return s.fields[i] }

// Fields returns the fields in declaration order.
func (s *Schema) Fields() []*Field { return slices.Clone(s.fields) }

// GeometryOrder returns the fields ordered by offset, row first.
func (s *Schema) GeometryOrder() []*Field { return slices.Clone(s.geometry) }

// NameOrder returns the fields ordered segment by segment by name, the
// order in which objects are populated.
func (s *Schema) NameOrder() []*Field { return slices.Clone(s.names) }

// MinStride is the smallest stride that keeps records from overlapping.
func (s *Schema) MinStride() int {
	if s.Orientation == Right {
		return s.BlockWidth
	}
	return s.BlockHeight
}

// CellOf returns the absolute cell of field i in record n.
func (s *Schema) CellOf(n, i int) models.CellRef {
	f := s.fields[i]
	ref := s.Start.Offset(f.RowOffset, f.ColOffset)
	if s.Orientation == Right {
		return ref.Offset(0, n*s.Stride)
	}
	return ref.Offset(n*s.Stride, 0)
}

func (s *Schema) addError(line int, format string, args ...any) {
	s.errors = append(s.errors, Error{Line: line, Message: fmt.Sprintf(format, args...)})
}

func (s *Schema) parseField(line string, lineNum int) bool {
	m := fieldPattern.FindStringSubmatch(line)
	if m == nil {
		s.addError(lineNum, "field pattern is incorrect")
		return false
	}
	ref, err := models.ParseCellRef(m[fieldPattern.SubexpIndex("cref")])
	if err != nil {
		s.addError(lineNum, "field pattern is incorrect")
		return false
	}
	f := newField(len(s.fields), lineNum, ref.Row, ref.Col,
		m[fieldPattern.SubexpIndex("name")], m[fieldPattern.SubexpIndex("type")])
	if len(s.fields) == 0 {
		s.Start = ref
	} else {
		s.Start = models.CellRef{Row: min(s.Start.Row, ref.Row), Col: min(s.Start.Col, ref.Col)}
	}
	s.fields = append(s.fields, f)
	return true
}

func (s *Schema) parseEnd(line string, lineNum int) bool {
	m := endPattern.FindStringSubmatch(line)
	var stride int
	var err error
	if m != nil {
		stride, err = strconv.Atoi(m[1][1:])
	}
	if m == nil || err != nil {
		s.addError(lineNum, "end pattern is incorrect")
		return false
	}
	if m[1][0] == 'R' || m[1][0] == 'r' {
		s.Orientation = Right
	}
	s.Stride = stride
	return true
}

func (s *Schema) initBlock() {
	h, w := 0, 0
	for _, f := range s.fields {
		f.RowOffset -= s.Start.Row
		f.ColOffset -= s.Start.Col
		h = max(h, f.RowOffset)
		w = max(w, f.ColOffset)
	}
	s.BlockHeight = h + 1
	s.BlockWidth = w + 1
}

func (s *Schema) verifyStride(endLine int) {
	if endLine <= 1 || s.Stride >= s.MinStride() {
		return
	}
	axis := "height"
	if s.Orientation == Right {
		axis = "width"
	}
	s.addError(endLine, "stride must be greater than or equal to block %s (%d)", axis, s.MinStride())
}

func (s *Schema) verifyOffsets() {
	for n := 1; n < len(s.geometry); n++ {
		a, b := s.geometry[n-1], s.geometry[n]
		if a.RowOffset != b.RowOffset || a.ColOffset != b.ColOffset {
			continue
		}
		first := a
		for m := n - 2; m >= 0; m-- {
			if o := s.geometry[m]; o.RowOffset == a.RowOffset && o.ColOffset == a.ColOffset {
				first = o
				continue
			}
			break
		}
		ref := s.Start.Offset(b.RowOffset, b.ColOffset)
		s.addError(b.Line, "cell %s is already used at line %d", ref.A1(), first.Line)
	}
}

func (s *Schema) verifyTypes() {
	for _, f := range s.fields {
		if f.Type == TypeArray || f.Type == TypeObject {
			s.addError(f.Line, "field type '%s' is implicit and cannot be declared", f.Type)
		}
	}

	for n := 1; n < len(s.names); n++ {
		a, b := s.names[n-1], s.names[n]
		end := min(a.Depth(), b.Depth())
		for m := 0; m <= end; m++ {
			an, bn := a.Nodes[m], b.Nodes[m]
			if an.Name != bn.Name {
				break
			}
			if m < end && an.IsElement() == bn.IsElement() {
				continue
			}
			at, bt := shapeAt(a, m), shapeAt(b, m)
			if at == bt {
				continue
			}
			s.addError(b.Line, "field type is inconsistent: %s (line %d) is '%s' but %s (line %d) is '%s'",
				a.Path(m), a.Line, at, b.Path(m), b.Line, bt)
		}
	}
}

// shapeAt is the type a field implies for its segment at depth m.
func shapeAt(f *Field, m int) string {
	if f.Depth() == m {
		return f.Type
	}
	if f.Nodes[m].IsElement() {
		return TypeArray
	}
	return TypeObject
}

func (s *Schema) verifyNames() {
	for n := 1; n < len(s.names); n++ {
		a, b := s.names[n-1], s.names[n]
		if a.Name != b.Name {
			continue
		}
		first := a
		for m := n - 2; m >= 0; m-- {
			if o := s.names[m]; o.Name == a.Name {
				first = o
				continue
			}
			break
		}
		s.addError(b.Line, "field name '%s' is already declared at line %d", b.Name, first.Line)
	}
}

// splitLines splits text on line breaks and drops trailing blank lines.
func splitLines(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for n := len(lines) - 1; n > 0; n-- {
		if strings.TrimSpace(lines[n]) != "" {
			return lines[:n+1]
		}
	}
	return lines[:1]
}
