package schema

import (
	"cmp"
	"strconv"
	"strings"
	"unicode"
)

// Implicit types are inferred from the shape of dotted names and may not be
// declared on a field line.
const (
	TypeArray  = "array"
	TypeObject = "object"
)

// Built-in primitive field types.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// NameNode is one dotted segment of a field name. Index is -1 unless the
// segment addresses a collection element.
type NameNode struct {
	Name  string
	Index int
}

// IsElement reports whether the segment carries an element index.
func (n NameNode) IsElement() bool { return n.Index >= 0 }

// Field is one declared cell of a table record.
type Field struct {
	// Index is the declaration order and the column of the field in rows.
	Index int
	// Line is the 1-based line of the declaration within the schema text.
	Line      int
	RowOffset int
	ColOffset int
	Name      string
	Type      string
	Nodes     []NameNode
}

// Depth is the number of dots in the field name.
func (f *Field) Depth() int { return len(f.Nodes) - 1 }

// Path returns the source path of the first depth+1 segments, indices
// included (e.g. "items[2].price").
func (f *Field) Path(depth int) string {
	dots := 0
	for i := 0; i < len(f.Name); i++ {
		if f.Name[i] == '.' {
			dots++
			if dots > depth {
				return f.Name[:i]
			}
		}
	}
	return f.Name
}

func newField(index, line, row, col int, name, typ string) *Field {
	f := &Field{
		Index:     index,
		Line:      line,
		RowOffset: row,
		ColOffset: col,
		Name:      normalizeFieldName(name),
		Type:      typ,
	}
	f.Nodes = splitFieldName(f.Name)
	return f
}

// normalizeFieldName drops blanks and leading zeros of element indices.
func normalizeFieldName(name string) string {
	var sb strings.Builder
	inIndex := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case unicode.IsSpace(rune(c)):
			continue
		case c == '[':
			inIndex = true
		case c == '0' && inIndex:
			if i+1 < len(name) && name[i+1] >= '0' && name[i+1] <= '9' {
				continue
			}
		default:
			inIndex = false
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func splitFieldName(name string) []NameNode {
	words := strings.Split(name, ".")
	nodes := make([]NameNode, 0, len(words))
	for _, w := range words {
		i := strings.IndexByte(w, '[')
		if i < 0 {
			nodes = append(nodes, NameNode{Name: w, Index: -1})
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(w[i+1:], "]"))
		if err != nil {
			idx = -1
		}
		nodes = append(nodes, NameNode{Name: w[:i], Index: idx})
	}
	return nodes
}

func compareGeometry(a, b *Field) int {
	if c := cmp.Compare(a.RowOffset, b.RowOffset); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ColOffset, b.ColOffset); c != 0 {
		return c
	}
	return cmp.Compare(a.Line, b.Line)
}

// nameComparer orders fields segment by segment. Top-level names keep the
// order in which they were first declared.
func nameComparer(fields []*Field) func(a, b *Field) int {
	records := make(map[string]int)
	for i, f := range fields {
		if _, ok := records[f.Nodes[0].Name]; !ok {
			records[f.Nodes[0].Name] = i + 1
		}
	}
	return func(a, b *Field) int {
		n := min(len(a.Nodes), len(b.Nodes))
		for i := 0; i < n; i++ {
			an, bn := a.Nodes[i], b.Nodes[i]
			if an.Name != bn.Name {
				if i == 0 {
					if c := cmp.Compare(records[an.Name], records[bn.Name]); c != 0 {
						return c
					}
				}
				return strings.Compare(an.Name, bn.Name)
			}
			if an.Index != bn.Index {
				return cmp.Compare(an.Index, bn.Index)
			}
		}
		if c := cmp.Compare(a.Depth(), b.Depth()); c != 0 {
			return c
		}
		return cmp.Compare(a.Line, b.Line)
	}
}
