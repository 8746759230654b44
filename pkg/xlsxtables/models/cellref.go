// Package models defines the value types shared by the extraction packages
// and the structures emitted by the JSON and YAML encoders.
package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidCellRef indicates a string that is not an A1-style reference.
var ErrInvalidCellRef = errors.New("invalid cell reference")

// CellRef is a zero-based worksheet coordinate.
// CellRef{Row: 0, Col: 0} is "A1".
type CellRef struct {
	// Row is the zero-based row index.
	Row int
	// Col is the zero-based column index.
	Col int
}

// NormalizeCellRef trims surrounding whitespace and upper-cases s.
func NormalizeCellRef(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ParseCellRef parses an A1-style reference such as "B12" or " aa3 ".
func ParseCellRef(s string) (CellRef, error) {
	s = NormalizeCellRef(s)
	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(s) || s[i] < '1' || s[i] > '9' {
		return CellRef{}, fmt.Errorf("%w: %q", ErrInvalidCellRef, s)
	}
	col := 0
	for _, ch := range s[:i] {
		col = col*26 + int(ch-'A'+1)
		if col > math.MaxInt32 {
			return CellRef{}, fmt.Errorf("%w: %q: column overflow", ErrInvalidCellRef, s)
		}
	}
	for _, ch := range s[i:] {
		if ch < '0' || ch > '9' {
			return CellRef{}, fmt.Errorf("%w: %q", ErrInvalidCellRef, s)
		}
	}
	row, err := strconv.ParseInt(s[i:], 10, 32)
	if err != nil {
		return CellRef{}, fmt.Errorf("%w: %q: %v", ErrInvalidCellRef, s, err)
	}
	return CellRef{Row: int(row) - 1, Col: col - 1}, nil
}

// MustParseCellRef is like ParseCellRef but panics on malformed input.
func MustParseCellRef(s string) CellRef {
	ref, err := ParseCellRef(s)
	if err != nil {
		panic(err)
	}
	return ref
}

// ColumnName returns the letters of a zero-based column index ("A", "Z", "AA").
func ColumnName(col int) string {
	if col < 0 {
		return ""
	}
	var buf [16]byte
	i := len(buf)
	for n := col + 1; n > 0; n /= 26 {
		n--
		i--
		buf[i] = byte('A' + n%26)
	}
	return string(buf[i:])
}

// A1 formats the reference in A1 notation.
func (c CellRef) A1() string {
	if c.Row < 0 || c.Col < 0 {
		return fmt.Sprintf("R%dC%d", c.Row, c.Col)
	}
	return ColumnName(c.Col) + strconv.Itoa(c.Row+1)
}

func (c CellRef) String() string {
	return c.A1()
}

// Compare orders references by row, then column.
func (c CellRef) Compare(o CellRef) int {
	switch {
	case c.Row < o.Row:
		return -1
	case c.Row > o.Row:
		return 1
	case c.Col < o.Col:
		return -1
	case c.Col > o.Col:
		return 1
	}
	return 0
}

// Less reports whether c sorts before o.
func (c CellRef) Less(o CellRef) bool {
	return c.Compare(o) < 0
}

// Offset returns the reference moved by dr rows and dc columns.
func (c CellRef) Offset(dr, dc int) CellRef {
	return CellRef{Row: c.Row + dr, Col: c.Col + dc}
}

// MarshalText implements encoding.TextMarshaler.
func (c CellRef) MarshalText() ([]byte, error) {
	return []byte(c.A1()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CellRef) UnmarshalText(b []byte) error {
	ref, err := ParseCellRef(string(b))
	if err != nil {
		return err
	}
	*c = ref
	return nil
}
