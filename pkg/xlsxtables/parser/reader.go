// Package parser streams cells and cell comments out of a workbook package.
package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/archive"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/models"
)

// Cell is the current cell of a Reader. Value is already resolved through
// the shared string table.
type Cell struct {
	Ref   models.CellRef
	Type  string
	Value string
}

// Reader is a forward-only cursor over the populated cells of every
// worksheet, in manifest order.
type Reader struct {
	zip      *archive.Reader
	sheets   []sheetPart
	sst      sharedStrings
	comments map[int][]Comment

	idx      int
	cur      *sheetCursor
	cell     Cell
	err      error
	closed   bool
	progress float64
}

// Open reads the workbook manifest and positions the reader on the first
// worksheet. A package without worksheets fails with ErrInvalidPackage.
func Open(ar *archive.Reader) (*Reader, error) {
	if _, err := ar.Entries(); err != nil {
		return nil, err
	}
	workbook, err := findWorkbookPath(ar)
	if err != nil {
		return nil, err
	}
	sheets, rels, err := parseWorkbookSheets(ar, workbook)
	if err != nil {
		return nil, err
	}
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: no worksheets", ErrInvalidPackage)
	}
	sst := findRelationship(rels, workbook, relSharedStrings)
	if sst == "" {
		sst = "xl/sharedStrings.xml"
	}
	return &Reader{
		zip:      ar,
		sheets:   sheets,
		sst:      sharedStrings{entry: ar.Lookup(sst)},
		comments: make(map[int][]Comment),
	}, nil
}

// SheetCount returns the number of worksheets.
func (r *Reader) SheetCount() int { return len(r.sheets) }

// SheetIndex returns the index of the current worksheet. It equals
// SheetCount once every sheet has been consumed.
func (r *Reader) SheetIndex() int { return r.idx }

// SheetName returns the name of the current worksheet.
func (r *Reader) SheetName() string {
	if r.idx >= len(r.sheets) {
		return ""
	}
	return r.sheets[r.idx].name
}

// SheetNames lists the worksheets in manifest order.
func (r *Reader) SheetNames() []string {
	names := make([]string, len(r.sheets))
	for i, s := range r.sheets {
		names[i] = s.name
	}
	return names
}

// Cell returns the cell the reader is positioned on.
func (r *Reader) Cell() Cell { return r.cell }

// Err returns the first error met while reading.
func (r *Reader) Err() error { return r.err }

// Read advances to the next populated cell, moving on to the following
// worksheets as they run out. It returns false once every sheet is consumed
// or an error occurred.
func (r *Reader) Read() bool {
	for !r.closed && r.err == nil && r.idx < len(r.sheets) {
		if r.NextCell() {
			return true
		}
		if r.err != nil {
			return false
		}
		r.MoveToNextSheet()
	}
	return false
}

// NextCell advances to the next populated cell of the current worksheet.
func (r *Reader) NextCell() bool {
	if r.closed || r.err != nil || r.idx >= len(r.sheets) {
		return false
	}
	if r.cur == nil {
		cur, err := openSheet(r.sheets[r.idx].entry)
		if err != nil {
			r.err = fmt.Errorf("sheet %q: %w", r.sheets[r.idx].name, err)
			return false
		}
		r.cur = cur
	}
	raw, ok, err := r.cur.next()
	if err == nil && ok {
		r.cell, err = r.resolve(raw)
	}
	if err != nil {
		r.err = fmt.Errorf("sheet %q: %w", r.sheets[r.idx].name, err)
		return false
	}
	return ok
}

// MoveToNextSheet abandons the current worksheet and positions the reader
// on the next one. It returns false when there is none.
func (r *Reader) MoveToNextSheet() bool {
	if r.closed || r.idx >= len(r.sheets) {
		return false
	}
	r.closeCursor()
	r.idx++
	r.cell = Cell{}
	return r.idx < len(r.sheets)
}

// Comments returns the comments of the current worksheet ordered by cell.
// They are parsed once per sheet.
func (r *Reader) Comments() ([]Comment, error) {
	if r.closed || r.idx >= len(r.sheets) {
		return nil, nil
	}
	if c, ok := r.comments[r.idx]; ok {
		return c, nil
	}
	c, err := readComments(r.zip, r.sheets[r.idx].path)
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", r.sheets[r.idx].name, err)
	}
	r.comments[r.idx] = c
	return c, nil
}

// Progress estimates the consumed share of the workbook in [0,1]: whole
// sheets plus the byte position within the current one.
func (r *Reader) Progress() float64 {
	if r.closed {
		return r.progress
	}
	n := len(r.sheets)
	if r.idx >= n {
		r.progress = 1
		return 1
	}
	p := float64(r.idx)
	if r.cur != nil {
		p += r.cur.fraction()
	}
	r.progress = min(1, max(r.progress, p/float64(n)))
	return r.progress
}

// Close releases every open part stream.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.Progress()
	r.closed = true
	err := r.closeCursor()
	return errors.Join(err, r.sst.Close())
}

func (r *Reader) closeCursor() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}

func (r *Reader) resolve(raw rawCell) (Cell, error) {
	c := Cell{Ref: raw.ref, Type: raw.typ, Value: raw.value}
	if raw.typ == "s" {
		idx, err := strconv.Atoi(raw.value)
		if err != nil {
			return c, fmt.Errorf("%w: shared string index %q", ErrInvalidPackage, raw.value)
		}
		if c.Value, err = r.sst.get(idx); err != nil {
			return c, err
		}
	}
	return c, nil
}

type rawCell struct {
	ref   models.CellRef
	typ   string
	value string
}

// sheetCursor walks the sheetData of one worksheet part.
type sheetCursor struct {
	rc   io.ReadCloser
	dec  *xml.Decoder
	size int64
	row  int
	col  int
	done bool
}

func openSheet(e *archive.Entry) (*sheetCursor, error) {
	rc, err := e.Open()
	if err != nil {
		return nil, err
	}
	return &sheetCursor{
		rc:   rc,
		dec:  newDecoder(rc),
		size: e.UncompressedSize,
		row:  -1,
		col:  -1,
	}, nil
}

func (s *sheetCursor) fraction() float64 {
	if s.done || s.size <= 0 {
		return 1
	}
	return min(1, float64(s.dec.InputOffset())/float64(s.size))
}

// next returns the next cell that carries a value.
func (s *sheetCursor) next() (rawCell, bool, error) {
	for !s.done {
		tok, err := s.dec.Token()
		if errors.Is(err, io.EOF) {
			s.done = true
			break
		}
		if err != nil {
			return rawCell{}, false, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "row":
			if v, err := strconv.Atoi(attr(se, "r")); err == nil && v > 0 {
				s.row = v - 1
			} else {
				s.row++
			}
			s.col = -1
		case "c":
			c, hasValue, err := s.readCell(se)
			if err != nil {
				return rawCell{}, false, err
			}
			if hasValue {
				return c, true, nil
			}
		}
	}
	return rawCell{}, false, nil
}

func (s *sheetCursor) readCell(se xml.StartElement) (rawCell, bool, error) {
	c := rawCell{typ: attr(se, "t")}
	if r := attr(se, "r"); r != "" {
		ref, err := models.ParseCellRef(r)
		if err != nil {
			return c, false, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
		}
		c.ref = ref
	} else {
		c.ref = models.CellRef{Row: max(s.row, 0), Col: s.col + 1}
	}
	s.row, s.col = c.ref.Row, c.ref.Col

	hasValue := false
	for depth := 1; depth > 0; {
		tok, err := s.dec.Token()
		if err != nil {
			return c, false, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "v":
				var sb strings.Builder
				if err := readElementText(s.dec, &sb); err != nil {
					return c, false, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
				}
				c.value, hasValue = sb.String(), true
			case "is":
				text, err := readRichText(s.dec)
				if err != nil {
					return c, false, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
				}
				c.value, hasValue = text, true
			default:
				if err := s.dec.Skip(); err != nil {
					return c, false, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
				}
			}
		case xml.EndElement:
			depth--
		}
	}
	return c, hasValue, nil
}

func (s *sheetCursor) Close() error {
	return s.rc.Close()
}
