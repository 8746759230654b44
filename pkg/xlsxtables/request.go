package xlsxtables

import (
	"slices"
	"strings"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/models"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/table"
)

// inlineAnchor is the synthetic cell of the first inline layout of a
// request; later ones move down one row each.
var inlineAnchor = models.MustParseCellRef("PREDEF1")

// InlineSchema is a layout text supplied with a request instead of a cell
// comment.
type InlineSchema struct {
	// Sheet is the zero-based worksheet index the layout applies to.
	Sheet int
	// Anchor is the synthetic origin cell reported for the layout.
	Anchor models.CellRef
	Text   string
}

// Request names one workbook to extract. Requests are immutable; the With
// methods return modified copies.
type Request struct {
	locator   string
	password  string
	converter table.FieldConverter
	schemas   []InlineSchema
}

// NewRequest returns a request for the workbook at locator. The locator is
// interpreted by the session's Loader.
func NewRequest(locator string) *Request {
	return &Request{locator: locator}
}

func (r *Request) clone() *Request {
	c := *r
	return &c
}

// WithPassword returns a copy of r that opens encrypted workbooks with password.
func (r *Request) WithPassword(password string) *Request {
	c := r.clone()
	c.password = password
	return c
}

// WithConverter returns a copy of r whose tables convert custom field types
// through conv.
func (r *Request) WithConverter(conv table.FieldConverter) *Request {
	c := r.clone()
	c.converter = conv
	return c
}

// WithSchema returns a copy of r with an extra layout for the worksheet at
// index sheet. The text is trimmed; it is parsed like a cell comment.
func (r *Request) WithSchema(sheet int, text string) *Request {
	c := r.clone()
	c.schemas = append(slices.Clip(r.schemas), InlineSchema{
		Sheet:  sheet,
		Anchor: inlineAnchor.Offset(len(r.schemas), 0),
		Text:   strings.TrimSpace(text),
	})
	return c
}

// Locator returns the workbook locator.
func (r *Request) Locator() string { return r.locator }

// HasPassword reports whether a password is set.
func (r *Request) HasPassword() bool { return r.password != "" }

// Converter returns the field converter, or nil.
func (r *Request) Converter() table.FieldConverter { return r.converter }

// Schemas returns the inline layouts in insertion order.
func (r *Request) Schemas() []InlineSchema { return slices.Clone(r.schemas) }

func (r *Request) String() string { return r.locator }
