package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/archive"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/models"
)

// Comment is the plain text of a cell comment.
type Comment struct {
	Ref  models.CellRef
	Text string
}

// readComments parses the comments part linked from a worksheet. A sheet
// without comments yields an empty slice.
func readComments(ar *archive.Reader, sheet string) ([]Comment, error) {
	rels, err := readRelationships(ar, sheet)
	if err != nil {
		return nil, err
	}
	part := findRelationship(rels, sheet, relComments)
	if part == "" {
		return nil, nil
	}
	data, err := readPart(ar, part)
	if err != nil || data == nil {
		return nil, err
	}
	return parseComments(data)
}

func parseComments(data []byte) ([]Comment, error) {
	d := newDecoder(bytes.NewReader(data))
	byRef := make(map[models.CellRef]string)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: comments: %v", ErrInvalidPackage, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "comment" {
			continue
		}
		ref, refErr := models.ParseCellRef(attr(se, "ref"))
		text, err := readRichText(d)
		if err != nil {
			return nil, fmt.Errorf("%w: comments: %v", ErrInvalidPackage, err)
		}
		if refErr != nil {
			continue
		}
		byRef[ref] = text
	}

	comments := make([]Comment, 0, len(byRef))
	for ref, text := range byRef {
		comments = append(comments, Comment{Ref: ref, Text: text})
	}
	sort.Slice(comments, func(i, j int) bool {
		return comments[i].Ref.Less(comments[j].Ref)
	})
	return comments, nil
}
