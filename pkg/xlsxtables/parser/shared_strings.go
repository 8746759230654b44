package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/archive"
)

// sharedStrings resolves string indexes by streaming the table on demand.
// Each entry is decoded once and cached.
type sharedStrings struct {
	entry *archive.Entry
	rc    io.ReadCloser
	dec   *xml.Decoder
	items []string
	eof   bool
}

func (s *sharedStrings) get(idx int) (string, error) {
	if idx < 0 {
		return "", fmt.Errorf("%w: shared string index %d", ErrInvalidPackage, idx)
	}
	for idx >= len(s.items) {
		if s.eof || s.entry == nil {
			return "", fmt.Errorf("%w: shared string index %d out of %d", ErrInvalidPackage, idx, len(s.items))
		}
		if err := s.next(); err != nil {
			return "", err
		}
	}
	return s.items[idx], nil
}

func (s *sharedStrings) next() error {
	if s.dec == nil {
		rc, err := s.entry.Open()
		if err != nil {
			return err
		}
		s.rc = rc
		s.dec = newDecoder(rc)
	}
	for {
		tok, err := s.dec.Token()
		if errors.Is(err, io.EOF) {
			s.eof = true
			return s.Close()
		}
		if err != nil {
			return fmt.Errorf("%w: shared strings: %v", ErrInvalidPackage, err)
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "si" {
			text, err := readRichText(s.dec)
			if err != nil {
				return fmt.Errorf("%w: shared strings: %v", ErrInvalidPackage, err)
			}
			s.items = append(s.items, text)
			return nil
		}
	}
}

func (s *sharedStrings) Close() error {
	if s.rc == nil {
		return nil
	}
	err := s.rc.Close()
	s.rc = nil
	return err
}
