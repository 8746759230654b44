package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/archive"
)

// ErrInvalidPackage indicates the archive is not a readable workbook package.
var ErrInvalidPackage = errors.New("invalid workbook package")

// Relationship types resolved by the reader, matched by suffix.
const (
	relOfficeDocument = "/officeDocument"
	relWorksheet      = "/worksheet"
	relSharedStrings  = "/sharedStrings"
	relComments       = "/comments"
)

const defaultWorkbookPath = "xl/workbook.xml"

type relationship struct {
	ID     string `xml:"Id,attr"`
	Type   string `xml:"Type,attr"`
	Target string `xml:"Target,attr"`
	Mode   string `xml:"TargetMode,attr"`
}

type relationships struct {
	XMLName      xml.Name       `xml:"Relationships"`
	Relationship []relationship `xml:"Relationship"`
}

type workbookManifest struct {
	XMLName xml.Name `xml:"workbook"`
	Sheets  []struct {
		Name    string `xml:"name,attr"`
		SheetID string `xml:"sheetId,attr"`
		ID      string `xml:"id,attr"`
	} `xml:"sheets>sheet"`
}

// sheetPart is one worksheet of the manifest.
type sheetPart struct {
	name  string
	path  string
	entry *archive.Entry
}

func newDecoder(r io.Reader) *xml.Decoder {
	d := xml.NewDecoder(r)
	d.CharsetReader = charset.NewReaderLabel
	return d
}

// readPart returns the bytes of a package part, or nil if it does not exist.
func readPart(ar *archive.Reader, name string) ([]byte, error) {
	e := ar.Lookup(name)
	if e == nil {
		return nil, nil
	}
	return e.ReadAll()
}

func decodePart(ar *archive.Reader, name string, v any) (bool, error) {
	data, err := readPart(ar, name)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := newDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInvalidPackage, name, err)
	}
	return true, nil
}

// relsPath returns the relationships part that belongs to part.
func relsPath(part string) string {
	if part == "" {
		return "_rels/.rels"
	}
	return path.Join(path.Dir(part), "_rels", path.Base(part)+".rels")
}

func resolveRelativePath(target, baseDir string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Join(baseDir, target)
}

func readRelationships(ar *archive.Reader, part string) ([]relationship, error) {
	var rels relationships
	if _, err := decodePart(ar, relsPath(part), &rels); err != nil {
		return nil, err
	}
	return rels.Relationship, nil
}

// findRelationship returns the resolved target of the first relationship of
// part whose type ends with suffix.
func findRelationship(rels []relationship, part, suffix string) string {
	for _, rel := range rels {
		if strings.EqualFold(rel.Mode, "External") {
			continue
		}
		if strings.HasSuffix(rel.Type, suffix) {
			return resolveRelativePath(rel.Target, path.Dir(part))
		}
	}
	return ""
}

// findWorkbookPath follows the package root relationships to the workbook.
func findWorkbookPath(ar *archive.Reader) (string, error) {
	rels, err := readRelationships(ar, "")
	if err != nil {
		return "", err
	}
	if p := findRelationship(rels, "", relOfficeDocument); p != "" && ar.Lookup(p) != nil {
		return p, nil
	}
	return defaultWorkbookPath, nil
}

// parseWorkbookSheets lists the worksheets of the workbook in manifest order.
func parseWorkbookSheets(ar *archive.Reader, workbook string) ([]sheetPart, []relationship, error) {
	var wb workbookManifest
	found, err := decodePart(ar, workbook, &wb)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, fmt.Errorf("%w: %s not found", ErrInvalidPackage, workbook)
	}
	rels, err := readRelationships(ar, workbook)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]relationship, len(rels))
	for _, rel := range rels {
		byID[rel.ID] = rel
	}

	dir := path.Dir(workbook)
	sheets := make([]sheetPart, 0, len(wb.Sheets))
	for _, s := range wb.Sheets {
		rel, ok := byID[s.ID]
		if !ok || !strings.HasSuffix(rel.Type, relWorksheet) {
			continue
		}
		p := resolveRelativePath(rel.Target, dir)
		e := ar.Lookup(p)
		if e == nil {
			continue
		}
		sheets = append(sheets, sheetPart{name: s.Name, path: p, entry: e})
	}
	return sheets, rels, nil
}

// readElementText returns the character data of the element whose start
// token was just consumed, skipping phonetic runs.
func readElementText(d *xml.Decoder, sb *strings.Builder) error {
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			if t.Name.Local == "rPh" {
				if err := d.Skip(); err != nil {
					return err
				}
				continue
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

// readRichText collects the text of every t element below the element whose
// start token was just consumed.
func readRichText(d *xml.Decoder) (string, error) {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			return sb.String(), err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				if err := readElementText(d, &sb); err != nil {
					return sb.String(), err
				}
			case "rPh":
				if err := d.Skip(); err != nil {
					return sb.String(), err
				}
			default:
				depth++
			}
		case xml.EndElement:
			depth--
		}
	}
	return sb.String(), nil
}

func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
