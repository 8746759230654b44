package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables"
)

// seedFile lists layouts supplied on the command line instead of as cell
// comments:
//
//	schemas:
//	  - workbook: "*.xlsx"
//	    sheet: 0
//	    text: |
//	      [[items
//	      [A2]id:string
//	      ]]D1
type seedFile struct {
	Schemas []seed `yaml:"schemas"`
}

type seed struct {
	// Workbook is a filepath.Match pattern tested against the locator and
	// its base name. Empty matches every workbook.
	Workbook string `yaml:"workbook"`
	Sheet    int    `yaml:"sheet"`
	Text     string `yaml:"text"`
}

func loadSeeds(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, s := range f.Schemas {
		if s.Sheet < 0 {
			return nil, fmt.Errorf("schemas[%d]: sheet must not be negative", i)
		}
		if _, err := filepath.Match(s.Workbook, ""); err != nil {
			return nil, fmt.Errorf("schemas[%d]: workbook pattern: %w", i, err)
		}
	}
	return &f, nil
}

func (s seed) matches(locator string) bool {
	if s.Workbook == "" {
		return true
	}
	for _, name := range []string{locator, filepath.Base(locator)} {
		if ok, _ := filepath.Match(s.Workbook, name); ok {
			return true
		}
	}
	return false
}

// apply adds every matching layout to req in file order.
func (f *seedFile) apply(req *xlsxtables.Request) *xlsxtables.Request {
	if f == nil {
		return req
	}
	for _, s := range f.Schemas {
		if s.matches(req.Locator()) {
			req = req.WithSchema(s.Sheet, s.Text)
		}
	}
	return req
}
