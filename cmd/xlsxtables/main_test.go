package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/models"
)

func writeWorkbook(t *testing.T, dir, name string, comment bool) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", "Data"))
	for ref, v := range map[string]any{"A2": "a", "B2": 1, "A3": "b", "B3": 2} {
		require.NoError(t, f.SetCellValue("Data", ref, v))
	}
	if comment {
		require.NoError(t, f.AddComment("Data", excelize.Comment{
			Cell: "D1", Author: "tester", Text: "[[items\n[A2]id:string\n[B2]value:number\n]]D1",
		}))
	}
	path := filepath.Join(dir, name)
	require.NoError(t, f.SaveAs(path))
	return path
}

func execute(t *testing.T, stdin []byte, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("XLSXTABLES_LOG_LEVEL", "error")
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(bytes.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func decode(t *testing.T, data string) models.WorkbookTables {
	t.Helper()
	var out models.WorkbookTables
	require.NoError(t, json.Unmarshal([]byte(data), &out))
	return out
}

func TestExtractCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkbook(t, dir, "book.xlsx", true)

	stdout, stderr, err := execute(t, nil, "extract", path)
	require.NoError(t, err)
	assert.Empty(t, stderr)

	out := decode(t, stdout)
	require.Len(t, out.Tables, 1)
	assert.Equal(t, "items", out.Tables[0].Name)
	assert.Len(t, out.Tables[0].Rows, 2)
	assert.Empty(t, out.Report)
}

func TestExtractCommand_OutputFileAndYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkbook(t, dir, "book.xlsx", true)
	dest := filepath.Join(dir, "out.yaml")

	stdout, _, err := execute(t, nil, "extract", path, "--format", "yaml", "-o", dest)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: items")
}

func TestExtractCommand_Seeds(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkbook(t, dir, "plain.xlsx", false)
	seeds := filepath.Join(dir, "seeds.yaml")
	require.NoError(t, os.WriteFile(seeds, []byte(`schemas:
  - workbook: "plain.*"
    sheet: 0
    text: |
      [[ids
      [A2]id:string
      ]]D1
  - workbook: "other.xlsx"
    text: |
      [[skipped
      [A2]id:string
      ]]D1
`), 0o644))

	stdout, _, err := execute(t, nil, "extract", path, "--schemas", seeds)
	require.NoError(t, err)
	out := decode(t, stdout)
	require.Len(t, out.Tables, 1)
	assert.Equal(t, "ids", out.Tables[0].Name)
	assert.Equal(t, "PREDEF1", out.Tables[0].Anchor)
}

func TestExtractCommand_Stdin(t *testing.T) {
	dir := t.TempDir()
	data, err := os.ReadFile(writeWorkbook(t, dir, "book.xlsx", true))
	require.NoError(t, err)

	stdout, _, err := execute(t, data, "extract", "-", "--pretty")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "{\n"))
	out := decode(t, stdout)
	require.Len(t, out.Tables, 1)
	assert.Equal(t, "-", out.Tables[0].Workbook)
}

func TestExtractCommand_Problems(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.xlsx")

	stdout, stderr, err := execute(t, nil, "extract", missing)
	require.NoError(t, err)
	assert.Equal(t, missing+"(requests[0]): file not found\n", stderr)
	assert.Empty(t, decode(t, stdout).Tables)

	_, _, err = execute(t, nil, "extract", missing, "--strict")
	assert.Error(t, err)

	_, _, err = execute(t, nil, "extract", missing, "--format", "xml")
	assert.Error(t, err)

	_, _, err = execute(t, nil, "extract")
	assert.Error(t, err)
}

func TestSeeds(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("schemas:\n  - sheet: -1\n    text: x\n"), 0o644))
	_, err := loadSeeds(bad)
	assert.Error(t, err)

	pattern := filepath.Join(dir, "pattern.yaml")
	require.NoError(t, os.WriteFile(pattern, []byte("schemas:\n  - workbook: \"[\"\n"), 0o644))
	_, err = loadSeeds(pattern)
	assert.Error(t, err)

	f := &seedFile{Schemas: []seed{{Text: "[[a"}, {Workbook: "x/*.xlsx", Sheet: 1, Text: "[[b"}}}
	req := f.apply(xlsxtables.NewRequest("x/book.xlsx"))
	assert.Len(t, req.Schemas(), 2)
	req = f.apply(xlsxtables.NewRequest("y/book.xlsx"))
	assert.Len(t, req.Schemas(), 1)

	var none *seedFile
	assert.Empty(t, none.apply(xlsxtables.NewRequest("a.xlsx")).Schemas())
}
