package xlsxtables

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/archive"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/binder"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/table"
)

type sheetSpec struct {
	name     string
	cells    map[string]any
	comments map[string]string
}

func buildWorkbook(t *testing.T, sheets ...sheetSpec) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, sh := range sheets {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", sh.name))
		} else {
			_, err := f.NewSheet(sh.name)
			require.NoError(t, err)
		}
		for ref, v := range sh.cells {
			require.NoError(t, f.SetCellValue(sh.name, ref, v))
		}
		for ref, text := range sh.comments {
			require.NoError(t, f.AddComment(sh.name, excelize.Comment{Cell: ref, Author: "tester", Text: text}))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

const itemsLayout = "[[items\n[A2]id:string\n[B2]value:number\n]]D1"

func itemsSheet() sheetSpec {
	return sheetSpec{
		name: "Data",
		cells: map[string]any{
			"A2": "a", "B2": 1,
			"A3": "b", "B3": 2.5,
			"A4": "c",
		},
		comments: map[string]string{"D1": itemsLayout},
	}
}

func memoryOptions(files MemoryLoader) Options {
	opts := DefaultOptions()
	opts.Loader = files
	return opts
}

func TestExtract_EndToEnd(t *testing.T) {
	files := MemoryLoader{"book.xlsx": buildWorkbook(t, itemsSheet())}

	res, err := Extract(context.Background(), memoryOptions(files), NewRequest("book.xlsx"))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.SessionID)
	assert.Empty(t, res.Failures)

	ds := res.DataSet
	assert.Equal(t, []string{"items"}, ds.Names())
	tbl := ds.Get("items")
	require.NotNil(t, tbl)
	assert.Equal(t, 3, tbl.RowCount())
	assert.False(t, tbl.Valid())
	require.Len(t, tbl.Errors(), 1)
	assert.Equal(t, "B4", tbl.Errors()[0].Cell.A1())
	assert.Equal(t, "A2:B4", tbl.Range())

	for row, want := range []string{"a", "b", "c"} {
		id, err := table.CellValue[string](tbl, row, 0)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	v, err := table.CellValue[float64](tbl, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
	v, err = table.CellValue[float64](tbl, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
	missing, err := tbl.Value(2, 1)
	require.NoError(t, err)
	assert.Nil(t, missing)

	origin := tbl.Schema()
	assert.Equal(t, "book.xlsx", origin.Workbook)
	assert.Equal(t, "Data", origin.SheetName)
	assert.Equal(t, "D1", origin.Cell.A1())

	assert.Equal(t, []string{"book.xlsx(Data,B4,items): cell must not be empty"}, res.Report.Lines())
}

func TestExtract_BindsRows(t *testing.T) {
	type item struct {
		ID    string  `xlsx:"id"`
		Value float64 `xlsx:"value"`
	}
	sheet := itemsSheet()
	sheet.cells["B4"] = 0
	files := MemoryLoader{"book.xlsx": buildWorkbook(t, sheet)}
	res, err := Extract(context.Background(), memoryOptions(files), NewRequest("book.xlsx"))
	require.NoError(t, err)
	require.True(t, res.Report.Empty(), res.Report.String())

	var items []item
	warnings, err := binder.Populate(res.DataSet.Get("items"), &items)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, []item{{"a", 1}, {"b", 2.5}, {"c", 0}}, items)
}

func TestExtract_BindRejectsInvalidTable(t *testing.T) {
	type item struct {
		ID    string  `xlsx:"id"`
		Value float64 `xlsx:"value"`
	}
	files := MemoryLoader{"book.xlsx": buildWorkbook(t, itemsSheet())}
	res, err := Extract(context.Background(), memoryOptions(files), NewRequest("book.xlsx"))
	require.NoError(t, err)

	tbl := res.DataSet.Get("items")
	require.NotNil(t, tbl)
	require.False(t, tbl.Valid())
	var items []item
	_, err = binder.Populate(tbl, &items)
	assert.ErrorIs(t, err, binder.ErrInvalidTable)
	assert.Empty(t, items)
}

func TestExtract_Converter(t *testing.T) {
	type point struct{ X, Y int }
	data := buildWorkbook(t, sheetSpec{
		name:     "Data",
		cells:    map[string]any{"A2": "1,2", "A3": "oops"},
		comments: map[string]string{"C1": "[[points\n[A2]p:point\n]]D1"},
	})
	conv := table.ConverterFuncs{From: func(typ, text string) (any, error) {
		var p point
		if _, err := fmt.Sscanf(text, "%d,%d", &p.X, &p.Y); err != nil {
			return nil, errors.New("not a point")
		}
		return p, nil
	}}
	req := NewRequest("points.xlsx").WithConverter(conv)
	res, err := Extract(context.Background(), memoryOptions(MemoryLoader{"points.xlsx": data}), req)
	require.NoError(t, err)

	tbl := res.DataSet.Get("points")
	require.NotNil(t, tbl)
	require.Equal(t, 2, tbl.RowCount())
	p, err := table.CellValue[point](tbl, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, point{1, 2}, p)
	assert.Equal(t, []string{"points.xlsx(Data,A3,points): not a point"}, res.Report.Lines())
}

func TestExtract_Encrypted(t *testing.T) {
	plain := buildWorkbook(t, itemsSheet())
	enc, err := excelize.Encrypt(plain, &excelize.Options{Password: "secret"})
	require.NoError(t, err)
	files := MemoryLoader{"enc.xlsx": enc}

	res, err := Extract(context.Background(), memoryOptions(files),
		NewRequest("enc.xlsx"),
		NewRequest("enc.xlsx").WithPassword("wrong"),
	)
	require.NoError(t, err)
	require.Len(t, res.Failures, 2)
	assert.ErrorIs(t, res.Failures[0], ErrPasswordRequired)
	assert.ErrorIs(t, res.Failures[1], ErrPasswordIncorrect)
	assert.Equal(t, []string{
		"enc.xlsx(requests[0]): password required",
		"enc.xlsx(requests[1]): password incorrect",
	}, res.Report.Lines())
	assert.Zero(t, res.DataSet.Len())

	res, err = Extract(context.Background(), memoryOptions(files), NewRequest("enc.xlsx").WithPassword("secret"))
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	tbl := res.DataSet.Get("items")
	require.NotNil(t, tbl)
	assert.Equal(t, 3, tbl.RowCount())
}

func TestExtract_LoadFailures(t *testing.T) {
	files := MemoryLoader{"junk.xlsx": []byte("definitely not a workbook")}
	res, err := Extract(context.Background(), memoryOptions(files),
		NewRequest("missing.xlsx"),
		NewRequest("junk.xlsx"),
		NewRequest("junk.xlsx").WithPassword("pw"),
	)
	require.NoError(t, err)
	require.Len(t, res.Failures, 3)

	assert.ErrorIs(t, res.Failures[0], ErrLoad)
	assert.ErrorIs(t, res.Failures[0], ErrFileNotFound)
	assert.ErrorIs(t, res.Failures[1], ErrFormat)
	assert.ErrorIs(t, res.Failures[2], ErrFormat)

	lines := res.Report.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, "missing.xlsx(requests[0]): file not found", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "junk.xlsx(requests[1]): invalid xlsx stream: "), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "junk.xlsx(requests[2]): invalid xlsx stream"), lines[2])
}

func TestExtract_CorruptZip64Directory(t *testing.T) {
	zip64 := []byte{0x01, 0x00, 0x08, 0x00, 0, 0, 0, 0, 0, 0, 0, 0x80}
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, err := w.CreateHeader(&zip.FileHeader{Name: "xl/workbook.xml", Method: zip.Store, Extra: zip64})
	require.NoError(t, err)
	_, err = fw.Write([]byte("<workbook/>"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	data := buf.Bytes()
	dir := bytes.LastIndex(data, []byte{'P', 'K', 1, 2})
	require.Positive(t, dir)
	copy(data[dir+24:], []byte{0xFF, 0xFF, 0xFF, 0xFF})

	files := MemoryLoader{"forged.xlsx": data, "book.xlsx": buildWorkbook(t, itemsSheet())}
	res, err := Extract(context.Background(), memoryOptions(files), NewRequest("forged.xlsx"), NewRequest("book.xlsx"))
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 0, res.Failures[0].Index)
	assert.ErrorIs(t, res.Failures[0], ErrFormat)
	assert.ErrorIs(t, res.Failures[0], archive.ErrCorrupt)
	assert.NotNil(t, res.DataSet.Get("items"))
}

func TestExtract_NameCollision(t *testing.T) {
	data := buildWorkbook(t, itemsSheet())
	files := MemoryLoader{"a.xlsx": data, "b.xlsx": data}

	res, err := Extract(context.Background(), memoryOptions(files), NewRequest("a.xlsx"), NewRequest("b.xlsx"))
	require.NoError(t, err)

	ds := res.DataSet
	assert.Equal(t, 1, ds.Len())
	assert.Equal(t, "a.xlsx", ds.Get("items").Schema().Workbook)

	errored := ds.ErroredSchemas()
	require.Len(t, errored, 1)
	assert.True(t, ds.IsDuplicate(errored[0]))
	assert.Same(t, ds.Get("items").Schema(), ds.Original(errored[0]))
	assert.False(t, ds.IsDuplicate(ds.Get("items").Schema()))

	assert.Equal(t, []string{
		"b.xlsx(Data,D1): Table name 'items' is already declared in 'a.xlsx, Data, D1'",
		"a.xlsx(Data,B4,items): cell must not be empty",
	}, res.Report.Lines())
}

func TestExtract_InlineSchemas(t *testing.T) {
	data := buildWorkbook(t,
		sheetSpec{name: "Data", cells: map[string]any{"A2": "x", "A3": "y"}},
		sheetSpec{name: "Empty"},
	)
	req := NewRequest("book.xlsx").
		WithSchema(0, "  [[ids\n[A2]id:string\n]]D1\n  ").
		WithSchema(0, "[[broken\n[A2]id:string").
		WithSchema(1, "[[nothing\n[B2]id:string\n]]D1").
		WithSchema(5, "[[nowhere\n[A1]id:string\n]]D1")

	res, err := Extract(context.Background(), memoryOptions(MemoryLoader{"book.xlsx": data}), req)
	require.NoError(t, err)

	ds := res.DataSet
	assert.Equal(t, []string{"ids", "nothing"}, ds.Names())
	ids := ds.Get("ids")
	require.NotNil(t, ids)
	assert.Equal(t, 2, ids.RowCount())
	assert.Equal(t, "PREDEF1", ids.Schema().Cell.A1())

	nothing := ds.Get("nothing")
	require.NotNil(t, nothing)
	assert.Zero(t, nothing.RowCount())
	assert.Equal(t, "Empty", nothing.Schema().SheetName)
	assert.Equal(t, "PREDEF3", nothing.Schema().Cell.A1())

	assert.Equal(t, []string{"book.xlsx(Data,PREDEF2,2): terminator not found"}, res.Report.Lines())
}

func TestExtract_CommentsAfterInlineSchemas(t *testing.T) {
	data := buildWorkbook(t, itemsSheet())
	req := NewRequest("book.xlsx").WithSchema(0, "[[items\n[A2]name:string\n]]D1")

	res, err := Extract(context.Background(), memoryOptions(MemoryLoader{"book.xlsx": data}), req)
	require.NoError(t, err)

	tbl := res.DataSet.Get("items")
	require.NotNil(t, tbl)
	assert.Equal(t, "PREDEF1", tbl.Schema().Cell.A1())
	assert.Equal(t, 1, tbl.FieldCount())
	assert.Equal(t, []string{
		"book.xlsx(Data,D1): Table name 'items' is already declared in 'book.xlsx, Data, PREDEF1'",
	}, res.Report.Lines())
}

func TestExtract_ProgressIsMonotonic(t *testing.T) {
	files := MemoryLoader{
		"a.xlsx": buildWorkbook(t, itemsSheet()),
		"b.xlsx": buildWorkbook(t, sheetSpec{
			name:     "Other",
			cells:    map[string]any{"A2": "k", "B2": 3},
			comments: map[string]string{"D1": "[[more\n[A2]id:string\n[B2]value:number\n]]D1"},
		}),
	}
	var mu sync.Mutex
	var seen []float64
	opts := memoryOptions(files)
	opts.CellBatch = 1
	opts.Progress = func(p float64) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, p)
	}

	s, err := Start(context.Background(), opts, NewRequest("a.xlsx"), NewRequest("b.xlsx"))
	require.NoError(t, err)
	res, err := s.Wait()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, 2, res.DataSet.Len())
	assert.Equal(t, 1.0, s.Progress())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.True(t, slices.IsSorted(seen), "progress went backwards: %v", seen)
	assert.Equal(t, 1.0, seen[len(seen)-1])
	for _, p := range seen[:len(seen)-1] {
		assert.Less(t, p, 1.0)
	}
}

func blockingLoader(started chan<- struct{}) Loader {
	return LoaderFunc(func(ctx context.Context, locator string) (*Source, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func TestSession_Close(t *testing.T) {
	started := make(chan struct{}, 1)
	opts := DefaultOptions()
	opts.Loader = blockingLoader(started)
	opts.LoadTimeout = 0

	s, err := Start(context.Background(), opts, NewRequest("slow.xlsx"))
	require.NoError(t, err)
	<-started
	assert.Less(t, s.Progress(), 1.0)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	select {
	case <-s.Done():
	default:
		t.Fatal("session still running after Close")
	}
	res, err := s.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestSession_ParentCancel(t *testing.T) {
	started := make(chan struct{}, 1)
	opts := DefaultOptions()
	opts.Loader = blockingLoader(started)
	opts.LoadTimeout = 0

	ctx, cancel := context.WithCancel(context.Background())
	s, err := Start(ctx, opts, NewRequest("slow.xlsx"))
	require.NoError(t, err)
	<-started
	cancel()

	_, err = s.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, s.Close())
}

func TestExtract_LoadTimeout(t *testing.T) {
	started := make(chan struct{}, 1)
	opts := DefaultOptions()
	opts.Loader = blockingLoader(started)
	opts.LoadTimeout = 20 * time.Millisecond

	res, err := Extract(context.Background(), opts, NewRequest("slow.xlsx"))
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0], ErrLoad)
	assert.ErrorIs(t, res.Failures[0], context.DeadlineExceeded)
}

func TestStart_InvalidRequests(t *testing.T) {
	_, err := Start(context.Background(), DefaultOptions(),
		NewRequest("ok.xlsx"),
		nil,
		NewRequest(""),
		NewRequest("neg.xlsx").WithSchema(-1, "[[t\n[A1]a:string\n]]D1"),
	)
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "requests[1]: locator must not be empty")
	assert.Contains(t, err.Error(), "requests[2]: locator must not be empty")
	assert.Contains(t, err.Error(), "requests[3]: sheet index -1 is negative")
	assert.NotContains(t, err.Error(), "requests[0]")
}

func TestExtract_NoRequests(t *testing.T) {
	res, err := Extract(context.Background(), DefaultOptions())
	require.NoError(t, err)
	assert.Zero(t, res.DataSet.Len())
	assert.True(t, res.Report.Empty())
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	data := buildWorkbook(t, itemsSheet())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "book.xlsx"), data, 0o644))

	l := FileLoader{Dir: dir}
	src, err := l.Load(context.Background(), "file://book.xlsx")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), src.Size)
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	_, err = l.Load(context.Background(), "absent.xlsx")
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = FileLoader{}.Load(context.Background(), dir)
	assert.Error(t, err)

	opts := DefaultOptions()
	opts.Loader = l
	res, err := Extract(context.Background(), opts, NewRequest("book.xlsx"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.DataSet.Len())
}

func TestReportProgress(t *testing.T) {
	var got []float64
	ctx := withProgress(context.Background(), func(p float64) { got = append(got, p) })
	ReportProgress(ctx, 0.5)
	ReportProgress(ctx, 7)
	ReportProgress(context.Background(), 0.9)
	assert.Equal(t, []float64{0.5, 1}, got)
}
