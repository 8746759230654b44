package xlsxtables

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Source is a loaded workbook stream.
type Source struct {
	io.ReaderAt
	Size int64
	// Closer, when set, is closed once the session no longer needs the stream.
	Closer io.Closer
}

// BytesSource wraps an in-memory workbook.
func BytesSource(b []byte) *Source {
	return &Source{ReaderAt: bytes.NewReader(b), Size: int64(len(b))}
}

// Close releases the stream.
func (s *Source) Close() error {
	if s == nil || s.Closer == nil {
		return nil
	}
	err := s.Closer.Close()
	s.Closer = nil
	return err
}

// Loader supplies the stream named by a request locator. Implementations
// may call ReportProgress with ctx while loading.
type Loader interface {
	Load(ctx context.Context, locator string) (*Source, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, locator string) (*Source, error)

func (f LoaderFunc) Load(ctx context.Context, locator string) (*Source, error) {
	return f(ctx, locator)
}

// FileLoader reads workbooks from the file system. Locators are paths,
// optionally prefixed with "file://", resolved against Dir when relative.
type FileLoader struct {
	Dir string
}

func (l FileLoader) Load(ctx context.Context, locator string) (*Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(locator, "file://")
	if l.Dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(l.Dir, path)
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", locator)
	}
	ReportProgress(ctx, 1)
	return &Source{ReaderAt: f, Size: st.Size(), Closer: f}, nil
}

// MemoryLoader serves workbooks held in memory, keyed by locator.
type MemoryLoader map[string][]byte

func (m MemoryLoader) Load(ctx context.Context, locator string) (*Source, error) {
	b, ok := m[locator]
	if !ok {
		return nil, ErrFileNotFound
	}
	return BytesSource(b), nil
}

type progressKey struct{}

// ReportProgress publishes the load fraction of the request ctx belongs to.
// Outside a session load it does nothing.
func ReportProgress(ctx context.Context, fraction float64) {
	if fn, ok := ctx.Value(progressKey{}).(func(float64)); ok {
		fn(min(1, max(0, fraction)))
	}
}

func withProgress(ctx context.Context, fn func(float64)) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}
