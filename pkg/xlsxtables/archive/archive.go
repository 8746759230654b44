// Package archive reads the central directory of a ZIP package and extracts
// stored or deflated entries. It is deliberately small: no writing, no
// per-entry encryption, no multi-disk archives.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrNotArchive indicates that no end-of-central-directory record was found.
	ErrNotArchive = errors.New("not a zip archive")
	// ErrUnsupported indicates an entry that uses a feature this reader does not implement.
	ErrUnsupported = errors.New("unsupported zip feature")
	// ErrCorrupt indicates inconsistent directory structures.
	ErrCorrupt = errors.New("corrupt zip archive")
)

const (
	sigEndOfCentralDir   = 0x06054b50
	sigZip64Locator      = 0x07064b50
	sigZip64EndOfCentral = 0x06064b50
	sigCentralDir        = 0x02014b50
	sigLocalHeader       = 0x04034b50

	lenEndOfCentralDir = 22
	lenZip64Locator    = 20
	lenCentralDir      = 46
	lenLocalHeader     = 30
	maxCommentLen      = 0xFFFF

	zip64ExtraID = 0x0001

	flagEncrypted = 0x0001
	flagUTF8      = 0x0800
)

// Compression methods.
const (
	Store   uint16 = 0
	Deflate uint16 = 8
)

// Reader gives access to the entries of a ZIP package.
type Reader struct {
	r         io.ReaderAt
	size      int64
	dirOffset int64

	once    sync.Once
	entries []*Entry
	byName  map[string]*Entry
	err     error
}

// Open locates the end-of-central-directory record of r. It returns
// ErrNotArchive when r does not end like a ZIP package.
func Open(r io.ReaderAt, size int64) (*Reader, error) {
	off, err := findDirectory(r, size)
	if err != nil {
		return nil, err
	}
	return &Reader{r: r, size: size, dirOffset: off}, nil
}

// findDirectory scans the tail of the stream backwards for the
// end-of-central-directory record. A candidate is accepted only when its
// comment-length field matches the distance to the end of the stream.
func findDirectory(r io.ReaderAt, size int64) (int64, error) {
	if size < lenEndOfCentralDir {
		return 0, ErrNotArchive
	}
	tailLen := int64(maxCommentLen + lenEndOfCentralDir)
	if tailLen > size {
		tailLen = size
	}
	tail := make([]byte, tailLen)
	if _, err := r.ReadAt(tail, size-tailLen); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("read zip tail: %w", err)
	}
	for pos := len(tail) - lenEndOfCentralDir; pos >= 0; pos-- {
		if binary.LittleEndian.Uint32(tail[pos:]) != sigEndOfCentralDir {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(tail[pos+20:]))
		if pos+lenEndOfCentralDir+commentLen != len(tail) {
			continue
		}
		off := int64(binary.LittleEndian.Uint32(tail[pos+16:]))
		if off == 0xFFFFFFFF {
			eocd := size - tailLen + int64(pos)
			return findZip64Directory(r, eocd)
		}
		if off >= size {
			return 0, fmt.Errorf("%w: directory offset %d beyond end of stream", ErrCorrupt, off)
		}
		return off, nil
	}
	return 0, ErrNotArchive
}

func findZip64Directory(r io.ReaderAt, eocd int64) (int64, error) {
	if eocd < lenZip64Locator {
		return 0, fmt.Errorf("%w: missing zip64 locator", ErrCorrupt)
	}
	loc := make([]byte, lenZip64Locator)
	if _, err := r.ReadAt(loc, eocd-lenZip64Locator); err != nil {
		return 0, fmt.Errorf("read zip64 locator: %w", err)
	}
	if binary.LittleEndian.Uint32(loc) != sigZip64Locator {
		return 0, fmt.Errorf("%w: bad zip64 locator signature", ErrCorrupt)
	}
	recOff := int64(binary.LittleEndian.Uint64(loc[8:]))
	rec := make([]byte, 56)
	if _, err := r.ReadAt(rec, recOff); err != nil {
		return 0, fmt.Errorf("read zip64 directory record: %w", err)
	}
	if binary.LittleEndian.Uint32(rec) != sigZip64EndOfCentral {
		return 0, fmt.Errorf("%w: bad zip64 directory record signature", ErrCorrupt)
	}
	return int64(binary.LittleEndian.Uint64(rec[48:])), nil
}

// Entries returns every entry of the central directory in directory order.
// The directory is walked on first use.
func (z *Reader) Entries() ([]*Entry, error) {
	z.once.Do(func() {
		z.entries, z.err = z.readDirectory()
		z.byName = make(map[string]*Entry, len(z.entries))
		for _, e := range z.entries {
			if _, dup := z.byName[e.Name]; !dup {
				z.byName[e.Name] = e
			}
		}
	})
	return z.entries, z.err
}

// Lookup returns the entry with the given name, or nil.
func (z *Reader) Lookup(name string) *Entry {
	if _, err := z.Entries(); err != nil {
		return nil
	}
	return z.byName[name]
}

// readDirectory follows the chain of central-directory records until a
// record signature no longer matches.
func (z *Reader) readDirectory() ([]*Entry, error) {
	var entries []*Entry
	off := z.dirOffset
	hdr := make([]byte, lenCentralDir)
	for off+lenCentralDir <= z.size {
		if _, err := z.r.ReadAt(hdr, off); err != nil {
			return entries, fmt.Errorf("read central directory at %d: %w", off, err)
		}
		if binary.LittleEndian.Uint32(hdr) != sigCentralDir {
			break
		}
		nameLen := int64(binary.LittleEndian.Uint16(hdr[28:]))
		extraLen := int64(binary.LittleEndian.Uint16(hdr[30:]))
		commentLen := int64(binary.LittleEndian.Uint16(hdr[32:]))

		vars := make([]byte, nameLen+extraLen)
		if _, err := z.r.ReadAt(vars, off+lenCentralDir); err != nil {
			return entries, fmt.Errorf("read central directory at %d: %w", off, err)
		}
		e := &Entry{
			Flags:            binary.LittleEndian.Uint16(hdr[8:]),
			Method:           binary.LittleEndian.Uint16(hdr[10:]),
			CRC32:            binary.LittleEndian.Uint32(hdr[16:]),
			CompressedSize:   int64(binary.LittleEndian.Uint32(hdr[20:])),
			UncompressedSize: int64(binary.LittleEndian.Uint32(hdr[24:])),
			headerOffset:     int64(binary.LittleEndian.Uint32(hdr[42:])),
			z:                z,
		}
		e.Name = decodeName(vars[:nameLen], e.Flags)
		if err := e.applyZip64(vars[nameLen:]); err != nil {
			return entries, err
		}
		entries = append(entries, e)

		off += lenCentralDir + nameLen + extraLen + commentLen
	}
	return entries, nil
}

func decodeName(raw []byte, flags uint16) string {
	if flags&flagUTF8 != 0 {
		return string(raw)
	}
	ascii := true
	for _, b := range raw {
		if b >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(raw)
	}
	name, err := charmap.CodePage437.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(name)
}
