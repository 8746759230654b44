package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/flate"
)

// maxSizeHint bounds the buffer preallocated from a declared entry size.
const maxSizeHint = 64 << 20

// Entry is one file of the archive.
type Entry struct {
	Name             string
	Flags            uint16
	Method           uint16
	CRC32            uint32
	CompressedSize   int64
	UncompressedSize int64

	headerOffset int64
	dataOffset   int64
	z            *Reader
}

// Encrypted reports whether the entry carries the per-entry encryption flag.
func (e *Entry) Encrypted() bool {
	return e.Flags&flagEncrypted != 0
}

// applyZip64 replaces saturated 32-bit fields with the values of the
// ZIP64 extended information field, which stores only the saturated ones,
// in the order uncompressed size, compressed size, header offset.
func (e *Entry) applyZip64(extra []byte) error {
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra)
		size := int(binary.LittleEndian.Uint16(extra[2:]))
		extra = extra[4:]
		if size > len(extra) {
			return nil
		}
		field := extra[:size]
		extra = extra[size:]
		if id != zip64ExtraID {
			continue
		}
		var err error
		next := func(v *int64, what string) {
			if err != nil || *v != 0xFFFFFFFF || len(field) < 8 {
				return
			}
			n := binary.LittleEndian.Uint64(field)
			field = field[8:]
			if n > math.MaxInt64 {
				err = fmt.Errorf("%w: zip64 %s of %s out of range", ErrCorrupt, what, e.Name)
				return
			}
			*v = int64(n)
		}
		next(&e.UncompressedSize, "uncompressed size")
		next(&e.CompressedSize, "compressed size")
		next(&e.headerOffset, "header offset")
		return err
	}
	return nil
}

// DataOffset returns the position of the entry's data, reading the local
// file header on first use.
func (e *Entry) DataOffset() (int64, error) {
	if e.dataOffset > 0 {
		return e.dataOffset, nil
	}
	hdr := make([]byte, lenLocalHeader)
	if _, err := e.z.r.ReadAt(hdr, e.headerOffset); err != nil {
		return 0, fmt.Errorf("read local header of %s: %w", e.Name, err)
	}
	if binary.LittleEndian.Uint32(hdr) != sigLocalHeader {
		return 0, fmt.Errorf("%w: bad local header signature for %s", ErrCorrupt, e.Name)
	}
	nameLen := int64(binary.LittleEndian.Uint16(hdr[26:]))
	extraLen := int64(binary.LittleEndian.Uint16(hdr[28:]))
	e.dataOffset = e.headerOffset + lenLocalHeader + nameLen + extraLen
	return e.dataOffset, nil
}

// Open returns a reader over the entry's uncompressed bytes.
func (e *Entry) Open() (io.ReadCloser, error) {
	if e.Encrypted() {
		return nil, fmt.Errorf("%w: %s is encrypted", ErrUnsupported, e.Name)
	}
	off, err := e.DataOffset()
	if err != nil {
		return nil, err
	}
	if e.CompressedSize < 0 || e.CompressedSize > e.z.size-off {
		return nil, fmt.Errorf("%w: %s extends beyond end of stream", ErrCorrupt, e.Name)
	}
	raw := io.NewSectionReader(e.z.r, off, e.CompressedSize)
	switch e.Method {
	case Store:
		return io.NopCloser(raw), nil
	case Deflate:
		return flate.NewReader(raw), nil
	default:
		return nil, fmt.Errorf("%w: %s uses compression method %d", ErrUnsupported, e.Name, e.Method)
	}
}

// ReadAll extracts the whole entry into memory.
func (e *Entry) ReadAll() ([]byte, error) {
	rc, err := e.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	buf.Grow(int(max(min(e.UncompressedSize, maxSizeHint), 0)))
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("extract %s: %w", e.Name, err)
	}
	return buf.Bytes(), nil
}
