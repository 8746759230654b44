// Package crypt opens password-protected workbooks: an OLE compound file
// holding an EncryptionInfo descriptor and an EncryptedPackage stream, as
// written for ECMA-376 Standard and Agile encryption.
package crypt

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/richardlehane/mscfb"
)

var (
	// ErrNotCompoundFile indicates a stream without the compound-file signature.
	ErrNotCompoundFile = errors.New("not a compound file")
	// ErrNoEncryptionInfo indicates a compound file without the encryption streams.
	ErrNoEncryptionInfo = errors.New("encryption streams not found")
	// ErrUnsupportedEncryption indicates an Extensible or unknown encryption version.
	ErrUnsupportedEncryption = errors.New("unsupported encryption")
	// ErrUnsupportedAlgorithm indicates a hash or cipher outside the supported set.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	// ErrPasswordIncorrect indicates that the password did not verify.
	ErrPasswordIncorrect = errors.New("password incorrect")
	// ErrCorrupt indicates truncated or inconsistent encryption structures.
	ErrCorrupt = errors.New("corrupt encryption data")
)

const (
	streamEncryptionInfo   = "EncryptionInfo"
	streamEncryptedPackage = "EncryptedPackage"
)

var signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// IsCompoundFile reports whether r starts with the compound-file signature.
func IsCompoundFile(r io.ReaderAt) bool {
	head := make([]byte, len(signature))
	if _, err := r.ReadAt(head, 0); err != nil {
		return false
	}
	return bytes.Equal(head, signature)
}

// IsEncrypted reports whether r is a compound file whose directory holds an
// EncryptionInfo stream. The descriptor's version is not inspected, so an
// Extensible container is reported as encrypted and fails later in Decrypt.
func IsEncrypted(r io.ReaderAt) bool {
	if !IsCompoundFile(r) {
		return false
	}
	doc, err := mscfb.New(r)
	if err != nil {
		return false
	}
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if entry.Name == streamEncryptionInfo {
			return true
		}
	}
	return false
}

// Container holds the two streams of an encrypted workbook.
type Container struct {
	EncryptionInfo   []byte
	EncryptedPackage []byte
}

// OpenContainer walks the compound-file directory of r and reads the
// EncryptionInfo and EncryptedPackage streams.
func OpenContainer(r io.ReaderAt) (*Container, error) {
	if !IsCompoundFile(r) {
		return nil, ErrNotCompoundFile
	}
	doc, err := mscfb.New(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCompoundFile, err)
	}
	c := &Container{}
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		var dst *[]byte
		switch entry.Name {
		case streamEncryptionInfo:
			dst = &c.EncryptionInfo
		case streamEncryptedPackage:
			dst = &c.EncryptedPackage
		default:
			continue
		}
		if entry.Size < 0 {
			return nil, fmt.Errorf("%w: negative size for %s", ErrCorrupt, entry.Name)
		}
		buf := make([]byte, entry.Size)
		if _, err := io.ReadFull(entry, buf); err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name, err)
		}
		*dst = buf
	}
	if c.EncryptionInfo == nil || c.EncryptedPackage == nil {
		return nil, ErrNoEncryptionInfo
	}
	return c, nil
}
