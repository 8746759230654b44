package crypt

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"time"
)

const (
	segmentSize = 4096
	spinChunk   = 1024
)

var (
	blockKeyVerifierInput = []byte{0xFE, 0xA7, 0xD2, 0x76, 0x3B, 0x4B, 0x9E, 0x79}
	blockKeyVerifierValue = []byte{0xD7, 0xAA, 0x0F, 0x6D, 0x30, 0x61, 0x34, 0x4E}
	blockKeyEncryptedKey  = []byte{0x14, 0x6E, 0x0B, 0xE7, 0xAB, 0xAC, 0xD0, 0xD6}
)

// spinner iterates the password hash H(i) = hash(LE32(i) || H(i-1)) in
// resumable chunks.
type spinner struct {
	h    hash.Hash
	cur  []byte
	i, n uint32
	ctr  [4]byte
}

func newSpinner(newHash func() hash.Hash, salt []byte, password string, n uint32) *spinner {
	s := &spinner{h: newHash(), n: n}
	s.h.Write(salt)
	s.h.Write(utf16le(password))
	s.cur = s.h.Sum(nil)
	return s
}

// step runs at most max rounds and reports whether the spin is complete.
func (s *spinner) step(max int) bool {
	for k := 0; k < max && s.i < s.n; k++ {
		binary.LittleEndian.PutUint32(s.ctr[:], s.i)
		s.h.Reset()
		s.h.Write(s.ctr[:])
		s.h.Write(s.cur)
		s.cur = s.h.Sum(s.cur[:0])
		s.i++
	}
	return s.i >= s.n
}

func (s *spinner) done() float64 {
	if s.n == 0 {
		return 1
	}
	return float64(s.i) / float64(s.n)
}

type phase int

const (
	phaseSpin phase = iota
	phaseDecrypt
	phaseDone
)

// Decrypter turns an encrypted container into plaintext package bytes.
// The work is split into steps driven by Advance so that a caller can
// interleave it with other work, publish progress, or abandon it.
type Decrypter struct {
	info     *EncryptionInfo
	pkg      []byte
	password string

	phase   phase
	spin    *spinner
	decrypt func(seg int, src []byte) ([]byte, error)

	size     uint64
	segments int
	seg      int
	out      []byte
	err      error
}

// NewDecrypter reads the container streams of r and validates the
// descriptor. Version and algorithm problems are reported here, before any
// key derivation work.
func NewDecrypter(r io.ReaderAt, password string) (*Decrypter, error) {
	c, err := OpenContainer(r)
	if err != nil {
		return nil, err
	}
	return NewContainerDecrypter(c, password)
}

// NewContainerDecrypter is like NewDecrypter for already extracted streams.
func NewContainerDecrypter(c *Container, password string) (*Decrypter, error) {
	info, err := ParseEncryptionInfo(c.EncryptionInfo)
	if err != nil {
		return nil, err
	}
	if len(c.EncryptedPackage) < 8 {
		return nil, fmt.Errorf("%w: EncryptedPackage is %d bytes", ErrCorrupt, len(c.EncryptedPackage))
	}
	d := &Decrypter{info: info, pkg: c.EncryptedPackage, password: password}
	d.size = binary.LittleEndian.Uint64(d.pkg)
	body := len(d.pkg) - 8
	d.segments = (body + segmentSize - 1) / segmentSize

	switch info.Version {
	case VersionStandard:
		d.spin = newSpinner(hashAlgorithms["SHA1"], info.Standard.Salt, password, standardSpinCount)
	case VersionAgile:
		pk := info.Agile.PasswordKey
		newHash, _ := lookupHash(pk.HashAlgorithm)
		salt, err := decodeBase64("saltValue", pk.SaltValue)
		if err != nil {
			return nil, err
		}
		d.spin = newSpinner(newHash, salt, password, uint32(pk.SpinCount))
	}
	return d, nil
}

// Version returns the encryption scheme of the container.
func (d *Decrypter) Version() Version {
	return d.info.Version
}

// Advance performs work for roughly budget and reports whether decryption
// has finished. A non-positive budget runs to completion. Once an error is
// returned the decrypter stays failed.
func (d *Decrypter) Advance(budget time.Duration) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	start := time.Now()
	expired := func() bool { return budget > 0 && time.Since(start) >= budget }
	for d.phase != phaseDone {
		switch d.phase {
		case phaseSpin:
			if d.spin.step(spinChunk) {
				if err := d.verify(); err != nil {
					d.err = err
					return false, err
				}
				d.out = make([]byte, 0, len(d.pkg)-8)
				d.phase = phaseDecrypt
			}
		case phaseDecrypt:
			if d.seg >= d.segments {
				if d.size < uint64(len(d.out)) {
					d.out = d.out[:d.size]
				}
				d.phase = phaseDone
				break
			}
			lo := 8 + d.seg*segmentSize
			hi := min(lo+segmentSize, len(d.pkg))
			plain, err := d.decrypt(d.seg, d.pkg[lo:hi])
			if err != nil {
				d.err = err
				return false, err
			}
			d.out = append(d.out, plain...)
			d.seg++
		}
		if d.phase != phaseDone && expired() {
			return false, nil
		}
	}
	return true, nil
}

// Progress estimates completion in [0,1]; the spin dominates the cost.
func (d *Decrypter) Progress() float64 {
	if d.phase == phaseDone {
		return 1
	}
	p := 0.8 * d.spin.done()
	if d.segments > 0 {
		p += 0.2 * float64(d.seg) / float64(d.segments)
	}
	return p
}

// Result returns the plaintext package once Advance reported completion.
func (d *Decrypter) Result() []byte {
	if d.phase != phaseDone {
		return nil
	}
	return d.out
}

func (d *Decrypter) verify() error {
	switch d.info.Version {
	case VersionStandard:
		return d.verifyStandard()
	case VersionAgile:
		return d.verifyAgile()
	}
	return ErrUnsupportedEncryption
}

func (d *Decrypter) verifyStandard() error {
	std := d.info.Standard
	sha1New := hashAlgorithms["SHA1"]
	hFinal := hashOf(sha1New, d.spin.cur, le32(0))
	var x1, x2 [64]byte
	for i := range x1 {
		x1[i], x2[i] = 0x36, 0x5C
	}
	for i, b := range hFinal {
		x1[i] ^= b
		x2[i] ^= b
	}
	key := append(hashOf(sha1New, x1[:]), hashOf(sha1New, x2[:])...)[:std.KeyBits/8]

	block, err := newBlock("AES", key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	verifier := decryptECB(block, std.Verifier)
	verifierHash := decryptECB(block, std.VerifierHash)
	sum := hashOf(sha1New, verifier)
	if len(verifierHash) < len(sum) || subtle.ConstantTimeCompare(sum, verifierHash[:len(sum)]) != 1 {
		return ErrPasswordIncorrect
	}
	d.decrypt = func(_ int, src []byte) ([]byte, error) {
		return decryptECB(block, src), nil
	}
	return nil
}

func (d *Decrypter) verifyAgile() error {
	kd, pk := d.info.Agile.KeyData, d.info.Agile.PasswordKey
	pkHash, _ := lookupHash(pk.HashAlgorithm)
	kdHash, _ := lookupHash(kd.HashAlgorithm)

	salt, err := decodeBase64("saltValue", pk.SaltValue)
	if err != nil {
		return err
	}
	iv := resize(salt, pk.BlockSize, 0x36)
	unwrap := func(blockKey []byte, field, value string) ([]byte, error) {
		src, err := decodeBase64(field, value)
		if err != nil {
			return nil, err
		}
		key := resize(hashOf(pkHash, d.spin.cur, blockKey), pk.KeyBits/8, 0x36)
		block, err := newBlock(pk.CipherAlgorithm, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if len(iv) != block.BlockSize() {
			return nil, fmt.Errorf("%w: block size %d", ErrCorrupt, pk.BlockSize)
		}
		return decryptBlocks(block, pk.CipherChaining, iv, src), nil
	}

	input, err := unwrap(blockKeyVerifierInput, "encryptedVerifierHashInput", pk.EncryptedVerifierHashInput)
	if err != nil {
		return err
	}
	value, err := unwrap(blockKeyVerifierValue, "encryptedVerifierHashValue", pk.EncryptedVerifierHashValue)
	if err != nil {
		return err
	}
	sum := hashOf(pkHash, input)
	if len(value) < len(sum) || subtle.ConstantTimeCompare(sum, value[:len(sum)]) != 1 {
		return ErrPasswordIncorrect
	}

	wrapped, err := unwrap(blockKeyEncryptedKey, "encryptedKeyValue", pk.EncryptedKeyValue)
	if err != nil {
		return err
	}
	if len(wrapped) < kd.KeyBits/8 {
		return fmt.Errorf("%w: data key is %d bytes", ErrCorrupt, len(wrapped))
	}
	block, err := newBlock(kd.CipherAlgorithm, wrapped[:kd.KeyBits/8])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if kd.BlockSize != block.BlockSize() {
		return fmt.Errorf("%w: key data block size %d", ErrCorrupt, kd.BlockSize)
	}
	kdSalt, err := decodeBase64("keyData saltValue", kd.SaltValue)
	if err != nil {
		return err
	}
	d.decrypt = func(seg int, src []byte) ([]byte, error) {
		segIV := resize(hashOf(kdHash, kdSalt, le32(uint32(seg))), kd.BlockSize, 0x36)
		return decryptBlocks(block, kd.CipherChaining, segIV, src), nil
	}
	return nil
}

// Decrypt runs a Decrypter to completion, checking ctx between slices.
func Decrypt(ctx context.Context, r io.ReaderAt, password string) ([]byte, error) {
	d, err := NewDecrypter(r, password)
	if err != nil {
		return nil, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		done, err := d.Advance(20 * time.Millisecond)
		if err != nil {
			return nil, err
		}
		if done {
			return d.Result(), nil
		}
	}
}
