package crypt

import (
	"archive/zip"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/require"
)

// samplePackage returns a small zip package larger than one encryption segment.
func samplePackage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, err := w.CreateHeader(&zip.FileHeader{Name: "xl/workbook.xml", Method: zip.Store})
	require.NoError(t, err)
	_, err = fw.Write([]byte(strings.Repeat("<workbook/>", 700)))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type cfbStream struct {
	name string
	data []byte
}

// buildCompoundFile writes a version 3 compound file holding the given
// streams. Streams shorter than the mini-stream cutoff are not supported.
func buildCompoundFile(t *testing.T, streams ...cfbStream) []byte {
	t.Helper()
	const (
		sectorSize = 512
		perFAT     = sectorSize / 4
		freeSect   = 0xFFFFFFFF
		endOfChain = 0xFFFFFFFE
		fatSect    = 0xFFFFFFFD
		noStream   = 0xFFFFFFFF
	)
	require.Less(t, len(streams), 4)

	counts := make([]int, len(streams))
	total := 1 // directory
	for i, s := range streams {
		require.GreaterOrEqual(t, len(s.data), 4096, "stream %s would live in the mini stream", s.name)
		counts[i] = (len(s.data) + sectorSize - 1) / sectorSize
		total += counts[i]
	}
	nFAT := 1
	for nFAT*perFAT < nFAT+total {
		nFAT++
	}
	require.LessOrEqual(t, nFAT, 109)

	fat := make([]uint32, nFAT*perFAT)
	for i := range fat {
		fat[i] = freeSect
	}
	for i := 0; i < nFAT; i++ {
		fat[i] = fatSect
	}
	dirSector := uint32(nFAT)
	fat[dirSector] = endOfChain
	starts := make([]uint32, len(streams))
	next := dirSector + 1
	for i, n := range counts {
		starts[i] = next
		for k := 0; k < n; k++ {
			fat[next] = next + 1
			next++
		}
		fat[next-1] = endOfChain
	}

	header := make([]byte, sectorSize)
	copy(header, signature)
	binary.LittleEndian.PutUint16(header[24:], 0x3E)
	binary.LittleEndian.PutUint16(header[26:], 3)
	binary.LittleEndian.PutUint16(header[28:], 0xFFFE)
	binary.LittleEndian.PutUint16(header[30:], 9)
	binary.LittleEndian.PutUint16(header[32:], 6)
	binary.LittleEndian.PutUint32(header[44:], uint32(nFAT))
	binary.LittleEndian.PutUint32(header[48:], dirSector)
	binary.LittleEndian.PutUint32(header[56:], 4096)
	binary.LittleEndian.PutUint32(header[60:], endOfChain)
	binary.LittleEndian.PutUint32(header[68:], endOfChain)
	for i := 0; i < 109; i++ {
		v := uint32(freeSect)
		if i < nFAT {
			v = uint32(i)
		}
		binary.LittleEndian.PutUint32(header[76+4*i:], v)
	}

	dir := make([]byte, sectorSize)
	entry := func(idx int, name string, typ byte, right, child, start uint32, size uint64) {
		e := dir[idx*128 : (idx+1)*128]
		u := utf16.Encode([]rune(name))
		for i, c := range u {
			binary.LittleEndian.PutUint16(e[2*i:], c)
		}
		binary.LittleEndian.PutUint16(e[64:], uint16(2*(len(u)+1)))
		e[66] = typ
		e[67] = 1
		binary.LittleEndian.PutUint32(e[68:], noStream)
		binary.LittleEndian.PutUint32(e[72:], right)
		binary.LittleEndian.PutUint32(e[76:], child)
		binary.LittleEndian.PutUint32(e[116:], start)
		binary.LittleEndian.PutUint64(e[120:], size)
	}
	child := uint32(noStream)
	if len(streams) > 0 {
		child = 1
	}
	entry(0, "Root Entry", 5, noStream, child, endOfChain, 0)
	for i, s := range streams {
		right := uint32(noStream)
		if i+1 < len(streams) {
			right = uint32(i + 2)
		}
		entry(i+1, s.name, 2, right, noStream, starts[i], uint64(len(s.data)))
	}

	out := bytes.NewBuffer(header)
	for _, v := range fat {
		_ = binary.Write(out, binary.LittleEndian, v)
	}
	out.Write(dir)
	for i, s := range streams {
		padded := make([]byte, counts[i]*sectorSize)
		copy(padded, s.data)
		out.Write(padded)
	}
	return out.Bytes()
}

func cbcEncrypt(t *testing.T, key, iv, src []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	require.Zero(t, len(src)%block.BlockSize())
	dst := make([]byte, len(src))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(dst, src)
	return dst
}

// encryptAgile produces the EncryptionInfo and EncryptedPackage streams of an
// AES-256/SHA-512 Agile container.
func encryptAgile(t *testing.T, plain []byte, password string, spin int) (info, pkg []byte) {
	t.Helper()
	keySalt := bytes.Repeat([]byte{0x11}, 16)
	pwSalt := bytes.Repeat([]byte{0x22}, 16)
	dataKey := bytes.Repeat([]byte{0x33, 0x5A}, 16)
	verifierInput := bytes.Repeat([]byte{0x44}, 16)

	s := newSpinner(sha512.New, pwSalt, password, uint32(spin))
	s.step(spin)
	derive := func(blockKey []byte) []byte {
		return resize(hashOf(sha512.New, s.cur, blockKey), 32, 0x36)
	}
	iv := resize(pwSalt, 16, 0x36)
	encInput := cbcEncrypt(t, derive(blockKeyVerifierInput), iv, verifierInput)
	encValue := cbcEncrypt(t, derive(blockKeyVerifierValue), iv, hashOf(sha512.New, verifierInput))
	encKey := cbcEncrypt(t, derive(blockKeyEncryptedKey), iv, dataKey)

	pkg = binary.LittleEndian.AppendUint64(nil, uint64(len(plain)))
	for seg, off := 0, 0; off < len(plain); seg, off = seg+1, off+segmentSize {
		chunk := plain[off:min(off+segmentSize, len(plain))]
		padded := resize(chunk, (len(chunk)+15)/16*16, 0)
		segIV := resize(hashOf(sha512.New, keySalt, le32(uint32(seg))), 16, 0x36)
		pkg = append(pkg, cbcEncrypt(t, dataKey, segIV, padded)...)
	}

	b64 := base64.StdEncoding.EncodeToString
	desc := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<encryption xmlns="http://schemas.microsoft.com/office/2006/encryption" xmlns:p="http://schemas.microsoft.com/office/2006/keyEncryptor/password">`+
		`<keyData saltSize="16" blockSize="16" keyBits="256" hashSize="64" cipherAlgorithm="AES" cipherChaining="ChainingModeCBC" hashAlgorithm="SHA512" saltValue="%s"/>`+
		`<keyEncryptors><keyEncryptor uri="http://schemas.microsoft.com/office/2006/keyEncryptor/password">`+
		`<p:encryptedKey spinCount="%d" saltSize="16" blockSize="16" keyBits="256" hashSize="64" cipherAlgorithm="AES" cipherChaining="ChainingModeCBC" hashAlgorithm="SHA512" saltValue="%s" encryptedVerifierHashInput="%s" encryptedVerifierHashValue="%s" encryptedKeyValue="%s"/>`+
		`</keyEncryptor></keyEncryptors></encryption>`,
		b64(keySalt), spin, b64(pwSalt), b64(encInput), b64(encValue), b64(encKey))

	info = append([]byte{4, 0, 4, 0, 0x40, 0, 0, 0}, desc...)
	return info, pkg
}

// padInfo pads an EncryptionInfo stream with trailing whitespace so that it
// is stored outside the mini stream.
func padInfo(info []byte) []byte {
	if len(info) >= 4096 {
		return info
	}
	return append(info, bytes.Repeat([]byte{'\n'}, 4096-len(info))...)
}
