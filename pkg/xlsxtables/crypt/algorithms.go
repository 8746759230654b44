package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/md4"
	"golang.org/x/crypto/ripemd160"
	"golang.org/x/text/encoding/unicode"
)

// hashAlgorithms is the whitelist of descriptor hash names. Names mapped to
// nil are recognised but have no implementation.
var hashAlgorithms = map[string]func() hash.Hash{
	"":           sha1.New,
	"SHA1":       sha1.New,
	"SHA-1":      sha1.New,
	"SHA256":     sha256.New,
	"SHA-256":    sha256.New,
	"SHA384":     sha512.New384,
	"SHA-384":    sha512.New384,
	"SHA512":     sha512.New,
	"SHA-512":    sha512.New,
	"MD5":        md5.New,
	"MD4":        md4.New,
	"MD2":        nil,
	"RIPEMD-128": nil,
	"RIPEMD-160": ripemd160.New,
	"WHIRLPOOL":  nil,
}

func lookupHash(name string) (func() hash.Hash, error) {
	fn, known := hashAlgorithms[strings.ToUpper(name)]
	if !known {
		return nil, fmt.Errorf("%w: unknown hash algorithm %q", ErrUnsupportedAlgorithm, name)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: hash algorithm %q is not implemented", ErrUnsupportedAlgorithm, name)
	}
	return fn, nil
}

// cipherAlgorithms maps descriptor cipher names to the key length they need
// when it is fixed (0 means any AES key size).
var cipherAlgorithms = map[string]int{
	"":         0,
	"AES":      0,
	"3DES":     24,
	"3DES_112": 16,
}

func checkCipher(name string) error {
	if _, ok := cipherAlgorithms[strings.ToUpper(name)]; !ok {
		return fmt.Errorf("%w: unknown cipher algorithm %q", ErrUnsupportedAlgorithm, name)
	}
	return nil
}

func newBlock(name string, key []byte) (cipher.Block, error) {
	switch strings.ToUpper(name) {
	case "", "AES":
		return aes.NewCipher(key)
	case "3DES":
		return des.NewTripleDESCipher(key)
	case "3DES_112":
		if len(key) < 16 {
			return nil, fmt.Errorf("%w: 3DES_112 key is %d bytes", ErrCorrupt, len(key))
		}
		k := make([]byte, 0, 24)
		k = append(k, key[:16]...)
		k = append(k, key[:8]...)
		return des.NewTripleDESCipher(k)
	}
	return nil, fmt.Errorf("%w: unknown cipher algorithm %q", ErrUnsupportedAlgorithm, name)
}

const (
	chainingCBC = "ChainingModeCBC"
	chainingCFB = "ChainingModeCFB"
)

func checkChaining(mode string) error {
	switch mode {
	case "", chainingCBC, chainingCFB:
		return nil
	}
	return fmt.Errorf("%w: unknown cipher chaining %q", ErrUnsupportedAlgorithm, mode)
}

// decryptBlocks decrypts src with the given chaining mode. src is truncated
// to a whole number of blocks.
func decryptBlocks(block cipher.Block, mode string, iv, src []byte) []byte {
	bs := block.BlockSize()
	n := len(src) - len(src)%bs
	dst := make([]byte, n)
	switch mode {
	case chainingCFB:
		cipher.NewCFBDecrypter(block, iv).XORKeyStream(dst, src[:n])
	default:
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(dst, src[:n])
	}
	return dst
}

// decryptECB decrypts src block by block without chaining.
func decryptECB(block cipher.Block, src []byte) []byte {
	bs := block.BlockSize()
	n := len(src) - len(src)%bs
	dst := make([]byte, n)
	for i := 0; i < n; i += bs {
		block.Decrypt(dst[i:i+bs], src[i:i+bs])
	}
	return dst
}

func hashOf(newHash func() hash.Hash, parts ...[]byte) []byte {
	h := newHash()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// resize truncates b to n bytes or pads it with fill.
func resize(b []byte, n int, fill byte) []byte {
	out := make([]byte, n)
	m := copy(out, b)
	for i := m; i < n; i++ {
		out[i] = fill
	}
	return out
}

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

var passwordEncoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// utf16le encodes a password as UTF-16LE without a BOM. Invalid UTF-8 is
// replaced with U+FFFD, so the encoder never fails.
func utf16le(s string) []byte {
	b, _ := passwordEncoding.NewEncoder().Bytes([]byte(s))
	return b
}
