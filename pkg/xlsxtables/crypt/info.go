package crypt

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"strings"
)

// Version classifies an EncryptionInfo descriptor.
type Version int

const (
	VersionUnknown Version = iota
	VersionStandard
	VersionAgile
	VersionExtensible
)

func (v Version) String() string {
	switch v {
	case VersionStandard:
		return "standard"
	case VersionAgile:
		return "agile"
	case VersionExtensible:
		return "extensible"
	}
	return "unknown"
}

func classify(major, minor uint16) Version {
	switch {
	case major == 4 && minor == 4:
		return VersionAgile
	case major >= 2 && major <= 4 && minor == 2:
		return VersionStandard
	case (major == 3 || major == 4) && minor == 3:
		return VersionExtensible
	}
	return VersionUnknown
}

// Standard algorithm identifiers.
const (
	algAES128 = 0x660E
	algAES192 = 0x660F
	algAES256 = 0x6610
	algSHA1   = 0x8004

	standardSpinCount = 50000
)

// EncryptionInfo is a parsed EncryptionInfo stream.
type EncryptionInfo struct {
	Major, Minor uint16
	Version      Version
	Standard     *StandardInfo
	Agile        *AgileInfo
}

// StandardInfo carries the binary Standard header and verifier.
type StandardInfo struct {
	AlgID            uint32
	AlgIDHash        uint32
	KeyBits          int
	VerifierOffset   int
	Salt             []byte
	Verifier         []byte
	VerifierHashSize int
	VerifierHash     []byte
	Header           []byte
}

// AgileInfo carries the XML descriptor of Agile encryption.
type AgileInfo struct {
	KeyData     AgileParams
	PasswordKey AgileParams
}

// AgileParams are the attributes shared by keyData and encryptedKey.
type AgileParams struct {
	SaltSize        int    `xml:"saltSize,attr"`
	BlockSize       int    `xml:"blockSize,attr"`
	KeyBits         int    `xml:"keyBits,attr"`
	HashSize        int    `xml:"hashSize,attr"`
	CipherAlgorithm string `xml:"cipherAlgorithm,attr"`
	CipherChaining  string `xml:"cipherChaining,attr"`
	HashAlgorithm   string `xml:"hashAlgorithm,attr"`
	SaltValue       string `xml:"saltValue,attr"`
	SpinCount       int    `xml:"spinCount,attr"`

	EncryptedVerifierHashInput string `xml:"encryptedVerifierHashInput,attr"`
	EncryptedVerifierHashValue string `xml:"encryptedVerifierHashValue,attr"`
	EncryptedKeyValue          string `xml:"encryptedKeyValue,attr"`
}

const passwordKeyEncryptor = "http://schemas.microsoft.com/office/2006/keyEncryptor/password"

type agileDescriptor struct {
	XMLName       xml.Name    `xml:"encryption"`
	KeyData       AgileParams `xml:"keyData"`
	KeyEncryptors struct {
		KeyEncryptor []struct {
			URI          string       `xml:"uri,attr"`
			EncryptedKey *AgileParams `xml:"encryptedKey"`
		} `xml:"keyEncryptor"`
	} `xml:"keyEncryptors"`
}

// ParseEncryptionInfo classifies b and parses the Standard or Agile
// descriptor. Extensible and unknown versions fail with
// ErrUnsupportedEncryption; algorithms outside the whitelist fail with
// ErrUnsupportedAlgorithm.
func ParseEncryptionInfo(b []byte) (*EncryptionInfo, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: EncryptionInfo is %d bytes", ErrCorrupt, len(b))
	}
	info := &EncryptionInfo{
		Major: binary.LittleEndian.Uint16(b),
		Minor: binary.LittleEndian.Uint16(b[2:]),
	}
	info.Version = classify(info.Major, info.Minor)
	switch info.Version {
	case VersionStandard:
		std, err := parseStandard(b)
		if err != nil {
			return nil, err
		}
		info.Standard = std
	case VersionAgile:
		agile, err := parseAgile(b[8:])
		if err != nil {
			return nil, err
		}
		info.Agile = agile
	case VersionExtensible:
		return nil, fmt.Errorf("%w: extensible encryption (%d.%d)", ErrUnsupportedEncryption, info.Major, info.Minor)
	default:
		return nil, fmt.Errorf("%w: unknown version %d.%d", ErrUnsupportedEncryption, info.Major, info.Minor)
	}
	return info, nil
}

func parseStandard(b []byte) (*StandardInfo, error) {
	headerSize := int(binary.LittleEndian.Uint32(b[8:]))
	vo := 12 + headerSize
	if headerSize < 32 || len(b) < vo+40 {
		return nil, fmt.Errorf("%w: truncated standard header", ErrCorrupt)
	}
	std := &StandardInfo{
		AlgID:          binary.LittleEndian.Uint32(b[20:]),
		AlgIDHash:      binary.LittleEndian.Uint32(b[24:]),
		KeyBits:        int(binary.LittleEndian.Uint32(b[28:])),
		VerifierOffset: vo,
		Header:         b[12:vo],
	}
	switch std.AlgID {
	case algAES128, algAES192, algAES256:
	default:
		return nil, fmt.Errorf("%w: standard cipher 0x%04X", ErrUnsupportedAlgorithm, std.AlgID)
	}
	if std.AlgIDHash != algSHA1 {
		return nil, fmt.Errorf("%w: standard hash 0x%04X", ErrUnsupportedAlgorithm, std.AlgIDHash)
	}
	switch std.KeyBits {
	case 128, 192, 256:
	default:
		return nil, fmt.Errorf("%w: standard key size %d", ErrUnsupportedAlgorithm, std.KeyBits)
	}

	saltSize := int(binary.LittleEndian.Uint32(b[vo:]))
	if saltSize != 16 {
		return nil, fmt.Errorf("%w: standard salt size %d", ErrCorrupt, saltSize)
	}
	std.Salt = b[vo+4 : vo+20]
	std.Verifier = b[vo+20 : vo+36]
	std.VerifierHashSize = int(binary.LittleEndian.Uint32(b[vo+36:]))
	end := vo + 40 + 32
	if len(b) < end {
		return nil, fmt.Errorf("%w: truncated standard verifier", ErrCorrupt)
	}
	std.VerifierHash = b[vo+40 : end]
	return std, nil
}

func parseAgile(b []byte) (*AgileInfo, error) {
	var desc agileDescriptor
	if err := xml.Unmarshal(b, &desc); err != nil {
		return nil, fmt.Errorf("%w: agile descriptor: %v", ErrCorrupt, err)
	}
	agile := &AgileInfo{KeyData: desc.KeyData}
	for _, ke := range desc.KeyEncryptors.KeyEncryptor {
		if ke.EncryptedKey == nil {
			continue
		}
		if ke.URI == passwordKeyEncryptor || (ke.URI == "" && ke.EncryptedKey.EncryptedKeyValue != "") {
			agile.PasswordKey = *ke.EncryptedKey
			break
		}
	}
	if agile.PasswordKey.EncryptedKeyValue == "" {
		return nil, fmt.Errorf("%w: no password key encryptor", ErrCorrupt)
	}
	for _, p := range []AgileParams{agile.KeyData, agile.PasswordKey} {
		if _, err := lookupHash(p.HashAlgorithm); err != nil {
			return nil, err
		}
		if err := checkCipher(p.CipherAlgorithm); err != nil {
			return nil, err
		}
		if err := checkChaining(p.CipherChaining); err != nil {
			return nil, err
		}
		if p.KeyBits <= 0 || p.KeyBits%8 != 0 || p.BlockSize <= 0 {
			return nil, fmt.Errorf("%w: key bits %d, block size %d", ErrCorrupt, p.KeyBits, p.BlockSize)
		}
	}
	if agile.PasswordKey.SpinCount < 0 {
		return nil, fmt.Errorf("%w: spin count %d", ErrCorrupt, agile.PasswordKey.SpinCount)
	}
	return agile, nil
}

func decodeBase64(field, s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, field, err)
	}
	return b, nil
}
