package install

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// A signed package carries its signature inside the zip archive comment.
// The last six bytes of the file are a footer:
//
//	[0:2]  offset from end-of-file to the start of the signature block
//	[2:4]  0xFF 0xFF marker
//	[4:6]  archive comment length (must match the EOCD comment field)
//
// The signature is RSASSA-PKCS1-v1_5 over SHA-1 of the whole file minus
// the comment and its two-byte length field. The package is trusted if
// the signature verifies against any loaded key.

const footerSize = 6

var (
	ErrNotSigned   = errors.New("install: package has no signature footer")
	ErrNoTrustedKey = errors.New("install: signature does not match any trusted key")
)

// VerifyFile checks the whole-file signature of the package at path.
// This runs before any archive entry is extracted.
func VerifyFile(path string, keys []*rsa.PublicKey) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("install: read package %s: %w", path, err)
	}
	return verifyBytes(b, keys)
}

func verifyBytes(b []byte, keys []*rsa.PublicKey) error {
	if len(b) < footerSize {
		return ErrNotSigned
	}
	footer := b[len(b)-footerSize:]
	if footer[2] != 0xFF || footer[3] != 0xFF {
		return ErrNotSigned
	}
	sigStart := int(binary.LittleEndian.Uint16(footer[0:2]))
	commentLen := int(binary.LittleEndian.Uint16(footer[4:6]))
	if sigStart <= footerSize || commentLen < sigStart || len(b) < commentLen+2 {
		return fmt.Errorf("install: bad signature footer (comment %d, signature %d)", commentLen, sigStart)
	}

	signedLen := len(b) - commentLen - 2
	sig := b[len(b)-sigStart : len(b)-footerSize]
	digest := sha1.Sum(b[:signedLen])

	for _, key := range keys {
		if err := rsa.VerifyPKCS1v15(key, crypto.SHA1, digest[:], sig); err == nil {
			return nil
		}
	}
	return ErrNoTrustedKey
}
