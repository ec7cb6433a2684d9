package driftmail

import "github.com/driftmail/client-go/internal/crypto"

// Decrypter is the pluggable decryption capability. The streaming core
// treats it as opaque: key material is generated at registration, sent
// to the server in its public form, and used locally to open every
// payload for the inbox.
//
// The default implementation uses ML-KEM-768 with HKDF-SHA-512 and
// AES-256-GCM; WithDecrypter injects an alternative scheme.
type Decrypter interface {
	// NewKey returns fresh key material. The public part is registered
	// with the server; the private part becomes the inbox's key material.
	NewKey() (public, private []byte, err error)

	// Decrypt opens a ciphertext envelope with the inbox's private key
	// material, returning the plaintext email document.
	Decrypt(private, ciphertext []byte) ([]byte, error)
}

// defaultDecrypter adapts internal/crypto to the Decrypter interface.
type defaultDecrypter struct{}

func (defaultDecrypter) NewKey() (public, private []byte, err error) {
	return crypto.GenerateKey()
}

func (defaultDecrypter) Decrypt(private, ciphertext []byte) ([]byte, error) {
	return crypto.Decrypt(private, ciphertext)
}
