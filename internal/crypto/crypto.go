// Package crypto implements the default decryption capability for the
// Driftmail client: ML-KEM-768 key encapsulation, HKDF-SHA-512 key
// derivation, and AES-256-GCM payload encryption.
//
// The facade consumes this package through the driftmail.Decrypter
// interface; alternative schemes can be injected without touching the
// streaming core.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/hkdf"
)

// Key and envelope size constants for ML-KEM-768 and AES-256-GCM.
const (
	PublicKeySize  = 1184
	SecretKeySize  = 2400
	CiphertextSize = 1088
	SharedKeySize  = 32
	AESKeySize     = 32
	NonceSize      = 12

	// hkdfContext is the domain-separation string mixed into key derivation.
	hkdfContext = "driftmail-email-v1"
)

var (
	// ErrInvalidSecretKeySize is returned when key material has the wrong length.
	ErrInvalidSecretKeySize = errors.New("invalid secret key size")

	// ErrInvalidEnvelope is returned when an encrypted payload is malformed.
	ErrInvalidEnvelope = errors.New("invalid encrypted payload")
)

// Envelope is the encrypted payload format carried in the wire
// `ciphertext` fields: every component is base64url without padding.
type Envelope struct {
	// CtKem is the ML-KEM-768 encapsulated key.
	CtKem string `json:"ctKem"`
	// Nonce is the AES-GCM nonce.
	Nonce string `json:"nonce"`
	// AAD is the additional authenticated data bound to the payload.
	AAD string `json:"aad"`
	// Ciphertext is the AES-256-GCM ciphertext of the plaintext document.
	Ciphertext string `json:"ciphertext"`
}

// ToBase64URL encodes bytes as URL-safe base64 without padding.
func ToBase64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// FromBase64URL decodes URL-safe base64 without padding.
func FromBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// GenerateKey creates a fresh ML-KEM-768 keypair. The public part is
// registered with the server; the secret part is the inbox's key material.
func GenerateKey() (public, secret []byte, err error) {
	pub, priv, err := mlkem768.GenerateKeyPair(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("generate keypair: %w", err)
	}

	// MarshalBinary never fails for keys produced by GenerateKeyPair.
	pubBytes, _ := pub.MarshalBinary()
	privBytes, _ := priv.MarshalBinary()
	return pubBytes, privBytes, nil
}

// Decrypt opens an envelope using the inbox's secret key material.
//
// The process is ML-KEM-768 decapsulation, HKDF-SHA-512 derivation of
// the AES key, then AES-256-GCM decryption.
func Decrypt(secretKey, envelopeJSON []byte) ([]byte, error) {
	if len(secretKey) != SecretKeySize {
		return nil, ErrInvalidSecretKeySize
	}

	var env Envelope
	if err := json.Unmarshal(envelopeJSON, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	ctKem, err := FromBase64URL(env.CtKem)
	if err != nil {
		return nil, fmt.Errorf("decode ctKem: %w", err)
	}
	nonce, err := FromBase64URL(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	aad, err := FromBase64URL(env.AAD)
	if err != nil {
		return nil, fmt.Errorf("decode aad: %w", err)
	}
	ciphertext, err := FromBase64URL(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(ctKem) != CiphertextSize {
		return nil, ErrInvalidEnvelope
	}

	var privKey mlkem768.PrivateKey
	if err := privKey.Unpack(secretKey); err != nil {
		return nil, fmt.Errorf("unpack secret key: %w", err)
	}

	sharedSecret := make([]byte, SharedKeySize)
	privKey.DecapsulateTo(sharedSecret, ctKem)

	aesKey, err := deriveKey(sharedSecret, aad, ctKem)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	plaintext, err := decryptAESGCM(aesKey, nonce, aad, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}
	return plaintext, nil
}

// Encrypt seals plaintext for the given public key, producing an
// envelope the matching secret key can open. The server performs this
// operation in production; the client carries it for tests and local
// verification.
func Encrypt(publicKey, plaintext, aad []byte) ([]byte, error) {
	var pubKey mlkem768.PublicKey
	if err := pubKey.Unpack(publicKey); err != nil {
		return nil, fmt.Errorf("unpack public key: %w", err)
	}

	ctKem := make([]byte, CiphertextSize)
	sharedSecret := make([]byte, SharedKeySize)
	pubKey.EncapsulateTo(ctKem, sharedSecret, nil)

	aesKey, err := deriveKey(sharedSecret, aad, ctKem)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, aad)

	return json.Marshal(&Envelope{
		CtKem:      ToBase64URL(ctKem),
		Nonce:      ToBase64URL(nonce),
		AAD:        ToBase64URL(aad),
		Ciphertext: ToBase64URL(ciphertext),
	})
}

// deriveKey performs HKDF-SHA-512 key derivation.
//
// IKM is the KEM shared secret, the salt is SHA-256 of the KEM
// ciphertext, and the info string is context || aad length (4 bytes BE)
// || aad.
func deriveKey(sharedSecret, aad, ctKem []byte) ([]byte, error) {
	saltHash := sha256.Sum256(ctKem)

	aadLength := make([]byte, 4)
	binary.BigEndian.PutUint32(aadLength, uint32(len(aad)))

	info := make([]byte, 0, len(hkdfContext)+4+len(aad))
	info = append(info, hkdfContext...)
	info = append(info, aadLength...)
	info = append(info, aad...)

	reader := hkdf.New(sha512.New, sharedSecret, saltHash[:], info)
	key := make([]byte, AESKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

func decryptAESGCM(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrInvalidEnvelope
	}
	return gcm.Open(nil, nonce, ciphertext, aad)
}
