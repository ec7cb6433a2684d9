package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestGenerateKey_Sizes(t *testing.T) {
	public, secret, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if len(public) != PublicKeySize {
		t.Errorf("public key size = %d, want %d", len(public), PublicKeySize)
	}
	if len(secret) != SecretKeySize {
		t.Errorf("secret key size = %d, want %d", len(secret), SecretKeySize)
	}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	public, secret, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	plaintext := []byte(`{"subject":"hello","from":"a@example.com"}`)
	aad := []byte("ib-1:ev-1")

	envelope, err := Encrypt(public, plaintext, aad)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	got, err := Decrypt(secret, envelope)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("roundtrip = %q, want %q", got, plaintext)
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	public, _, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	_, otherSecret, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	envelope, err := Encrypt(public, []byte("secret message"), nil)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := Decrypt(otherSecret, envelope); err == nil {
		t.Error("Decrypt() with wrong key should fail authentication")
	}
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	public, secret, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	envelope, err := Encrypt(public, []byte("payload"), []byte("aad"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(envelope, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	ct, err := FromBase64URL(env.Ciphertext)
	if err != nil {
		t.Fatalf("decode ciphertext: %v", err)
	}
	ct[0] ^= 0xff
	env.Ciphertext = ToBase64URL(ct)
	tampered, _ := json.Marshal(&env)

	if _, err := Decrypt(secret, tampered); err == nil {
		t.Error("Decrypt() of tampered ciphertext should fail")
	}
}

func TestDecrypt_TamperedAAD(t *testing.T) {
	public, secret, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	envelope, err := Encrypt(public, []byte("payload"), []byte("ib-1:ev-1"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(envelope, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	env.AAD = ToBase64URL([]byte("ib-2:ev-1"))
	tampered, _ := json.Marshal(&env)

	if _, err := Decrypt(secret, tampered); err == nil {
		t.Error("Decrypt() with altered AAD should fail")
	}
}

func TestDecrypt_BadSecretKeySize(t *testing.T) {
	_, err := Decrypt([]byte("short"), []byte(`{}`))
	if !errors.Is(err, ErrInvalidSecretKeySize) {
		t.Errorf("Decrypt() error = %v, want ErrInvalidSecretKeySize", err)
	}
}

func TestDecrypt_MalformedEnvelope(t *testing.T) {
	_, secret, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	if _, err := Decrypt(secret, []byte(`not json`)); !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("Decrypt() error = %v, want ErrInvalidEnvelope", err)
	}

	// Structurally valid JSON with a truncated KEM ciphertext.
	env, _ := json.Marshal(&Envelope{
		CtKem:      ToBase64URL([]byte("too short")),
		Nonce:      ToBase64URL(make([]byte, NonceSize)),
		AAD:        "",
		Ciphertext: ToBase64URL([]byte("x")),
	})
	if _, err := Decrypt(secret, env); !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("Decrypt() error = %v, want ErrInvalidEnvelope", err)
	}
}

func TestBase64URLRoundtrip(t *testing.T) {
	data := []byte{0x00, 0xff, 0x7e, 0x3f}
	encoded := ToBase64URL(data)
	decoded, err := FromBase64URL(encoded)
	if err != nil {
		t.Fatalf("FromBase64URL() error = %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Errorf("roundtrip = %v, want %v", decoded, data)
	}

	// Standard base64 padding must be rejected.
	if _, err := FromBase64URL("AA=="); err == nil {
		t.Error("padded input should be rejected")
	}
}
