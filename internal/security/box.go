package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// sealPrefix versions the sealed format. A future format change bumps
// the prefix so old values remain openable.
const sealPrefix = "v1:"

// Box seals and opens small secrets (profile passwords) with
// AES-256-GCM. The cipher key is expanded from the gateway master key
// with HKDF-SHA-512 so the key file is never used directly.
type Box struct {
	aead cipher.AEAD
}

// NewBox derives a sealing box from the gateway master key.
func NewBox(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("gateway key must be %d bytes, got %d", KeySize, len(key))
	}

	sealKey := make([]byte, 32)
	r := hkdf.New(sha512.New, key, []byte("viewport-sealing-v1"), []byte("profile-secrets"))
	if _, err := io.ReadFull(r, sealKey); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(sealKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext into the stored form: "v1:" followed by
// base64(nonce||ciphertext). An empty plaintext seals to "".
func (b *Box) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. An empty value opens to "".
func (b *Box) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	if len(sealed) < len(sealPrefix) || sealed[:len(sealPrefix)] != sealPrefix {
		return "", fmt.Errorf("unsupported sealed format")
	}

	raw, err := base64.StdEncoding.DecodeString(sealed[len(sealPrefix):])
	if err != nil {
		return "", fmt.Errorf("malformed sealed value")
	}
	if len(raw) < b.aead.NonceSize() {
		return "", fmt.Errorf("malformed sealed value")
	}

	nonce, ct := raw[:b.aead.NonceSize()], raw[b.aead.NonceSize():]
	plaintext, err := b.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plaintext), nil
}
