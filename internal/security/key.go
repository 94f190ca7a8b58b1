package security

import (
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// KeySize is the length of the gateway master key in bytes.
const KeySize = 32

// keyBlockType marks the PEM block holding the gateway key.
const keyBlockType = "VIEWPORT GATEWAY KEY"

// LoadOrCreateKey loads the gateway master key from dataDir or
// generates one on first boot. The key seals profile credentials at
// rest; losing it makes stored passwords unrecoverable.
func LoadOrCreateKey(dataDir string) ([]byte, error) {
	keyPath := filepath.Join(dataDir, "gateway.key")
	if _, err := os.Stat(keyPath); err == nil {
		return loadKey(keyPath)
	}
	return generateKey(keyPath)
}

func loadKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != keyBlockType {
		return nil, fmt.Errorf("invalid gateway key file")
	}
	if len(block.Bytes) != KeySize {
		return nil, fmt.Errorf("invalid gateway key size")
	}
	return block.Bytes, nil
}

func generateKey(path string) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}

	if err := pem.Encode(f, &pem.Block{Type: keyBlockType, Bytes: key}); err != nil {
		f.Close() //nolint:errcheck
		return nil, err
	}
	_ = f.Close()

	return key, nil
}
