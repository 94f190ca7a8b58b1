package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/avaropoint/viewport/internal/store"
)

// Key ambiguity-safe alphabet: uppercase + digits, minus O/0/I/1/L.
const keyAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateAPIKey creates a new API key with the format vpk_<random>.
// The raw key is returned once; only its hash is stored.
func GenerateAPIKey(name string) (*store.APIKey, string, error) {
	code, err := randomCode(32)
	if err != nil {
		return nil, "", err
	}

	key := "vpk_" + code
	apiKey := &store.APIKey{
		ID:        randomHex(8),
		Name:      name,
		KeyHash:   hashCode(key),
		Prefix:    key[:12],
		CreatedAt: time.Now(),
	}

	return apiKey, key, nil
}

// HashAPIKey returns the SHA-256 hash of an API key for DB lookup.
func HashAPIKey(key string) string {
	return hashCode(key)
}

func randomCode(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	code := make([]byte, length)
	for i := range b {
		code[i] = keyAlphabet[int(b[i])%len(keyAlphabet)]
	}
	return string(code), nil
}

func hashCode(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b) //nolint:errcheck
	return hex.EncodeToString(b)
}
