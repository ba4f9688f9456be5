package settings

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// KeyEnv names the environment variable holding the 32 byte settings key.
const KeyEnv = "SEYLANE_SETTINGS_KEY"

const sealedPrefix = "enc:v1:"

var errInvalidCiphertext = errors.New("invalid setting ciphertext")

// Cipher seals secret settings with AES-GCM.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipherFromEnv returns nil without error when no key is configured;
// secrets are then stored as written.
func NewCipherFromEnv() (*Cipher, error) {
	raw := strings.TrimSpace(os.Getenv(KeyEnv))
	if raw == "" {
		return nil, nil
	}
	return newSecretCipher(raw)
}

func newSecretCipher(raw string) (*Cipher, error) {
	key, err := decodeKey(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyEnv, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

func decodeKey(raw string) ([]byte, error) {
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d, want 32", len(key))
	}
	return key, nil
}

func (c *Cipher) Seal(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plain), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

// Open decrypts a sealed value. Values written before a key was configured
// carry no prefix and are returned unchanged.
func (c *Cipher) Open(input string) (string, error) {
	if !strings.HasPrefix(input, sealedPrefix) {
		return input, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(input, sealedPrefix))
	if err != nil {
		return "", errInvalidCiphertext
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return "", errInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", errInvalidCiphertext
	}
	return string(plain), nil
}
