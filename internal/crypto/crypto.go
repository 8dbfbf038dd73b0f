package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrCiphertextTooShort is returned when the decoded value cannot hold a nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// machineKey derives a 32-byte AES-256 key from the hostname and working
// directory. It keeps API keys in settings.json unreadable at a glance; it
// is not a substitute for a user passphrase.
func machineKey() []byte {
	hostname, _ := os.Hostname()
	cwd, _ := os.Getwd()
	sum := sha256.Sum256([]byte(fmt.Sprintf("docchat:%s:%s", hostname, cwd)))
	return sum[:]
}

func newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(machineKey())
	if err != nil {
		return nil, fmt.Errorf("cipher error: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCM error: %w", err)
	}
	return aead, nil
}

// Encrypt seals plaintext with AES-256-GCM and returns nonce||ciphertext
// base64-encoded. Empty input stays empty.
func Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce error: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Empty input stays empty.
func Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode error: %w", err)
	}
	aead, err := newGCM()
	if err != nil {
		return "", err
	}

	n := aead.NonceSize()
	if len(raw) < n {
		return "", ErrCiphertextTooShort
	}
	plaintext, err := aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt error: %w", err)
	}
	return string(plaintext), nil
}

// DecryptOrPlain returns the decrypted value, or the input unchanged when it
// does not decrypt (settings written before keys were encrypted).
func DecryptOrPlain(value string) string {
	plain, err := Decrypt(value)
	if err != nil {
		return value
	}
	return plain
}
