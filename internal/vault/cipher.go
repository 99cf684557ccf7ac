package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// DeriveKey stretches the configured master secret into a 32-byte AES key
// using argon2id.
func DeriveKey(secret, salt string) []byte {
	return argon2.IDKey([]byte(secret), []byte(salt), 1, 64*1024, 4, 32)
}

// Encrypt seals plaintext with AES-256-GCM. The random nonce is prepended to
// the returned blob so a single column can hold the sealed value.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: new gcm: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}
	return append(nonce, aead.Seal(nil, nonce, plaintext, nil)...), nil
}

// Decrypt opens a blob produced by Encrypt.
func Decrypt(blob, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: new gcm: %w", err)
	}
	if len(blob) < aead.NonceSize() {
		return nil, errors.New("vault: sealed blob too short")
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: open: %w", err)
	}
	return plaintext, nil
}
