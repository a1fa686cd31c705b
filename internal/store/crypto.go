package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// encryptUsername seals name under the process key with AES-256-GCM,
// returning a base64 blob of nonce||ciphertext.
func encryptUsername(key []byte, name string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("store: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("store: gcm init: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("store: nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(name), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// decryptUsername reverses encryptUsername. A decrypt failure (corrupt
// record, wrong key) is reported as an error rather than panicking so a
// single bad row can't take down a full-store scan.
func decryptUsername(key []byte, ciphertextB64 string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("store: base64 decode: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("store: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("store: gcm init: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("store: ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("store: decrypt: %w", err)
	}
	return string(plain), nil
}

// hashPassword derives a salted bcrypt digest, a memory-hard choice over
// a bare SHA-256+salt scheme; bcrypt.GenerateFromPassword folds the salt
// into its own output format, so no separate salt field is needed.
func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("store: hashing password: %w", err)
	}
	return string(hash), nil
}

// verifyPassword performs the constant-time digest comparison the
// component design requires; bcrypt.CompareHashAndPassword is constant-time
// with respect to the digest bytes it compares.
func verifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
