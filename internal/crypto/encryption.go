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
	"sync"
)

var (
	encryptionKey []byte
	keyMu         sync.RWMutex
)

// ErrNotInitialized is returned when Encrypt/Decrypt run before InitEncryption
var ErrNotInitialized = errors.New("encryption not initialized")

// InitEncryption loads the key used to protect stored API tokens.
// ENCRYPTION_KEY (base64 of 32 bytes, or any string which is then hashed) wins over the keychain.
func InitEncryption() error {
	if keyString := os.Getenv("ENCRYPTION_KEY"); keyString != "" {
		setKey(deriveKey(keyString))
		return nil
	}

	key, err := GenerateOrLoadKey()
	if err != nil {
		return fmt.Errorf("failed to initialize encryption from keystore: %w", err)
	}
	setKey(key)
	return nil
}

func deriveKey(keyString string) []byte {
	keyBytes, err := base64.StdEncoding.DecodeString(keyString)
	if err != nil {
		hash := sha256.Sum256([]byte(keyString))
		return hash[:]
	}
	if len(keyBytes) != 32 {
		hash := sha256.Sum256(keyBytes)
		return hash[:]
	}
	return keyBytes
}

func setKey(key []byte) {
	keyMu.Lock()
	encryptionKey = key
	keyMu.Unlock()
}

func currentKey() []byte {
	keyMu.RLock()
	defer keyMu.RUnlock()
	return encryptionKey
}

// IsInitialized checks if encryption has been initialized
func IsInitialized() bool {
	return len(currentKey()) > 0
}

// Encrypt seals plaintext with AES-256-GCM and returns base64(nonce|ciphertext)
func Encrypt(plaintext string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt
func Decrypt(ciphertextB64 string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

func newGCM() (cipher.AEAD, error) {
	key := currentKey()
	if len(key) == 0 {
		return nil, ErrNotInitialized
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptToken encrypts a bearer token for storage in a server profile
func EncryptToken(token string) (string, error) {
	return Encrypt(token)
}

// DecryptToken decrypts a token stored with EncryptToken
func DecryptToken(encryptedToken string) (string, error) {
	return Decrypt(encryptedToken)
}
